package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/solarproa/powersim/pkg/config"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/simulation"
	"github.com/solarproa/powersim/pkg/solver"
	"github.com/solarproa/powersim/pkg/storage"
	"github.com/solarproa/powersim/pkg/types"
)

// simulateRequest is the body of every /api/simulate endpoint.
type simulateRequest struct {
	// Circuit is a circuit document, optionally keyed by boat.
	Circuit json.RawMessage `json:"circuit"`
	Boat    string          `json:"boat,omitempty"`
	// Constants is a constants document; missing fields take defaults.
	Constants json.RawMessage `json:"constants,omitempty"`
	Overrides types.Overrides `json:"overrides"`
	Voyage    *types.Voyage   `json:"voyage,omitempty"`
	// Count overrides sweep_interval_count for sweeps.
	Count int `json:"count,omitempty"`
}

// simulateResponse wraps the artifact of a run with its archive id.
type simulateResponse struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Result   any      `json:"result"`
}

// prepare decodes the request and builds a simulator for it. On failure the
// error response has already been written.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (*simulation.Simulator, simulateRequest, bool) {
	var req simulateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return nil, req, false
	}
	if len(req.Circuit) == 0 {
		writeJSONError(w, "circuit is required", http.StatusBadRequest)
		return nil, req, false
	}
	c, err := config.ParseCircuit(req.Circuit, req.Boat)
	if err != nil {
		writeJSONError(w, "invalid circuit: "+err.Error(), http.StatusBadRequest)
		return nil, req, false
	}
	k := s.constants
	if len(req.Constants) > 0 {
		if k, err = config.ParseConstants(req.Constants); err != nil {
			writeJSONError(w, "invalid constants: "+err.Error(), http.StatusBadRequest)
			return nil, req, false
		}
	}
	if req.Count < 0 || req.Count > s.maxSweepCount {
		writeJSONError(w, fmt.Sprintf("count must be at most %d", s.maxSweepCount), http.StatusBadRequest)
		return nil, req, false
	}
	if req.Count == 0 {
		req.Count = k.SweepIntervalCount
	}

	mna := solver.New(k)
	mna.Observer = s.metrics
	return simulation.NewSimulator(c.Apply(req.Overrides), k, mna), req, true
}

// archive saves the run and writes the response.
func (s *Server) archive(w http.ResponseWriter, r *http.Request, kind, name string, errs, warnings []string, aborted bool, payload any) {
	ctx := r.Context()
	s.metrics.ObserveRun(kind)

	run, err := storage.NewRun(kind, name, errs, warnings, payload)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build run", slog.Any("error", err))
		writeJSONError(w, "failed to encode result", http.StatusInternalServerError)
		return
	}
	run.Aborted = aborted
	if err := s.storage.SaveRun(ctx, run); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save run", slog.String("runID", run.ID), slog.Any("error", err))
		writeJSONError(w, "failed to save run", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"simulation archived",
		slog.String("runID", run.ID),
		slog.String("kind", kind),
		slog.Int("errors", len(errs)),
		slog.Int("warnings", len(warnings)),
	)
	writeJSON(w, simulateResponse{
		ID:       run.ID,
		Kind:     kind,
		Errors:   errs,
		Warnings: warnings,
		Result:   payload,
	})
}

func (s *Server) handleOperatingPoint(w http.ResponseWriter, r *http.Request) {
	sim, _, ok := s.prepare(w, r)
	if !ok {
		return
	}
	res := sim.Run(r.Context(), types.Overrides{})
	s.archive(w, r, simulation.KindOperatingPoint, res.Info.Name, res.Errors.Data, res.Warnings.Data, false, res)
}

func (s *Server) handleSweepThrottle(w http.ResponseWriter, r *http.Request) {
	sim, req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	series, err := simulation.SweepThrottle(r.Context(), sim, req.Count)
	s.finishSweep(w, r, series, err)
}

func (s *Server) handleSweepPanelPower(w http.ResponseWriter, r *http.Request) {
	sim, req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	series, err := simulation.SweepSolarPower(r.Context(), sim, req.Count)
	s.finishSweep(w, r, series, err)
}

func (s *Server) finishSweep(w http.ResponseWriter, r *http.Request, series simulation.Series, err error) {
	ctx := r.Context()
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "sweep failed", slog.String("kind", series.Kind), slog.Any("error", err))
		writeJSONError(w, "sweep failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	errs, warnings := series.Messages()
	s.archive(w, r, series.Kind, seriesName(series.Results), errs, warnings, false, series)
}

func (s *Server) handleVoyage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sim, req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	if req.Voyage == nil {
		writeJSONError(w, "voyage is required", http.StatusBadRequest)
		return
	}
	if err := config.ValidateVoyage(*req.Voyage); err != nil {
		writeJSONError(w, "invalid voyage: "+err.Error(), http.StatusBadRequest)
		return
	}

	v, err := simulation.RunVoyage(ctx, sim, sim.Circuit().Battery, *req.Voyage, sim.Constants())
	if err != nil && !errors.Is(err, simulation.ErrSegmentFailed) {
		log.Ctx(ctx).WarnContext(ctx, "voyage failed", slog.Any("error", err))
		writeJSONError(w, "voyage failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	errs, warnings := v.Series().Messages()
	if err != nil {
		errs = append(errs, err.Error())
	}
	name := seriesName(v.Series().Results)
	if n, ok := req.Voyage.Info["name"].(string); ok && n != "" {
		name = n
	}
	s.archive(w, r, simulation.KindVoyage, name, errs, warnings, v.Aborted, v)
}

func seriesName(results []*result.Result) string {
	if len(results) == 0 {
		return ""
	}
	return results[0].Info.Name
}
