package server

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/simulation"
	"github.com/solarproa/powersim/pkg/storage"
	"github.com/solarproa/powersim/pkg/types"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := r.URL.Query().Get("kind")
	if kind != "" && !slices.Contains(simulation.Kinds, kind) {
		writeJSONError(w, "unknown kind: "+kind, http.StatusBadRequest)
		return
	}
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	runs, err := s.storage.ListRuns(ctx, kind, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list runs", slog.String("kind", kind), slog.Any("error", err))
		writeJSONError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	w.Header().Set("Cache-Control", "private, max-age=10")
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	run, err := s.storage.GetRun(ctx, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		writeJSONError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get run", slog.String("runID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	// archived runs never change
	w.Header().Set("Cache-Control", "private, max-age=86400")
	writeJSON(w, run)
}
