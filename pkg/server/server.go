package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/solarproa/powersim/pkg/common"
	"github.com/solarproa/powersim/pkg/config"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/metrics"
	"github.com/solarproa/powersim/pkg/storage"
	"github.com/solarproa/powersim/pkg/types"
)

// Server exposes the simulator over an HTTP API and archives every run it
// performs.
type Server struct {
	storage storage.Database
	metrics *metrics.Collector

	// constants apply to requests that do not bring their own
	constants types.Constants

	listenAddr    string
	httpServer    *http.Server
	serverName    string
	maxBodyBytes  int64
	maxSweepCount int

	// oidcVerifier is nil when the API is open
	oidcVerifier  tokenVerifier
	allowedEmails []string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, m *metrics.Collector) *Server {
	srv := &Server{
		storage:    s,
		metrics:    m,
		constants:  types.DefaultConstants(),
		serverName: common.ServerName(),
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	maxBodyBytes := lflag.Int("max-request-bytes", 1<<20, "Maximum size of a simulation request body")
	maxSweepCount := lflag.Int("max-sweep-count", 1000, "Maximum sweep interval count a request may ask for")
	constantsPath := lflag.String("constants", "", "Path to a constants document used when a request has none")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens accepted by the API")
	oidcAudience := lflag.String("oidc-audience", "", "Audience of the ID tokens accepted by the API; empty leaves the API open")
	allowedEmails := lflag.String("allowed-emails", "", "comma-delimited list of email addresses allowed to call the API")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.maxBodyBytes = int64(*maxBodyBytes)
		srv.maxSweepCount = *maxSweepCount
		if *constantsPath != "" {
			k, err := config.LoadConstants(context.Background(), *constantsPath)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to load constants", slog.Any("error", err))
				os.Exit(1)
			}
			srv.constants = k
		}
		if *allowedEmails != "" {
			srv.allowedEmails = strings.Split(*allowedEmails, ",")
			for i, email := range srv.allowedEmails {
				srv.allowedEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/simulate/operating-point", s.handleOperatingPoint)
	apiMux.HandleFunc("POST /api/simulate/sweep-throttle", s.handleSweepThrottle)
	apiMux.HandleFunc("POST /api/simulate/sweep-panel-power", s.handleSweepPanelPower)
	apiMux.HandleFunc("POST /api/simulate/voyage", s.handleVoyage)
	apiMux.HandleFunc("GET /api/runs", s.handleListRuns)
	apiMux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
