package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weconnect/pkg/logging"
	"weconnect/pkg/middleware"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Server exposes /healthz and /metrics for the running process.
type Server struct {
	log      *slog.Logger
	mux      *http.ServeMux
	addr     string
	app      string
	opsToken string

	mu     sync.Mutex
	checks map[string]Check
	http   *http.Server
}

func NewServer(log *slog.Logger, app, addr, opsToken string) *Server {
	s := &Server{
		log:      log,
		mux:      http.NewServeMux(),
		addr:     addr,
		app:      app,
		opsToken: opsToken,
		checks:   make(map[string]Check),
	}
	s.routes()
	return s
}

// AddCheck registers a dependency probe reported by /healthz.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

func (s *Server) routes() {
	auth := middleware.BearerToken(s.opsToken)
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", auth(promhttp.Handler()))
}

func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.app)(middleware.RequestLogger(s.log)(s.mux))
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.Unlock()
	sort.Strings(names)

	report := healthReport{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			report.Checks[name] = err.Error()
			report.Status = "degraded"
			code = http.StatusServiceUnavailable
			logging.FromContext(r.Context()).WarnContext(ctx, "ops - health - check failed", "check", name, logging.Err(err))
			continue
		}
		report.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info("ops - server - listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
