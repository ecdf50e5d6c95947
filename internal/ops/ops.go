package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtroode/authkeeper/internal/model"
)

// Checker reports health of one dependency.
type Checker func(ctx context.Context) error

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// NewRouter exposes /metrics for gatherer, /livez and /healthz running checks.
func NewRouter(gatherer prometheus.Gatherer, checks map[string]Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "up"})
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "up", Checks: make(map[string]checkResult, len(checks))}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = checkResult{Status: "down", Error: err.Error()}
				resp.Status = "down"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = checkResult{Status: "up"}
		}

		writeJSON(w, code, resp)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

var _ model.Server = (*HTTPServer)(nil)

// HTTPServer serves the ops router.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves until Stop. A clean shutdown returns nil.
func (s *HTTPServer) Start(securityLayer model.SecurityLayer) error {
	listener, err := securityLayer.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) Address() string {
	return s.server.Addr
}
