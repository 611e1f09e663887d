package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treed/hairmqtt/internal/buildinfo"
	"github.com/treed/hairmqtt/internal/connwatch"
)

// LinkStatus reports the health of the bridge's external links. It is
// satisfied by [*connwatch.Manager].
type LinkStatus interface {
	Status() map[string]connwatch.LinkStatus
	Ready() bool
}

// Health is the /healthz response body.
type Health struct {
	Status  string                          `json:"status"`
	Version string                          `json:"version"`
	Uptime  string                          `json:"uptime"`
	Links   map[string]connwatch.LinkStatus `json:"links"`
}

// Server serves /metrics and /healthz.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	links    LinkStatus
	logger   *slog.Logger
}

// NewServer creates a server listening on addr. links may be nil, in
// which case /healthz always reports ok.
func NewServer(addr string, g prometheus.Gatherer, links LinkStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		gatherer: g,
		links:    links,
		logger:   logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", "address", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status:  "ok",
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().String(),
		Links:   map[string]connwatch.LinkStatus{},
	}
	code := http.StatusOK
	if s.links != nil {
		h.Links = s.links.Status()
		if !s.links.Ready() {
			h.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Debug("failed to write health response", "error", err)
	}
}
