// Package metrics exports upload session telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vkmedia/internal/domain"
	"vkmedia/internal/infra/middleware"
)

// Recorder implements the upload use case's metrics port.
type Recorder struct {
	sessions     *prometheus.CounterVec
	failures     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
}

// NewRecorder registers the upload collectors on reg. A nil reg means the
// default registerer. Collectors already registered under the same name are
// reused.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = "vkmedia"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_sessions_total",
			Help:      "Upload sessions finished, by media kind and outcome.",
		}, []string{"kind", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Failed upload sessions, by media kind, pipeline stage and error code.",
		}, []string{"kind", "stage", "code"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_step_duration_seconds",
			Help:      "Latency of each upload pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "step"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Payload bytes sent to upload servers.",
		}, []string{"kind"}),
	}

	if err := register(reg, &r.sessions); err != nil {
		return nil, err
	}
	if err := register(reg, &r.failures); err != nil {
		return nil, err
	}
	if err := register(reg, &r.stepDuration); err != nil {
		return nil, err
	}
	if err := register(reg, &r.bytes); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*c = existing
				return nil
			}
		}
		return fmt.Errorf("register upload metric: %w", err)
	}
	return nil
}

// ObserveStep records how long one pipeline step took.
func (r *Recorder) ObserveStep(kind domain.MediaKind, step string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(string(kind), step).Observe(d.Seconds())
}

// AddBytes counts payload bytes handed to an upload server.
func (r *Recorder) AddBytes(kind domain.MediaKind, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytes.WithLabelValues(string(kind)).Add(float64(n))
}

// SessionDone records the outcome of a finished session.
func (r *Recorder) SessionDone(kind domain.MediaKind, err error) {
	if r == nil {
		return
	}
	if err == nil {
		r.sessions.WithLabelValues(string(kind), "ok").Inc()
		return
	}
	r.sessions.WithLabelValues(string(kind), "error").Inc()
	stage := domain.Stage(err)
	if stage == "" {
		stage = "other"
	}
	r.failures.WithLabelValues(string(kind), stage, string(domain.ErrorCodeOf(err))).Inc()
}

// Server serves /metrics for a gatherer.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds a metrics server listening on addr. The handler carries
// security headers and a per-client scrape limit bound to ctx.
func NewServer(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	limit := middleware.ScrapeLimit(ctx, 120, 10)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           middleware.SecurityHeaders(limit(mux)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. It returns the bound
// address, which differs from the configured one when the port is 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", fmt.Errorf("listen metrics: %w", err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
