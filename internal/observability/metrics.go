package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	apiReqError  *Counter
	treeMutation *CounterVec
	treeLatency  *HistogramVec

	mu     sync.RWMutex
	gauges []*GaugeFunc
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Init returns nil when disabled; every Metrics method is nil-safe.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func Current() *Metrics { return instance }

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("bc_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"bc_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight:  NewGauge("bc_api_inflight_requests", "In-flight API requests."),
		apiReqError:  NewCounter("bc_api_requests_error_total", "API requests answered with a 5xx status."),
		treeMutation: NewCounterVec("bc_tree_mutations_total", "Tree mutations by op and outcome.", []string{"op", "outcome"}),
		treeLatency: NewHistogramVec(
			"bc_tree_mutation_duration_seconds",
			"Tree mutation transaction latency in seconds by op.",
			[]string{"op"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		),
	}
}

// RegisterGauge adds a scrape-time sampled gauge, e.g. cache size or open SSE clients.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, NewGaugeFunc(name, help, fn))
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	series := []promWriter{m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqError, m.treeMutation, m.treeLatency}
	m.mu.RLock()
	for _, g := range m.gauges {
		series = append(series, g)
	}
	m.mu.RUnlock()
	for _, s := range series {
		if err := s.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveTreeMutation records one mutation. outcome is "ok" or an error class.
func (m *Metrics) ObserveTreeMutation(op, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.treeMutation.Inc(op, outcome)
	m.treeLatency.Observe(dur.Seconds(), op)
}
