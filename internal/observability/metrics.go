package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics coleta as metricas Prometheus da aplicacao.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitionsTotal *prometheus.CounterVec
	approvalsTotal   *prometheus.CounterVec
}

// NewMetrics inicializa o registry e as metricas basicas.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suprimenta_http_requests_total",
		Help: "Total de requisicoes HTTP por rota e status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "suprimenta_http_request_duration_seconds",
		Help:    "Duracao das requisicoes HTTP por rota.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suprimenta_phase_transitions_total",
		Help: "Transicoes de fase processadas por fase de destino e resultado.",
	}, []string{"target_phase", "result"})
	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suprimenta_approval_decisions_total",
		Help: "Decisoes de aprovacao processadas por etapa e resultado.",
	}, []string{"step", "result"})
	registry.MustRegister(requests, duration, transitions, approvals)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		transitionsTotal: transitions,
		approvalsTotal:   approvals,
	}
}

// Handler retorna o http.Handler do endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware registra metricas para cada requisicao HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTransition conta uma transicao de fase.
func (m *Metrics) ObserveTransition(targetPhase, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(targetPhase, result).Inc()
}

// ObserveApproval conta uma decisao de aprovacao.
func (m *Metrics) ObserveApproval(step, result string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(step, result).Inc()
}

// Registerer expoe o registry para metricas adicionais.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
