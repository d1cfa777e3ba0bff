// Package metrics exposes Prometheus metrics for suggestd
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suggestd/suggestd/pkg/logx"
)

// Server registers and serves the Prometheus metrics endpoint
type Server struct {
	logger *logx.Logger
	server *http.Server

	inferences      *prometheus.CounterVec
	suggestions     prometheus.Counter
	rulesEvaluated  prometheus.Counter
	feedback        *prometheus.CounterVec
	searchNodes     prometheus.Histogram
	searchDuration  prometheus.Histogram
	searchFallbacks prometheus.Counter
	activeRules     prometheus.Gauge
	ruleWeight      *prometheus.GaugeVec
}

func NewServer(logger *logx.Logger) *Server {
	s := &Server{logger: logger}
	s.register()
	return s
}

func (s *Server) register() {
	s.inferences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestd_inferences_total",
			Help: "Inference calls by optimization mode",
		},
		[]string{"mode"},
	)
	s.suggestions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "suggestd_suggestions_total",
			Help: "Suggestions surfaced above the threshold",
		},
	)
	s.rulesEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "suggestd_rules_evaluated_total",
			Help: "Rules evaluated across all inference calls",
		},
	)
	s.feedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestd_feedback_total",
			Help: "Feedback applications by outcome",
		},
		[]string{"outcome"},
	)
	s.searchNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "suggestd_search_nodes",
			Help:    "Nodes explored per schedule search",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	s.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "suggestd_search_duration_ms",
			Help:    "Schedule search wall time in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100},
		},
	)
	s.searchFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "suggestd_search_fallbacks_total",
			Help: "Schedule searches that degraded to greedy",
		},
	)
	s.activeRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "suggestd_active_rules",
			Help: "Active rules in the catalog",
		},
	)
	s.ruleWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "suggestd_rule_weight",
			Help: "Learned weight per rule",
		},
		[]string{"rule_id"},
	)

	prometheus.MustRegister(
		s.inferences,
		s.suggestions,
		s.rulesEvaluated,
		s.feedback,
		s.searchNodes,
		s.searchDuration,
		s.searchFallbacks,
		s.activeRules,
		s.ruleWeight,
	)
}

// ObserveInference records one inference call
func (s *Server) ObserveInference(mode string, rulesEvaluated, suggestions int) {
	s.inferences.WithLabelValues(mode).Inc()
	s.rulesEvaluated.Add(float64(rulesEvaluated))
	s.suggestions.Add(float64(suggestions))
}

// ObserveSearch records one schedule search run
func (s *Server) ObserveSearch(nodes int, durationMS float64, fallback bool) {
	s.searchNodes.Observe(float64(nodes))
	s.searchDuration.Observe(durationMS)
	if fallback {
		s.searchFallbacks.Inc()
	}
}

// ObserveFeedback records one feedback application
func (s *Server) ObserveFeedback(outcome string, ruleID int64, newWeight float64) {
	s.feedback.WithLabelValues(outcome).Inc()
	s.ruleWeight.WithLabelValues(fmt.Sprintf("%d", ruleID)).Set(newWeight)
}

// SetActiveRules updates the catalog size gauge
func (s *Server) SetActiveRules(n int) {
	s.activeRules.Set(float64(n))
}

// Start serves /metrics on the given port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("metrics server listening", "port", port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the metrics server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
