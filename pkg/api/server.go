// Package api exposes the suggestd HTTP interface
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/analytics"
	"github.com/suggestd/suggestd/pkg/calendar"
	"github.com/suggestd/suggestd/pkg/decision"
	"github.com/suggestd/suggestd/pkg/extract"
	"github.com/suggestd/suggestd/pkg/learning"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/metrics"
	"github.com/suggestd/suggestd/pkg/rules"
	"github.com/suggestd/suggestd/pkg/telem"
	"github.com/suggestd/suggestd/pkg/timing"
)

// History provides the persisted feedback log for the history endpoint
type History interface {
	FeedbackHistory(limit int) ([]*pkg.FeedbackRecord, error)
	AppendContext(c *pkg.Context) error
}

// Config holds the HTTP server settings
type Config struct {
	Host         string
	Port         int
	AuthKeyHash  string // bcrypt hash; empty allows anonymous access
	EnableSearch bool
}

// Server wires the engine and its stores to HTTP handlers
type Server struct {
	config    Config
	engine    *decision.Engine
	learning  *learning.Service
	rules     *rules.Store
	timing    *timing.Store
	ingestor  *calendar.Ingestor
	analyzer  *analytics.Analyzer
	audit     *telem.Store
	history   History
	metrics   *metrics.Server
	logger    *logx.Logger
	server    *http.Server
	startedAt time.Time
}

func NewServer(
	config Config,
	engine *decision.Engine,
	learningSvc *learning.Service,
	ruleStore *rules.Store,
	timingStore *timing.Store,
	ingestor *calendar.Ingestor,
	analyzer *analytics.Analyzer,
	audit *telem.Store,
	history History,
	metricsSrv *metrics.Server,
	logger *logx.Logger,
) *Server {
	return &Server{
		config:    config,
		engine:    engine,
		learning:  learningSvc,
		rules:     ruleStore,
		timing:    timingStore,
		ingestor:  ingestor,
		analyzer:  analyzer,
		audit:     audit,
		history:   history,
		metrics:   metricsSrv,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler builds the routing table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/infer", s.authMiddleware(s.handleInfer))
	mux.HandleFunc("/api/feedback", s.authMiddleware(s.handleFeedback))
	mux.HandleFunc("/api/rules", s.authMiddleware(s.handleRules))
	mux.HandleFunc("/api/rules/deactivate", s.authMiddleware(s.handleDeactivate))
	mux.HandleFunc("/api/calendar/ingest", s.authMiddleware(s.handleCalendarIngest))
	mux.HandleFunc("/api/history", s.authMiddleware(s.handleHistory))
	mux.HandleFunc("/api/analytics/rules", s.authMiddleware(s.handleAnalytics))

	return mux
}

// Start begins serving in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authMiddleware checks the API key against the configured bcrypt hash.
// An empty hash allows anonymous access.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthKeyHash == "" {
			next(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("auth")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.config.AuthKeyHash), []byte(key)); err != nil {
			s.logger.Warn("rejected api request", "remote_addr", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	slots, err := s.timing.SlotCount()
	if err != nil {
		s.logger.Warn("failed to count timing slots", "error", err)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"active_rules":   len(s.rules.ListActive()),
		"total_rules":    len(s.rules.ListAll()),
		"timing_slots":   slots,
		"audit_ram_mb":   s.audit.MemoryUsageMB(),
	})
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var raw pkg.Context
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	enableSearch := s.config.EnableSearch
	if v := r.URL.Query().Get("search"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid search parameter")
			return
		}
		enableSearch = parsed
	}

	resp, err := s.engine.Infer(r.Context(), &raw, enableSearch)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.audit.AddContext(&raw, extract.Extract(&raw))
	if s.history != nil {
		if err := s.history.AppendContext(&raw); err != nil {
			s.logger.Warn("failed to persist context snapshot", "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveInference(resp.ContextSummary.OptimizationMode,
			resp.TotalRulesEvaluated, len(resp.SuggestedTasks))
		if len(resp.SuggestedTasks) > 0 {
			if meta := resp.SuggestedTasks[0].SearchMetadata; meta != nil {
				s.metrics.ObserveSearch(meta.NodesExplored, meta.SearchTimeMS,
					meta.OptimizationQuality == "greedy_fallback")
			}
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		RuleID          int64        `json:"rule_id"`
		Outcome         string       `json:"outcome"`
		ContextSnapshot *pkg.Context `json:"context_snapshot"`
		ChosenLeadTime  int          `json:"chosen_lead_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.learning.ApplyFeedback(req.RuleID, req.Outcome, req.ContextSnapshot, req.ChosenLeadTime)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveFeedback(result.Outcome, result.RuleID, result.NewWeight)
		s.metrics.SetActiveRules(len(s.rules.ListActive()))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.rules.ListAll())
	case http.MethodPost:
		var rule pkg.Rule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if rule.Name == "" {
			s.writeError(w, http.StatusBadRequest, "rule name is required")
			return
		}
		rule.IsActive = true

		created, err := s.rules.Create(&rule)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.SetActiveRules(len(s.rules.ListActive()))
		}
		s.writeJSON(w, http.StatusCreated, created)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.rules.Deactivate(req.ID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetActiveRules(len(s.rules.ListActive()))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": req.ID})
}

func (s *Server) handleCalendarIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Events []pkg.ParsedEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), req.Events)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetActiveRules(len(s.rules.ListActive()))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []*pkg.FeedbackRecord{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	records, err := s.history.FeedbackHistory(limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []*pkg.FeedbackRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.analyzer.RuleStats()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeEngineError maps engine errors onto HTTP status codes
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkg.ErrInvalidContext):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pkg.ErrRuleNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, pkg.ErrPersistence):
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
