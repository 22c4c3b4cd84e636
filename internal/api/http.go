package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/services"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

const maxBodyBytes = 8 << 20

// Handler exposes the correlation, rule and analytics services over JSON.
type Handler struct {
	logger      *slog.Logger
	correlation *services.CorrelationService
	rules       *services.RuleService
	analytics   *services.AnalyticsService
	importer    services.EventImporter
	pinger      Pinger
}

// NewHandler wires the services into an HTTP handler. importer and pinger may be nil.
func NewHandler(logger *slog.Logger, correlation *services.CorrelationService, rules *services.RuleService, analytics *services.AnalyticsService, importer services.EventImporter, pinger Pinger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		correlation: correlation,
		rules:       rules,
		analytics:   analytics,
		importer:    importer,
		pinger:      pinger,
	}
}

// Router returns the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", h.importEvents).Methods(http.MethodPost)
	v1.HandleFunc("/events/tree", h.eventTree).Methods(http.MethodGet)

	v1.HandleFunc("/groups/check", h.checkGroup).Methods(http.MethodPost)
	v1.HandleFunc("/groups/manual", h.manualGroup).Methods(http.MethodPost)
	v1.HandleFunc("/groups/automatic", h.automaticGroup).Methods(http.MethodPost)
	v1.HandleFunc("/groups/ungroup", h.ungroupSpecific).Methods(http.MethodPost)
	v1.HandleFunc("/groups/{motherId}", h.ungroup).Methods(http.MethodDelete)

	v1.HandleFunc("/rules", h.listRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", h.createRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/evaluate", h.evaluateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id}", h.getRule).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id}", h.updateRule).Methods(http.MethodPut)
	v1.HandleFunc("/rules/{id}", h.deleteRule).Methods(http.MethodDelete)
	v1.HandleFunc("/rules/{id}/toggle", h.toggleRule).Methods(http.MethodPost)

	v1.HandleFunc("/classify/test", h.classify(false)).Methods(http.MethodPost)
	v1.HandleFunc("/classify/apply", h.classify(true)).Methods(http.MethodPost)
	v1.HandleFunc("/reviews", h.recordReview).Methods(http.MethodPost)

	v1.HandleFunc("/analytics/summary", h.summary).Methods(http.MethodGet)
	v1.HandleFunc("/analytics/suggestions", h.suggestions).Methods(http.MethodGet)
	return r
}

type idsRequest struct {
	EventIDs []string `json:"eventIds"`
}

type rangeRequest struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	SubstationID string `json:"substationId"`
}

func (rr rangeRequest) filter() (models.EventFilter, error) {
	timeRange, err := parseRange(rr.Start, rr.End)
	if err != nil {
		return models.EventFilter{}, err
	}
	return models.EventFilter{TimeRange: timeRange, SubstationID: rr.SubstationID}, nil
}

type classifyRequest struct {
	EventIDs []string `json:"eventIds"`
	rangeRequest
}

type ruleResponse struct {
	Rule     models.Rule `json:"rule"`
	Warnings []string    `json:"warnings,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) importEvents(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		h.writeError(w, utils.NewValidationError("import events", "the configured store does not accept imports"))
		return
	}
	var req struct {
		Events []models.Event `json:"events"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		h.writeError(w, utils.NewValidationError("import events", "no events supplied"))
		return
	}
	if err := h.importer.InsertEvents(r.Context(), req.Events); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": len(req.Events)})
}

func (h *Handler) eventTree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := rangeRequest{Start: q.Get("start"), End: q.Get("end"), SubstationID: q.Get("substationId")}.filter()
	if err != nil {
		h.writeError(w, err)
		return
	}
	forest, err := h.correlation.BuildEventTree(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roots": forest})
}

func (h *Handler) checkGroup(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	check, err := h.correlation.CanGroupEvents(r.Context(), req.EventIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handler) manualGroup(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.correlation.PerformManualGrouping(r.Context(), req.EventIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) automaticGroup(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	filter, err := req.filter()
	if err != nil {
		h.writeError(w, err)
		return
	}
	results, err := h.correlation.PerformAutomaticGrouping(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": results})
}

func (h *Handler) ungroup(w http.ResponseWriter, r *http.Request) {
	ok, err := h.correlation.UngroupEvents(r.Context(), mux.Vars(r)["motherId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ungrouped": ok})
}

func (h *Handler) ungroupSpecific(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ok, err := h.correlation.UngroupSpecificEvents(r.Context(), req.EventIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ungrouped": ok})
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListRules(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	saved, warnings, err := h.rules.CreateRule(r.Context(), rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleResponse{Rule: saved, Warnings: warnings})
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	saved, warnings, err := h.rules.UpdateRule(r.Context(), mux.Vars(r)["id"], rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse{Rule: saved, Warnings: warnings})
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	rule, err := h.rules.ToggleRule(r.Context(), mux.Vars(r)["id"], req.IsActive)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) evaluateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rule  models.Rule  `json:"rule"`
		Event models.Event `json:"event"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"matches": h.rules.EvaluateRule(req.Rule, req.Event)})
}

func (h *Handler) classify(apply bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if r.ContentLength != 0 && !h.decode(w, r, &req) {
			return
		}
		filter, err := req.filter()
		if err != nil {
			h.writeError(w, err)
			return
		}
		classifyReq := services.ClassifyRequest{EventIDs: req.EventIDs, Filter: filter}

		var results []models.ClassificationResult
		if apply {
			results, err = h.rules.ApplyRules(r.Context(), classifyReq)
		} else {
			results, err = h.rules.TestRules(r.Context(), classifyReq)
		}
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func (h *Handler) recordReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID        string `json:"eventId"`
		ConfirmedFalse bool   `json:"confirmedFalse"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.EventID == "" {
		h.writeError(w, utils.NewValidationError("record review", "eventId is required"))
		return
	}
	outcome, err := h.rules.RecordReview(r.Context(), req.EventID, req.ConfirmedFalse)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	timeRange, err := parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	snapshot, err := h.analytics.Summarize(r.Context(), timeRange)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	timeRange, err := parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	suggestions, err := h.analytics.SuggestRules(r.Context(), timeRange)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, utils.NewValidationError("decode request", fmt.Sprintf("invalid JSON body: %v", err)))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	}
	message := err.Error()
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		message = appErr.Msg
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

const maxRangeSpan = engine.MaxTrendDays * 24 * time.Hour

func parseRange(start, end string) (models.TimeRange, error) {
	var timeRange models.TimeRange
	if start != "" {
		t, err := utils.ParseRFC3339(start)
		if err != nil {
			return models.TimeRange{}, utils.NewValidationError("parse range", "start: "+err.Error())
		}
		timeRange.Start = t.UTC()
	}
	if end != "" {
		t, err := utils.ParseRFC3339(end)
		if err != nil {
			return models.TimeRange{}, utils.NewValidationError("parse range", "end: "+err.Error())
		}
		timeRange.End = t.UTC()
	}
	if !timeRange.Start.IsZero() && !timeRange.End.IsZero() {
		if !timeRange.End.After(timeRange.Start) {
			return models.TimeRange{}, utils.NewValidationError("parse range", "end must be after start")
		}
		if timeRange.End.Sub(timeRange.Start) > maxRangeSpan {
			return models.TimeRange{}, utils.NewValidationError("parse range",
				fmt.Sprintf("range may span at most %d days", engine.MaxTrendDays))
		}
	}
	return timeRange, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
