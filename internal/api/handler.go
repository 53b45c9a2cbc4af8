// Package api exposes the tracking operations as thin JSON endpoints.
// Every response carries a {success, ..., errors?} envelope.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/delta"
	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/ledger"
	"github.com/rpattn/rostersync/internal/tracker"
)

type Handler struct {
	tracker    *tracker.Service
	ledger     *ledger.Service
	calculator *delta.Calculator
}

func NewHTTPHandler(trackerSvc *tracker.Service, ledgerSvc *ledger.Service, calculator *delta.Calculator) http.Handler {
	return &Handler{tracker: trackerSvc, ledger: ledgerSvc, calculator: calculator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/sessions"):
		h.handleStartSession(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/track"):
		h.handleTrackChanges(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/complete"):
		h.handleFinishSession(w, r, domain.SessionCompleted)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
		h.handleFinishSession(w, r, domain.SessionCancelled)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/fail"):
		h.handleFinishSession(w, r, domain.SessionFailed)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/detect"):
		h.handleDetect(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/delta"):
		h.handleDelta(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/history"):
		h.handleHistory(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/summary"):
		h.handleSummary(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/analytics"):
		h.handleAnalytics(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/report"):
		h.handleReport(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/sync"):
		h.handleExecuteSync(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cleanup"):
		h.handleCleanup(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type startSessionPayload struct {
	IntegrationID string             `json:"integrationId"`
	EntityTypes   []string           `json:"entityTypes"`
	SyncContext   domain.SyncContext `json:"syncContext"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload startSessionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}
	integrationID, err := uuid.Parse(strings.TrimSpace(payload.IntegrationID))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid integrationId: %v", err))
		return
	}

	session, err := h.tracker.StartSession(integrationID, payload.EntityTypes, payload.SyncContext)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"session": session})
}

type trackChangesPayload struct {
	Batches     []tracker.EntityBatch `json:"entities"`
	SyncContext domain.SyncContext    `json:"syncContext"`
}

func (h *Handler) handleTrackChanges(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDFromPath(w, r.URL.Path, "/track")
	if !ok {
		return
	}

	defer r.Body.Close()
	var payload trackChangesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	result, err := h.tracker.TrackChanges(r.Context(), sessionID, payload.Batches, payload.SyncContext)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"session":              result.Session,
		"detectionResults":     result.Results,
		"incrementalSyncPlans": result.Plans,
		"errors":               result.Errors,
	})
}

func (h *Handler) handleFinishSession(w http.ResponseWriter, r *http.Request, status domain.SessionStatus) {
	var suffix string
	switch status {
	case domain.SessionCompleted:
		suffix = "/complete"
	case domain.SessionCancelled:
		suffix = "/cancel"
	default:
		suffix = "/fail"
	}
	sessionID, ok := sessionIDFromPath(w, r.URL.Path, suffix)
	if !ok {
		return
	}

	var session domain.ChangeTrackingSession
	var err error
	switch status {
	case domain.SessionCompleted:
		session, err = h.tracker.CompleteSession(sessionID)
	case domain.SessionCancelled:
		session, err = h.tracker.CancelSession(sessionID)
	default:
		session, err = h.tracker.FailSession(sessionID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"session": session})
}

type detectPayload struct {
	IntegrationID string                  `json:"integrationId"`
	EntityType    string                  `json:"entityType"`
	Entities      []domain.EntitySnapshot `json:"entities"`
	SyncContext   domain.SyncContext      `json:"syncContext"`
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload detectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}
	integrationID, err := uuid.Parse(strings.TrimSpace(payload.IntegrationID))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid integrationId: %v", err))
		return
	}

	result, err := h.tracker.DetectEntityChanges(r.Context(), payload.EntityType, payload.Entities, integrationID, payload.SyncContext)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"result": result})
}

type deltaOptionsInput struct {
	IncludeUnchanged      *bool    `json:"includeUnchanged"`
	SignificanceThreshold *float64 `json:"significanceThreshold"`
	IgnoreFields          []string `json:"ignoreFields"`
	DeepComparison        *bool    `json:"deepComparison"`
	NormalizeValues       *bool    `json:"normalizeValues"`
}

type deltaPayload struct {
	EntityType string                  `json:"entityType"`
	Previous   []domain.EntitySnapshot `json:"previous"`
	Current    []domain.EntitySnapshot `json:"current"`
	Options    *deltaOptionsInput      `json:"options"`
}

func (h *Handler) handleDelta(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload deltaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}
	if payload.EntityType == "" {
		writeError(w, http.StatusBadRequest, "entityType is required")
		return
	}

	batch := h.calculator.CalculateBatchDelta(payload.EntityType, payload.Previous, payload.Current, toDeltaOptions(payload.Options))
	writeSuccess(w, http.StatusOK, map[string]any{"delta": batch})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.ledger.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"records":    page.Records,
		"totalCount": page.TotalCount,
		"hasMore":    page.HasMore,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.ledger.Summarize(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	integrationID, start, end, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	analytics, err := h.tracker.GenerateAnalytics(r.Context(), integrationID, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"analytics": analytics})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	integrationID, start, end, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.tracker.GenerateReport(r.Context(), integrationID, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"report": report})
}

type executeSyncPayload struct {
	Plan        domain.IncrementalSyncPlan `json:"plan"`
	SyncContext domain.SyncContext         `json:"syncContext"`
}

func (h *Handler) handleExecuteSync(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload executeSyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	run, err := h.tracker.ExecuteIncrementalSync(r.Context(), payload.Plan, payload.SyncContext)
	if err != nil {
		// The run still reports what happened before the failure.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"run":     run,
			"errors":  []string{err.Error()},
		})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"run": run})
}

type cleanupPayload struct {
	Type string `json:"type"`
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload cleanupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	result, err := h.tracker.TriggerCleanup(r.Context(), payload.Type)
	if err != nil {
		if errors.Is(err, ledger.ErrCleanupRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, ledger.ErrCompressionDisabled) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"result": result})
}

// sessionIDFromPath extracts the uuid segment before the action suffix,
// e.g. /api/sessions/<id>/track.
func sessionIDFromPath(w http.ResponseWriter, path, suffix string) (uuid.UUID, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, "/"), suffix)
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		writeError(w, http.StatusBadRequest, "missing session identifier")
		return uuid.Nil, false
	}
	sessionID, err := uuid.Parse(trimmed[idx+1:])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid session identifier: %v", err))
		return uuid.Nil, false
	}
	return sessionID, true
}

func parseFilter(r *http.Request) (domain.ChangeRecordFilter, error) {
	query := r.URL.Query()
	var filter domain.ChangeRecordFilter

	if raw := strings.TrimSpace(query.Get("integrationId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid integrationId: %w", err)
		}
		filter.IntegrationID = &id
	}
	filter.EntityType = strings.TrimSpace(query.Get("entityType"))
	filter.EntityID = strings.TrimSpace(query.Get("entityId"))

	for _, raw := range splitMulti(query["changeType"]) {
		filter.ChangeTypes = append(filter.ChangeTypes, domain.ChangeType(raw))
	}
	for _, raw := range splitMulti(query["severity"]) {
		filter.Severities = append(filter.Severities, domain.Severity(raw))
	}

	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid since: %w", err)
		}
		filter.Since = &since
	}
	if raw := strings.TrimSpace(query.Get("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid until: %w", err)
		}
		filter.Until = &until
	}

	filter.OnlyUnprocessed = query.Get("onlyUnprocessed") == "true"

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be zero or positive")
		}
		filter.Offset = offset
	}

	return filter, nil
}

func parsePeriod(r *http.Request) (uuid.UUID, time.Time, time.Time, error) {
	query := r.URL.Query()

	integrationID, err := uuid.Parse(strings.TrimSpace(query.Get("integrationId")))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid integrationId: %w", err)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(query.Get("start")))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(query.Get("end")))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}

	return integrationID, start, end, nil
}

func splitMulti(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func toDeltaOptions(input *deltaOptionsInput) *domain.DeltaOptions {
	if input == nil {
		return nil
	}
	opts := domain.DefaultDeltaOptions()
	if input.IncludeUnchanged != nil {
		opts.IncludeUnchanged = *input.IncludeUnchanged
	}
	if input.SignificanceThreshold != nil {
		opts.SignificanceThreshold = *input.SignificanceThreshold
	}
	if len(input.IgnoreFields) > 0 {
		opts.IgnoreFields = append([]string(nil), input.IgnoreFields...)
	}
	if input.DeepComparison != nil {
		opts.DeepComparison = *input.DeepComparison
	}
	if input.NormalizeValues != nil {
		opts.NormalizeValues = *input.NormalizeValues
	}
	return &opts
}

func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnknownEntityType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for key, value := range payload {
		body[key] = value
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, messages ...string) {
	writeJSON(w, status, map[string]any{"success": false, "errors": messages})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
