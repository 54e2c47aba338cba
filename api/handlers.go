/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the domain services.

ENDPOINTS:
  Calendar:
    GET    /api/engagements                        List engagements
    GET    /api/fiscal-years                       List fiscal years with closing periods
    POST   /api/fiscal-years/{id}/lock             Lock a fiscal year
    POST   /api/fiscal-years/{id}/unlock           Unlock a fiscal year
    POST   /api/calendar/consistency               Validate and repair closing periods

  Hours allocation:
    GET    /api/engagements/{id}/allocation        Rank x fiscal-year matrix
    PUT    /api/engagements/{id}/allocation        Save consumed / additional hours
    POST   /api/engagements/{id}/ranks             Add a rank
    DELETE /api/engagements/{id}/ranks/{rank}      Delete an empty rank

  Snapshots ({kind} is revenue or hours):
    GET    /api/engagements/{id}/periods/{cp}/{kind}        Stored snapshot
    PUT    /api/engagements/{id}/periods/{cp}/{kind}        Replace snapshot
    POST   /api/engagements/{id}/periods/{cp}/{kind}/clone  Copy previous period (unsaved)
    GET    /api/engagements/{id}/periods/{cp}/discrepancies Compare with ledger
    PUT    /api/engagements/{id}/periods/{cp}/ledger        Record imported ledger figures

  Forecast:
    GET    /api/forecast                           Current forecast rows
    GET    /api/forecast/summary                   Per-engagement rollup
    POST   /api/forecast                           Import forecast records

  Scenarios:
    GET    /api/scenarios                          List demo scenarios
    POST   /api/scenarios/load                     Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access for plain reads and reset
  - Allocation, Snapshots, Forecast, Calendar: Domain services

REQUEST FLOW:
  1. Parse path parameters and body
  2. Validate input (validator tags on *Request types)
  3. Call the domain service
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown budget id
  - 404: Engagement, fiscal year or closing period not found
  - 409: Locked fiscal year, duplicate rank, rank not empty
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/calendar"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/forecast"
	"github.com/warp/allocation-engine/snapshot"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Allocation *allocation.Service
	Snapshots  *snapshot.Manager
	Forecast   *forecast.Reconciler
	Calendar   *calendar.Checker

	log      logrus.FieldLogger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, log logrus.FieldLogger) *Handler {
	return &Handler{
		Store:      store,
		Allocation: allocation.NewService(store, log),
		Snapshots:  snapshot.NewManager(store, log),
		Forecast:   forecast.NewReconciler(store, log),
		Calendar:   calendar.NewChecker(store, log),
		log:        log.WithField("component", "api"),
		validate:   validator.New(),
	}
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListEngagements returns all engagements.
func (h *Handler) ListEngagements(w http.ResponseWriter, r *http.Request) {
	engagements, err := h.Store.ListEngagements(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list engagements", err)
		return
	}

	dtos := make([]EngagementDTO, len(engagements))
	for i, e := range engagements {
		dtos[i] = toEngagementDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListFiscalYears returns all fiscal years with their closing periods.
func (h *Handler) ListFiscalYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.Store.ListFiscalYears(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list fiscal years", err)
		return
	}

	dtos := make([]FiscalYearDTO, len(years))
	for i, fy := range years {
		dtos[i] = toFiscalYearDTO(fy)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LockFiscalYear closes a fiscal year for edits.
func (h *Handler) LockFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal year id", err)
		return
	}
	var req LockRequest
	if !h.decode(w, r, &req) {
		return
	}

	fy, err := h.Calendar.LockFiscalYear(r.Context(), core.FiscalYearID(id), req.LockedBy)
	if err != nil {
		h.writeServiceError(w, r, "Failed to lock fiscal year", err)
		return
	}
	writeJSON(w, http.StatusOK, toFiscalYearDTO(*fy))
}

// UnlockFiscalYear reopens a fiscal year.
func (h *Handler) UnlockFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal year id", err)
		return
	}

	fy, err := h.Calendar.UnlockFiscalYear(r.Context(), core.FiscalYearID(id))
	if err != nil {
		h.writeServiceError(w, r, "Failed to unlock fiscal year", err)
		return
	}
	writeJSON(w, http.StatusOK, toFiscalYearDTO(*fy))
}

// CheckCalendar validates and repairs closing periods.
func (h *Handler) CheckCalendar(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Calendar.EnsureConsistency(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to check fiscal calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// GetAllocation returns the hours matrix of an engagement.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid engagement id", err)
		return
	}

	snap, err := h.Allocation.GetAllocation(r.Context(), core.EngagementID(id))
	if err != nil {
		h.writeServiceError(w, r, "Failed to load allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(snap))
}

// SaveAllocation applies an editor submission.
func (h *Handler) SaveAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid engagement id", err)
		return
	}
	var req SaveAllocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	snap, err := h.Allocation.Save(r.Context(), core.EngagementID(id), req.toInput())
	if err != nil {
		h.writeServiceError(w, r, "Failed to save allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(snap))
}

// AddRank registers a rank on every open fiscal year.
func (h *Handler) AddRank(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid engagement id", err)
		return
	}
	var req AddRankRequest
	if !h.decode(w, r, &req) {
		return
	}

	snap, err := h.Allocation.AddRank(r.Context(), core.EngagementID(id), req.Rank)
	if err != nil {
		h.writeServiceError(w, r, "Failed to add rank", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(snap))
}

// DeleteRank removes a rank whose cells are all empty.
func (h *Handler) DeleteRank(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid engagement id", err)
		return
	}
	rank, err := url.PathUnescape(chi.URLParam(r, "rank"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rank", err)
		return
	}

	if err := h.Allocation.DeleteRank(r.Context(), core.EngagementID(id), rank); err != nil {
		h.writeServiceError(w, r, "Failed to delete rank", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// GetSnapshot returns the stored revenue or hours snapshot of a closing period.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.snapshotParams(w, r)
	if !ok {
		return
	}

	dto, err := h.loadSnapshot(r, scope, kind)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CloneSnapshot returns the previous period's snapshot restamped for this
// one. Nothing is saved.
func (h *Handler) CloneSnapshot(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.snapshotParams(w, r)
	if !ok {
		return
	}

	dto := newSnapshotDTO(scope, kind)
	var err error
	switch kind {
	case snapshot.KindRevenue:
		var rows []core.RevenueAllocation
		rows, err = h.Snapshots.CloneRevenueFromPrevious(r.Context(), scope)
		dto.Revenue = toRevenueRowDTOs(rows)
	case snapshot.KindHours:
		var rows []core.RankBudget
		rows, err = h.Snapshots.CloneHoursFromPrevious(r.Context(), scope)
		dto.Hours = toHoursRowDTOs(rows)
	}
	if err != nil {
		h.writeServiceError(w, r, "Failed to clone snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// SaveSnapshot replaces the snapshot of a closing period and syncs the ledger.
func (h *Handler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.snapshotParams(w, r)
	if !ok {
		return
	}
	var req SaveSnapshotRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch kind {
	case snapshot.KindRevenue:
		err = h.Snapshots.SaveRevenue(r.Context(), scope, req.revenueRows())
	case snapshot.KindHours:
		err = h.Snapshots.SaveHours(r.Context(), scope, req.hoursRows())
	}
	if err != nil {
		h.writeServiceError(w, r, "Failed to save snapshot", err)
		return
	}

	dto, err := h.loadSnapshot(r, scope, kind)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetDiscrepancies compares the snapshots with the imported ledger.
func (h *Handler) GetDiscrepancies(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParams(w, r)
	if !ok {
		return
	}

	report, err := h.Snapshots.DetectDiscrepancies(r.Context(), scope)
	if err != nil {
		h.writeServiceError(w, r, "Failed to detect discrepancies", err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscrepancyReportDTO(report))
}

// RecordLedger stores ledger figures for a closing period. Null figures keep
// their stored value.
func (h *Handler) RecordLedger(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParams(w, r)
	if !ok {
		return
	}
	var req LedgerRequest
	if !h.decode(w, r, &req) {
		return
	}

	stored, err := h.Snapshots.RecordLedger(r.Context(), req.toLedger(scope.EngagementID, scope.ClosingPeriodID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to record ledger figures", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(*stored))
}

func (h *Handler) loadSnapshot(r *http.Request, scope snapshot.Scope, kind snapshot.Kind) (SnapshotDTO, error) {
	dto := newSnapshotDTO(scope, kind)
	switch kind {
	case snapshot.KindRevenue:
		rows, err := h.Snapshots.RevenueSnapshot(r.Context(), scope)
		if err != nil {
			return dto, err
		}
		dto.Revenue = toRevenueRowDTOs(rows)
	case snapshot.KindHours:
		rows, err := h.Snapshots.HoursSnapshot(r.Context(), scope)
		if err != nil {
			return dto, err
		}
		dto.Hours = toHoursRowDTOs(rows)
	}
	return dto, nil
}

func newSnapshotDTO(scope snapshot.Scope, kind snapshot.Kind) SnapshotDTO {
	return SnapshotDTO{
		Kind:            string(kind),
		EngagementID:    int64(scope.EngagementID),
		ClosingPeriodID: int64(scope.ClosingPeriodID),
	}
}

// scopeParams resolves {id} and {cp}. Both must exist.
func (h *Handler) scopeParams(w http.ResponseWriter, r *http.Request) (snapshot.Scope, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid engagement id", err)
		return snapshot.Scope{}, false
	}
	cp, err := pathID(r, "cp")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid closing period id", err)
		return snapshot.Scope{}, false
	}
	scope := snapshot.Scope{EngagementID: core.EngagementID(id), ClosingPeriodID: core.ClosingPeriodID(cp)}

	e, err := h.Store.GetEngagement(r.Context(), scope.EngagementID)
	if err == nil && e == nil {
		err = core.EngagementNotFound(scope.EngagementID)
	}
	if err != nil {
		h.writeServiceError(w, r, "Failed to resolve engagement", err)
		return scope, false
	}
	period, err := h.Store.GetClosingPeriod(r.Context(), scope.ClosingPeriodID)
	if err == nil && period == nil {
		err = core.ClosingPeriodNotFound(scope.ClosingPeriodID)
	}
	if err != nil {
		h.writeServiceError(w, r, "Failed to resolve closing period", err)
		return scope, false
	}
	return scope, true
}

func (h *Handler) snapshotParams(w http.ResponseWriter, r *http.Request) (snapshot.Scope, snapshot.Kind, bool) {
	kind, err := snapshot.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid snapshot kind", err)
		return snapshot.Scope{}, "", false
	}
	scope, ok := h.scopeParams(w, r)
	return scope, kind, ok
}

// =============================================================================
// FORECAST HANDLERS
// =============================================================================

// UpdateForecast imports forecast records.
func (h *Handler) UpdateForecast(w http.ResponseWriter, r *http.Request) {
	var req UpdateForecastRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Forecast.UpdateForecast(r.Context(), req.toRecords())
	if err != nil {
		h.writeServiceError(w, r, "Failed to update forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastUpdateDTO(result))
}

// GetForecast returns the rows of every stored forecast record.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Forecast.GetCurrentForecast(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to load forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastRowDTOs(rows))
}

// GetForecastSummary rolls the current forecast up per engagement.
func (h *Handler) GetForecastSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Forecast.GetCurrentForecast(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to load forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastSummaryDTOs(forecast.Summarize(rows)))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = errorCode(err)
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a service error to its HTTP status. Internal errors
// are logged with the request id.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errorCodes = []struct {
	err  error
	code string
}{
	{core.ErrFiscalYearLocked, "fiscal_year_locked"},
	{core.ErrDuplicateRank, "duplicate_rank"},
	{core.ErrNoOpenFiscalYears, "no_open_fiscal_years"},
	{core.ErrRankNotEmpty, "rank_not_empty"},
	{core.ErrBudgetNotFound, "budget_not_found"},
	{core.ErrEngagementNotFound, "engagement_not_found"},
	{core.ErrFiscalYearNotFound, "fiscal_year_not_found"},
	{core.ErrClosingPeriodNotFound, "closing_period_not_found"},
	{core.ErrInvalidInput, "invalid_input"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		return "validation_failed"
	}
	return ""
}

// decode reads and validates a JSON body. It writes the 400 response itself
// and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", core.ErrInvalidInput, name, raw)
	}
	return id, nil
}
