/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Calendar:    EngagementDTO, FiscalYearDTO, ClosingPeriodDTO, LockRequest
  Allocation:  AllocationDTO, RankRowDTO, CellDTO, SaveAllocationRequest, AddRankRequest
  Snapshot:    SnapshotDTO, RevenueRowDTO, HoursRowDTO, SaveSnapshotRequest
  Ledger:      LedgerDTO, DiscrepancyReportDTO
  Forecast:    UpdateForecastRequest, ForecastUpdateDTO, ForecastRowDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest

NUMBERS:
  Hours and values travel as JSON numbers. The domain keeps them as
  decimals; conversion happens in the helpers at the bottom of this file.

VALIDATION:
  Request types carry validator tags, checked by decodeJSON before the
  handler runs. Business rules stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/forecast"
)

// =============================================================================
// CALENDAR
// =============================================================================

// EngagementDTO represents an engagement in API responses.
type EngagementDTO struct {
	ID                       int64   `json:"id"`
	Code                     string  `json:"code"`
	Description              string  `json:"description"`
	InitialHoursBudget       float64 `json:"initial_hours_budget"`
	EstimatedToCompleteHours float64 `json:"estimated_to_complete_hours"`
	ValueToAllocate          float64 `json:"value_to_allocate"`
}

// FiscalYearDTO represents a fiscal year with its closing periods.
type FiscalYearDTO struct {
	ID             int64              `json:"id"`
	Name           string             `json:"name"`
	StartDate      string             `json:"start_date"`
	EndDate        string             `json:"end_date"`
	Locked         bool               `json:"locked"`
	LockedAt       string             `json:"locked_at,omitempty"`
	LockedBy       string             `json:"locked_by,omitempty"`
	ClosingPeriods []ClosingPeriodDTO `json:"closing_periods"`
}

// ClosingPeriodDTO represents a closing period.
type ClosingPeriodDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	FiscalYearID int64  `json:"fiscal_year_id"`
}

// LockRequest is the request to lock a fiscal year.
type LockRequest struct {
	LockedBy string `json:"locked_by" validate:"required"`
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocationDTO is the hours matrix of one engagement.
type AllocationDTO struct {
	EngagementID             int64                 `json:"engagement_id"`
	EngagementCode           string                `json:"engagement_code"`
	Description              string                `json:"description"`
	InitialHoursBudget       float64               `json:"initial_hours_budget"`
	EstimatedToCompleteHours float64               `json:"estimated_to_complete_hours"`
	ToBeConsumedHours        float64               `json:"to_be_consumed_hours"`
	FiscalYears              []FiscalYearColumnDTO `json:"fiscal_years"`
	Rows                     []RankRowDTO          `json:"rows"`
}

// FiscalYearColumnDTO is a matrix column.
type FiscalYearColumnDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	Locked    bool   `json:"locked"`
}

// RankRowDTO is a matrix row.
type RankRowDTO struct {
	Rank            string    `json:"rank"`
	AdditionalHours float64   `json:"additional_hours"`
	RemainingHours  float64   `json:"remaining_hours"`
	Status          string    `json:"status"`
	Cells           []CellDTO `json:"cells"`
}

// CellDTO is one matrix cell. BudgetID is null for cells with no stored row.
type CellDTO struct {
	BudgetID       *int64  `json:"budget_id"`
	FiscalYearID   int64   `json:"fiscal_year_id"`
	BudgetHours    float64 `json:"budget_hours"`
	ConsumedHours  float64 `json:"consumed_hours"`
	ForecastHours  float64 `json:"forecast_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	Locked         bool    `json:"locked"`
}

// SaveAllocationRequest is an editor submission.
type SaveAllocationRequest struct {
	Cells       []CellUpdateRequest    `json:"cells" validate:"dive"`
	Adjustments []RowAdjustmentRequest `json:"adjustments" validate:"dive"`
}

// CellUpdateRequest sets the consumed hours of a stored cell.
type CellUpdateRequest struct {
	BudgetID      int64   `json:"budget_id" validate:"required,gt=0"`
	ConsumedHours float64 `json:"consumed_hours"`
}

// RowAdjustmentRequest sets the additional hours of a rank.
type RowAdjustmentRequest struct {
	Rank            string  `json:"rank" validate:"required"`
	AdditionalHours float64 `json:"additional_hours"`
}

// AddRankRequest is the request to add a rank to an engagement.
type AddRankRequest struct {
	Rank string `json:"rank" validate:"required"`
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SnapshotDTO is a stored or cloned snapshot. Only the list matching Kind is
// set; the other is null.
type SnapshotDTO struct {
	Kind            string          `json:"kind"`
	EngagementID    int64           `json:"engagement_id"`
	ClosingPeriodID int64           `json:"closing_period_id"`
	Revenue         []RevenueRowDTO `json:"revenue"`
	Hours           []HoursRowDTO   `json:"hours"`
}

// RevenueRowDTO is one revenue allocation row.
type RevenueRowDTO struct {
	ID             int64   `json:"id,omitempty"`
	FiscalYearID   int64   `json:"fiscal_year_id" validate:"required,gt=0"`
	ToDateValue    float64 `json:"to_date_value"`
	ToGoValue      float64 `json:"to_go_value"`
	LastUpdateDate string  `json:"last_update_date,omitempty"`
}

// HoursRowDTO is one hours snapshot row.
type HoursRowDTO struct {
	ID              int64   `json:"id,omitempty"`
	FiscalYearID    int64   `json:"fiscal_year_id" validate:"required,gt=0"`
	Rank            string  `json:"rank" validate:"required"`
	BudgetHours     float64 `json:"budget_hours"`
	ConsumedHours   float64 `json:"consumed_hours"`
	AdditionalHours float64 `json:"additional_hours"`
	ForecastHours   float64 `json:"forecast_hours"`
	RemainingHours  float64 `json:"remaining_hours"`
	Status          string  `json:"status,omitempty"`
}

// SaveSnapshotRequest replaces a snapshot. The list matching the kind in
// the URL is used.
type SaveSnapshotRequest struct {
	Revenue []RevenueRowDTO `json:"revenue" validate:"dive"`
	Hours   []HoursRowDTO   `json:"hours" validate:"dive"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerDTO is an imported ledger row. Null figures were not imported.
type LedgerDTO struct {
	EngagementID     int64    `json:"engagement_id"`
	ClosingPeriodKey string   `json:"closing_period_key"`
	FiscalYearID     *int64   `json:"fiscal_year_id"`
	RevenueToDate    *float64 `json:"revenue_to_date"`
	RevenueToGo      *float64 `json:"revenue_to_go"`
	BudgetHours      *float64 `json:"budget_hours"`
	ChargedHours     *float64 `json:"charged_hours"`
	AdditionalHours  *float64 `json:"additional_hours"`
}

// LedgerRequest carries ledger figures from the finance import.
type LedgerRequest struct {
	FiscalYearID    *int64   `json:"fiscal_year_id" validate:"omitempty,gt=0"`
	RevenueToDate   *float64 `json:"revenue_to_date"`
	RevenueToGo     *float64 `json:"revenue_to_go"`
	BudgetHours     *float64 `json:"budget_hours"`
	ChargedHours    *float64 `json:"charged_hours"`
	AdditionalHours *float64 `json:"additional_hours"`
}

// DiscrepancyReportDTO lists allocation totals that differ from the ledger.
type DiscrepancyReportDTO struct {
	HasDiscrepancies bool             `json:"has_discrepancies"`
	Details          []DiscrepancyDTO `json:"details"`
}

// DiscrepancyDTO is one breached comparison.
type DiscrepancyDTO struct {
	Category       string  `json:"category"`
	FiscalYearName string  `json:"fiscal_year_name"`
	AllocatedValue float64 `json:"allocated_value"`
	ImportedValue  float64 `json:"imported_value"`
	Variance       float64 `json:"variance"`
	Message        string  `json:"message"`
}

// =============================================================================
// FORECAST
// =============================================================================

// UpdateForecastRequest carries rows from a forecast import.
type UpdateForecastRequest struct {
	Records []ForecastRecordRequest `json:"records" validate:"required"`
}

// ForecastRecordRequest is one imported forecast tuple. Records with no
// engagement code or fiscal year are counted and skipped.
type ForecastRecordRequest struct {
	EngagementCode string  `json:"engagement_code"`
	Rank           string  `json:"rank"`
	FiscalYearID   *int64  `json:"fiscal_year_id"`
	Hours          float64 `json:"hours"`
}

// ForecastUpdateDTO reports a forecast import.
type ForecastUpdateDTO struct {
	ProcessedRecords   int              `json:"processed_records"`
	UpdatedEngagements int              `json:"updated_engagements"`
	MissingEngagements []string         `json:"missing_engagements"`
	MissingBudgets     []string         `json:"missing_budgets"`
	UnknownRanks       []string         `json:"unknown_ranks"`
	Rows               []ForecastRowDTO `json:"rows"`
	RiskCount          int              `json:"risk_count"`
	OverrunCount       int              `json:"overrun_count"`
}

// ForecastRowDTO is one (engagement, fiscal year, rank) forecast row.
type ForecastRowDTO struct {
	EngagementID       int64   `json:"engagement_id"`
	EngagementCode     string  `json:"engagement_code"`
	EngagementName     string  `json:"engagement_name"`
	FiscalYearID       int64   `json:"fiscal_year_id"`
	FiscalYearName     string  `json:"fiscal_year_name"`
	Rank               string  `json:"rank"`
	BudgetHours        float64 `json:"budget_hours"`
	ActualHours        float64 `json:"actual_hours"`
	ForecastHours      float64 `json:"forecast_hours"`
	AvailableHours     float64 `json:"available_hours"`
	AvailableToActuals float64 `json:"available_to_actuals"`
	Status             string  `json:"status"`
}

// ForecastSummaryDTO rolls up the forecast of one engagement.
type ForecastSummaryDTO struct {
	EngagementID       int64   `json:"engagement_id"`
	EngagementCode     string  `json:"engagement_code"`
	EngagementName     string  `json:"engagement_name"`
	InitialHoursBudget float64 `json:"initial_hours_budget"`
	ActualHours        float64 `json:"actual_hours"`
	ForecastHours      float64 `json:"forecast_hours"`
	RemainingHours     float64 `json:"remaining_hours"`
	Utilization        float64 `json:"utilization"`
	FiscalYearCount    int     `json:"fiscal_year_count"`
	RankCount          int     `json:"rank_count"`
	RiskCount          int     `json:"risk_count"`
	OverrunCount       int     `json:"overrun_count"`
	Status             string  `json:"status"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func nullNum(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := num(d.Decimal)
	return &f
}

func nullDec(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return core.Known(dec(*f))
}

func toEngagementDTO(e core.Engagement) EngagementDTO {
	return EngagementDTO{
		ID:                       int64(e.ID),
		Code:                     e.Code,
		Description:              e.Description,
		InitialHoursBudget:       num(e.InitialHoursBudget),
		EstimatedToCompleteHours: num(e.EstimatedToCompleteHours),
		ValueToAllocate:          num(e.ValueToAllocate),
	}
}

func toFiscalYearDTO(fy core.FiscalYear) FiscalYearDTO {
	dto := FiscalYearDTO{
		ID:             int64(fy.ID),
		Name:           fy.Name,
		StartDate:      fy.StartDate.String(),
		EndDate:        fy.EndDate.String(),
		Locked:         fy.Locked,
		LockedBy:       fy.LockedBy,
		ClosingPeriods: make([]ClosingPeriodDTO, len(fy.ClosingPeriods)),
	}
	if fy.LockedAt != nil {
		dto.LockedAt = fy.LockedAt.Format(time.RFC3339)
	}
	for i, cp := range fy.ClosingPeriods {
		dto.ClosingPeriods[i] = ClosingPeriodDTO{
			ID:           int64(cp.ID),
			Name:         cp.Name,
			PeriodStart:  cp.PeriodStart.String(),
			PeriodEnd:    cp.PeriodEnd.String(),
			FiscalYearID: int64(cp.FiscalYearID),
		}
	}
	return dto
}

func toAllocationDTO(s *allocation.Snapshot) AllocationDTO {
	dto := AllocationDTO{
		EngagementID:             int64(s.EngagementID),
		EngagementCode:           s.EngagementCode,
		Description:              s.Description,
		InitialHoursBudget:       num(s.InitialHoursBudget),
		EstimatedToCompleteHours: num(s.EstimatedToCompleteHours),
		ToBeConsumedHours:        num(s.ToBeConsumedHours),
		FiscalYears:              make([]FiscalYearColumnDTO, len(s.FiscalYears)),
		Rows:                     make([]RankRowDTO, len(s.Rows)),
	}
	for i, fy := range s.FiscalYears {
		dto.FiscalYears[i] = FiscalYearColumnDTO{ID: int64(fy.ID), Name: fy.Name, StartDate: fy.StartDate.String(), Locked: fy.Locked}
	}
	for i, row := range s.Rows {
		r := RankRowDTO{
			Rank:            row.RankName,
			AdditionalHours: num(row.AdditionalHours),
			RemainingHours:  num(row.RemainingHours),
			Status:          string(row.Status),
			Cells:           make([]CellDTO, len(row.Cells)),
		}
		for j, c := range row.Cells {
			cell := CellDTO{
				FiscalYearID:   int64(c.FiscalYearID),
				BudgetHours:    num(c.BudgetHours),
				ConsumedHours:  num(c.ConsumedHours),
				ForecastHours:  num(c.ForecastHours),
				RemainingHours: num(c.RemainingHours),
				Locked:         c.Locked,
			}
			if c.BudgetID != nil {
				id := int64(*c.BudgetID)
				cell.BudgetID = &id
			}
			r.Cells[j] = cell
		}
		dto.Rows[i] = r
	}
	return dto
}

func (req SaveAllocationRequest) toInput() allocation.SaveInput {
	in := allocation.SaveInput{
		Cells:       make([]allocation.CellUpdate, len(req.Cells)),
		Adjustments: make([]allocation.RowAdjustment, len(req.Adjustments)),
	}
	for i, c := range req.Cells {
		in.Cells[i] = allocation.CellUpdate{BudgetID: core.BudgetID(c.BudgetID), ConsumedHours: dec(c.ConsumedHours)}
	}
	for i, a := range req.Adjustments {
		in.Adjustments[i] = allocation.RowAdjustment{RankName: a.Rank, AdditionalHours: dec(a.AdditionalHours)}
	}
	return in
}

func toRevenueRowDTOs(rows []core.RevenueAllocation) []RevenueRowDTO {
	out := make([]RevenueRowDTO, len(rows))
	for i, r := range rows {
		out[i] = RevenueRowDTO{
			ID:           r.ID,
			FiscalYearID: int64(r.FiscalYearID),
			ToDateValue:  num(r.ToDateValue),
			ToGoValue:    num(r.ToGoValue),
		}
		if !r.LastUpdateDate.IsZero() {
			out[i].LastUpdateDate = r.LastUpdateDate.String()
		}
	}
	return out
}

func toHoursRowDTOs(rows []core.RankBudget) []HoursRowDTO {
	out := make([]HoursRowDTO, len(rows))
	for i, r := range rows {
		out[i] = HoursRowDTO{
			ID:              int64(r.ID),
			FiscalYearID:    int64(r.FiscalYearID),
			Rank:            r.RankName,
			BudgetHours:     num(r.BudgetHours),
			ConsumedHours:   num(r.ConsumedHours),
			AdditionalHours: num(r.AdditionalHours),
			ForecastHours:   num(r.ForecastHours),
			RemainingHours:  num(r.RemainingHours),
			Status:          string(r.Status),
		}
	}
	return out
}

func (req SaveSnapshotRequest) revenueRows() []core.RevenueAllocation {
	out := make([]core.RevenueAllocation, len(req.Revenue))
	for i, r := range req.Revenue {
		out[i] = core.RevenueAllocation{
			FiscalYearID: core.FiscalYearID(r.FiscalYearID),
			ToDateValue:  dec(r.ToDateValue),
			ToGoValue:    dec(r.ToGoValue),
		}
	}
	return out
}

func (req SaveSnapshotRequest) hoursRows() []core.RankBudget {
	out := make([]core.RankBudget, len(req.Hours))
	for i, r := range req.Hours {
		out[i] = core.RankBudget{
			FiscalYearID:    core.FiscalYearID(r.FiscalYearID),
			RankName:        r.Rank,
			BudgetHours:     dec(r.BudgetHours),
			ConsumedHours:   dec(r.ConsumedHours),
			AdditionalHours: dec(r.AdditionalHours),
			ForecastHours:   dec(r.ForecastHours),
		}
	}
	return out
}

func toLedgerDTO(l core.LedgerSnapshot) LedgerDTO {
	dto := LedgerDTO{
		EngagementID:     int64(l.EngagementID),
		ClosingPeriodKey: l.ClosingPeriodKey,
		RevenueToDate:    nullNum(l.RevenueToDate),
		RevenueToGo:      nullNum(l.RevenueToGo),
		BudgetHours:      nullNum(l.BudgetHours),
		ChargedHours:     nullNum(l.ChargedHours),
		AdditionalHours:  nullNum(l.AdditionalHours),
	}
	if l.FiscalYearID != nil {
		id := int64(*l.FiscalYearID)
		dto.FiscalYearID = &id
	}
	return dto
}

func (req LedgerRequest) toLedger(engagementID core.EngagementID, closingPeriodID core.ClosingPeriodID) core.LedgerSnapshot {
	l := core.NewLedgerSnapshot(engagementID, closingPeriodID)
	if req.FiscalYearID != nil {
		fy := core.FiscalYearID(*req.FiscalYearID)
		l.FiscalYearID = &fy
	}
	l.RevenueToDate = nullDec(req.RevenueToDate)
	l.RevenueToGo = nullDec(req.RevenueToGo)
	l.BudgetHours = nullDec(req.BudgetHours)
	l.ChargedHours = nullDec(req.ChargedHours)
	l.AdditionalHours = nullDec(req.AdditionalHours)
	return l
}

func toDiscrepancyReportDTO(r core.DiscrepancyReport) DiscrepancyReportDTO {
	dto := DiscrepancyReportDTO{
		HasDiscrepancies: r.HasDiscrepancies(),
		Details:          make([]DiscrepancyDTO, len(r.Details)),
	}
	for i, d := range r.Details {
		dto.Details[i] = DiscrepancyDTO{
			Category:       string(d.Category),
			FiscalYearName: d.FiscalYearName,
			AllocatedValue: num(d.AllocatedValue),
			ImportedValue:  num(d.ImportedValue),
			Variance:       num(d.Variance),
			Message:        d.Message,
		}
	}
	return dto
}

func (req UpdateForecastRequest) toRecords() []forecast.InputRecord {
	out := make([]forecast.InputRecord, len(req.Records))
	for i, r := range req.Records {
		out[i] = forecast.InputRecord{
			EngagementCode: r.EngagementCode,
			Rank:           r.Rank,
			Hours:          dec(r.Hours),
		}
		if r.FiscalYearID != nil {
			fy := core.FiscalYearID(*r.FiscalYearID)
			out[i].FiscalYearID = &fy
		}
	}
	return out
}

func toForecastRowDTOs(rows []forecast.Row) []ForecastRowDTO {
	out := make([]ForecastRowDTO, len(rows))
	for i, r := range rows {
		out[i] = ForecastRowDTO{
			EngagementID:       int64(r.EngagementID),
			EngagementCode:     r.EngagementCode,
			EngagementName:     r.EngagementName,
			FiscalYearID:       int64(r.FiscalYearID),
			FiscalYearName:     r.FiscalYearName,
			Rank:               r.Rank,
			BudgetHours:        num(r.BudgetHours),
			ActualHours:        num(r.ActualHours),
			ForecastHours:      num(r.ForecastHours),
			AvailableHours:     num(r.AvailableHours),
			AvailableToActuals: num(r.AvailableToActuals),
			Status:             string(r.Status),
		}
	}
	return out
}

func toForecastUpdateDTO(r *forecast.UpdateResult) ForecastUpdateDTO {
	return ForecastUpdateDTO{
		ProcessedRecords:   r.ProcessedRecords,
		UpdatedEngagements: r.UpdatedEngagements,
		MissingEngagements: r.MissingEngagements,
		MissingBudgets:     r.MissingBudgets,
		UnknownRanks:       r.UnknownRanks,
		Rows:               toForecastRowDTOs(r.Rows),
		RiskCount:          r.RiskCount,
		OverrunCount:       r.OverrunCount,
	}
}

func toForecastSummaryDTOs(summaries []forecast.EngagementSummary) []ForecastSummaryDTO {
	out := make([]ForecastSummaryDTO, len(summaries))
	for i, s := range summaries {
		out[i] = ForecastSummaryDTO{
			EngagementID:       int64(s.EngagementID),
			EngagementCode:     s.EngagementCode,
			EngagementName:     s.EngagementName,
			InitialHoursBudget: num(s.InitialHoursBudget),
			ActualHours:        num(s.ActualHours),
			ForecastHours:      num(s.ForecastHours),
			RemainingHours:     num(s.RemainingHours),
			Utilization:        num(s.Utilization()),
			FiscalYearCount:    s.FiscalYearCount,
			RankCount:          s.RankCount,
			RiskCount:          s.RiskCount,
			OverrunCount:       s.OverrunCount,
			Status:             string(s.Status()),
		}
	}
	return out
}
