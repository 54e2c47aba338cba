/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates engagements, a fiscal
	calendar, rank budgets and actuals that demonstrate specific features.

AVAILABLE SCENARIOS:

	baseline:        Two engagements over FY25 and FY26, quarterly closes
	locked-year:     FY25 closed with saved snapshots and a ledger mismatch
	forecast-risk:   Forecast import with Risk and Overrun rows
	calendar-drift:  Closing periods with gaps and overlaps to repair

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create fiscal years and closing periods
 3. Create engagements and their working rank budgets
 4. Add charged hours (actuals)
 5. Optionally run services (snapshots, ledger, forecast, lock)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "locked-year"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/forecast"
	"github.com/warp/allocation-engine/snapshot"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "baseline",
		Name:        "Baseline",
		Description: "Two engagements budgeted over FY25 and FY26 with quarterly closing periods",
		Category:    "allocation",
	},
	{
		ID:          "locked-year",
		Name:        "Locked Year",
		Description: "FY25 closed after its Q4 snapshots were saved; the ledger disagrees on revenue",
		Category:    "snapshot",
	},
	{
		ID:          "forecast-risk",
		Name:        "Forecast Risk",
		Description: "Forecast import with rows at risk, an overrun engagement and unknown codes",
		Category:    "forecast",
	},
	{
		ID:          "calendar-drift",
		Name:        "Calendar Drift",
		Description: "Closing periods with a gap, an overlap and a short year end",
		Category:    "calendar",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "baseline":
		load = func(ctx context.Context) error {
			_, err := h.loadBaselineScenario(ctx)
			return err
		}
	case "locked-year":
		load = h.loadLockedYearScenario
	case "forecast-risk":
		load = h.loadForecastRiskScenario
	case "calendar-drift":
		load = h.loadCalendarDriftScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%w: scenario %q", core.ErrInvalidInput, req.ScenarioID))
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.log.WithField("scenario", req.ScenarioID).Info("Scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// baseline is what the baseline loader created, for scenarios built on it.
type baseline struct {
	years   []*core.FiscalYear
	periods map[string]core.ClosingPeriodID
	audit   *core.Engagement
	tax     *core.Engagement
}

func (h *Handler) loadBaselineScenario(ctx context.Context) (*baseline, error) {
	b := &baseline{periods: make(map[string]core.ClosingPeriodID)}

	for _, startYear := range []int{2024, 2025} {
		fy, err := h.seedFiscalYear(ctx, startYear)
		if err != nil {
			return nil, err
		}
		b.years = append(b.years, fy)
		for _, cp := range quarters(fy) {
			if err := h.Store.SaveClosingPeriod(ctx, &cp); err != nil {
				return nil, err
			}
			b.periods[cp.Name] = cp.ID
		}
	}
	fy25, fy26 := b.years[0], b.years[1]

	var err error
	b.audit, err = h.seedEngagement(ctx, "ENG-1001", "Annual audit - Contoso", 1200, 700, 250000)
	if err != nil {
		return nil, err
	}
	b.tax, err = h.seedEngagement(ctx, "ENG-1002", "Tax advisory - Fabrikam", 400, 180, 60000)
	if err != nil {
		return nil, err
	}

	// rank -> [FY25 budget, FY25 consumed, FY26 budget]
	budgets := []struct {
		e     *core.Engagement
		rank  string
		hours [3]float64
	}{
		{b.audit, "Manager", [3]float64{120, 70, 80}},
		{b.audit, "Senior", [3]float64{300, 240, 200}},
		{b.audit, "Staff", [3]float64{300, 190, 200}},
		{b.tax, "Partner", [3]float64{20, 18, 10}},
		{b.tax, "Senior", [3]float64{150, 160, 100}},
	}
	var rows []core.RankBudget
	for _, bb := range budgets {
		rows = append(rows,
			workingCell(bb.e.ID, fy25.ID, bb.rank, bb.hours[0], bb.hours[1]),
			workingCell(bb.e.ID, fy26.ID, bb.rank, bb.hours[2], 0),
		)
	}
	if err := h.Store.InsertRankBudgets(ctx, rows); err != nil {
		return nil, err
	}

	entries := []core.ActualsEntry{
		{EngagementID: b.audit.ID, Date: core.NewDate(2024, time.September, 30), Hours: hours(220)},
		{EngagementID: b.audit.ID, Date: core.NewDate(2024, time.December, 31), Hours: hours(180)},
		{EngagementID: b.audit.ID, Date: core.NewDate(2025, time.March, 31), Hours: hours(100)},
		{EngagementID: b.tax.ID, Date: core.NewDate(2024, time.November, 15), Hours: hours(178)},
	}
	if err := h.Store.InsertActuals(ctx, entries); err != nil {
		return nil, err
	}
	return b, nil
}

func (h *Handler) loadLockedYearScenario(ctx context.Context) error {
	b, err := h.loadBaselineScenario(ctx)
	if err != nil {
		return err
	}
	fy25, fy26 := b.years[0], b.years[1]
	scope := snapshot.Scope{EngagementID: b.audit.ID, ClosingPeriodID: b.periods["FY25 Q4"]}

	revenue := []core.RevenueAllocation{
		{FiscalYearID: fy25.ID, ToDateValue: hours(150000), ToGoValue: hours(0)},
		{FiscalYearID: fy26.ID, ToDateValue: hours(0), ToGoValue: hours(100000)},
	}
	if err := h.Snapshots.SaveRevenue(ctx, scope, revenue); err != nil {
		return err
	}

	snap, err := h.Allocation.GetAllocation(ctx, b.audit.ID)
	if err != nil {
		return err
	}
	var hoursRows []core.RankBudget
	for _, row := range snap.Rows {
		for _, c := range row.Cells {
			hoursRows = append(hoursRows, core.RankBudget{
				FiscalYearID:  c.FiscalYearID,
				RankName:      row.RankName,
				BudgetHours:   c.BudgetHours,
				ConsumedHours: c.ConsumedHours,
			})
		}
	}
	if err := h.Snapshots.SaveHours(ctx, scope, hoursRows); err != nil {
		return err
	}

	// The finance import booked 5,000 more revenue to go than allocated.
	ledger := core.NewLedgerSnapshot(b.audit.ID, scope.ClosingPeriodID)
	ledger.RevenueToGo = core.Known(hours(105000))
	ledger.ChargedHours = core.Known(hours(500))
	if _, err := h.Snapshots.RecordLedger(ctx, ledger); err != nil {
		return err
	}

	_, err = h.Calendar.LockFiscalYear(ctx, fy25.ID, "controller@example.com")
	return err
}

func (h *Handler) loadForecastRiskScenario(ctx context.Context) error {
	b, err := h.loadBaselineScenario(ctx)
	if err != nil {
		return err
	}
	fy25, fy26 := b.years[0].ID, b.years[1].ID

	// The tax engagement is already past its initial budget.
	if err := h.Store.InsertActuals(ctx, []core.ActualsEntry{
		{EngagementID: b.tax.ID, Date: core.NewDate(2025, time.February, 3), Hours: hours(260)},
	}); err != nil {
		return err
	}

	records := []forecast.InputRecord{
		{EngagementCode: "ENG-1001", Rank: "Manager", FiscalYearID: &fy26, Hours: hours(60)},
		{EngagementCode: "ENG-1001", Rank: "Senior", FiscalYearID: &fy26, Hours: hours(180)},
		{EngagementCode: "ENG-1001", Rank: "Senior", FiscalYearID: &fy25, Hours: hours(90)},
		{EngagementCode: "ENG-1001", Rank: "Staff", FiscalYearID: &fy26, Hours: hours(150)},
		{EngagementCode: "eng-1001", Rank: "Director", FiscalYearID: &fy26, Hours: hours(25)},
		{EngagementCode: "ENG-1002", Rank: "Senior", FiscalYearID: &fy26, Hours: hours(40)},
		{EngagementCode: "ENG-9999", Rank: "Senior", FiscalYearID: &fy26, Hours: hours(10)},
	}
	_, err = h.Forecast.UpdateForecast(ctx, records)
	return err
}

func (h *Handler) loadCalendarDriftScenario(ctx context.Context) error {
	fy25, err := h.seedFiscalYear(ctx, 2024)
	if err != nil {
		return err
	}
	if _, err := h.seedFiscalYear(ctx, 2025); err != nil {
		return err
	}

	periods := []core.ClosingPeriod{
		{Name: "FY25 Q1", PeriodStart: core.NewDate(2024, time.July, 1), PeriodEnd: core.NewDate(2024, time.September, 30)},
		// Starts two weeks late
		{Name: "FY25 Q2", PeriodStart: core.NewDate(2024, time.October, 15), PeriodEnd: core.NewDate(2024, time.December, 31)},
		// Overlaps Q2
		{Name: "FY25 Q3", PeriodStart: core.NewDate(2024, time.December, 20), PeriodEnd: core.NewDate(2025, time.March, 31)},
		// Stops before the year end
		{Name: "FY25 Q4", PeriodStart: core.NewDate(2025, time.April, 1), PeriodEnd: core.NewDate(2025, time.June, 15)},
	}
	for _, cp := range periods {
		cp.FiscalYearID = fy25.ID
		if err := h.Store.SaveClosingPeriod(ctx, &cp); err != nil {
			return err
		}
	}

	_, err = h.seedEngagement(ctx, "ENG-2001", "Internal controls review - Northwind", 300, 300, 45000)
	return err
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedFiscalYear creates FY(startYear+1), running July 1 to June 30.
func (h *Handler) seedFiscalYear(ctx context.Context, startYear int) (*core.FiscalYear, error) {
	fy := &core.FiscalYear{
		Name:      fmt.Sprintf("FY%02d", (startYear+1)%100),
		StartDate: core.NewDate(startYear, time.July, 1),
		EndDate:   core.NewDate(startYear+1, time.June, 30),
	}
	if err := h.Store.SaveFiscalYear(ctx, fy); err != nil {
		return nil, err
	}
	return fy, nil
}

// quarters tiles a fiscal year with four closing periods.
func quarters(fy *core.FiscalYear) []core.ClosingPeriod {
	out := make([]core.ClosingPeriod, 0, 4)
	start := fy.StartDate
	for q := 1; q <= 4; q++ {
		next := core.DateOf(start.Time.AddDate(0, 3, 0))
		out = append(out, core.ClosingPeriod{
			Name:         fmt.Sprintf("%s Q%d", fy.Name, q),
			PeriodStart:  start,
			PeriodEnd:    next.AddDays(-1),
			FiscalYearID: fy.ID,
		})
		start = next
	}
	return out
}

func (h *Handler) seedEngagement(ctx context.Context, code, description string, initial, etc, value float64) (*core.Engagement, error) {
	e := &core.Engagement{
		Code:                     code,
		Description:              description,
		InitialHoursBudget:       hours(initial),
		EstimatedToCompleteHours: hours(etc),
		ValueToAllocate:          hours(value),
	}
	if err := h.Store.SaveEngagement(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func workingCell(engagementID core.EngagementID, fiscalYearID core.FiscalYearID, rank string, budget, consumed float64) core.RankBudget {
	b := core.RankBudget{
		EngagementID:  engagementID,
		FiscalYearID:  fiscalYearID,
		RankName:      rank,
		BudgetHours:   hours(budget),
		ConsumedHours: hours(consumed),
	}
	b.RemainingHours = b.Remaining()
	b.Status = b.CellStatus()
	return b
}

func hours(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
