package forecast

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// Status classifies a forecast row.
type Status string

const (
	StatusOK      Status = "OK"
	StatusRisk    Status = "Risk"
	StatusOverrun Status = "Overrun"
)

// Row is the derived forecast view of one (engagement, fiscal year, rank).
type Row struct {
	EngagementID   core.EngagementID
	EngagementCode string
	EngagementName string
	FiscalYearID   core.FiscalYearID
	FiscalYearName string
	Rank           string

	BudgetHours   decimal.Decimal
	ActualHours   decimal.Decimal // charged in this fiscal year
	ForecastHours decimal.Decimal
	// AvailableHours is budget minus forecast.
	AvailableHours decimal.Decimal
	// AvailableToActuals is the initial engagement budget minus all actuals.
	AvailableToActuals decimal.Decimal
	Status             Status

	// Engagement-wide figures, identical on every row of the engagement.
	InitialHoursBudget decimal.Decimal
	TotalActualHours   decimal.Decimal
}

type yearKey struct {
	engagement core.EngagementID
	fiscalYear core.FiscalYearID
}

// actuals buckets charged hours by the fiscal year containing their date.
// Entries outside every fiscal year are ignored.
type actuals struct {
	byYear       map[yearKey]decimal.Decimal
	byEngagement map[core.EngagementID]decimal.Decimal
}

func bucketActuals(entries []core.ActualsEntry, years []core.FiscalYear) actuals {
	a := actuals{
		byYear:       make(map[yearKey]decimal.Decimal),
		byEngagement: make(map[core.EngagementID]decimal.Decimal),
	}
	for _, e := range entries {
		for _, fy := range years {
			if !fy.Period().Contains(e.Date) {
				continue
			}
			key := yearKey{engagement: e.EngagementID, fiscalYear: fy.ID}
			a.byYear[key] = a.byYear[key].Add(e.Hours)
			a.byEngagement[e.EngagementID] = a.byEngagement[e.EngagementID].Add(e.Hours)
			break
		}
	}
	return a
}

// buildRows derives the rows of stored forecast records. Records whose
// engagement or fiscal year no longer exists are skipped with a warning.
func (r *Reconciler) buildRows(ctx context.Context, st core.Store, records []core.ForecastRecord,
	engagements map[core.EngagementID]core.Engagement, years []core.FiscalYear) ([]Row, error) {
	ids := make([]core.EngagementID, 0, len(engagements))
	seen := make(map[core.EngagementID]bool)
	for _, rec := range records {
		if !seen[rec.EngagementID] {
			seen[rec.EngagementID] = true
			ids = append(ids, rec.EngagementID)
		}
	}

	budgets, err := st.ListWorkingBudgets(ctx, ids...)
	if err != nil {
		return nil, err
	}
	budgetHours := make(map[aggregateKey]decimal.Decimal, len(budgets))
	for _, b := range budgets {
		key := aggregateKey{engagement: b.EngagementID, fiscalYear: b.FiscalYearID, rank: core.FoldKey(b.RankName)}
		budgetHours[key] = budgetHours[key].Add(b.BudgetHours)
	}

	entries, err := st.ListActuals(ctx, ids)
	if err != nil {
		return nil, err
	}
	charged := bucketActuals(entries, years)

	yearByID := make(map[core.FiscalYearID]core.FiscalYear, len(years))
	for _, fy := range years {
		yearByID[fy.ID] = fy
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		e, ok := engagements[rec.EngagementID]
		if !ok {
			r.log.WithField("engagement_id", rec.EngagementID).
				Warn("Skipping forecast row because the engagement is missing")
			continue
		}
		fy, ok := yearByID[rec.FiscalYearID]
		if !ok {
			r.log.WithFields(logrus.Fields{"engagement": e.Code, "fiscal_year_id": rec.FiscalYearID}).
				Warn("Skipping forecast row because the fiscal year is missing")
			continue
		}

		rank := normalizeRank(rec.RankName)
		budget := budgetHours[aggregateKey{engagement: e.ID, fiscalYear: fy.ID, rank: core.FoldKey(rank)}]
		totalActuals := charged.byEngagement[e.ID]
		row := Row{
			EngagementID:       e.ID,
			EngagementCode:     e.Code,
			EngagementName:     e.Description,
			FiscalYearID:       fy.ID,
			FiscalYearName:     fy.Name,
			Rank:               rank,
			BudgetHours:        budget,
			ActualHours:        charged.byYear[yearKey{engagement: e.ID, fiscalYear: fy.ID}],
			ForecastHours:      rec.ForecastHours,
			AvailableHours:     budget.Sub(rec.ForecastHours),
			AvailableToActuals: e.InitialHoursBudget.Sub(totalActuals),
			InitialHoursBudget: e.InitialHoursBudget,
			TotalActualHours:   totalActuals,
		}
		row.Status = r.evaluate(e, row, totalActuals)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ka, kb := core.FoldKey(a.EngagementCode), core.FoldKey(b.EngagementCode); ka != kb {
			return ka < kb
		}
		if a.FiscalYearID != b.FiscalYearID {
			return a.FiscalYearID < b.FiscalYearID
		}
		return core.FoldKey(a.Rank) < core.FoldKey(b.Rank)
	})
	return rows, nil
}

func (r *Reconciler) evaluate(e core.Engagement, row Row, totalActuals decimal.Decimal) Status {
	fields := logrus.Fields{"engagement": e.Code, "rank": row.Rank, "fiscal_year": row.FiscalYearName}
	if core.Exceeds(totalActuals, e.InitialHoursBudget) {
		r.log.WithFields(fields).Warn("Actual hours exceed the initial budget")
		return StatusOverrun
	}
	if core.Exceeds(row.ForecastHours, row.BudgetHours) || core.Exceeds(row.ForecastHours, row.AvailableToActuals) {
		r.log.WithFields(fields).Warn("Forecast hours exceed available hours")
		return StatusRisk
	}
	return StatusOK
}

func countStatuses(rows []Row) (risk, overrun int) {
	for _, row := range rows {
		switch row.Status {
		case StatusRisk:
			risk++
		case StatusOverrun:
			overrun++
		}
	}
	return risk, overrun
}

// =============================================================================
// ENGAGEMENT SUMMARY
// =============================================================================

// EngagementSummary rolls the rows of one engagement up. Budget and actuals
// cover the whole engagement, including years without forecast rows.
type EngagementSummary struct {
	EngagementID       core.EngagementID
	EngagementCode     string
	EngagementName     string
	InitialHoursBudget decimal.Decimal
	ActualHours        decimal.Decimal
	ForecastHours      decimal.Decimal
	// RemainingHours is initial budget minus actuals and forecast.
	RemainingHours  decimal.Decimal
	FiscalYearCount int
	RankCount       int
	RiskCount       int
	OverrunCount    int
}

// Utilization is (actuals + forecast) / initial budget, rounded to 4
// decimals. Zero when there is no budget.
func (s EngagementSummary) Utilization() decimal.Decimal {
	if s.InitialHoursBudget.IsZero() {
		return decimal.Zero
	}
	return s.ActualHours.Add(s.ForecastHours).Div(s.InitialHoursBudget).Round(4)
}

// Status is the worst status among the engagement's rows.
func (s EngagementSummary) Status() Status {
	switch {
	case s.OverrunCount > 0:
		return StatusOverrun
	case s.RiskCount > 0:
		return StatusRisk
	}
	return StatusOK
}

// Summarize returns one summary per engagement, in row order.
func Summarize(rows []Row) []EngagementSummary {
	type acc struct {
		summary EngagementSummary
		years   map[core.FiscalYearID]bool
		ranks   map[string]bool
	}
	var order []core.EngagementID
	byID := make(map[core.EngagementID]*acc)

	for _, row := range rows {
		a, ok := byID[row.EngagementID]
		if !ok {
			a = &acc{
				summary: EngagementSummary{
					EngagementID:       row.EngagementID,
					EngagementCode:     row.EngagementCode,
					EngagementName:     row.EngagementName,
					InitialHoursBudget: row.InitialHoursBudget,
					ActualHours:        row.TotalActualHours,
				},
				years: make(map[core.FiscalYearID]bool),
				ranks: make(map[string]bool),
			}
			byID[row.EngagementID] = a
			order = append(order, row.EngagementID)
		}
		a.years[row.FiscalYearID] = true
		a.ranks[core.FoldKey(row.Rank)] = true
		a.summary.ForecastHours = a.summary.ForecastHours.Add(row.ForecastHours)
		switch row.Status {
		case StatusRisk:
			a.summary.RiskCount++
		case StatusOverrun:
			a.summary.OverrunCount++
		}
	}

	out := make([]EngagementSummary, 0, len(order))
	for _, id := range order {
		a := byID[id]
		s := a.summary
		s.RemainingHours = s.InitialHoursBudget.Sub(s.ActualHours.Add(s.ForecastHours))
		s.FiscalYearCount = len(a.years)
		s.RankCount = len(a.ranks)
		out = append(out, s)
	}
	return out
}
