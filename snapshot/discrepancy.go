package snapshot

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/warp/allocation-engine/core"
)

// noFiscalYear names the fiscal year of a ledger row that references none.
const noFiscalYear = "N/A"

// DetectDiscrepancies compares the scope's snapshot totals with the ledger.
// Without a ledger row the report is empty. Figures the ledger does not hold
// are not compared. A detail is produced when |allocated - imported| > 0.01.
func (m *Manager) DetectDiscrepancies(ctx context.Context, scope Scope) (core.DiscrepancyReport, error) {
	var report core.DiscrepancyReport

	ledger, err := m.store.GetLedgerSnapshot(ctx, scope.EngagementID, scope.ClosingPeriodID.Key())
	if err != nil {
		return report, err
	}
	if ledger == nil {
		return report, nil
	}

	yearName := noFiscalYear
	if ledger.FiscalYearID != nil {
		fy, err := m.store.GetFiscalYear(ctx, *ledger.FiscalYearID)
		if err != nil {
			return report, err
		}
		if fy != nil {
			yearName = fy.Name
		}
	}

	revenue, err := m.store.ListRevenueAllocations(ctx, scope.EngagementID, scope.ClosingPeriodID)
	if err != nil {
		return report, err
	}
	hours, err := m.store.ListSnapshotBudgets(ctx, scope.EngagementID, scope.ClosingPeriodID)
	if err != nil {
		return report, err
	}

	checks := []struct {
		category  core.DiscrepancyCategory
		allocated decimal.Decimal
		imported  decimal.NullDecimal
		message   string
	}{
		{
			category:  core.CategoryRevenueToGo,
			allocated: core.Sum(revenue, func(r core.RevenueAllocation) decimal.Decimal { return r.ToGoValue }),
			imported:  ledger.RevenueToGo,
			message:   "Revenue To-Go allocation (%v) differs from imported value (%v).",
		},
		{
			category:  core.CategoryRevenueToDate,
			allocated: core.Sum(revenue, func(r core.RevenueAllocation) decimal.Decimal { return r.ToDateValue }),
			imported:  ledger.RevenueToDate,
			message:   "Revenue To-Date allocation (%v) differs from imported value (%v).",
		},
		{
			category:  core.CategoryBudgetHours,
			allocated: core.Sum(hours, func(b core.RankBudget) decimal.Decimal { return b.BudgetHours }),
			imported:  ledger.BudgetHours,
			message:   "Total budget hours (%v) differ from imported value (%v).",
		},
		{
			category:  core.CategoryChargedHours,
			allocated: core.Sum(hours, func(b core.RankBudget) decimal.Decimal { return b.ConsumedHours }),
			imported:  ledger.ChargedHours,
			message:   "Total consumed hours (%v) differ from imported value (%v).",
		},
	}

	p := message.NewPrinter(language.English)
	for _, c := range checks {
		if !c.imported.Valid || core.WithinTolerance(c.allocated, c.imported.Decimal) {
			continue
		}
		report.Details = append(report.Details, core.DiscrepancyDetail{
			Category:       c.category,
			FiscalYearName: yearName,
			AllocatedValue: c.allocated,
			ImportedValue:  c.imported.Decimal,
			Variance:       c.allocated.Sub(c.imported.Decimal),
			Message:        p.Sprintf(c.message, n2(c.allocated), n2(c.imported.Decimal)),
		})
	}

	if report.HasDiscrepancies() {
		m.log.WithFields(scope.fields()).WithFields(logrus.Fields{
			"revenue": len(report.Revenue()),
			"hours":   len(report.Hours()),
		}).Warn("Allocation totals differ from ledger")
	}
	return report, nil
}

// n2 formats a value with two decimals and thousands separators.
func n2(d decimal.Decimal) number.Formatter {
	return number.Decimal(core.Round2(d).InexactFloat64(), number.Scale(2))
}
