/*
ledger.go - Imported financial ledger ("Financial Evolution")

PURPOSE:
  The ledger is an independently imported source of truth. Each row holds,
  for one engagement and one closing period, the revenue and hours figures
  reported by the finance system. Allocation snapshots are cross-checked
  against it.

KEYING:
  Ledger rows reference their closing period through a string key
  (ClosingPeriodID.Key()), not the numeric id. The join is deliberately loose:
  importers may write keys for periods this system has never seen.

SINGULAR ROW:
  There is at most one row per (engagement, closing period key). Writers
  upsert it; they never append a second row.

SEE ALSO:
  - snapshot/discrepancy.go: Comparison against allocation totals
  - store.go: LedgerStore
*/
package core

import "github.com/shopspring/decimal"

// LedgerSnapshot holds imported figures for one (engagement, closing period).
// A nil figure was not imported and is never compared.
type LedgerSnapshot struct {
	ID               int64
	EngagementID     EngagementID
	ClosingPeriodKey string
	FiscalYearID     *FiscalYearID

	RevenueToDate   decimal.NullDecimal
	RevenueToGo     decimal.NullDecimal
	BudgetHours     decimal.NullDecimal
	ChargedHours    decimal.NullDecimal
	AdditionalHours decimal.NullDecimal
}

// NewLedgerSnapshot returns an empty ledger row for the scope.
func NewLedgerSnapshot(engagementID EngagementID, closingPeriodID ClosingPeriodID) LedgerSnapshot {
	return LedgerSnapshot{
		EngagementID:     engagementID,
		ClosingPeriodKey: closingPeriodID.Key(),
	}
}

// Known wraps a value as an imported figure.
func Known(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// =============================================================================
// DISCREPANCY REPORT
// =============================================================================

type DiscrepancyCategory string

const (
	CategoryRevenueToGo   DiscrepancyCategory = "Revenue To-Go"
	CategoryRevenueToDate DiscrepancyCategory = "Revenue To-Date"
	CategoryBudgetHours   DiscrepancyCategory = "Budget Hours"
	CategoryChargedHours  DiscrepancyCategory = "Charged Hours"
)

// IsRevenue reports whether the category compares revenue figures.
func (c DiscrepancyCategory) IsRevenue() bool {
	return c == CategoryRevenueToGo || c == CategoryRevenueToDate
}

// DiscrepancyDetail is one breached comparison.
// Variance is allocated minus imported.
type DiscrepancyDetail struct {
	Category       DiscrepancyCategory
	FiscalYearName string
	AllocatedValue decimal.Decimal
	ImportedValue  decimal.Decimal
	Variance       decimal.Decimal
	Message        string
}

// DiscrepancyReport lists breached comparisons in check order.
// An empty report means the allocations agree with the ledger.
type DiscrepancyReport struct {
	Details []DiscrepancyDetail
}

func (r DiscrepancyReport) HasDiscrepancies() bool { return len(r.Details) > 0 }

// Revenue returns the revenue details.
func (r DiscrepancyReport) Revenue() []DiscrepancyDetail {
	var out []DiscrepancyDetail
	for _, d := range r.Details {
		if d.Category.IsRevenue() {
			out = append(out, d)
		}
	}
	return out
}

// Hours returns the hours details.
func (r DiscrepancyReport) Hours() []DiscrepancyDetail {
	var out []DiscrepancyDetail
	for _, d := range r.Details {
		if !d.Category.IsRevenue() {
			out = append(out, d)
		}
	}
	return out
}
