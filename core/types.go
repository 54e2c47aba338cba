/*
Package core provides the shared data model for the allocation engine.

PURPOSE:
  Every service (calendar checker, hours allocation, snapshot manager,
  forecast reconciler) works on the same rows: engagements, fiscal years,
  closing periods, rank budgets, revenue allocations, the imported ledger
  and forecast records. This package owns those types, the decimal helpers
  used to compare them, the error taxonomy and the store interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: EngagementID, FiscalYearID, ClosingPeriodID, BudgetID
  - Hours/values: decimal.Decimal at full precision
  - Round2 / WithinTolerance: the only places precision is reduced

PRECISION:
  Values are stored unrounded. Rounding (2 decimals, half away from zero)
  happens at presentation and comparison boundaries only. Comparisons use
  an absolute tolerance of 0.01.

SEE ALSO:
  - model.go: Row types
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
*/
package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EngagementID int64
type FiscalYearID int64
type ClosingPeriodID int64
type BudgetID int64

// Key returns the string form used by the ledger to reference a closing period.
// The ledger joins on this string rather than the numeric id.
func (id ClosingPeriodID) Key() string { return strconv.FormatInt(int64(id), 10) }

func (id EngagementID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id FiscalYearID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id ClosingPeriodID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id BudgetID) String() string        { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// Tolerance is the absolute difference under which two figures are equal.
var Tolerance = decimal.New(1, -2)

// Round2 rounds to two decimals, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// WithinTolerance reports whether |a-b| <= 0.01.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Exceeds reports whether a > b + 0.01.
func Exceeds(a, b decimal.Decimal) bool {
	return a.GreaterThan(b.Add(Tolerance))
}

// Sum adds up the values returned by fn for every item.
func Sum[T any](items []T, fn func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(fn(it))
	}
	return total
}

// =============================================================================
// NAMES
// =============================================================================

// UnspecifiedRank replaces blank rank names in forecast submissions.
const UnspecifiedRank = "Unspecified"

// FoldKey returns the case-insensitive identity of a rank name or engagement code.
// A Caser is stateful, so each call builds its own.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// SameName compares two names ignoring case and surrounding whitespace.
func SameName(a, b string) bool { return FoldKey(a) == FoldKey(b) }

// NormalizeRank trims a rank name.
func NormalizeRank(s string) string { return strings.TrimSpace(s) }
