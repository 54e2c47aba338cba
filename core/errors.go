/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Services wrap these with the engagement, fiscal year or rank involved so
  callers can act on a message without re-querying.

ERROR CATEGORIES:
  1. Business-rule violations - locked fiscal year, duplicate rank, ...
     Checked before any mutation; state is never touched.
  2. Reference integrity - unknown engagement, closing period, budget id.
     Fails the whole operation atomically.
  3. Store errors - wrapped with %w, never one of the sentinels below.

Partial-import anomalies (missing engagements/budgets during forecast
reconciliation) are NOT errors. They are returned as report lists.

USAGE:
  if errors.Is(err, core.ErrFiscalYearLocked) {
      var locked *core.LockedError
      errors.As(err, &locked) // locked.FiscalYears names the years
  }

SEE ALSO:
  - lock.go: Produces LockedError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFiscalYearLocked is returned when a mutation touches a locked fiscal year.
	ErrFiscalYearLocked = errors.New("fiscal year is locked")

	// ErrDuplicateRank is returned when adding a rank the engagement already has.
	ErrDuplicateRank = errors.New("rank already registered")

	// ErrNoOpenFiscalYears is returned when a rank cannot be created because
	// every fiscal year is locked.
	ErrNoOpenFiscalYears = errors.New("no open fiscal years")

	// ErrRankNotEmpty is returned when deleting a rank that still carries hours.
	ErrRankNotEmpty = errors.New("rank has non-zero budget or consumed hours")

	// ErrInvalidInput is returned for malformed caller input (blank rank, ...).
	ErrInvalidInput = errors.New("invalid input")

	ErrEngagementNotFound    = errors.New("engagement not found")
	ErrFiscalYearNotFound    = errors.New("fiscal year not found")
	ErrClosingPeriodNotFound = errors.New("closing period not found")
	ErrBudgetNotFound        = errors.New("allocation budget not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LockedError names the locked fiscal years that blocked an action.
type LockedError struct {
	Action      string
	FiscalYears []FiscalYear
}

func (e *LockedError) Error() string {
	names := make([]string, len(e.FiscalYears))
	for i, fy := range e.FiscalYears {
		names[i] = fy.Label()
	}
	return fmt.Sprintf("cannot %s because fiscal year(s) %s are locked", e.Action, strings.Join(names, ", "))
}

func (e *LockedError) Unwrap() error { return ErrFiscalYearLocked }

// RankError ties a rank failure to its engagement.
type RankError struct {
	EngagementCode string
	Rank           string
	Err            error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("engagement %s, rank '%s': %v", e.EngagementCode, e.Rank, e.Err)
}

func (e *RankError) Unwrap() error { return e.Err }

// BudgetReferenceError reports a budget id that does not belong to the engagement.
type BudgetReferenceError struct {
	EngagementCode string
	BudgetID       BudgetID
}

func (e *BudgetReferenceError) Error() string {
	return fmt.Sprintf("allocation budget %d could not be found for engagement %s", e.BudgetID, e.EngagementCode)
}

func (e *BudgetReferenceError) Unwrap() error { return ErrBudgetNotFound }

// NotFoundError wraps a not-found sentinel with the id that was looked up.
type NotFoundError struct {
	Kind error
	ID   int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%v: %d", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return e.Kind }

func EngagementNotFound(id EngagementID) error {
	return &NotFoundError{Kind: ErrEngagementNotFound, ID: int64(id)}
}

func FiscalYearNotFound(id FiscalYearID) error {
	return &NotFoundError{Kind: ErrFiscalYearNotFound, ID: int64(id)}
}

func ClosingPeriodNotFound(id ClosingPeriodID) error {
	return &NotFoundError{Kind: ErrClosingPeriodNotFound, ID: int64(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a business-rule violation the
// caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFiscalYearLocked) ||
		errors.Is(err, ErrDuplicateRank) ||
		errors.Is(err, ErrNoOpenFiscalYears) ||
		errors.Is(err, ErrRankNotEmpty) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrBudgetNotFound)
}

// IsConflict returns true for violations caused by existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrFiscalYearLocked) ||
		errors.Is(err, ErrDuplicateRank) ||
		errors.Is(err, ErrRankNotEmpty)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEngagementNotFound) ||
		errors.Is(err, ErrFiscalYearNotFound) ||
		errors.Is(err, ErrClosingPeriodNotFound)
}
