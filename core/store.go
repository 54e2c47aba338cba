/*
store.go - Persistence interfaces

PURPOSE:
  Defines the interface between the services and the database. Services only
  depend on these interfaces; store/sqlite implements them.

KEY INTERFACES:
  CalendarStore:   Engagements, fiscal years, closing periods
  BudgetStore:     Rank budgets (working matrix and hours snapshots)
  RevenueStore:    Revenue allocation snapshots
  LedgerStore:     Imported ledger rows (get / upsert)
  ForecastStore:   Forecast records and actuals
  TxStore:         All of the above plus WithTx for atomic operations

NOT-FOUND CONVENTION:
  Get* methods return (nil, nil) when the row does not exist. Callers turn
  that into the matching core.Err*NotFound with the id they looked up.

ATOMIC OPERATIONS:
  Every mutating service operation runs inside WithTx. The Store passed to
  fn is bound to the transaction: all reads and writes made through it
  commit together or not at all. Do not use the outer store inside fn.

SEE ALSO:
  - lock.go: Lock guard executed inside WithTx
  - store/sqlite/sqlite.go: Concrete implementation
*/
package core

import "context"

// CalendarStore handles engagements, fiscal years and closing periods.
type CalendarStore interface {
	SaveEngagement(ctx context.Context, e *Engagement) error
	GetEngagement(ctx context.Context, id EngagementID) (*Engagement, error)
	ListEngagements(ctx context.Context) ([]Engagement, error)
	// FindEngagementsByCode matches codes ignoring case.
	FindEngagementsByCode(ctx context.Context, codes []string) ([]Engagement, error)

	SaveFiscalYear(ctx context.Context, fy *FiscalYear) error
	GetFiscalYear(ctx context.Context, id FiscalYearID) (*FiscalYear, error)
	// ListFiscalYears returns fiscal years by start date, each with its
	// closing periods ordered by start date.
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	// FiscalYearsByID returns the rows that exist among ids.
	FiscalYearsByID(ctx context.Context, ids []FiscalYearID) ([]FiscalYear, error)

	SaveClosingPeriod(ctx context.Context, cp *ClosingPeriod) error
	GetClosingPeriod(ctx context.Context, id ClosingPeriodID) (*ClosingPeriod, error)
	ListClosingPeriods(ctx context.Context) ([]ClosingPeriod, error)
}

// BudgetStore handles rank budgets.
type BudgetStore interface {
	// ListWorkingBudgets returns working-matrix rows (no closing period) for
	// the engagements.
	ListWorkingBudgets(ctx context.Context, engagementIDs ...EngagementID) ([]RankBudget, error)
	// ListSnapshotBudgets returns the hours snapshot of one closing period.
	ListSnapshotBudgets(ctx context.Context, engagementID EngagementID, closingPeriodID ClosingPeriodID) ([]RankBudget, error)
	InsertRankBudgets(ctx context.Context, budgets []RankBudget) error
	UpdateRankBudget(ctx context.Context, b RankBudget) error
	DeleteRankBudgets(ctx context.Context, ids []BudgetID) error
	DeleteSnapshotBudgets(ctx context.Context, engagementID EngagementID, closingPeriodID ClosingPeriodID) error
}

// RevenueStore handles revenue snapshots.
type RevenueStore interface {
	ListRevenueAllocations(ctx context.Context, engagementID EngagementID, closingPeriodID ClosingPeriodID) ([]RevenueAllocation, error)
	InsertRevenueAllocations(ctx context.Context, rows []RevenueAllocation) error
	DeleteRevenueAllocations(ctx context.Context, engagementID EngagementID, closingPeriodID ClosingPeriodID) error
}

// LedgerStore handles the imported ledger.
type LedgerStore interface {
	GetLedgerSnapshot(ctx context.Context, engagementID EngagementID, closingPeriodKey string) (*LedgerSnapshot, error)
	// UpsertLedgerSnapshot inserts or replaces the row for
	// (EngagementID, ClosingPeriodKey).
	UpsertLedgerSnapshot(ctx context.Context, l *LedgerSnapshot) error
}

// ForecastStore handles forecast records and actuals.
type ForecastStore interface {
	// ListForecastRecords returns records of the engagements, or all when none given.
	ListForecastRecords(ctx context.Context, engagementIDs ...EngagementID) ([]ForecastRecord, error)
	InsertForecastRecords(ctx context.Context, records []ForecastRecord) error
	DeleteForecastRecords(ctx context.Context, engagementIDs []EngagementID) error

	InsertActuals(ctx context.Context, entries []ActualsEntry) error
	ListActuals(ctx context.Context, engagementIDs []EngagementID) ([]ActualsEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	CalendarStore
	BudgetStore
	RevenueStore
	LedgerStore
	ForecastStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
