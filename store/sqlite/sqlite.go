/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements core.TxStore (calendar, budgets, revenue, ledger, forecasts,
  actuals) on SQLite through sqlx. Row structs carry db tags; decimals are
  stored as TEXT through decimal.Decimal's Valuer/Scanner so no precision is
  lost; dates are stored as YYYY-MM-DD text.

KEY TABLES:
  engagements:          Engagement master data (code unique, NOCASE)
  fiscal_years:         Fiscal years and their lock flag
  closing_periods:      Closing periods (fiscal_year_id, no FK: the calendar
                        checker repairs dangling references)
  rank_budgets:         Working matrix (closing_period_id NULL) and hours snapshots
  revenue_allocations:  Revenue snapshots
  ledger_snapshots:     Imported ledger, UNIQUE(engagement_id, closing_period_key)
  forecast_records:     Forecast per engagement/fiscal year/rank
  actuals_entries:      Hours charged per date

INDEXES:
  - idx_rank_budgets_working: one working cell per engagement/fiscal year/rank
  - idx_rank_budgets_scope:   snapshot replace (engagement, closing period)
  - idx_revenue_scope:        snapshot replace (engagement, closing period)

CONCURRENCY:
  The DSN sets _txlock=immediate: BEGIN takes the database write lock, so a
  lock flag read inside WithTx cannot change before commit. WithTx also
  serializes writers in-process with a mutex. Reads go through the pool and
  hold no locks (WAL mode).

USAGE:
  store, err := sqlite.New("./data/allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - core/store.go: Interface definitions
  - queries.go: Per-table statements shared by Store and the tx view
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/allocation-engine/core"
)

// Store implements core.TxStore using SQLite.
type Store struct {
	*queries

	db *sqlx.DB
	mu sync.Mutex
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: &queries{ext: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS engagements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL COLLATE NOCASE UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		initial_hours_budget TEXT NOT NULL DEFAULT '0',
		estimated_to_complete_hours TEXT NOT NULL DEFAULT '0',
		value_to_allocate TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS fiscal_years (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		locked_at TEXT,
		locked_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_fiscal_years_start
		ON fiscal_years(start_date);

	CREATE TABLE IF NOT EXISTS closing_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		fiscal_year_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_closing_periods_fiscal_year
		ON closing_periods(fiscal_year_id, period_start);
	CREATE INDEX IF NOT EXISTS idx_closing_periods_end
		ON closing_periods(period_end);

	CREATE TABLE IF NOT EXISTS rank_budgets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL REFERENCES engagements(id),
		fiscal_year_id INTEGER NOT NULL REFERENCES fiscal_years(id),
		closing_period_id INTEGER,
		rank_name TEXT NOT NULL COLLATE NOCASE,
		budget_hours TEXT NOT NULL DEFAULT '0',
		consumed_hours TEXT NOT NULL DEFAULT '0',
		additional_hours TEXT NOT NULL DEFAULT '0',
		forecast_hours TEXT NOT NULL DEFAULT '0',
		remaining_hours TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'Green',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One working cell per engagement, fiscal year and rank.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rank_budgets_working
		ON rank_budgets(engagement_id, fiscal_year_id, rank_name)
		WHERE closing_period_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_rank_budgets_scope
		ON rank_budgets(engagement_id, closing_period_id);

	CREATE TABLE IF NOT EXISTS revenue_allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL REFERENCES engagements(id),
		fiscal_year_id INTEGER NOT NULL REFERENCES fiscal_years(id),
		closing_period_id INTEGER NOT NULL,
		to_date_value TEXT NOT NULL DEFAULT '0',
		to_go_value TEXT NOT NULL DEFAULT '0',
		last_update_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revenue_scope
		ON revenue_allocations(engagement_id, closing_period_id);

	CREATE TABLE IF NOT EXISTS ledger_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL REFERENCES engagements(id),
		closing_period_key TEXT NOT NULL,
		fiscal_year_id INTEGER,
		revenue_to_date TEXT,
		revenue_to_go TEXT,
		budget_hours TEXT,
		charged_hours TEXT,
		additional_hours TEXT,
		UNIQUE(engagement_id, closing_period_key)
	);

	CREATE TABLE IF NOT EXISTS forecast_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL REFERENCES engagements(id),
		fiscal_year_id INTEGER NOT NULL,
		rank_name TEXT NOT NULL,
		forecast_hours TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_records_engagement
		ON forecast_records(engagement_id);

	CREATE TABLE IF NOT EXISTS actuals_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL REFERENCES engagements(id),
		date TEXT NOT NULL,
		hours TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_actuals_engagement_date
		ON actuals_entries(engagement_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset clears every table inside one transaction. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"actuals_entries", "forecast_records", "ledger_snapshots",
		"revenue_allocations", "rank_budgets", "closing_periods",
		"fiscal_years", "engagements",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDate(s string) (core.Date, error) {
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return d, nil
}

func int64s[T ~int64](ids []T) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
