/*
Package snapshot manages per-closing-period allocation snapshots.

PURPOSE:
  At each closing period an engagement's revenue and hours allocations are
  frozen into a snapshot: the full set of rows for the (engagement, closing
  period) scope. This package reads snapshots, clones the most recent prior
  snapshot forward, saves snapshots and keeps the imported ledger in sync.

SNAPSHOT KINDS:
  Revenue: one core.RevenueAllocation per fiscal year (to-date / to-go)
  Hours:   core.RankBudget rows carrying the closing period id

REPLACE, NOT MERGE:
  Saving deletes every stored row of the scope and inserts the given rows.
  After a save the stored set equals the input set exactly. The ledger row
  of the scope is then get-or-created and its sums refreshed, in the same
  transaction.

CLONE-FORWARD:
  The previous period is the closing period, in any fiscal year, with the
  latest end date strictly before the target's end. Cloned rows are values
  stamped with the target scope and are NOT saved. With no previous period,
  revenue seeds one zero row per fiscal year; hours clone to an empty set.

SEE ALSO:
  - save.go: Save and ledger synchronization
  - discrepancy.go: Allocation totals vs ledger
*/
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// Kind names a snapshot type.
type Kind string

const (
	KindRevenue Kind = "revenue"
	KindHours   Kind = "hours"
)

// ParseKind accepts "revenue" or "hours", ignoring case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRevenue, KindHours:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown snapshot kind %q", core.ErrInvalidInput, s)
}

// Scope identifies one snapshot.
type Scope struct {
	EngagementID    core.EngagementID
	ClosingPeriodID core.ClosingPeriodID
}

func (s Scope) String() string {
	return fmt.Sprintf("engagement %d, closing period %d", s.EngagementID, s.ClosingPeriodID)
}

func (s Scope) fields() logrus.Fields {
	return logrus.Fields{"engagement_id": s.EngagementID, "closing_period": s.ClosingPeriodID}
}

// Manager implements the snapshot operations.
type Manager struct {
	store core.TxStore
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewManager(store core.TxStore, log logrus.FieldLogger) *Manager {
	return &Manager{
		store: store,
		log:   log.WithField("component", "snapshot"),
		now:   time.Now,
	}
}

// =============================================================================
// READ
// =============================================================================

// RevenueSnapshot returns the stored revenue rows ordered by fiscal year start.
func (m *Manager) RevenueSnapshot(ctx context.Context, scope Scope) ([]core.RevenueAllocation, error) {
	rows, err := m.store.ListRevenueAllocations(ctx, scope.EngagementID, scope.ClosingPeriodID)
	if err != nil {
		return nil, err
	}
	starts, err := m.yearStarts(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return yearBefore(starts, rows[i].FiscalYearID, rows[j].FiscalYearID)
	})
	return rows, nil
}

// HoursSnapshot returns the stored hours rows ordered by fiscal year start,
// then rank.
func (m *Manager) HoursSnapshot(ctx context.Context, scope Scope) ([]core.RankBudget, error) {
	rows, err := m.store.ListSnapshotBudgets(ctx, scope.EngagementID, scope.ClosingPeriodID)
	if err != nil {
		return nil, err
	}
	starts, err := m.yearStarts(ctx)
	if err != nil {
		return nil, err
	}
	sortHours(rows, starts)
	return rows, nil
}

func sortHours(rows []core.RankBudget, starts map[core.FiscalYearID]core.Date) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].FiscalYearID != rows[j].FiscalYearID {
			return yearBefore(starts, rows[i].FiscalYearID, rows[j].FiscalYearID)
		}
		return core.FoldKey(rows[i].RankName) < core.FoldKey(rows[j].RankName)
	})
}

func (m *Manager) yearStarts(ctx context.Context) (map[core.FiscalYearID]core.Date, error) {
	years, err := m.store.ListFiscalYears(ctx)
	if err != nil {
		return nil, err
	}
	starts := make(map[core.FiscalYearID]core.Date, len(years))
	for _, fy := range years {
		starts[fy.ID] = fy.StartDate
	}
	return starts, nil
}

// yearBefore orders fiscal years by start date. Unknown years sort last.
func yearBefore(starts map[core.FiscalYearID]core.Date, a, b core.FiscalYearID) bool {
	sa, okA := starts[a]
	sb, okB := starts[b]
	switch {
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	case okA && okB && !sa.Equal(sb):
		return sa.Before(sb)
	}
	return a < b
}

// =============================================================================
// CLONE-FORWARD
// =============================================================================

// CloneRevenueFromPrevious copies the previous period's revenue rows into
// unsaved rows for the scope.
func (m *Manager) CloneRevenueFromPrevious(ctx context.Context, scope Scope) ([]core.RevenueAllocation, error) {
	target, previous, err := m.resolvePrevious(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	stamp := func(fy core.FiscalYearID, toDate, toGo decimal.Decimal) core.RevenueAllocation {
		return core.RevenueAllocation{
			EngagementID:    scope.EngagementID,
			FiscalYearID:    fy,
			ClosingPeriodID: scope.ClosingPeriodID,
			ToDateValue:     toDate,
			ToGoValue:       toGo,
			LastUpdateDate:  core.DateOf(now),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	if previous == nil {
		years, err := m.store.ListFiscalYears(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]core.RevenueAllocation, 0, len(years))
		for _, fy := range years {
			rows = append(rows, stamp(fy.ID, decimal.Zero, decimal.Zero))
		}
		m.log.WithFields(scope.fields()).WithField("count", len(rows)).
			Infof("No period before %s: seeded zero revenue allocations", target.Name)
		return rows, nil
	}

	prior, err := m.RevenueSnapshot(ctx, Scope{EngagementID: scope.EngagementID, ClosingPeriodID: previous.ID})
	if err != nil {
		return nil, err
	}
	rows := make([]core.RevenueAllocation, 0, len(prior))
	for _, p := range prior {
		rows = append(rows, stamp(p.FiscalYearID, p.ToDateValue, p.ToGoValue))
	}
	m.log.WithFields(scope.fields()).WithField("count", len(rows)).
		Infof("Copied revenue allocations from %s to %s", previous.Name, target.Name)
	return rows, nil
}

// CloneHoursFromPrevious copies the previous period's hours rows into
// unsaved rows for the scope.
func (m *Manager) CloneHoursFromPrevious(ctx context.Context, scope Scope) ([]core.RankBudget, error) {
	target, previous, err := m.resolvePrevious(ctx, scope)
	if err != nil {
		return nil, err
	}

	if previous == nil {
		m.log.WithFields(scope.fields()).
			Infof("No period before %s: hours snapshot starts empty", target.Name)
		return []core.RankBudget{}, nil
	}

	prior, err := m.HoursSnapshot(ctx, Scope{EngagementID: scope.EngagementID, ClosingPeriodID: previous.ID})
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	cp := scope.ClosingPeriodID
	rows := make([]core.RankBudget, 0, len(prior))
	for _, p := range prior {
		rows = append(rows, core.RankBudget{
			EngagementID:    scope.EngagementID,
			FiscalYearID:    p.FiscalYearID,
			ClosingPeriodID: &cp,
			RankName:        p.RankName,
			BudgetHours:     p.BudgetHours,
			ConsumedHours:   p.ConsumedHours,
			AdditionalHours: p.AdditionalHours,
			ForecastHours:   p.ForecastHours,
			RemainingHours:  p.RemainingHours,
			Status:          p.Status,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	m.log.WithFields(scope.fields()).WithField("count", len(rows)).
		Infof("Copied hours budgets from %s to %s", previous.Name, target.Name)
	return rows, nil
}

// resolvePrevious loads the target closing period and the one preceding it.
// previous is nil when no period ends before the target.
func (m *Manager) resolvePrevious(ctx context.Context, scope Scope) (target, previous *core.ClosingPeriod, err error) {
	target, err = m.store.GetClosingPeriod(ctx, scope.ClosingPeriodID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, core.ClosingPeriodNotFound(scope.ClosingPeriodID)
	}

	periods, err := m.store.ListClosingPeriods(ctx)
	if err != nil {
		return nil, nil, err
	}
	return target, previousPeriod(periods, *target), nil
}

// previousPeriod returns the period with the latest end strictly before the
// target's end. Ties on end date go to the highest id.
func previousPeriod(periods []core.ClosingPeriod, target core.ClosingPeriod) *core.ClosingPeriod {
	var best *core.ClosingPeriod
	for i := range periods {
		p := &periods[i]
		if p.ID == target.ID || !p.PeriodEnd.Before(target.PeriodEnd) {
			continue
		}
		if best == nil || p.PeriodEnd.After(best.PeriodEnd) ||
			(p.PeriodEnd.Equal(best.PeriodEnd) && p.ID > best.ID) {
			best = p
		}
	}
	return best
}
