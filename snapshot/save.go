package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// =============================================================================
// SAVE
// =============================================================================

// SaveRevenue replaces the revenue snapshot of the scope with rows and
// refreshes the ledger's revenue sums.
func (m *Manager) SaveRevenue(ctx context.Context, scope Scope, rows []core.RevenueAllocation) error {
	err := m.store.WithTx(ctx, func(tx core.Store) error {
		cp, err := m.guard(ctx, tx, scope, "save revenue allocations")
		if err != nil {
			return err
		}
		if err := requireFiscalYears(ctx, tx, scope, rows, func(r core.RevenueAllocation) core.FiscalYearID { return r.FiscalYearID }); err != nil {
			return err
		}

		now := m.now().UTC()
		fresh := make([]core.RevenueAllocation, len(rows))
		for i, r := range rows {
			r.ID = 0
			r.EngagementID = scope.EngagementID
			r.ClosingPeriodID = scope.ClosingPeriodID
			r.LastUpdateDate = core.DateOf(now)
			r.UpdatedAt = now
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			fresh[i] = r
		}

		if err := tx.DeleteRevenueAllocations(ctx, scope.EngagementID, scope.ClosingPeriodID); err != nil {
			return err
		}
		if err := tx.InsertRevenueAllocations(ctx, fresh); err != nil {
			return err
		}

		return syncLedger(ctx, tx, scope, cp, func(l *core.LedgerSnapshot) {
			l.RevenueToGo = core.Known(core.Sum(fresh, func(r core.RevenueAllocation) decimal.Decimal { return r.ToGoValue }))
			l.RevenueToDate = core.Known(core.Sum(fresh, func(r core.RevenueAllocation) decimal.Decimal { return r.ToDateValue }))
		})
	})
	if err != nil {
		return err
	}

	m.log.WithFields(scope.fields()).WithField("count", len(rows)).Info("Revenue snapshot saved")
	return nil
}

// SaveHours replaces the hours snapshot of the scope with rows and refreshes
// the ledger's hours sums. Remaining hours and status are recomputed per row.
func (m *Manager) SaveHours(ctx context.Context, scope Scope, rows []core.RankBudget) error {
	err := m.store.WithTx(ctx, func(tx core.Store) error {
		cp, err := m.guard(ctx, tx, scope, "save hours allocations")
		if err != nil {
			return err
		}
		if err := requireFiscalYears(ctx, tx, scope, rows, func(r core.RankBudget) core.FiscalYearID { return r.FiscalYearID }); err != nil {
			return err
		}

		now := m.now().UTC()
		cpID := scope.ClosingPeriodID
		fresh := make([]core.RankBudget, len(rows))
		for i, r := range rows {
			r.RankName = core.NormalizeRank(r.RankName)
			if r.RankName == "" {
				return fmt.Errorf("%w: hours row %d of %s has no rank", core.ErrInvalidInput, i+1, scope)
			}
			r.ID = 0
			r.EngagementID = scope.EngagementID
			r.ClosingPeriodID = &cpID
			r.RemainingHours = core.Round2(r.Remaining())
			r.Status = r.CellStatus()
			r.UpdatedAt = now
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			fresh[i] = r
		}

		if err := tx.DeleteSnapshotBudgets(ctx, scope.EngagementID, scope.ClosingPeriodID); err != nil {
			return err
		}
		if err := tx.InsertRankBudgets(ctx, fresh); err != nil {
			return err
		}

		return syncLedger(ctx, tx, scope, cp, func(l *core.LedgerSnapshot) {
			l.BudgetHours = core.Known(core.Sum(fresh, func(r core.RankBudget) decimal.Decimal { return r.BudgetHours }))
			l.ChargedHours = core.Known(core.Sum(fresh, func(r core.RankBudget) decimal.Decimal { return r.ConsumedHours }))
			l.AdditionalHours = core.Known(core.Sum(fresh, func(r core.RankBudget) decimal.Decimal { return r.AdditionalHours }))
		})
	})
	if err != nil {
		return err
	}

	m.log.WithFields(scope.fields()).WithField("count", len(rows)).Info("Hours snapshot saved")
	return nil
}

// guard checks the engagement exists and the closing period's fiscal year is
// unlocked. It runs on the transactional store.
func (m *Manager) guard(ctx context.Context, tx core.Store, scope Scope, action string) (*core.ClosingPeriod, error) {
	e, err := tx.GetEngagement(ctx, scope.EngagementID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, core.EngagementNotFound(scope.EngagementID)
	}
	cp, err := core.EnsureClosingPeriodUnlocked(ctx, tx, scope.ClosingPeriodID, action)
	if err != nil {
		return nil, fmt.Errorf("engagement %s: %w", e.Code, err)
	}
	return cp, nil
}

// requireFiscalYears fails when a row references an unknown fiscal year.
func requireFiscalYears[T any](ctx context.Context, tx core.Store, scope Scope, rows []T, yearOf func(T) core.FiscalYearID) error {
	ids := make([]core.FiscalYearID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, yearOf(r))
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := tx.FiscalYearsByID(ctx, ids)
	if err != nil {
		return err
	}
	known := make(map[core.FiscalYearID]bool, len(found))
	for _, fy := range found {
		known[fy.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("%s: %w", scope, core.FiscalYearNotFound(id))
		}
	}
	return nil
}

// syncLedger gets or creates the ledger row of the scope and applies set.
func syncLedger(ctx context.Context, tx core.Store, scope Scope, cp *core.ClosingPeriod, set func(*core.LedgerSnapshot)) error {
	l, err := tx.GetLedgerSnapshot(ctx, scope.EngagementID, scope.ClosingPeriodID.Key())
	if err != nil {
		return err
	}
	if l == nil {
		fresh := core.NewLedgerSnapshot(scope.EngagementID, scope.ClosingPeriodID)
		l = &fresh
	}
	if l.FiscalYearID == nil {
		fy := cp.FiscalYearID
		l.FiscalYearID = &fy
	}
	set(l)
	return tx.UpsertLedgerSnapshot(ctx, l)
}

// =============================================================================
// LEDGER IMPORT
// =============================================================================

// RecordLedger stores figures imported from the finance system. Figures left
// null in l keep their stored value; a first import creates the row.
func (m *Manager) RecordLedger(ctx context.Context, l core.LedgerSnapshot) (*core.LedgerSnapshot, error) {
	l.ClosingPeriodKey = strings.TrimSpace(l.ClosingPeriodKey)
	if l.ClosingPeriodKey == "" {
		return nil, fmt.Errorf("%w: ledger row needs a closing period key", core.ErrInvalidInput)
	}

	var stored *core.LedgerSnapshot
	err := m.store.WithTx(ctx, func(tx core.Store) error {
		e, err := tx.GetEngagement(ctx, l.EngagementID)
		if err != nil {
			return err
		}
		if e == nil {
			return core.EngagementNotFound(l.EngagementID)
		}

		current, err := tx.GetLedgerSnapshot(ctx, l.EngagementID, l.ClosingPeriodKey)
		if err != nil {
			return err
		}
		if current == nil {
			current = &core.LedgerSnapshot{EngagementID: l.EngagementID, ClosingPeriodKey: l.ClosingPeriodKey}
		}
		merge(current, l)
		if err := tx.UpsertLedgerSnapshot(ctx, current); err != nil {
			return err
		}
		stored = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"engagement_id":  l.EngagementID,
		"closing_period": l.ClosingPeriodKey,
	}).Info("Ledger figures recorded")
	return stored, nil
}

func merge(dst *core.LedgerSnapshot, src core.LedgerSnapshot) {
	if src.FiscalYearID != nil {
		fy := *src.FiscalYearID
		dst.FiscalYearID = &fy
	}
	for _, f := range []struct {
		dst *decimal.NullDecimal
		src decimal.NullDecimal
	}{
		{&dst.RevenueToDate, src.RevenueToDate},
		{&dst.RevenueToGo, src.RevenueToGo},
		{&dst.BudgetHours, src.BudgetHours},
		{&dst.ChargedHours, src.ChargedHours},
		{&dst.AdditionalHours, src.AdditionalHours},
	} {
		if f.src.Valid {
			*f.dst = f.src
		}
	}
}
