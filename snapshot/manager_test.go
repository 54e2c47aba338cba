package snapshot_test

import (
	"context"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/snapshot"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store      *sqlite.Store
	manager    *snapshot.Manager
	engagement *core.Engagement
	fy24, fy25 *core.FiscalYear
	p24        *core.ClosingPeriod // FY24, whole year
	h1, h2     *core.ClosingPeriod // FY25 halves
}

func val(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{store: store, manager: snapshot.NewManager(store, logger)}
	f.engagement = &core.Engagement{Code: "ENG-300", ValueToAllocate: val("250000")}
	require.NoError(t, store.SaveEngagement(ctx, f.engagement))

	f.fy24 = &core.FiscalYear{Name: "FY24", StartDate: core.NewDate(2023, 7, 1), EndDate: core.NewDate(2024, 6, 30)}
	f.fy25 = &core.FiscalYear{Name: "FY25", StartDate: core.NewDate(2024, 7, 1), EndDate: core.NewDate(2025, 6, 30)}
	require.NoError(t, store.SaveFiscalYear(ctx, f.fy24))
	require.NoError(t, store.SaveFiscalYear(ctx, f.fy25))

	f.p24 = &core.ClosingPeriod{Name: "FY24 close", PeriodStart: f.fy24.StartDate, PeriodEnd: f.fy24.EndDate, FiscalYearID: f.fy24.ID}
	f.h1 = &core.ClosingPeriod{Name: "FY25 H1", PeriodStart: core.NewDate(2024, 7, 1), PeriodEnd: core.NewDate(2024, 12, 31), FiscalYearID: f.fy25.ID}
	f.h2 = &core.ClosingPeriod{Name: "FY25 H2", PeriodStart: core.NewDate(2025, 1, 1), PeriodEnd: core.NewDate(2025, 6, 30), FiscalYearID: f.fy25.ID}
	for _, cp := range []*core.ClosingPeriod{f.p24, f.h1, f.h2} {
		require.NoError(t, store.SaveClosingPeriod(ctx, cp))
	}
	return f
}

func (f *fixture) scope(cp *core.ClosingPeriod) snapshot.Scope {
	return snapshot.Scope{EngagementID: f.engagement.ID, ClosingPeriodID: cp.ID}
}

func (f *fixture) lock(t *testing.T, fy *core.FiscalYear) {
	fy.Locked = true
	require.NoError(t, f.store.SaveFiscalYear(context.Background(), fy))
}

func revenueRow(fy *core.FiscalYear, toDate, toGo string) core.RevenueAllocation {
	return core.RevenueAllocation{FiscalYearID: fy.ID, ToDateValue: val(toDate), ToGoValue: val(toGo)}
}

func hoursRow(fy *core.FiscalYear, rank, budget, consumed string) core.RankBudget {
	return core.RankBudget{FiscalYearID: fy.ID, RankName: rank, BudgetHours: val(budget), ConsumedHours: val(consumed)}
}

// =============================================================================
// SAVE TESTS
// =============================================================================

func TestSaveRevenue_ReplacesScopeAndSyncsLedger(t *testing.T) {
	// GIVEN: A first save with two rows
	f := newFixture(t)
	ctx := context.Background()
	scope := f.scope(f.h1)
	require.NoError(t, f.manager.SaveRevenue(ctx, scope, []core.RevenueAllocation{
		revenueRow(f.fy24, "1000", "0"),
		revenueRow(f.fy25, "500", "2000"),
	}))

	// WHEN: Saving a single row
	require.NoError(t, f.manager.SaveRevenue(ctx, scope, []core.RevenueAllocation{
		revenueRow(f.fy25, "700", "1800.50"),
	}))

	// THEN: Only that row is stored
	rows, err := f.manager.RevenueSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, f.fy25.ID, rows[0].FiscalYearID)
	assert.Equal(t, f.h1.ID, rows[0].ClosingPeriodID)
	assert.True(t, val("1800.50").Equal(rows[0].ToGoValue))
	assert.False(t, rows[0].UpdatedAt.IsZero())

	// And the ledger holds the new sums
	ledger, err := f.store.GetLedgerSnapshot(ctx, f.engagement.ID, f.h1.ID.Key())
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.True(t, val("1800.50").Equal(ledger.RevenueToGo.Decimal))
	assert.True(t, val("700").Equal(ledger.RevenueToDate.Decimal))
	assert.False(t, ledger.BudgetHours.Valid, "hours figures untouched by a revenue save")
	require.NotNil(t, ledger.FiscalYearID)
	assert.Equal(t, f.fy25.ID, *ledger.FiscalYearID)
}

func TestSaveHours_ReplacesScopeAndSyncsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.scope(f.h1)

	require.NoError(t, f.manager.SaveHours(ctx, scope, []core.RankBudget{
		hoursRow(f.fy25, "Senior", "100", "30"),
		hoursRow(f.fy25, "Staff", "200", "250"),
	}))
	require.NoError(t, f.manager.SaveHours(ctx, scope, []core.RankBudget{
		hoursRow(f.fy25, " Manager ", "40", "10"),
	}))

	rows, err := f.manager.HoursSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Manager", rows[0].RankName)
	require.NotNil(t, rows[0].ClosingPeriodID)
	assert.Equal(t, f.h1.ID, *rows[0].ClosingPeriodID)
	assert.True(t, val("30").Equal(rows[0].RemainingHours))
	assert.Equal(t, core.StatusYellow, rows[0].Status)

	ledger, err := f.store.GetLedgerSnapshot(ctx, f.engagement.ID, f.h1.ID.Key())
	require.NoError(t, err)
	assert.True(t, val("40").Equal(ledger.BudgetHours.Decimal))
	assert.True(t, val("10").Equal(ledger.ChargedHours.Decimal))

	// Working cells are a different set and stay empty.
	working, err := f.store.ListWorkingBudgets(ctx, f.engagement.ID)
	require.NoError(t, err)
	assert.Empty(t, working)
}

func TestSave_LockedClosingPeriodFailsWithoutMutation(t *testing.T) {
	// GIVEN: A saved FY24 snapshot, then FY24 locked
	f := newFixture(t)
	ctx := context.Background()
	scope := f.scope(f.p24)
	require.NoError(t, f.manager.SaveRevenue(ctx, scope, []core.RevenueAllocation{revenueRow(f.fy24, "1000", "0")}))
	f.lock(t, f.fy24)

	// WHEN: Saving again, revenue and hours
	errRevenue := f.manager.SaveRevenue(ctx, scope, []core.RevenueAllocation{revenueRow(f.fy24, "9999", "0")})
	errHours := f.manager.SaveHours(ctx, scope, []core.RankBudget{hoursRow(f.fy24, "Senior", "1", "0")})

	// THEN: Both fail and the stored snapshot is unchanged
	assert.ErrorIs(t, errRevenue, core.ErrFiscalYearLocked)
	assert.ErrorIs(t, errHours, core.ErrFiscalYearLocked)
	assert.Contains(t, errRevenue.Error(), "ENG-300")

	rows, err := f.manager.RevenueSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, val("1000").Equal(rows[0].ToDateValue))
	hours, err := f.manager.HoursSnapshot(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, hours)
}

func TestSave_RowsInLockedYearAllowedInOpenPeriod(t *testing.T) {
	// GIVEN: FY24 locked
	f := newFixture(t)
	f.lock(t, f.fy24)

	// WHEN: An open FY25 period carries a FY24 revenue row
	err := f.manager.SaveRevenue(context.Background(), f.scope(f.h1), []core.RevenueAllocation{
		revenueRow(f.fy24, "1000", "0"),
		revenueRow(f.fy25, "0", "500"),
	})

	// THEN: Only the closing period's fiscal year gates the save
	assert.NoError(t, err)
}

func TestSave_UnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.manager.SaveRevenue(ctx, snapshot.Scope{EngagementID: f.engagement.ID, ClosingPeriodID: 999}, nil)
	assert.ErrorIs(t, err, core.ErrClosingPeriodNotFound)

	err = f.manager.SaveRevenue(ctx, snapshot.Scope{EngagementID: 999, ClosingPeriodID: f.h1.ID}, nil)
	assert.ErrorIs(t, err, core.ErrEngagementNotFound)

	err = f.manager.SaveHours(ctx, f.scope(f.h1), []core.RankBudget{{FiscalYearID: 999, RankName: "Senior"}})
	assert.ErrorIs(t, err, core.ErrFiscalYearNotFound)

	err = f.manager.SaveHours(ctx, f.scope(f.h1), []core.RankBudget{{FiscalYearID: f.fy25.ID, RankName: "  "}})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

// =============================================================================
// CLONE TESTS
// =============================================================================

func TestClone_NoPreviousPeriodFallback(t *testing.T) {
	// GIVEN: The earliest closing period
	f := newFixture(t)
	ctx := context.Background()
	scope := f.scope(f.p24)

	// WHEN
	revenue, err := f.manager.CloneRevenueFromPrevious(ctx, scope)
	require.NoError(t, err)
	hours, err := f.manager.CloneHoursFromPrevious(ctx, scope)
	require.NoError(t, err)

	// THEN: One zero revenue row per fiscal year, no hours rows
	require.Len(t, revenue, 2)
	assert.Equal(t, f.fy24.ID, revenue[0].FiscalYearID)
	assert.Equal(t, f.fy25.ID, revenue[1].FiscalYearID)
	for _, r := range revenue {
		assert.True(t, r.ToDateValue.IsZero())
		assert.True(t, r.ToGoValue.IsZero())
		assert.Equal(t, f.p24.ID, r.ClosingPeriodID)
	}
	assert.NotNil(t, hours)
	assert.Empty(t, hours)
}

func TestClone_CopiesLatestPreviousPeriodWithoutSaving(t *testing.T) {
	// GIVEN: Snapshots saved on FY24 close and FY25 H1
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveRevenue(ctx, f.scope(f.p24), []core.RevenueAllocation{revenueRow(f.fy24, "1", "1")}))
	require.NoError(t, f.manager.SaveRevenue(ctx, f.scope(f.h1), []core.RevenueAllocation{
		revenueRow(f.fy24, "1000", "0"),
		revenueRow(f.fy25, "400", "1600"),
	}))
	require.NoError(t, f.manager.SaveHours(ctx, f.scope(f.h1), []core.RankBudget{
		hoursRow(f.fy25, "Senior", "120", "45.5"),
	}))

	// WHEN: Cloning into H2
	revenue, err := f.manager.CloneRevenueFromPrevious(ctx, f.scope(f.h2))
	require.NoError(t, err)
	hours, err := f.manager.CloneHoursFromPrevious(ctx, f.scope(f.h2))
	require.NoError(t, err)

	// THEN: H1 values (the latest earlier period), stamped with H2
	require.Len(t, revenue, 2)
	assert.True(t, val("1000").Equal(revenue[0].ToDateValue))
	assert.True(t, val("1600").Equal(revenue[1].ToGoValue))
	for _, r := range revenue {
		assert.Zero(t, r.ID)
		assert.Equal(t, f.h2.ID, r.ClosingPeriodID)
	}
	require.Len(t, hours, 1)
	assert.Equal(t, "Senior", hours[0].RankName)
	assert.True(t, val("45.5").Equal(hours[0].ConsumedHours))
	require.NotNil(t, hours[0].ClosingPeriodID)
	assert.Equal(t, f.h2.ID, *hours[0].ClosingPeriodID)

	// Nothing was written to H2
	stored, err := f.manager.RevenueSnapshot(ctx, f.scope(f.h2))
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestClone_UnknownClosingPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.CloneHoursFromPrevious(context.Background(),
		snapshot.Scope{EngagementID: f.engagement.ID, ClosingPeriodID: 404})
	assert.ErrorIs(t, err, core.ErrClosingPeriodNotFound)
}

func TestParseKind(t *testing.T) {
	k, err := snapshot.ParseKind("Revenue")
	require.NoError(t, err)
	assert.Equal(t, snapshot.KindRevenue, k)

	_, err = snapshot.ParseKind("forecast")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
