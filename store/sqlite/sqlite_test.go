package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func hrs(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestEngagement_SaveAndFindByCodeIgnoresCase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &core.Engagement{Code: "ENG-001", Description: "Audit", InitialHoursBudget: hrs("120.5")}
	require.NoError(t, store.SaveEngagement(ctx, e))
	require.NotZero(t, e.ID)

	found, err := store.FindEngagementsByCode(ctx, []string{"eng-001", "missing"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, e.ID, found[0].ID)
	assert.True(t, hrs("120.5").Equal(found[0].InitialHoursBudget))

	got, err := store.GetEngagement(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got, "unknown engagement returns nil, nil")
}

func TestFiscalYear_ListAttachesOrderedPeriods(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fy := &core.FiscalYear{Name: "FY25", StartDate: core.NewDate(2024, 7, 1), EndDate: core.NewDate(2025, 6, 30)}
	require.NoError(t, store.SaveFiscalYear(ctx, fy))

	// Inserted out of order on purpose.
	h2 := &core.ClosingPeriod{Name: "H2", PeriodStart: core.NewDate(2025, 1, 1), PeriodEnd: core.NewDate(2025, 6, 30), FiscalYearID: fy.ID}
	h1 := &core.ClosingPeriod{Name: "H1", PeriodStart: core.NewDate(2024, 7, 1), PeriodEnd: core.NewDate(2024, 12, 31), FiscalYearID: fy.ID}
	require.NoError(t, store.SaveClosingPeriod(ctx, h2))
	require.NoError(t, store.SaveClosingPeriod(ctx, h1))

	years, err := store.ListFiscalYears(ctx)
	require.NoError(t, err)
	require.Len(t, years, 1)
	require.Len(t, years[0].ClosingPeriods, 2)
	assert.Equal(t, "H1", years[0].ClosingPeriods[0].Name)
	assert.Equal(t, "H2", years[0].ClosingPeriods[1].Name)
	assert.True(t, years[0].StartDate.Equal(core.NewDate(2024, 7, 1)))
}

func TestFiscalYear_LockRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fy := &core.FiscalYear{Name: "FY24", StartDate: core.NewDate(2023, 7, 1), EndDate: core.NewDate(2024, 6, 30)}
	require.NoError(t, store.SaveFiscalYear(ctx, fy))

	now := time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	fy.Locked = true
	fy.LockedAt = &now
	fy.LockedBy = "controller"
	require.NoError(t, store.SaveFiscalYear(ctx, fy))

	got, err := store.GetFiscalYear(ctx, fy.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Locked)
	require.NotNil(t, got.LockedAt)
	assert.True(t, now.Equal(*got.LockedAt))
	assert.Equal(t, "controller", got.LockedBy)
}

func TestRankBudgets_WorkingIndexRejectsDuplicateRank(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &core.Engagement{Code: "ENG-1"}
	require.NoError(t, store.SaveEngagement(ctx, e))
	fy := &core.FiscalYear{Name: "FY25", StartDate: core.NewDate(2024, 7, 1), EndDate: core.NewDate(2025, 6, 30)}
	require.NoError(t, store.SaveFiscalYear(ctx, fy))

	require.NoError(t, store.InsertRankBudgets(ctx, []core.RankBudget{
		{EngagementID: e.ID, FiscalYearID: fy.ID, RankName: "Senior"},
	}))

	err := store.InsertRankBudgets(ctx, []core.RankBudget{
		{EngagementID: e.ID, FiscalYearID: fy.ID, RankName: "SENIOR"},
	})
	assert.ErrorIs(t, err, core.ErrDuplicateRank)

	// The same rank is allowed in a closing-period snapshot.
	cp := core.ClosingPeriodID(7)
	require.NoError(t, store.InsertRankBudgets(ctx, []core.RankBudget{
		{EngagementID: e.ID, FiscalYearID: fy.ID, ClosingPeriodID: &cp, RankName: "Senior", BudgetHours: hrs("10")},
	}))

	working, err := store.ListWorkingBudgets(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, working, 1)

	snap, err := store.ListSnapshotBudgets(ctx, e.ID, cp)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].ClosingPeriodID)
	assert.Equal(t, cp, *snap[0].ClosingPeriodID)
}

func TestLedger_UpsertKeepsOneRowPerScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &core.Engagement{Code: "ENG-1"}
	require.NoError(t, store.SaveEngagement(ctx, e))

	l := core.NewLedgerSnapshot(e.ID, 3)
	l.RevenueToGo = core.Known(hrs("1000"))
	require.NoError(t, store.UpsertLedgerSnapshot(ctx, &l))
	firstID := l.ID

	l.RevenueToGo = core.Known(hrs("1500.25"))
	l.ChargedHours = core.Known(hrs("12"))
	require.NoError(t, store.UpsertLedgerSnapshot(ctx, &l))
	assert.Equal(t, firstID, l.ID)

	got, err := store.GetLedgerSnapshot(ctx, e.ID, "3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.RevenueToGo.Valid)
	assert.True(t, hrs("1500.25").Equal(got.RevenueToGo.Decimal))
	assert.False(t, got.RevenueToDate.Valid, "figure never imported stays null")
	assert.True(t, hrs("12").Equal(got.ChargedHours.Decimal))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.SaveEngagement(ctx, &core.Engagement{Code: "ENG-TX"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	all, err := store.ListEngagements(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestActuals_ListedByDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &core.Engagement{Code: "ENG-1"}
	require.NoError(t, store.SaveEngagement(ctx, e))

	require.NoError(t, store.InsertActuals(ctx, []core.ActualsEntry{
		{EngagementID: e.ID, Date: core.NewDate(2025, 3, 1), Hours: hrs("4")},
		{EngagementID: e.ID, Date: core.NewDate(2024, 9, 15), Hours: hrs("2.5")},
	}))

	entries, err := store.ListActuals(ctx, []core.EngagementID{e.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Date.Equal(core.NewDate(2024, 9, 15)))
	assert.True(t, hrs("2.5").Equal(entries[0].Hours))
}

func TestReset_ClearsEveryTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEngagement(ctx, &core.Engagement{Code: "ENG-1"}))
	require.NoError(t, store.SaveFiscalYear(ctx, &core.FiscalYear{Name: "FY", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 12, 31)}))

	require.NoError(t, store.Reset(ctx))

	engagements, err := store.ListEngagements(ctx)
	require.NoError(t, err)
	assert.Empty(t, engagements)
	years, err := store.ListFiscalYears(ctx)
	require.NoError(t, err)
	assert.Empty(t, years)
}
