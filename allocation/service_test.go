package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store      *sqlite.Store
	service    *allocation.Service
	engagement *core.Engagement
	fy24       *core.FiscalYear // locked
	fy25       *core.FiscalYear
	fy26       *core.FiscalYear
}

func hours(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	f := &fixture{store: store, service: allocation.NewService(store, logger)}

	f.engagement = &core.Engagement{
		Code:                     "ENG-100",
		Description:              "Annual audit",
		InitialHoursBudget:       hours("400"),
		EstimatedToCompleteHours: hours("300"),
	}
	require.NoError(t, store.SaveEngagement(ctx, f.engagement))

	lockedAt := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	f.fy24 = &core.FiscalYear{Name: "FY24", StartDate: core.NewDate(2023, 7, 1), EndDate: core.NewDate(2024, 6, 30),
		Locked: true, LockedAt: &lockedAt, LockedBy: "controller"}
	f.fy25 = &core.FiscalYear{Name: "FY25", StartDate: core.NewDate(2024, 7, 1), EndDate: core.NewDate(2025, 6, 30)}
	f.fy26 = &core.FiscalYear{Name: "FY26", StartDate: core.NewDate(2025, 7, 1), EndDate: core.NewDate(2026, 6, 30)}
	for _, fy := range []*core.FiscalYear{f.fy24, f.fy25, f.fy26} {
		require.NoError(t, store.SaveFiscalYear(ctx, fy))
	}
	return f
}

// seed stores a working cell directly, the way an importer would.
func (f *fixture) seed(t *testing.T, fy *core.FiscalYear, rank, budget, consumed string) {
	require.NoError(t, f.store.InsertRankBudgets(context.Background(), []core.RankBudget{{
		EngagementID:  f.engagement.ID,
		FiscalYearID:  fy.ID,
		RankName:      rank,
		BudgetHours:   hours(budget),
		ConsumedHours: hours(consumed),
		Status:        core.StatusGreen,
	}}))
}

func (f *fixture) cellID(t *testing.T, rank string, fy *core.FiscalYear) core.BudgetID {
	t.Helper()
	budgets, err := f.store.ListWorkingBudgets(context.Background(), f.engagement.ID)
	require.NoError(t, err)
	for _, b := range budgets {
		if core.SameName(b.RankName, rank) && b.FiscalYearID == fy.ID {
			return b.ID
		}
	}
	t.Fatalf("no cell for %s in %s", rank, fy.Name)
	return 0
}

func (f *fixture) stored(t *testing.T) []core.RankBudget {
	budgets, err := f.store.ListWorkingBudgets(context.Background(), f.engagement.ID)
	require.NoError(t, err)
	return budgets
}

// =============================================================================
// GET ALLOCATION TESTS
// =============================================================================

func TestGetAllocation_OrdersColumnsAndRows(t *testing.T) {
	// GIVEN: Cells for "staff" and "Manager" in FY25 only
	f := newFixture(t)
	f.seed(t, f.fy25, "staff", "20", "5")
	f.seed(t, f.fy25, "Manager", "10", "0")

	// WHEN
	snap, err := f.service.GetAllocation(context.Background(), f.engagement.ID)
	require.NoError(t, err)

	// THEN: Unlocked years first by start date, then locked years
	require.Len(t, snap.FiscalYears, 3)
	assert.Equal(t, "FY25", snap.FiscalYears[0].Name)
	assert.Equal(t, "FY26", snap.FiscalYears[1].Name)
	assert.Equal(t, "FY24", snap.FiscalYears[2].Name)
	assert.True(t, snap.FiscalYears[2].Locked)

	// Rows alphabetical ignoring case
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "Manager", snap.Rows[0].RankName)
	assert.Equal(t, "staff", snap.Rows[1].RankName)

	// Missing cells are fabricated with no budget id
	staff := snap.Rows[1]
	require.Len(t, staff.Cells, 3)
	require.NotNil(t, staff.Cells[0].BudgetID)
	assert.True(t, hours("15").Equal(staff.Cells[0].RemainingHours))
	assert.Nil(t, staff.Cells[1].BudgetID)
	assert.True(t, staff.Cells[1].BudgetHours.IsZero())
	assert.Nil(t, staff.Cells[2].BudgetID)
	assert.True(t, staff.Cells[2].Locked)
}

func TestGetAllocation_ToBeConsumedExcludesLockedYears(t *testing.T) {
	// GIVEN: 40h consumed in locked FY24, 25h in FY25, 10h in FY26
	f := newFixture(t)
	f.seed(t, f.fy24, "Senior", "50", "40")
	f.seed(t, f.fy25, "Senior", "50", "25")
	f.seed(t, f.fy26, "Senior", "50", "10")

	// WHEN
	snap, err := f.service.GetAllocation(context.Background(), f.engagement.ID)
	require.NoError(t, err)

	// THEN: 300 - (25 + 10)
	assert.True(t, hours("265").Equal(snap.ToBeConsumedHours), "got %s", snap.ToBeConsumedHours)
}

func TestGetAllocation_UnknownEngagement(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetAllocation(context.Background(), 999)
	assert.ErrorIs(t, err, core.ErrEngagementNotFound)
}

// =============================================================================
// SAVE TESTS
// =============================================================================

func TestSave_RoundsConsumedAndRecomputesRank(t *testing.T) {
	// GIVEN: Senior budgets 100h in FY25 and 50h in FY26
	f := newFixture(t)
	f.seed(t, f.fy25, "Senior", "100", "0")
	f.seed(t, f.fy26, "Senior", "50", "0")
	ctx := context.Background()

	// WHEN: Consuming 10.005h in FY25 and adding 5h at rank level
	snap, err := f.service.Save(ctx, f.engagement.ID, allocation.SaveInput{
		Cells:       []allocation.CellUpdate{{BudgetID: f.cellID(t, "Senior", f.fy25), ConsumedHours: hours("10.005")}},
		Adjustments: []allocation.RowAdjustment{{RankName: "senior", AdditionalHours: hours("5")}},
	})
	require.NoError(t, err)

	// THEN: Consumed rounds away from zero, rank remaining = 150 + 5 - 10.01
	row, ok := snap.Row("Senior")
	require.True(t, ok)
	assert.True(t, hours("10.01").Equal(row.Cells[0].ConsumedHours), "got %s", row.Cells[0].ConsumedHours)
	assert.True(t, hours("89.99").Equal(row.Cells[0].RemainingHours))
	assert.True(t, hours("5").Equal(row.AdditionalHours))
	assert.True(t, hours("144.99").Equal(row.RemainingHours), "got %s", row.RemainingHours)
	assert.Equal(t, core.StatusYellow, row.Status)

	// Stored: additional hours and rank remaining sit on the summary cell
	for _, b := range f.stored(t) {
		assert.Equal(t, core.StatusYellow, b.Status)
		if b.FiscalYearID == f.fy25.ID {
			assert.True(t, hours("5").Equal(b.AdditionalHours))
			assert.True(t, hours("144.99").Equal(b.RemainingHours))
		} else {
			assert.True(t, b.AdditionalHours.IsZero())
			assert.True(t, hours("50").Equal(b.RemainingHours))
		}
	}
}

func TestSave_OverconsumedRankIsRed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.fy25, "Staff", "10", "0")

	snap, err := f.service.Save(context.Background(), f.engagement.ID, allocation.SaveInput{
		Cells: []allocation.CellUpdate{{BudgetID: f.cellID(t, "Staff", f.fy25), ConsumedHours: hours("12")}},
	})
	require.NoError(t, err)

	row, _ := snap.Row("Staff")
	assert.Equal(t, core.StatusRed, row.Status)
	assert.True(t, hours("-2").Equal(row.RemainingHours))
}

func TestSave_LockedYearFailsWithoutMutation(t *testing.T) {
	// GIVEN: Cells in open FY25 and locked FY24
	f := newFixture(t)
	f.seed(t, f.fy24, "Senior", "50", "40")
	f.seed(t, f.fy25, "Senior", "50", "0")
	before := f.stored(t)

	// WHEN: One edit per year in the same save
	_, err := f.service.Save(context.Background(), f.engagement.ID, allocation.SaveInput{
		Cells: []allocation.CellUpdate{
			{BudgetID: f.cellID(t, "Senior", f.fy25), ConsumedHours: hours("8")},
			{BudgetID: f.cellID(t, "Senior", f.fy24), ConsumedHours: hours("45")},
		},
	})

	// THEN: Locked error naming the engagement and year, nothing stored
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFiscalYearLocked)
	var locked *core.LockedError
	require.ErrorAs(t, err, &locked)
	require.Len(t, locked.FiscalYears, 1)
	assert.Equal(t, "FY24", locked.FiscalYears[0].Name)
	assert.Contains(t, err.Error(), "ENG-100")
	assert.True(t, core.IsClientError(err))

	after := f.stored(t)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].ConsumedHours.Equal(after[i].ConsumedHours))
		assert.Equal(t, before[i].UpdatedAt, after[i].UpdatedAt)
	}
}

func TestSave_ForeignBudgetIDFails(t *testing.T) {
	// GIVEN: A cell belonging to another engagement
	f := newFixture(t)
	ctx := context.Background()
	other := &core.Engagement{Code: "ENG-200"}
	require.NoError(t, f.store.SaveEngagement(ctx, other))
	require.NoError(t, f.store.InsertRankBudgets(ctx, []core.RankBudget{
		{EngagementID: other.ID, FiscalYearID: f.fy25.ID, RankName: "Senior"},
	}))
	otherCells, err := f.store.ListWorkingBudgets(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, otherCells, 1)

	// WHEN
	_, err = f.service.Save(ctx, f.engagement.ID, allocation.SaveInput{
		Cells: []allocation.CellUpdate{{BudgetID: otherCells[0].ID, ConsumedHours: hours("1")}},
	})

	// THEN
	assert.ErrorIs(t, err, core.ErrBudgetNotFound)
	var ref *core.BudgetReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "ENG-100", ref.EngagementCode)
}

func TestSave_AdjustmentForUnknownRankFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.fy25, "Senior", "10", "0")

	_, err := f.service.Save(context.Background(), f.engagement.ID, allocation.SaveInput{
		Adjustments: []allocation.RowAdjustment{{RankName: "Partner", AdditionalHours: hours("3")}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

// =============================================================================
// RANK TESTS
// =============================================================================

func TestAddRank_CreatesZeroCellPerOpenYear(t *testing.T) {
	f := newFixture(t)

	snap, err := f.service.AddRank(context.Background(), f.engagement.ID, "  Senior ")
	require.NoError(t, err)

	stored := f.stored(t)
	require.Len(t, stored, 2, "one cell per open fiscal year")
	for _, b := range stored {
		assert.Equal(t, "Senior", b.RankName)
		assert.NotEqual(t, f.fy24.ID, b.FiscalYearID)
		assert.True(t, b.BudgetHours.IsZero())
		assert.Nil(t, b.ClosingPeriodID)
	}

	row, ok := snap.Row("senior")
	require.True(t, ok)
	assert.Equal(t, core.StatusGreen, row.Status)
}

func TestAddRank_DuplicateFailsAndKeepsFirstRows(t *testing.T) {
	// GIVEN: Senior already added
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.AddRank(ctx, f.engagement.ID, "Senior")
	require.NoError(t, err)
	first := f.stored(t)

	// WHEN: Adding it again with different case
	_, err = f.service.AddRank(ctx, f.engagement.ID, "SENIOR")

	// THEN
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDuplicateRank)
	var rankErr *core.RankError
	require.ErrorAs(t, err, &rankErr)
	assert.Equal(t, "ENG-100", rankErr.EngagementCode)

	after := f.stored(t)
	require.Len(t, after, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, after[i].ID)
	}
}

func TestAddRank_NoOpenFiscalYears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, fy := range []*core.FiscalYear{f.fy25, f.fy26} {
		fy.Locked = true
		require.NoError(t, f.store.SaveFiscalYear(ctx, fy))
	}

	_, err := f.service.AddRank(ctx, f.engagement.ID, "Senior")
	assert.ErrorIs(t, err, core.ErrNoOpenFiscalYears)
	assert.Empty(t, f.stored(t))
}

func TestAddRank_BlankName(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.AddRank(context.Background(), f.engagement.ID, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestDeleteRank_Guard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, f.fy25, "Staff", "0.004", "0")
	f.seed(t, f.fy26, "Staff", "0", "0")
	f.seed(t, f.fy25, "Senior", "0", "0.01")

	// Rounded to zero: deletable
	require.NoError(t, f.service.DeleteRank(ctx, f.engagement.ID, "staff"))

	// Consumed 0.01: not deletable
	err := f.service.DeleteRank(ctx, f.engagement.ID, "Senior")
	assert.ErrorIs(t, err, core.ErrRankNotEmpty)

	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, "Senior", stored[0].RankName)

	// Unknown rank is a no-op
	assert.NoError(t, f.service.DeleteRank(ctx, f.engagement.ID, "Partner"))
}
