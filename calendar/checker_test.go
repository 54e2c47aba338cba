package calendar_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/calendar"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newChecker(t *testing.T, store *sqlite.Store) (*calendar.Checker, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return calendar.NewChecker(store, logger), hook
}

func date(year int, month time.Month, day int) core.Date {
	return core.NewDate(year, month, day)
}

func addYear(t *testing.T, store *sqlite.Store, name string, start, end core.Date) *core.FiscalYear {
	fy := &core.FiscalYear{Name: name, StartDate: start, EndDate: end}
	require.NoError(t, store.SaveFiscalYear(context.Background(), fy))
	return fy
}

func addPeriod(t *testing.T, store *sqlite.Store, fyID core.FiscalYearID, name string, start, end core.Date) *core.ClosingPeriod {
	cp := &core.ClosingPeriod{Name: name, PeriodStart: start, PeriodEnd: end, FiscalYearID: fyID}
	require.NoError(t, store.SaveClosingPeriod(context.Background(), cp))
	return cp
}

// assertTiled checks the stored calendar: first start on the fiscal year
// start, contiguous periods, last end on the fiscal year end.
func assertTiled(t *testing.T, store *sqlite.Store) {
	t.Helper()
	years, err := store.ListFiscalYears(context.Background())
	require.NoError(t, err)
	for _, fy := range years {
		periods := fy.ClosingPeriods
		require.NotEmpty(t, periods, "fiscal year %s has no periods", fy.Name)
		assert.True(t, periods[0].PeriodStart.Equal(fy.StartDate), "%s: first period starts %s", fy.Name, periods[0].PeriodStart)
		for i := 1; i < len(periods); i++ {
			assert.True(t, periods[i].Period().Follows(periods[i-1].Period()),
				"%s: %s does not follow %s", fy.Name, periods[i].Name, periods[i-1].Name)
		}
		last := periods[len(periods)-1]
		assert.True(t, last.PeriodEnd.Equal(fy.EndDate), "%s: last period ends %s", fy.Name, last.PeriodEnd)
	}
}

// =============================================================================
// ENSURE CONSISTENCY TESTS
// =============================================================================

func TestEnsureConsistency_RepairsGapsAndOverlaps(t *testing.T) {
	// GIVEN: FY25 (Jul-Jun) with a late first start, an overlap, a gap and
	//        a last period ending before the fiscal year
	store := newTestStore(t)
	fy := addYear(t, store, "FY25", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy.ID, "Q1", date(2024, 7, 5), date(2024, 9, 30))
	addPeriod(t, store, fy.ID, "Q2", date(2024, 9, 15), date(2024, 12, 31))
	addPeriod(t, store, fy.ID, "H2", date(2025, 1, 10), date(2025, 5, 31))
	checker, _ := newChecker(t, store)

	// WHEN: Running the check
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: Issues are reported before, none after, and the tiling holds
	assert.Equal(t, 1, summary.FiscalYearsProcessed)
	assert.Equal(t, 3, summary.ClosingPeriodsProcessed)
	require.Len(t, summary.IssuesBefore, 1)
	assert.Equal(t, []string{
		"Detected gap before 'Q1': expected 2024-07-01, found 2024-07-05.",
		"Detected overlap before 'Q2': expected 2024-10-01, found 2024-09-15.",
		"Detected gap before 'H2': expected 2025-01-01, found 2025-01-10.",
		"Last period 'H2' ends on 2025-05-31, fiscal year ends on 2025-06-30.",
	}, summary.IssuesBefore[0].Issues)
	assert.Empty(t, summary.IssuesAfter)
	assert.Equal(t, 4, summary.CorrectionsApplied)
	assert.Contains(t, summary.CorrectionsLog,
		"Extended last period 'H2' to fiscal year end 2025-06-30 (was 2025-05-31).")
	assert.True(t, summary.Consistent())

	assertTiled(t, store)
}

func TestEnsureConsistency_ConsistentCalendarIsUntouched(t *testing.T) {
	// GIVEN: Two correctly tiled fiscal years
	store := newTestStore(t)
	fy24 := addYear(t, store, "FY24", date(2023, 7, 1), date(2024, 6, 30))
	addPeriod(t, store, fy24.ID, "FY24", date(2023, 7, 1), date(2024, 6, 30))
	fy25 := addYear(t, store, "FY25", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy25.ID, "H1", date(2024, 7, 1), date(2024, 12, 31))
	addPeriod(t, store, fy25.ID, "H2", date(2025, 1, 1), date(2025, 6, 30))
	checker, _ := newChecker(t, store)

	// WHEN
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: Nothing to report, nothing corrected
	assert.Equal(t, 2, summary.FiscalYearsProcessed)
	assert.Equal(t, 3, summary.ClosingPeriodsProcessed)
	assert.Empty(t, summary.IssuesBefore)
	assert.Empty(t, summary.IssuesAfter)
	assert.Zero(t, summary.CorrectionsApplied)
	assert.Empty(t, summary.CorrectionsLog)
}

func TestEnsureConsistency_PeriodOutsideFiscalYearIsClamped(t *testing.T) {
	// GIVEN: A single period spilling over both ends of the fiscal year
	store := newTestStore(t)
	fy := addYear(t, store, "FY25", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy.ID, "All", date(2024, 6, 1), date(2025, 7, 31))
	checker, _ := newChecker(t, store)

	// WHEN
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: Both bounds are reported, then clamped in one adjustment
	require.Len(t, summary.IssuesBefore, 1)
	assert.Contains(t, summary.IssuesBefore[0].Issues,
		"Period 'All' starts before fiscal year start (2024-06-01 < 2024-07-01).")
	assert.Contains(t, summary.IssuesBefore[0].Issues,
		"Period 'All' ends after fiscal year end (2025-07-31 > 2025-06-30).")
	assert.Equal(t, []string{
		"Adjusted period 'All': start 2024-06-01 -> 2024-07-01, end 2025-07-31 -> 2025-06-30.",
	}, summary.CorrectionsLog)
	assertTiled(t, store)
}

func TestEnsureConsistency_AdoptsOrphanPeriodByDate(t *testing.T) {
	// GIVEN: H2 references a fiscal year id that does not exist
	store := newTestStore(t)
	fy := addYear(t, store, "FY25", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy.ID, "H1", date(2024, 7, 1), date(2024, 12, 31))
	h2 := addPeriod(t, store, 999, "H2", date(2025, 1, 1), date(2025, 6, 30))
	checker, _ := newChecker(t, store)

	// WHEN
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: The period is reassigned to the fiscal year containing it
	require.Len(t, summary.IssuesBefore, 1)
	assert.Contains(t, summary.IssuesBefore[0].Issues, "Period 'H2' references fiscal year Id 999.")
	assert.Equal(t, []string{"Reassigned period 'H2' to fiscal year 'FY25'."}, summary.CorrectionsLog)
	assert.Empty(t, summary.IssuesAfter)

	stored, err := store.GetClosingPeriod(context.Background(), h2.ID)
	require.NoError(t, err)
	assert.Equal(t, fy.ID, stored.FiscalYearID)
}

func TestEnsureConsistency_NoPeriodsIsWarnedNotFatal(t *testing.T) {
	// GIVEN: A fiscal year with no closing periods
	store := newTestStore(t)
	addYear(t, store, "FY26", date(2025, 7, 1), date(2026, 6, 30))
	checker, hook := newChecker(t, store)

	// WHEN
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: The issue survives correction and is logged as a warning
	require.Len(t, summary.IssuesAfter, 1)
	assert.Equal(t, []string{"No closing periods configured."}, summary.IssuesAfter[0].Issues)
	assert.False(t, summary.Consistent())

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["fiscal_year"] == "FY26" {
			warned = true
		}
	}
	assert.True(t, warned, "remaining issue should be logged as a warning")
}

func TestEnsureConsistency_CollapsesTrailingPeriods(t *testing.T) {
	// GIVEN: A first period already covering the whole fiscal year, then a
	//        second period starting after it
	store := newTestStore(t)
	fy := addYear(t, store, "FY25", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy.ID, "Year", date(2024, 7, 1), date(2025, 6, 30))
	addPeriod(t, store, fy.ID, "Extra", date(2025, 7, 1), date(2025, 7, 31))
	checker, _ := newChecker(t, store)

	// WHEN
	summary, err := checker.EnsureConsistency(context.Background())
	require.NoError(t, err)

	// THEN: The extra period is squeezed onto the last fiscal day
	assert.Equal(t, []string{
		"Adjusted period 'Extra': start 2025-07-01 -> 2025-06-30, end 2025-07-31 -> 2025-06-30.",
	}, summary.CorrectionsLog)

	years, err := store.ListFiscalYears(context.Background())
	require.NoError(t, err)
	extra := years[0].ClosingPeriods[1]
	assert.True(t, extra.PeriodStart.Equal(date(2025, 6, 30)))
	assert.True(t, extra.PeriodEnd.Equal(date(2025, 6, 30)))
}

// =============================================================================
// LOCK LIFECYCLE TESTS
// =============================================================================

func TestLockFiscalYear_SetsAndClearsMetadata(t *testing.T) {
	store := newTestStore(t)
	fy := addYear(t, store, "FY24", date(2023, 7, 1), date(2024, 6, 30))
	checker, _ := newChecker(t, store)
	ctx := context.Background()

	locked, err := checker.LockFiscalYear(ctx, fy.ID, " controller ")
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	require.NotNil(t, locked.LockedAt)
	assert.Equal(t, "controller", locked.LockedBy)

	// Locking again keeps the first locker.
	again, err := checker.LockFiscalYear(ctx, fy.ID, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, "controller", again.LockedBy)

	unlocked, err := checker.UnlockFiscalYear(ctx, fy.ID)
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
	assert.Nil(t, unlocked.LockedAt)

	stored, err := store.GetFiscalYear(ctx, fy.ID)
	require.NoError(t, err)
	assert.False(t, stored.Locked)
	assert.Empty(t, stored.LockedBy)
}

func TestLockFiscalYear_UnknownYear(t *testing.T) {
	store := newTestStore(t)
	checker, _ := newChecker(t, store)

	_, err := checker.LockFiscalYear(context.Background(), 42, "controller")
	assert.ErrorIs(t, err, core.ErrFiscalYearNotFound)
	assert.True(t, core.IsNotFound(err))
}
