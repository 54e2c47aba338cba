/*
Package calendar validates and repairs the fiscal calendar.

PURPOSE:
  Closing periods must tile their fiscal year: the first period starts on
  the fiscal year start, each next period starts the day after the previous
  one ends, and the last one ends on the fiscal year end. Imports and manual
  edits break this; the checker detects the breaks and repairs them.

VALIDATION RULES (per fiscal year):
  - Every period references its owning fiscal year
  - No period starts before the fiscal year or ends after it
  - No period starts after its own end
  - Each period starts the day after the previous one ends (gap / overlap)
  - The last period ends on the fiscal year end
  A fiscal year without closing periods is reported as an issue too.

CORRECTION WALK:
  Periods are walked in start order. Each start is moved to the expected
  next start (within the fiscal year), each end is clamped to [start, fyEnd],
  and the last end is forced to fyEnd. This mutates data: it is a repair,
  not a validator. Whatever is still wrong afterwards is logged as a warning.

ORPHAN PERIODS:
  A closing period whose fiscal_year_id matches no fiscal year is adopted
  by the fiscal year whose range contains its start date (its end date as
  a fallback), then reassigned by the walk. Periods no fiscal year contains
  are left untouched and listed in the summary.

SEE ALSO:
  - fiscal_year.go: Lock / unlock lifecycle
*/
package calendar

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// FiscalYearReport lists the issues found in one fiscal year.
type FiscalYearReport struct {
	FiscalYearID   core.FiscalYearID `json:"fiscal_year_id"`
	FiscalYearName string            `json:"fiscal_year_name"`
	Issues         []string          `json:"issues"`
}

// ValidationSummary is the outcome of EnsureConsistency.
type ValidationSummary struct {
	FiscalYearsProcessed    int                `json:"fiscal_years_processed"`
	ClosingPeriodsProcessed int                `json:"closing_periods_processed"`
	CorrectionsApplied      int                `json:"corrections_applied"`
	IssuesBefore            []FiscalYearReport `json:"issues_before"`
	IssuesAfter             []FiscalYearReport `json:"issues_after"`
	CorrectionsLog          []string           `json:"corrections_log"`
	UnassignedPeriods       []string           `json:"unassigned_periods,omitempty"`
}

// Consistent reports whether no issue remains after correction.
func (s ValidationSummary) Consistent() bool {
	return len(s.IssuesAfter) == 0 && len(s.UnassignedPeriods) == 0
}

// RemainingIssues counts the issues left after correction.
func (s ValidationSummary) RemainingIssues() int {
	n := 0
	for _, r := range s.IssuesAfter {
		n += len(r.Issues)
	}
	return n
}

// Checker runs the consistency check against a store.
type Checker struct {
	store core.TxStore
	log   logrus.FieldLogger
}

func NewChecker(store core.TxStore, log logrus.FieldLogger) *Checker {
	return &Checker{store: store, log: log.WithField("component", "calendar")}
}

// =============================================================================
// ENSURE CONSISTENCY
// =============================================================================

// yearPeriods is a fiscal year with mutable copies of the periods it owns.
type yearPeriods struct {
	year    core.FiscalYear
	periods []*core.ClosingPeriod
}

// EnsureConsistency validates every fiscal year, repairs the tiling and
// persists the repaired periods when at least one correction was made.
// Reading, correcting and writing happen in one transaction.
func (c *Checker) EnsureConsistency(ctx context.Context) (ValidationSummary, error) {
	var summary ValidationSummary

	err := c.store.WithTx(ctx, func(tx core.Store) error {
		years, unassigned, err := loadCalendar(ctx, tx)
		if err != nil {
			return err
		}

		summary = ValidationSummary{
			FiscalYearsProcessed: len(years),
			IssuesBefore:         validateAll(years),
			UnassignedPeriods:    unassigned,
		}
		for _, y := range years {
			summary.ClosingPeriodsProcessed += len(y.periods)
		}

		corrected := make(map[core.ClosingPeriodID]*core.ClosingPeriod)
		for _, y := range years {
			log, count := correct(y, corrected)
			summary.CorrectionsLog = append(summary.CorrectionsLog, log...)
			summary.CorrectionsApplied += count
		}

		if summary.CorrectionsApplied > 0 {
			ids := make([]core.ClosingPeriodID, 0, len(corrected))
			for id := range corrected {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				if err := tx.SaveClosingPeriod(ctx, corrected[id]); err != nil {
					return err
				}
			}
		}

		summary.IssuesAfter = validateAll(years)
		return nil
	})
	if err != nil {
		return ValidationSummary{}, fmt.Errorf("fiscal calendar consistency check: %w", err)
	}

	c.logSummary(summary)
	return summary, nil
}

func (c *Checker) logSummary(s ValidationSummary) {
	c.log.WithFields(logrus.Fields{
		"fiscal_years":     s.FiscalYearsProcessed,
		"closing_periods":  s.ClosingPeriodsProcessed,
		"corrections":      s.CorrectionsApplied,
		"remaining_issues": s.RemainingIssues(),
	}).Info("Fiscal calendar consistency check completed")

	for _, line := range s.CorrectionsLog {
		c.log.Debug(line)
	}
	for _, report := range s.IssuesAfter {
		for _, issue := range report.Issues {
			c.log.WithField("fiscal_year", report.FiscalYearName).Warnf("Fiscal year inconsistency: %s", issue)
		}
	}
	for _, name := range s.UnassignedPeriods {
		c.log.WithField("closing_period", name).Warn("Closing period belongs to no fiscal year")
	}
}

// loadCalendar returns the fiscal years with their periods, adopting orphan
// periods by date. Periods are copies the correction walk may mutate.
func loadCalendar(ctx context.Context, s core.CalendarStore) ([]*yearPeriods, []string, error) {
	fiscalYears, err := s.ListFiscalYears(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := s.ListClosingPeriods(ctx)
	if err != nil {
		return nil, nil, err
	}

	years := make([]*yearPeriods, len(fiscalYears))
	byID := make(map[core.FiscalYearID]*yearPeriods, len(fiscalYears))
	for i, fy := range fiscalYears {
		years[i] = &yearPeriods{year: fy}
		byID[fy.ID] = years[i]
	}

	var unassigned []string
	for i := range all {
		cp := all[i]
		if y, ok := byID[cp.FiscalYearID]; ok {
			y.periods = append(y.periods, &cp)
			continue
		}
		if y := owningYear(years, cp); y != nil {
			y.periods = append(y.periods, &cp)
			continue
		}
		unassigned = append(unassigned, cp.Name)
	}

	for _, y := range years {
		sortPeriods(y.periods)
	}
	return years, unassigned, nil
}

func owningYear(years []*yearPeriods, cp core.ClosingPeriod) *yearPeriods {
	for _, y := range years {
		if y.year.Period().Contains(cp.PeriodStart) {
			return y
		}
	}
	for _, y := range years {
		if y.year.Period().Contains(cp.PeriodEnd) {
			return y
		}
	}
	return nil
}

func sortPeriods(periods []*core.ClosingPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		if !periods[i].PeriodStart.Equal(periods[j].PeriodStart) {
			return periods[i].PeriodStart.Before(periods[j].PeriodStart)
		}
		return periods[i].ID < periods[j].ID
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateAll(years []*yearPeriods) []FiscalYearReport {
	var reports []FiscalYearReport
	for _, y := range years {
		if issues := validate(y); len(issues) > 0 {
			reports = append(reports, FiscalYearReport{
				FiscalYearID:   y.year.ID,
				FiscalYearName: y.year.Name,
				Issues:         issues,
			})
		}
	}
	return reports
}

func validate(y *yearPeriods) []string {
	if len(y.periods) == 0 {
		return []string{"No closing periods configured."}
	}

	periods := append([]*core.ClosingPeriod(nil), y.periods...)
	sortPeriods(periods)

	var issues []string
	fyStart, fyEnd := y.year.StartDate, y.year.EndDate
	expected := fyStart

	var prev *core.ClosingPeriod
	for _, p := range periods {
		if p.FiscalYearID != y.year.ID {
			issues = append(issues, fmt.Sprintf("Period '%s' references fiscal year Id %d.", p.Name, p.FiscalYearID))
		}
		if p.PeriodStart.Before(fyStart) {
			issues = append(issues, fmt.Sprintf("Period '%s' starts before fiscal year start (%s < %s).", p.Name, p.PeriodStart, fyStart))
		}
		if p.PeriodEnd.After(fyEnd) {
			issues = append(issues, fmt.Sprintf("Period '%s' ends after fiscal year end (%s > %s).", p.Name, p.PeriodEnd, fyEnd))
		}
		if p.PeriodStart.After(p.PeriodEnd) {
			issues = append(issues, fmt.Sprintf("Period '%s' has start after end (%s > %s).", p.Name, p.PeriodStart, p.PeriodEnd))
		}
		contiguous := p.PeriodStart.Equal(fyStart)
		if prev != nil {
			contiguous = p.Period().Follows(prev.Period())
		}
		if !contiguous {
			relation := "overlap"
			if p.PeriodStart.After(expected) {
				relation = "gap"
			}
			issues = append(issues, fmt.Sprintf("Detected %s before '%s': expected %s, found %s.", relation, p.Name, expected, p.PeriodStart))
		}
		expected = p.PeriodEnd.AddDays(1)
		prev = p
	}

	last := periods[len(periods)-1]
	if !last.PeriodEnd.Equal(fyEnd) {
		issues = append(issues, fmt.Sprintf("Last period '%s' ends on %s, fiscal year ends on %s.", last.Name, last.PeriodEnd, fyEnd))
	}
	return issues
}

// =============================================================================
// CORRECTION
// =============================================================================

// correct repairs the periods of one fiscal year in place and records every
// changed period in changed. Returns the correction log and count.
func correct(y *yearPeriods, changed map[core.ClosingPeriodID]*core.ClosingPeriod) ([]string, int) {
	if len(y.periods) == 0 {
		return nil, 0
	}

	var log []string
	count := 0
	fy := y.year
	fyStart, fyEnd := fy.StartDate, fy.EndDate
	expected := fyStart

	for _, p := range y.periods {
		if p.FiscalYearID != fy.ID {
			log = append(log, fmt.Sprintf("Reassigned period '%s' to fiscal year '%s'.", p.Name, fy.Name))
			p.FiscalYearID = fy.ID
			changed[p.ID] = p
			count++
		}

		originalStart, originalEnd := p.PeriodStart, p.PeriodEnd

		start := fy.Period().Clamp(expected)
		end := core.Period{Start: start, End: fyEnd}.Clamp(originalEnd)

		if !originalStart.Equal(start) || !originalEnd.Equal(end) {
			log = append(log, fmt.Sprintf("Adjusted period '%s': start %s -> %s, end %s -> %s.",
				p.Name, originalStart, start, originalEnd, end))
			changed[p.ID] = p
			count++
		}
		p.PeriodStart, p.PeriodEnd = start, end

		expected = core.MinDate(end.AddDays(1), fyEnd)
	}

	last := y.periods[len(y.periods)-1]
	if !last.PeriodEnd.Equal(fyEnd) {
		log = append(log, fmt.Sprintf("Extended last period '%s' to fiscal year end %s (was %s).", last.Name, fyEnd, last.PeriodEnd))
		last.PeriodEnd = fyEnd
		if last.PeriodStart.After(fyEnd) {
			last.PeriodStart = fyEnd
		}
		changed[last.ID] = last
		count++
	}
	return log, count
}
