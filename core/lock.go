package core

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// LOCK GUARD - Business-level gate on locked fiscal years
// =============================================================================

// The locked flag is not a database lock. Every mutating operation calls a
// guard with the transactional Store, so the flag is read inside the same
// transaction that writes. Never call these with the outer store.

// EnsureFiscalYearsUnlocked fails with *LockedError when any of ids is locked.
// Unknown ids are ignored.
func EnsureFiscalYearsUnlocked(ctx context.Context, s CalendarStore, ids []FiscalYearID, action string) error {
	unique := make([]FiscalYearID, 0, len(ids))
	seen := make(map[FiscalYearID]bool, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil
	}

	years, err := s.FiscalYearsByID(ctx, unique)
	if err != nil {
		return fmt.Errorf("checking fiscal year locks: %w", err)
	}

	var locked []FiscalYear
	for _, fy := range years {
		if fy.Locked {
			locked = append(locked, fy)
		}
	}
	if len(locked) == 0 {
		return nil
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i].ID < locked[j].ID })
	return &LockedError{Action: action, FiscalYears: locked}
}

// EnsureClosingPeriodUnlocked resolves the closing period and fails when its
// fiscal year is locked. Returns the closing period for further use.
func EnsureClosingPeriodUnlocked(ctx context.Context, s CalendarStore, id ClosingPeriodID, action string) (*ClosingPeriod, error) {
	cp, err := s.GetClosingPeriod(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading closing period %d: %w", id, err)
	}
	if cp == nil {
		return nil, ClosingPeriodNotFound(id)
	}
	if err := EnsureFiscalYearsUnlocked(ctx, s, []FiscalYearID{cp.FiscalYearID}, action); err != nil {
		return nil, err
	}
	return cp, nil
}
