package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/allocation-engine/core"
)

func TestPeriod_Clamp(t *testing.T) {
	fy := core.Period{Start: core.NewDate(2024, 7, 1), End: core.NewDate(2025, 6, 30)}

	assert.Equal(t, fy.Start, fy.Clamp(core.NewDate(2024, 5, 1)))
	assert.Equal(t, fy.End, fy.Clamp(core.NewDate(2025, 9, 1)))
	assert.Equal(t, core.NewDate(2024, 10, 1), fy.Clamp(core.NewDate(2024, 10, 1)))
}

func TestPeriod_Follows(t *testing.T) {
	q1 := core.Period{Start: core.NewDate(2024, 7, 1), End: core.NewDate(2024, 9, 30)}
	q2 := core.Period{Start: core.NewDate(2024, 10, 1), End: core.NewDate(2024, 12, 31)}
	gap := core.Period{Start: core.NewDate(2024, 10, 2), End: core.NewDate(2024, 12, 31)}
	overlap := core.Period{Start: core.NewDate(2024, 9, 30), End: core.NewDate(2024, 12, 31)}

	assert.True(t, q2.Follows(q1))
	assert.False(t, gap.Follows(q1))
	assert.False(t, overlap.Follows(q1))
}

func TestLockedError_NamesYears(t *testing.T) {
	err := &core.LockedError{
		Action: "save hours",
		FiscalYears: []core.FiscalYear{
			{ID: 3, Name: "FY25"},
			{ID: 7},
		},
	}

	assert.Equal(t, "cannot save hours because fiscal year(s) FY25 (Id=3), Id=7 are locked", err.Error())
	assert.True(t, errors.Is(err, core.ErrFiscalYearLocked))
	assert.True(t, core.IsConflict(err))
}
