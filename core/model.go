package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALENDAR
// =============================================================================

// Engagement is a billable client project.
type Engagement struct {
	ID          EngagementID
	Code        string // business key from source files, unique ignoring case
	Description string

	InitialHoursBudget       decimal.Decimal
	EstimatedToCompleteHours decimal.Decimal
	ValueToAllocate          decimal.Decimal
}

// FiscalYear is a yearly accounting window.
// Closing periods must tile [StartDate, EndDate] with no gap or overlap.
type FiscalYear struct {
	ID        FiscalYearID
	Name      string
	StartDate Date
	EndDate   Date

	Locked   bool
	LockedAt *time.Time
	LockedBy string

	// Ordered by PeriodStart when loaded through ListFiscalYears.
	ClosingPeriods []ClosingPeriod
}

func (fy FiscalYear) Period() Period { return Period{Start: fy.StartDate, End: fy.EndDate} }

// Label is the name and id used in messages, e.g. "FY25 (Id=3)".
func (fy FiscalYear) Label() string {
	if fy.Name == "" {
		return "Id=" + fy.ID.String()
	}
	return fy.Name + " (Id=" + fy.ID.String() + ")"
}

// ClosingPeriod is a sub-interval of a fiscal year at which allocations are
// snapshotted. It is locked when its fiscal year is.
type ClosingPeriod struct {
	ID           ClosingPeriodID
	Name         string
	PeriodStart  Date
	PeriodEnd    Date
	FiscalYearID FiscalYearID
}

func (cp ClosingPeriod) Period() Period { return Period{Start: cp.PeriodStart, End: cp.PeriodEnd} }

// =============================================================================
// HOURS
// =============================================================================

// TrafficLight classifies a rank's remaining hours.
type TrafficLight string

const (
	StatusGreen  TrafficLight = "Green"
	StatusYellow TrafficLight = "Yellow"
	StatusRed    TrafficLight = "Red"
)

// StatusFor returns Red for negative, Yellow for positive and Green for zero.
func StatusFor(remaining decimal.Decimal) TrafficLight {
	switch remaining.Round(2).Sign() {
	case -1:
		return StatusRed
	case 1:
		return StatusYellow
	default:
		return StatusGreen
	}
}

// RankBudget is one rank x fiscal-year hours cell of an engagement.
//
// ClosingPeriodID nil marks the engagement's working matrix (edited by the
// hours allocation service). A non-nil value places the row in that closing
// period's hours snapshot.
type RankBudget struct {
	ID              BudgetID
	EngagementID    EngagementID
	FiscalYearID    FiscalYearID
	ClosingPeriodID *ClosingPeriodID
	RankName        string

	BudgetHours     decimal.Decimal
	ConsumedHours   decimal.Decimal
	AdditionalHours decimal.Decimal
	ForecastHours   decimal.Decimal
	RemainingHours  decimal.Decimal
	Status          TrafficLight

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is budget minus consumed, unrounded.
func (b RankBudget) Remaining() decimal.Decimal { return b.BudgetHours.Sub(b.ConsumedHours) }

// CellStatus classifies the cell by the sign of remaining + additional.
func (b RankBudget) CellStatus() TrafficLight {
	return StatusFor(b.Remaining().Add(b.AdditionalHours))
}

// IsEmpty reports whether rounded budget and consumed hours are both zero.
func (b RankBudget) IsEmpty() bool {
	return Round2(b.BudgetHours).IsZero() && Round2(b.ConsumedHours).IsZero()
}

// =============================================================================
// REVENUE
// =============================================================================

// RevenueAllocation is one fiscal-year row of a revenue snapshot.
type RevenueAllocation struct {
	ID              int64
	EngagementID    EngagementID
	FiscalYearID    FiscalYearID
	ClosingPeriodID ClosingPeriodID

	ToDateValue decimal.Decimal
	ToGoValue   decimal.Decimal

	LastUpdateDate Date
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// ACTUALS
// =============================================================================

// ActualsEntry is hours charged to an engagement on a date.
type ActualsEntry struct {
	ID           int64
	EngagementID EngagementID
	Date         Date
	Hours        decimal.Decimal
}

// =============================================================================
// FORECAST
// =============================================================================

// ForecastRecord is the stored forecast for (engagement, fiscal year, rank).
type ForecastRecord struct {
	ID            int64
	EngagementID  EngagementID
	FiscalYearID  FiscalYearID
	RankName      string
	ForecastHours decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
