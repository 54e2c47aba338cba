package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/core"
)

// queries holds every statement. Store binds it to the pool, WithTx binds it
// to the open transaction.
type queries struct {
	ext sqlx.ExtContext
}

var _ core.Store = (*queries)(nil)

// selectIn runs a query containing a single "IN (?)" placeholder.
func (q *queries) selectIn(ctx context.Context, dest any, query string, args ...any) error {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(expanded), expandedArgs...)
}

func (q *queries) execIn(ctx context.Context, query string, args ...any) error {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	_, err = q.ext.ExecContext(ctx, q.ext.Rebind(expanded), expandedArgs...)
	return err
}

// =============================================================================
// ENGAGEMENTS
// =============================================================================

type engagementRow struct {
	ID                       int64           `db:"id"`
	Code                     string          `db:"code"`
	Description              string          `db:"description"`
	InitialHoursBudget       decimal.Decimal `db:"initial_hours_budget"`
	EstimatedToCompleteHours decimal.Decimal `db:"estimated_to_complete_hours"`
	ValueToAllocate          decimal.Decimal `db:"value_to_allocate"`
}

func (r engagementRow) toEngagement() core.Engagement {
	return core.Engagement{
		ID:                       core.EngagementID(r.ID),
		Code:                     r.Code,
		Description:              r.Description,
		InitialHoursBudget:       r.InitialHoursBudget,
		EstimatedToCompleteHours: r.EstimatedToCompleteHours,
		ValueToAllocate:          r.ValueToAllocate,
	}
}

const engagementColumns = `id, code, description, initial_hours_budget, estimated_to_complete_hours, value_to_allocate`

// SaveEngagement inserts the engagement when ID is zero, updates it otherwise.
func (q *queries) SaveEngagement(ctx context.Context, e *core.Engagement) error {
	row := engagementRow{
		ID:                       int64(e.ID),
		Code:                     e.Code,
		Description:              e.Description,
		InitialHoursBudget:       e.InitialHoursBudget,
		EstimatedToCompleteHours: e.EstimatedToCompleteHours,
		ValueToAllocate:          e.ValueToAllocate,
	}

	if e.ID == 0 {
		res, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO engagements (code, description, initial_hours_budget, estimated_to_complete_hours, value_to_allocate)
			VALUES (:code, :description, :initial_hours_budget, :estimated_to_complete_hours, :value_to_allocate)`, row)
		if err != nil {
			return fmt.Errorf("failed to insert engagement %s: %w", e.Code, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = core.EngagementID(id)
		return nil
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE engagements SET
			code = :code,
			description = :description,
			initial_hours_budget = :initial_hours_budget,
			estimated_to_complete_hours = :estimated_to_complete_hours,
			value_to_allocate = :value_to_allocate
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update engagement %s: %w", e.Code, err)
	}
	return nil
}

// GetEngagement returns nil when the engagement does not exist.
func (q *queries) GetEngagement(ctx context.Context, id core.EngagementID) (*core.Engagement, error) {
	var row engagementRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+engagementColumns+` FROM engagements WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement %d: %w", id, err)
	}
	e := row.toEngagement()
	return &e, nil
}

func (q *queries) ListEngagements(ctx context.Context) ([]core.Engagement, error) {
	var rows []engagementRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+engagementColumns+` FROM engagements ORDER BY code`); err != nil {
		return nil, fmt.Errorf("failed to list engagements: %w", err)
	}
	out := make([]core.Engagement, len(rows))
	for i, r := range rows {
		out[i] = r.toEngagement()
	}
	return out, nil
}

func (q *queries) FindEngagementsByCode(ctx context.Context, codes []string) ([]core.Engagement, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var rows []engagementRow
	// code is declared COLLATE NOCASE, so IN matches ignoring case.
	if err := q.selectIn(ctx, &rows, `SELECT `+engagementColumns+` FROM engagements WHERE code IN (?)`, codes); err != nil {
		return nil, fmt.Errorf("failed to find engagements by code: %w", err)
	}
	out := make([]core.Engagement, len(rows))
	for i, r := range rows {
		out[i] = r.toEngagement()
	}
	return out, nil
}

// =============================================================================
// FISCAL YEARS
// =============================================================================

type fiscalYearRow struct {
	ID        int64          `db:"id"`
	Name      string         `db:"name"`
	StartDate string         `db:"start_date"`
	EndDate   string         `db:"end_date"`
	Locked    bool           `db:"locked"`
	LockedAt  sql.NullString `db:"locked_at"`
	LockedBy  string         `db:"locked_by"`
}

func (r fiscalYearRow) toFiscalYear() (core.FiscalYear, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return core.FiscalYear{}, err
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return core.FiscalYear{}, err
	}
	fy := core.FiscalYear{
		ID:        core.FiscalYearID(r.ID),
		Name:      r.Name,
		StartDate: start,
		EndDate:   end,
		Locked:    r.Locked,
		LockedBy:  r.LockedBy,
	}
	if r.LockedAt.Valid {
		t := parseTime(r.LockedAt.String)
		fy.LockedAt = &t
	}
	return fy, nil
}

const fiscalYearColumns = `id, name, start_date, end_date, locked, locked_at, locked_by`

func (q *queries) SaveFiscalYear(ctx context.Context, fy *core.FiscalYear) error {
	row := fiscalYearRow{
		ID:        int64(fy.ID),
		Name:      fy.Name,
		StartDate: fy.StartDate.String(),
		EndDate:   fy.EndDate.String(),
		Locked:    fy.Locked,
		LockedBy:  fy.LockedBy,
	}
	if fy.LockedAt != nil {
		row.LockedAt = sql.NullString{String: formatTime(*fy.LockedAt), Valid: true}
	}

	if fy.ID == 0 {
		res, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO fiscal_years (name, start_date, end_date, locked, locked_at, locked_by)
			VALUES (:name, :start_date, :end_date, :locked, :locked_at, :locked_by)`, row)
		if err != nil {
			return fmt.Errorf("failed to insert fiscal year %s: %w", fy.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		fy.ID = core.FiscalYearID(id)
		return nil
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE fiscal_years SET
			name = :name,
			start_date = :start_date,
			end_date = :end_date,
			locked = :locked,
			locked_at = :locked_at,
			locked_by = :locked_by
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update fiscal year %s: %w", fy.Name, err)
	}
	return nil
}

// GetFiscalYear returns nil when the fiscal year does not exist.
// ClosingPeriods is not populated.
func (q *queries) GetFiscalYear(ctx context.Context, id core.FiscalYearID) (*core.FiscalYear, error) {
	var row fiscalYearRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fiscal year %d: %w", id, err)
	}
	fy, err := row.toFiscalYear()
	if err != nil {
		return nil, err
	}
	return &fy, nil
}

func (q *queries) ListFiscalYears(ctx context.Context) ([]core.FiscalYear, error) {
	var rows []fiscalYearRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+fiscalYearColumns+` FROM fiscal_years ORDER BY start_date, id`); err != nil {
		return nil, fmt.Errorf("failed to list fiscal years: %w", err)
	}

	periods, err := q.ListClosingPeriods(ctx)
	if err != nil {
		return nil, err
	}
	byYear := make(map[core.FiscalYearID][]core.ClosingPeriod)
	for _, cp := range periods {
		byYear[cp.FiscalYearID] = append(byYear[cp.FiscalYearID], cp)
	}

	out := make([]core.FiscalYear, 0, len(rows))
	for _, r := range rows {
		fy, err := r.toFiscalYear()
		if err != nil {
			return nil, err
		}
		fy.ClosingPeriods = byYear[fy.ID]
		out = append(out, fy)
	}
	return out, nil
}

func (q *queries) FiscalYearsByID(ctx context.Context, ids []core.FiscalYearID) ([]core.FiscalYear, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []fiscalYearRow
	if err := q.selectIn(ctx, &rows, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id IN (?) ORDER BY start_date, id`, int64s(ids)); err != nil {
		return nil, fmt.Errorf("failed to load fiscal years: %w", err)
	}
	out := make([]core.FiscalYear, 0, len(rows))
	for _, r := range rows {
		fy, err := r.toFiscalYear()
		if err != nil {
			return nil, err
		}
		out = append(out, fy)
	}
	return out, nil
}

// =============================================================================
// CLOSING PERIODS
// =============================================================================

type closingPeriodRow struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	PeriodStart  string `db:"period_start"`
	PeriodEnd    string `db:"period_end"`
	FiscalYearID int64  `db:"fiscal_year_id"`
}

func (r closingPeriodRow) toClosingPeriod() (core.ClosingPeriod, error) {
	start, err := parseDate(r.PeriodStart)
	if err != nil {
		return core.ClosingPeriod{}, err
	}
	end, err := parseDate(r.PeriodEnd)
	if err != nil {
		return core.ClosingPeriod{}, err
	}
	return core.ClosingPeriod{
		ID:           core.ClosingPeriodID(r.ID),
		Name:         r.Name,
		PeriodStart:  start,
		PeriodEnd:    end,
		FiscalYearID: core.FiscalYearID(r.FiscalYearID),
	}, nil
}

const closingPeriodColumns = `id, name, period_start, period_end, fiscal_year_id`

func (q *queries) SaveClosingPeriod(ctx context.Context, cp *core.ClosingPeriod) error {
	row := closingPeriodRow{
		ID:           int64(cp.ID),
		Name:         cp.Name,
		PeriodStart:  cp.PeriodStart.String(),
		PeriodEnd:    cp.PeriodEnd.String(),
		FiscalYearID: int64(cp.FiscalYearID),
	}

	if cp.ID == 0 {
		res, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO closing_periods (name, period_start, period_end, fiscal_year_id)
			VALUES (:name, :period_start, :period_end, :fiscal_year_id)`, row)
		if err != nil {
			return fmt.Errorf("failed to insert closing period %s: %w", cp.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		cp.ID = core.ClosingPeriodID(id)
		return nil
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE closing_periods SET
			name = :name,
			period_start = :period_start,
			period_end = :period_end,
			fiscal_year_id = :fiscal_year_id
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update closing period %s: %w", cp.Name, err)
	}
	return nil
}

// GetClosingPeriod returns nil when the closing period does not exist.
func (q *queries) GetClosingPeriod(ctx context.Context, id core.ClosingPeriodID) (*core.ClosingPeriod, error) {
	var row closingPeriodRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+closingPeriodColumns+` FROM closing_periods WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get closing period %d: %w", id, err)
	}
	cp, err := row.toClosingPeriod()
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListClosingPeriods returns every closing period ordered by start date.
func (q *queries) ListClosingPeriods(ctx context.Context) ([]core.ClosingPeriod, error) {
	var rows []closingPeriodRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+closingPeriodColumns+` FROM closing_periods ORDER BY period_start, id`); err != nil {
		return nil, fmt.Errorf("failed to list closing periods: %w", err)
	}
	out := make([]core.ClosingPeriod, 0, len(rows))
	for _, r := range rows {
		cp, err := r.toClosingPeriod()
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// =============================================================================
// RANK BUDGETS
// =============================================================================

type rankBudgetRow struct {
	ID              int64           `db:"id"`
	EngagementID    int64           `db:"engagement_id"`
	FiscalYearID    int64           `db:"fiscal_year_id"`
	ClosingPeriodID sql.NullInt64   `db:"closing_period_id"`
	RankName        string          `db:"rank_name"`
	BudgetHours     decimal.Decimal `db:"budget_hours"`
	ConsumedHours   decimal.Decimal `db:"consumed_hours"`
	AdditionalHours decimal.Decimal `db:"additional_hours"`
	ForecastHours   decimal.Decimal `db:"forecast_hours"`
	RemainingHours  decimal.Decimal `db:"remaining_hours"`
	Status          string          `db:"status"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

func newRankBudgetRow(b core.RankBudget) rankBudgetRow {
	row := rankBudgetRow{
		ID:              int64(b.ID),
		EngagementID:    int64(b.EngagementID),
		FiscalYearID:    int64(b.FiscalYearID),
		RankName:        b.RankName,
		BudgetHours:     b.BudgetHours,
		ConsumedHours:   b.ConsumedHours,
		AdditionalHours: b.AdditionalHours,
		ForecastHours:   b.ForecastHours,
		RemainingHours:  b.RemainingHours,
		Status:          string(b.Status),
		CreatedAt:       formatTime(b.CreatedAt),
		UpdatedAt:       formatTime(b.UpdatedAt),
	}
	if row.Status == "" {
		row.Status = string(core.StatusGreen)
	}
	if b.ClosingPeriodID != nil {
		row.ClosingPeriodID = sql.NullInt64{Int64: int64(*b.ClosingPeriodID), Valid: true}
	}
	return row
}

func (r rankBudgetRow) toRankBudget() core.RankBudget {
	b := core.RankBudget{
		ID:              core.BudgetID(r.ID),
		EngagementID:    core.EngagementID(r.EngagementID),
		FiscalYearID:    core.FiscalYearID(r.FiscalYearID),
		RankName:        r.RankName,
		BudgetHours:     r.BudgetHours,
		ConsumedHours:   r.ConsumedHours,
		AdditionalHours: r.AdditionalHours,
		ForecastHours:   r.ForecastHours,
		RemainingHours:  r.RemainingHours,
		Status:          core.TrafficLight(r.Status),
		CreatedAt:       parseTime(r.CreatedAt),
		UpdatedAt:       parseTime(r.UpdatedAt),
	}
	if r.ClosingPeriodID.Valid {
		cp := core.ClosingPeriodID(r.ClosingPeriodID.Int64)
		b.ClosingPeriodID = &cp
	}
	return b
}

func toRankBudgets(rows []rankBudgetRow) []core.RankBudget {
	out := make([]core.RankBudget, len(rows))
	for i, r := range rows {
		out[i] = r.toRankBudget()
	}
	return out
}

const rankBudgetColumns = `id, engagement_id, fiscal_year_id, closing_period_id, rank_name,
	budget_hours, consumed_hours, additional_hours, forecast_hours, remaining_hours,
	status, created_at, updated_at`

func (q *queries) ListWorkingBudgets(ctx context.Context, engagementIDs ...core.EngagementID) ([]core.RankBudget, error) {
	var rows []rankBudgetRow
	var err error
	if len(engagementIDs) == 0 {
		err = sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+rankBudgetColumns+` FROM rank_budgets
			WHERE closing_period_id IS NULL ORDER BY engagement_id, id`)
	} else {
		err = q.selectIn(ctx, &rows, `SELECT `+rankBudgetColumns+` FROM rank_budgets
			WHERE closing_period_id IS NULL AND engagement_id IN (?) ORDER BY engagement_id, id`, int64s(engagementIDs))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rank budgets: %w", err)
	}
	return toRankBudgets(rows), nil
}

func (q *queries) ListSnapshotBudgets(ctx context.Context, engagementID core.EngagementID, closingPeriodID core.ClosingPeriodID) ([]core.RankBudget, error) {
	var rows []rankBudgetRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+rankBudgetColumns+` FROM rank_budgets
		WHERE engagement_id = ? AND closing_period_id = ? ORDER BY id`, int64(engagementID), int64(closingPeriodID))
	if err != nil {
		return nil, fmt.Errorf("failed to list hours snapshot for engagement %d, period %d: %w", engagementID, closingPeriodID, err)
	}
	return toRankBudgets(rows), nil
}

func (q *queries) InsertRankBudgets(ctx context.Context, budgets []core.RankBudget) error {
	for _, b := range budgets {
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO rank_budgets
			(engagement_id, fiscal_year_id, closing_period_id, rank_name, budget_hours, consumed_hours,
			 additional_hours, forecast_hours, remaining_hours, status, created_at, updated_at)
			VALUES (:engagement_id, :fiscal_year_id, :closing_period_id, :rank_name, :budget_hours, :consumed_hours,
			 :additional_hours, :forecast_hours, :remaining_hours, :status, :created_at, :updated_at)`,
			newRankBudgetRow(b))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("rank '%s' for engagement %d: %w", b.RankName, b.EngagementID, core.ErrDuplicateRank)
			}
			return fmt.Errorf("failed to insert rank budget '%s': %w", b.RankName, err)
		}
	}
	return nil
}

func (q *queries) UpdateRankBudget(ctx context.Context, b core.RankBudget) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE rank_budgets SET
			budget_hours = :budget_hours,
			consumed_hours = :consumed_hours,
			additional_hours = :additional_hours,
			forecast_hours = :forecast_hours,
			remaining_hours = :remaining_hours,
			status = :status,
			updated_at = :updated_at
		WHERE id = :id`, newRankBudgetRow(b))
	if err != nil {
		return fmt.Errorf("failed to update rank budget %d: %w", b.ID, err)
	}
	return nil
}

func (q *queries) DeleteRankBudgets(ctx context.Context, ids []core.BudgetID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM rank_budgets WHERE id IN (?)`, int64s(ids)); err != nil {
		return fmt.Errorf("failed to delete rank budgets: %w", err)
	}
	return nil
}

func (q *queries) DeleteSnapshotBudgets(ctx context.Context, engagementID core.EngagementID, closingPeriodID core.ClosingPeriodID) error {
	_, err := q.ext.ExecContext(ctx, `DELETE FROM rank_budgets WHERE engagement_id = ? AND closing_period_id = ?`,
		int64(engagementID), int64(closingPeriodID))
	if err != nil {
		return fmt.Errorf("failed to clear hours snapshot: %w", err)
	}
	return nil
}

// =============================================================================
// REVENUE ALLOCATIONS
// =============================================================================

type revenueRow struct {
	ID              int64           `db:"id"`
	EngagementID    int64           `db:"engagement_id"`
	FiscalYearID    int64           `db:"fiscal_year_id"`
	ClosingPeriodID int64           `db:"closing_period_id"`
	ToDateValue     decimal.Decimal `db:"to_date_value"`
	ToGoValue       decimal.Decimal `db:"to_go_value"`
	LastUpdateDate  string          `db:"last_update_date"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

func (q *queries) ListRevenueAllocations(ctx context.Context, engagementID core.EngagementID, closingPeriodID core.ClosingPeriodID) ([]core.RevenueAllocation, error) {
	var rows []revenueRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, engagement_id, fiscal_year_id, closing_period_id, to_date_value, to_go_value,
		       last_update_date, created_at, updated_at
		FROM revenue_allocations
		WHERE engagement_id = ? AND closing_period_id = ?
		ORDER BY id`, int64(engagementID), int64(closingPeriodID))
	if err != nil {
		return nil, fmt.Errorf("failed to list revenue snapshot for engagement %d, period %d: %w", engagementID, closingPeriodID, err)
	}

	out := make([]core.RevenueAllocation, 0, len(rows))
	for _, r := range rows {
		lastUpdate, err := parseDate(r.LastUpdateDate)
		if err != nil {
			return nil, err
		}
		out = append(out, core.RevenueAllocation{
			ID:              r.ID,
			EngagementID:    core.EngagementID(r.EngagementID),
			FiscalYearID:    core.FiscalYearID(r.FiscalYearID),
			ClosingPeriodID: core.ClosingPeriodID(r.ClosingPeriodID),
			ToDateValue:     r.ToDateValue,
			ToGoValue:       r.ToGoValue,
			LastUpdateDate:  lastUpdate,
			CreatedAt:       parseTime(r.CreatedAt),
			UpdatedAt:       parseTime(r.UpdatedAt),
		})
	}
	return out, nil
}

func (q *queries) InsertRevenueAllocations(ctx context.Context, allocations []core.RevenueAllocation) error {
	for _, a := range allocations {
		lastUpdate := a.LastUpdateDate
		if lastUpdate.IsZero() {
			lastUpdate = core.DateOf(a.UpdatedAt)
		}
		row := revenueRow{
			EngagementID:    int64(a.EngagementID),
			FiscalYearID:    int64(a.FiscalYearID),
			ClosingPeriodID: int64(a.ClosingPeriodID),
			ToDateValue:     a.ToDateValue,
			ToGoValue:       a.ToGoValue,
			LastUpdateDate:  lastUpdate.String(),
			CreatedAt:       formatTime(a.CreatedAt),
			UpdatedAt:       formatTime(a.UpdatedAt),
		}
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO revenue_allocations
			(engagement_id, fiscal_year_id, closing_period_id, to_date_value, to_go_value, last_update_date, created_at, updated_at)
			VALUES (:engagement_id, :fiscal_year_id, :closing_period_id, :to_date_value, :to_go_value, :last_update_date, :created_at, :updated_at)`,
			row)
		if err != nil {
			return fmt.Errorf("failed to insert revenue allocation for fiscal year %d: %w", a.FiscalYearID, err)
		}
	}
	return nil
}

func (q *queries) DeleteRevenueAllocations(ctx context.Context, engagementID core.EngagementID, closingPeriodID core.ClosingPeriodID) error {
	_, err := q.ext.ExecContext(ctx, `DELETE FROM revenue_allocations WHERE engagement_id = ? AND closing_period_id = ?`,
		int64(engagementID), int64(closingPeriodID))
	if err != nil {
		return fmt.Errorf("failed to clear revenue snapshot: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

type ledgerRow struct {
	ID               int64               `db:"id"`
	EngagementID     int64               `db:"engagement_id"`
	ClosingPeriodKey string              `db:"closing_period_key"`
	FiscalYearID     sql.NullInt64       `db:"fiscal_year_id"`
	RevenueToDate    decimal.NullDecimal `db:"revenue_to_date"`
	RevenueToGo      decimal.NullDecimal `db:"revenue_to_go"`
	BudgetHours      decimal.NullDecimal `db:"budget_hours"`
	ChargedHours     decimal.NullDecimal `db:"charged_hours"`
	AdditionalHours  decimal.NullDecimal `db:"additional_hours"`
}

// GetLedgerSnapshot returns nil when no ledger row exists for the scope.
func (q *queries) GetLedgerSnapshot(ctx context.Context, engagementID core.EngagementID, closingPeriodKey string) (*core.LedgerSnapshot, error) {
	var row ledgerRow
	err := sqlx.GetContext(ctx, q.ext, &row, `
		SELECT id, engagement_id, closing_period_key, fiscal_year_id, revenue_to_date, revenue_to_go,
		       budget_hours, charged_hours, additional_hours
		FROM ledger_snapshots
		WHERE engagement_id = ? AND closing_period_key = ?`, int64(engagementID), closingPeriodKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger snapshot: %w", err)
	}

	l := &core.LedgerSnapshot{
		ID:               row.ID,
		EngagementID:     core.EngagementID(row.EngagementID),
		ClosingPeriodKey: row.ClosingPeriodKey,
		RevenueToDate:    row.RevenueToDate,
		RevenueToGo:      row.RevenueToGo,
		BudgetHours:      row.BudgetHours,
		ChargedHours:     row.ChargedHours,
		AdditionalHours:  row.AdditionalHours,
	}
	if row.FiscalYearID.Valid {
		fy := core.FiscalYearID(row.FiscalYearID.Int64)
		l.FiscalYearID = &fy
	}
	return l, nil
}

func (q *queries) UpsertLedgerSnapshot(ctx context.Context, l *core.LedgerSnapshot) error {
	row := ledgerRow{
		EngagementID:     int64(l.EngagementID),
		ClosingPeriodKey: l.ClosingPeriodKey,
		RevenueToDate:    l.RevenueToDate,
		RevenueToGo:      l.RevenueToGo,
		BudgetHours:      l.BudgetHours,
		ChargedHours:     l.ChargedHours,
		AdditionalHours:  l.AdditionalHours,
	}
	if l.FiscalYearID != nil {
		row.FiscalYearID = sql.NullInt64{Int64: int64(*l.FiscalYearID), Valid: true}
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO ledger_snapshots
		(engagement_id, closing_period_key, fiscal_year_id, revenue_to_date, revenue_to_go,
		 budget_hours, charged_hours, additional_hours)
		VALUES (:engagement_id, :closing_period_key, :fiscal_year_id, :revenue_to_date, :revenue_to_go,
		 :budget_hours, :charged_hours, :additional_hours)
		ON CONFLICT(engagement_id, closing_period_key) DO UPDATE SET
			fiscal_year_id = excluded.fiscal_year_id,
			revenue_to_date = excluded.revenue_to_date,
			revenue_to_go = excluded.revenue_to_go,
			budget_hours = excluded.budget_hours,
			charged_hours = excluded.charged_hours,
			additional_hours = excluded.additional_hours`, row)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger snapshot for engagement %d, period %s: %w",
			l.EngagementID, l.ClosingPeriodKey, err)
	}

	var id int64
	err = sqlx.GetContext(ctx, q.ext, &id,
		`SELECT id FROM ledger_snapshots WHERE engagement_id = ? AND closing_period_key = ?`,
		int64(l.EngagementID), l.ClosingPeriodKey)
	if err != nil {
		return fmt.Errorf("failed to read back ledger snapshot id: %w", err)
	}
	l.ID = id
	return nil
}

// =============================================================================
// FORECASTS
// =============================================================================

type forecastRow struct {
	ID            int64           `db:"id"`
	EngagementID  int64           `db:"engagement_id"`
	FiscalYearID  int64           `db:"fiscal_year_id"`
	RankName      string          `db:"rank_name"`
	ForecastHours decimal.Decimal `db:"forecast_hours"`
	CreatedAt     string          `db:"created_at"`
	UpdatedAt     string          `db:"updated_at"`
}

func (q *queries) ListForecastRecords(ctx context.Context, engagementIDs ...core.EngagementID) ([]core.ForecastRecord, error) {
	var rows []forecastRow
	var err error
	const cols = `SELECT id, engagement_id, fiscal_year_id, rank_name, forecast_hours, created_at, updated_at FROM forecast_records`
	if len(engagementIDs) == 0 {
		err = sqlx.SelectContext(ctx, q.ext, &rows, cols+` ORDER BY id`)
	} else {
		err = q.selectIn(ctx, &rows, cols+` WHERE engagement_id IN (?) ORDER BY id`, int64s(engagementIDs))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list forecast records: %w", err)
	}

	out := make([]core.ForecastRecord, len(rows))
	for i, r := range rows {
		out[i] = core.ForecastRecord{
			ID:            r.ID,
			EngagementID:  core.EngagementID(r.EngagementID),
			FiscalYearID:  core.FiscalYearID(r.FiscalYearID),
			RankName:      r.RankName,
			ForecastHours: r.ForecastHours,
			CreatedAt:     parseTime(r.CreatedAt),
			UpdatedAt:     parseTime(r.UpdatedAt),
		}
	}
	return out, nil
}

func (q *queries) InsertForecastRecords(ctx context.Context, records []core.ForecastRecord) error {
	for _, f := range records {
		row := forecastRow{
			EngagementID:  int64(f.EngagementID),
			FiscalYearID:  int64(f.FiscalYearID),
			RankName:      f.RankName,
			ForecastHours: f.ForecastHours,
			CreatedAt:     formatTime(f.CreatedAt),
			UpdatedAt:     formatTime(f.UpdatedAt),
		}
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO forecast_records (engagement_id, fiscal_year_id, rank_name, forecast_hours, created_at, updated_at)
			VALUES (:engagement_id, :fiscal_year_id, :rank_name, :forecast_hours, :created_at, :updated_at)`, row)
		if err != nil {
			return fmt.Errorf("failed to insert forecast for engagement %d, rank '%s': %w", f.EngagementID, f.RankName, err)
		}
	}
	return nil
}

func (q *queries) DeleteForecastRecords(ctx context.Context, engagementIDs []core.EngagementID) error {
	if len(engagementIDs) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM forecast_records WHERE engagement_id IN (?)`, int64s(engagementIDs)); err != nil {
		return fmt.Errorf("failed to delete forecast records: %w", err)
	}
	return nil
}

// =============================================================================
// ACTUALS
// =============================================================================

type actualsRow struct {
	ID           int64           `db:"id"`
	EngagementID int64           `db:"engagement_id"`
	Date         string          `db:"date"`
	Hours        decimal.Decimal `db:"hours"`
}

func (q *queries) InsertActuals(ctx context.Context, entries []core.ActualsEntry) error {
	for _, e := range entries {
		row := actualsRow{
			EngagementID: int64(e.EngagementID),
			Date:         e.Date.String(),
			Hours:        e.Hours,
		}
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO actuals_entries (engagement_id, date, hours)
			VALUES (:engagement_id, :date, :hours)`, row)
		if err != nil {
			return fmt.Errorf("failed to insert actuals for engagement %d on %s: %w", e.EngagementID, e.Date, err)
		}
	}
	return nil
}

func (q *queries) ListActuals(ctx context.Context, engagementIDs []core.EngagementID) ([]core.ActualsEntry, error) {
	if len(engagementIDs) == 0 {
		return nil, nil
	}
	var rows []actualsRow
	err := q.selectIn(ctx, &rows, `SELECT id, engagement_id, date, hours FROM actuals_entries
		WHERE engagement_id IN (?) ORDER BY date, id`, int64s(engagementIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list actuals: %w", err)
	}

	out := make([]core.ActualsEntry, 0, len(rows))
	for _, r := range rows {
		d, err := parseDate(r.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, core.ActualsEntry{
			ID:           r.ID,
			EngagementID: core.EngagementID(r.EngagementID),
			Date:         d,
			Hours:        r.Hours,
		})
	}
	return out, nil
}
