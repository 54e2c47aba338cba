/*
Package allocation edits the hours matrix of an engagement.

PURPOSE:
  Each engagement budgets hours per rank and fiscal year. The working cells
  (rank budgets without a closing period) form a rank x fiscal-year matrix
  that planners read and edit through this service.

OPERATIONS:
  GetAllocation: Matrix with engagement totals, columns ordered unlocked
                 first then by start date, one row per rank (alphabetical,
                 ignoring case), one cell per column
  Save:          Consumed-hours cell edits plus per-rank additional hours
  AddRank:       One zero cell per open fiscal year
  DeleteRank:    Removes every cell of a rank whose hours are all zero

SUMMARY CELL:
  The cell of a rank's earliest fiscal year carries the rank-level figures:
  additional hours, and the rank remaining (total budget + additional -
  total consumed) in RemainingHours. Other cells keep budget - consumed
  and zero additional hours. Every cell of a rank shares the rank status.

LOCKING:
  A consumed-hours edit on a cell of a locked fiscal year fails the whole
  Save. The lock flag is read inside the write transaction.

SEE ALSO:
  - snapshot.go: Matrix projection
  - core/lock.go: Lock guard
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// CellUpdate sets the consumed hours of one stored cell.
type CellUpdate struct {
	BudgetID      core.BudgetID
	ConsumedHours decimal.Decimal
}

// RowAdjustment sets the additional hours of a rank.
type RowAdjustment struct {
	RankName        string
	AdditionalHours decimal.Decimal
}

// SaveInput is one editor submission.
type SaveInput struct {
	Cells       []CellUpdate
	Adjustments []RowAdjustment
}

func (in SaveInput) empty() bool { return len(in.Cells) == 0 && len(in.Adjustments) == 0 }

// Service implements the hours allocation operations.
type Service struct {
	store core.TxStore
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store core.TxStore, log logrus.FieldLogger) *Service {
	return &Service{
		store: store,
		log:   log.WithField("component", "allocation"),
		now:   time.Now,
	}
}

// =============================================================================
// READ
// =============================================================================

// GetAllocation returns the matrix of the engagement.
func (s *Service) GetAllocation(ctx context.Context, engagementID core.EngagementID) (*Snapshot, error) {
	e, err := s.store.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, core.EngagementNotFound(engagementID)
	}

	years, err := s.store.ListFiscalYears(ctx)
	if err != nil {
		return nil, err
	}
	budgets, err := s.store.ListWorkingBudgets(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(e, years, budgets), nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save applies consumed-hours edits and additional-hours adjustments, then
// recomputes remaining hours and status for every rank. Every check runs
// before the first write: on error nothing is stored.
func (s *Service) Save(ctx context.Context, engagementID core.EngagementID, in SaveInput) (*Snapshot, error) {
	if in.empty() {
		return s.GetAllocation(ctx, engagementID)
	}

	var updated int
	err := s.store.WithTx(ctx, func(tx core.Store) error {
		e, err := tx.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		if e == nil {
			return core.EngagementNotFound(engagementID)
		}

		budgets, err := tx.ListWorkingBudgets(ctx, engagementID)
		if err != nil {
			return err
		}
		byID := make(map[core.BudgetID]*core.RankBudget, len(budgets))
		for i := range budgets {
			byID[budgets[i].ID] = &budgets[i]
		}

		touched := make([]core.FiscalYearID, 0, len(in.Cells))
		for _, u := range in.Cells {
			b, ok := byID[u.BudgetID]
			if !ok {
				return &core.BudgetReferenceError{EngagementCode: e.Code, BudgetID: u.BudgetID}
			}
			touched = append(touched, b.FiscalYearID)
		}
		if err := core.EnsureFiscalYearsUnlocked(ctx, tx, touched, "adjust consumed hours"); err != nil {
			return fmt.Errorf("engagement %s: %w", e.Code, err)
		}

		years, err := tx.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		yearByID := make(map[core.FiscalYearID]core.FiscalYear, len(years))
		for _, fy := range years {
			yearByID[fy.ID] = fy
		}
		groups := groupByRank(budgets, yearByID)

		additional, err := adjustmentsByRank(e.Code, in.Adjustments, groups)
		if err != nil {
			return err
		}

		before := make(map[core.BudgetID]core.RankBudget, len(budgets))
		for _, b := range budgets {
			before[b.ID] = b
		}

		for _, u := range in.Cells {
			byID[u.BudgetID].ConsumedHours = core.Round2(u.ConsumedHours)
		}
		for _, g := range groups {
			if hours, ok := additional[g.key]; ok {
				g.summary().AdditionalHours = hours
			}
			recompute(g)
		}

		now := s.now()
		for _, b := range budgets {
			if !changed(before[b.ID], b) {
				continue
			}
			b.UpdatedAt = now
			if err := tx.UpdateRankBudget(ctx, b); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"engagement_id": engagementID,
		"cells":         len(in.Cells),
		"adjustments":   len(in.Adjustments),
		"updated":       updated,
	}).Info("Hours allocation saved")

	return s.GetAllocation(ctx, engagementID)
}

// adjustmentsByRank rounds the additional hours per rank key. The last
// adjustment of a rank wins. Ranks without cells are rejected.
func adjustmentsByRank(code string, adjustments []RowAdjustment, groups []*rankGroup) (map[string]decimal.Decimal, error) {
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g.key] = true
	}

	out := make(map[string]decimal.Decimal, len(adjustments))
	for _, adj := range adjustments {
		key := core.FoldKey(adj.RankName)
		if !known[key] {
			return nil, &core.RankError{
				EngagementCode: code,
				Rank:           core.NormalizeRank(adj.RankName),
				Err:            fmt.Errorf("%w: rank has no allocation cells", core.ErrInvalidInput),
			}
		}
		out[key] = core.Round2(adj.AdditionalHours)
	}
	return out, nil
}

// recompute refreshes remaining hours and status of every cell of a rank.
func recompute(g *rankGroup) {
	summary := g.summary()
	for _, b := range g.budgets[1:] {
		b.AdditionalHours = decimal.Zero
		b.RemainingHours = core.Round2(b.Remaining())
	}

	remaining := g.remaining()
	status := core.StatusFor(remaining)
	summary.RemainingHours = remaining
	for _, b := range g.budgets {
		b.Status = status
	}
}

func changed(a, b core.RankBudget) bool {
	return !a.ConsumedHours.Equal(b.ConsumedHours) ||
		!a.AdditionalHours.Equal(b.AdditionalHours) ||
		!a.RemainingHours.Equal(b.RemainingHours) ||
		a.Status != b.Status
}

// =============================================================================
// RANKS
// =============================================================================

// AddRank creates one zero cell per open fiscal year for a new rank.
func (s *Service) AddRank(ctx context.Context, engagementID core.EngagementID, rankName string) (*Snapshot, error) {
	rank := core.NormalizeRank(rankName)
	if rank == "" {
		return nil, fmt.Errorf("%w: the rank name must be provided", core.ErrInvalidInput)
	}

	var created int
	err := s.store.WithTx(ctx, func(tx core.Store) error {
		e, err := tx.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		if e == nil {
			return core.EngagementNotFound(engagementID)
		}

		budgets, err := tx.ListWorkingBudgets(ctx, engagementID)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if core.SameName(b.RankName, rank) {
				return &core.RankError{EngagementCode: e.Code, Rank: rank, Err: core.ErrDuplicateRank}
			}
		}

		years, err := tx.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		var cells []core.RankBudget
		for _, fy := range years {
			if fy.Locked {
				continue
			}
			cells = append(cells, core.RankBudget{
				EngagementID:    e.ID,
				FiscalYearID:    fy.ID,
				RankName:        rank,
				BudgetHours:     decimal.Zero,
				ConsumedHours:   decimal.Zero,
				AdditionalHours: decimal.Zero,
				ForecastHours:   decimal.Zero,
				RemainingHours:  decimal.Zero,
				Status:          core.StatusGreen,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
		if len(cells) == 0 {
			return &core.RankError{EngagementCode: e.Code, Rank: rank, Err: core.ErrNoOpenFiscalYears}
		}

		if err := tx.InsertRankBudgets(ctx, cells); err != nil {
			return &core.RankError{EngagementCode: e.Code, Rank: rank, Err: err}
		}
		created = len(cells)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"engagement_id": engagementID,
		"rank":          rank,
		"cells":         created,
	}).Info("Rank added")

	return s.GetAllocation(ctx, engagementID)
}

// DeleteRank removes every cell of a rank. It fails when any cell has
// non-zero rounded budget or consumed hours. Deleting an unknown rank is a
// no-op.
func (s *Service) DeleteRank(ctx context.Context, engagementID core.EngagementID, rankName string) error {
	rank := core.NormalizeRank(rankName)
	if rank == "" {
		return fmt.Errorf("%w: the rank name must be provided", core.ErrInvalidInput)
	}

	var removed int
	err := s.store.WithTx(ctx, func(tx core.Store) error {
		e, err := tx.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		if e == nil {
			return core.EngagementNotFound(engagementID)
		}

		budgets, err := tx.ListWorkingBudgets(ctx, engagementID)
		if err != nil {
			return err
		}
		var ids []core.BudgetID
		for _, b := range budgets {
			if !core.SameName(b.RankName, rank) {
				continue
			}
			if !b.IsEmpty() {
				return &core.RankError{EngagementCode: e.Code, Rank: rank, Err: core.ErrRankNotEmpty}
			}
			ids = append(ids, b.ID)
		}
		removed = len(ids)
		return tx.DeleteRankBudgets(ctx, ids)
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		s.log.WithFields(logrus.Fields{
			"engagement_id": engagementID,
			"rank":          rank,
			"cells":         removed,
		}).Info("Rank deleted")
	}
	return nil
}
