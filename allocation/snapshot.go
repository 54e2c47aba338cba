package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/core"
)

// Snapshot is the rank x fiscal-year matrix of one engagement.
type Snapshot struct {
	EngagementID             core.EngagementID
	EngagementCode           string
	Description              string
	InitialHoursBudget       decimal.Decimal
	EstimatedToCompleteHours decimal.Decimal
	// ToBeConsumedHours is estimated-to-complete minus hours consumed in
	// unlocked fiscal years. Locked years are closed and excluded.
	ToBeConsumedHours decimal.Decimal

	FiscalYears []FiscalYearInfo
	Rows        []Row
}

// FiscalYearInfo is a matrix column.
type FiscalYearInfo struct {
	ID        core.FiscalYearID
	Name      string
	StartDate core.Date
	Locked    bool
}

// Row holds one rank. Cells follow the order of Snapshot.FiscalYears.
type Row struct {
	RankName string
	// AdditionalHours is stored on the rank's summary cell (earliest fiscal year).
	AdditionalHours decimal.Decimal
	RemainingHours  decimal.Decimal
	Status          core.TrafficLight
	Cells           []Cell
}

// Cell is one rank x fiscal-year value. BudgetID is nil when no row is
// stored for the pair; such cells are all zero.
type Cell struct {
	BudgetID       *core.BudgetID
	FiscalYearID   core.FiscalYearID
	BudgetHours    decimal.Decimal
	ConsumedHours  decimal.Decimal
	ForecastHours  decimal.Decimal
	RemainingHours decimal.Decimal
	Locked         bool
}

// Row returns the row of a rank, matched ignoring case.
func (s *Snapshot) Row(rank string) (Row, bool) {
	for _, r := range s.Rows {
		if core.SameName(r.RankName, rank) {
			return r, true
		}
	}
	return Row{}, false
}

// =============================================================================
// RANK GROUPS
// =============================================================================

// rankGroup is every working cell of one rank, ordered by fiscal year start.
// The first cell is the summary cell.
type rankGroup struct {
	key     string
	name    string
	budgets []*core.RankBudget
}

func (g *rankGroup) summary() *core.RankBudget { return g.budgets[0] }

func (g *rankGroup) totalBudget() decimal.Decimal {
	return core.Sum(g.budgets, func(b *core.RankBudget) decimal.Decimal { return b.BudgetHours })
}

func (g *rankGroup) totalConsumed() decimal.Decimal {
	return core.Sum(g.budgets, func(b *core.RankBudget) decimal.Decimal { return b.ConsumedHours })
}

// remaining is the rank total: budget plus additional minus consumed.
func (g *rankGroup) remaining() decimal.Decimal {
	return core.Round2(g.totalBudget().Add(g.summary().AdditionalHours).Sub(g.totalConsumed()))
}

// groupByRank groups budgets by case-insensitive rank, groups sorted by rank
// and cells by fiscal year start then fiscal year id. Cells whose fiscal
// year is unknown sort last.
func groupByRank(budgets []core.RankBudget, years map[core.FiscalYearID]core.FiscalYear) []*rankGroup {
	byKey := make(map[string]*rankGroup)
	var groups []*rankGroup
	for i := range budgets {
		b := &budgets[i]
		key := core.FoldKey(b.RankName)
		g, ok := byKey[key]
		if !ok {
			g = &rankGroup{key: key, name: core.NormalizeRank(b.RankName)}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.budgets = append(g.budgets, b)
	}

	for _, g := range groups {
		sort.SliceStable(g.budgets, func(i, j int) bool {
			a, b := g.budgets[i], g.budgets[j]
			fa, okA := years[a.FiscalYearID]
			fb, okB := years[b.FiscalYearID]
			switch {
			case okA && !okB:
				return true
			case !okA && okB:
				return false
			case okA && okB && !fa.StartDate.Equal(fb.StartDate):
				return fa.StartDate.Before(fb.StartDate)
			case a.FiscalYearID != b.FiscalYearID:
				return a.FiscalYearID < b.FiscalYearID
			}
			return a.ID < b.ID
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	return groups
}

// orderColumns sorts fiscal years unlocked first, then by start date.
func orderColumns(years []core.FiscalYear) []core.FiscalYear {
	out := append([]core.FiscalYear(nil), years...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Locked != out[j].Locked {
			return !out[i].Locked
		}
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// buildSnapshot projects the working cells onto the fiscal year columns.
func buildSnapshot(e *core.Engagement, years []core.FiscalYear, budgets []core.RankBudget) *Snapshot {
	columns := orderColumns(years)
	yearByID := make(map[core.FiscalYearID]core.FiscalYear, len(years))
	for _, fy := range years {
		yearByID[fy.ID] = fy
	}

	snap := &Snapshot{
		EngagementID:             e.ID,
		EngagementCode:           e.Code,
		Description:              e.Description,
		InitialHoursBudget:       e.InitialHoursBudget,
		EstimatedToCompleteHours: e.EstimatedToCompleteHours,
		FiscalYears:              make([]FiscalYearInfo, len(columns)),
	}
	for i, fy := range columns {
		snap.FiscalYears[i] = FiscalYearInfo{ID: fy.ID, Name: fy.Name, StartDate: fy.StartDate, Locked: fy.Locked}
	}

	consumedOpen := decimal.Zero
	for _, b := range budgets {
		if fy, ok := yearByID[b.FiscalYearID]; ok && fy.Locked {
			continue
		}
		consumedOpen = consumedOpen.Add(b.ConsumedHours)
	}
	snap.ToBeConsumedHours = e.EstimatedToCompleteHours.Sub(consumedOpen)

	for _, g := range groupByRank(budgets, yearByID) {
		remaining := g.remaining()
		row := Row{
			RankName:        g.name,
			AdditionalHours: g.summary().AdditionalHours,
			RemainingHours:  remaining,
			Status:          core.StatusFor(remaining),
			Cells:           make([]Cell, 0, len(columns)),
		}
		for _, fy := range columns {
			row.Cells = append(row.Cells, cellFor(g, fy))
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap
}

func cellFor(g *rankGroup, fy core.FiscalYear) Cell {
	for _, b := range g.budgets {
		if b.FiscalYearID != fy.ID {
			continue
		}
		id := b.ID
		return Cell{
			BudgetID:       &id,
			FiscalYearID:   fy.ID,
			BudgetHours:    b.BudgetHours,
			ConsumedHours:  b.ConsumedHours,
			ForecastHours:  b.ForecastHours,
			RemainingHours: core.Round2(b.Remaining()),
			Locked:         fy.Locked,
		}
	}
	return Cell{
		FiscalYearID:   fy.ID,
		BudgetHours:    decimal.Zero,
		ConsumedHours:  decimal.Zero,
		ForecastHours:  decimal.Zero,
		RemainingHours: decimal.Zero,
		Locked:         fy.Locked,
	}
}
