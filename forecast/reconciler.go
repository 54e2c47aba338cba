/*
Package forecast reconciles staffing forecasts with hours budgets and actuals.

PURPOSE:
  An external importer hands over forecast tuples (engagement code, rank,
  fiscal year, hours). UpdateForecast folds them into stored forecast
  records and the forecast hours of the working rank budgets, then derives
  one Row per (engagement, fiscal year, rank) classified OK, Risk or Overrun.

UPDATE STEPS (one transaction):
  1. Drop records with no engagement code or no fiscal year
  2. Blank ranks become "Unspecified"
  3. Resolve codes ignoring case; unresolved codes -> MissingEngagements
  4. Sum hours per (engagement, fiscal year, rank)
  5. Sum again per (engagement, rank)
  6. Store each rank total on the rank's summary working cell; a rank with
     no working cells -> MissingBudgets ("code:rank")
  7. Reset forecast hours of every other working cell of a touched engagement
  8. Replace the forecast records of the touched engagements

STATUS:
  Overrun: total actuals > initial budget + 0.01
  Risk:    forecast > budget + 0.01, or forecast > available-to-actuals + 0.01
  OK:      otherwise

SEE ALSO:
  - rows.go: Row derivation and status
*/
package forecast

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// InputRecord is one forecast tuple from the importer.
type InputRecord struct {
	EngagementCode string
	Rank           string
	FiscalYearID   *core.FiscalYearID
	Hours          decimal.Decimal
}

// UpdateResult reports one UpdateForecast run. Anomalies are listed, not
// returned as errors.
type UpdateResult struct {
	ProcessedRecords   int
	UpdatedEngagements int
	MissingEngagements []string
	MissingBudgets     []string
	UnknownRanks       []string
	Rows               []Row
	RiskCount          int
	OverrunCount       int
}

func newUpdateResult(processed int) *UpdateResult {
	return &UpdateResult{
		ProcessedRecords:   processed,
		MissingEngagements: []string{},
		MissingBudgets:     []string{},
		UnknownRanks:       []string{},
		Rows:               []Row{},
	}
}

// Reconciler implements the forecast operations.
type Reconciler struct {
	store core.TxStore
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewReconciler(store core.TxStore, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   log.WithField("component", "forecast"),
		now:   time.Now,
	}
}

// aggregate is the summed forecast of one (engagement, fiscal year, rank).
type aggregate struct {
	engagement core.Engagement
	fiscalYear core.FiscalYearID
	rank       string
	hours      decimal.Decimal
}

type aggregateKey struct {
	engagement core.EngagementID
	fiscalYear core.FiscalYearID
	rank       string // folded
}

type rankKey struct {
	engagement core.EngagementID
	rank       string // folded
}

// nameSet collects names once each, ignoring case, in insertion order.
type nameSet struct {
	seen  map[string]bool
	names []string
}

func (s *nameSet) add(name string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	key := core.FoldKey(name)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.names = append(s.names, name)
}

func (s *nameSet) list() []string {
	if s.names == nil {
		return []string{}
	}
	return s.names
}

// normalizeRank trims a rank and replaces a blank one with core.UnspecifiedRank.
func normalizeRank(rank string) string {
	if r := core.NormalizeRank(rank); r != "" {
		return r
	}
	return core.UnspecifiedRank
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateForecast applies a forecast import. See the package doc for steps.
func (r *Reconciler) UpdateForecast(ctx context.Context, records []InputRecord) (*UpdateResult, error) {
	result := newUpdateResult(len(records))

	type normalized struct {
		code  string
		rank  string
		year  core.FiscalYearID
		hours decimal.Decimal
	}
	var input []normalized
	for _, rec := range records {
		code := strings.TrimSpace(rec.EngagementCode)
		if code == "" || rec.FiscalYearID == nil {
			continue
		}
		input = append(input, normalized{code: code, rank: normalizeRank(rec.Rank), year: *rec.FiscalYearID, hours: rec.Hours})
	}
	if len(input) == 0 {
		r.log.WithField("records", len(records)).Info("Forecast import carried no usable records")
		return result, nil
	}

	var missingEngagements, missingBudgets, unknownRanks nameSet
	err := r.store.WithTx(ctx, func(tx core.Store) error {
		var codes nameSet
		for _, in := range input {
			codes.add(in.code)
		}
		found, err := tx.FindEngagementsByCode(ctx, codes.list())
		if err != nil {
			return err
		}
		byCode := make(map[string]core.Engagement, len(found))
		for _, e := range found {
			byCode[core.FoldKey(e.Code)] = e
		}

		// Steps 3-4
		var aggregates []*aggregate
		byKey := make(map[aggregateKey]*aggregate)
		touched := make(map[core.EngagementID]core.Engagement)
		for _, in := range input {
			e, ok := byCode[core.FoldKey(in.code)]
			if !ok {
				missingEngagements.add(in.code)
				continue
			}
			if core.SameName(in.rank, core.UnspecifiedRank) {
				unknownRanks.add(in.rank)
			}
			touched[e.ID] = e

			key := aggregateKey{engagement: e.ID, fiscalYear: in.year, rank: core.FoldKey(in.rank)}
			if a, ok := byKey[key]; ok {
				a.hours = a.hours.Add(in.hours)
				continue
			}
			a := &aggregate{engagement: e, fiscalYear: in.year, rank: in.rank, hours: in.hours}
			byKey[key] = a
			aggregates = append(aggregates, a)
		}
		if len(aggregates) == 0 {
			return nil
		}

		// Step 5
		totals := make(map[rankKey]decimal.Decimal)
		var order []rankKey
		for _, a := range aggregates {
			key := rankKey{engagement: a.engagement.ID, rank: core.FoldKey(a.rank)}
			if _, ok := totals[key]; !ok {
				order = append(order, key)
			}
			totals[key] = totals[key].Add(a.hours)
		}

		ids := make([]core.EngagementID, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		years, err := tx.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		budgets, err := tx.ListWorkingBudgets(ctx, ids...)
		if err != nil {
			return err
		}

		// Steps 6-7
		cells := groupCells(budgets, years)
		target := make(map[core.BudgetID]decimal.Decimal, len(budgets))
		for _, b := range budgets {
			target[b.ID] = decimal.Zero
		}
		for _, key := range order {
			group, ok := cells[key]
			if !ok {
				missingBudgets.add(touched[key.engagement].Code + ":" + rankName(aggregates, key))
				continue
			}
			target[group[0].ID] = totals[key]
		}

		now := r.now().UTC()
		var updated int
		for _, b := range budgets {
			hours := target[b.ID]
			if b.ForecastHours.Equal(hours) {
				continue
			}
			b.ForecastHours = hours
			b.UpdatedAt = now
			if err := tx.UpdateRankBudget(ctx, b); err != nil {
				return err
			}
			updated++
		}

		// Step 8
		if err := tx.DeleteForecastRecords(ctx, ids); err != nil {
			return err
		}
		stored := make([]core.ForecastRecord, len(aggregates))
		for i, a := range aggregates {
			stored[i] = core.ForecastRecord{
				EngagementID:  a.engagement.ID,
				FiscalYearID:  a.fiscalYear,
				RankName:      a.rank,
				ForecastHours: a.hours,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		}
		if err := tx.InsertForecastRecords(ctx, stored); err != nil {
			return err
		}

		rows, err := r.buildRows(ctx, tx, stored, touched, years)
		if err != nil {
			return err
		}
		result.Rows = rows
		result.UpdatedEngagements = len(ids)

		r.log.WithFields(logrus.Fields{
			"engagements":   len(ids),
			"records":       len(stored),
			"budgets_moved": updated,
		}).Debug("Forecast records replaced")
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.MissingEngagements = missingEngagements.list()
	result.MissingBudgets = missingBudgets.list()
	result.UnknownRanks = unknownRanks.list()
	result.RiskCount, result.OverrunCount = countStatuses(result.Rows)

	r.log.WithFields(logrus.Fields{
		"processed":           result.ProcessedRecords,
		"updated_engagements": result.UpdatedEngagements,
		"missing_engagements": len(result.MissingEngagements),
		"missing_budgets":     len(result.MissingBudgets),
		"risk":                result.RiskCount,
		"overrun":             result.OverrunCount,
	}).Info("Forecast updated")
	return result, nil
}

// groupCells groups working cells by (engagement, rank). Each group is ordered
// by fiscal year start so that its first cell is the rank's summary cell.
func groupCells(budgets []core.RankBudget, years []core.FiscalYear) map[rankKey][]core.RankBudget {
	starts := make(map[core.FiscalYearID]core.Date, len(years))
	for _, fy := range years {
		starts[fy.ID] = fy.StartDate
	}

	groups := make(map[rankKey][]core.RankBudget)
	for _, b := range budgets {
		key := rankKey{engagement: b.EngagementID, rank: core.FoldKey(b.RankName)}
		groups[key] = append(groups[key], b)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			sa, okA := starts[g[i].FiscalYearID]
			sb, okB := starts[g[j].FiscalYearID]
			switch {
			case okA && !okB:
				return true
			case !okA && okB:
				return false
			case okA && okB && !sa.Equal(sb):
				return sa.Before(sb)
			case g[i].FiscalYearID != g[j].FiscalYearID:
				return g[i].FiscalYearID < g[j].FiscalYearID
			}
			return g[i].ID < g[j].ID
		})
	}
	return groups
}

// rankName returns the first submitted spelling of a rank.
func rankName(aggregates []*aggregate, key rankKey) string {
	for _, a := range aggregates {
		if a.engagement.ID == key.engagement && core.FoldKey(a.rank) == key.rank {
			return a.rank
		}
	}
	return key.rank
}

// =============================================================================
// READ
// =============================================================================

// GetCurrentForecast derives the rows of every stored forecast record.
func (r *Reconciler) GetCurrentForecast(ctx context.Context) ([]Row, error) {
	records, err := r.store.ListForecastRecords(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []Row{}, nil
	}

	engagements, err := r.store.ListEngagements(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.EngagementID]core.Engagement, len(engagements))
	for _, e := range engagements {
		byID[e.ID] = e
	}
	years, err := r.store.ListFiscalYears(ctx)
	if err != nil {
		return nil, err
	}
	return r.buildRows(ctx, r.store, records, byID, years)
}
