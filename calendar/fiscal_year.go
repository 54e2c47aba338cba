package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/core"
)

// LockFiscalYear closes a fiscal year. Every allocation, snapshot and
// consumed-hours edit touching it fails afterwards. Locking a locked year
// keeps the original LockedAt / LockedBy.
func (c *Checker) LockFiscalYear(ctx context.Context, id core.FiscalYearID, by string) (*core.FiscalYear, error) {
	var result *core.FiscalYear
	err := c.store.WithTx(ctx, func(tx core.Store) error {
		fy, err := tx.GetFiscalYear(ctx, id)
		if err != nil {
			return err
		}
		if fy == nil {
			return core.FiscalYearNotFound(id)
		}
		result = fy
		if fy.Locked {
			return nil
		}

		now := time.Now().UTC()
		fy.Locked = true
		fy.LockedAt = &now
		fy.LockedBy = strings.TrimSpace(by)
		return tx.SaveFiscalYear(ctx, fy)
	})
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"fiscal_year": result.Name,
		"locked_by":   result.LockedBy,
	}).Info("Fiscal year locked")
	return result, nil
}

// UnlockFiscalYear reopens a fiscal year and clears the lock metadata.
func (c *Checker) UnlockFiscalYear(ctx context.Context, id core.FiscalYearID) (*core.FiscalYear, error) {
	var result *core.FiscalYear
	err := c.store.WithTx(ctx, func(tx core.Store) error {
		fy, err := tx.GetFiscalYear(ctx, id)
		if err != nil {
			return err
		}
		if fy == nil {
			return core.FiscalYearNotFound(id)
		}
		fy.Locked = false
		fy.LockedAt = nil
		fy.LockedBy = ""
		result = fy
		return tx.SaveFiscalYear(ctx, fy)
	})
	if err != nil {
		return nil, err
	}

	c.log.WithField("fiscal_year", result.Name).Info("Fiscal year unlocked")
	return result, nil
}
