/*
scheduler.go - Periodic fiscal calendar check

PURPOSE:
  Re-runs the fiscal calendar consistency check in the background, so
  closing periods edited outside the engine are repaired without a restart.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run is one EnsureConsistency call (one transaction)
  - Failures are logged; the next tick tries again

CONFIGURATION:
  - CheckInterval: How often to check (calendar.check_interval)
  - Enabled: Whether scheduler is active (interval > 0)

USAGE:
  scheduler := NewCalendarScheduler(checker, interval, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CheckCalendar endpoint (manual check)
  - calendar/checker.go: EnsureConsistency
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/allocation-engine/calendar"
)

// CalendarScheduler handles the periodic calendar consistency check.
type CalendarScheduler struct {
	Checker       *calendar.Checker
	CheckInterval time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun     time.Time
	lastSummary *calendar.ValidationSummary
}

// NewCalendarScheduler creates a new scheduler. A zero interval disables it.
func NewCalendarScheduler(checker *calendar.Checker, interval time.Duration, log logrus.FieldLogger) *CalendarScheduler {
	return &CalendarScheduler{
		Checker:       checker,
		CheckInterval: interval,
		Enabled:       interval > 0,
		log:           log.WithField("component", "scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (cs *CalendarScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Debug("Calendar scheduler disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.wg.Add(1)
	go cs.run()

	cs.log.WithField("interval", cs.CheckInterval).Info("Calendar scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (cs *CalendarScheduler) Stop() {
	cs.mu.Lock()
	ticker := cs.ticker
	cs.ticker = nil
	cs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.log.Info("Calendar scheduler stopped")
}

func (cs *CalendarScheduler) run() {
	defer cs.wg.Done()

	for {
		select {
		case <-cs.ticker.C:
			cs.RunNow(context.Background())
		case <-cs.stop:
			return
		}
	}
}

// RunNow triggers an immediate check.
func (cs *CalendarScheduler) RunNow(ctx context.Context) (calendar.ValidationSummary, error) {
	summary, err := cs.Checker.EnsureConsistency(ctx)
	if err != nil {
		cs.log.WithError(err).Error("Scheduled calendar check failed")
		return summary, err
	}

	cs.mu.Lock()
	cs.lastRun = time.Now()
	cs.lastSummary = &summary
	cs.mu.Unlock()

	if summary.CorrectionsApplied > 0 {
		cs.log.WithField("corrections", summary.CorrectionsApplied).Info("Scheduled calendar check repaired closing periods")
	}
	return summary, nil
}

// LastRun returns the time and outcome of the last successful check. The
// summary is nil before the first one.
func (cs *CalendarScheduler) LastRun() (time.Time, *calendar.ValidationSummary) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastRun, cs.lastSummary
}
