/*
scheduler.go - Automated payroll reconciliation scheduler

PURPOSE:
  Periodically recomputes the automatic fine and bonus adjustments for the
  current month. Event-driven recomputation keeps them current during
  normal operation; the scheduler repairs drift left by failed
  subscribers, direct store edits or employees with no events this month.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - "Current month" is taken in the business location
  - On the first days of a month the previous month is reconciled too,
    so late corrections still land before payroll closes
  - Errors are logged and counted; the loop never stops on failure

CONFIGURATION:
  - CheckInterval: How often to run (default: 6 hours)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPayrollScheduler(adjuster, loc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputePayroll endpoint (manual reconciliation)
  - payroll/adjuster.go: Adjuster.RecomputeMonth
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
)

// MonthRecomputer is the part of payroll.Adjuster the scheduler needs.
type MonthRecomputer interface {
	RecomputeMonth(ctx context.Context, year int, month time.Month) (int, error)
}

// PreviousMonthGraceDays is how many days into a month the previous month
// is still reconciled.
const PreviousMonthGraceDays = 3

// PayrollScheduler handles automated payroll reconciliation.
type PayrollScheduler struct {
	Adjuster      MonthRecomputer
	CheckInterval time.Duration
	Enabled       bool

	loc    *time.Location
	logger logrus.FieldLogger
	now    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	statsMu sync.Mutex
	runs    int
	errors  int
}

// NewPayrollScheduler creates a new scheduler.
func NewPayrollScheduler(adjuster MonthRecomputer, loc *time.Location, logger logrus.FieldLogger) *PayrollScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PayrollScheduler{
		Adjuster:      adjuster,
		CheckInterval: 6 * time.Hour,
		Enabled:       true,
		loc:           loc,
		logger:        logger.WithField("module", "scheduler"),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (ps *PayrollScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.logger.Info("disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.stop = make(chan struct{})
	ps.wg.Add(1)

	go ps.run(ps.ticker, ps.stop)

	ps.logger.WithField("interval", ps.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ps *PayrollScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.ticker = nil
		ps.logger.Info("stopped")
	}
}

// Stats reports completed runs and runs that ended with an error.
func (ps *PayrollScheduler) Stats() (runs, failed int) {
	ps.statsMu.Lock()
	defer ps.statsMu.Unlock()
	return ps.runs, ps.errors
}

func (ps *PayrollScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ps.wg.Done()

	// Run immediately on start
	ps.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			ps.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce reconciles the current month, plus the previous one during the
// first PreviousMonthGraceDays days. It returns the total mutation count.
func (ps *PayrollScheduler) RunOnce(ctx context.Context) int {
	today := core.DateOf(ps.now(), ps.loc)
	months := []core.Date{today.MonthStart()}
	if today.Day() <= PreviousMonthGraceDays {
		months = append(months, today.MonthStart().AddMonths(-1))
	}

	total, failed := 0, false
	for _, m := range months {
		count, err := ps.Adjuster.RecomputeMonth(ctx, m.Year(), m.Month())
		total += count
		entry := ps.logger.WithFields(logrus.Fields{
			"month":     m.Format("2006-01"),
			"mutations": count,
		})
		if err != nil {
			failed = true
			entry.WithError(err).Error("payroll reconciliation failed")
			continue
		}
		entry.Info("payroll reconciled")
	}

	ps.statsMu.Lock()
	ps.runs++
	if failed {
		ps.errors++
	}
	ps.statsMu.Unlock()
	return total
}
