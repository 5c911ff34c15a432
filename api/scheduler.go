/*
scheduler.go - Periodic recompute scheduler

PURPOSE:
  Periodically refreshes the closings whose sales period is still open, so
  late imports (service sales, goal results, sales aggregates) show up
  without an operator pressing recompute.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Picks every stored closing whose sales period exists and is open
  - Recomputes them through Controller.RecomputeMany (bounded parallelism)
  - A month already being recomputed by an operator reports InProgress and
    is simply retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (RECOMPUTE_INTERVAL, 0 disables)

USAGE:
  scheduler := NewRecomputeScheduler(handler, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputeMany endpoint (manual bulk recompute)
  - closing/recompute.go: Controller
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/team-closing/closing"
	"go.uber.org/zap"
)

// RecomputeScheduler refreshes open closings on a fixed interval.
type RecomputeScheduler struct {
	Store         Store
	Controller    *closing.Controller
	Logger        *zap.Logger
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecomputeScheduler creates a scheduler using the handler's store and
// controller. An interval <= 0 leaves it disabled.
func NewRecomputeScheduler(h *Handler, interval time.Duration) *RecomputeScheduler {
	return &RecomputeScheduler{
		Store:         h.Store,
		Controller:    h.Controller,
		Logger:        h.Logger.Named("scheduler"),
		CheckInterval: interval,
	}
}

// Start begins the scheduler.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		rs.Logger.Info("scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *RecomputeScheduler) run() {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunOnce recomputes every closing whose sales period is open and returns
// the per-month outcomes.
func (rs *RecomputeScheduler) RunOnce(ctx context.Context) []closing.Outcome {
	months, err := rs.openMonths(ctx)
	if err != nil {
		rs.Logger.Error("listing open closings failed", zap.Error(err))
		return nil
	}
	if len(months) == 0 {
		return nil
	}

	outcomes := rs.Controller.RecomputeMany(ctx, months)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			rs.Logger.Warn("scheduled recompute failed",
				zap.String("month", o.Month.String()),
				zap.Error(o.Err),
			)
		}
	}
	rs.Logger.Info("scheduled recompute pass",
		zap.Int("months", len(months)),
		zap.Int("failed", failed),
	)
	return outcomes
}

func (rs *RecomputeScheduler) openMonths(ctx context.Context) ([]closing.Month, error) {
	closings, err := rs.Store.ListClosings(ctx)
	if err != nil {
		return nil, err
	}
	var months []closing.Month
	for _, tc := range closings {
		sp, err := rs.Store.SalesPeriod(ctx, tc.ReferenceMonth)
		if err != nil {
			return nil, err
		}
		if sp != nil && !sp.IsClosed() {
			months = append(months, tc.ReferenceMonth)
		}
	}
	return months, nil
}
