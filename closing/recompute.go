/*
recompute.go - Recompute controller for monthly team closings

PURPOSE:
  Orchestrates a closing: loads the month's inputs, runs the pure
  calculation (metrics → gates → pool → payouts) and replaces the stored
  lines in one atomic unit. It is the only writer of EmployeeClosingLine.

STATE MACHINE:
  draft ──recompute──▶ calculated ──recompute──▶ calculated
  There is no transition back to draft. Configure changes the pending
  Config of a closing but never its status; aggregates, lines and
  statements keep reflecting AppliedConfig until the next recompute.

RECOMPUTE STEPS:
  1. Acquire the month's slot (a second concurrent call gets InProgressError)
  2. Load the sales period (missing → MissingPrerequisiteError,
     closed → ClosedPeriodError; nothing is written in either case)
  3. Load or create the closing and read its Config
  4. Load employees, approved service sales, individual goals
  5. Calculate
  6. WithTx: save closing aggregates (status=calculated, calculatedAt=now),
     delete all lines, insert the new lines
  7. A failure inside step 6 rolls back and returns StorageConsistencyError;
     the previous snapshot stays readable

CONCURRENCY:
  Recomputes of the same month are serialized by rejecting the second
  caller. Different months are independent; RecomputeMany runs them in
  parallel. There is no cancellation: once step 6 starts it runs to commit
  or rollback.

IDEMPOTENCE:
  With unchanged inputs two recomputes store identical lines (same ids,
  same order, same amounts). Only CalculatedAt/UpdatedAt move.

SEE ALSO:
  - payout.go: Calculate
  - store.go: TxStore.WithTx
  - ledger.go: Adjustments, which recompute never touches
*/
package closing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRecomputeParallelism bounds RecomputeMany.
const DefaultRecomputeParallelism = 4

// =============================================================================
// CONTROLLER
// =============================================================================

type Controller struct {
	Store       TxStore
	Source      Source
	Snapshots   SnapshotReader
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() ClosingID
	Parallelism int

	mu       sync.Mutex
	inFlight map[Month]struct{}
}

func NewController(repo Repository, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Store:       repo,
		Source:      repo,
		Snapshots:   repo,
		Logger:      logger.Named("closing.recompute"),
		Now:         time.Now,
		NewID:       func() ClosingID { return ClosingID(uuid.NewString()) },
		Parallelism: DefaultRecomputeParallelism,
		inFlight:    make(map[Month]struct{}),
	}
}

func (c *Controller) acquire(month Month) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		c.inFlight = make(map[Month]struct{})
	}
	if _, busy := c.inFlight[month]; busy {
		return false
	}
	c.inFlight[month] = struct{}{}
	return true
}

func (c *Controller) release(month Month) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, month)
}

// =============================================================================
// CONFIGURE
// =============================================================================

// Configure stores the month's pending configuration, creating a draft
// closing if none exists. The sales period must exist and be open. A
// calculated closing keeps its AppliedConfig until recomputed.
func (c *Controller) Configure(ctx context.Context, month Month, in ConfigInput) (TeamClosing, error) {
	if err := in.Validate(); err != nil {
		return TeamClosing{}, err
	}
	if !c.acquire(month) {
		return TeamClosing{}, &InProgressError{Month: month}
	}
	defer c.release(month)

	if _, err := c.openSalesPeriod(ctx, month, "configure"); err != nil {
		return TeamClosing{}, err
	}

	now := c.Now().UTC()
	tc, err := c.loadOrNew(ctx, month, now)
	if err != nil {
		return TeamClosing{}, err
	}
	tc.Config = in.ToConfig()
	tc.UpdatedAt = now

	if err := c.Store.SaveClosing(ctx, tc); err != nil {
		return TeamClosing{}, fmt.Errorf("save closing config: %w", err)
	}
	c.Logger.Info("closing configured",
		zap.String("month", month.String()),
		zap.String("closing_id", string(tc.ID)),
		zap.String("participants", tc.Config.Participants.Kind()),
		zap.Bool("pending", tc.HasPendingConfig()),
	)
	return tc, nil
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// Result is the outcome of one recompute.
type Result struct {
	Closing     TeamClosing
	Lines       []EmployeeClosingLine
	Calculation Calculation
}

// Recompute recalculates the month and atomically replaces its lines.
func (c *Controller) Recompute(ctx context.Context, month Month) (Result, error) {
	if !c.acquire(month) {
		return Result{}, &InProgressError{Month: month}
	}
	defer c.release(month)

	started := c.Now()
	log := c.Logger.With(zap.String("month", month.String()))

	sp, err := c.openSalesPeriod(ctx, month, "recompute")
	if err != nil {
		log.Warn("recompute refused", zap.Error(err))
		return Result{}, err
	}

	now := c.Now().UTC()
	tc, err := c.loadOrNew(ctx, month, now)
	if err != nil {
		return Result{}, err
	}

	in, err := c.loadInputs(ctx, tc, *sp)
	if err != nil {
		return Result{}, err
	}
	calc := Calculate(in)
	updated := applyCalculation(tc, *sp, calc, now)

	err = c.Store.WithTx(ctx, func(s ClosingStore) error {
		if err := s.SaveClosing(ctx, updated); err != nil {
			return fmt.Errorf("save closing: %w", err)
		}
		if err := s.DeleteLines(ctx, updated.ID); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		if err := s.InsertLines(ctx, calc.Lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		return nil
	})
	if err != nil {
		serr := &StorageConsistencyError{ClosingID: updated.ID, Month: month, Err: err}
		log.Error("recompute not committed, previous snapshot kept", zap.Error(serr))
		return Result{}, serr
	}

	log.Info("closing recomputed",
		zap.String("closing_id", string(updated.ID)),
		zap.Int("lines", len(calc.Lines)),
		zap.Bool("churn_unlocked", calc.Gates.ChurnBonusUnlocked),
		zap.Bool("retention_unlocked", calc.Gates.RetentionBonusUnlocked),
		zap.Bool("target_unlocked", calc.Gates.TargetBonusUnlocked),
		zap.String("pool_total", calc.Pool.Total.String()),
		zap.Duration("took", c.Now().Sub(started)),
	)
	return Result{Closing: updated, Lines: calc.Lines, Calculation: calc}, nil
}

// Outcome is the per-month result of RecomputeMany.
type Outcome struct {
	Month   Month
	Closing *TeamClosing
	Err     error
}

// RecomputeMany recomputes distinct months in parallel. A failing month does
// not stop the others; each outcome carries its own error. Duplicate months
// in the input are recomputed once.
func (c *Controller) RecomputeMany(ctx context.Context, months []Month) []Outcome {
	unique := make([]Month, 0, len(months))
	seen := make(map[Month]bool, len(months))
	for _, m := range months {
		if !seen[m] {
			seen[m] = true
			unique = append(unique, m)
		}
	}

	outcomes := make([]Outcome, len(unique))
	var g errgroup.Group
	limit := c.Parallelism
	if limit <= 0 {
		limit = DefaultRecomputeParallelism
	}
	g.SetLimit(limit)

	for i, m := range unique {
		g.Go(func() error {
			res, err := c.Recompute(ctx, m)
			outcomes[i] = Outcome{Month: m, Err: err}
			if err == nil {
				tc := res.Closing
				outcomes[i].Closing = &tc
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// =============================================================================
// READS - Snapshot reads of whatever is committed
// =============================================================================

// ClosingView is a closing with its current lines and adjustments.
type ClosingView struct {
	Closing     TeamClosing
	Lines       []EmployeeClosingLine
	Adjustments []Adjustment
	Totals      Totals
}

// Closing returns the month's closing, lines and adjustments as one
// consistent snapshot.
func (c *Controller) Closing(ctx context.Context, month Month) (ClosingView, error) {
	snap, err := c.Snapshots.ReadClosing(ctx, month)
	if err != nil {
		return ClosingView{}, err
	}
	if snap == nil {
		return ClosingView{}, &NotFoundError{Kind: "closing", ID: month.String()}
	}
	return ClosingView{
		Closing:     snap.Closing,
		Lines:       snap.Lines,
		Adjustments: snap.Adjustments,
		Totals:      Summarize(snap.Lines, snap.Adjustments),
	}, nil
}

// Statement builds the breakdown of one employee for the month.
func (c *Controller) Statement(ctx context.Context, month Month, employeeID EmployeeID) (Statement, error) {
	view, err := c.Closing(ctx, month)
	if err != nil {
		return Statement{}, err
	}
	var line *EmployeeClosingLine
	for i := range view.Lines {
		if view.Lines[i].EmployeeID == employeeID {
			line = &view.Lines[i]
			break
		}
	}
	if line == nil {
		return Statement{}, &NotFoundError{Kind: "closing line", ID: fmt.Sprintf("%s/%s", month, employeeID)}
	}
	emp, err := c.Source.Employee(ctx, employeeID)
	if err != nil {
		return Statement{}, err
	}
	if emp == nil {
		return Statement{}, &NotFoundError{Kind: "employee", ID: string(employeeID)}
	}
	return GenerateStatement(view.Closing, *emp, *line, view.Adjustments), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Controller) openSalesPeriod(ctx context.Context, month Month, op string) (*SalesPeriod, error) {
	sp, err := c.Source.SalesPeriod(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("load sales period: %w", err)
	}
	if sp == nil {
		return nil, &MissingPrerequisiteError{Month: month, What: "sales period not imported"}
	}
	if sp.IsClosed() {
		return nil, &ClosedPeriodError{Month: month, Operation: op}
	}
	return sp, nil
}

func (c *Controller) loadOrNew(ctx context.Context, month Month, now time.Time) (TeamClosing, error) {
	tc, err := c.Store.GetClosing(ctx, month)
	if err != nil {
		return TeamClosing{}, fmt.Errorf("load closing: %w", err)
	}
	if tc != nil {
		return *tc, nil
	}
	return TeamClosing{
		ID:             c.NewID(),
		ReferenceMonth: month,
		Config:         DefaultConfig(),
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (c *Controller) loadInputs(ctx context.Context, tc TeamClosing, sp SalesPeriod) (CalculationInput, error) {
	employees, err := c.Source.ActiveEmployees(ctx)
	if err != nil {
		return CalculationInput{}, fmt.Errorf("load employees: %w", err)
	}
	sales, err := c.Source.ApprovedServiceSales(ctx, tc.ReferenceMonth)
	if err != nil {
		return CalculationInput{}, fmt.Errorf("load service sales: %w", err)
	}
	goals, err := c.Source.IndividualGoals(ctx, tc.ReferenceMonth)
	if err != nil {
		return CalculationInput{}, fmt.Errorf("load individual goals: %w", err)
	}
	return CalculationInput{
		ClosingID:    tc.ID,
		Config:       tc.Config,
		SalesPeriod:  sp,
		Employees:    employees,
		ServiceSales: sales,
		Goals:        goals,
	}, nil
}

// applyCalculation copies the computed aggregates onto the closing.
func applyCalculation(tc TeamClosing, sp SalesPeriod, calc Calculation, now time.Time) TeamClosing {
	tc.RecurringSalesCount = sp.TotalRecurringSales
	tc.MrrForPeriod = sp.TotalMrr
	tc.MrrQualifyingForBonus = sp.QualifyingMrr

	tc.ChurnRate = calc.Metrics.ChurnRate
	tc.CancellationRate = calc.Metrics.CancellationRate
	tc.TargetPercent = calc.Metrics.PercentOfTarget

	tc.ChurnBonusUnlocked = calc.Gates.ChurnBonusUnlocked
	tc.RetentionBonusUnlocked = calc.Gates.RetentionBonusUnlocked
	tc.TargetBonusUnlocked = calc.Gates.TargetBonusUnlocked

	tc.TargetBonusPoolTotal = calc.Pool.Total
	tc.ParticipantCount = calc.Pool.ParticipantCount()
	tc.TargetBonusPerParticipant = calc.Pool.PerParticipant

	applied := tc.Config
	tc.AppliedConfig = &applied

	tc.Status = StatusCalculated
	calculatedAt := now
	tc.CalculatedAt = &calculatedAt
	tc.UpdatedAt = now
	return tc
}
