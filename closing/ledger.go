/*
ledger.go - Manual adjustment ledger

PURPOSE:
  Operators correct a computed closing with credits and debits. The ledger
  is a separate, always-on-top list: it never rewrites EmployeeClosingLine
  rows and is never part of the recompute unit of work.

INVARIANTS:
  1. APPEND/DELETE ONLY: An adjustment is never edited in place. To change
     one, remove it and add a new one.
  2. POSITIVE AMOUNTS: Amount > 0 is stored; Kind carries the sign.
  3. ADDITIVE: effectivePayable = totalPayable + Σcredits - Σdebits.
  4. CLOSED PERIODS: Add and Remove fail with ClosedPeriodError once the
     related sales period is closed.

EXAMPLE FLOW:
  1. Recompute gives Ana TotalPayable 500
  2. Operator adds credit 150 ("missed service sale")
  3. Operator adds debit 50 ("advance already paid")
  4. EffectivePayable(Ana) = 500 + 150 - 50 = 600

SEE ALSO:
  - store.go: AdjustmentStore
  - statement.go: Shows adjustments under the computed total
*/
package closing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store    AdjustmentStore
	Closings ClosingStore
	Source   Source
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewLedger(store AdjustmentStore, closings ClosingStore, source Source, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Store:    store,
		Closings: closings,
		Source:   source,
		Logger:   logger.Named("closing.ledger"),
		Now:      time.Now,
	}
}

// Add validates and appends an adjustment to the month's closing.
func (l *Ledger) Add(ctx context.Context, in AdjustmentInput) (Adjustment, error) {
	if err := in.Validate(); err != nil {
		return Adjustment{}, err
	}

	tc, err := l.Closings.GetClosing(ctx, in.Month)
	if err != nil {
		return Adjustment{}, err
	}
	if tc == nil {
		return Adjustment{}, &NotFoundError{Kind: "closing", ID: in.Month.String()}
	}
	if err := l.ensureOpen(ctx, tc.ReferenceMonth, "add adjustment"); err != nil {
		return Adjustment{}, err
	}

	if in.EmployeeID != nil {
		emp, err := l.Source.Employee(ctx, *in.EmployeeID)
		if err != nil {
			return Adjustment{}, err
		}
		if emp == nil {
			return Adjustment{}, &ValidationError{Field: "employee_id", Message: fmt.Sprintf("unknown employee %s", *in.EmployeeID)}
		}
	}

	adj := Adjustment{
		ID:          AdjustmentID(uuid.NewString()),
		ClosingID:   tc.ID,
		EmployeeID:  in.EmployeeID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   in.CreatedBy,
		CreatedAt:   l.Now().UTC(),
	}
	if err := l.Store.AppendAdjustment(ctx, adj); err != nil {
		return Adjustment{}, fmt.Errorf("append adjustment: %w", err)
	}

	l.Logger.Info("adjustment added",
		zap.String("month", tc.ReferenceMonth.String()),
		zap.String("adjustment_id", string(adj.ID)),
		zap.String("kind", string(adj.Kind)),
		zap.String("amount", adj.Amount.String()),
	)
	return adj, nil
}

// Remove hard-deletes an adjustment.
func (l *Ledger) Remove(ctx context.Context, id AdjustmentID) error {
	adj, err := l.Store.GetAdjustment(ctx, id)
	if err != nil {
		return err
	}
	if adj == nil {
		return &NotFoundError{Kind: "adjustment", ID: string(id)}
	}

	tc, err := l.Closings.GetClosingByID(ctx, adj.ClosingID)
	if err != nil {
		return err
	}
	if tc != nil {
		if err := l.ensureOpen(ctx, tc.ReferenceMonth, "remove adjustment"); err != nil {
			return err
		}
	}

	if err := l.Store.DeleteAdjustment(ctx, id); err != nil {
		return err
	}
	l.Logger.Info("adjustment removed", zap.String("adjustment_id", string(id)))
	return nil
}

// List returns the adjustments of a month's closing, most recent first.
func (l *Ledger) List(ctx context.Context, month Month) ([]Adjustment, error) {
	tc, err := l.Closings.GetClosing(ctx, month)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, &NotFoundError{Kind: "closing", ID: month.String()}
	}
	return l.Store.ListAdjustments(ctx, tc.ID)
}

func (l *Ledger) ensureOpen(ctx context.Context, month Month, op string) error {
	sp, err := l.Source.SalesPeriod(ctx, month)
	if err != nil {
		return err
	}
	if sp != nil && sp.IsClosed() {
		return &ClosedPeriodError{Month: month, Operation: op}
	}
	return nil
}

// =============================================================================
// TOTALS - Adjustments applied at aggregation time
// =============================================================================

// AdjustmentTotal sums the signed adjustments of one employee.
func AdjustmentTotal(employeeID EmployeeID, adjustments []Adjustment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range adjustments {
		if a.AppliesTo(employeeID) {
			total = total.Add(a.Signed())
		}
	}
	return total
}

// EffectivePayable returns the line total plus the employee's adjustments.
func EffectivePayable(line EmployeeClosingLine, adjustments []Adjustment) decimal.Decimal {
	return line.TotalPayable.Add(AdjustmentTotal(line.EmployeeID, adjustments))
}

// Totals aggregates a closing's lines and adjustments.
type Totals struct {
	TotalPayable       decimal.Decimal
	Credits            decimal.Decimal
	Debits             decimal.Decimal
	GeneralAdjustments decimal.Decimal
	GrandTotal         decimal.Decimal
}

// Summarize computes the closing totals. Adjustments for employees without a
// line still count toward the grand total.
func Summarize(lines []EmployeeClosingLine, adjustments []Adjustment) Totals {
	t := Totals{
		TotalPayable:       decimal.Zero,
		Credits:            decimal.Zero,
		Debits:             decimal.Zero,
		GeneralAdjustments: decimal.Zero,
	}
	for _, l := range lines {
		t.TotalPayable = t.TotalPayable.Add(l.TotalPayable)
	}
	for _, a := range adjustments {
		switch a.Kind {
		case AdjustmentCredit:
			t.Credits = t.Credits.Add(a.Amount)
		case AdjustmentDebit:
			t.Debits = t.Debits.Add(a.Amount)
		}
		if a.IsGeneral() {
			t.GeneralAdjustments = t.GeneralAdjustments.Add(a.Signed())
		}
	}
	t.GrandTotal = t.TotalPayable.Add(t.Credits).Sub(t.Debits)
	return t
}
