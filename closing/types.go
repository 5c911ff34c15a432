/*
Package closing provides the monthly team closing and bonus distribution engine.

PURPOSE:
  Turns the raw counters of one reference month (starting subscriptions,
  cancellations, recurring sales, approved service sales, individual goal
  results) into one payout line per employee. Three bonus categories are
  gated by organization-wide thresholds, a shared pool is split equally
  across a participant set, and a manual adjustment ledger sits on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - TeamClosing: One per reference month, holds config + computed aggregates
  - Employee: Collaborator record, read-only to the engine
  - EmployeeClosingLine: One computed payout line per (closing, employee)
  - Adjustment: Manual credit/debit correction, append/delete only
  - ServiceSale, IndividualGoal, SalesPeriod: Collaborator inputs

DESIGN PRINCIPLES:
  1. Precision: Money and percentages use decimal.Decimal
  2. Type Safety: Distinct ID types for closings, employees, adjustments
  3. Pure math: metrics.go, gates.go, pool.go, payout.go have no side effects
  4. Single writer: Only the Controller mutates EmployeeClosingLine rows

SEE ALSO:
  - config.go: Immutable closing configuration and participant selection
  - recompute.go: Controller that orchestrates a recompute
  - ledger.go: Adjustment ledger
*/
package closing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClosingID string
type EmployeeID string
type AdjustmentID string
type LineID string

// =============================================================================
// TEAM CLOSING - One per reference month
// =============================================================================

type Status string

const (
	StatusDraft      Status = "draft"
	StatusCalculated Status = "calculated"
)

// TeamClosing is the per-month closing record. Config is operator input;
// AppliedConfig and everything below it are overwritten by each recompute.
type TeamClosing struct {
	ID             ClosingID
	ReferenceMonth Month
	Config         Config

	// AppliedConfig is the Config the stored aggregates and lines were
	// computed from. Nil until the first recompute.
	AppliedConfig *Config

	// Counters and derived ratios
	RecurringSalesCount   int
	ChurnRate             decimal.Decimal
	CancellationRate      decimal.Decimal
	TargetPercent         decimal.Decimal
	MrrForPeriod          decimal.Decimal
	MrrQualifyingForBonus decimal.Decimal

	// Gates
	ChurnBonusUnlocked     bool
	RetentionBonusUnlocked bool
	TargetBonusUnlocked    bool

	// Pool
	TargetBonusPoolTotal      decimal.Decimal
	ParticipantCount          int
	TargetBonusPerParticipant decimal.Decimal

	Status       Status
	CalculatedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Applied returns the config the current aggregates reflect: AppliedConfig
// once calculated, the pending Config before that.
func (c TeamClosing) Applied() Config {
	if c.AppliedConfig != nil {
		return *c.AppliedConfig
	}
	return c.Config
}

// HasPendingConfig reports whether Config changed since the last recompute.
func (c TeamClosing) HasPendingConfig() bool {
	return c.AppliedConfig != nil && !c.AppliedConfig.Equal(c.Config)
}

// StartingSubscriptions and friends are read through the applied config so
// they always match the rates computed from them.
func (c TeamClosing) StartingSubscriptions() int { return c.Applied().StartingSubscriptions }
func (c TeamClosing) CancellationsCount() int    { return c.Applied().CancellationsCount }
func (c TeamClosing) TargetSalesQuantity() int   { return c.Applied().TargetSalesQuantity }

// IsCalculated reports whether the closing has at least one completed recompute.
func (c TeamClosing) IsCalculated() bool { return c.Status == StatusCalculated }

// =============================================================================
// EMPLOYEE - Collaborator record
// =============================================================================

// DefaultServicesCommissionPct applies when an employee has no commission set.
var DefaultServicesCommissionPct = decimal.NewFromInt(10)

type Employee struct {
	ID                        EmployeeID
	Name                      string
	Role                      string
	BaseSalary                decimal.Decimal
	ServicesCommissionPct     decimal.NullDecimal
	Active                    bool
	ParticipatesInTeamClosing bool
	ParticipatesInTargetBonus bool
}

// CommissionPct returns the configured commission or the 10% fallback.
func (e Employee) CommissionPct() decimal.Decimal {
	if e.ServicesCommissionPct.Valid {
		return e.ServicesCommissionPct.Decimal
	}
	return DefaultServicesCommissionPct
}

// =============================================================================
// EMPLOYEE CLOSING LINE - Computed payout, owned by the closing
// =============================================================================

type EmployeeClosingLine struct {
	ID         LineID
	ClosingID  ClosingID
	EmployeeID EmployeeID

	ChurnBonusAmount      decimal.Decimal
	RetentionBonusAmount  decimal.Decimal
	TargetBonusAmount     decimal.Decimal
	SubtotalSalaryBonuses decimal.Decimal

	ServiceSalesCount       int
	ServiceSalesTotal       decimal.Decimal
	ServiceCommissionPct    decimal.Decimal
	ServiceCommissionAmount decimal.Decimal

	IndividualGoalsCount       int
	IndividualGoalsMet         int
	IndividualGoalsBonusAmount decimal.Decimal

	// TotalPayable never includes adjustments.
	TotalPayable decimal.Decimal
}

// =============================================================================
// COLLABORATOR INPUTS
// =============================================================================

type SalesPeriodStatus string

const (
	SalesPeriodOpen   SalesPeriodStatus = "open"
	SalesPeriodClosed SalesPeriodStatus = "closed"
)

// SalesPeriod is the aggregate of the imported sales for a month.
// QualifyingMrr comes from the seller-commission computation and is opaque here.
type SalesPeriod struct {
	ReferenceMonth      Month
	TotalMrr            decimal.Decimal
	QualifyingMrr       decimal.Decimal
	TotalRecurringSales int
	Status              SalesPeriodStatus
}

func (p SalesPeriod) IsClosed() bool { return p.Status == SalesPeriodClosed }

type ServiceSaleStatus string

const (
	ServiceSaleApproved ServiceSaleStatus = "approved"
	ServiceSalePending  ServiceSaleStatus = "pending"
	ServiceSaleRejected ServiceSaleStatus = "rejected"
)

type ServiceSale struct {
	ID          string
	EmployeeID  EmployeeID
	PeriodMonth Month
	Amount      decimal.Decimal
	Status      ServiceSaleStatus
}

type BonusKind string

const (
	BonusFlat            BonusKind = "flat"
	BonusPercentOfSalary BonusKind = "percent_of_salary"
)

type IndividualGoal struct {
	ID          string
	EmployeeID  EmployeeID
	PeriodMonth Month
	Description string
	BonusValue  decimal.Decimal
	BonusKind   BonusKind
	Achieved    bool
}

// =============================================================================
// ADJUSTMENT - Manual correction on top of computed totals
// =============================================================================

type AdjustmentKind string

const (
	AdjustmentCredit AdjustmentKind = "credit"
	AdjustmentDebit  AdjustmentKind = "debit"
)

// Adjustment is stored with a positive Amount; Kind carries the sign.
// A nil EmployeeID is a general adjustment not tied to any employee.
type Adjustment struct {
	ID          AdjustmentID
	ClosingID   ClosingID
	EmployeeID  *EmployeeID
	Kind        AdjustmentKind
	Amount      decimal.Decimal
	Description string
	CreatedBy   string
	CreatedAt   time.Time
}

// Signed returns Amount for credits and -Amount for debits.
func (a Adjustment) Signed() decimal.Decimal {
	if a.Kind == AdjustmentDebit {
		return a.Amount.Neg()
	}
	return a.Amount
}

// AppliesTo reports whether the adjustment targets the given employee.
func (a Adjustment) AppliesTo(id EmployeeID) bool {
	return a.EmployeeID != nil && *a.EmployeeID == id
}

// IsGeneral reports whether the adjustment is not tied to an employee.
func (a Adjustment) IsGeneral() bool { return a.EmployeeID == nil }
