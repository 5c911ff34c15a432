package closing

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATEMENT - Per-employee breakdown, generated on demand
// =============================================================================

type GateStatus string

const (
	GateUnlocked      GateStatus = "unlocked"
	GateLocked        GateStatus = "locked"
	GateNotApplicable GateStatus = "n/a"
)

func gateStatus(unlocked bool) GateStatus {
	if unlocked {
		return GateUnlocked
	}
	return GateLocked
}

// StatementItem is one component of the payout.
type StatementItem struct {
	Label  string
	Gate   GateStatus
	Basis  string
	Amount decimal.Decimal
}

type Statement struct {
	Month        Month
	ClosingID    ClosingID
	EmployeeID   EmployeeID
	EmployeeName string
	Role         string
	BaseSalary   decimal.Decimal
	Status       Status

	// ConfigPending is set when the closing was reconfigured after its last
	// recompute; the amounts still follow the previous config.
	ConfigPending bool

	ChurnRate        decimal.Decimal
	CancellationRate decimal.Decimal
	TargetPercent    decimal.Decimal

	SalaryBonuses         []StatementItem
	SubtotalSalaryBonuses decimal.Decimal
	ServiceCommission     StatementItem
	IndividualGoals       StatementItem
	TotalPayable          decimal.Decimal

	Adjustments      []Adjustment
	AdjustmentsTotal decimal.Decimal
	EffectivePayable decimal.Decimal
}

// GenerateStatement formats stored data; it does not recompute anything.
// Gate explanations use the config the line was computed from, not a pending
// one. Adjustments not targeting the employee are ignored.
func GenerateStatement(tc TeamClosing, emp Employee, line EmployeeClosingLine, adjustments []Adjustment) Statement {
	cfg := tc.Applied()
	st := Statement{
		Month:            tc.ReferenceMonth,
		ClosingID:        tc.ID,
		EmployeeID:       emp.ID,
		EmployeeName:     emp.Name,
		Role:             emp.Role,
		BaseSalary:       emp.BaseSalary,
		Status:           tc.Status,
		ConfigPending:    tc.HasPendingConfig(),
		ChurnRate:        tc.ChurnRate,
		CancellationRate: tc.CancellationRate,
		TargetPercent:    tc.TargetPercent,

		SubtotalSalaryBonuses: line.SubtotalSalaryBonuses,
		TotalPayable:          line.TotalPayable,
	}

	targetGate := gateStatus(tc.TargetBonusUnlocked)
	targetBasis := fmt.Sprintf("pool %s / %d participants", money(tc.TargetBonusPoolTotal), tc.ParticipantCount)
	if cfg.Participants != nil && !cfg.Participants.Includes(emp.ID) {
		targetGate = GateNotApplicable
		targetBasis = "not a target bonus participant"
	}

	st.SalaryBonuses = []StatementItem{
		{
			Label:  "Churn bonus",
			Gate:   gateStatus(tc.ChurnBonusUnlocked),
			Basis:  fmt.Sprintf("churn %s%% %s %s%%, %s%% of salary", pct(tc.ChurnRate), belowSign(tc.ChurnBonusUnlocked), pct(cfg.ChurnLimit), pct(cfg.ChurnBonusPct)),
			Amount: line.ChurnBonusAmount,
		},
		{
			Label:  "Retention bonus",
			Gate:   gateStatus(tc.RetentionBonusUnlocked),
			Basis:  fmt.Sprintf("cancellations %s%% %s %s%%, %s%% of salary", pct(tc.CancellationRate), belowSign(tc.RetentionBonusUnlocked), pct(cfg.CancellationLimit), pct(cfg.RetentionBonusPct)),
			Amount: line.RetentionBonusAmount,
		},
		{
			Label:  "Target bonus",
			Gate:   targetGate,
			Basis:  targetBasis,
			Amount: line.TargetBonusAmount,
		},
	}
	st.ServiceCommission = StatementItem{
		Label:  "Service commission",
		Gate:   GateNotApplicable,
		Basis:  fmt.Sprintf("%d sales totaling %s at %s%%", line.ServiceSalesCount, money(line.ServiceSalesTotal), pct(line.ServiceCommissionPct)),
		Amount: line.ServiceCommissionAmount,
	}
	st.IndividualGoals = StatementItem{
		Label:  "Individual goals",
		Gate:   GateNotApplicable,
		Basis:  fmt.Sprintf("%d of %d goals met", line.IndividualGoalsMet, line.IndividualGoalsCount),
		Amount: line.IndividualGoalsBonusAmount,
	}

	for _, a := range adjustments {
		if a.AppliesTo(emp.ID) {
			st.Adjustments = append(st.Adjustments, a)
		}
	}
	st.AdjustmentsTotal = AdjustmentTotal(emp.ID, adjustments)
	st.EffectivePayable = st.TotalPayable.Add(st.AdjustmentsTotal)
	return st
}

// Render returns a plain-text version for export collaborators.
func (s Statement) Render() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Closing statement %s (%s)\n", s.Month, s.Status)
	fmt.Fprintf(&buf, "Employee: %s [%s] %s\n", s.EmployeeName, s.EmployeeID, s.Role)
	fmt.Fprintf(&buf, "Base salary: %s\n", money(s.BaseSalary))
	if s.ConfigPending {
		fmt.Fprintln(&buf, "Note: configuration changed since the last recompute")
	}
	fmt.Fprintln(&buf)

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tGATE\tBASIS\tAMOUNT")
	for _, it := range s.SalaryBonuses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Label, it.Gate, it.Basis, money(it.Amount))
	}
	fmt.Fprintf(w, "Subtotal salary bonuses\t\t\t%s\n", money(s.SubtotalSalaryBonuses))
	for _, it := range []StatementItem{s.ServiceCommission, s.IndividualGoals} {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Label, it.Gate, it.Basis, money(it.Amount))
	}
	fmt.Fprintf(w, "Total payable\t\t\t%s\n", money(s.TotalPayable))
	for _, a := range s.Adjustments {
		fmt.Fprintf(w, "Adjustment (%s)\t\t%s\t%s\n", a.Kind, a.Description, money(a.Signed()))
	}
	fmt.Fprintf(w, "Effective payable\t\t\t%s\n", money(s.EffectivePayable))
	w.Flush()
	return buf.String()
}

// belowSign is the comparison a threshold gate actually saw.
func belowSign(unlocked bool) string {
	if unlocked {
		return "<"
	}
	return ">="
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func pct(d decimal.Decimal) string { return d.Round(2).String() }
