/*
payout.go - Per-employee payout calculation

PURPOSE:
  Combines the pieces of a closing into one EmployeeClosingLine per
  employee of the working set:

    churn bonus      = churn gate ? baseSalary × churnBonusPct/100 : 0
    retention bonus  = retention gate ? baseSalary × retentionBonusPct/100 : 0
    target bonus     = participant ? pool per participant : 0
    service comm.    = Σ approved service sales × commissionPct/100 (10% fallback)
    goals bonus      = Σ achieved goals (flat ? value : baseSalary × value/100)
    total payable    = subtotal + service comm. + goals bonus

  Adjustments are NOT part of TotalPayable; see ledger.go.

WORKING SET:
  All active employees. Churn and retention bonuses apply organization-wide,
  independent of the target-bonus participant subset. With
  RequireTeamClosingOptIn, only employees that opted in are included.

DETERMINISM:
  Lines are ordered by employee id and their ids are derived from
  (closing id, employee id), so unchanged inputs produce identical lines.

SEE ALSO:
  - metrics.go, gates.go, pool.go: The upstream pure steps
  - recompute.go: Persists the lines returned by Calculate
*/
package closing

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// lineNamespace seeds the deterministic line ids.
var lineNamespace = uuid.MustParse("6f1f4b1e-2c55-4d8c-9a7e-5d0c1b8e3a21")

// =============================================================================
// CALCULATION INPUT / OUTPUT
// =============================================================================

// CalculationInput is everything one recompute reads. It is assembled by the
// Controller and passed by value; nothing here touches storage.
type CalculationInput struct {
	ClosingID    ClosingID
	Config       Config
	SalesPeriod  SalesPeriod
	Employees    []Employee
	ServiceSales []ServiceSale
	Goals        []IndividualGoal
}

type Calculation struct {
	Metrics    Metrics
	Gates      Gates
	Pool       Pool
	WorkingSet []Employee
	Lines      []EmployeeClosingLine
}

// Calculate runs metrics, gates, pool and payouts in order.
func Calculate(in CalculationInput) Calculation {
	metrics := ComputeMetrics(PeriodCounters{
		StartingSubscriptions: in.Config.StartingSubscriptions,
		CancellationsCount:    in.Config.CancellationsCount,
		RecurringSalesCount:   in.SalesPeriod.TotalRecurringSales,
		TargetSalesQuantity:   in.Config.TargetSalesQuantity,
	})
	gates := EvaluateGates(metrics, in.Config.Thresholds)

	workingSet := WorkingSet(in.Employees, in.Config.RequireTeamClosingOptIn)
	participants := ResolveParticipants(in.Config.Participants, workingSet)
	pool := DistributePool(gates, in.SalesPeriod.QualifyingMrr, in.Config.TargetBonusPct, participants)

	lines := CalculatePayouts(PayoutInput{
		ClosingID:    in.ClosingID,
		Bonuses:      in.Config.BonusPercentages,
		Gates:        gates,
		Pool:         pool,
		WorkingSet:   workingSet,
		ServiceSales: in.ServiceSales,
		Goals:        in.Goals,
	})

	return Calculation{
		Metrics:    metrics,
		Gates:      gates,
		Pool:       pool,
		WorkingSet: workingSet,
		Lines:      lines,
	}
}

// WorkingSet returns the active employees (opted-in only when required),
// sorted by id.
func WorkingSet(employees []Employee, requireOptIn bool) []Employee {
	out := make([]Employee, 0, len(employees))
	for _, e := range employees {
		if !e.Active {
			continue
		}
		if requireOptIn && !e.ParticipatesInTeamClosing {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayoutInput struct {
	ClosingID    ClosingID
	Bonuses      BonusPercentages
	Gates        Gates
	Pool         Pool
	WorkingSet   []Employee
	ServiceSales []ServiceSale
	Goals        []IndividualGoal
}

// CalculatePayouts returns one line per working-set employee, in input order.
func CalculatePayouts(in PayoutInput) []EmployeeClosingLine {
	salesByEmp := make(map[EmployeeID][]ServiceSale)
	for _, s := range in.ServiceSales {
		if s.Status != ServiceSaleApproved {
			continue
		}
		salesByEmp[s.EmployeeID] = append(salesByEmp[s.EmployeeID], s)
	}
	goalsByEmp := make(map[EmployeeID][]IndividualGoal)
	for _, g := range in.Goals {
		goalsByEmp[g.EmployeeID] = append(goalsByEmp[g.EmployeeID], g)
	}

	lines := make([]EmployeeClosingLine, 0, len(in.WorkingSet))
	for _, emp := range in.WorkingSet {
		lines = append(lines, payoutLine(in, emp, salesByEmp[emp.ID], goalsByEmp[emp.ID]))
	}
	return lines
}

func payoutLine(in PayoutInput, emp Employee, sales []ServiceSale, goals []IndividualGoal) EmployeeClosingLine {
	line := EmployeeClosingLine{
		ID:         LineIDFor(in.ClosingID, emp.ID),
		ClosingID:  in.ClosingID,
		EmployeeID: emp.ID,

		ChurnBonusAmount:     decimal.Zero,
		RetentionBonusAmount: decimal.Zero,
		TargetBonusAmount:    decimal.Zero,
	}

	// Salary-based bonuses
	if in.Gates.ChurnBonusUnlocked {
		line.ChurnBonusAmount = percentOf(emp.BaseSalary, in.Bonuses.ChurnBonusPct)
	}
	if in.Gates.RetentionBonusUnlocked {
		line.RetentionBonusAmount = percentOf(emp.BaseSalary, in.Bonuses.RetentionBonusPct)
	}
	if in.Pool.Includes(emp.ID) {
		line.TargetBonusAmount = in.Pool.PerParticipant
	}
	line.SubtotalSalaryBonuses = line.ChurnBonusAmount.
		Add(line.RetentionBonusAmount).
		Add(line.TargetBonusAmount)

	// Service commission
	line.ServiceSalesTotal = decimal.Zero
	for _, s := range sales {
		line.ServiceSalesTotal = line.ServiceSalesTotal.Add(s.Amount)
	}
	line.ServiceSalesCount = len(sales)
	line.ServiceCommissionPct = emp.CommissionPct()
	line.ServiceCommissionAmount = percentOf(line.ServiceSalesTotal, line.ServiceCommissionPct)

	// Individual goals
	line.IndividualGoalsBonusAmount = decimal.Zero
	line.IndividualGoalsCount = len(goals)
	for _, g := range goals {
		if !g.Achieved {
			continue
		}
		line.IndividualGoalsMet++
		line.IndividualGoalsBonusAmount = line.IndividualGoalsBonusAmount.Add(GoalBonus(g, emp.BaseSalary))
	}

	line.TotalPayable = line.SubtotalSalaryBonuses.
		Add(line.ServiceCommissionAmount).
		Add(line.IndividualGoalsBonusAmount)
	return line
}

// GoalBonus returns the bonus of one goal, ignoring whether it was achieved.
func GoalBonus(g IndividualGoal, baseSalary decimal.Decimal) decimal.Decimal {
	if g.BonusKind == BonusPercentOfSalary {
		return percentOf(baseSalary, g.BonusValue)
	}
	return g.BonusValue
}

// LineIDFor derives the stable id of a closing line.
func LineIDFor(closingID ClosingID, employeeID EmployeeID) LineID {
	return LineID(uuid.NewSHA1(lineNamespace, []byte(string(closingID)+"/"+string(employeeID))).String())
}
