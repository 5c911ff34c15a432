package closing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/team-closing/closing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// METRICS
// =============================================================================

func TestComputeMetrics(t *testing.T) {
	m := closing.ComputeMetrics(closing.PeriodCounters{
		StartingSubscriptions: 200,
		CancellationsCount:    8,
		RecurringSalesCount:   40,
		TargetSalesQuantity:   50,
	})
	assertDec(t, "4", m.ChurnRate)
	assertDec(t, "20", m.CancellationRate)
	assertDec(t, "80", m.PercentOfTarget)
}

func TestComputeMetrics_ZeroDenominators(t *testing.T) {
	m := closing.ComputeMetrics(closing.PeriodCounters{CancellationsCount: 5})
	assert.True(t, m.ChurnRate.IsZero())
	assert.True(t, m.CancellationRate.IsZero())
	assert.True(t, m.PercentOfTarget.IsZero())
}

// =============================================================================
// GATES
// =============================================================================

func TestEvaluateGates_Boundaries(t *testing.T) {
	limits := closing.Thresholds{ChurnLimit: dec("5"), CancellationLimit: dec("10")}

	tests := []struct {
		name      string
		metrics   closing.Metrics
		churn     bool
		retention bool
		target    bool
	}{
		{
			name:      "below every limit, target met",
			metrics:   closing.Metrics{ChurnRate: dec("4"), CancellationRate: dec("9.99"), PercentOfTarget: dec("100")},
			churn:     true,
			retention: true,
			target:    true,
		},
		{
			name:    "equal to limits stays locked",
			metrics: closing.Metrics{ChurnRate: dec("5"), CancellationRate: dec("10"), PercentOfTarget: dec("99.99")},
		},
		{
			name:    "above limits",
			metrics: closing.Metrics{ChurnRate: dec("6"), CancellationRate: dec("11"), PercentOfTarget: dec("150")},
			target:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := closing.EvaluateGates(tt.metrics, limits)
			assert.Equal(t, tt.churn, g.ChurnBonusUnlocked)
			assert.Equal(t, tt.retention, g.RetentionBonusUnlocked)
			assert.Equal(t, tt.target, g.TargetBonusUnlocked)
		})
	}
}

// =============================================================================
// POOL
// =============================================================================

func employees(ids ...string) []closing.Employee {
	out := make([]closing.Employee, len(ids))
	for i, id := range ids {
		out[i] = closing.Employee{ID: closing.EmployeeID(id), Name: id, BaseSalary: dec("1000"), Active: true}
	}
	return out
}

func TestResolveParticipants(t *testing.T) {
	ws := employees("a", "b", "c")

	assert.Equal(t, []closing.EmployeeID{"a", "b", "c"}, closing.ResolveParticipants(nil, ws))
	assert.Equal(t, []closing.EmployeeID{"a", "b", "c"}, closing.ResolveParticipants(closing.AllActiveEmployees{}, ws))

	explicit := closing.NewExplicitParticipants("c", "a", "ghost", "a")
	assert.Equal(t, []closing.EmployeeID{"a", "c"}, closing.ResolveParticipants(explicit, ws),
		"unknown ids dropped, working-set order kept")
}

func TestDistributePool_EqualSplit(t *testing.T) {
	// GIVEN: Qualifying MRR 30000 at 3% and three participants
	gates := closing.Gates{TargetBonusUnlocked: true}

	// WHEN: Distributing
	pool := closing.DistributePool(gates, dec("30000"), dec("3"), []closing.EmployeeID{"a", "b", "c"})

	// THEN: 900 split into 300 each
	assertDec(t, "900", pool.Total)
	assertDec(t, "300", pool.PerParticipant)
	assert.Equal(t, 3, pool.ParticipantCount())
	assert.True(t, pool.Includes("b"))
	assert.False(t, pool.Includes("z"))
}

func TestDistributePool_UnevenSplit(t *testing.T) {
	// GIVEN: A pool of 100 for three participants
	gates := closing.Gates{TargetBonusUnlocked: true}

	// WHEN: Distributing
	pool := closing.DistributePool(gates, dec("10000"), dec("1"), []closing.EmployeeID{"a", "b", "c"})

	// THEN: Shares are truncated at DivisionPrecision and add back to the
	// pool within that precision
	assertDec(t, "100", pool.Total)
	assertDec(t, "33.3333333333333333", pool.PerParticipant)

	sum := pool.PerParticipant.Mul(decimal.NewFromInt(3))
	assert.False(t, sum.Equal(pool.Total))
	diff := sum.Sub(pool.Total).Abs()
	assert.True(t, diff.LessThanOrEqual(dec("1e-15")), "rounding drift %s", diff)
}

func TestDistributePool_LockedOrEmpty(t *testing.T) {
	locked := closing.DistributePool(closing.Gates{}, dec("30000"), dec("3"), []closing.EmployeeID{"a"})
	assert.True(t, locked.Total.IsZero())
	assert.True(t, locked.PerParticipant.IsZero())

	empty := closing.DistributePool(closing.Gates{TargetBonusUnlocked: true}, dec("30000"), dec("3"), nil)
	assertDec(t, "900", empty.Total)
	assert.True(t, empty.PerParticipant.IsZero())
	assert.Equal(t, 0, empty.ParticipantCount())
}

// =============================================================================
// PAYOUTS
// =============================================================================

func TestCalculate_Scenario(t *testing.T) {
	// GIVEN: 200 subscriptions, 8 cancellations (4% churn, limit 5),
	// salary 3000 at a 3% churn bonus
	cfg := closing.DefaultConfig()
	cfg.StartingSubscriptions = 200
	cfg.CancellationsCount = 8
	cfg.TargetSalesQuantity = 100
	cfg.ChurnBonusPct = dec("3")
	cfg.RetentionBonusPct = dec("1")
	cfg.TargetBonusPct = dec("3")
	cfg.Participants = closing.NewExplicitParticipants("ana", "bruno", "carla")

	emps := []closing.Employee{
		{ID: "dora", Name: "Dora", BaseSalary: dec("2500"), Active: true},
		{ID: "ana", Name: "Ana", BaseSalary: dec("3000"), Active: true},
		{ID: "bruno", Name: "Bruno", BaseSalary: dec("2000"), Active: true,
			ServicesCommissionPct: decimal.NewNullDecimal(dec("5"))},
		{ID: "carla", Name: "Carla", BaseSalary: dec("1000"), Active: true},
		{ID: "ed", Name: "Ed", BaseSalary: dec("9000"), Active: false},
	}

	in := closing.CalculationInput{
		ClosingID: "c1",
		Config:    cfg,
		SalesPeriod: closing.SalesPeriod{
			QualifyingMrr:       dec("30000"),
			TotalRecurringSales: 100, // 8% cancellation rate
		},
		Employees: emps,
		ServiceSales: []closing.ServiceSale{
			{ID: "s1", EmployeeID: "bruno", Amount: dec("1000"), Status: closing.ServiceSaleApproved},
			{ID: "s2", EmployeeID: "bruno", Amount: dec("500"), Status: closing.ServiceSaleApproved},
			{ID: "s3", EmployeeID: "bruno", Amount: dec("800"), Status: closing.ServiceSaleRejected},
			{ID: "s4", EmployeeID: "dora", Amount: dec("200"), Status: closing.ServiceSaleApproved},
		},
		Goals: []closing.IndividualGoal{
			{ID: "g1", EmployeeID: "ana", BonusValue: dec("100"), BonusKind: closing.BonusFlat, Achieved: true},
			{ID: "g2", EmployeeID: "ana", BonusValue: dec("10"), BonusKind: closing.BonusPercentOfSalary, Achieved: true},
			{ID: "g3", EmployeeID: "ana", BonusValue: dec("999"), BonusKind: closing.BonusFlat, Achieved: false},
		},
	}

	// WHEN: Calculating
	calc := closing.Calculate(in)

	// THEN: Gates follow the thresholds
	assertDec(t, "4", calc.Metrics.ChurnRate)
	assertDec(t, "8", calc.Metrics.CancellationRate)
	assert.True(t, calc.Gates.ChurnBonusUnlocked)
	assert.False(t, calc.Gates.RetentionBonusUnlocked, "8% is not below 5%")
	assert.True(t, calc.Gates.TargetBonusUnlocked)
	assertDec(t, "300", calc.Pool.PerParticipant)

	require.Len(t, calc.Lines, 4, "inactive employee excluded")
	ids := []closing.EmployeeID{calc.Lines[0].EmployeeID, calc.Lines[1].EmployeeID, calc.Lines[2].EmployeeID, calc.Lines[3].EmployeeID}
	assert.Equal(t, []closing.EmployeeID{"ana", "bruno", "carla", "dora"}, ids, "sorted by employee id")

	ana := calc.Lines[0]
	assertDec(t, "90", ana.ChurnBonusAmount)
	assert.True(t, ana.RetentionBonusAmount.IsZero())
	assertDec(t, "300", ana.TargetBonusAmount)
	assertDec(t, "390", ana.SubtotalSalaryBonuses)
	assert.Equal(t, 3, ana.IndividualGoalsCount)
	assert.Equal(t, 2, ana.IndividualGoalsMet)
	assertDec(t, "400", ana.IndividualGoalsBonusAmount) // 100 + 10% of 3000
	assertDec(t, "790", ana.TotalPayable)

	bruno := calc.Lines[1]
	assert.Equal(t, 2, bruno.ServiceSalesCount)
	assertDec(t, "1500", bruno.ServiceSalesTotal)
	assertDec(t, "5", bruno.ServiceCommissionPct)
	assertDec(t, "75", bruno.ServiceCommissionAmount)
	assertDec(t, "435", bruno.TotalPayable) // 60 + 300 + 75

	dora := calc.Lines[3]
	assert.True(t, dora.TargetBonusAmount.IsZero(), "not a participant")
	assertDec(t, "10", dora.ServiceCommissionPct, "default commission")
	assertDec(t, "20", dora.ServiceCommissionAmount)
	assertDec(t, "95", dora.TotalPayable) // 75 + 20
}

func TestCalculate_LinesAreStable(t *testing.T) {
	in := closing.CalculationInput{
		ClosingID:   "c1",
		Config:      closing.DefaultConfig(),
		SalesPeriod: closing.SalesPeriod{QualifyingMrr: dec("100")},
		Employees:   employees("b", "a", "c"),
	}
	first := closing.Calculate(in).Lines
	in.Employees = employees("c", "b", "a")
	second := closing.Calculate(in).Lines

	assert.Equal(t, first, second)
	assert.Equal(t, closing.LineIDFor("c1", "a"), first[0].ID)
	assert.NotEqual(t, closing.LineIDFor("c2", "a"), first[0].ID)
}

func TestWorkingSet_OptIn(t *testing.T) {
	emps := employees("a", "b")
	emps[1].ParticipatesInTeamClosing = true

	assert.Len(t, closing.WorkingSet(emps, false), 2)
	ws := closing.WorkingSet(emps, true)
	require.Len(t, ws, 1)
	assert.Equal(t, closing.EmployeeID("b"), ws[0].ID)
}

func TestGoalBonus(t *testing.T) {
	salary := dec("2000")
	assertDec(t, "150", closing.GoalBonus(closing.IndividualGoal{BonusValue: dec("150"), BonusKind: closing.BonusFlat}, salary))
	assertDec(t, "50", closing.GoalBonus(closing.IndividualGoal{BonusValue: dec("2.5"), BonusKind: closing.BonusPercentOfSalary}, salary))
}
