package closing_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/team-closing/closing"
)

func statementFixture() (closing.TeamClosing, closing.Employee, closing.EmployeeClosingLine) {
	cfg := closing.DefaultConfig()
	cfg.ChurnBonusPct = dec("3")
	cfg.RetentionBonusPct = dec("2")
	cfg.TargetBonusPct = dec("3")
	cfg.Participants = closing.NewExplicitParticipants("bruno")

	tc := closing.TeamClosing{
		ID:                   "c1",
		ReferenceMonth:       closing.NewMonth(2025, time.March),
		Config:               cfg,
		ChurnRate:            dec("4"),
		CancellationRate:     dec("8"),
		TargetPercent:        dec("120"),
		ChurnBonusUnlocked:   true,
		TargetBonusUnlocked:  true,
		TargetBonusPoolTotal: dec("900"),
		ParticipantCount:     1,
		Status:               closing.StatusCalculated,
	}
	emp := closing.Employee{ID: "ana", Name: "Ana Lima", Role: "CSM", BaseSalary: dec("3000"), Active: true}
	line := closing.EmployeeClosingLine{
		EmployeeID:                 "ana",
		ChurnBonusAmount:           dec("90"),
		RetentionBonusAmount:       dec("0"),
		TargetBonusAmount:          dec("0"),
		SubtotalSalaryBonuses:      dec("90"),
		ServiceSalesCount:          2,
		ServiceSalesTotal:          dec("1500"),
		ServiceCommissionPct:       dec("10"),
		ServiceCommissionAmount:    dec("150"),
		IndividualGoalsCount:       2,
		IndividualGoalsMet:         1,
		IndividualGoalsBonusAmount: dec("100"),
		TotalPayable:               dec("340"),
	}
	return tc, emp, line
}

func TestGenerateStatement(t *testing.T) {
	tc, emp, line := statementFixture()
	adjs := []closing.Adjustment{
		{EmployeeID: empID("ana"), Kind: closing.AdjustmentCredit, Amount: dec("60"), Description: "late sale"},
		{EmployeeID: empID("bruno"), Kind: closing.AdjustmentCredit, Amount: dec("999"), Description: "other"},
		{Kind: closing.AdjustmentDebit, Amount: dec("10"), Description: "general"},
	}

	st := closing.GenerateStatement(tc, emp, line, adjs)

	assert.Equal(t, "Ana Lima", st.EmployeeName)
	require.Len(t, st.SalaryBonuses, 3)
	assert.Equal(t, closing.GateUnlocked, st.SalaryBonuses[0].Gate)
	assert.Equal(t, closing.GateLocked, st.SalaryBonuses[1].Gate)
	assert.Equal(t, closing.GateNotApplicable, st.SalaryBonuses[2].Gate)
	assert.Equal(t, "1 of 2 goals met", st.IndividualGoals.Basis)
	assert.False(t, st.ConfigPending)

	require.Len(t, st.Adjustments, 1, "only ana's adjustments")
	assertDec(t, "60", st.AdjustmentsTotal)
	assertDec(t, "400", st.EffectivePayable)
}

func TestGenerateStatement_ParticipantSeesPool(t *testing.T) {
	tc, emp, line := statementFixture()
	tc.Config.Participants = closing.AllActiveEmployees{}

	st := closing.GenerateStatement(tc, emp, line, nil)
	assert.Equal(t, closing.GateUnlocked, st.SalaryBonuses[2].Gate)
	assert.Equal(t, "pool 900.00 / 1 participants", st.SalaryBonuses[2].Basis)
	assert.Empty(t, st.Adjustments)
	assert.True(t, st.EffectivePayable.Equal(st.TotalPayable))
}

func TestGenerateStatement_BasisMatchesGate(t *testing.T) {
	tc, emp, line := statementFixture()

	st := closing.GenerateStatement(tc, emp, line, nil)

	assert.Equal(t, "churn 4% < 5%, 3% of salary", st.SalaryBonuses[0].Basis)
	assert.Equal(t, "cancellations 8% >= 5%, 2% of salary", st.SalaryBonuses[1].Basis, "locked gate is not below its limit")
}

func TestGenerateStatement_UsesAppliedConfig(t *testing.T) {
	// GIVEN: A calculated closing reconfigured afterwards
	tc, emp, line := statementFixture()
	applied := tc.Config
	tc.AppliedConfig = &applied
	tc.Config.ChurnLimit = dec("1")
	tc.Config.Participants = closing.NewExplicitParticipants("ana")

	// WHEN: Generating the statement
	st := closing.GenerateStatement(tc, emp, line, nil)

	// THEN: Texts follow the config the amounts came from
	assert.True(t, st.ConfigPending)
	assert.Equal(t, "churn 4% < 5%, 3% of salary", st.SalaryBonuses[0].Basis)
	assert.Equal(t, closing.GateNotApplicable, st.SalaryBonuses[2].Gate, "ana was not in the applied pool")
}

func TestStatementRender(t *testing.T) {
	tc, emp, line := statementFixture()
	adjs := []closing.Adjustment{
		{EmployeeID: empID("ana"), Kind: closing.AdjustmentDebit, Amount: dec("40"), Description: "advance"},
	}

	out := closing.GenerateStatement(tc, emp, line, adjs).Render()

	for _, want := range []string{
		"Closing statement 2025-03 (calculated)",
		"Employee: Ana Lima [ana] CSM",
		"Base salary: 3000.00",
		"Churn bonus",
		"Retention bonus",
		"Service commission",
		"2 sales totaling 1500.00 at 10%",
		"Total payable",
		"advance",
		"-40.00",
		"300.00",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "300.00"), "effective payable is the last row")
}
