package closing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/team-closing/closing"
	"github.com/warp/team-closing/closing/store"
	"go.uber.org/zap"
)

// newLedgerFixture seeds March, recomputes it and returns a ledger with a
// clock that advances one second per adjustment.
func newLedgerFixture(t *testing.T) (*store.Memory, *closing.Controller, *closing.Ledger) {
	t.Helper()
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	_, err := c.Recompute(context.Background(), march)
	require.NoError(t, err)

	l := closing.NewLedger(m, m, m, zap.NewNop())
	clock := time.Date(2025, 4, 3, 10, 0, 0, 0, time.UTC)
	l.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m, c, l
}

func empID(s string) *closing.EmployeeID {
	id := closing.EmployeeID(s)
	return &id
}

func TestLedger_CreditAndDebit(t *testing.T) {
	// GIVEN: Ana's computed total is 100 (commission only)
	_, c, l := newLedgerFixture(t)
	ctx := context.Background()

	// WHEN: A credit of 150 and a debit of 50 are added
	credit, err := l.Add(ctx, closing.AdjustmentInput{
		Month: march, EmployeeID: empID("ana"), Kind: closing.AdjustmentCredit,
		Amount: dec("150"), Description: "  missed service sale ", CreatedBy: "ops",
	})
	require.NoError(t, err)
	_, err = l.Add(ctx, closing.AdjustmentInput{
		Month: march, EmployeeID: empID("ana"), Kind: closing.AdjustmentDebit,
		Amount: dec("50"), Description: "advance already paid",
	})
	require.NoError(t, err)

	// THEN: Effective payable moves by +100, stored lines do not
	assert.Equal(t, "missed service sale", credit.Description)
	assertDec(t, "150", credit.Signed())

	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	ana := view.Lines[0]
	assertDec(t, "100", ana.TotalPayable)
	assertDec(t, "200", closing.EffectivePayable(ana, view.Adjustments))
	assertDec(t, "100", closing.AdjustmentTotal("ana", view.Adjustments))
	assert.True(t, closing.AdjustmentTotal("bruno", view.Adjustments).IsZero())

	assertDec(t, "150", view.Totals.Credits)
	assertDec(t, "50", view.Totals.Debits)
	assertDec(t, "300", view.Totals.TotalPayable)
	assertDec(t, "400", view.Totals.GrandTotal)
}

func TestLedger_ListMostRecentFirst(t *testing.T) {
	_, _, l := newLedgerFixture(t)
	ctx := context.Background()

	for _, desc := range []string{"first", "second", "third"} {
		_, err := l.Add(ctx, closing.AdjustmentInput{
			Month: march, Kind: closing.AdjustmentCredit, Amount: dec("1"), Description: desc,
		})
		require.NoError(t, err)
	}

	adjs, err := l.List(ctx, march)
	require.NoError(t, err)
	require.Len(t, adjs, 3)
	assert.Equal(t, "third", adjs[0].Description)
	assert.Equal(t, "first", adjs[2].Description)
	assert.True(t, adjs[0].IsGeneral())
}

func TestLedger_Remove(t *testing.T) {
	_, c, l := newLedgerFixture(t)
	ctx := context.Background()

	adj, err := l.Add(ctx, closing.AdjustmentInput{
		Month: march, EmployeeID: empID("bruno"), Kind: closing.AdjustmentCredit, Amount: dec("25"), Description: "fix",
	})
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, adj.ID))

	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	assert.Empty(t, view.Adjustments)
	assert.True(t, view.Totals.GrandTotal.Equal(view.Totals.TotalPayable))

	err = l.Remove(ctx, adj.ID)
	assert.True(t, closing.IsNotFound(err))
}

func TestLedger_Validation(t *testing.T) {
	_, _, l := newLedgerFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    closing.AdjustmentInput
		field string
	}{
		{
			name:  "zero amount",
			in:    closing.AdjustmentInput{Month: march, Kind: closing.AdjustmentCredit, Amount: dec("0"), Description: "x"},
			field: "amount",
		},
		{
			name:  "negative amount",
			in:    closing.AdjustmentInput{Month: march, Kind: closing.AdjustmentDebit, Amount: dec("-10"), Description: "x"},
			field: "amount",
		},
		{
			name:  "blank description",
			in:    closing.AdjustmentInput{Month: march, Kind: closing.AdjustmentCredit, Amount: dec("10"), Description: "   "},
			field: "description",
		},
		{
			name:  "unknown kind",
			in:    closing.AdjustmentInput{Month: march, Kind: "bonus", Amount: dec("10"), Description: "x"},
			field: "kind",
		},
		{
			name:  "unknown employee",
			in:    closing.AdjustmentInput{Month: march, EmployeeID: empID("ghost"), Kind: closing.AdjustmentCredit, Amount: dec("10"), Description: "x"},
			field: "employee_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Add(ctx, tt.in)
			var verr *closing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, closing.IsClientError(err))
		})
	}

	adjs, err := l.List(ctx, march)
	require.NoError(t, err)
	assert.Empty(t, adjs)
}

func TestLedger_UnknownClosing(t *testing.T) {
	_, _, l := newLedgerFixture(t)
	ctx := context.Background()

	_, err := l.Add(ctx, closing.AdjustmentInput{
		Month: march.Next(), Kind: closing.AdjustmentCredit, Amount: dec("1"), Description: "x",
	})
	assert.ErrorIs(t, err, closing.ErrNotFound)

	_, err = l.List(ctx, march.Next())
	assert.ErrorIs(t, err, closing.ErrNotFound)
}

func TestLedger_ClosedPeriod(t *testing.T) {
	// GIVEN: An adjustment exists and the sales period is then closed
	m, _, l := newLedgerFixture(t)
	ctx := context.Background()
	adj, err := l.Add(ctx, closing.AdjustmentInput{
		Month: march, Kind: closing.AdjustmentCredit, Amount: dec("5"), Description: "x",
	})
	require.NoError(t, err)

	sp, err := m.SalesPeriod(ctx, march)
	require.NoError(t, err)
	sp.Status = closing.SalesPeriodClosed
	require.NoError(t, m.SaveSalesPeriod(ctx, *sp))

	// WHEN/THEN: Neither add nor remove is allowed
	_, err = l.Add(ctx, closing.AdjustmentInput{
		Month: march, Kind: closing.AdjustmentCredit, Amount: dec("5"), Description: "y",
	})
	var cerr *closing.ClosedPeriodError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "add adjustment", cerr.Operation)

	err = l.Remove(ctx, adj.ID)
	assert.ErrorIs(t, err, closing.ErrClosedPeriod)

	adjs, err := l.List(ctx, march)
	require.NoError(t, err)
	assert.Len(t, adjs, 1, "reads still work")
}

func TestRecompute_LeavesAdjustmentsAlone(t *testing.T) {
	_, c, l := newLedgerFixture(t)
	ctx := context.Background()
	_, err := l.Add(ctx, closing.AdjustmentInput{
		Month: march, EmployeeID: empID("carla"), Kind: closing.AdjustmentDebit, Amount: dec("30"), Description: "x",
	})
	require.NoError(t, err)

	_, err = c.Recompute(ctx, march)
	require.NoError(t, err)

	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	require.Len(t, view.Adjustments, 1)
	assertDec(t, "70", closing.EffectivePayable(view.Lines[2], view.Adjustments))
}

func TestSummarize_GeneralAdjustments(t *testing.T) {
	lines := []closing.EmployeeClosingLine{
		{EmployeeID: "a", TotalPayable: dec("100")},
		{EmployeeID: "b", TotalPayable: dec("200")},
	}
	adjs := []closing.Adjustment{
		{Kind: closing.AdjustmentCredit, Amount: dec("40")},
		{Kind: closing.AdjustmentDebit, Amount: dec("15")},
		{EmployeeID: empID("gone"), Kind: closing.AdjustmentCredit, Amount: dec("10")},
	}

	tot := closing.Summarize(lines, adjs)
	assertDec(t, "300", tot.TotalPayable)
	assertDec(t, "50", tot.Credits)
	assertDec(t, "15", tot.Debits)
	assertDec(t, "25", tot.GeneralAdjustments)
	assertDec(t, "335", tot.GrandTotal, "employee without a line still counts")

	assertDec(t, "100", closing.EffectivePayable(lines[0], adjs), "general adjustments are not per-employee")
}
