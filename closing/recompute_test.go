package closing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/team-closing/closing"
	"github.com/warp/team-closing/closing/store"
	"go.uber.org/zap"
)

var march = closing.NewMonth(2025, time.March)

// seed loads three active employees and an open March sales period.
func seed(t *testing.T, m *store.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, e := range employees("ana", "bruno", "carla") {
		require.NoError(t, m.SaveEmployee(ctx, e))
	}
	require.NoError(t, m.SaveSalesPeriod(ctx, closing.SalesPeriod{
		ReferenceMonth:      march,
		TotalMrr:            dec("50000"),
		QualifyingMrr:       dec("30000"),
		TotalRecurringSales: 100,
	}))
	require.NoError(t, m.SaveServiceSale(ctx, closing.ServiceSale{
		ID: "s1", EmployeeID: "ana", PeriodMonth: march, Amount: dec("1000"), Status: closing.ServiceSaleApproved,
	}))
}

func newController(repo closing.Repository) *closing.Controller {
	c := closing.NewController(repo, zap.NewNop())
	c.Now = func() time.Time { return time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC) }
	return c
}

var fullConfig = closing.ConfigInput{
	StartingSubscriptions: 200,
	CancellationsCount:    8,
	TargetSalesQuantity:   100,
	ChurnLimit:            dec("5"),
	CancellationLimit:     dec("10"),
	ChurnBonusPct:         dec("3"),
	RetentionBonusPct:     dec("2"),
	TargetBonusPct:        dec("3"),
}

// =============================================================================
// CONFIGURE
// =============================================================================

func TestConfigure_CreatesDraft(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)

	tc, err := c.Configure(context.Background(), march, fullConfig)
	require.NoError(t, err)
	assert.Equal(t, closing.StatusDraft, tc.Status)
	assert.Equal(t, 200, tc.StartingSubscriptions())
	assert.Equal(t, 8, tc.CancellationsCount())
	assert.Equal(t, 100, tc.TargetSalesQuantity())
	assert.Equal(t, closing.SelectionAllActive, tc.Config.Participants.Kind())

	lines, err := m.Lines(context.Background(), tc.ID)
	require.NoError(t, err)
	assert.Empty(t, lines, "configure never computes")
}

func TestConfigure_KeepsStatus(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()

	_, err := c.Recompute(ctx, march)
	require.NoError(t, err)

	in := fullConfig
	in.ParticipantIDs = []closing.EmployeeID{"ana"}
	tc, err := c.Configure(ctx, march, in)
	require.NoError(t, err)
	assert.Equal(t, closing.StatusCalculated, tc.Status)
	assert.Equal(t, closing.NewExplicitParticipants("ana"), tc.Config.Participants)
	require.NotNil(t, tc.AppliedConfig)
	assert.Equal(t, closing.SelectionAllActive, tc.Applied().Participants.Kind())
	assert.True(t, tc.HasPendingConfig())
}

func TestReconfigure_StatementFollowsAppliedConfig(t *testing.T) {
	// GIVEN: March computed with churn limit 5 and everyone in the pool
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()
	_, err := c.Configure(ctx, march, fullConfig)
	require.NoError(t, err)
	_, err = c.Recompute(ctx, march)
	require.NoError(t, err)

	// WHEN: The operator tightens the churn limit and narrows the pool
	// without recomputing
	in := fullConfig
	in.ChurnLimit = dec("1")
	in.ParticipantIDs = []closing.EmployeeID{"ana"}
	_, err = c.Configure(ctx, march, in)
	require.NoError(t, err)

	// THEN: The closing and statements still describe the stored amounts
	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	tc := view.Closing
	assert.Equal(t, closing.StatusCalculated, tc.Status)
	assert.True(t, tc.HasPendingConfig())
	assertDec(t, "1", tc.Config.ChurnLimit)
	assertDec(t, "5", tc.Applied().ChurnLimit)
	assert.True(t, tc.ChurnBonusUnlocked)
	assert.Equal(t, 200, tc.StartingSubscriptions())

	st, err := c.Statement(ctx, march, "bruno")
	require.NoError(t, err)
	assert.True(t, st.ConfigPending)
	assert.Equal(t, closing.GateUnlocked, st.SalaryBonuses[0].Gate)
	assert.Equal(t, "churn 4% < 5%, 3% of salary", st.SalaryBonuses[0].Basis)
	assert.Equal(t, closing.GateUnlocked, st.SalaryBonuses[2].Gate, "bruno was in the applied pool")
	assertDec(t, "300", st.SalaryBonuses[2].Amount)
	assert.Contains(t, st.Render(), "configuration changed since the last recompute")

	// WHEN: Recomputing applies the new config
	_, err = c.Recompute(ctx, march)
	require.NoError(t, err)

	// THEN: Gates, pool and statement move together
	st, err = c.Statement(ctx, march, "bruno")
	require.NoError(t, err)
	assert.False(t, st.ConfigPending)
	assert.Equal(t, closing.GateLocked, st.SalaryBonuses[0].Gate)
	assert.Equal(t, "churn 4% >= 1%, 3% of salary", st.SalaryBonuses[0].Basis)
	assert.True(t, st.SalaryBonuses[0].Amount.IsZero())
	assert.Equal(t, closing.GateNotApplicable, st.SalaryBonuses[2].Gate)
	assert.True(t, st.SalaryBonuses[2].Amount.IsZero())

	view, err = c.Closing(ctx, march)
	require.NoError(t, err)
	assert.False(t, view.Closing.HasPendingConfig())
	assertDec(t, "900", view.Closing.TargetBonusPerParticipant)
}

func TestConfigure_Errors(t *testing.T) {
	m := store.NewMemory()
	c := newController(m)
	ctx := context.Background()

	bad := fullConfig
	bad.ChurnBonusPct = dec("-1")
	_, err := c.Configure(ctx, march, bad)
	var verr *closing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "churn_bonus_pct", verr.Field)

	bad = fullConfig
	bad.CancellationsCount = -3
	_, err = c.Configure(ctx, march, bad)
	assert.ErrorIs(t, err, closing.ErrValidation)

	_, err = c.Configure(ctx, march, fullConfig)
	assert.ErrorIs(t, err, closing.ErrMissingPrerequisite)
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestRecompute_ComputesAndStores(t *testing.T) {
	// GIVEN: A configured month
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()
	_, err := c.Configure(ctx, march, fullConfig)
	require.NoError(t, err)

	// WHEN: Recomputing
	res, err := c.Recompute(ctx, march)
	require.NoError(t, err)

	// THEN: The closing is calculated and lines are stored
	tc := res.Closing
	assert.Equal(t, closing.StatusCalculated, tc.Status)
	require.NotNil(t, tc.CalculatedAt)
	assert.Equal(t, 100, tc.RecurringSalesCount)
	assertDec(t, "30000", tc.MrrQualifyingForBonus)
	assertDec(t, "50000", tc.MrrForPeriod)
	assertDec(t, "900", tc.TargetBonusPoolTotal)
	assert.Equal(t, 3, tc.ParticipantCount)
	assertDec(t, "300", tc.TargetBonusPerParticipant)

	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	require.Len(t, view.Lines, 3)
	assert.Equal(t, closing.EmployeeID("ana"), view.Lines[0].EmployeeID)
	// 30 + 20 + 300 + 10% of 1000
	assertDec(t, "450", view.Lines[0].TotalPayable)
	assertDec(t, "1150", view.Totals.TotalPayable)
}

func TestRecompute_WithoutConfigUsesDefaults(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)

	res, err := c.Recompute(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, closing.DefaultConfig(), res.Closing.Config)
	assert.True(t, res.Closing.TargetBonusPoolTotal.IsZero())
	require.Len(t, res.Lines, 3)
	assertDec(t, "100", res.Lines[0].TotalPayable, "only the commission")
}

func TestRecompute_Idempotent(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()
	_, err := c.Configure(ctx, march, fullConfig)
	require.NoError(t, err)

	first, err := c.Recompute(ctx, march)
	require.NoError(t, err)
	stored1, err := m.Lines(ctx, first.Closing.ID)
	require.NoError(t, err)

	second, err := c.Recompute(ctx, march)
	require.NoError(t, err)
	stored2, err := m.Lines(ctx, second.Closing.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Closing.ID, second.Closing.ID)
	assert.Equal(t, stored1, stored2)
}

func TestRecompute_ReflectsChangedInputs(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()

	_, err := c.Recompute(ctx, march)
	require.NoError(t, err)

	// Carla leaves, a new sale arrives
	carla := employees("carla")[0]
	carla.Active = false
	require.NoError(t, m.SaveEmployee(ctx, carla))
	require.NoError(t, m.SaveServiceSale(ctx, closing.ServiceSale{
		ID: "s2", EmployeeID: "bruno", PeriodMonth: march, Amount: dec("400"), Status: closing.ServiceSaleApproved,
	}))

	res, err := c.Recompute(ctx, march)
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assertDec(t, "40", res.Lines[1].ServiceCommissionAmount)

	stored, err := m.Lines(ctx, res.Closing.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "stale lines removed")
}

func TestRecompute_MissingSalesPeriod(t *testing.T) {
	m := store.NewMemory()
	c := newController(m)

	_, err := c.Recompute(context.Background(), march)
	var merr *closing.MissingPrerequisiteError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, march, merr.Month)
	assert.True(t, closing.IsRetryable(err))
}

func TestRecompute_ClosedPeriodWritesNothing(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	ctx := context.Background()
	require.NoError(t, m.SaveSalesPeriod(ctx, closing.SalesPeriod{
		ReferenceMonth: march, QualifyingMrr: dec("1"), Status: closing.SalesPeriodClosed,
	}))
	c := newController(m)

	_, err := c.Recompute(ctx, march)
	assert.ErrorIs(t, err, closing.ErrClosedPeriod)
	assert.True(t, closing.IsClientError(err))

	closings, err := m.ListClosings(ctx)
	require.NoError(t, err)
	assert.Empty(t, closings)

	_, err = c.Closing(ctx, march)
	assert.True(t, closing.IsNotFound(err))
}

// failingStore makes InsertLines fail inside transactions.
type failingStore struct {
	*store.Memory
}

type failingView struct {
	closing.ClosingStore
}

func (failingView) InsertLines(context.Context, []closing.EmployeeClosingLine) error {
	return errors.New("disk full")
}

func (f failingStore) WithTx(ctx context.Context, fn func(closing.ClosingStore) error) error {
	return f.Memory.WithTx(ctx, func(s closing.ClosingStore) error {
		return fn(failingView{s})
	})
}

func TestRecompute_StorageFailureKeepsSnapshot(t *testing.T) {
	// GIVEN: A committed recompute
	m := store.NewMemory()
	seed(t, m)
	ctx := context.Background()
	first, err := newController(m).Recompute(ctx, march)
	require.NoError(t, err)
	before, err := m.Lines(ctx, first.Closing.ID)
	require.NoError(t, err)

	// WHEN: The next recompute fails while inserting lines
	c := newController(failingStore{m})
	_, err = c.Configure(ctx, march, fullConfig)
	require.NoError(t, err)
	_, err = c.Recompute(ctx, march)

	// THEN: StorageConsistencyError, and readers see the previous lines
	var serr *closing.StorageConsistencyError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, closing.ErrStorageConsistency)
	assert.Contains(t, err.Error(), "disk full")

	after, err := m.Lines(ctx, first.Closing.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	tc, err := m.GetClosing(ctx, march)
	require.NoError(t, err)
	assert.True(t, tc.TargetBonusPoolTotal.IsZero(), "aggregates rolled back too")
}

// blockingStore parks ActiveEmployees until released.
type blockingStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) ActiveEmployees(ctx context.Context) ([]closing.Employee, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Memory.ActiveEmployees(ctx)
}

func TestRecompute_ConcurrentSameMonthRejected(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	bs := &blockingStore{Memory: m, entered: make(chan struct{}), release: make(chan struct{})}
	c := newController(bs)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Recompute(ctx, march)
		done <- err
	}()
	<-bs.entered

	_, err := c.Recompute(ctx, march)
	var perr *closing.InProgressError
	require.ErrorAs(t, err, &perr)
	assert.True(t, closing.IsRetryable(err))

	_, err = c.Configure(ctx, march, fullConfig)
	assert.ErrorIs(t, err, closing.ErrInProgress)

	close(bs.release)
	require.NoError(t, <-done)

	// Slot is free again
	_, err = c.Recompute(ctx, march)
	assert.NoError(t, err)
}

func TestRecomputeMany(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	ctx := context.Background()
	april := march.Next()
	require.NoError(t, m.SaveSalesPeriod(ctx, closing.SalesPeriod{ReferenceMonth: april, QualifyingMrr: dec("10")}))
	c := newController(m)
	c.Parallelism = 2

	outcomes := c.RecomputeMany(ctx, []closing.Month{march, april, march, april.Next()})
	require.Len(t, outcomes, 3)

	assert.Equal(t, march, outcomes[0].Month)
	assert.NoError(t, outcomes[0].Err)
	require.NotNil(t, outcomes[0].Closing)
	assert.Equal(t, closing.StatusCalculated, outcomes[0].Closing.Status)

	assert.Equal(t, april, outcomes[1].Month)
	assert.NoError(t, outcomes[1].Err)

	assert.ErrorIs(t, outcomes[2].Err, closing.ErrMissingPrerequisite)
	assert.Nil(t, outcomes[2].Closing)

	closings, err := m.ListClosings(ctx)
	require.NoError(t, err)
	require.Len(t, closings, 2)
	assert.Equal(t, april, closings[0].ReferenceMonth)
}

// splitReadStore fails the per-table reads so closing views must come from
// a single ReadClosing snapshot.
type splitReadStore struct {
	*store.Memory
}

func (splitReadStore) Lines(context.Context, closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	return nil, errors.New("lines read outside snapshot")
}

func (splitReadStore) ListAdjustments(context.Context, closing.ClosingID) ([]closing.Adjustment, error) {
	return nil, errors.New("adjustments read outside snapshot")
}

func TestClosing_ReadsOneSnapshot(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	ctx := context.Background()
	_, err := newController(m).Recompute(ctx, march)
	require.NoError(t, err)

	c := newController(splitReadStore{m})
	view, err := c.Closing(ctx, march)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 3)
	assertDec(t, "100", view.Totals.TotalPayable)

	st, err := c.Statement(ctx, march, "ana")
	require.NoError(t, err)
	assertDec(t, "100", st.TotalPayable)
}

// =============================================================================
// STATEMENT
// =============================================================================

func TestStatement_ForEmployee(t *testing.T) {
	m := store.NewMemory()
	seed(t, m)
	c := newController(m)
	ctx := context.Background()
	in := fullConfig
	in.ParticipantIDs = []closing.EmployeeID{"bruno", "carla"}
	_, err := c.Configure(ctx, march, in)
	require.NoError(t, err)
	_, err = c.Recompute(ctx, march)
	require.NoError(t, err)

	st, err := c.Statement(ctx, march, "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana", st.EmployeeName)
	require.Len(t, st.SalaryBonuses, 3)
	assert.Equal(t, closing.GateUnlocked, st.SalaryBonuses[0].Gate)
	assert.Equal(t, closing.GateNotApplicable, st.SalaryBonuses[2].Gate, "ana is not in the pool")
	assert.True(t, st.SalaryBonuses[2].Amount.IsZero())
	assertDec(t, "150", st.TotalPayable) // 30 + 20 + 100

	_, err = c.Statement(ctx, march, "nobody")
	assert.True(t, closing.IsNotFound(err))
}
