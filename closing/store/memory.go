// Package store provides in-memory implementations of the closing stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/team-closing/closing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	closings    map[closing.ClosingID]closing.TeamClosing
	byMonth     map[closing.Month]closing.ClosingID
	lines       map[closing.ClosingID][]closing.EmployeeClosingLine
	adjustments []storedAdjustment
	seq         int

	employees    map[closing.EmployeeID]closing.Employee
	salesPeriods map[closing.Month]closing.SalesPeriod
	serviceSales []closing.ServiceSale
	goals        []closing.IndividualGoal
}

type storedAdjustment struct {
	closing.Adjustment
	seq int
}

func NewMemory() *Memory {
	return &Memory{
		closings:     make(map[closing.ClosingID]closing.TeamClosing),
		byMonth:      make(map[closing.Month]closing.ClosingID),
		lines:        make(map[closing.ClosingID][]closing.EmployeeClosingLine),
		employees:    make(map[closing.EmployeeID]closing.Employee),
		salesPeriods: make(map[closing.Month]closing.SalesPeriod),
	}
}

// =============================================================================
// CLOSING STORE (closing.ClosingStore interface)
// =============================================================================

func (m *Memory) GetClosing(_ context.Context, month closing.Month) (*closing.TeamClosing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClosingLocked(month), nil
}

func (m *Memory) getClosingLocked(month closing.Month) *closing.TeamClosing {
	id, ok := m.byMonth[month]
	if !ok {
		return nil
	}
	tc := m.closings[id]
	return &tc
}

func (m *Memory) GetClosingByID(_ context.Context, id closing.ClosingID) (*closing.TeamClosing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tc, ok := m.closings[id]
	if !ok {
		return nil, nil
	}
	return &tc, nil
}

func (m *Memory) ListClosings(_ context.Context) ([]closing.TeamClosing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]closing.TeamClosing, 0, len(m.closings))
	for _, tc := range m.closings {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].ReferenceMonth.Before(out[i].ReferenceMonth) })
	return out, nil
}

func (m *Memory) SaveClosing(_ context.Context, tc closing.TeamClosing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveClosingLocked(tc)
}

func (m *Memory) saveClosingLocked(tc closing.TeamClosing) error {
	if existing, ok := m.byMonth[tc.ReferenceMonth]; ok && existing != tc.ID {
		return fmt.Errorf("closing for %s already exists as %s", tc.ReferenceMonth, existing)
	}
	if prev, ok := m.closings[tc.ID]; ok && prev.ReferenceMonth != tc.ReferenceMonth {
		delete(m.byMonth, prev.ReferenceMonth)
	}
	m.closings[tc.ID] = tc
	m.byMonth[tc.ReferenceMonth] = tc.ID
	return nil
}

func (m *Memory) Lines(_ context.Context, closingID closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linesLocked(closingID), nil
}

func (m *Memory) linesLocked(closingID closing.ClosingID) []closing.EmployeeClosingLine {
	out := make([]closing.EmployeeClosingLine, len(m.lines[closingID]))
	copy(out, m.lines[closingID])
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

func (m *Memory) DeleteLines(_ context.Context, closingID closing.ClosingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, closingID)
	return nil
}

func (m *Memory) InsertLines(_ context.Context, lines []closing.EmployeeClosingLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLinesLocked(lines)
}

func (m *Memory) insertLinesLocked(lines []closing.EmployeeClosingLine) error {
	// Check the whole batch first so a failure writes nothing.
	type k struct {
		c closing.ClosingID
		e closing.EmployeeID
	}
	seen := make(map[k]bool)
	for cid, ls := range m.lines {
		for _, l := range ls {
			seen[k{cid, l.EmployeeID}] = true
		}
	}
	for _, l := range lines {
		key := k{l.ClosingID, l.EmployeeID}
		if seen[key] {
			return fmt.Errorf("duplicate closing line for employee %s in closing %s", l.EmployeeID, l.ClosingID)
		}
		seen[key] = true
	}
	for _, l := range lines {
		m.lines[l.ClosingID] = append(m.lines[l.ClosingID], l)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(closing.ClosingStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	closings map[closing.ClosingID]closing.TeamClosing
	byMonth  map[closing.Month]closing.ClosingID
	lines    map[closing.ClosingID][]closing.EmployeeClosingLine
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		closings: make(map[closing.ClosingID]closing.TeamClosing, len(m.closings)),
		byMonth:  make(map[closing.Month]closing.ClosingID, len(m.byMonth)),
		lines:    make(map[closing.ClosingID][]closing.EmployeeClosingLine, len(m.lines)),
	}
	for k, v := range m.closings {
		s.closings[k] = v
	}
	for k, v := range m.byMonth {
		s.byMonth[k] = v
	}
	for k, v := range m.lines {
		s.lines[k] = append([]closing.EmployeeClosingLine{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.closings = s.closings
	m.byMonth = s.byMonth
	m.lines = s.lines
}

// txView runs against the parent while its lock is held by WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) GetClosing(_ context.Context, month closing.Month) (*closing.TeamClosing, error) {
	return tv.parent.getClosingLocked(month), nil
}

func (tv *txView) GetClosingByID(_ context.Context, id closing.ClosingID) (*closing.TeamClosing, error) {
	tc, ok := tv.parent.closings[id]
	if !ok {
		return nil, nil
	}
	return &tc, nil
}

func (tv *txView) ListClosings(_ context.Context) ([]closing.TeamClosing, error) {
	out := make([]closing.TeamClosing, 0, len(tv.parent.closings))
	for _, tc := range tv.parent.closings {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].ReferenceMonth.Before(out[i].ReferenceMonth) })
	return out, nil
}

func (tv *txView) SaveClosing(_ context.Context, tc closing.TeamClosing) error {
	return tv.parent.saveClosingLocked(tc)
}

func (tv *txView) Lines(_ context.Context, closingID closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	return tv.parent.linesLocked(closingID), nil
}

func (tv *txView) DeleteLines(_ context.Context, closingID closing.ClosingID) error {
	delete(tv.parent.lines, closingID)
	return nil
}

func (tv *txView) InsertLines(_ context.Context, lines []closing.EmployeeClosingLine) error {
	return tv.parent.insertLinesLocked(lines)
}

// =============================================================================
// ADJUSTMENT STORE (closing.AdjustmentStore interface)
// =============================================================================

func (m *Memory) AppendAdjustment(_ context.Context, a closing.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.adjustments {
		if s.ID == a.ID {
			return fmt.Errorf("adjustment %s already exists", a.ID)
		}
	}
	m.seq++
	m.adjustments = append(m.adjustments, storedAdjustment{Adjustment: a, seq: m.seq})
	return nil
}

func (m *Memory) DeleteAdjustment(_ context.Context, id closing.AdjustmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.adjustments {
		if s.ID == id {
			m.adjustments = append(m.adjustments[:i], m.adjustments[i+1:]...)
			return nil
		}
	}
	return &closing.NotFoundError{Kind: "adjustment", ID: string(id)}
}

func (m *Memory) GetAdjustment(_ context.Context, id closing.AdjustmentID) (*closing.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.adjustments {
		if s.ID == id {
			a := s.Adjustment
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAdjustments(_ context.Context, closingID closing.ClosingID) ([]closing.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adjustmentsLocked(closingID), nil
}

func (m *Memory) adjustmentsLocked(closingID closing.ClosingID) []closing.Adjustment {
	var matched []storedAdjustment
	for _, s := range m.adjustments {
		if s.ClosingID == closingID {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})
	out := make([]closing.Adjustment, len(matched))
	for i, s := range matched {
		out[i] = s.Adjustment
	}
	return out
}

// =============================================================================
// SNAPSHOT READS (closing.SnapshotReader interface)
// =============================================================================

// ReadClosing holds the read lock across all three reads; WithTx needs the
// write lock, so a recompute is never observed half applied.
func (m *Memory) ReadClosing(_ context.Context, month closing.Month) (*closing.ClosingSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tc := m.getClosingLocked(month)
	if tc == nil {
		return nil, nil
	}
	return &closing.ClosingSnapshot{
		Closing:     *tc,
		Lines:       m.linesLocked(tc.ID),
		Adjustments: m.adjustmentsLocked(tc.ID),
	}, nil
}

// =============================================================================
// SOURCE (closing.Source interface) + collaborator writers
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e closing.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) SaveSalesPeriod(_ context.Context, p closing.SalesPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = closing.SalesPeriodOpen
	}
	m.salesPeriods[p.ReferenceMonth] = p
	return nil
}

func (m *Memory) SaveServiceSale(_ context.Context, s closing.ServiceSale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.serviceSales {
		if m.serviceSales[i].ID == s.ID {
			m.serviceSales[i] = s
			return nil
		}
	}
	m.serviceSales = append(m.serviceSales, s)
	return nil
}

func (m *Memory) SaveIndividualGoal(_ context.Context, g closing.IndividualGoal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.goals {
		if m.goals[i].ID == g.ID {
			m.goals[i] = g
			return nil
		}
	}
	m.goals = append(m.goals, g)
	return nil
}

func (m *Memory) SalesPeriod(_ context.Context, month closing.Month) (*closing.SalesPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.salesPeriods[month]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListEmployees returns all employees, active or not.
func (m *Memory) ListEmployees(_ context.Context) ([]closing.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]closing.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ActiveEmployees(_ context.Context) ([]closing.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []closing.Employee
	for _, e := range m.employees {
		if e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Employee(_ context.Context, id closing.EmployeeID) (*closing.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ApprovedServiceSales(_ context.Context, month closing.Month) ([]closing.ServiceSale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []closing.ServiceSale
	for _, s := range m.serviceSales {
		if s.PeriodMonth == month && s.Status == closing.ServiceSaleApproved {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) IndividualGoals(_ context.Context, month closing.Month) ([]closing.IndividualGoal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []closing.IndividualGoal
	for _, g := range m.goals {
		if g.PeriodMonth == month {
			out = append(out, g)
		}
	}
	return out, nil
}

var _ closing.Repository = (*Memory)(nil)
