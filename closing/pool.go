package closing

import "github.com/shopspring/decimal"

// =============================================================================
// TARGET BONUS POOL - Equal split across the participant set
// =============================================================================

// Pool is the distributed target bonus.
type Pool struct {
	Total          decimal.Decimal
	Participants   []EmployeeID
	PerParticipant decimal.Decimal
}

func (p Pool) ParticipantCount() int { return len(p.Participants) }

// Includes reports whether the employee shares the pool.
func (p Pool) Includes(id EmployeeID) bool {
	for _, x := range p.Participants {
		if x == id {
			return true
		}
	}
	return false
}

// ResolveParticipants applies the selection to the working set and returns
// the selected ids in working-set order. Ids in an explicit list that are not
// in the working set (inactive, unknown) are dropped.
func ResolveParticipants(sel ParticipantSelection, workingSet []Employee) []EmployeeID {
	if sel == nil {
		sel = AllActiveEmployees{}
	}
	ids := make([]EmployeeID, 0, len(workingSet))
	for _, e := range workingSet {
		if sel.Includes(e.ID) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// DistributePool computes the pool and the identical per-participant share.
// Every participant receives the same amount regardless of role or tenure.
func DistributePool(gates Gates, qualifyingMrr, targetBonusPct decimal.Decimal, participants []EmployeeID) Pool {
	pool := Pool{
		Total:          decimal.Zero,
		Participants:   participants,
		PerParticipant: decimal.Zero,
	}
	if gates.TargetBonusUnlocked {
		pool.Total = percentOf(qualifyingMrr, targetBonusPct)
	}
	if n := len(participants); n > 0 {
		pool.PerParticipant = pool.Total.Div(decimal.NewFromInt(int64(n)))
	}
	return pool
}
