package closing

import "github.com/shopspring/decimal"

// =============================================================================
// BONUS GATES - Threshold comparisons
// =============================================================================

// Gates holds the three independent unlock decisions.
type Gates struct {
	ChurnBonusUnlocked     bool
	RetentionBonusUnlocked bool
	TargetBonusUnlocked    bool
}

// TargetGatePercent is the percent-of-target that unlocks the pool.
var TargetGatePercent = decimal.NewFromInt(100)

// EvaluateGates compares each ratio to its ceiling.
//
//   - churn:     ChurnRate < ChurnLimit (equality stays locked)
//   - retention: CancellationRate < CancellationLimit (equality stays locked)
//   - target:    PercentOfTarget >= 100 (meeting the target exactly unlocks)
//
// A locked gate zeroes its bonus downstream; it is not an error.
func EvaluateGates(m Metrics, t Thresholds) Gates {
	return Gates{
		ChurnBonusUnlocked:     m.ChurnRate.LessThan(t.ChurnLimit),
		RetentionBonusUnlocked: m.CancellationRate.LessThan(t.CancellationLimit),
		TargetBonusUnlocked:    m.PercentOfTarget.GreaterThanOrEqual(TargetGatePercent),
	}
}
