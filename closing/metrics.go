package closing

import "github.com/shopspring/decimal"

// =============================================================================
// PERIOD METRICS - Ratios derived from the month's counters
// =============================================================================

var hundred = decimal.NewFromInt(100)

// PeriodCounters are the raw, non-negative counts of a month.
type PeriodCounters struct {
	StartingSubscriptions int
	CancellationsCount    int
	RecurringSalesCount   int
	TargetSalesQuantity   int
}

// Metrics are percentages (4 means 4%).
type Metrics struct {
	ChurnRate        decimal.Decimal
	CancellationRate decimal.Decimal
	PercentOfTarget  decimal.Decimal
}

// ComputeMetrics derives the three ratios. A zero denominator yields 0,
// never an error, so a month with no baseline data reads as 0%.
func ComputeMetrics(c PeriodCounters) Metrics {
	return Metrics{
		ChurnRate:        percentage(c.CancellationsCount, c.StartingSubscriptions),
		CancellationRate: percentage(c.CancellationsCount, c.RecurringSalesCount),
		PercentOfTarget:  percentage(c.RecurringSalesCount, c.TargetSalesQuantity),
	}
}

func percentage(num, den int) decimal.Decimal {
	if den <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).Mul(hundred).Div(decimal.NewFromInt(int64(den)))
}

// percentOf returns base × pct / 100.
func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}
