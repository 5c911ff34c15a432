package closing

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Reference month of a closing
// =============================================================================

// Month identifies a calendar month. The zero value is invalid.
type Month struct {
	Year  int
	Month time.Month
}

const monthLayout = "2006-01"

func NewMonth(year int, month time.Month) Month { return Month{Year: year, Month: month} }

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month { return Month{Year: t.Year(), Month: t.Month()} }

// ParseMonth accepts "YYYY-MM" or a full "YYYY-MM-DD" first-of-month date.
func ParseMonth(s string) (Month, error) {
	if t, err := time.Parse(monthLayout, s); err == nil {
		return MonthOf(t), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (use YYYY-MM)", s)
	}
	return MonthOf(t), nil
}

// Start returns the first day of the month at 00:00 UTC.
func (m Month) Start() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// End returns the last day of the month at 00:00 UTC.
func (m Month) End() time.Time { return m.Start().AddDate(0, 1, -1) }

func (m Month) Next() Month     { return MonthOf(m.Start().AddDate(0, 1, 0)) }
func (m Month) Previous() Month { return MonthOf(m.Start().AddDate(0, -1, 0)) }
func (m Month) IsZero() bool    { return m.Year == 0 && m.Month == 0 }
func (m Month) Before(o Month) bool {
	return m.Year < o.Year || (m.Year == o.Year && m.Month < o.Month)
}

func (m Month) String() string { return m.Start().Format(monthLayout) }
