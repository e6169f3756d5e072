package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// microsPerUnit converts currency units to ledger micro-units
var microsPerUnit = decimal.NewFromInt(1_000_000)

// Calendar maps instants to platform-local days
type Calendar struct {
	loc *time.Location
}

// NewCalendar builds a calendar for the platform timezone. A nil location
// falls back to UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the platform timezone
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// DayKey returns the platform-local calendar day of t
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.Location()).Format(dayLayout)
}

// NextMidnight returns the first instant of the platform-local day after t
func (c Calendar) NextMidnight(t time.Time) time.Time {
	local := t.In(c.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.Location())
}

// ToMicros converts a money amount to micro-units, truncating below one micro
func ToMicros(d decimal.Decimal) int64 {
	return d.Mul(microsPerUnit).Truncate(0).IntPart()
}

// FromMicros converts micro-units back to a money amount
func FromMicros(m int64) decimal.Decimal {
	return decimal.New(m, -6)
}
