package tiers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

const unlimitedLiteral = "unlimited"

// Limit is a numeric ceiling that is either unbounded or bounded by a value.
// The zero value is Bounded(0).
type Limit struct {
	unbounded bool
	value     float64
}

func Unbounded() Limit { return Limit{unbounded: true} }

func Bounded(n float64) Limit { return Limit{value: n} }

func (l Limit) IsUnbounded() bool { return l.unbounded }

// Value returns the ceiling and false when the limit is unbounded.
func (l Limit) Value() (float64, bool) {
	if l.unbounded {
		return 0, false
	}
	return l.value, true
}

// Allows reports whether one more unit fits given current usage.
func (l Limit) Allows(current int64) bool {
	return l.unbounded || float64(current) < l.value
}

// Remaining is the headroom left, unbounded when the limit is.
func (l Limit) Remaining(current int64) Limit {
	if l.unbounded {
		return l
	}
	return Bounded(math.Max(0, l.value-float64(current)))
}

// PercentUsed rounds to the nearest integer percent. Unbounded limits report 0.
func (l Limit) PercentUsed(current int64) float64 {
	if l.unbounded {
		return 0
	}
	if l.value <= 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return math.Round(float64(current) / l.value * 100)
}

// AtLeast reports whether l is no lower than other.
func (l Limit) AtLeast(other Limit) bool {
	if l.unbounded {
		return true
	}
	if other.unbounded {
		return false
	}
	return l.value >= other.value
}

// CountOr returns the bounded value, or fallback when unbounded.
func (l Limit) CountOr(fallback float64) float64 {
	if l.unbounded {
		return fallback
	}
	return l.value
}

func (l Limit) String() string {
	if l.unbounded {
		return unlimitedLiteral
	}
	return fmt.Sprintf("%g", l.value)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unbounded {
		return json.Marshal(unlimitedLiteral)
	}
	return json.Marshal(l.value)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != unlimitedLiteral {
			return fmt.Errorf("invalid limit %q", s)
		}
		*l = Unbounded()
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid limit: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("limit must not be negative: %g", n)
	}
	*l = Bounded(n)
	return nil
}
