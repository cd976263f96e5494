package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RollScale is the number of Roll units in 1.00000.
const RollScale = 100_000

// RollSpace is the number of distinct roll values, covering [0, 100).
const RollSpace = 100 * RollScale

// RollMax is 100.00000, the closed upper bound of every odds table.
const RollMax Roll = RollSpace

// Roll is a value on the 0..100 scale held in hundred-thousandths, so 55.5 is
// Roll(5_550_000). Integer units keep range comparisons exact.
type Roll int64

// RollFromDecimal converts d to a Roll, rounding to five decimal places.
func RollFromDecimal(d decimal.Decimal) Roll {
	return Roll(d.Shift(5).Round(0).IntPart())
}

// ParseRoll parses a decimal string such as "61.99999".
func ParseRoll(s string) (Roll, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse roll %q: %w", s, err)
	}
	return RollFromDecimal(d), nil
}

func (r Roll) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -5)
}

func (r Roll) Float64() float64 {
	return float64(r) / RollScale
}

func (r Roll) String() string {
	v := int64(r)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%05d", sign, v/RollScale, v%RollScale)
}

// MarshalJSON writes the roll as a fixed five decimal JSON number.
func (r Roll) MarshalJSON() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Roll) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	v, err := ParseRoll(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

var _ json.Marshaler = Roll(0)
