package fairness

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

type OddsInput struct {
	ItemID string
	Odd    decimal.Decimal
}

// OddsEntry covers the closed roll range [RangeStart, RangeEnd].
type OddsEntry struct {
	ItemID     string
	Odd        models.Roll
	RangeStart models.Roll
	RangeEnd   models.Roll
}

// OddsTable maps a roll onto a weighted outcome. Entries are contiguous and
// do not overlap: entry i+1 starts one unit (0.00001) after entry i ends, and
// the last entry ends at 100.00000.
type OddsTable struct {
	entries []OddsEntry
}

// CompileOdds builds a table in input order. Every odd is rounded to five
// places and must be in (0, 100]; the rounded odds must sum to exactly 100.
func CompileOdds(items []OddsInput) (*OddsTable, error) {
	const op = "fairness.CompileOdds"

	if len(items) == 0 {
		return nil, apperr.E(apperr.CodeInvalidOdds, op, "no items")
	}

	entries := make([]OddsEntry, 0, len(items))
	var cum models.Roll

	for _, it := range items {
		odd := it.Odd.Round(5)
		if !odd.IsPositive() || odd.GreaterThan(hundred) {
			return nil, apperr.E(apperr.CodeInvalidOdds, op,
				fmt.Sprintf("item %s: odd %s outside (0, 100]", it.ItemID, odd.StringFixed(5)))
		}

		units := models.RollFromDecimal(odd)
		entries = append(entries, OddsEntry{
			ItemID:     it.ItemID,
			Odd:        units,
			RangeStart: cum,
			RangeEnd:   cum + units - 1,
		})
		cum += units

		if cum > models.RollMax {
			break
		}
	}

	if cum != models.RollMax {
		return nil, apperr.E(apperr.CodeInvalidOdds, op,
			fmt.Sprintf("odds sum to %s, want 100.00000", sumOf(items).StringFixed(5)))
	}

	entries[len(entries)-1].RangeEnd = models.RollMax
	return &OddsTable{entries: entries}, nil
}

// CompileCase compiles the odds of a catalog case.
func CompileCase(c *models.Case) (*OddsTable, error) {
	inputs := make([]OddsInput, len(c.Items))
	for i, it := range c.Items {
		inputs[i] = OddsInput{ItemID: it.ItemID, Odd: it.Odd}
	}
	return CompileOdds(inputs)
}

func sumOf(items []OddsInput) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Odd.Round(5))
	}
	return sum
}

func (t *OddsTable) Entries() []OddsEntry {
	out := make([]OddsEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Resolve returns the item whose range contains r. A roll outside every range
// is an integrity violation and is reported as a resolution error; it is never
// mapped onto a fallback item.
func (t *OddsTable) Resolve(r models.Roll) (string, error) {
	const op = "fairness.OddsTable.Resolve"

	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].RangeEnd >= r
	})
	if i == len(t.entries) || r < t.entries[i].RangeStart {
		return "", apperr.E(apperr.CodeResolution, op, "no entry covers roll "+r.String())
	}
	return t.entries[i].ItemID, nil
}
