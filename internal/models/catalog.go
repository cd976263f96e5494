package models

import "github.com/shopspring/decimal"

// Item is a catalog entry. Value is the current market value in balance units.
type Item struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// CaseItem is one weighted outcome of a case. Odd is a percentage with five
// decimal places; the odds of a case sum to exactly 100.
type CaseItem struct {
	ItemID string          `json:"item_id"`
	Odd    decimal.Decimal `json:"odd"`
}

type Case struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Items []CaseItem      `json:"items"`
}
