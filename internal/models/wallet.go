package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is one owned copy of a catalog item.
type InventoryItem struct {
	ID         string          `json:"id"`
	ItemID     string          `json:"item_id"`
	Value      decimal.Decimal `json:"value"`
	Source     string          `json:"source"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// Wallet is the account state a settlement mutates: balance and inventory.
type Wallet struct {
	UserID       int64           `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	Inventory    []InventoryItem `json:"inventory"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func NewWallet(userID int64) *Wallet {
	return &Wallet{
		UserID:       userID,
		Balance:      decimal.Zero,
		TotalWagered: decimal.Zero,
		TotalWon:     decimal.Zero,
		Inventory:    []InventoryItem{},
	}
}

// Debit subtracts amount, reporting false and leaving the wallet untouched
// when the balance does not cover it.
func (w *Wallet) Debit(amount decimal.Decimal) bool {
	if w.Balance.LessThan(amount) {
		return false
	}
	w.Balance = w.Balance.Sub(amount)
	w.TotalWagered = w.TotalWagered.Add(amount)
	return true
}

func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}

func (w *Wallet) AddItem(item InventoryItem) {
	w.Inventory = append(w.Inventory, item)
	w.TotalWon = w.TotalWon.Add(item.Value)
}

// FindItems returns the owned inventory entries with the given ids in the
// requested order, or false when any is missing or repeated.
func (w *Wallet) FindItems(ids []string) ([]InventoryItem, bool) {
	byID := make(map[string]InventoryItem, len(w.Inventory))
	for _, it := range w.Inventory {
		byID[it.ID] = it
	}

	seen := make(map[string]bool, len(ids))
	found := make([]InventoryItem, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok || seen[id] {
			return nil, false
		}
		seen[id] = true
		found = append(found, it)
	}
	return found, true
}

// RemoveItems drops the inventory entries with the given ids.
func (w *Wallet) RemoveItems(ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := w.Inventory[:0]
	for _, it := range w.Inventory {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	w.Inventory = kept
}

type BalanceResponse struct {
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	Items        int             `json:"items"`
}

func (w *Wallet) BalanceResponse() BalanceResponse {
	return BalanceResponse{
		Balance:      w.Balance,
		TotalWagered: w.TotalWagered,
		TotalWon:     w.TotalWon,
		Items:        len(w.Inventory),
	}
}
