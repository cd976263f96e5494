package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SettlementKind string

const (
	SettlementKindCaseOpening SettlementKind = "case_opening"
	SettlementKindUpgrade     SettlementKind = "upgrade"
)

type SettlementStatus string

const (
	SettlementStatusRequested SettlementStatus = "requested"
	SettlementStatusResolving SettlementStatus = "resolving"
	SettlementStatusSettled   SettlementStatus = "settled"
	SettlementStatusRejected  SettlementStatus = "rejected"
)

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementStatusRequested: {SettlementStatusResolving, SettlementStatusRejected},
	SettlementStatusResolving: {SettlementStatusSettled, SettlementStatusRejected},
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Settlement is the audit record of one roll. The dice inputs are copied in so
// the record alone is enough to verify the outcome.
type Settlement struct {
	ID     string           `json:"id"`
	Kind   SettlementKind   `json:"kind"`
	UserID int64            `json:"user_id"`
	Status SettlementStatus `json:"status"`

	DiceID         string `json:"dice_id"`
	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	Result         Roll   `json:"result"`

	Case    *CaseOutcome    `json:"case,omitempty"`
	Upgrade *UpgradeOutcome `json:"upgrade,omitempty"`

	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
	SettledAt    time.Time       `json:"settled_at"`
}

type CaseOutcome struct {
	CaseID          string          `json:"case_id"`
	Price           decimal.Decimal `json:"price"`
	WonItemID       string          `json:"won_item_id"`
	WonItemValue    decimal.Decimal `json:"won_item_value"`
	InventoryItemID string          `json:"inventory_item_id"`
}

type UpgradeOutcome struct {
	SourceItems      []InventoryItem `json:"source_items"`
	TargetItemIDs    []string        `json:"target_item_ids"`
	SourceValue      decimal.Decimal `json:"source_value"`
	TargetValue      decimal.Decimal `json:"target_value"`
	Multiplier       decimal.Decimal `json:"multiplier"`
	WinChance        Roll            `json:"win_chance"`
	Direction        Direction       `json:"direction"`
	Won              bool            `json:"won"`
	InventoryItemIDs []string        `json:"inventory_item_ids,omitempty"`
}

// Transition moves the settlement along requested -> resolving -> settled|rejected.
func (s *Settlement) Transition(to SettlementStatus) error {
	for _, next := range settlementTransitions[s.Status] {
		if next == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("settlement %s: illegal transition %s -> %s", s.ID, s.Status, to)
}

func (s *Settlement) IsSettled() bool {
	return s.Status == SettlementStatusSettled
}

func (s *Settlement) Reveal() Reveal {
	return Reveal{
		DiceID:         s.DiceID,
		ServerSeed:     s.ServerSeed,
		ServerSeedHash: s.ServerSeedHash,
		ClientSeed:     s.ClientSeed,
		Nonce:          s.Nonce,
		Result:         s.Result,
	}
}

// SettlementResult is what a roll request returns.
type SettlementResult struct {
	Settlement *Settlement `json:"settlement"`
	Dice       PublicDice  `json:"dice"`
	NextDice   *PublicDice `json:"next_dice,omitempty"`
	Replayed   bool        `json:"replayed"`
}
