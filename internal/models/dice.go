package models

import "time"

type DiceStatus string

const (
	DiceStatusActive    DiceStatus = "active"
	DiceStatusCompleted DiceStatus = "completed"
)

// Dice is the seed commitment backing exactly one roll.
type Dice struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	ServerSeed     string     `json:"server_seed"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Nonce          uint64     `json:"nonce"`
	Status         DiceStatus `json:"status"`
	Result         *Roll      `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (d *Dice) IsActive() bool {
	return d.Status == DiceStatusActive
}

// PublicDice is the projection of a Dice safe to hand to its owner before the
// roll. The server seed only appears once the dice is completed.
type PublicDice struct {
	ID             string     `json:"id"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ServerSeed     string     `json:"server_seed,omitempty"`
	ClientSeed     string     `json:"client_seed"`
	Nonce          uint64     `json:"nonce"`
	Status         DiceStatus `json:"status"`
	Result         *Roll      `json:"result,omitempty"`
}

func (d *Dice) Public() PublicDice {
	p := PublicDice{
		ID:             d.ID,
		ServerSeedHash: d.ServerSeedHash,
		ClientSeed:     d.ClientSeed,
		Nonce:          d.Nonce,
		Status:         d.Status,
		Result:         d.Result,
	}
	if d.Status == DiceStatusCompleted {
		p.ServerSeed = d.ServerSeed
	}
	return p
}

// Reveal holds every input needed to recompute a completed roll.
type Reveal struct {
	DiceID         string `json:"dice_id"`
	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	Result         Roll   `json:"result"`
}

type VerificationResult struct {
	Reveal
	HashMatches   bool `json:"hash_matches"`
	ResultMatches bool `json:"result_matches"`
	Recomputed    Roll `json:"recomputed"`
}
