package models

import "fmt"

const maxItemsPerUpgrade = 10

type CaseOpeningRequest struct {
	RequestID  string `json:"request_id"`
	CaseID     string `json:"case_id" binding:"required"`
	ClientSeed string `json:"client_seed"`
}

type UpgradeRequest struct {
	RequestID     string    `json:"request_id"`
	SourceItemIDs []string  `json:"source_item_ids" binding:"required"`
	TargetItemIDs []string  `json:"target_item_ids" binding:"required"`
	Direction     Direction `json:"direction" binding:"required"`
	ClientSeed    string    `json:"client_seed"`
}

// RollRequest is the single inbound shape for both roll kinds.
type RollRequest struct {
	Kind        SettlementKind      `json:"kind" binding:"required"`
	CaseOpening *CaseOpeningRequest `json:"case_opening,omitempty"`
	Upgrade     *UpgradeRequest     `json:"upgrade,omitempty"`
}

type RotateSeedResponse struct {
	DiceID         string `json:"dice_id"`
	ServerSeedHash string `json:"server_seed_hash"`
	Nonce          uint64 `json:"nonce"`
}

type ClientSeedRequest struct {
	ClientSeed string `json:"client_seed" binding:"required"`
}

func (r *CaseOpeningRequest) Validate() error {
	if r.CaseID == "" {
		return fmt.Errorf("case_id is required")
	}
	return nil
}

func (r *UpgradeRequest) Validate() error {
	if len(r.SourceItemIDs) == 0 {
		return fmt.Errorf("at least one source item is required")
	}
	if len(r.TargetItemIDs) == 0 {
		return fmt.Errorf("at least one target item is required")
	}
	if len(r.SourceItemIDs) > maxItemsPerUpgrade || len(r.TargetItemIDs) > maxItemsPerUpgrade {
		return fmt.Errorf("at most %d items per side", maxItemsPerUpgrade)
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("invalid direction: %q", r.Direction)
	}
	return nil
}

func (r *RollRequest) Validate() error {
	switch r.Kind {
	case SettlementKindCaseOpening:
		if r.CaseOpening == nil {
			return fmt.Errorf("case_opening payload is required")
		}
		return r.CaseOpening.Validate()
	case SettlementKindUpgrade:
		if r.Upgrade == nil {
			return fmt.Errorf("upgrade payload is required")
		}
		return r.Upgrade.Validate()
	default:
		return fmt.Errorf("invalid roll kind: %s", r.Kind)
	}
}
