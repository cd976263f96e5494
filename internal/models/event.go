package models

import "time"

type EventType string

const (
	EventBalanceChanged  EventType = "balance.changed"
	EventItemWon         EventType = "item.won"
	EventUpgradeResolved EventType = "upgrade.resolved"
)

// Event is a post-commit notification for the external sink.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	UserID    int64          `json:"user_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
