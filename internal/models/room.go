package models

import "time"

// Room lifecycle statuses. Only ACTIVE rooms accept new turns.
const (
	RoomActive = "ACTIVE"
	RoomEnded  = "ENDED"
)

// Room represents one conversation room owned by a single account.
type Room struct {
	ID           string    `json:"id"` // UUID
	AccountID    int64     `json:"account_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Division     string    `json:"division"`
	Status       string    `json:"status"` // ACTIVE or ENDED
	External     bool      `json:"external"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
