package models

import "time"

// Message author roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Message represents one encrypted turn in a room's chain. Every message
// except the chain head has exactly one parent persisted in the same room.
type Message struct {
	ID            string    `json:"id"` // ULID, store-assigned
	RoomID        string    `json:"room_id"`
	AccountID     int64     `json:"account_id"`
	Role          string    `json:"role"` // USER or ASSISTANT
	Body          []byte    `json:"-"`    // ciphertext, never serialized
	IV            []byte    `json:"-"`
	CipherVersion int       `json:"cipher_version"`
	ContentType   string    `json:"content_type"`
	ParentID      string    `json:"parent_id,omitempty"` // empty = chain head
	Partial       bool      `json:"partial,omitempty"`   // reply cut short mid-stream
	Feedback      string    `json:"feedback,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
