package chat

import (
	"fmt"
	"strings"

	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
	"github.com/jspark2504/gugudan-ai-server/internal/models"
)

// roleLabels maps stored author roles to transcript labels.
var roleLabels = map[string]string{
	models.RoleUser:      "User",
	models.RoleAssistant: "Assistant",
}

// Conversation is the transient aggregate of one room and its ordered turn
// chain. It is rebuilt from the store on every request, never persisted, and
// owned exclusively by the orchestration call that built it.
type Conversation struct {
	Room  *models.Room
	chain []models.Message
}

// NewConversation orders the room's messages into a chain by walking parent
// pointers from the newest leaf back to the root. Two racing writers can
// leave sibling branches sharing a parent; the walk follows the newest
// branch only. A cycle in the parent relation is a detected error.
func NewConversation(room *models.Room, messages []models.Message) (*Conversation, error) {
	if len(messages) == 0 {
		return &Conversation{Room: room}, nil
	}

	arena := make(map[string]*models.Message, len(messages))
	for i := range messages {
		arena[messages[i].ID] = &messages[i]
	}

	// messages arrive in creation order; the last one is the newest leaf.
	chain := make([]models.Message, 0, len(messages))
	cur := &messages[len(messages)-1]
	for {
		if len(chain) > len(messages) {
			return nil, fmt.Errorf("room %s: %w", room.ID, ErrChainCycle)
		}
		chain = append(chain, *cur)
		if cur.ParentID == "" {
			break
		}
		parent, ok := arena[cur.ParentID]
		if !ok {
			return nil, fmt.Errorf("room %s: message %s references missing parent %s", room.ID, cur.ID, cur.ParentID)
		}
		cur = parent
	}

	// reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return &Conversation{Room: room, chain: chain}, nil
}

// IsActive reports whether the room accepts new turns.
func (c *Conversation) IsActive() bool {
	return c.Room != nil && c.Room.Status == models.RoomActive
}

// LastMessageID returns the id of the chain's last message, or "" for an
// empty room. It becomes the next user turn's parent.
func (c *Conversation) LastMessageID() string {
	if len(c.chain) == 0 {
		return ""
	}
	return c.chain[len(c.chain)-1].ID
}

// Len returns the number of turns in the chain.
func (c *Conversation) Len() int { return len(c.chain) }

// PromptContext decrypts the chain in order into a role-labeled transcript.
// A turn that fails to decrypt is skipped and counted, so the caller can
// tell a partial context from a complete one and log accordingly.
func (c *Conversation) PromptContext(cipher *crypto.Cipher) (string, int) {
	var b strings.Builder
	skipped := 0
	for _, msg := range c.chain {
		plaintext, err := cipher.Decrypt(msg.Body, msg.IV, msg.CipherVersion)
		if err != nil {
			skipped++
			continue
		}
		label, ok := roleLabels[msg.Role]
		if !ok {
			label = msg.Role
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(plaintext)
		b.WriteString("\n")
	}
	return b.String(), skipped
}
