package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jspark2504/gugudan-ai-server/internal/api/middleware"
	"github.com/jspark2504/gugudan-ai-server/internal/chat"
	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
	"github.com/jspark2504/gugudan-ai-server/internal/models"
	"github.com/jspark2504/gugudan-ai-server/internal/usage"
)

// StreamChatRequest represents the streaming chat request. RoomID is
// optional; omitting it creates a new room titled from the message.
type StreamChatRequest struct {
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Division     string    `json:"division"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MessageResponse represents a decrypted message in API responses.
type MessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ParentID  string    `json:"parent_id,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackRequest represents the message feedback request.
type FeedbackRequest struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Feedback  string `json:"feedback"` // "GOOD" or "BAD"
}

// StreamChat handles the streaming turn endpoint. The reply is relayed as a
// raw byte stream; the room id (possibly newly created) is returned in the
// X-Room-ID header before the first chunk.
func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req StreamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	turn, err := h.turns.StreamTurn(r.Context(), chat.TurnRequest{
		RoomID:      req.RoomID,
		AccountID:   accountID,
		Message:     req.Message,
		ContentType: "TEXT",
	})
	if err != nil {
		h.turnError(w, err)
		return
	}

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Room-ID", turn.RoomID)
	w.WriteHeader(http.StatusOK)

	for chunk := range turn.Chunks {
		if _, err := w.Write(chunk); err != nil {
			// Client went away; the orchestrator notices through the
			// request context and applies the partial policy.
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := <-turn.Err; err != nil {
		// The response is already committed; nothing to send but a log.
		h.logger.Warn().Err(err).
			Str("room_id", turn.RoomID).
			Msg("turn ended with error after streaming began")
	}
}

// turnError maps pre-stream orchestrator failures to the closed set of
// user-visible codes.
func (h *Handler) turnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded):
		h.Error(w, http.StatusTooManyRequests, "usage quota exceeded")
	case errors.Is(err, chat.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, chat.ErrRoomInactive):
		h.Error(w, http.StatusBadRequest, "room is not active")
	default:
		h.logger.Error().Err(err).Msg("turn failed before streaming")
		h.Error(w, http.StatusInternalServerError, "failed to start turn")
	}
}

// ListRooms returns the authenticated account's rooms, newest first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rooms, err := h.store.FindRoomsByAccount(r.Context(), accountID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch rooms")
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, RoomResponse{
			ID:           room.ID,
			Title:        room.Title,
			Category:     room.Category,
			Division:     room.Division,
			Status:       room.Status,
			CreatedAt:    room.CreatedAt,
			LastActiveAt: room.LastActiveAt,
		})
	}
	h.JSON(w, http.StatusOK, response)
}

// ownedRoom loads a room and verifies the caller owns it. Writes the error
// response and returns nil when the room is unavailable.
func (h *Handler) ownedRoom(w http.ResponseWriter, r *http.Request) *models.Room {
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil
	}

	room, err := h.store.FindRoomByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if room == nil || room.AccountID != accountID {
		// A foreign room is indistinguishable from a missing one.
		h.Error(w, http.StatusNotFound, "room not found")
		return nil
	}
	return room
}

// GetRoomMessages returns the decrypted transcript of a room. Turns that
// fail to decrypt are skipped and logged, matching the prompt-context
// policy.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	room := h.ownedRoom(w, r)
	if room == nil {
		return
	}

	messages, err := h.store.FindMessagesByRoom(r.Context(), room.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		content, err := h.cipher.Decrypt(msg.Body, msg.IV, msg.CipherVersion)
		if err != nil {
			if crypto.ErrCrypto(err) {
				h.logger.Warn().
					Str("room_id", room.ID).
					Str("message_id", msg.ID).
					Msg("undecryptable message skipped from transcript")
				continue
			}
			h.Error(w, http.StatusInternalServerError, "failed to read messages")
			return
		}
		response = append(response, MessageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   content,
			ParentID:  msg.ParentID,
			Partial:   msg.Partial,
			Feedback:  msg.Feedback,
			CreatedAt: msg.CreatedAt,
		})
	}
	h.JSON(w, http.StatusOK, response)
}

// GetRoomStatus returns a room's lifecycle status.
func (h *Handler) GetRoomStatus(w http.ResponseWriter, r *http.Request) {
	room := h.ownedRoom(w, r)
	if room == nil {
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"id": room.ID, "status": room.Status})
}

// EndRoom marks a room ENDED; ended rooms reject new turns.
func (h *Handler) EndRoom(w http.ResponseWriter, r *http.Request) {
	room := h.ownedRoom(w, r)
	if room == nil {
		return
	}

	if err := h.store.EndRoom(r.Context(), room.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to end room")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"id": room.ID, "status": models.RoomEnded})
}

// DeleteRoom removes a room and all its messages.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	room := h.ownedRoom(w, r)
	if room == nil {
		return
	}

	if err := h.store.DeleteRoom(r.Context(), room.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete room")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "room deleted"})
}

// Feedback records feedback on a single message.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Feedback != "GOOD" && req.Feedback != "BAD" {
		h.Error(w, http.StatusBadRequest, "feedback must be GOOD or BAD")
		return
	}

	room, err := h.store.FindRoomByID(r.Context(), req.RoomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil || room.AccountID != accountID {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	updated, err := h.store.UpdateMessageFeedback(r.Context(), req.RoomID, req.MessageID, req.Feedback)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	if !updated {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "feedback recorded"})
}
