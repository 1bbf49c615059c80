package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jspark2504/gugudan-ai-server/internal/chat"
	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
	"github.com/jspark2504/gugudan-ai-server/internal/store"
)

// TurnStreamer starts one streaming chat turn. Implemented by
// chat.Orchestrator; an interface here so handler tests can fake it.
type TurnStreamer interface {
	StreamTurn(ctx context.Context, req chat.TurnRequest) (*chat.Turn, error)
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.DataStore
	cipher *crypto.Cipher
	turns  TurnStreamer
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(st store.DataStore, cipher *crypto.Cipher, turns TurnStreamer, logger zerolog.Logger) *Handler {
	return &Handler{store: st, cipher: cipher, turns: turns, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
