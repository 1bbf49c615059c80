package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jspark2504/gugudan-ai-server/internal/completion"
	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
	"github.com/jspark2504/gugudan-ai-server/internal/metrics"
	"github.com/jspark2504/gugudan-ai-server/internal/models"
	"github.com/jspark2504/gugudan-ai-server/internal/store"
	"github.com/jspark2504/gugudan-ai-server/internal/usage"
)

// defaultSystemInstruction is the persona prepended to every prompt.
const defaultSystemInstruction = "You are a warm conversational companion for the feelings and " +
	"communication issues that come up in relationships: dating, couples, separation. " +
	"Do not diagnose or analyze the user. Listen, empathize, and help them sort out " +
	"their own thoughts."

// Defaults for rooms auto-created by a first message.
const (
	defaultCategory = "GENERAL"
	defaultDivision = "DEFAULT"
	titleRuneLimit  = 20
)

// TurnRequest describes one inbound chat turn. An empty RoomID creates a new
// room titled from the message's leading characters.
type TurnRequest struct {
	RoomID      string
	AccountID   int64
	Message     string
	ContentType string
}

// Turn is the streaming result of one accepted turn. Chunks is a single-pass,
// non-restartable sequence of reply bytes; Err delivers at most one error and
// both channels are closed when the turn settles.
type Turn struct {
	RoomID string
	Chunks <-chan []byte
	Err    <-chan error
}

// Orchestrator sequences admission, history load, user-turn persistence,
// prompt assembly, fragment relay, assistant-turn persistence, and usage
// recording for each chat turn. One instance serves all requests; all state
// is per-call.
//
// Turns against the same room are not serialized here. Two concurrent
// requests can each read the same chain tail and append divergent siblings;
// callers needing strict per-room ordering must hold an external lock.
type Orchestrator struct {
	store  store.DataStore
	meter  usage.Meter
	cipher *crypto.Cipher
	source completion.Source
	logger zerolog.Logger
	system string
}

// NewOrchestrator wires the orchestrator's collaborators. systemInstruction
// overrides the default persona when non-empty.
func NewOrchestrator(st store.DataStore, meter usage.Meter, cipher *crypto.Cipher, source completion.Source, logger zerolog.Logger, systemInstruction string) *Orchestrator {
	if systemInstruction == "" {
		systemInstruction = defaultSystemInstruction
	}
	return &Orchestrator{
		store:  st,
		meter:  meter,
		cipher: cipher,
		source: source,
		logger: logger,
		system: systemInstruction,
	}
}

// StreamTurn runs one turn. Admission, room load, the activity check, and
// user-turn persistence happen synchronously: a returned error means either
// zero writes (quota, not-found, inactive, user-persist failure) or, once nil
// is returned, a durably stored user turn. The returned Turn then streams the
// reply; a mid-stream failure or caller cancellation persists the accumulated
// text as a partial assistant turn (see finishTurn).
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := o.meter.CheckAvailable(ctx, req.AccountID); err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			metrics.TurnsRejected.WithLabelValues("quota").Inc()
		}
		return nil, err
	}

	room, err := o.loadOrCreateRoom(ctx, &req)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			metrics.TurnsRejected.WithLabelValues("room_not_found").Inc()
		}
		return nil, err
	}

	messages, err := o.store.FindMessagesByRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	conv, err := NewConversation(room, messages)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive() {
		metrics.TurnsRejected.WithLabelValues("room_inactive").Inc()
		return nil, ErrRoomInactive
	}
	metrics.TurnsStarted.Inc()

	// First durable side effect. Never rolled back by later failures; a
	// client retry past this point is a new turn, not a re-attempt.
	body, iv, err := o.cipher.Encrypt(req.Message)
	if err != nil {
		return nil, err
	}
	userMsg, err := o.store.AppendMessage(ctx, &models.Message{
		RoomID:        room.ID,
		AccountID:     req.AccountID,
		Role:          models.RoleUser,
		Body:          body,
		IV:            iv,
		CipherVersion: o.cipher.Version(),
		ContentType:   req.ContentType,
		ParentID:      conv.LastMessageID(),
	})
	if err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	history, skipped := conv.PromptContext(o.cipher)
	if skipped > 0 {
		o.logger.Warn().
			Str("room_id", room.ID).
			Int("skipped", skipped).
			Msg("undecryptable turns skipped from prompt context")
	}
	prompt := o.system + "\n\n" + history + "User: " + req.Message + "\nAssistant: "

	chunks := make(chan []byte, 32)
	errs := make(chan error, 1)
	go o.relay(ctx, req, userMsg, prompt, chunks, errs)

	return &Turn{RoomID: room.ID, Chunks: chunks, Err: errs}, nil
}

// loadOrCreateRoom resolves the target room, creating one when the request
// carries no room id.
func (o *Orchestrator) loadOrCreateRoom(ctx context.Context, req *TurnRequest) (*models.Room, error) {
	if req.RoomID == "" {
		req.RoomID = uuid.NewString()
		room, err := o.store.CreateRoom(ctx, req.RoomID, req.AccountID,
			titleFromMessage(req.Message), defaultCategory, defaultDivision, false)
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		return room, nil
	}

	room, err := o.store.FindRoomByID(ctx, req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// relay is the forward-only producer: it pulls fragments from the completion
// source, forwards each to the caller immediately, and accumulates the full
// reply for persistence. It owns both output channels.
func (o *Orchestrator) relay(ctx context.Context, req TurnRequest, userMsg *models.Message, prompt string, out chan<- []byte, errs chan<- error) {
	defer close(errs)
	defer close(out)

	fragments, srcErrs := o.source.StreamCompletion(ctx, prompt)

	var reply strings.Builder
	var streamErr error
loop:
	for {
		select {
		case frag, ok := <-fragments:
			if !ok {
				break loop
			}
			reply.WriteString(frag)
			metrics.CompletionChunks.Inc()
			select {
			case out <- []byte(frag):
			case <-ctx.Done():
				streamErr = ctx.Err()
				break loop
			}
		case <-ctx.Done():
			streamErr = ctx.Err()
			break loop
		}
	}
	if streamErr == nil {
		if err := <-srcErrs; err != nil {
			streamErr = err
		}
	}

	o.finishTurn(ctx, req, userMsg, reply.String(), streamErr, errs)
}

// finishTurn applies the partial-persistence policy and records usage.
//
// Policy: whatever text was already relayed to the caller is also the text of
// record. A clean stream persists the full reply; an interrupted stream
// persists the accumulated text flagged partial and records its usage. Only
// when nothing at all was streamed does the user turn stay unanswered.
func (o *Orchestrator) finishTurn(ctx context.Context, req TurnRequest, userMsg *models.Message, reply string, streamErr error, errs chan<- error) {
	// Final writes run detached from the request context so a client
	// disconnect cannot void the policy.
	wctx := context.WithoutCancel(ctx)

	if streamErr != nil && reply == "" {
		metrics.TurnsCompleted.WithLabelValues("failed").Inc()
		errs <- fmt.Errorf("completion failed: %w", streamErr)
		return
	}

	body, iv, err := o.cipher.Encrypt(reply)
	if err != nil {
		metrics.TurnsCompleted.WithLabelValues("failed").Inc()
		errs <- err
		return
	}
	_, err = o.store.AppendMessage(wctx, &models.Message{
		RoomID:        userMsg.RoomID,
		AccountID:     req.AccountID,
		Role:          models.RoleAssistant,
		Body:          body,
		IV:            iv,
		CipherVersion: o.cipher.Version(),
		ContentType:   req.ContentType,
		ParentID:      userMsg.ID,
		Partial:       streamErr != nil,
	})
	if err != nil {
		// The reply already reached the caller but is now absent from
		// durable history.
		o.logger.Error().Err(err).
			Str("room_id", userMsg.RoomID).
			Str("user_message_id", userMsg.ID).
			Msg("assistant turn not persisted after streaming; history is inconsistent")
		metrics.TurnsCompleted.WithLabelValues("failed").Inc()
		errs <- fmt.Errorf("persist assistant turn: %w", err)
		return
	}

	// Usage accounting is eventually consistent relative to stored turns.
	if err := o.meter.RecordUsage(wctx, req.AccountID,
		utf8.RuneCountInString(req.Message), utf8.RuneCountInString(reply)); err != nil {
		metrics.UsageRecordFailures.Inc()
		o.logger.Warn().Err(err).
			Int64("account_id", req.AccountID).
			Msg("usage recording failed")
	}

	if streamErr != nil {
		metrics.TurnsCompleted.WithLabelValues("partial").Inc()
		errs <- fmt.Errorf("completion interrupted: %w", streamErr)
		return
	}
	metrics.TurnsCompleted.WithLabelValues("ok").Inc()
}

// titleFromMessage derives a new room's title from the message's leading
// runes.
func titleFromMessage(msg string) string {
	r := []rune(msg)
	if len(r) > titleRuneLimit {
		r = r[:titleRuneLimit]
	}
	return string(r)
}
