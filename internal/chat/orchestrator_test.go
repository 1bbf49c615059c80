package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspark2504/gugudan-ai-server/internal/completion"
	"github.com/jspark2504/gugudan-ai-server/internal/models"
	"github.com/jspark2504/gugudan-ai-server/internal/usage"
)

// fakeStore is an in-memory DataStore for orchestrator tests.
type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	messages []models.Message
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: make(map[string]*models.Room)}
}

func (f *fakeStore) Close()                       {}
func (f *fakeStore) Ping(_ context.Context) error { return nil }

func (f *fakeStore) CreateRoom(_ context.Context, id string, accountID int64, title, category, division string, external bool) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &models.Room{
		ID:        id,
		AccountID: accountID,
		Title:     title,
		Category:  category,
		Division:  division,
		Status:    models.RoomActive,
		External:  external,
		CreatedAt: time.Now().UTC(),
	}
	f.rooms[id] = room
	return room, nil
}

func (f *fakeStore) FindRoomByID(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *room
	return &cp, nil
}

func (f *fakeStore) FindRoomsByAccount(_ context.Context, accountID int64) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Room
	for _, room := range f.rooms {
		if room.AccountID == accountID {
			out = append(out, *room)
		}
	}
	return out, nil
}

func (f *fakeStore) EndRoom(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		room.Status = models.RoomEnded
	}
	return nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
	return nil
}

func (f *fakeStore) AppendMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *msg
	stored.ID = fmt.Sprintf("msg-%04d", f.nextID)
	stored.CreatedAt = time.Now().UTC()
	f.messages = append(f.messages, stored)
	return &stored, nil
}

func (f *fakeStore) FindMessagesByRoom(_ context.Context, roomID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, msg := range f.messages {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateMessageFeedback(_ context.Context, roomID, messageID, feedback string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].RoomID == roomID && f.messages[i].ID == messageID {
			f.messages[i].Feedback = feedback
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) messagesFor(roomID string) []models.Message {
	msgs, _ := f.FindMessagesByRoom(context.Background(), roomID)
	return msgs
}

// fakeMeter records usage calls and optionally rejects admission.
type fakeMeter struct {
	mu       sync.Mutex
	deny     bool
	recorded [][2]int
}

func (m *fakeMeter) CheckAvailable(_ context.Context, _ int64) error {
	if m.deny {
		return usage.ErrQuotaExceeded
	}
	return nil
}

func (m *fakeMeter) RecordUsage(_ context.Context, _ int64, in, out int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, [2]int{in, out})
	return nil
}

func (m *fakeMeter) calls() [][2]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]int(nil), m.recorded...)
}

// scriptedSource emits a fixed fragment sequence, then optionally an error.
type scriptedSource struct {
	fragments []string
	err       error
}

func (s *scriptedSource) StreamCompletion(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string, len(s.fragments))
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, frag := range s.fragments {
			select {
			case out <- frag:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if s.err != nil {
			errCh <- s.err
		}
	}()
	return out, errCh
}

func testOrchestrator(t *testing.T, st *fakeStore, meter *fakeMeter, src completion.Source) *Orchestrator {
	t.Helper()
	return NewOrchestrator(st, meter, testChainCipher(t), src, zerolog.Nop(), "")
}

// drainTurn collects the streamed reply and the settle error.
func drainTurn(t *testing.T, turn *Turn) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk := range turn.Chunks {
		b.Write(chunk)
	}
	var settleErr error
	for err := range turn.Err {
		settleErr = err
	}
	return b.String(), settleErr
}

func TestNewRoomTurn(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}
	src := &scriptedSource{fragments: []string{"Hi", " there", "!"}}
	orch := testOrchestrator(t, st, meter, src)

	turn, err := orch.StreamTurn(context.Background(), TurnRequest{
		AccountID:   42,
		Message:     "Hello",
		ContentType: "TEXT",
	})
	require.NoError(t, err)
	require.NotEmpty(t, turn.RoomID)

	reply, settleErr := drainTurn(t, turn)
	require.NoError(t, settleErr)
	assert.Equal(t, "Hi there!", reply)

	room, err := st.FindRoomByID(context.Background(), turn.RoomID)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "Hello", room.Title)
	assert.Equal(t, "GENERAL", room.Category)

	msgs := st.messagesFor(turn.RoomID)
	require.Len(t, msgs, 2)

	userMsg, asstMsg := msgs[0], msgs[1]
	assert.Equal(t, models.RoleUser, userMsg.Role)
	assert.Empty(t, userMsg.ParentID, "first turn must be the chain head")
	assert.Equal(t, models.RoleAssistant, asstMsg.Role)
	assert.Equal(t, userMsg.ID, asstMsg.ParentID, "assistant turn must point at its user turn")
	assert.False(t, asstMsg.Partial)

	cipher := testChainCipher(t)
	plain, err := cipher.Decrypt(asstMsg.Body, asstMsg.IV, asstMsg.CipherVersion)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", plain)

	require.Len(t, meter.calls(), 1)
	assert.Equal(t, [2]int{5, 9}, meter.calls()[0])
}

func TestExistingRoomTurnExtendsChain(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}
	src := &scriptedSource{fragments: []string{"sure"}}
	orch := testOrchestrator(t, st, meter, src)

	first, err := orch.StreamTurn(context.Background(), TurnRequest{
		AccountID: 42, Message: "start", ContentType: "TEXT",
	})
	require.NoError(t, err)
	_, settleErr := drainTurn(t, first)
	require.NoError(t, settleErr)

	prior := st.messagesFor(first.RoomID)
	require.Len(t, prior, 2)
	lastID := prior[1].ID

	second, err := orch.StreamTurn(context.Background(), TurnRequest{
		RoomID: first.RoomID, AccountID: 42, Message: "continue", ContentType: "TEXT",
	})
	require.NoError(t, err)
	_, settleErr = drainTurn(t, second)
	require.NoError(t, settleErr)

	msgs := st.messagesFor(first.RoomID)
	require.Len(t, msgs, 4)
	assert.Equal(t, lastID, msgs[2].ParentID, "new user turn must extend the existing chain")
	assert.Equal(t, msgs[2].ID, msgs[3].ParentID)
}

func TestEndedRoomRejected(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}
	orch := testOrchestrator(t, st, meter, &scriptedSource{fragments: []string{"x"}})

	room, err := st.CreateRoom(context.Background(), "ended-room", 42, "t", "GENERAL", "DEFAULT", false)
	require.NoError(t, err)
	require.NoError(t, st.EndRoom(context.Background(), room.ID))

	_, err = orch.StreamTurn(context.Background(), TurnRequest{
		RoomID: room.ID, AccountID: 42, Message: "hello?", ContentType: "TEXT",
	})
	require.ErrorIs(t, err, ErrRoomInactive)

	assert.Empty(t, st.messagesFor(room.ID), "rejected turn must leave no writes")
	assert.Empty(t, meter.calls())
}

func TestUnknownRoomRejected(t *testing.T) {
	st := newFakeStore()
	orch := testOrchestrator(t, st, &fakeMeter{}, &scriptedSource{})

	_, err := orch.StreamTurn(context.Background(), TurnRequest{
		RoomID: "nope", AccountID: 42, Message: "hi", ContentType: "TEXT",
	})
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestQuotaExceededRejected(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{deny: true}
	orch := testOrchestrator(t, st, meter, &scriptedSource{fragments: []string{"x"}})

	_, err := orch.StreamTurn(context.Background(), TurnRequest{
		AccountID: 42, Message: "hello", ContentType: "TEXT",
	})
	require.ErrorIs(t, err, usage.ErrQuotaExceeded)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.rooms, "over-quota turn must not create a room")
	assert.Empty(t, st.messages)
}

func TestMidStreamFailurePersistsPartial(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}
	src := &scriptedSource{fragments: []string{"Hel"}, err: errors.New("upstream reset")}
	orch := testOrchestrator(t, st, meter, src)

	turn, err := orch.StreamTurn(context.Background(), TurnRequest{
		AccountID: 42, Message: "hello", ContentType: "TEXT",
	})
	require.NoError(t, err)

	reply, settleErr := drainTurn(t, turn)
	assert.Equal(t, "Hel", reply)
	require.Error(t, settleErr)

	msgs := st.messagesFor(turn.RoomID)
	require.Len(t, msgs, 2)
	asstMsg := msgs[1]
	assert.True(t, asstMsg.Partial, "interrupted reply must be flagged partial")

	cipher := testChainCipher(t)
	plain, err := cipher.Decrypt(asstMsg.Body, asstMsg.IV, asstMsg.CipherVersion)
	require.NoError(t, err)
	assert.Equal(t, "Hel", plain, "stored text must match what was relayed")

	require.Len(t, meter.calls(), 1)
	assert.Equal(t, [2]int{5, 3}, meter.calls()[0], "partial output is still billed")
}

func TestFailureBeforeFirstFragment(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}
	src := &scriptedSource{err: errors.New("connection refused")}
	orch := testOrchestrator(t, st, meter, src)

	turn, err := orch.StreamTurn(context.Background(), TurnRequest{
		AccountID: 42, Message: "hello", ContentType: "TEXT",
	})
	require.NoError(t, err)

	reply, settleErr := drainTurn(t, turn)
	assert.Empty(t, reply)
	require.Error(t, settleErr)

	msgs := st.messagesFor(turn.RoomID)
	require.Len(t, msgs, 1, "only the user turn is stored when nothing streamed")
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Empty(t, meter.calls(), "a turn with no output records no usage")
}

func TestCancellationPersistsPartial(t *testing.T) {
	st := newFakeStore()
	meter := &fakeMeter{}

	// A source that emits one fragment, then blocks until the context dies.
	src := &blockingSource{first: "partial answer"}
	orch := testOrchestrator(t, st, meter, src)

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := orch.StreamTurn(ctx, TurnRequest{
		AccountID: 42, Message: "hello", ContentType: "TEXT",
	})
	require.NoError(t, err)

	first := <-turn.Chunks
	assert.Equal(t, "partial answer", string(first))
	cancel()

	_, settleErr := drainTurn(t, turn)
	require.Error(t, settleErr)

	msgs := st.messagesFor(turn.RoomID)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Partial)

	cipher := testChainCipher(t)
	plain, err := cipher.Decrypt(msgs[1].Body, msgs[1].IV, msgs[1].CipherVersion)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", plain)
}

// blockingSource emits one fragment and then waits for cancellation.
type blockingSource struct {
	first string
}

func (s *blockingSource) StreamCompletion(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		out <- s.first
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return out, errCh
}

func TestTitleFromMessageTruncates(t *testing.T) {
	long := strings.Repeat("가", 30)
	title := titleFromMessage(long)
	assert.Equal(t, strings.Repeat("가", 20), title, "title truncation counts runes, not bytes")

	assert.Equal(t, "short", titleFromMessage("short"))
}
