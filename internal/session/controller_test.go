package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/booking"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/conversation"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []booking.Request
	reply string
	err   error
	gate  chan struct{} // when non-nil, Send blocks until closed
}

func (f *fakeTransport) Send(_ context.Context, req booking.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.reply, f.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingListener struct {
	mu       sync.Mutex
	messages []conversation.Message
	statuses []Status
	idle     chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{idle: make(chan struct{}, 4)}
}

func (l *recordingListener) MessageAppended(msg conversation.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

func (l *recordingListener) StatusChanged(s Status) {
	l.mu.Lock()
	l.statuses = append(l.statuses, s)
	l.mu.Unlock()
	if s == StatusIdle {
		l.idle <- struct{}{}
	}
}

func (l *recordingListener) seenStatuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.statuses))
	copy(out, l.statuses)
	return out
}

func waitIdle(t *testing.T, l *recordingListener) {
	t.Helper()
	select {
	case <-l.idle:
	case <-time.After(2 * time.Second):
		t.Fatal("session never returned to idle")
	}
}

func newController(tr Transport, l Listener) (*Controller, *conversation.Store) {
	store := conversation.NewStore(nil, zerolog.Nop())
	c := New(Params{
		Store:        store,
		Transport:    tr,
		Listener:     l,
		RestaurantID: "resto1",
		UserID:       "web_1_abc",
		Logger:       zerolog.Nop(),
	})
	return c, store
}

func TestSubmit_OptimisticAppend(t *testing.T) {
	tr := &fakeTransport{reply: "Table booked!", gate: make(chan struct{})}
	l := newRecordingListener()
	c, store := newController(tr, l)

	ok := c.Submit(context.Background(), "Book a table for 2 at 7pm")
	require.True(t, ok)

	// user entry is visible before the network call resolves
	msgs := store.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "Book a table for 2 at 7pm", msgs[0].Content)
	assert.Equal(t, StatusSending, c.Status())

	close(tr.gate)
	waitIdle(t, l)

	msgs = store.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Table booked!", msgs[1].Content)
	assert.Equal(t, StatusIdle, c.Status())
}

func TestSubmit_RejectsBlankInput(t *testing.T) {
	tr := &fakeTransport{reply: "ok"}
	c, store := newController(tr, newRecordingListener())

	assert.False(t, c.Submit(context.Background(), ""))
	assert.False(t, c.Submit(context.Background(), "   \n\t"))
	assert.Zero(t, store.Len())
	assert.Zero(t, tr.callCount())
	assert.Equal(t, StatusIdle, c.Status())
}

func TestSubmit_RejectedWhileSending(t *testing.T) {
	tr := &fakeTransport{reply: "ok", gate: make(chan struct{})}
	l := newRecordingListener()
	c, store := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "first"))
	assert.False(t, c.Submit(context.Background(), "second"))

	// the dropped submit changed nothing
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, StatusSending, c.Status())

	close(tr.gate)
	waitIdle(t, l)
	require.Equal(t, 1, tr.callCount())
	assert.Equal(t, "first", tr.calls[0].Message)
}

func TestSubmit_FailureAppendsApology(t *testing.T) {
	fault := &booking.NetworkFault{Err: errors.New("connection refused")}
	tr := &fakeTransport{err: fault}
	l := newRecordingListener()
	c, store := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "Hello"))
	waitIdle(t, l)

	msgs := store.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, ErrorReply, msgs[1].Content)
	// raw fault detail never reaches the conversation
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "connection refused")
	}
	assert.Equal(t, StatusIdle, c.Status())

	// Error is observable before the session settles back to Idle
	assert.Contains(t, l.seenStatuses(), StatusError)
	statuses := l.seenStatuses()
	assert.Equal(t, StatusIdle, statuses[len(statuses)-1])
}

func TestSubmit_ProtocolFaultTreatedLikeNetworkFault(t *testing.T) {
	tr := &fakeTransport{err: &booking.ProtocolFault{StatusCode: 500, Reason: "non-success status"}}
	l := newRecordingListener()
	c, store := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "Hello"))
	waitIdle(t, l)

	msgs := store.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, ErrorReply, msgs[1].Content)
	assert.Equal(t, StatusIdle, c.Status())
}

func TestSubmit_UsableAgainAfterFailure(t *testing.T) {
	tr := &fakeTransport{err: errors.New("down")}
	l := newRecordingListener()
	c, store := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "first try"))
	waitIdle(t, l)

	tr.mu.Lock()
	tr.err = nil
	tr.reply = "Recovered!"
	tr.mu.Unlock()

	require.True(t, c.Submit(context.Background(), "second try"))
	waitIdle(t, l)

	msgs := store.All()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Recovered!", msgs[3].Content)
}

func TestSubmit_RequestCarriesSessionIdentity(t *testing.T) {
	tr := &fakeTransport{reply: "ok"}
	l := newRecordingListener()
	c, _ := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "hi"))
	waitIdle(t, l)

	require.Equal(t, 1, tr.callCount())
	req := tr.calls[0]
	assert.Equal(t, "resto1", req.RestaurantID)
	assert.Equal(t, "web_1_abc", req.ContactNumber)
	assert.Equal(t, "hi", req.Message)
	assert.NotEmpty(t, req.MessageID)
}

// hookListener lets a test act from inside the controller's own event
// callbacks, mid-transition.
type hookListener struct {
	*recordingListener
	onStatus  func(Status)
	onMessage func(conversation.Message)
}

func (l *hookListener) StatusChanged(s Status) {
	l.recordingListener.StatusChanged(s)
	if l.onStatus != nil {
		l.onStatus(s)
	}
}

func (l *hookListener) MessageAppended(msg conversation.Message) {
	l.recordingListener.MessageAppended(msg)
	if l.onMessage != nil {
		l.onMessage(msg)
	}
}

func TestSubmit_RejectedDuringErrorWindow(t *testing.T) {
	tr := &fakeTransport{err: errors.New("down")}
	l := &hookListener{recordingListener: newRecordingListener()}
	c, store := newController(tr, l)

	accepted := make(chan bool, 1)
	l.onStatus = func(s Status) {
		if s == StatusError {
			// the transient Error state must not accept a new send
			accepted <- c.Submit(context.Background(), "interloper")
		}
	}

	require.True(t, c.Submit(context.Background(), "Hello"))
	waitIdle(t, l.recordingListener)

	select {
	case ok := <-accepted:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("error state was never observed")
	}

	// exactly one user entry and one apology; nothing from the
	// dropped submit
	msgs := store.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, ErrorReply, msgs[1].Content)
	assert.Equal(t, StatusIdle, c.Status())
	assert.Equal(t, 1, tr.callCount())
}

func TestSubmit_RejectedUntilReplyApplied(t *testing.T) {
	tr := &fakeTransport{reply: "Table booked!"}
	l := &hookListener{recordingListener: newRecordingListener()}
	c, store := newController(tr, l)

	accepted := make(chan bool, 1)
	l.onMessage = func(msg conversation.Message) {
		if msg.Role == conversation.RoleAssistant {
			// the reply is stored but Idle has not been emitted yet;
			// a submit here must not jump ahead of the transition
			accepted <- c.Submit(context.Background(), "interloper")
		}
	}

	require.True(t, c.Submit(context.Background(), "Book a table"))
	waitIdle(t, l.recordingListener)

	select {
	case ok := <-accepted:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("assistant reply was never observed")
	}

	msgs := store.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Table booked!", msgs[1].Content)
	assert.Equal(t, 1, tr.callCount())
}

func TestSubmit_EventOrder(t *testing.T) {
	tr := &fakeTransport{reply: "done"}
	l := newRecordingListener()
	c, _ := newController(tr, l)

	require.True(t, c.Submit(context.Background(), "hi"))
	waitIdle(t, l)

	statuses := l.seenStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusSending, statuses[0])
	assert.Equal(t, StatusIdle, statuses[1])

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.messages, 2)
	assert.Equal(t, conversation.RoleUser, l.messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, l.messages[1].Role)
}
