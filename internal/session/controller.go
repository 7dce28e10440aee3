// Package session owns the conversation session: its status machine,
// the single in-flight request, and the mirror between the transport
// and the conversation store. The view layer observes it through the
// Listener interface and never gets touched directly.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/booking"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/conversation"
)

// Status is the session's UI-visible state. Exactly one value holds at
// a time; it is never persisted and resets to Idle on restart.
type Status int

const (
	StatusIdle Status = iota
	StatusSending
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSending:
		return "sending"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorReply is the fixed user-facing text appended when a send fails.
// Raw fault detail goes to the log, never into the conversation.
const ErrorReply = "Sorry, I couldn't reach the restaurant just now. Please try sending that again."

// Store is the conversation log the controller writes through.
type Store interface {
	Append(conversation.Message) error
	All() []conversation.Message
}

// Transport delivers one chat message and resolves with the reply text
// or a fault. Exactly one attempt per submission; retries are the
// user's job.
type Transport interface {
	Send(ctx context.Context, req booking.Request) (string, error)
}

// Listener receives session events. Both methods are called outside
// the controller's lock, in the order the transitions occurred.
type Listener interface {
	MessageAppended(msg conversation.Message)
	StatusChanged(status Status)
}

// Params carries the controller's injected collaborators and identity.
type Params struct {
	Store        Store
	Transport    Transport
	Listener     Listener
	RestaurantID string
	StoreID      string
	UserID       string
	Logger       zerolog.Logger
}

type pendingRequest struct {
	messageID string
	content   string
	issuedAt  time.Time
}

// Controller serializes sends: at most one pending request exists at a
// time and a submit while one is in flight is dropped.
type Controller struct {
	store        Store
	transport    Transport
	restaurantID string
	storeID      string
	userID       string
	log          zerolog.Logger

	mu       sync.Mutex
	status   Status
	pending  *pendingRequest
	listener Listener
}

func New(p Params) *Controller {
	return &Controller{
		store:        p.Store,
		transport:    p.Transport,
		restaurantID: p.RestaurantID,
		storeID:      p.StoreID,
		userID:       p.UserID,
		log:          p.Logger,
		status:       StatusIdle,
		listener:     p.Listener,
	}
}

// SetListener attaches the view after construction. The bubbletea
// program can only be built around a model that already has the
// controller, so attachment is late-bound.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// History returns the conversation in display order.
func (c *Controller) History() []conversation.Message {
	return c.store.All()
}

// Submit starts a send for text. It appends the user's message to the
// conversation before the network resolves, so the user's own words
// are never blocked on the backend. Returns false when the input is
// blank or a send is already in flight; both are dropped silently.
func (c *Controller) Submit(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	// only the Idle state accepts a submit: Sending means a request is
	// in flight, Error means the previous one is still being resolved
	if c.status != StatusIdle {
		status := c.status
		c.mu.Unlock()
		c.log.Debug().Stringer("status", status).Msg("submit dropped: session busy")
		return false
	}
	p := &pendingRequest{
		messageID: uuid.NewString(),
		content:   text,
		issuedAt:  time.Now(),
	}
	c.pending = p
	c.status = StatusSending
	c.mu.Unlock()

	userMsg := conversation.NewMessage(conversation.RoleUser, text)
	if err := c.store.Append(userMsg); err != nil {
		c.log.Warn().Err(err).Msg("history persistence degraded")
	}
	c.emitMessage(userMsg)
	c.emitStatus(StatusSending)

	go c.dispatch(ctx, p)
	return true
}

func (c *Controller) dispatch(ctx context.Context, p *pendingRequest) {
	reply, err := c.transport.Send(ctx, booking.Request{
		MessageID:     p.messageID,
		RestaurantID:  c.restaurantID,
		StoreID:       c.storeID,
		ContactNumber: c.userID,
		Message:       p.content,
	})
	if err != nil {
		c.resolveFailure(p, err)
		return
	}
	c.resolveSuccess(p, reply)
}

func (c *Controller) resolveSuccess(p *pendingRequest, reply string) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	// status stays Sending until the reply is in the store, so a new
	// submit can never interleave ahead of the previous reply
	msg := conversation.NewMessage(conversation.RoleAssistant, reply)
	if err := c.store.Append(msg); err != nil {
		c.log.Warn().Err(err).Msg("history persistence degraded")
	}
	c.log.Info().
		Str("message_id", p.messageID).
		Dur("took", time.Since(p.issuedAt)).
		Msg("reply received")
	c.emitMessage(msg)

	c.mu.Lock()
	c.status = StatusIdle
	c.mu.Unlock()
	c.emitStatus(StatusIdle)
}

// resolveFailure surfaces Error for one tick, appends the fixed
// apology in place of a reply, then returns the session to Idle so the
// user can resend.
func (c *Controller) resolveFailure(p *pendingRequest, fault error) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.status = StatusError
	c.mu.Unlock()

	c.log.Warn().
		Err(fault).
		Str("message_id", p.messageID).
		Msg("send failed")
	c.emitStatus(StatusError)

	msg := conversation.NewMessage(conversation.RoleAssistant, ErrorReply)
	if err := c.store.Append(msg); err != nil {
		c.log.Warn().Err(err).Msg("history persistence degraded")
	}
	c.emitMessage(msg)

	c.mu.Lock()
	c.status = StatusIdle
	c.mu.Unlock()
	c.emitStatus(StatusIdle)
}

func (c *Controller) emitMessage(msg conversation.Message) {
	if l := c.currentListener(); l != nil {
		l.MessageAppended(msg)
	}
}

func (c *Controller) emitStatus(s Status) {
	if l := c.currentListener(); l != nil {
		l.StatusChanged(s)
	}
}

func (c *Controller) currentListener() Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}
