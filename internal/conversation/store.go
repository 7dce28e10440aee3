package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/localstore"
)

const historyKey = "booking_history"

// KV abstracts the device-local key-value store backing the history.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Store owns the ordered message log and mirrors it to durable storage.
// Every mutation persists a full snapshot of the sequence, so Load after
// restart always yields the log as of the last successful save.
// Safe for concurrent use.
type Store struct {
	kv  KV
	log zerolog.Logger

	mu   sync.Mutex
	msgs []Message
}

func NewStore(kv KV, log zerolog.Logger) *Store {
	return &Store{kv: kv, log: log}
}

// Load reads the persisted history into memory and returns it. Missing
// data yields an empty log. A corrupt payload is logged and discarded,
// never surfaced to the caller; the conversation restarts empty.
func (s *Store) Load() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = nil
	if s.kv == nil {
		return nil
	}
	b, err := s.kv.Get(historyKey)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			s.log.Warn().Err(err).Msg("history unreadable; starting empty")
		}
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		s.log.Warn().Err(err).Msg("corrupt history discarded; starting empty")
		return nil
	}
	s.msgs = msgs
	return s.snapshotLocked()
}

// Append adds a message to the log and persists the full sequence. The
// in-memory append always succeeds; a persistence failure is returned so
// the caller can report degraded durability, but the message stays in
// the current session's view.
func (s *Store) Append(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, m)
	if s.kv == nil {
		return nil
	}
	b, err := json.Marshal(s.msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(historyKey, b); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// All returns a copy of the message log in insertion order.
func (s *Store) All() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
