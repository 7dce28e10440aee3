// Package identity derives and persists the stable per-device user id
// that the booking backend uses as the contact number.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const userIDKey = "booking_user_id"

// KV abstracts the device-local key-value store. Implementations can be
// file-based, database, etc.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

type Provider struct {
	kv     KV
	log    zerolog.Logger
	cached string
}

func New(kv KV, log zerolog.Logger) *Provider {
	return &Provider{kv: kv, log: log}
}

// GetOrCreateUserID returns the device's user id, generating and
// persisting one on first use. If the store is unavailable the id is
// regenerated per process and conversations will not survive a restart;
// that degraded mode is logged, never an error.
func (p *Provider) GetOrCreateUserID() string {
	if p.cached != "" {
		return p.cached
	}
	if p.kv != nil {
		if b, err := p.kv.Get(userIDKey); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				p.cached = id
				return id
			}
		}
	}
	id := newUserID()
	p.cached = id
	if p.kv == nil {
		p.log.Warn().Msg("identity store unavailable; using per-session user id")
		return id
	}
	if err := p.kv.Set(userIDKey, []byte(id)); err != nil {
		p.log.Warn().Err(err).Msg("user id not persisted; history will not survive restart")
	}
	return id
}

func newUserID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("web_%d_%s", time.Now().UnixMilli(), suffix)
}
