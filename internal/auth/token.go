package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/origin"
	"github.com/rs/zerolog/log"
)

const (
	// tokenEntropyBytes is the random width of a token identifier.
	tokenEntropyBytes = 48

	// maxDelegationDepth bounds the parent walk in RootCredentials.
	// Token parents are fixed at creation, so a cycle cannot form.
	maxDelegationDepth = 32
)

// Token is an ephemeral bearer credential carrier. Its lifetime is an
// idle timeout: every use pushes the deadline forward by TTL.
// MatchOrigin, when set, pins redemption to the issuing origin.
type Token struct {
	ID          string
	TTL         time.Duration
	Attributes  map[string]any
	MatchOrigin origin.Origin
	Parent      Credential

	clock    clock.Clock
	mu       sync.Mutex
	lastUsed time.Time
}

// IsValid reports whether the token has been used within its TTL.
func (t *Token) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Now().Before(t.lastUsed.Add(t.TTL))
}

// NotifyUsed slides the expiry window forward.
func (t *Token) NotifyUsed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUsed = t.clock.Now()
}

// RootCredentials walks the parent chain, unwrapping token-derived
// credentials, and returns the first non-token credential.
func (t *Token) RootCredentials() Credential {
	c := t.Parent
	for i := 0; i < maxDelegationDepth; i++ {
		tc, ok := c.(*TokenCredentials)
		if !ok {
			return c
		}
		if tc.Token == nil {
			return nil
		}
		c = tc.Token.Parent
	}
	return nil
}

// TokenRegistry creates, looks up, and destroys tokens. Expired tokens
// are purged lazily on lookup; Sweep only bounds memory.
type TokenRegistry struct {
	clock clock.Clock

	mu     sync.Mutex
	tokens map[string]*Token
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry(c clock.Clock) *TokenRegistry {
	return &TokenRegistry{
		clock:  c,
		tokens: make(map[string]*Token),
	}
}

// Create issues a new token wrapping parent. A nil matchOrigin leaves
// the token redeemable from anywhere.
func (r *TokenRegistry) Create(ttl time.Duration, attributes map[string]any, matchOrigin origin.Origin, parent Credential) (*Token, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	if attributes == nil {
		attributes = map[string]any{}
	}

	t := &Token{
		ID:          base64.RawURLEncoding.EncodeToString(raw),
		TTL:         ttl,
		Attributes:  attributes,
		MatchOrigin: matchOrigin,
		Parent:      parent,
		clock:       r.clock,
		lastUsed:    r.clock.Now(),
	}

	r.mu.Lock()
	r.tokens[t.ID] = t
	r.mu.Unlock()
	return t, nil
}

// Get returns the token for id if it exists, is still valid, and may be
// redeemed from requestOrigin. An expired token is evicted. An origin
// mismatch leaves the token in place for its rightful origin.
func (r *TokenRegistry) Get(id string, requestOrigin origin.Origin) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.lookupLocked(id)
	if t == nil {
		return nil
	}
	if t.MatchOrigin != nil && !t.MatchOrigin.Match(requestOrigin) {
		return nil
	}
	return t
}

// Attributes returns the attribute payload of a valid token regardless
// of its origin constraint.
func (r *TokenRegistry) Attributes(id string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.lookupLocked(id)
	if t == nil {
		return nil, false
	}
	return t.Attributes, true
}

func (r *TokenRegistry) lookupLocked(id string) *Token {
	t, ok := r.tokens[id]
	if !ok {
		return nil
	}
	if !t.IsValid() {
		delete(r.tokens, id)
		return nil
	}
	return t
}

// Destroy removes a token. Unknown ids are ignored.
func (r *TokenRegistry) Destroy(id string) {
	r.mu.Lock()
	delete(r.tokens, id)
	r.mu.Unlock()
}

// Len returns the number of stored tokens, including expired ones not
// yet purged.
func (r *TokenRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Sweep drops every expired token and returns how many were removed.
func (r *TokenRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tokens {
		if !t.IsValid() {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired tokens every interval until ctx is cancelled.
func (r *TokenRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("swept expired tokens")
			}
		}
	}
}
