package authstate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a pending authorization state stays valid.
	// Bank authorization pages routinely take a couple of minutes (BankID
	// signing, SCA), so this is generous but still short.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxPending bounds the store. Every entry is one in-flight
	// authorization; anything above this means abandoned flows.
	DefaultMaxPending = 1000
)

var ErrStoreFull = errors.New("too many pending authorization states")

type entry struct {
	provider  string
	issuedAt  time.Time
	expiresAt time.Time
}

// Store issues and validates single-use CSRF state tokens for the bank
// authorization flow. Each token is bound to the provider it was issued for
// and is consumed on first validation, successful or not, so a captured
// callback cannot be replayed.
//
// The store is in-process and bounded: when full, the oldest pending entry is
// evicted first so memory is reclaimed deterministically.
type Store struct {
	mu         sync.Mutex
	entries    map[string]entry
	order      []string // insertion order for oldest-first eviction
	ttl        time.Duration
	maxPending int
	now        func() time.Time
}

// NewStore creates a Store with the given TTL and capacity.
// Zero values fall back to the defaults.
func NewStore(ttl time.Duration, maxPending int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Store{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxPending: maxPending,
		now:        time.Now,
	}
}

// Generate creates a cryptographically random state token bound to the given
// provider name and records it with the configured TTL.
func (s *Store) Generate(provider string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if len(s.entries) >= s.maxPending {
		s.evictOldestLocked()
	}
	if len(s.entries) >= s.maxPending {
		return "", ErrStoreFull
	}

	now := s.now()
	s.entries[token] = entry{
		provider:  provider,
		issuedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	s.order = append(s.order, token)

	return token, nil
}

// Validate checks and consumes a state token. It returns true only when the
// token exists, is unexpired, and was issued for the given provider. The
// token is removed regardless of the outcome: a second call with the same
// token always returns false.
func (s *Store) Validate(token, provider string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return false
	}
	delete(s.entries, token)

	if s.now().After(e.expiresAt) {
		return false
	}
	return e.provider == provider
}

// Remove discards a state token without validating it. Called after a
// completed exchange; a no-op when Validate already consumed the token.
func (s *Store) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Pending returns the number of live (unexpired) states, for observability.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

// PurgeExpired drops expired entries and returns how many were removed.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	s.sweepLocked()
	return before - len(s.entries)
}

func (s *Store) sweepLocked() {
	now := s.now()
	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
		}
	}
	s.compactOrderLocked()
}

func (s *Store) evictOldestLocked() {
	s.compactOrderLocked()
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, oldest)
}

// compactOrderLocked drops order entries whose tokens are no longer stored
// (consumed, removed, or expired).
func (s *Store) compactOrderLocked() {
	live := s.order[:0]
	for _, token := range s.order {
		if _, ok := s.entries[token]; ok {
			live = append(live, token)
		}
	}
	s.order = live
}
