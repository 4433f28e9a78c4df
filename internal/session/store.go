package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Store keeps sessions in memory and forgets them after TTL of inactivity.
type Store struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	cleanup := opts.CleanupInterval
	if cleanup <= 0 {
		cleanup = ttl / 2
	}
	return &Store{cache: cache.New(ttl, cleanup)}
}

// NewID returns a fresh session or run identifier.
func NewID() string {
	return uuid.NewString()
}

// Get returns the session for id, starting one when none is live, and
// extends its lifetime.
func (s *Store) Get(id string) *Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(id); ok {
		sess := v.(*Session)
		s.cache.Set(id, sess, cache.DefaultExpiration)
		return sess
	}

	sess := newSession(id)
	s.cache.Set(id, sess, cache.DefaultExpiration)
	return sess
}

// Resume returns the live session for a client-supplied id and extends
// its lifetime. An unknown or expired id gets a new session under a fresh
// id, so clients never choose their own.
func (s *Store) Resume(id string) *Session {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if v, ok := s.cache.Get(id); ok {
			sess := v.(*Session)
			s.cache.Set(id, sess, cache.DefaultExpiration)
			return sess
		}
	}

	sess := newSession(NewID())
	s.cache.Set(sess.ID, sess, cache.DefaultExpiration)
	return sess
}

// Lookup returns a live session without creating or refreshing it.
func (s *Store) Lookup(id string) (*Session, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Len() int {
	return s.cache.ItemCount()
}
