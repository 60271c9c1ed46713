package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
)

// DefaultID is used when a caller does not name a conversation.
const DefaultID = "default"

// Factory creates a new session for id.
type Factory func(id string) *core.Session

// Options configures an InMemoryStore.
type Options struct {
	// TTL evicts sessions idle for longer than this. Zero keeps them forever.
	TTL time.Duration
	// MaxSessions caps the number of stored sessions. Zero means no cap.
	MaxSessions int
	// Factory builds new sessions. Defaults to core.NewSession with default options.
	Factory Factory
	Logger  logging.Logger
	// Now is the clock used to mark sessions active on lookup.
	Now func() time.Time
}

// InMemoryStore is a process-local session store. It is safe for concurrent
// access.
type InMemoryStore struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Factory: func(id string) *core.Session { return core.NewSession(id) },
		Logger:  logging.NoOpLogger{},
		Now:     time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{opts: opts, sessions: make(map[string]*core.Session)}
}

// GetOrCreate returns the session stored under id, creating it when missing,
// and marks it active so a pending turn is not evicted before it begins.
// A blank id selects DefaultID.
func (s *InMemoryStore) GetOrCreate(id string) *core.Session {
	id = normalizeID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.Touch(s.opts.Now())
		return sess
	}

	sess := s.opts.Factory(id)
	sess.Touch(s.opts.Now())
	s.sessions[id] = sess
	s.opts.Logger.Debug("session.created", "session_id", id)

	if s.opts.MaxSessions > 0 && len(s.sessions) > s.opts.MaxSessions {
		s.evictOverflowLocked(id)
	}
	return sess
}

// Get returns the session stored under id.
func (s *InMemoryStore) Get(id string) (*core.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[normalizeID(id)]
	return sess, ok
}

// Delete removes the session stored under id and reports whether it existed.
// A running session is removed from the store but its turn completes.
func (s *InMemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = normalizeID(id)
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.opts.Logger.Debug("session.deleted", "session_id", id)
	return true
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Evict removes sessions idle for longer than the TTL as of now, then trims
// the store to MaxSessions. It returns the number of removed sessions.
func (s *InMemoryStore) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if s.opts.TTL > 0 {
		for id, sess := range s.sessions {
			if sess.State() == core.StateRunning {
				continue
			}
			if now.Sub(sess.LastActive()) > s.opts.TTL {
				delete(s.sessions, id)
				removed++
			}
		}
	}
	if s.opts.MaxSessions > 0 && len(s.sessions) > s.opts.MaxSessions {
		removed += s.evictOverflowLocked("")
	}

	if removed > 0 {
		s.opts.Logger.Info("session.evicted", "count", removed, "remaining", len(s.sessions))
	}
	return removed
}

// evictOverflowLocked drops the least recently active sessions until the cap
// holds, skipping running sessions and keep. Caller holds the lock.
func (s *InMemoryStore) evictOverflowLocked(keep string) int {
	type candidate struct {
		id   string
		last time.Time
	}
	candidates := make([]candidate, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id == keep || sess.State() == core.StateRunning {
			continue
		}
		candidates = append(candidates, candidate{id: id, last: sess.LastActive()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].last.Before(candidates[j].last) })

	removed := 0
	for _, c := range candidates {
		if len(s.sessions) <= s.opts.MaxSessions {
			break
		}
		delete(s.sessions, c.id)
		removed++
	}
	return removed
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID
	}
	return id
}
