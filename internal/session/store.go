// Package session holds bounded per-conversation history in memory.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/concierge/internal/domain"
)

// Default bounds.
const (
	DefaultMaxHistory       = 30
	DefaultMaxContentLength = 500
)

// Options bound a Store.
type Options struct {
	MaxHistory       int
	MaxContentLength int
	Now              func() time.Time
}

type conversation struct {
	turns      []domain.Turn
	hasGreeted bool
	createdAt  time.Time
	updatedAt  time.Time
}

// Store is an in-memory conversation store. It is safe for concurrent use.
// Create one per process with New and release it with Close.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*conversation
	opts     Options
}

// New creates an empty Store. Zero options take the package defaults.
func New(opts Options) *Store {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		sessions: make(map[string]*conversation),
		opts:     opts,
	}
}

// Create starts an empty session under a new random id.
func (s *Store) Create() string {
	id := uuid.New().String()
	s.mu.Lock()
	s.getOrCreateLocked(id)
	s.mu.Unlock()
	return id
}

// GetOrCreate returns a copy of the session's history. If the session does
// not exist it is created empty, so this is not a pure read.
func (s *Store) GetOrCreate(id string) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTurns(s.getOrCreateLocked(id).turns)
}

// Get returns a copy of the session's history without creating it.
func (s *Store) Get(id string) ([]domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneTurns(c.turns), true
}

// Exists reports whether a session is live.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Append truncates content to MaxContentLength runes, appends it as a new
// turn and evicts the oldest turns beyond MaxHistory. The session is created
// if absent. It returns the stored turn.
func (s *Store) Append(id string, role domain.Role, content string) domain.Turn {
	now := s.opts.Now()
	turn := domain.Turn{
		Role:      role,
		Content:   domain.Truncate(content, s.opts.MaxContentLength),
		Timestamp: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(id)
	c.turns = append(c.turns, turn)
	if over := len(c.turns) - s.opts.MaxHistory; over > 0 {
		// Shift into a fresh slice so evicted turns are not pinned by the backing array.
		c.turns = append([]domain.Turn(nil), c.turns[over:]...)
	}
	c.updatedAt = now
	return turn
}

// Recent returns up to k of the most recent turns in chronological order.
func (s *Store) Recent(id string, k int) []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	if !ok || k <= 0 {
		return nil
	}
	turns := c.turns
	if len(turns) > k {
		turns = turns[len(turns)-k:]
	}
	return cloneTurns(turns)
}

// MarkGreeted records that the assistant has greeted this session.
func (s *Store) MarkGreeted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(id).hasGreeted = true
}

// HasGreeted reports whether the assistant already greeted this session.
func (s *Store) HasGreeted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	return ok && c.hasGreeted
}

// Clear removes a session. Clearing an unknown id is a no-op.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Stats summarizes a session for attaching to a rating. A session counts as
// resolved when its last turn is an assistant reply.
func (s *Store) Stats(id string) (domain.SessionStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	if !ok {
		return domain.SessionStats{}, false
	}

	st := domain.SessionStats{MessageCount: len(c.turns)}
	for _, t := range c.turns {
		switch t.Role {
		case domain.RoleUser:
			st.UserMessages++
		case domain.RoleAssistant:
			st.AssistantMessages++
		}
	}
	if n := len(c.turns); n > 0 {
		st.DurationSeconds = int64(c.turns[n-1].Timestamp.Sub(c.createdAt) / time.Second)
		st.Resolved = c.turns[n-1].Role == domain.RoleAssistant
	}
	return st, true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close drops every session.
func (s *Store) Close() {
	s.mu.Lock()
	s.sessions = make(map[string]*conversation)
	s.mu.Unlock()
}

func (s *Store) getOrCreateLocked(id string) *conversation {
	c, ok := s.sessions[id]
	if !ok {
		now := s.opts.Now()
		c = &conversation{createdAt: now, updatedAt: now}
		s.sessions[id] = c
	}
	return c
}

func cloneTurns(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}
