package gateway

import (
	"database/sql"
	"sync"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/logger"
)

// quarantineThreshold is the number of consecutive health-check failures
// that puts a session into quarantine (spec §4.2 "session pool").
const quarantineThreshold = 3

// quarantineDuration is how long a quarantined session is refused new work
// before it is given another chance.
const quarantineDuration = 2 * time.Minute

// session wraps one pooled *sql.DB with the bookkeeping needed to quarantine
// it after repeated health-check failures.
type session struct {
	mu sync.Mutex

	db *sql.DB

	consecutiveFailures int
	quarantinedUntil     time.Time
	degraded             bool // performance view unavailable (spec §9)
}

func (s *session) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.quarantinedUntil = time.Time{}
}

func (s *session) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= quarantineThreshold {
		s.quarantinedUntil = time.Now().Add(quarantineDuration)
	}
}

func (s *session) quarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quarantinedUntil.IsZero() {
		return false
	}
	return time.Now().Before(s.quarantinedUntil)
}

func (s *session) setDegraded(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = v
}

func (s *session) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Pool is a per-gateway registry of one session per connection id. It is
// shared by every engine adapter so quarantine bookkeeping is uniform
// across engines.
type Pool struct {
	mu       sync.RWMutex
	sessions map[int64]*session
	log      logger.Logger
}

// NewPool constructs an empty session pool.
func NewPool(log logger.Logger) *Pool {
	return &Pool{sessions: make(map[int64]*session), log: log}
}

// Put registers db as the session for connectionID, replacing and closing
// any prior session.
func (p *Pool) Put(connectionID int64, db *sql.DB) *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.sessions[connectionID]; ok {
		old.db.Close()
	}
	s := &session{db: db}
	p.sessions[connectionID] = s
	return s
}

// Get returns the session for connectionID, or apperrors.NotFound if none
// has been opened, or apperrors.Unavailable if it is quarantined.
func (p *Pool) Get(connectionID int64) (*session, error) {
	p.mu.RLock()
	s, ok := p.sessions[connectionID]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("no open session for connection %d", connectionID)
	}
	if s.quarantined() {
		return nil, apperrors.NewUnavailable("connection %d is quarantined after repeated failures", connectionID)
	}
	return s, nil
}

// Remove closes and forgets the session for connectionID, if any.
func (p *Pool) Remove(connectionID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[connectionID]; ok {
		s.db.Close()
		delete(p.sessions, connectionID)
	}
}

// IsDegraded reports whether connectionID's session is currently flagged
// degraded (performance view unavailable).
func (p *Pool) IsDegraded(connectionID int64) bool {
	p.mu.RLock()
	s, ok := p.sessions[connectionID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return s.isDegraded()
}
