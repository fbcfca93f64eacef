package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mathquest/internal/domain"
)

const (
	defaultEvictionGrace = 2 * time.Minute
	defaultIdleTimeout   = 6 * time.Hour
)

// Registry owns every active session, keyed by access code. No component
// holds a long-lived session reference outside the registry's mediation, so
// nothing can operate on state after eviction.
type Registry struct {
	log   *zap.Logger
	clock func() time.Time
	grace time.Duration
	idle  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(log *zap.Logger, grace, idle time.Duration) *Registry {
	if grace <= 0 {
		grace = defaultEvictionGrace
	}
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Registry{
		log:      log,
		clock:    time.Now,
		grace:    grace,
		idle:     idle,
		sessions: make(map[string]*Session),
	}
}

// Add registers a freshly created session. Access code uniqueness is
// enforced here.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.accessCode]; exists {
		return domain.ErrDuplicateAccessCode
	}
	r.sessions[s.accessCode] = s
	return nil
}

// Get locates a session by access code.
func (r *Registry) Get(accessCode string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[accessCode]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return s, nil
}

// Reserve checks whether an access code is free without registering it.
func (r *Registry) Reserve(accessCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sessions[accessCode]
	return !exists
}

// Evict drops a session from memory and closes its broadcast channels.
func (r *Registry) Evict(accessCode string) {
	r.mu.Lock()
	s, ok := r.sessions[accessCode]
	if ok {
		delete(r.sessions, accessCode)
	}
	r.mu.Unlock()

	if ok {
		s.shutdown()
		r.log.Info("session evicted", zap.String("accessCode", accessCode))
	}
}

// ScheduleEviction removes the session after the grace period, keeping it
// queryable for late stat requests in the meantime.
func (r *Registry) ScheduleEviction(accessCode string) {
	time.AfterFunc(r.grace, func() { r.Evict(accessCode) })
}

// Sweep evicts ended sessions whose grace period passed and sessions with no
// activity for the idle timeout, so an abandoned lobby or an unfinished game
// does not stay resident indefinitely. The janitor runs it alongside
// ScheduleEviction, which covers explicitly ended sessions.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	var expired []string
	now := r.clock()
	for code, s := range r.sessions {
		if endedAt, ended := s.Ended(); ended {
			if now.Sub(endedAt) > r.grace {
				expired = append(expired, code)
			}
			continue
		}
		if now.Sub(s.LastActivity()) > r.idle {
			r.log.Info("session idle timeout", zap.String("accessCode", code))
			expired = append(expired, code)
		}
	}
	r.mu.RUnlock()

	for _, code := range expired {
		r.Evict(code)
	}
	return len(expired)
}

// Len reports the number of resident sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
