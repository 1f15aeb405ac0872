package ssh

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	apperr "devpulse/internal/error"
)

type entry struct {
	mu      sync.Mutex
	sess    *Session
	removed bool
}

// Registry maps session ids to live sessions. Every use of a session goes
// through With, which holds that session's lock; different sessions do not
// contend.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	keepAlive time.Duration
}

type RegistryOption func(*Registry)

// WithKeepAlive makes the registry probe each session every d and evict
// sessions whose transport stopped answering.
func WithKeepAlive(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.keepAlive = d
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{sessions: make(map[string]*entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert registers s under s.ID. It fails if the id is already taken.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; ok {
		r.mu.Unlock()
		return apperr.New(apperr.SessionError, "insert "+s.ID, ErrSessionExists)
	}
	r.sessions[s.ID] = &entry{sess: s}
	r.mu.Unlock()

	log.Info("session registered", "id", s.ID, "host", s.Host, "user", s.User)
	if r.keepAlive > 0 {
		go r.keepAliveLoop(s)
	}
	return nil
}

// With runs fn with exclusive use of the session.
func (r *Registry) With(id string, fn func(*Session) error) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return sessionNotFound(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return sessionNotFound(id)
	}
	return fn(e.sess)
}

// Remove unregisters and closes the session, waiting for an in-flight
// operation on it to finish. Removing an unknown id reports not found.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return sessionNotFound(id)
	}

	e.mu.Lock()
	e.removed = true
	err := e.sess.Close()
	e.mu.Unlock()

	if err != nil {
		log.Debug("transport close reported an error", "id", id, "err", err)
	}
	log.Info("session removed", "id", id)
	return nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll removes every session.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		_ = r.Remove(id)
	}
}

func (r *Registry) keepAliveLoop(s *Session) {
	ticker := time.NewTicker(r.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Warn("keepalive failed, evicting session", "id", s.ID, "err", err)
				_ = r.Remove(s.ID)
				return
			}
		case <-s.done:
			return
		}
	}
}
