package session

import (
	"sync"
	"time"
)

// Factory builds the session of a teacher.
type Factory func(teacherID string) *Session

// Manager keeps one session per teacher.
type Manager struct {
	newSession Factory
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	s        *Session
	lastUsed time.Time
}

// NewManager creates an empty manager.
func NewManager(f Factory) *Manager {
	return &Manager{newSession: f, now: time.Now, sessions: map[string]*entry{}}
}

// Get returns the session of teacherID, creating it on first use.
func (m *Manager) Get(teacherID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[teacherID]
	if !ok {
		e = &entry{s: m.newSession(teacherID)}
		m.sessions[teacherID] = e
	}
	e.lastUsed = m.now()
	return e.s
}

// Drop discards the session of teacherID.
func (m *Manager) Drop(teacherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[teacherID]; ok {
		e.s.Close()
		delete(m.sessions, teacherID)
	}
}

// Sweep drops sessions idle for longer than maxIdle and returns how many
// were dropped.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxIdle)
	n := 0
	for id, e := range m.sessions {
		if e.lastUsed.Before(cutoff) {
			e.s.Close()
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
