package chat

import (
	"context"
	"fmt"
	"sync"
)

// Manager keeps the live sessions of the process
type Manager struct {
	deps     Deps
	root     context.Context
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Streams of every session stop when root is cancelled.
func NewManager(root context.Context, deps Deps) *Manager {
	return &Manager{
		deps:     deps.withDefaults(),
		root:     root,
		sessions: make(map[string]*Session),
	}
}

// Create starts an empty session
func (m *Manager) Create(lang string) *Session {
	s := NewSession(m.root, m.deps, lang)
	m.add(s)
	return s
}

// Load starts a session from a persisted history. storage.ErrNotFound is passed through.
func (m *Manager) Load(ctx context.Context, historyID, lang string) (*Session, error) {
	if m.deps.History == nil {
		return nil, fmt.Errorf("history storage is not configured")
	}
	h, err := m.deps.History.GetHistory(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history %s: %w", historyID, err)
	}

	s := NewSession(m.root, m.deps, lang)
	s.restore(h)
	m.add(s)
	m.deps.Logger.WithField("history", historyID).WithField("messages", len(h.Messages)).Info("Chat history loaded")
	return s, nil
}

// Get returns a live session
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove cancels a session's stream and forgets it
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		s.CancelActiveStream()
		m.deps.Recorder.SetActiveSessions(float64(count))
	}
	return ok
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown cancels every stream and waits for sessions to settle
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.CancelActiveStream()
	}
	for _, s := range sessions {
		s.Wait()
	}
	m.deps.Logger.WithField("sessions", len(sessions)).Info("Chat sessions stopped")
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	m.deps.Recorder.SetActiveSessions(float64(count))
}
