package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/observability/metrics"
)

type managed struct {
	session    *CallSession
	attachedAt time.Time
}

// Manager keeps exactly one CallSession per call id.
type Manager struct {
	mu       sync.RWMutex
	base     Config
	sessions map[string]*managed
	logger   zerolog.Logger
	m        *metrics.Metrics
}

// NewManager creates a manager. base is the template for every session; its
// CallID is ignored.
func NewManager(base Config) *Manager {
	return &Manager{
		base:     base,
		sessions: make(map[string]*managed),
		logger:   logging.WithComponent("session.manager"),
		m:        metrics.DefaultMetrics,
	}
}

// Attach returns the session for callId, creating it if needed.
func (m *Manager) Attach(callId string) *CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[callId]; ok {
		return e.session
	}

	cfg := m.base
	cfg.CallID = callId
	s := New(cfg)
	m.sessions[callId] = &managed{session: s, attachedAt: time.Now()}
	m.m.RecordCallStart()

	m.logger.Info().Str("callId", callId).Int("activeCalls", len(m.sessions)).Msg("Call attached")
	return s
}

// Get returns the live session for callId.
func (m *Manager) Get(callId string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[callId]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Detach closes the call's session and forgets it.
func (m *Manager) Detach(callId string) error {
	m.mu.Lock()
	e, ok := m.sessions[callId]
	if ok {
		delete(m.sessions, callId)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callId)
	}

	err := e.session.Close()
	m.m.RecordCallEnd(time.Since(e.attachedAt).Seconds())
	m.logger.Info().Str("callId", callId).Msg("Call detached")
	return err
}

// BeginListening opens a listen window on an attached call.
func (m *Manager) BeginListening(ctx context.Context, callId string, opts ListenOptions) (string, error) {
	s, ok := m.Get(callId)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, callId)
	}
	return s.BeginListening(ctx, opts)
}

// Calls returns the attached call ids in sorted order.
func (m *Manager) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of attached calls.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll detaches every call. Used on shutdown.
func (m *Manager) CloseAll() {
	for _, id := range m.Calls() {
		if err := m.Detach(id); err != nil {
			m.logger.Warn().Err(err).Str("callId", id).Msg("Error closing session")
		}
	}
}
