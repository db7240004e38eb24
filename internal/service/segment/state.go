// Package segment provides listen-window ID generation and the lifecycle
// state machine of a call session's listen windows.
package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of a call session.
type State int

const (
	// StateIdle - No listen window is active.
	StateIdle State = iota
	// StateListening - A listen window is collecting audio and transcripts.
	StateListening
	// StateFinalizing - The window has ended; late transcripts are still
	// accepted until the utterance is recorded.
	StateFinalizing
	// StateClosed - The call has ended. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsActive returns true while a listen window exists (LISTENING or FINALIZING).
func (s State) IsActive() bool {
	return s == StateListening || s == StateFinalizing
}

// FinalizeReason records why a listen window ended.
type FinalizeReason string

const (
	ReasonTimeout       FinalizeReason = "timeout"
	ReasonSilence       FinalizeReason = "silence"
	ReasonBackendClosed FinalizeReason = "backend_closed"
	ReasonOverlap       FinalizeReason = "overlap"
	ReasonHangup        FinalizeReason = "hangup"
	ReasonManual        FinalizeReason = "manual"
)

// Errors for invalid state transitions.
var (
	ErrClosed       = errors.New("session is closed")
	ErrWindowActive = errors.New("listen window already active")
	ErrNotListening = errors.New("no listen window is listening")
	ErrNotActive    = errors.New("no listen window is active")
)

// Window manages the listen-window state machine for one call session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE ──Begin()──→ LISTENING ──StartFinalizing()──→ FINALIZING ──Complete()──→ IDLE
//	  │                   │                                 │
//	  └───────────────────┴────────────Close()──────────────┴──→ CLOSED
//
// Rules:
//   - IDLE: Begin opens a new window with a fresh ID
//   - LISTENING: audio and transcripts accepted; StartFinalizing ends the window once
//   - FINALIZING: transcripts still accepted, audio is not; Complete returns to IDLE
//   - CLOSED: all transitions return ErrClosed
type Window struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	reason    FinalizeReason
	startedAt time.Time
}

// NewWindow creates a lifecycle in IDLE state.
func NewWindow() *Window {
	return &Window{state: StateIdle}
}

// SessionId returns the ID of the current (or most recent) listen window.
func (w *Window) SessionId() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sessionId
}

// State returns the current state.
func (w *Window) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Reason returns why the current window is finalizing, empty otherwise.
func (w *Window) Reason() FinalizeReason {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reason
}

// StartedAt returns when the current window began listening.
func (w *Window) StartedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startedAt
}

// AcceptsAudio returns true if audio frames should be processed.
func (w *Window) AcceptsAudio() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateListening
}

// AcceptsTranscripts returns true if backend transcripts should be collected.
func (w *Window) AcceptsTranscripts() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.IsActive()
}

// Begin transitions IDLE → LISTENING with a new window ID.
func (w *Window) Begin(sessionId string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateIdle:
		w.sessionId = sessionId
		w.state = StateListening
		w.reason = ""
		w.startedAt = at
		return nil
	case StateListening, StateFinalizing:
		return ErrWindowActive
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("unexpected state: %v", w.state)
	}
}

// StartFinalizing transitions LISTENING → FINALIZING. Only the first reason
// is kept.
func (w *Window) StartFinalizing(reason FinalizeReason) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateListening:
		w.state = StateFinalizing
		w.reason = reason
		return nil
	case StateIdle, StateFinalizing:
		return ErrNotListening
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("unexpected state: %v", w.state)
	}
}

// Complete transitions FINALIZING → IDLE and returns the finished window's ID
// and reason.
func (w *Window) Complete() (string, FinalizeReason, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateFinalizing:
		w.state = StateIdle
		reason := w.reason
		w.reason = ""
		return w.sessionId, reason, nil
	case StateIdle, StateListening:
		return "", "", ErrNotActive
	case StateClosed:
		return "", "", ErrClosed
	default:
		return "", "", fmt.Errorf("unexpected state: %v", w.state)
	}
}

// Close transitions to CLOSED from any state. Idempotent.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateClosed
}

// IsClosed returns true once the session has been closed.
func (w *Window) IsClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateClosed
}
