package segment

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestWindow_InitialState(t *testing.T) {
	w := NewWindow()

	if w.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", w.State())
	}
	if w.AcceptsAudio() {
		t.Error("expected AcceptsAudio to be false when idle")
	}
	if w.AcceptsTranscripts() {
		t.Error("expected AcceptsTranscripts to be false when idle")
	}
	if w.IsClosed() {
		t.Error("expected IsClosed to be false")
	}
}

func TestWindow_Begin(t *testing.T) {
	w := NewWindow()

	if err := w.Begin("utt-1", t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.State() != StateListening {
		t.Errorf("expected StateListening, got %v", w.State())
	}
	if w.SessionId() != "utt-1" {
		t.Errorf("expected utt-1, got %s", w.SessionId())
	}
	if !w.StartedAt().Equal(t0) {
		t.Errorf("expected start %v, got %v", t0, w.StartedAt())
	}
	if !w.AcceptsAudio() || !w.AcceptsTranscripts() {
		t.Error("expected listening window to accept audio and transcripts")
	}
}

func TestWindow_BeginWhileActive(t *testing.T) {
	w := NewWindow()
	w.Begin("utt-1", t0)

	if err := w.Begin("utt-2", t0); err != ErrWindowActive {
		t.Errorf("expected ErrWindowActive while listening, got %v", err)
	}

	w.StartFinalizing(ReasonSilence)
	if err := w.Begin("utt-2", t0); err != ErrWindowActive {
		t.Errorf("expected ErrWindowActive while finalizing, got %v", err)
	}
	if w.SessionId() != "utt-1" {
		t.Errorf("session ID must not change, got %s", w.SessionId())
	}
}

func TestWindow_StartFinalizing(t *testing.T) {
	w := NewWindow()
	w.Begin("utt-1", t0)

	if err := w.StartFinalizing(ReasonTimeout); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.State() != StateFinalizing {
		t.Errorf("expected StateFinalizing, got %v", w.State())
	}
	if w.AcceptsAudio() {
		t.Error("finalizing window must not accept audio")
	}
	if !w.AcceptsTranscripts() {
		t.Error("finalizing window must still accept transcripts")
	}

	// Second call keeps the first reason.
	if err := w.StartFinalizing(ReasonSilence); err != ErrNotListening {
		t.Errorf("expected ErrNotListening, got %v", err)
	}
	if w.Reason() != ReasonTimeout {
		t.Errorf("expected reason timeout, got %s", w.Reason())
	}
}

func TestWindow_StartFinalizingWhenIdle(t *testing.T) {
	w := NewWindow()

	if err := w.StartFinalizing(ReasonSilence); err != ErrNotListening {
		t.Errorf("expected ErrNotListening, got %v", err)
	}
}

func TestWindow_Complete(t *testing.T) {
	w := NewWindow()
	w.Begin("utt-1", t0)
	w.StartFinalizing(ReasonBackendClosed)

	id, reason, err := w.Complete()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "utt-1" || reason != ReasonBackendClosed {
		t.Errorf("expected (utt-1, backend_closed), got (%s, %s)", id, reason)
	}
	if w.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", w.State())
	}

	// Completing again is rejected, so a window can never be recorded twice.
	if _, _, err := w.Complete(); err != ErrNotActive {
		t.Errorf("expected ErrNotActive on second complete, got %v", err)
	}
}

func TestWindow_CompleteWhileListening(t *testing.T) {
	w := NewWindow()
	w.Begin("utt-1", t0)

	if _, _, err := w.Complete(); err != ErrNotActive {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestWindow_FullCycle(t *testing.T) {
	w := NewWindow()

	for i, id := range []string{"utt-1", "utt-2", "utt-3"} {
		if err := w.Begin(id, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		if err := w.StartFinalizing(ReasonSilence); err != nil {
			t.Fatalf("finalize %s: %v", id, err)
		}
		got, _, err := w.Complete()
		if err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
		if got != id {
			t.Errorf("expected %s, got %s", id, got)
		}
	}
}

func TestWindow_Close(t *testing.T) {
	w := NewWindow()
	w.Begin("utt-1", t0)
	w.Close()
	w.Close()

	if !w.IsClosed() {
		t.Error("expected IsClosed to be true")
	}
	if err := w.Begin("utt-2", t0); err != ErrClosed {
		t.Errorf("Begin: expected ErrClosed, got %v", err)
	}
	if err := w.StartFinalizing(ReasonHangup); err != ErrClosed {
		t.Errorf("StartFinalizing: expected ErrClosed, got %v", err)
	}
	if _, _, err := w.Complete(); err != ErrClosed {
		t.Errorf("Complete: expected ErrClosed, got %v", err)
	}
	if w.AcceptsAudio() || w.AcceptsTranscripts() {
		t.Error("closed session must not accept input")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateListening, "LISTENING"},
		{StateFinalizing, "FINALIZING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsActive(t *testing.T) {
	tests := []struct {
		state  State
		active bool
	}{
		{StateIdle, false},
		{StateListening, true},
		{StateFinalizing, true},
		{StateClosed, false},
	}

	for _, tt := range tests {
		if got := tt.state.IsActive(); got != tt.active {
			t.Errorf("State(%s).IsActive() = %v, want %v", tt.state, got, tt.active)
		}
	}
}
