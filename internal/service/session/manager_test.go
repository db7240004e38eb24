package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicebridge/call-gateway/internal/service/registry"
	"github.com/voicebridge/call-gateway/internal/service/segment"
)

func newTestManager() (*Manager, *fakeFactory, *registry.Registry) {
	ff := &fakeFactory{}
	reg := registry.New()
	m := NewManager(Config{
		CallID:   "ignored",
		Provider: "fake",
		Factory:  ff.New,
		Registry: reg,
		Defaults: ListenOptions{MaxDuration: 5 * time.Second, MaxSilence: time.Second},
	})
	return m, ff, reg
}

func TestManager_AttachReturnsSameSession(t *testing.T) {
	m, _, _ := newTestManager()
	t.Cleanup(m.CloseAll)

	a := m.Attach("call-a")
	b := m.Attach("call-a")
	require.Same(t, a, b)
	require.Equal(t, "call-a", a.CallID())
	require.Equal(t, 1, m.Len())

	got, ok := m.Get("call-a")
	require.True(t, ok)
	require.Same(t, a, got)

	_, ok = m.Get("call-b")
	require.False(t, ok)
}

func TestManager_UnknownCall(t *testing.T) {
	m, _, _ := newTestManager()

	_, err := m.BeginListening(context.Background(), "nope", ListenOptions{})
	require.ErrorIs(t, err, ErrUnknownCall)
	require.ErrorIs(t, m.Detach("nope"), ErrUnknownCall)
}

func TestManager_BeginListeningAndDetach(t *testing.T) {
	m, ff, reg := newTestManager()
	s := m.Attach("call-a")

	id, err := m.BeginListening(context.Background(), "call-a", ListenOptions{})
	require.NoError(t, err)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, segment.StateListening, snap.State)
	require.Equal(t, id, snap.SessionID)

	backend := ff.last()
	backend.connect()
	backend.final("bye now")

	require.NoError(t, m.Detach("call-a"))
	require.Equal(t, 0, m.Len())

	rec, ok := reg.Get(id)
	require.True(t, ok)
	require.Equal(t, string(segment.ReasonHangup), rec.Reason)
	require.Equal(t, "call-a", rec.CallID)
}

func TestManager_CloseAll(t *testing.T) {
	m, _, _ := newTestManager()
	sessions := []*CallSession{m.Attach("c1"), m.Attach("c2"), m.Attach("c3")}
	require.Equal(t, []string{"c1", "c2", "c3"}, m.Calls())

	m.CloseAll()
	require.Equal(t, 0, m.Len())
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("session %s still running", s.CallID())
		}
	}
}
