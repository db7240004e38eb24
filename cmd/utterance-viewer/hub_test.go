package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  viewerEvent
	}{
		{
			name:  "interim",
			input: `{"eventType":"call.transcript.interim","callId":"c1","sessionId":"s1","text":"hel","isFinal":false,"timestamp":1}`,
			want:  viewerEvent{Kind: "interim", CallID: "c1", SessionID: "s1", Text: "hel", Timestamp: 1},
		},
		{
			name:  "final",
			input: `{"eventType":"call.transcript.final","callId":"c1","sessionId":"s1","text":"hello","isFinal":true,"timestamp":2}`,
			want:  viewerEvent{Kind: "final", CallID: "c1", SessionID: "s1", Text: "hello", IsFinal: true, Timestamp: 2},
		},
		{
			name:  "utterance",
			input: `{"eventType":"call.utterance.finalized","callId":"c1","sessionId":"s1","transcript":"hello world","reason":"silence","durationMs":900,"timestamp":3}`,
			want:  viewerEvent{Kind: "utterance", CallID: "c1", SessionID: "s1", Text: "hello world", IsFinal: true, Reason: "silence", Timestamp: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := decodeEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = decodeEvent([]byte(`{"eventType":"something.else"}`))
	assert.Error(t, err)
}

func TestHub_Broadcast(t *testing.T) {
	hub := newHub()
	go hub.run()
	defer hub.stop()

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.broadcast <- viewerEvent{Kind: "utterance", CallID: "c1", Text: "hello world"}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got viewerEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, "c1", got.CallID)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.clientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "hello...", truncate("hello world", 5))
}
