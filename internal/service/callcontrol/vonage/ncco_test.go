package vonage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnswerNCCO(t *testing.T) {
	ncco := AnswerNCCO(AnswerConfig{PublicHost: "gw.example.com", Greeting: "Please speak after the tone"}, "call-1")

	require.Len(t, ncco, 2)
	require.Equal(t, "talk", ncco[0].Action)
	require.Equal(t, "Please speak after the tone", ncco[0].Text)

	connect := ncco[1]
	require.Equal(t, "connect", connect.Action)
	require.Len(t, connect.Endpoint, 1)
	ep := connect.Endpoint[0]
	require.Equal(t, "websocket", ep.Type)
	require.Equal(t, "wss://gw.example.com/socket?call_id=call-1", ep.URI)
	require.Equal(t, "audio/l16;rate=16000", ep.ContentType)
}

func TestAnswerNCCO_NoGreeting(t *testing.T) {
	ncco := AnswerNCCO(AnswerConfig{PublicHost: "gw.example.com"}, "")
	require.Len(t, ncco, 1)
	require.Equal(t, "wss://gw.example.com/socket", ncco[0].Endpoint[0].URI)
}

func TestAnswerNCCO_JSONShape(t *testing.T) {
	b, err := json.Marshal(AnswerNCCO(AnswerConfig{PublicHost: "h", Greeting: "hi"}, "c"))
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "talk", raw[0]["action"])
	ep := raw[1]["endpoint"].([]any)[0].(map[string]any)
	require.Equal(t, "audio/l16;rate=16000", ep["content-type"])
}

func TestCallEvent_IsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"started", false},
		{"ringing", false},
		{"answered", false},
		{"completed", true},
		{"failed", true},
		{"unanswered", true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			require.Equal(t, tt.want, CallEvent{Status: tt.status}.IsTerminal())
		})
	}
}
