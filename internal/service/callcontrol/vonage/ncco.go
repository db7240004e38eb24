package vonage

import (
	"fmt"
	"net/url"
)

// ContentTypeL16 is the media format requested from Vonage: 16-bit linear PCM
// at 16 kHz.
const ContentTypeL16 = "audio/l16;rate=16000"

// Action is one NCCO action. Only the fields used by the gateway are modeled.
type Action struct {
	Action   string     `json:"action"`
	Text     string     `json:"text,omitempty"`
	From     string     `json:"from,omitempty"`
	Endpoint []Endpoint `json:"endpoint,omitempty"`
}

// Endpoint is a connect target.
type Endpoint struct {
	Type        string            `json:"type"`
	URI         string            `json:"uri"`
	ContentType string            `json:"content-type"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// AnswerConfig controls the answer NCCO.
type AnswerConfig struct {
	// PublicHost is the externally reachable host of the gateway, used to
	// build the wss:// media URL.
	PublicHost string
	Greeting   string
	From       string
}

// AnswerNCCO returns the NCCO that greets the caller and connects the call's
// audio to the media websocket.
func AnswerNCCO(cfg AnswerConfig, callId string) []Action {
	u := url.URL{Scheme: "wss", Host: cfg.PublicHost, Path: "/socket"}
	if callId != "" {
		u.RawQuery = url.Values{"call_id": {callId}}.Encode()
	}

	var ncco []Action
	if cfg.Greeting != "" {
		ncco = append(ncco, Action{Action: "talk", Text: cfg.Greeting})
	}
	ncco = append(ncco, Action{
		Action: "connect",
		From:   cfg.From,
		Endpoint: []Endpoint{{
			Type:        "websocket",
			URI:         u.String(),
			ContentType: ContentTypeL16,
			Headers:     map[string]string{"call_id": callId},
		}},
	})
	return ncco
}

// CallEvent is the subset of the Vonage event webhook used by the gateway.
type CallEvent struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	From             string `json:"from"`
	To               string `json:"to"`
	Timestamp        string `json:"timestamp"`
}

// Terminal call statuses after which the call's media session can be released.
var terminalStatuses = map[string]bool{
	"completed":  true,
	"busy":       true,
	"cancelled":  true,
	"failed":     true,
	"rejected":   true,
	"timeout":    true,
	"unanswered": true,
}

// IsTerminal reports whether the event ends the call.
func (e CallEvent) IsTerminal() bool {
	return terminalStatuses[e.Status]
}

func (e CallEvent) String() string {
	return fmt.Sprintf("call %s status=%s", e.UUID, e.Status)
}
