package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a backend message is not valid JSON.
var ErrMalformedPayload = errors.New("malformed transcript payload")

// TypeResults is the message type carrying transcripts. Messages without a
// type are treated as results.
const TypeResults = "Results"

// Payload is the streaming transcript message shape shared by every backend:
//
//	{"type":"Results","channel":{"alternatives":[{"transcript":"..."}]},"is_final":true}
type Payload struct {
	Type        string   `json:"type,omitempty"`
	Channel     *Channel `json:"channel,omitempty"`
	IsFinal     bool     `json:"is_final"`
	SpeechFinal bool     `json:"speech_final,omitempty"`
}

// Channel holds the recognition alternatives, best first.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is the outcome of parsing one backend message.
type Result struct {
	Type       string
	Text       string
	Confidence float64
	IsFinal    bool
	// HasContent is false for messages that carry no transcript text
	// (metadata, keep-alive acks, empty alternatives).
	HasContent bool
}

// ParseResult decodes a backend message. Missing channel, empty alternatives
// and empty transcripts are valid messages without content.
func ParseResult(data []byte) (Result, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	res := Result{Type: p.Type, IsFinal: p.IsFinal}
	if p.Type != "" && p.Type != TypeResults {
		return res, nil
	}
	if p.Channel == nil || len(p.Channel.Alternatives) == 0 {
		return res, nil
	}

	alt := p.Channel.Alternatives[0]
	res.Text = alt.Transcript
	res.Confidence = alt.Confidence
	res.HasContent = alt.Transcript != ""
	return res, nil
}

// Marshal encodes a transcript in the shared payload shape.
func Marshal(text string, isFinal bool, confidence float64) []byte {
	b, _ := json.Marshal(Payload{
		Type:    TypeResults,
		Channel: &Channel{Alternatives: []Alternative{{Transcript: text, Confidence: confidence}}},
		IsFinal: isFinal,
	})
	return b
}
