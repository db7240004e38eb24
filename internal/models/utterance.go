// Package models defines the data structures for utterances and transcript events.
package models

import "time"

// UtteranceRecord is one completed utterance. Immutable once recorded.
type UtteranceRecord struct {
	ID          string    `json:"id"`
	CallID      string    `json:"callId"`
	Transcript  string    `json:"transcript"`
	Reason      string    `json:"reason"`
	StartedAt   time.Time `json:"startedAt"`
	FinalizedAt time.Time `json:"finalizedAt"`
}

// Event types published on the event topics.
const (
	EventTypeTranscriptInterim = "call.transcript.interim"
	EventTypeTranscriptFinal   = "call.transcript.final"
	EventTypeUtterance         = "call.utterance.finalized"
)

// TranscriptEvent represents a transcript fragment received from the backend.
type TranscriptEvent struct {
	EventType  string  `json:"eventType"`
	CallID     string  `json:"callId"`
	SessionID  string  `json:"sessionId"`
	Provider   string  `json:"provider"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"isFinal"`
	Timestamp  int64   `json:"timestamp"`
}

// UtteranceEvent is published when a listen window is recorded.
type UtteranceEvent struct {
	EventType  string `json:"eventType"`
	CallID     string `json:"callId"`
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  int64  `json:"timestamp"`
}

// NewUtteranceEvent builds the event for rec.
func NewUtteranceEvent(rec UtteranceRecord) UtteranceEvent {
	return UtteranceEvent{
		EventType:  EventTypeUtterance,
		CallID:     rec.CallID,
		SessionID:  rec.ID,
		Transcript: rec.Transcript,
		Reason:     rec.Reason,
		DurationMs: rec.FinalizedAt.Sub(rec.StartedAt).Milliseconds(),
		Timestamp:  rec.FinalizedAt.UnixMilli(),
	}
}
