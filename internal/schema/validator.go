// Package schema validates outbound events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voicebridge/call-gateway/internal/models"
)

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("schema: invalid event")

// Validator checks required fields of the gateway's event types.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks event. Unknown event types are rejected.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptEvent:
		return validateTranscript(ev)
	case *models.TranscriptEvent:
		return validateTranscript(*ev)
	case models.UtteranceEvent:
		return validateUtterance(ev)
	case *models.UtteranceEvent:
		return validateUtterance(*ev)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func validateTranscript(ev models.TranscriptEvent) error {
	var missing []string
	if ev.CallID == "" {
		missing = append(missing, "callId")
	}
	if ev.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if err := missingErr(missing); err != nil {
		return err
	}

	switch ev.EventType {
	case models.EventTypeTranscriptInterim:
		if ev.IsFinal {
			return fmt.Errorf("%w: %s must not be final", ErrInvalidEvent, ev.EventType)
		}
	case models.EventTypeTranscriptFinal:
		if !ev.IsFinal {
			return fmt.Errorf("%w: %s must be final", ErrInvalidEvent, ev.EventType)
		}
	default:
		return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEvent, ev.Confidence)
	}
	return nil
}

func validateUtterance(ev models.UtteranceEvent) error {
	var missing []string
	if ev.CallID == "" {
		missing = append(missing, "callId")
	}
	if ev.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if ev.Reason == "" {
		missing = append(missing, "reason")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if err := missingErr(missing); err != nil {
		return err
	}

	if ev.EventType != models.EventTypeUtterance {
		return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.DurationMs < 0 {
		return fmt.Errorf("%w: negative durationMs", ErrInvalidEvent)
	}
	return nil
}

func missingErr(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(fields, ", "))
}
