// Package stt defines the interface for streaming Speech-to-Text backends.
package stt

import (
	"context"
	"errors"
)

// ErrNotReady is returned by Send while the backend connection is not open.
var ErrNotReady = errors.New("stt backend not ready")

// Callback receives connection events from the STT backend. Implementations
// must not block for long; adapters deliver events from their own goroutines.
type Callback interface {
	// OnOpen is called once the backend is ready to accept audio.
	OnOpen()

	// OnMessage is called with each raw transcript payload.
	OnMessage(payload []byte)

	// OnClose is called when the backend connection is lost and will not be
	// re-established. It is not called after a Close requested by the caller.
	OnClose(err error)
}

// Adapter defines the interface for STT providers (Deepgram, Google, etc.).
type Adapter interface {
	// Name returns the provider name used in logs and metrics.
	Name() string

	// Open starts connecting and returns without waiting for the handshake.
	// Readiness is reported through Callback.OnOpen.
	Open(ctx context.Context, cb Callback) error

	// Send queues an audio frame. It never blocks on the network and returns
	// ErrNotReady when the connection is not open.
	Send(frame []byte) error

	// IsReady reports whether the connection is open.
	IsReady() bool

	// Close ends the session and releases resources.
	Close() error
}

// Reconnector is implemented by adapters that re-establish a lost connection
// on their own. While Reconnecting is true, ErrNotReady from Send is expected
// to clear without the caller's help.
type Reconnector interface {
	Reconnecting() bool
}

// Factory creates a fresh adapter for one listen window.
type Factory func() (Adapter, error)

// StreamConfig holds the audio and recognition parameters sent to a backend.
type StreamConfig struct {
	Encoding       string
	SampleRateHz   int
	Channels       int
	LanguageCode   string
	Model          string
	Punctuate      bool
	InterimResults bool
}

// DefaultStreamConfig returns the parameters of the telephony media stream:
// 16 kHz mono linear PCM.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Encoding:       "linear16",
		SampleRateHz:   16000,
		Channels:       1,
		LanguageCode:   "en-US",
		Model:          "nova-2",
		Punctuate:      true,
		InterimResults: true,
	}
}
