// Package mock provides a mock STT adapter for running without cloud credentials.
// It simulates a streaming backend: an asynchronous open handshake,
// progressive interim transcripts as audio arrives and exactly one final
// transcript per simulated utterance.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voicebridge/call-gateway/internal/service/stt"
	"github.com/voicebridge/call-gateway/internal/service/transcript"
)

// ProviderName identifies the mock backend in logs and metrics.
const ProviderName = "mock"

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to check"},
		Final:      "I want to check my balance",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you call", "Can you call me"},
		Final:      "Can you call me back tomorrow",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Options tunes the simulation.
type Options struct {
	// OpenDelay is the simulated handshake latency.
	OpenDelay time.Duration
	// FramesPerStep is how many audio frames advance the script by one
	// transcript. Default: 1.
	FramesPerStep int
	// Utterance overrides the cycled default utterance.
	Utterance *SimulatedUtterance
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	opts      Options
	utterance SimulatedUtterance

	mu           sync.Mutex
	cb           stt.Callback
	ready        bool
	closed       bool
	frames       int
	partialIndex int
	finalSent    bool

	out  chan []byte
	done chan struct{}
	once sync.Once
}

// utteranceCounter tracks which utterance to use next (cycles through defaults)
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a new mock STT adapter.
func New(opts Options) *Adapter {
	if opts.FramesPerStep <= 0 {
		opts.FramesPerStep = 1
	}

	var utt SimulatedUtterance
	if opts.Utterance != nil {
		utt = *opts.Utterance
	} else {
		counterMu.Lock()
		utt = DefaultUtterances[utteranceCounter%len(DefaultUtterances)]
		utteranceCounter++
		counterMu.Unlock()
	}

	return &Adapter{
		opts:      opts,
		utterance: utt,
		out:       make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// NewFactory returns a stt.Factory producing mock adapters.
func NewFactory(opts Options) stt.Factory {
	return func() (stt.Adapter, error) {
		return New(opts), nil
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return ProviderName }

// Open simulates the connection handshake and starts delivering messages.
func (a *Adapter) Open(ctx context.Context, cb stt.Callback) error {
	if cb == nil {
		return errors.New("mock: callback must not be nil")
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("mock: adapter is closed")
	}
	a.cb = cb
	a.mu.Unlock()

	go a.run(ctx)
	return nil
}

func (a *Adapter) run(ctx context.Context) {
	if a.opts.OpenDelay > 0 {
		select {
		case <-time.After(a.opts.OpenDelay):
		case <-a.done:
			return
		case <-ctx.Done():
			return
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.ready = true
	cb := a.cb
	a.mu.Unlock()
	cb.OnOpen()

	for {
		select {
		case payload := <-a.out:
			cb.OnMessage(payload)
		case <-a.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send advances the script: interim transcripts first, then one final.
func (a *Adapter) Send(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.ready {
		return stt.ErrNotReady
	}

	a.frames++
	if a.frames%a.opts.FramesPerStep != 0 {
		return nil
	}

	var payload []byte
	switch {
	case a.partialIndex < len(a.utterance.Partials):
		payload = transcript.Marshal(a.utterance.Partials[a.partialIndex], false, 0)
		a.partialIndex++
	case !a.finalSent:
		a.finalSent = true
		payload = transcript.Marshal(a.utterance.Final, true, a.utterance.Confidence)
	default:
		return nil
	}

	select {
	case a.out <- payload:
	default:
	}
	return nil
}

// IsReady reports whether the simulated handshake completed.
func (a *Adapter) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && !a.closed
}

// Close ends the mock session. It does not report OnClose.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.ready = false
	a.mu.Unlock()
	a.once.Do(func() { close(a.done) })
	return nil
}

// Disconnect simulates an unexpected backend disconnect.
func (a *Adapter) Disconnect(err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.ready = false
	cb := a.cb
	a.mu.Unlock()
	a.once.Do(func() { close(a.done) })

	if cb != nil {
		cb.OnClose(err)
	}
}

// FramesReceived returns the number of frames accepted.
func (a *Adapter) FramesReceived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}
