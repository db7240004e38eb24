// Package session implements the per-call session state machine. Each call
// has one CallSession whose single goroutine serializes audio frames, backend
// events, timers and control requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/models"
	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/observability/metrics"
	"github.com/voicebridge/call-gateway/internal/service/audio"
	"github.com/voicebridge/call-gateway/internal/service/callcontrol"
	"github.com/voicebridge/call-gateway/internal/service/registry"
	"github.com/voicebridge/call-gateway/internal/service/segment"
	"github.com/voicebridge/call-gateway/internal/service/stt"
	"github.com/voicebridge/call-gateway/internal/service/transcript"
)

var (
	// ErrSessionClosed is returned by control operations after the call ended.
	ErrSessionClosed = errors.New("session: closed")
	// ErrUnknownCall is returned by the Manager for calls without a session.
	ErrUnknownCall = errors.New("session: unknown call")
)

const (
	defaultQueueSize         = 512
	defaultMaxNotReadyFrames = 50
	defaultMaxDuration       = 30 * time.Second
	defaultPublishTimeout    = 250 * time.Millisecond
	playbackTimeout          = 10 * time.Second
)

// Frame drop reasons.
const (
	dropNotListening = "not_listening"
	dropNotConnected = "backend_not_connected"
	dropNotReady     = "backend_not_ready"
	dropMalformed    = "malformed"
	dropQueueFull    = "queue_full"
	dropClosed       = "session_closed"
)

// Publisher receives transcript and utterance events.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error
	PublishUtterance(ctx context.Context, ev models.UtteranceEvent) error
}

// ListenOptions bounds one listen window. Zero values fall back to the
// session defaults.
type ListenOptions struct {
	MaxDuration time.Duration
	MaxSilence  time.Duration
}

// Config holds the collaborators and tunables of a CallSession.
type Config struct {
	CallID   string
	Provider string
	Factory  stt.Factory
	Registry *registry.Registry

	// Publisher and Controller are optional.
	Publisher  Publisher
	Controller callcontrol.Controller

	Defaults          ListenOptions
	SilenceThreshold  float64
	FinalizeGrace     time.Duration
	MaxNotReadyFrames int
	// AutoListen opens the next window after a window ends by timeout,
	// silence or manual finalization.
	AutoListen bool

	// PublishTimeout bounds each publish made from the session loop.
	PublishTimeout time.Duration

	QueueSize int
	Now       func() time.Time
	// OnFinalized is called from the session goroutine after every completed
	// window, recorded or not.
	OnFinalized func(models.UtteranceRecord)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	CallID           string
	SessionID        string
	State            segment.State
	Reason           segment.FinalizeReason
	BackendConnected bool
	Options          ListenOptions
	Finals           []string
	Interim          string
}

type eventKind int

const (
	evFrame eventKind = iota
	evBackendOpen
	evBackendMessage
	evBackendClose
	evListenTimeout
	evGraceElapsed
	evControl
)

type event struct {
	kind  eventKind
	gen   uint64
	data  []byte
	err   error
	at    time.Time
	ctrl  func()
	reply chan struct{}
}

// CallSession owns one call's listen windows. All state below is touched only
// by the run goroutine.
type CallSession struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
	m      *metrics.Metrics

	events chan event
	done   chan struct{}

	window   *segment.Window
	ids      *segment.Generator
	gen      uint64
	opts     ListenOptions
	detector *audio.SilenceDetector
	acc      *transcript.Accumulator

	backend          stt.Adapter
	backendConnected bool
	notReadyDrops    int

	listenTimer *time.Timer
	graceTimer  *time.Timer
	closing     bool
	// noRestart suppresses auto listen while begin replaces a window.
	noRestart bool
}

// New creates a session and starts its event loop.
func New(cfg Config) *CallSession {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxNotReadyFrames <= 0 {
		cfg.MaxNotReadyFrames = defaultMaxNotReadyFrames
	}
	if cfg.Defaults.MaxDuration <= 0 {
		cfg.Defaults.MaxDuration = defaultMaxDuration
	}
	if cfg.Defaults.MaxSilence <= 0 {
		cfg.Defaults.MaxSilence = audio.DefaultSilenceDuration
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = audio.DefaultSilenceThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &CallSession{
		cfg:    cfg,
		now:    now,
		logger: logging.WithCall(cfg.CallID),
		m:      metrics.DefaultMetrics,
		events: make(chan event, cfg.QueueSize),
		done:   make(chan struct{}),
		window: segment.NewWindow(),
		ids:    segment.New(),
	}
	go s.run()
	return s
}

// CallID returns the call this session belongs to.
func (s *CallSession) CallID() string { return s.cfg.CallID }

// Done is closed when the session loop has exited.
func (s *CallSession) Done() <-chan struct{} { return s.done }

// PushFrame hands one raw audio frame to the session. It never blocks: the
// frame is dropped if the queue is full or the session is closed.
func (s *CallSession) PushFrame(frame []byte) {
	ev := event{kind: evFrame, data: frame, at: s.now()}
	select {
	case <-s.done:
		s.m.RecordFrameDropped(dropClosed)
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.m.RecordFrameDropped(dropQueueFull)
	}
}

// BeginListening opens a new listen window and returns its session id. An
// active window is completed first with reason overlap.
func (s *CallSession) BeginListening(ctx context.Context, opts ListenOptions) (string, error) {
	var (
		id  string
		err error
	)
	if cerr := s.do(ctx, func() { id, err = s.begin(opts) }); cerr != nil {
		return "", cerr
	}
	return id, err
}

// Finalize completes the active window immediately. It is a no-op when no
// window is active.
func (s *CallSession) Finalize(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.window.State() == segment.StateListening {
			s.startFinalizing(segment.ReasonManual, true)
			return
		}
		if s.window.State() == segment.StateFinalizing {
			s.complete()
		}
	})
}

// Snapshot returns the session state after all previously queued events have
// been handled.
func (s *CallSession) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap = Snapshot{
			CallID:           s.cfg.CallID,
			SessionID:        s.window.SessionId(),
			State:            s.window.State(),
			Reason:           s.window.Reason(),
			BackendConnected: s.backendConnected,
			Options:          s.opts,
		}
		if s.acc != nil {
			snap.Finals = s.acc.Finals()
			snap.Interim = s.acc.Interim()
		}
	})
	return snap, err
}

// Close ends the call. An active window completes with reason hangup and the
// loop exits. Closing twice is a no-op.
func (s *CallSession) Close() error {
	err := s.do(context.Background(), func() {
		s.closing = true
		if s.window.State().IsActive() {
			s.startFinalizing(segment.ReasonHangup, true)
		}
		s.window.Close()
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// do runs fn on the session goroutine and waits for it.
func (s *CallSession) do(ctx context.Context, fn func()) error {
	ev := event{kind: evControl, ctrl: fn, reply: make(chan struct{})}
	select {
	case s.events <- ev:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ev.reply:
		return nil
	case <-s.done:
		select {
		case <-ev.reply:
			return nil
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue delivers a backend or timer event. It blocks until the loop accepts
// the event or the session is closed.
func (s *CallSession) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *CallSession) run() {
	defer close(s.done)
	for ev := range s.events {
		s.handle(ev)
		if s.closing {
			s.stopTimers()
			return
		}
	}
}

// handle processes one event. Panics are logged and the session continues.
func (s *CallSession) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Int("event", int(ev.kind)).
				Msg("Recovered from panic in session loop")
		}
		if ev.reply != nil {
			close(ev.reply)
		}
	}()

	switch ev.kind {
	case evFrame:
		s.handleFrame(ev.data, ev.at)
	case evControl:
		ev.ctrl()
	default:
		if ev.gen != s.gen {
			return
		}
		switch ev.kind {
		case evBackendOpen:
			s.handleBackendOpen()
		case evBackendMessage:
			s.handleBackendMessage(ev.data)
		case evBackendClose:
			s.handleBackendClose(ev.err)
		case evListenTimeout:
			s.startFinalizing(segment.ReasonTimeout, false)
		case evGraceElapsed:
			if s.window.State() == segment.StateFinalizing {
				s.complete()
			}
		}
	}
}

func (s *CallSession) begin(opts ListenOptions) (string, error) {
	if s.window.IsClosed() {
		return "", ErrSessionClosed
	}
	if s.window.State().IsActive() {
		s.logger.Info().Msg("New listen request while window active, finalizing prior window")
		// The caller's window replaces the prior one, so it must not
		// auto-restart even if it was already finalizing by silence or
		// timeout.
		s.noRestart = true
		if s.window.State() == segment.StateListening {
			s.startFinalizing(segment.ReasonOverlap, true)
		} else {
			s.complete()
		}
		s.noRestart = false
	}

	if opts.MaxDuration <= 0 {
		opts.MaxDuration = s.cfg.Defaults.MaxDuration
	}
	if opts.MaxSilence <= 0 {
		opts.MaxSilence = s.cfg.Defaults.MaxSilence
	}

	backend, err := s.cfg.Factory()
	if err != nil {
		s.m.RecordSTTError(s.cfg.Provider, "create")
		return "", fmt.Errorf("session: create backend: %w", err)
	}

	sessionId := s.ids.Next(s.cfg.CallID)
	startedAt := s.now()
	if err := s.window.Begin(sessionId, startedAt); err != nil {
		_ = backend.Close()
		return "", err
	}

	s.gen++
	s.opts = opts
	s.detector = audio.NewSilenceDetector(s.cfg.SilenceThreshold, opts.MaxSilence)
	s.acc = transcript.NewAccumulator()
	s.backend = backend
	s.backendConnected = false
	s.notReadyDrops = 0
	s.logger = logging.WithBackend(s.cfg.CallID, sessionId, backend.Name())
	s.m.RecordWindowStart()

	if err := backend.Open(context.Background(), &backendCallback{s: s, gen: s.gen}); err != nil {
		s.m.RecordSTTError(backend.Name(), "open")
		s.logger.Warn().Err(err).Msg("Failed to open transcription backend")
		s.window.StartFinalizing(segment.ReasonBackendClosed)
		s.complete()
		return "", fmt.Errorf("session: open backend: %w", err)
	}

	gen := s.gen
	s.listenTimer = time.AfterFunc(opts.MaxDuration, func() {
		s.enqueue(event{kind: evListenTimeout, gen: gen})
	})

	s.logger.Info().
		Dur("maxDuration", opts.MaxDuration).
		Dur("maxSilence", opts.MaxSilence).
		Msg("Listen window started")
	return sessionId, nil
}

func (s *CallSession) handleFrame(frame []byte, at time.Time) {
	s.m.RecordAudioReceived(len(frame))

	if !s.window.AcceptsAudio() {
		s.m.RecordFrameDropped(dropNotListening)
		return
	}
	if !s.backendConnected {
		s.m.RecordFrameDropped(dropNotConnected)
		s.logger.Debug().Int("bytes", len(frame)).Msg("Backend not connected, dropping frame")
		return
	}
	if at.Sub(s.window.StartedAt()) > s.opts.MaxDuration {
		s.startFinalizing(segment.ReasonTimeout, false)
		return
	}

	samples, err := audio.DecodeLinear16(frame)
	if err != nil {
		s.m.RecordFrameDropped(dropMalformed)
		s.logger.Warn().Err(err).Msg("Dropping malformed audio frame")
		return
	}
	silenceExceeded := s.detector.Observe(audio.RMS(samples), at)

	if err := s.backend.Send(frame); err != nil {
		s.m.RecordFrameDropped(dropNotReady)
		switch {
		case !errors.Is(err, stt.ErrNotReady):
			s.logger.Debug().Err(err).Msg("Backend send failed")
		case s.backendReconnecting():
			s.logger.Debug().Msg("Backend reconnecting, dropping frame")
		default:
			s.notReadyDrops++
			if s.notReadyDrops >= s.cfg.MaxNotReadyFrames {
				s.logger.Warn().
					Int("drops", s.notReadyDrops).
					Msg("Backend persistently not ready")
				s.startFinalizing(segment.ReasonBackendClosed, true)
				return
			}
		}
	} else {
		s.notReadyDrops = 0
	}

	if silenceExceeded {
		s.startFinalizing(segment.ReasonSilence, false)
	}
}

// backendReconnecting reports whether the adapter is recovering a lost
// connection under its own reconnect policy.
func (s *CallSession) backendReconnecting() bool {
	r, ok := s.backend.(stt.Reconnector)
	return ok && r.Reconnecting()
}

func (s *CallSession) handleBackendOpen() {
	if !s.window.State().IsActive() {
		return
	}
	s.backendConnected = true
	s.m.RecordSTTConnected(s.backend.Name(), s.now().Sub(s.window.StartedAt()).Seconds())
	s.logger.Info().Msg("Transcription backend connected")
}

func (s *CallSession) handleBackendMessage(payload []byte) {
	if !s.window.AcceptsTranscripts() {
		return
	}

	res, err := transcript.ParseResult(payload)
	if err != nil {
		s.m.RecordMalformedPayload()
		s.logger.Warn().Err(err).Msg("Ignoring malformed backend payload")
		return
	}
	if !res.HasContent {
		return
	}

	if res.IsFinal {
		s.acc.OnFinal(res.Text)
		s.m.RecordFinalTranscript()
	} else {
		s.acc.OnInterim(res.Text)
		s.m.RecordInterimTranscript()
	}

	s.logger.Debug().
		Str("text", res.Text).
		Bool("isFinal", res.IsFinal).
		Msg("Transcript received")

	if s.cfg.Publisher != nil {
		evType := models.EventTypeTranscriptInterim
		if res.IsFinal {
			evType = models.EventTypeTranscriptFinal
		}
		ev := models.TranscriptEvent{
			EventType:  evType,
			CallID:     s.cfg.CallID,
			SessionID:  s.window.SessionId(),
			Provider:   s.backend.Name(),
			Text:       res.Text,
			Confidence: res.Confidence,
			IsFinal:    res.IsFinal,
			Timestamp:  s.now().UnixMilli(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		err := s.cfg.Publisher.PublishTranscript(ctx, ev)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish transcript event")
		}
	}
}

func (s *CallSession) handleBackendClose(err error) {
	s.backendConnected = false
	if !s.window.State().IsActive() {
		return
	}
	s.m.RecordSTTError(s.backend.Name(), "closed")
	s.logger.Warn().Err(err).Msg("Transcription backend closed")
	s.startFinalizing(segment.ReasonBackendClosed, true)
}

// startFinalizing ends audio collection. With immediate, or without a grace
// period, the window completes now; otherwise it completes when the grace
// timer fires or the backend closes.
func (s *CallSession) startFinalizing(reason segment.FinalizeReason, immediate bool) {
	if s.window.State() == segment.StateFinalizing {
		if immediate {
			s.complete()
		}
		return
	}
	if err := s.window.StartFinalizing(reason); err != nil {
		return
	}
	s.stopListenTimer()

	s.logger.Info().Str("reason", string(reason)).Msg("Listen window finalizing")

	if immediate || s.cfg.FinalizeGrace <= 0 {
		s.complete()
		return
	}
	gen := s.gen
	s.graceTimer = time.AfterFunc(s.cfg.FinalizeGrace, func() {
		s.enqueue(event{kind: evGraceElapsed, gen: gen})
	})
}

// complete records the utterance and returns the window to idle.
func (s *CallSession) complete() {
	startedAt := s.window.StartedAt()
	text := s.acc.Finalize()

	sessionId, reason, err := s.window.Complete()
	if err != nil {
		return
	}
	s.stopTimers()

	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Error closing transcription backend")
		}
	}
	s.backendConnected = false
	// Events from the released backend are stale from here on.
	s.gen++

	rec := models.UtteranceRecord{
		ID:          sessionId,
		CallID:      s.cfg.CallID,
		Transcript:  text,
		Reason:      string(reason),
		StartedAt:   startedAt,
		FinalizedAt: s.now(),
	}

	recorded := false
	if text != "" {
		if err := s.cfg.Registry.Put(rec); err != nil {
			s.logger.Warn().Err(err).Msg("Utterance not recorded")
		} else {
			recorded = true
		}
	}
	s.m.RecordWindowFinalized(rec.Reason, rec.FinalizedAt.Sub(startedAt).Seconds(), recorded)

	s.logger.Info().
		Str("reason", rec.Reason).
		Str("transcript", text).
		Bool("recorded", recorded).
		Msg("Listen window finalized")

	if recorded {
		s.publishUtterance(rec)
		s.playback(text)
	}
	if s.cfg.OnFinalized != nil {
		s.cfg.OnFinalized(rec)
	}

	if s.cfg.AutoListen && !s.closing && !s.noRestart && !s.window.IsClosed() && autoRestart(reason) {
		if _, err := s.begin(ListenOptions{}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to start next listen window")
		}
	}
}

func (s *CallSession) publishUtterance(rec models.UtteranceRecord) {
	if s.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
	defer cancel()
	if err := s.cfg.Publisher.PublishUtterance(ctx, models.NewUtteranceEvent(rec)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish utterance event")
	}
}

// playback speaks text into the call without blocking the session loop.
func (s *CallSession) playback(text string) {
	if s.cfg.Controller == nil {
		return
	}
	ctrl, callId, logger, m := s.cfg.Controller, s.cfg.CallID, s.logger, s.m
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playbackTimeout)
		defer cancel()
		err := ctrl.PlayAnnouncement(ctx, callId, text)
		m.RecordPlayback(err)
		if err != nil {
			logger.Warn().Err(err).Msg("Playback failed")
		}
	}()
}

func (s *CallSession) stopListenTimer() {
	if s.listenTimer != nil {
		s.listenTimer.Stop()
		s.listenTimer = nil
	}
}

func (s *CallSession) stopTimers() {
	s.stopListenTimer()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

func autoRestart(reason segment.FinalizeReason) bool {
	switch reason {
	case segment.ReasonTimeout, segment.ReasonSilence, segment.ReasonManual:
		return true
	default:
		return false
	}
}

// backendCallback turns adapter callbacks into session events tagged with the
// window generation they belong to.
type backendCallback struct {
	s   *CallSession
	gen uint64
}

func (c *backendCallback) OnOpen() {
	c.s.enqueue(event{kind: evBackendOpen, gen: c.gen})
}

func (c *backendCallback) OnMessage(payload []byte) {
	c.s.enqueue(event{kind: evBackendMessage, gen: c.gen, data: payload})
}

func (c *backendCallback) OnClose(err error) {
	c.s.enqueue(event{kind: evBackendClose, gen: c.gen, err: err})
}
