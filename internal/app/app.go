// Package app wires the gateway's components into one process container.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/config"
	"github.com/voicebridge/call-gateway/internal/events"
	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/service/callcontrol"
	"github.com/voicebridge/call-gateway/internal/service/callcontrol/vonage"
	"github.com/voicebridge/call-gateway/internal/service/registry"
	"github.com/voicebridge/call-gateway/internal/service/session"
	"github.com/voicebridge/call-gateway/internal/service/stt"
	"github.com/voicebridge/call-gateway/internal/service/stt/deepgram"
	"github.com/voicebridge/call-gateway/internal/service/stt/google"
	"github.com/voicebridge/call-gateway/internal/service/stt/mock"
)

// mockFramesPerStep paces the scripted backend at roughly one partial per
// 200ms of 20ms telephony frames.
const mockFramesPerStep = 10

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Registry  *registry.Registry
	Publisher *events.Publisher
	// Controller speaks finished utterances back into the call. Nil when
	// playback is disabled.
	Controller callcontrol.Controller
	Sessions   *session.Manager
	Answer     vonage.AnswerConfig

	sttClose func() error
	ready    atomic.Bool
}

// New constructs the Application from cfg: logger, utterance registry, event
// publisher, transcription backend, call control and the session manager.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:      cfg,
		Registry: registry.New(),
		sttClose: func() error { return nil },
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	factory, closer, err := newSTTFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: stt provider %s: %w", cfg.STT.Provider, err)
	}
	a.sttClose = closer

	if cfg.Vonage.PlaybackEnabled {
		client, err := vonage.New(vonage.Config{
			ApplicationID:  cfg.Vonage.ApplicationID,
			PrivateKeyPath: cfg.Vonage.PrivateKeyPath,
			APIBase:        cfg.Vonage.APIBase,
			Language:       cfg.Vonage.TalkLanguage,
			Style:          cfg.Vonage.TalkStyle,
		})
		if err != nil {
			_ = closer()
			return nil, fmt.Errorf("app: call control: %w", err)
		}
		a.Controller = client
	}

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Async:          cfg.Kafka.Async,
		Brokers:        cfg.Kafka.Brokers,
		TopicInterim:   cfg.Kafka.TopicInterim,
		TopicUtterance: cfg.Kafka.TopicUtterance,
		Principal:      cfg.Kafka.Principal,
	})

	a.Sessions = session.NewManager(session.Config{
		Provider:   cfg.STT.Provider,
		Factory:    factory,
		Registry:   a.Registry,
		Publisher:  a.Publisher,
		Controller: a.Controller,
		Defaults: session.ListenOptions{
			MaxDuration: cfg.Listen.MaxDuration,
			MaxSilence:  cfg.Listen.MaxSilence,
		},
		SilenceThreshold:  cfg.Listen.SilenceThreshold,
		FinalizeGrace:     cfg.Listen.FinalizeGrace,
		MaxNotReadyFrames: cfg.Listen.MaxNotReadyFrames,
		AutoListen:        cfg.Listen.AutoStart,
		PublishTimeout:    cfg.Kafka.PublishTimeout,
	})

	a.Answer = vonage.AnswerConfig{
		PublicHost: cfg.Service.PublicHost,
		Greeting:   cfg.Vonage.AnswerGreeting,
	}

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("playback", cfg.Vonage.PlaybackEnabled).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Call gateway application created")
	return a, nil
}

// newSTTFactory builds the adapter factory for the configured provider and a
// closer for any shared client it holds.
func newSTTFactory(ctx context.Context, cfg *config.Config) (stt.Factory, func() error, error) {
	noop := func() error { return nil }

	stream := stt.DefaultStreamConfig()
	stream.SampleRateHz = cfg.STT.SampleRateHz
	stream.LanguageCode = cfg.STT.LanguageCode
	stream.Model = cfg.STT.Model
	stream.Punctuate = cfg.STT.Punctuate
	stream.InterimResults = cfg.STT.InterimResults

	switch cfg.STT.Provider {
	case config.ProviderDeepgram:
		f, err := deepgram.NewFactory(deepgram.Config{
			APIKey:   cfg.STT.DeepgramAPIKey,
			Endpoint: cfg.STT.DeepgramEndpoint,
			Stream:   stream,
			Reconnect: deepgram.ReconnectPolicy{
				MaxAttempts: cfg.STT.ReconnectAttempts,
				Backoff:     cfg.STT.ReconnectBackoff,
			},
		})
		return f, noop, err

	case config.ProviderGoogle:
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.STT.LanguageCode
		gcfg.SampleRateHz = int32(cfg.STT.SampleRateHz)
		gcfg.InterimResults = cfg.STT.InterimResults
		gcfg.Punctuate = cfg.STT.Punctuate
		gcfg.AudioEncoding = cfg.STT.AudioEncoding
		gcfg.CredentialsFile = cfg.STT.GoogleCredentialsFile
		client, err := google.NewClient(ctx, gcfg)
		if err != nil {
			return nil, noop, err
		}
		return client.Factory(), client.Close, nil

	default:
		return mock.NewFactory(mock.Options{FramesPerStep: mockFramesPerStep}), noop, nil
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    "call-gateway",
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start marks the service ready to serve traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call gateway starting")
	return nil
}

// Ready reports whether the application is accepting calls.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown closes every live call, flushes events and releases the backend
// client.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	a.Logger.Info().Int("activeCalls", a.Sessions.Len()).Msg("Call gateway shutting down")

	a.Sessions.CloseAll()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing event publisher")
	}
	if err := a.sttClose(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing transcription client")
	}
}
