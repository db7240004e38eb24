// Package deepgram provides a Deepgram live-transcription adapter using the
// Deepgram streaming WebSocket API. It implements stt.Adapter.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/observability/metrics"
	"github.com/voicebridge/call-gateway/internal/service/stt"
)

// ProviderName identifies the Deepgram backend in logs and metrics.
const ProviderName = "deepgram"

const (
	defaultEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultKeepAlive = 8 * time.Second
	sendQueueSize    = 256
)

var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// ReconnectPolicy controls how an unexpected disconnect is handled. With
// MaxAttempts 0 the first disconnect is reported to the callback.
type ReconnectPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Config holds Deepgram adapter configuration.
type Config struct {
	APIKey    string
	Endpoint  string
	Stream    stt.StreamConfig
	KeepAlive time.Duration
	Reconnect ReconnectPolicy
	Logger    *zerolog.Logger
}

// Adapter implements stt.Adapter for one Deepgram live session.
type Adapter struct {
	cfg    Config
	wsURL  string
	header http.Header
	logger zerolog.Logger

	ready        atomic.Bool
	closed       atomic.Bool
	reconnecting atomic.Bool
	queue        chan []byte

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New creates a Deepgram adapter. APIKey must be non-empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Stream.SampleRateHz == 0 {
		cfg.Stream = stt.DefaultStreamConfig()
	}

	wsURL, err := buildURL(cfg.Endpoint, cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	logger := logging.WithComponent("stt.deepgram")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Adapter{
		cfg:    cfg,
		wsURL:  wsURL,
		header: header,
		logger: logger,
		queue:  make(chan []byte, sendQueueSize),
	}, nil
}

// NewFactory returns a stt.Factory producing Deepgram adapters.
func NewFactory(cfg Config) (stt.Factory, error) {
	if _, err := New(cfg); err != nil {
		return nil, err
	}
	return func() (stt.Adapter, error) {
		return New(cfg)
	}, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func buildURL(endpoint string, sc stt.StreamConfig) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("encoding", sc.Encoding)
	q.Set("sample_rate", strconv.Itoa(sc.SampleRateHz))
	if sc.Channels > 0 {
		q.Set("channels", strconv.Itoa(sc.Channels))
	}
	q.Set("punctuate", strconv.FormatBool(sc.Punctuate))
	q.Set("interim_results", strconv.FormatBool(sc.InterimResults))
	if sc.Model != "" {
		q.Set("model", sc.Model)
	}
	if sc.LanguageCode != "" {
		q.Set("language", sc.LanguageCode)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Name returns the provider name.
func (a *Adapter) Name() string { return ProviderName }

// Open starts the connection loop. The handshake result is reported through
// cb.OnOpen, or cb.OnClose once the reconnect policy is exhausted.
func (a *Adapter) Open(ctx context.Context, cb stt.Callback) error {
	if cb == nil {
		return errors.New("deepgram: callback must not be nil")
	}
	if a.closed.Load() {
		return errors.New("deepgram: adapter is closed")
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("deepgram: already open")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go a.run(ctx, cb)
	return nil
}

// run owns the connection. Reconnection is handled here so callers only ever
// see a single OnClose.
func (a *Adapter) run(ctx context.Context, cb stt.Callback) {
	attempt := 0
	for {
		err := a.connectAndServe(ctx, cb, &attempt)
		if a.closed.Load() || ctx.Err() != nil {
			return
		}

		if attempt >= a.cfg.Reconnect.MaxAttempts {
			a.logger.Warn().Err(err).Int("attempts", attempt).Msg("Deepgram connection lost")
			a.reconnecting.Store(false)
			metrics.DefaultMetrics.RecordSTTError(ProviderName, "disconnect")
			cb.OnClose(err)
			return
		}
		attempt++
		a.reconnecting.Store(true)
		metrics.DefaultMetrics.RecordSTTReconnect(ProviderName)

		a.logger.Info().Err(err).
			Int("attempt", attempt).
			Dur("backoff", a.cfg.Reconnect.Backoff).
			Msg("Reconnecting to Deepgram")

		select {
		case <-time.After(a.cfg.Reconnect.Backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) connectAndServe(ctx context.Context, cb stt.Callback, attempt *int) error {
	conn, _, err := websocket.Dial(ctx, a.wsURL, &websocket.DialOptions{HTTPHeader: a.header})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return nil
	}
	a.conn = conn
	a.mu.Unlock()

	*attempt = 0
	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go a.writeLoop(connCtx, conn)

	a.ready.Store(true)
	a.reconnecting.Store(false)
	a.logger.Debug().Msg("Deepgram connection open")
	cb.OnOpen()

	err = a.readLoop(connCtx, conn, cb)
	a.ready.Store(false)
	return err
}

// readLoop forwards every text message to the callback until the connection
// fails.
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, cb stt.Callback) error {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("deepgram: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		cb.OnMessage(msg)
	}
}

// writeLoop drains the send queue and keeps the connection alive while the
// caller is silent.
func (a *Adapter) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-a.queue:
			if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				a.logger.Debug().Err(err).Msg("Deepgram write failed")
				return
			}
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, msgKeepAlive); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send queues a frame for the write loop.
func (a *Adapter) Send(frame []byte) error {
	if !a.ready.Load() || a.closed.Load() {
		return stt.ErrNotReady
	}
	select {
	case a.queue <- frame:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", stt.ErrNotReady)
	}
}

// IsReady reports whether the websocket is open.
func (a *Adapter) IsReady() bool {
	return a.ready.Load() && !a.closed.Load()
}

// Reconnecting reports whether the adapter is between a lost connection and
// the next successful handshake.
func (a *Adapter) Reconnecting() bool {
	return a.reconnecting.Load() && !a.closed.Load()
}

// Close asks Deepgram to flush and close the stream. The close handshake runs
// in the background.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.ready.Store(false)

	a.mu.Lock()
	conn := a.conn
	cancel := a.cancel
	a.mu.Unlock()

	go func() {
		if conn != nil {
			ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, msgCloseStream)
			done()
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		if cancel != nil {
			cancel()
		}
	}()
	return nil
}
