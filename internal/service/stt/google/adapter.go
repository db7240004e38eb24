// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/service/stt"
	"github.com/voicebridge/call-gateway/internal/service/transcript"
)

// ProviderName identifies the Google backend in logs and metrics.
const ProviderName = "google"

const sendQueueSize = 256

// Config holds Google Speech-to-Text configuration.
type Config struct {
	LanguageCode    string
	SampleRateHz    int32
	InterimResults  bool
	Punctuate       bool
	AudioEncoding   string
	CredentialsFile string
}

// DefaultConfig returns the configuration for the 16 kHz telephony stream.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		Punctuate:      true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding converts a string encoding name to the Google enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(encoding)]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// Client wraps a Speech client shared by all listen windows.
type Client struct {
	speech *speech.Client
	cfg    Config
}

// NewClient creates the shared Speech client. Credentials come from
// cfg.CredentialsFile or GOOGLE_APPLICATION_CREDENTIALS.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: new speech client: %w", err)
	}
	return &Client{speech: c, cfg: cfg}, nil
}

// Factory returns a stt.Factory creating one streaming adapter per window.
func (c *Client) Factory() stt.Factory {
	return func() (stt.Adapter, error) {
		return &Adapter{
			client: c.speech,
			cfg:    c.cfg,
			queue:  make(chan []byte, sendQueueSize),
			stopCh: make(chan struct{}),
			logger: logging.WithComponent("stt.google"),
		}, nil
	}
}

// Close releases the Speech client.
func (c *Client) Close() error {
	return c.speech.Close()
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config
	logger zerolog.Logger

	ready  atomic.Bool
	closed atomic.Bool
	queue  chan []byte
	// stopCh asks writeLoop to half-close the stream. Only writeLoop calls
	// Send and CloseSend, since gRPC forbids running them concurrently.
	stopCh chan struct{}

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
}

// Name returns the provider name.
func (a *Adapter) Name() string { return ProviderName }

// streamingConfig builds the first message of the stream.
func (a *Adapter) streamingConfig() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            a.cfg.SampleRateHz,
					LanguageCode:               a.cfg.LanguageCode,
					AudioChannelCount:          1,
					EnableAutomaticPunctuation: a.cfg.Punctuate,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	}
}

// Open begins a streaming recognition session in the background.
func (a *Adapter) Open(ctx context.Context, cb stt.Callback) error {
	if cb == nil {
		return errors.New("google: callback must not be nil")
	}
	if a.closed.Load() {
		return errors.New("google: adapter is closed")
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("google: already open")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go a.run(ctx, cb)
	return nil
}

func (a *Adapter) run(ctx context.Context, cb stt.Callback) {
	stream, err := a.client.StreamingRecognize(ctx)
	if err == nil {
		err = stream.Send(a.streamingConfig())
	}
	if err != nil {
		if !a.closed.Load() {
			cb.OnClose(fmt.Errorf("google: start stream: %w", err))
		}
		return
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		a.cancel()
		return
	}
	a.stream = stream
	a.mu.Unlock()

	go a.writeLoop(ctx, stream)
	a.ready.Store(true)
	cb.OnOpen()

	err = a.listen(stream, cb)
	a.ready.Store(false)
	if a.closed.Load() {
		return
	}
	cb.OnClose(err)
}

// listen receives responses and re-encodes them in the shared payload shape.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) error {
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return errors.New("google: stream ended")
		}
		if err != nil {
			return fmt.Errorf("google: recv: %w", err)
		}
		if resp.Error != nil {
			a.logger.Warn().Str("status", resp.Error.GetMessage()).Msg("Google streaming error")
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			cb.OnMessage(transcript.Marshal(alt.Transcript, r.IsFinal, float64(alt.Confidence)))
		}
	}
}

func (a *Adapter) writeLoop(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) {
	for {
		select {
		case frame := <-a.queue:
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: frame,
				},
			})
			if err != nil {
				a.logger.Debug().Err(err).Msg("Google send failed")
				return
			}
		case <-a.stopCh:
			if err := stream.CloseSend(); err != nil {
				a.logger.Debug().Err(err).Msg("Google close send failed")
			}
			a.mu.Lock()
			cancel := a.cancel
			a.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send queues audio for the stream.
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

// IsReady reports whether the stream is open.
func (a *Adapter) IsReady() bool {
	return a.ready.Load() && !a.closed.Load()
}

// Close half-closes the stream and cancels the session. Once the stream is
// up the half-close runs on the write loop.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.ready.Store(false)

	a.mu.Lock()
	stream := a.stream
	cancel := a.cancel
	a.mu.Unlock()

	close(a.stopCh)
	if stream == nil && cancel != nil {
		cancel()
	}
	return nil
}
