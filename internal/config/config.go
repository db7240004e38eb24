// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// STT provider names.
const (
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Listen        ListenConfig
	Kafka         KafkaConfig
	Vonage        VonageConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal  string
	HTTPPort   string
	GRPCPort   string
	PublicHost string
}

// STTConfig selects and tunes the transcription backend.
type STTConfig struct {
	Provider              string
	DeepgramAPIKey        string
	DeepgramEndpoint      string
	Model                 string
	LanguageCode          string
	SampleRateHz          int
	InterimResults        bool
	Punctuate             bool
	AudioEncoding         string
	ReconnectAttempts     int
	ReconnectBackoff      time.Duration
	GoogleCredentialsFile string
}

// ListenConfig holds listen-window defaults.
type ListenConfig struct {
	MaxDuration       time.Duration
	MaxSilence        time.Duration
	SilenceThreshold  float64
	FinalizeGrace     time.Duration
	AutoStart         bool
	MaxNotReadyFrames int
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled        bool
	Async          bool
	Brokers        []string
	TopicInterim   string
	TopicUtterance string
	Principal      string
	// PublishTimeout bounds a publish made from a call's session loop.
	PublishTimeout time.Duration
}

// VonageConfig holds call-control credentials and answer settings.
type VonageConfig struct {
	ApplicationID   string
	PrivateKeyPath  string
	APIBase         string
	PlaybackEnabled bool
	AnswerGreeting  string
	TalkLanguage    string
	TalkStyle       int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// LoadDotEnv loads variables from the given files (default ".env") into the
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-gateway")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")

	provider := strings.ToLower(os.Getenv("STT_PROVIDER"))
	if provider == "" {
		provider = ProviderMock
		if deepgramKey != "" {
			provider = ProviderDeepgram
		}
	}

	return &Config{
		Service: ServiceConfig{
			Principal:  principal,
			HTTPPort:   envOrDefault("HTTP_PORT", "3000"),
			GRPCPort:   envOrDefault("GRPC_PORT", "50051"),
			PublicHost: os.Getenv("PUBLIC_HOST"),
		},
		STT: STTConfig{
			Provider:              provider,
			DeepgramAPIKey:        deepgramKey,
			DeepgramEndpoint:      os.Getenv("DEEPGRAM_ENDPOINT"),
			Model:                 envOrDefault("STT_MODEL", "nova-2"),
			LanguageCode:          envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:          envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults:        envOrDefaultBool("STT_INTERIM_RESULTS", true),
			Punctuate:             envOrDefaultBool("STT_PUNCTUATE", true),
			AudioEncoding:         envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			ReconnectAttempts:     envOrDefaultInt("STT_RECONNECT_ATTEMPTS", 2),
			ReconnectBackoff:      envOrDefaultDuration("STT_RECONNECT_BACKOFF", 500*time.Millisecond),
			GoogleCredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		},
		Listen: ListenConfig{
			MaxDuration:       envOrDefaultDuration("LISTEN_MAX_DURATION", 30*time.Second),
			MaxSilence:        envOrDefaultDuration("LISTEN_MAX_SILENCE", time.Second),
			SilenceThreshold:  envOrDefaultFloat("SILENCE_THRESHOLD", 0.02),
			FinalizeGrace:     envOrDefaultDuration("FINALIZE_GRACE", 300*time.Millisecond),
			AutoStart:         envOrDefaultBool("LISTEN_AUTO_START", true),
			MaxNotReadyFrames: envOrDefaultInt("MAX_NOT_READY_FRAMES", 50),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Async:          envOrDefaultBool("KAFKA_ASYNC", true),
			Brokers:        envList("KAFKA_BROKERS"),
			TopicInterim:   envOrDefault("KAFKA_TOPIC_INTERIM", "call.transcript.interim"),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "call.utterance.finalized"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
			PublishTimeout: envOrDefaultDuration("KAFKA_PUBLISH_TIMEOUT", 250*time.Millisecond),
		},
		Vonage: VonageConfig{
			ApplicationID:   os.Getenv("VONAGE_APPLICATION_ID"),
			PrivateKeyPath:  os.Getenv("VONAGE_PRIVATE_KEY_PATH"),
			APIBase:         envOrDefault("VONAGE_API_BASE", "https://api.nexmo.com"),
			PlaybackEnabled: envOrDefaultBool("PLAYBACK_ENABLED", false),
			AnswerGreeting:  envOrDefault("ANSWER_GREETING", "Hello. Please start speaking after the tone."),
			TalkLanguage:    envOrDefault("VONAGE_TALK_LANGUAGE", "en-US"),
			TalkStyle:       envOrDefaultInt("VONAGE_TALK_STYLE", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error

	switch c.STT.Provider {
	case ProviderDeepgram:
		if c.STT.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for the deepgram provider"))
		}
	case ProviderGoogle, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STT.Provider))
	}

	if c.Vonage.PlaybackEnabled {
		if c.Vonage.ApplicationID == "" || c.Vonage.PrivateKeyPath == "" {
			errs = append(errs, errors.New("VONAGE_APPLICATION_ID and VONAGE_PRIVATE_KEY_PATH are required when PLAYBACK_ENABLED"))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED"))
	}
	if c.Listen.SilenceThreshold <= 0 || c.Listen.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("SILENCE_THRESHOLD %v must be in (0, 1)", c.Listen.SilenceThreshold))
	}
	if c.Listen.MaxDuration <= 0 || c.Listen.MaxSilence <= 0 {
		errs = append(errs, errors.New("LISTEN_MAX_DURATION and LISTEN_MAX_SILENCE must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envOrDefaultDuration accepts Go durations ("1.5s") or bare milliseconds.
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
