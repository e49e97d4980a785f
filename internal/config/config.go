// Package config provides the configuration structure for the speech-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/retry"
	"github.com/book-expert/speech-service/internal/text"
	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override the credentials in the file.
const (
	EnvAppID     = "XFYUN_APP_ID"
	EnvAPIKey    = "XFYUN_API_KEY"
	EnvAPISecret = "XFYUN_API_SECRET"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultSpeechEndpoint    = "wss://tts-api.xfyun.cn/v2/tts"
	DefaultChatEndpoint      = "wss://spark-api.xf-yun.com/v1.1/chat"
	DefaultSynthesizeSubject = "speech.synthesize"
	DefaultChatSubject       = "speech.chat"
	DefaultCancelSubject     = "speech.cancel"
	DefaultQueueGroup        = "speech-workers"
	DefaultTextBucket        = "TEXT_FILES"
	DefaultAudioBucket       = "AUDIO_FILES"
	DefaultConcurrency       = 4
	DefaultJobTimeoutSeconds = 300
	DefaultMetricsAddress    = ":9102"
)

var (
	// ErrMissingEndpoint indicates that the speech endpoint is empty.
	ErrMissingEndpoint = errors.New("xfyun.tts.endpoint cannot be empty")
	// ErrInvalidValue indicates a numeric setting outside its range.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesizeSubject      string `toml:"synthesize_subject"`
	ChatSubject            string `toml:"chat_subject"`
	CancelSubject          string `toml:"cancel_subject"`
	QueueGroup             string `toml:"queue_group"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// XfyunConfig holds the credentials shared by both remote APIs.
type XfyunConfig struct {
	AppID     string     `toml:"app_id"`
	APIKey    string     `toml:"api_key"`
	APISecret string     `toml:"api_secret"`
	TTS       TTSConfig  `toml:"tts"`
	Chat      ChatConfig `toml:"chat"`
}

// TTSConfig selects the speech endpoint, voice and audio format.
type TTSConfig struct {
	Endpoint      string `toml:"endpoint"`
	Voice         string `toml:"voice"`
	Speed         int    `toml:"speed"`
	Volume        int    `toml:"volume"`
	Pitch         int    `toml:"pitch"`
	AudioEncoding string `toml:"audio_encoding"`
	AudioFormat   string `toml:"audio_format"`
}

// ChatConfig selects the chat endpoint and generation parameters.
type ChatConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Domain      string  `toml:"domain"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	Auditing    string  `toml:"auditing"`
	UID         string  `toml:"uid"`
}

// SessionConfig bounds one exchange.
type SessionConfig struct {
	TimeoutSeconds          int `toml:"timeout_seconds"`
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	PingIntervalSeconds     int `toml:"ping_interval_seconds"`
	PongTimeoutSeconds      int `toml:"pong_timeout_seconds"`
}

// RetryConfig bounds the retry loop around an exchange.
type RetryConfig struct {
	MaxAttempts   int `toml:"max_attempts"`
	BackoffMillis int `toml:"backoff_ms"`
}

// WorkerConfig tunes the job worker.
type WorkerConfig struct {
	Concurrency       int `toml:"concurrency"`
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
	MaxChunkBytes     int `toml:"max_chunk_bytes"`
	// MaxRunes caps the text spoken per job. Zero means the default cap,
	// a negative value disables it.
	MaxRunes int `toml:"max_runes"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Xfyun   XfyunConfig   `toml:"xfyun"`
	Session SessionConfig `toml:"session"`
	Retry   RetryConfig   `toml:"retry"`
	Worker  WorkerConfig  `toml:"worker"`
	Metrics MetricsConfig `toml:"metrics"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the speech-service through the central
// configurator, then applies environment overrides and defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides credentials from the environment. Empty values are
// treated as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if value, ok := lookup(EnvAppID); ok {
		c.Xfyun.AppID = value
	}

	if value, ok := lookup(EnvAPIKey); ok {
		c.Xfyun.APIKey = value
	}

	if value, ok := lookup(EnvAPISecret); ok {
		c.Xfyun.APISecret = value
	}
}

// ApplyDefaults fills zero values. Session and chat parameters are left
// zero so the xfyun package applies its own defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.Xfyun.TTS.Endpoint, DefaultSpeechEndpoint)
	setString(&c.Xfyun.Chat.Endpoint, DefaultChatEndpoint)
	setString(&c.NATS.SynthesizeSubject, DefaultSynthesizeSubject)
	setString(&c.NATS.ChatSubject, DefaultChatSubject)
	setString(&c.NATS.CancelSubject, DefaultCancelSubject)
	setString(&c.NATS.QueueGroup, DefaultQueueGroup)
	setString(&c.NATS.TextObjectStoreBucket, DefaultTextBucket)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	setString(&c.Metrics.Address, DefaultMetricsAddress)
	setString(&c.Paths.BaseLogsDir, os.TempDir())

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultConcurrency
	}

	if c.Worker.JobTimeoutSeconds == 0 {
		c.Worker.JobTimeoutSeconds = DefaultJobTimeoutSeconds
	}

	if c.Worker.MaxRunes == 0 {
		c.Worker.MaxRunes = text.DefaultMaxRunes
	}
}

// Validate rejects settings that would fail later at runtime.
func (c *Config) Validate() error {
	if c.Xfyun.TTS.Endpoint == "" {
		return ErrMissingEndpoint
	}

	checks := []struct {
		name  string
		value int
	}{
		{"retry.max_attempts", c.Retry.MaxAttempts},
		{"worker.concurrency", c.Worker.Concurrency},
		{"worker.job_timeout_seconds", c.Worker.JobTimeoutSeconds},
	}

	for _, check := range checks {
		if check.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidValue, check.name, check.value)
		}
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"session.timeout_seconds", c.Session.TimeoutSeconds},
		{"session.handshake_timeout_seconds", c.Session.HandshakeTimeoutSeconds},
		{"session.ping_interval_seconds", c.Session.PingIntervalSeconds},
		{"session.pong_timeout_seconds", c.Session.PongTimeoutSeconds},
		{"worker.max_chunk_bytes", c.Worker.MaxChunkBytes},
	}

	for _, check := range nonNegative {
		if check.value < 0 {
			return fmt.Errorf("%w: %s cannot be negative, got %d", ErrInvalidValue, check.name, check.value)
		}
	}

	return nil
}

// ClientConfig converts the file settings into an xfyun client configuration.
func (c *Config) ClientConfig() xfyun.ClientConfig {
	return xfyun.ClientConfig{
		AppID:          c.Xfyun.AppID,
		APIKey:         c.Xfyun.APIKey,
		APISecret:      c.Xfyun.APISecret,
		SpeechEndpoint: c.Xfyun.TTS.Endpoint,
		ChatEndpoint:   c.Xfyun.Chat.Endpoint,
		Speech: xfyun.SpeechConfig{
			AudioEncoding: c.Xfyun.TTS.AudioEncoding,
			AudioFormat:   c.Xfyun.TTS.AudioFormat,
			Voice: core.Voice{
				Name:   c.Xfyun.TTS.Voice,
				Speed:  c.Xfyun.TTS.Speed,
				Volume: c.Xfyun.TTS.Volume,
				Pitch:  c.Xfyun.TTS.Pitch,
			},
		},
		Chat: xfyun.ChatConfig{
			Domain:      c.Xfyun.Chat.Domain,
			Temperature: c.Xfyun.Chat.Temperature,
			MaxTokens:   c.Xfyun.Chat.MaxTokens,
			Auditing:    c.Xfyun.Chat.Auditing,
			UID:         c.Xfyun.Chat.UID,
		},
		Options: xfyun.Options{
			Timeout:          seconds(c.Session.TimeoutSeconds),
			HandshakeTimeout: seconds(c.Session.HandshakeTimeoutSeconds),
			PingInterval:     seconds(c.Session.PingIntervalSeconds),
			PongTimeout:      seconds(c.Session.PongTimeoutSeconds),
		},
	}
}

// RetryOptions returns the retry policy for xfyun exchanges.
func (c *Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     time.Duration(c.Retry.BackoffMillis) * time.Millisecond,
		Retryable:   xfyun.IsRetryable,
	}
}

// JobTimeout bounds one worker job.
func (c *Config) JobTimeout() time.Duration {
	return seconds(c.Worker.JobTimeoutSeconds)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}
