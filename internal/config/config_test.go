// Package config_test tests the configuration loading for the speech-service.
package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/text"
	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[nats]
url = "nats://127.0.0.1:4222"
synthesize_subject = "reader.speech"
chat_subject = "reader.chat"
cancel_subject = "reader.cancel"
queue_group = "readers"
text_object_store_bucket = "TEXT"
audio_object_store_bucket = "AUDIO"

[xfyun]
app_id = "file-app"
api_key = "file-key"
api_secret = "file-secret"

[xfyun.tts]
endpoint = "wss://tts-api.xfyun.cn/v2/tts"
voice = "xiaoyan"
speed = 60
volume = 70
pitch = 40

[xfyun.chat]
endpoint = "wss://spark-api.xf-yun.com/v1.1/chat"
domain = "lite"
temperature = 0.7
max_tokens = 2048

[session]
timeout_seconds = 20
handshake_timeout_seconds = 5
ping_interval_seconds = 8
pong_timeout_seconds = 4

[retry]
max_attempts = 5
backoff_ms = 250

[worker]
concurrency = 2
job_timeout_seconds = 120
max_chunk_bytes = 4000
max_runes = 500

[metrics]
enabled = true
address = ":9200"

[paths]
base_logs_dir = "/var/log/speech"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "reader.speech", cfg.NATS.SynthesizeSubject)
	assert.Equal(t, "reader.chat", cfg.NATS.ChatSubject)
	assert.Equal(t, "reader.cancel", cfg.NATS.CancelSubject)
	assert.Equal(t, "readers", cfg.NATS.QueueGroup)
	assert.Equal(t, "TEXT", cfg.NATS.TextObjectStoreBucket)
	assert.Equal(t, "AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "file-app", cfg.Xfyun.AppID)
	assert.Equal(t, "xiaoyan", cfg.Xfyun.TTS.Voice)
	assert.Equal(t, 60, cfg.Xfyun.TTS.Speed)
	assert.InEpsilon(t, 0.7, cfg.Xfyun.Chat.Temperature, 0.001)
	assert.Equal(t, 2048, cfg.Xfyun.Chat.MaxTokens)
	assert.Equal(t, 20, cfg.Session.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250, cfg.Retry.BackoffMillis)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 500, cfg.Worker.MaxRunes)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/var/log/speech", cfg.Paths.BaseLogsDir)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_OverridesCredentials(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Xfyun: config.XfyunConfig{AppID: "file-app", APIKey: "file-key", APISecret: "file-secret"}}

	env := map[string]string{
		config.EnvAPIKey:    "env-key",
		config.EnvAPISecret: "env-secret",
	}

	cfg.ApplyEnv(func(name string) (string, bool) {
		value, ok := env[name]

		return value, ok
	})

	assert.Equal(t, "file-app", cfg.Xfyun.AppID)
	assert.Equal(t, "env-key", cfg.Xfyun.APIKey)
	assert.Equal(t, "env-secret", cfg.Xfyun.APISecret)
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultSpeechEndpoint, cfg.Xfyun.TTS.Endpoint)
	assert.Equal(t, config.DefaultChatEndpoint, cfg.Xfyun.Chat.Endpoint)
	assert.Equal(t, config.DefaultSynthesizeSubject, cfg.NATS.SynthesizeSubject)
	assert.Equal(t, config.DefaultCancelSubject, cfg.NATS.CancelSubject)
	assert.Equal(t, config.DefaultAudioBucket, cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, config.DefaultConcurrency, cfg.Worker.Concurrency)
	assert.Equal(t, text.DefaultMaxRunes, cfg.Worker.MaxRunes)
	assert.Equal(t, os.TempDir(), cfg.Paths.BaseLogsDir)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_NegativeMaxRunesDisablesCap(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Worker.MaxRunes = -1
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, -1, cfg.Worker.MaxRunes)

	long := strings.Repeat("字", text.DefaultMaxRunes+10)
	assert.Equal(t, long, text.Truncate(long, cfg.Worker.MaxRunes))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		target error
	}{
		{
			name:   "missing endpoint",
			mutate: func(cfg *config.Config) { cfg.Xfyun.TTS.Endpoint = "" },
			target: config.ErrMissingEndpoint,
		},
		{
			name:   "negative attempts",
			mutate: func(cfg *config.Config) { cfg.Retry.MaxAttempts = -1 },
			target: config.ErrInvalidValue,
		},
		{
			name:   "negative timeout",
			mutate: func(cfg *config.Config) { cfg.Session.TimeoutSeconds = -5 },
			target: config.ErrInvalidValue,
		},
		{
			name:   "negative chunk size",
			mutate: func(cfg *config.Config) { cfg.Worker.MaxChunkBytes = -1 },
			target: config.ErrInvalidValue,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			testCase.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), testCase.target)
		})
	}
}

func TestClientConfig_CarriesSettings(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	require.NoError(t, toml.Unmarshal([]byte(tomlData), &cfg))

	clientCfg := cfg.ClientConfig()

	assert.Equal(t, "file-app", clientCfg.AppID)
	assert.Equal(t, "wss://tts-api.xfyun.cn/v2/tts", clientCfg.SpeechEndpoint)
	assert.Equal(t, "xiaoyan", clientCfg.Speech.Voice.Name)
	assert.Equal(t, 70, clientCfg.Speech.Voice.Volume)
	assert.Equal(t, 40, clientCfg.Speech.Voice.Pitch)
	assert.Equal(t, "lite", clientCfg.Chat.Domain)
	assert.Equal(t, 20*time.Second, clientCfg.Options.Timeout)
	assert.Equal(t, 4*time.Second, clientCfg.Options.PongTimeout)

	retryOpts := cfg.RetryOptions()
	assert.Equal(t, 5, retryOpts.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, retryOpts.Backoff)
	assert.False(t, retryOpts.Retryable(xfyun.ErrCancelled))
	assert.True(t, retryOpts.Retryable(xfyun.ErrTimeout))

	assert.Equal(t, 120*time.Second, cfg.JobTimeout())

	_, err := xfyun.NewClient(clientCfg, nil)
	require.NoError(t, err)
}

func TestLoadFile_AppliesEnvironmentAndDefaults(t *testing.T) {
	t.Setenv(config.EnvAppID, "env-app")
	t.Setenv(config.EnvAPIKey, "env-key")
	t.Setenv(config.EnvAPISecret, "env-secret")

	path := filepath.Join(t.TempDir(), "speech.toml")
	require.NoError(t, os.WriteFile(path, []byte("[xfyun.tts]\nvoice = \"x4_yezi\"\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-app", cfg.Xfyun.AppID)
	assert.Equal(t, "env-key", cfg.Xfyun.APIKey)
	assert.Equal(t, "env-secret", cfg.Xfyun.APISecret)
	assert.Equal(t, "x4_yezi", cfg.Xfyun.TTS.Voice)
	assert.Equal(t, config.DefaultSpeechEndpoint, cfg.Xfyun.TTS.Endpoint)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[xfyun\napp_id ="), 0o600))

	_, err = config.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}
