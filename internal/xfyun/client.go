package xfyun

import (
	"fmt"

	"github.com/book-expert/speech-service/internal/core"
)

// ClientConfig gathers everything needed to build sessions. Credentials are
// shared by both APIs; each API has its own endpoint.
type ClientConfig struct {
	AppID          string
	APIKey         string
	APISecret      string
	SpeechEndpoint string
	ChatEndpoint   string
	Speech         SpeechConfig
	Chat           ChatConfig
	Options        Options
}

// Client mints sessions bound to immutable credentials. Endpoints are
// validated at construction so that signing never fails later.
type Client struct {
	appID        string
	speechSigner *Signer
	chatSigner   *Signer
	speech       SpeechConfig
	chat         ChatConfig
	options      Options
	log          core.Logger
}

// NewClient validates the configured endpoints and returns a client. An
// empty chat endpoint disables NewTranscriptSession.
func NewClient(cfg ClientConfig, log core.Logger) (*Client, error) {
	if log == nil {
		log = core.NopLogger{}
	}

	speechSigner, err := NewSigner(Credentials{
		AppID:     cfg.AppID,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Endpoint:  cfg.SpeechEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("speech endpoint: %w", err)
	}

	client := &Client{
		appID:        cfg.AppID,
		speechSigner: speechSigner,
		speech:       cfg.Speech,
		chat:         cfg.Chat,
		options:      cfg.Options,
		log:          log,
	}

	if cfg.ChatEndpoint != "" {
		chatSigner, chatErr := NewSigner(Credentials{
			AppID:     cfg.AppID,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Endpoint:  cfg.ChatEndpoint,
		})
		if chatErr != nil {
			return nil, fmt.Errorf("chat endpoint: %w", chatErr)
		}

		client.chatSigner = chatSigner
	}

	return client, nil
}

// NewSpeechSession returns a fresh session. Non-zero fields of voice
// override the configured voice for this session only.
func (c *Client) NewSpeechSession(voice core.Voice) *SpeechSession {
	cfg := c.speech

	if voice.Name != "" {
		cfg.Voice.Name = voice.Name
	}

	if voice.Speed != 0 {
		cfg.Voice.Speed = voice.Speed
	}

	if voice.Volume != 0 {
		cfg.Voice.Volume = voice.Volume
	}

	if voice.Pitch != 0 {
		cfg.Voice.Pitch = voice.Pitch
	}

	return newSpeechSession(c.speechSigner, c.appID, cfg, c.options, c.log)
}

// NewTranscriptSession returns a fresh chat session.
func (c *Client) NewTranscriptSession() (*TranscriptSession, error) {
	if c.chatSigner == nil {
		return nil, fmt.Errorf("%w: no chat endpoint configured", ErrSigningInput)
	}

	return newTranscriptSession(c.chatSigner, c.appID, c.chat, c.options, c.log), nil
}
