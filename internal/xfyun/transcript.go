package xfyun

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/book-expert/speech-service/internal/core"
)

// Chat defaults mirror the reader's assistant panel.
const (
	DefaultChatDomain      = "lite"
	DefaultChatTemperature = 0.5
	DefaultChatMaxTokens   = 4096
	DefaultChatAuditing    = "default"
	DefaultChatUID         = "reader"
)

// ChatConfig fixes the model selector and generation parameters.
type ChatConfig struct {
	Domain      string
	Temperature float64
	MaxTokens   int
	Auditing    string
	UID         string
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.Domain == "" {
		c.Domain = DefaultChatDomain
	}

	if c.Temperature <= 0 {
		c.Temperature = DefaultChatTemperature
	}

	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultChatMaxTokens
	}

	if c.Auditing == "" {
		c.Auditing = DefaultChatAuditing
	}

	if c.UID == "" {
		c.UID = DefaultChatUID
	}

	return c
}

// Completion is the assistant's full answer to one prompt.
type Completion struct {
	Text  string
	SID   string
	Usage core.Usage
}

type chatRequest struct {
	Header    chatRequestHeader `json:"header"`
	Parameter chatParameter     `json:"parameter"`
	Payload   chatPayload       `json:"payload"`
}

type chatRequestHeader struct {
	AppID string `json:"app_id"`
	UID   string `json:"uid"`
}

type chatParameter struct {
	Chat chatSettings `json:"chat"`
}

type chatSettings struct {
	Domain      string  `json:"domain"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Auditing    string  `json:"auditing"`
}

type chatPayload struct {
	Message chatMessage `json:"message"`
}

type chatMessage struct {
	Text []chatText `json:"text"`
}

type chatText struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFrame struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
		Status  int    `json:"status"`
	} `json:"header"`
	Payload *struct {
		Choices struct {
			Status int `json:"status"`
			Seq    int `json:"seq"`
			Text   []struct {
				Content string `json:"content"`
				Role    string `json:"role"`
				Index   int    `json:"index"`
			} `json:"text"`
		} `json:"choices"`
		Usage *struct {
			Text core.Usage `json:"text"`
		} `json:"usage"`
	} `json:"payload"`
}

// TranscriptSession runs chat-completion exchanges with the same signing,
// socket and cancellation semantics as SpeechSession.
type TranscriptSession struct {
	channel *channel
	appID   string
	config  ChatConfig

	// guarded by channel.mu
	text  strings.Builder
	sid   string
	usage core.Usage
}

func newTranscriptSession(signer *Signer, appID string, cfg ChatConfig, opts Options, log core.Logger) *TranscriptSession {
	return &TranscriptSession{
		channel: newChannel(signer, opts, log),
		appID:   appID,
		config:  cfg.withDefaults(),
	}
}

// Complete sends prompt as a single user message and returns the deltas
// concatenated in arrival order. Any remote error discards the partial text.
func (t *TranscriptSession) Complete(ctx context.Context, prompt string) (Completion, error) {
	err := t.channel.roundTrip(ctx, t.reset, t.request(prompt), t.onFrame)

	t.channel.mu.Lock()
	completion := Completion{Text: t.text.String(), SID: t.sid, Usage: t.usage}
	t.channel.mu.Unlock()

	if err != nil {
		return Completion{}, withSID(err, completion.SID)
	}

	return completion, nil
}

// Exchange satisfies retry.Exchanger.
func (t *TranscriptSession) Exchange(ctx context.Context, prompt string) (Completion, error) {
	return t.Complete(ctx, prompt)
}

// Stop cancels the exchange in flight, if any, and every later one.
func (t *TranscriptSession) Stop() {
	t.channel.stop()
}

// State reports where the current exchange is.
func (t *TranscriptSession) State() State {
	return t.channel.currentState()
}

func (t *TranscriptSession) reset() {
	t.text.Reset()
	t.sid = ""
	t.usage = core.Usage{}
}

func (t *TranscriptSession) request(prompt string) chatRequest {
	return chatRequest{
		Header: chatRequestHeader{AppID: t.appID, UID: t.config.UID},
		Parameter: chatParameter{Chat: chatSettings{
			Domain:      t.config.Domain,
			Temperature: t.config.Temperature,
			MaxTokens:   t.config.MaxTokens,
			Auditing:    t.config.Auditing,
		}},
		Payload: chatPayload{Message: chatMessage{
			Text: []chatText{{Role: "user", Content: prompt}},
		}},
	}
}

func (t *TranscriptSession) onFrame(data []byte) (bool, error) {
	var frame chatFrame

	err := json.Unmarshal(data, &frame)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if frame.Header.SID != "" {
		t.sid = frame.Header.SID
	}

	if frame.Header.Code != 0 {
		return false, &ProtocolError{Code: frame.Header.Code, Message: frame.Header.Message, SID: t.sid}
	}

	if frame.Payload == nil {
		return false, fmt.Errorf("%w: frame without payload", ErrMalformedFrame)
	}

	for _, delta := range frame.Payload.Choices.Text {
		t.text.WriteString(delta.Content)
	}

	if frame.Payload.Usage != nil {
		t.usage = frame.Payload.Usage.Text
	}

	return frame.Payload.Choices.Status == frameStatusFinal, nil
}
