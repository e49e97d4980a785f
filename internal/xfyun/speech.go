package xfyun

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/speech-service/internal/core"
)

// Synthesis defaults: 16 kHz mono signed 16-bit PCM with the reader's voice.
const (
	DefaultAudioEncoding = "raw"
	DefaultAudioFormat   = "audio/L16;rate=16000"
	DefaultVoiceName     = "x4_yezi"
	DefaultTextEncoding  = "utf8"
)

// requestStatusFinal marks the only chunk of a request; frameStatusFinal
// marks the terminal frame of a response.
const (
	requestStatusFinal = 2
	frameStatusFinal   = 2
)

// SpeechConfig fixes the business parameters sent with every synthesis request.
type SpeechConfig struct {
	AudioEncoding string
	AudioFormat   string
	TextEncoding  string
	Voice         core.Voice
}

func (c SpeechConfig) withDefaults() SpeechConfig {
	if c.AudioEncoding == "" {
		c.AudioEncoding = DefaultAudioEncoding
	}

	if c.AudioFormat == "" {
		c.AudioFormat = DefaultAudioFormat
	}

	if c.TextEncoding == "" {
		c.TextEncoding = DefaultTextEncoding
	}

	if c.Voice.Name == "" {
		c.Voice.Name = DefaultVoiceName
	}

	return c
}

type speechRequest struct {
	Common   speechCommon   `json:"common"`
	Business speechBusiness `json:"business"`
	Data     speechData     `json:"data"`
}

type speechCommon struct {
	AppID string `json:"app_id"`
}

type speechBusiness struct {
	Aue    string `json:"aue"`
	Auf    string `json:"auf"`
	Vcn    string `json:"vcn"`
	Tte    string `json:"tte"`
	Speed  int    `json:"speed,omitempty"`
	Volume int    `json:"volume,omitempty"`
	Pitch  int    `json:"pitch,omitempty"`
}

type speechData struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

type speechFrame struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
	} `json:"data"`
}

// SpeechSession runs text-to-speech exchanges, one socket per call.
// Synthesize may be called repeatedly (each call is a new exchange); Stop
// may be called from any goroutine at any time and ends the session.
type SpeechSession struct {
	channel *channel
	appID   string
	config  SpeechConfig

	// guarded by channel.mu
	audio []byte
	sid   string
}

func newSpeechSession(signer *Signer, appID string, cfg SpeechConfig, opts Options, log core.Logger) *SpeechSession {
	return &SpeechSession{
		channel: newChannel(signer, opts, log),
		appID:   appID,
		config:  cfg.withDefaults(),
	}
}

// Synthesize converts text to audio and returns the concatenated frame
// payloads in arrival order.
func (s *SpeechSession) Synthesize(ctx context.Context, text string) ([]byte, error) {
	err := s.channel.roundTrip(ctx, s.reset, s.request(text), s.onFrame)

	s.channel.mu.Lock()
	audio := bytes.Clone(s.audio)
	sid := s.sid
	s.channel.mu.Unlock()

	if err != nil {
		return nil, withSID(err, sid)
	}

	return audio, nil
}

// Exchange satisfies retry.Exchanger.
func (s *SpeechSession) Exchange(ctx context.Context, text string) ([]byte, error) {
	return s.Synthesize(ctx, text)
}

// Stop cancels the exchange in flight, if any, and every later one.
func (s *SpeechSession) Stop() {
	s.channel.stop()
}

// State reports where the current exchange is.
func (s *SpeechSession) State() State {
	return s.channel.currentState()
}

// SID returns the remote session id of the last exchange, if one was reported.
func (s *SpeechSession) SID() string {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()

	return s.sid
}

func (s *SpeechSession) reset() {
	s.audio = s.audio[:0]
	s.sid = ""
}

func (s *SpeechSession) request(text string) speechRequest {
	return speechRequest{
		Common: speechCommon{AppID: s.appID},
		Business: speechBusiness{
			Aue:    s.config.AudioEncoding,
			Auf:    s.config.AudioFormat,
			Vcn:    s.config.Voice.Name,
			Tte:    s.config.TextEncoding,
			Speed:  s.config.Voice.Speed,
			Volume: s.config.Voice.Volume,
			Pitch:  s.config.Voice.Pitch,
		},
		Data: speechData{
			Status: requestStatusFinal,
			Text:   base64.StdEncoding.EncodeToString([]byte(text)),
		},
	}
}

func (s *SpeechSession) onFrame(data []byte) (bool, error) {
	var frame speechFrame

	err := json.Unmarshal(data, &frame)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if frame.SID != "" {
		s.sid = frame.SID
	}

	if frame.Code != 0 {
		return false, &ProtocolError{Code: frame.Code, Message: frame.Message, SID: s.sid}
	}

	if frame.Data == nil {
		return false, fmt.Errorf("%w: frame without data", ErrMalformedFrame)
	}

	chunk, err := base64.StdEncoding.DecodeString(frame.Data.Audio)
	if err != nil {
		return false, fmt.Errorf("%w: audio payload: %w", ErrMalformedFrame, err)
	}

	s.audio = append(s.audio, chunk...)

	return frame.Data.Status == frameStatusFinal, nil
}

// withSID tags an error with the remote session id for support diagnostics.
// Protocol errors already carry it and cancellations have no use for it.
func withSID(err error, sid string) error {
	var protocolErr *ProtocolError

	if sid == "" || errors.As(err, &protocolErr) || errors.Is(err, ErrCancelled) {
		return err
	}

	return fmt.Errorf("sid %s: %w", sid, err)
}
