package worker

import (
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/retry"
	"github.com/book-expert/speech-service/internal/xfyun"
)

// Sessions mints a fresh exchanger per remote exchange. A session is
// stopped for good once a job is cancelled, so none is ever reused.
type Sessions interface {
	Speech(voice core.Voice) retry.Exchanger[[]byte]
	Chat() (retry.Exchanger[xfyun.Completion], error)
}

// XfyunSessions adapts an xfyun client to Sessions.
type XfyunSessions struct {
	client *xfyun.Client
}

// NewXfyunSessions wraps client.
func NewXfyunSessions(client *xfyun.Client) XfyunSessions {
	return XfyunSessions{client: client}
}

// Speech implements Sessions.
func (s XfyunSessions) Speech(voice core.Voice) retry.Exchanger[[]byte] {
	return s.client.NewSpeechSession(voice)
}

// Chat implements Sessions.
func (s XfyunSessions) Chat() (retry.Exchanger[xfyun.Completion], error) {
	session, err := s.client.NewTranscriptSession()
	if err != nil {
		return nil, err
	}

	return session, nil
}
