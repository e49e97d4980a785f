// Package core defines the interfaces and message types shared across the speech service.
package core

import (
	"context"

	"github.com/book-expert/events"
)

// Logger is the narrow logging surface the core packages depend on.
// *logger.Logger from github.com/book-expert/logger satisfies it.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Voice selects the speaker and prosody for one synthesis request.
// Zero values fall back to the configured defaults.
type Voice struct {
	Name   string
	Speed  int
	Volume int
	Pitch  int
}

// Usage reports token accounting for one chat exchange.
type Usage struct {
	QuestionTokens   int `json:"question_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest asks the assistant to run one reader task over a piece of content.
type ChatRequest struct {
	Header   events.EventHeader `json:"header"`
	Task     string             `json:"task"`
	Content  string             `json:"content"`
	Question string             `json:"question,omitempty"`
}

// ChatReply carries the assistant's answer, or the reason it failed.
type ChatReply struct {
	Header events.EventHeader `json:"header"`
	Text   string             `json:"text,omitempty"`
	SID    string             `json:"sid,omitempty"`
	Usage  Usage              `json:"usage"`
	Error  string             `json:"error,omitempty"`
}

// CancelRequest asks the service to stop the in-flight job of a workflow.
type CancelRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// CancelReply reports whether a job was found for the workflow.
type CancelReply struct {
	WorkflowID string `json:"workflow_id"`
	Found      bool   `json:"found"`
}

// NopLogger discards everything.
type NopLogger struct{}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}
