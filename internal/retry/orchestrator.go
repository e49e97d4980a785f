// Package retry wraps a cancellable exchange in a bounded retry loop with a
// fixed backoff and a single, well-defined completion point.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/speech-service/internal/core"
)

// Defaults for Options.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// ErrStopped is returned by Run when Stop was requested before a result
// could be delivered. It is the orchestrator-level form of a session
// cancellation; the session's own error stays available from LastError.
var ErrStopped = errors.New("stopped before completion")

// Exchanger is one attempt-able, cancellable operation.
type Exchanger[T any] interface {
	Exchange(ctx context.Context, input string) (T, error)
	Stop()
}

// ExhaustedError is the single user-facing failure after the loop gives up.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Hooks receive the outcome of Run. OnSuccess or OnError fire at most once,
// never both, and never after a stop; OnDone fires exactly once per Run.
type Hooks[T any] struct {
	OnSuccess func(result T)
	OnError   func(err error)
	OnAttempt func(attempt int, err error)
	OnDone    func()
}

// Options bound the loop. A zero Backoff means DefaultBackoff and a negative
// one disables the pause. Retryable decides whether a failure is worth
// another attempt; nil retries everything except context cancellation.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

// Orchestrator drives one Exchanger for one input. It is single-use: create
// one per request, call Run once, and Stop from any goroutine.
type Orchestrator[T any] struct {
	session Exchanger[T]
	opts    Options
	hooks   Hooks[T]
	log     core.Logger

	stopOnce sync.Once
	stopCh   chan struct{}

	mu            sync.Mutex
	attempts      int
	stopRequested bool
	lastErr       error
}

// New returns an orchestrator for session.
func New[T any](session Exchanger[T], opts Options, hooks Hooks[T], log core.Logger) *Orchestrator[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	switch {
	case opts.Backoff == 0:
		opts.Backoff = DefaultBackoff
	case opts.Backoff < 0:
		opts.Backoff = 0
	}

	if log == nil {
		log = core.NopLogger{}
	}

	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}

	return &Orchestrator[T]{
		session: session,
		opts:    opts,
		hooks:   hooks,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Run attempts the exchange until it succeeds, a terminal error occurs,
// attempts run out or Stop is called.
func (o *Orchestrator[T]) Run(ctx context.Context, input string) (T, error) {
	var zero T

	defer o.emitDone()

	for {
		if o.isStopped() {
			return zero, ErrStopped
		}

		result, err := o.session.Exchange(ctx, input)

		attempt, stopped := o.recordAttempt(err)
		if stopped {
			return zero, ErrStopped
		}

		if o.hooks.OnAttempt != nil {
			o.hooks.OnAttempt(attempt, err)
		}

		if err == nil {
			if o.hooks.OnSuccess != nil {
				o.hooks.OnSuccess(result)
			}

			return result, nil
		}

		if ctx.Err() != nil || !o.opts.Retryable(err) || attempt >= o.opts.MaxAttempts {
			return zero, o.fail(attempt, err)
		}

		o.log.Warn("Attempt %d/%d failed, retrying in %s: %v", attempt, o.opts.MaxAttempts, o.opts.Backoff, err)

		if !o.wait(ctx) {
			if o.isStopped() {
				return zero, ErrStopped
			}

			return zero, o.fail(attempt, err)
		}
	}
}

// Stop requests cancellation and forwards it to the session. It is
// idempotent and safe to call after Run returned.
func (o *Orchestrator[T]) Stop() {
	o.mu.Lock()
	o.stopRequested = true
	o.mu.Unlock()

	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.session.Stop()
	})
}

// Attempts reports how many exchanges have been made so far.
func (o *Orchestrator[T]) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.attempts
}

// LastError returns the error of the most recent failed attempt.
func (o *Orchestrator[T]) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.lastErr
}

func (o *Orchestrator[T]) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.stopRequested
}

// recordAttempt counts the attempt and reports whether a stop arrived,
// in which case the outcome must not be delivered.
func (o *Orchestrator[T]) recordAttempt(err error) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attempts++

	if err != nil {
		o.lastErr = err
	}

	return o.attempts, o.stopRequested
}

func (o *Orchestrator[T]) fail(attempt int, err error) error {
	exhausted := &ExhaustedError{Attempts: attempt, Err: err}

	if o.hooks.OnError != nil {
		o.hooks.OnError(exhausted)
	}

	return exhausted
}

// wait sleeps for the backoff and reports false if interrupted.
func (o *Orchestrator[T]) wait(ctx context.Context) bool {
	timer := time.NewTimer(o.opts.Backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-o.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator[T]) emitDone() {
	if o.hooks.OnDone != nil {
		o.hooks.OnDone()
	}
}
