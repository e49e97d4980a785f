// Package worker provides a NATS worker that runs speech and chat jobs
// against the remote APIs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/book-expert/speech-service/internal/prompt"
	"github.com/book-expert/speech-service/internal/retry"
	"github.com/book-expert/speech-service/internal/text"
	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// HeaderError carries the failure of a synthesize job on an otherwise
// empty reply.
const HeaderError = "Speech-Error"

const (
	defaultJobTimeout = 5 * time.Minute
	drainTimeout      = 5 * time.Second
	drainPollInterval = 10 * time.Millisecond
	audioKeyExtension = ".pcm"
)

var (
	// ErrConnectionNil indicates that no NATS connection was provided.
	ErrConnectionNil = errors.New("nats connection cannot be nil")
	// ErrSubjectEmpty indicates that a required subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrEmptyText indicates that nothing was left to synthesize after preprocessing.
	ErrEmptyText = errors.New("no text to synthesize")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("worker already started")
)

// Config tunes a NatsWorker.
type Config struct {
	SynthesizeSubject string
	ChatSubject       string
	CancelSubject     string
	QueueGroup        string
	Concurrency       int
	JobTimeout        time.Duration
	MaxChunkBytes     int
	MaxRunes          int
	Retry             retry.Options
}

// NatsWorker listens for speech jobs on NATS subjects and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	sessions       Sessions
	preprocessor   *text.Preprocessor
	metrics        *metrics.Metrics
	log            core.Logger
	cfg            Config

	pool chan struct{}
	jobs *registry
	wg   sync.WaitGroup

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	sessions Sessions,
	m *metrics.Metrics,
	cfg Config,
	log core.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, ErrConnectionNil
	}

	if cfg.SynthesizeSubject == "" || cfg.ChatSubject == "" || cfg.CancelSubject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	if m == nil {
		m = metrics.New()
	}

	if log == nil {
		log = core.NopLogger{}
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		textStore:      textStore,
		audioStore:     audioStore,
		sessions:       sessions,
		preprocessor:   text.NewPreprocessor(),
		metrics:        m,
		log:            log,
		cfg:            cfg,
		pool:           make(chan struct{}, cfg.Concurrency),
		jobs:           newRegistry(),
	}, nil
}

// Run starts the worker and blocks until ctx is done, then shuts down.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Start()
	if err != nil {
		return err
	}

	<-ctx.Done()

	return w.Shutdown()
}

// Start subscribes to the job subjects. Synthesize and chat jobs are shared
// across the queue group; cancel requests reach every instance.
func (w *NatsWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.subs) > 0 {
		return ErrAlreadyStarted
	}

	subscriptions := []struct {
		subject string
		queue   string
		handler nats.MsgHandler
	}{
		{w.cfg.SynthesizeSubject, w.cfg.QueueGroup, w.dispatch(w.handleSynthesize)},
		{w.cfg.ChatSubject, w.cfg.QueueGroup, w.dispatch(w.handleChat)},
		{w.cfg.CancelSubject, "", w.handleCancel},
	}

	for _, subscription := range subscriptions {
		sub, err := w.natsConnection.QueueSubscribe(subscription.subject, subscription.queue, subscription.handler)
		if err != nil {
			w.unsubscribeLocked()

			return fmt.Errorf("failed to subscribe to subject %s: %w", subscription.subject, err)
		}

		w.subs = append(w.subs, sub)
	}

	w.log.Info("Listening on %s, %s and %s", w.cfg.SynthesizeSubject, w.cfg.ChatSubject, w.cfg.CancelSubject)

	return nil
}

// Shutdown drains the subscriptions, stops jobs in flight (and any job
// still pending in the drain) and waits for their replies to be sent.
func (w *NatsWorker) Shutdown() error {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	var drainErr error

	for _, sub := range subs {
		err := sub.Drain()
		if err != nil && drainErr == nil {
			drainErr = fmt.Errorf("failed to drain subscription: %w", err)
		}
	}

	w.jobs.cancelAll()

	deadline := time.Now().Add(drainTimeout)

	for _, sub := range subs {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(drainPollInterval)
		}
	}

	w.wg.Wait()

	return drainErr
}

func (w *NatsWorker) unsubscribeLocked() {
	for _, sub := range w.subs {
		_ = sub.Unsubscribe()
	}

	w.subs = nil
}

// dispatch runs handle on its own goroutine once a pool slot is free, so
// a slow exchange never blocks the subscription.
func (w *NatsWorker) dispatch(handle nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()

			w.pool <- struct{}{}

			defer func() { <-w.pool }()

			handle(msg)
		}()
	}
}

func (w *NatsWorker) handleSynthesize(msg *nats.Msg) {
	started := time.Now()
	w.metrics.JobStarted()

	event, err := parseEvent[events.TextProcessedEvent](msg)
	if err != nil {
		w.log.Error("Failed to parse synthesize job: %v", err)
		w.finish(metrics.KindSpeech, started, err)
		w.respondError(msg, err)

		return
	}

	workflowID := workflowOf(event.Header)

	audioKey, err := w.processSpeechJob(event, workflowID)
	w.finish(metrics.KindSpeech, started, err)

	if err != nil {
		w.log.Error("Failed to process speech job for workflow %s: %v", workflowID, err)
		w.respondError(msg, err)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", workflowID, err)
	}
}

// processSpeechJob downloads the text, synthesizes it chunk by chunk and
// uploads the concatenated PCM.
func (w *NatsWorker) processSpeechJob(event *events.TextProcessedEvent, workflowID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	current := w.jobs.add(workflowID)
	defer w.jobs.remove(workflowID, current)

	raw, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	prepared := text.Truncate(w.preprocessor.PreprocessText(string(raw)), w.cfg.MaxRunes)

	chunks := text.Split(prepared, w.cfg.MaxChunkBytes)
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: key '%s'", ErrEmptyText, event.TextKey)
	}

	voice := core.Voice{Name: event.Voice}

	var pcm []byte

	for index, chunk := range chunks {
		orchestrator := retry.New(
			w.sessions.Speech(voice),
			w.cfg.Retry,
			attemptHooks[[]byte](w.metrics, metrics.KindSpeech),
			w.log,
		)
		if !current.attach(orchestrator) {
			return "", retry.ErrStopped
		}

		audio, runErr := orchestrator.Run(ctx, chunk)
		if runErr != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", index+1, len(chunks), runErr)
		}

		pcm = append(pcm, audio...)
	}

	audioKey := uuid.NewString() + audioKeyExtension

	err = w.audioStore.Upload(ctx, audioKey, pcm)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.metrics.RecordAudio(len(pcm))
	w.log.Info("Synthesized %d chunk(s), %d bytes for workflow %s", len(chunks), len(pcm), workflowID)

	return audioKey, nil
}

func (w *NatsWorker) handleChat(msg *nats.Msg) {
	started := time.Now()
	w.metrics.JobStarted()

	request, err := parseEvent[core.ChatRequest](msg)
	if err != nil {
		w.log.Error("Failed to parse chat job: %v", err)
		w.finish(metrics.KindChat, started, err)
		w.respondChat(msg, &core.ChatReply{Error: err.Error()})

		return
	}

	completion, err := w.processChatJob(request)
	w.finish(metrics.KindChat, started, err)

	reply := &core.ChatReply{Header: request.Header}

	if err != nil {
		w.log.Error("Failed to process chat job for workflow %s: %v", request.Header.WorkflowID, err)
		reply.Error = err.Error()
	} else {
		reply.Text = completion.Text
		reply.SID = completion.SID
		reply.Usage = completion.Usage
		w.metrics.RecordTokens(completion.Usage.TotalTokens)
	}

	w.respondChat(msg, reply)
}

func (w *NatsWorker) processChatJob(request *core.ChatRequest) (xfyun.Completion, error) {
	task, err := prompt.ParseTask(request.Task)
	if err != nil {
		return xfyun.Completion{}, err
	}

	content := w.preprocessor.PreprocessText(request.Content)

	query, err := prompt.Build(task, content, request.Question)
	if err != nil {
		return xfyun.Completion{}, err
	}

	session, err := w.sessions.Chat()
	if err != nil {
		return xfyun.Completion{}, fmt.Errorf("failed to open chat session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	workflowID := workflowOf(request.Header)

	current := w.jobs.add(workflowID)
	defer w.jobs.remove(workflowID, current)

	orchestrator := retry.New(session, w.cfg.Retry, attemptHooks[xfyun.Completion](w.metrics, metrics.KindChat), w.log)
	if !current.attach(orchestrator) {
		return xfyun.Completion{}, retry.ErrStopped
	}

	return orchestrator.Run(ctx, query)
}

func (w *NatsWorker) handleCancel(msg *nats.Msg) {
	request, err := parseEvent[core.CancelRequest](msg)
	if err != nil {
		w.log.Error("Failed to parse cancel request: %v", err)

		return
	}

	if request.WorkflowID == "" {
		w.log.Warn("Ignoring cancel request without workflow id")

		return
	}

	found := w.jobs.cancel(request.WorkflowID)
	w.metrics.RecordCancel(found)

	if !found {
		return
	}

	w.log.Info("Cancelled jobs for workflow %s", request.WorkflowID)

	err = w.respond(msg, &core.CancelReply{WorkflowID: request.WorkflowID, Found: true})
	if err != nil {
		w.log.Error("Failed to reply to cancel for workflow %s: %v", request.WorkflowID, err)
	}
}

// finish records the job outcome in the metrics.
func (w *NatsWorker) finish(kind string, started time.Time, err error) {
	w.metrics.JobFinished(kind, outcomeOf(err), time.Since(started).Seconds())
}

// respond marshals reply and sends it to the requester.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// respondError replies with an empty body and the failure in HeaderError.
func (w *NatsWorker) respondError(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderError, cause.Error())

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Error("Failed to publish error reply: %v", err)
	}
}

func (w *NatsWorker) respondChat(msg *nats.Msg, reply *core.ChatReply) {
	err := w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish chat reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func attemptHooks[T any](m *metrics.Metrics, kind string) retry.Hooks[T] {
	return retry.Hooks[T]{
		OnAttempt: func(_ int, err error) {
			m.RecordAttempt(kind, err != nil)
		},
	}
}

func parseEvent[T any](msg *nats.Msg) (*T, error) {
	var event T

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// workflowOf returns the id cancel requests address a job by.
func workflowOf(header events.EventHeader) string {
	if header.WorkflowID != "" {
		return header.WorkflowID
	}

	return header.EventID
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, retry.ErrStopped), errors.Is(err, xfyun.ErrCancelled):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailure
	}
}
