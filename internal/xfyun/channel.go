package xfyun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/gorilla/websocket"
)

// Default transport limits.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 10 * time.Second
	DefaultPongTimeout      = 5 * time.Second
)

// State is the lifecycle position of a session's current exchange.
type State int

// Session states.
const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tune the transport used by a session. Zero fields take the defaults.
type Options struct {
	// Timeout bounds the wait for the socket to close once the request is sent.
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	// Now is the clock used to date signatures.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}

	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

// frameFunc consumes one inbound frame while the session lock is held and
// reports whether it was the terminal frame.
type frameFunc func(data []byte) (done bool, err error)

// channel owns the socket lifecycle shared by the speech and chat sessions:
// dialing a freshly signed URL, sending one request envelope, feeding frames
// to the session under its lock and waiting for closure with a ceiling.
type channel struct {
	signer *Signer
	dialer *websocket.Dialer
	opts   Options
	log    core.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	abort    context.CancelFunc
	stopped  bool
	finished bool
	err      error
}

func newChannel(signer *Signer, opts Options, log core.Logger) *channel {
	opts = opts.withDefaults()

	return &channel{
		signer: signer,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		opts:  opts,
		log:   log,
		state: StateIdle,
	}
}

func (c *channel) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// stop marks the channel stopped and tears down whatever is in flight. The
// socket is closed after the lock is released so the reader can finish.
func (c *channel) stop() {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()

		return
	}

	c.stopped = true
	conn := c.conn
	abort := c.abort

	if c.state == StateIdle {
		c.state = StateCancelled
	}

	c.mu.Unlock()

	if abort != nil {
		abort()
	}

	if conn != nil {
		_ = conn.Close()
	}
}

// roundTrip runs one exchange on a brand-new socket. reset runs under the
// lock before dialing so the session can clear its accumulated state.
func (c *channel) roundTrip(ctx context.Context, reset func(), request any, onFrame frameFunc) error {
	exchangeCtx, abort := context.WithCancel(ctx)
	defer abort()

	c.mu.Lock()

	if c.stopped {
		c.state = StateCancelled
		c.mu.Unlock()

		return ErrCancelled
	}

	reset()
	c.finished = false
	c.err = nil
	c.abort = abort
	c.state = StateConnecting
	c.mu.Unlock()

	conn, dialErr := c.dial(exchangeCtx)
	if dialErr != nil {
		return c.finish(dialErr)
	}

	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()

		_ = conn.Close()

		return c.finish(nil)
	}

	c.conn = conn
	c.state = StateStreaming
	c.mu.Unlock()

	sendErr := c.send(conn, request)
	if sendErr != nil {
		_ = conn.Close()

		return c.finish(sendErr)
	}

	closed := make(chan struct{})

	go c.readLoop(conn, onFrame, closed)
	go c.keepalive(conn, closed)

	return c.finish(c.await(exchangeCtx, conn, closed))
}

func (c *channel) dial(ctx context.Context) (*websocket.Conn, error) {
	target := c.signer.SignedURL(c.opts.Now())

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		if resp != nil {
			return nil, fmt.Errorf("%w: handshake with %s returned %s: %w",
				ErrConnection, c.signer.Host(), resp.Status, err)
		}

		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, c.signer.Host(), err)
	}

	return conn, nil
}

func (c *channel) send(conn *websocket.Conn, request any) error {
	deadlineErr := conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	if deadlineErr != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrConnection, deadlineErr)
	}

	writeErr := conn.WriteJSON(request)
	if writeErr != nil {
		return fmt.Errorf("%w: send request to %s: %w", ErrConnection, c.signer.Host(), writeErr)
	}

	return nil
}

// await blocks until the reader closes the socket, the ceiling expires or
// the context ends. On the latter two it closes the socket and joins the reader.
func (c *channel) await(ctx context.Context, conn *websocket.Conn, closed <-chan struct{}) error {
	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	var waitErr error

	select {
	case <-closed:
		return nil
	case <-timer.C:
		waitErr = fmt.Errorf("%w after %s", ErrTimeout, c.opts.Timeout)
	case <-ctx.Done():
		waitErr = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	_ = conn.Close()
	<-closed

	return waitErr
}

func (c *channel) readLoop(conn *websocket.Conn, onFrame frameFunc, closed chan<- struct{}) {
	defer close(closed)
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(c.readDeadline())
	})

	for {
		_ = conn.SetReadDeadline(c.readDeadline())

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.recordTransport(err)

			return
		}

		if c.deliver(data, onFrame) {
			return
		}
	}
}

func (c *channel) readDeadline() time.Time {
	return time.Now().Add(c.opts.PingInterval + c.opts.PongTimeout)
}

// deliver hands one frame to the session. Frames arriving after stop are
// discarded and end the read loop.
func (c *channel) deliver(data []byte, onFrame frameFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return true
	}

	done, err := onFrame(data)
	if err != nil {
		c.err = err

		return true
	}

	if done {
		c.finished = true
	}

	return done
}

func (c *channel) recordTransport(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.finished || c.err != nil {
		return
	}

	c.err = fmt.Errorf("%w: read from %s: %w", ErrConnection, c.signer.Host(), err)
}

func (c *channel) keepalive(conn *websocket.Conn, closed <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PongTimeout))
			if err != nil {
				select {
				case <-closed:
					return
				default:
				}

				c.log.Warn("Ping to %s failed, closing socket: %v", c.signer.Host(), err)

				_ = conn.Close()

				return
			}
		}
	}
}

// finish settles the exchange outcome. A terminal frame received before any
// stop request wins; otherwise cancellation, then the wait or dial failure,
// then the first recorded error, then an incomplete stream.
func (c *channel) finish(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
	c.abort = nil

	var err error

	switch {
	case c.finished && c.err == nil:
		err = nil
	case c.stopped:
		err = ErrCancelled
	case cause != nil:
		err = cause
	case c.err != nil:
		err = c.err
	default:
		err = ErrIncompleteStream
	}

	switch {
	case err == nil:
		c.state = StateCompleted
	case errors.Is(err, ErrCancelled):
		c.state = StateCancelled
	default:
		c.state = StateFailed
	}

	return err
}
