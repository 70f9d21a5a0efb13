// Package client is the asynchronous gateway client. It performs the version
// handshake, runs one frame reader and one dispatch loop per connection, and
// bridges every decoded event into an ordered queue and an optional handler.
//
// Events produced while a connection's dispatch loop is running are delivered
// on that loop's goroutine, so the queue and the handler observe them in wire
// order. Events raised while no loop runs (a failed connect, a request while
// disconnected) are delivered on the calling goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/correlate"
	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/queue"
	"github.com/cyberinferno/go-ibclient/reqid"
	"github.com/cyberinferno/go-ibclient/transport"
	"github.com/cyberinferno/go-ibclient/wire"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is live
	// or being established.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected is returned by requests without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrHandshakeAborted is returned by Connect when the connection ended
	// before the handshake completed.
	ErrHandshakeAborted = errors.New("handshake aborted")
)

var (
	errBadVersion   = fmt.Errorf("%w: server version", codec.ErrBadMessage)
	errDisconnected = errors.New("disconnect requested")
)

// item is one entry of a connection's frame queue.
type item struct {
	frame []byte
	// local is a client-generated event that must keep its place among frames.
	local event.Event
	// done marks the end of the reader.
	done bool
}

// session is the state of one connection. It is never reused.
type session struct {
	tr     *transport.Transport
	ids    *reqid.Allocator
	frames *queue.Queue[item]
	split  *wire.Splitter
	log    logger.Logger

	// pending holds in-flight collectors and subs the live streaming
	// requests of this connection only.
	pending *correlate.Registry[int64, *collector]
	subs    *correlate.Set[int64]

	ctx    context.Context
	cancel context.CancelFunc
	// stopped is closed once the reader and the dispatch loop have ended.
	stopped chan struct{}
	// handlers counts handler calls in progress for this connection.
	handlers atomic.Int32

	mu      sync.Mutex
	running bool

	emitMu sync.Mutex
	ended  bool
	// closed is closed once the connection can queue no further events,
	// right after its ConnectionClosed.
	closed chan struct{}

	serverVersion  int
	connectionTime string
}

func newSession(ctx context.Context, cfg transport.Config, log logger.Logger) *session {
	sctx, cancel := context.WithCancel(ctx)
	return &session{
		tr:      transport.New(cfg),
		ids:     reqid.NewAllocator(),
		frames:  queue.New[item](),
		split:   &wire.Splitter{},
		log:     log,
		pending: correlate.NewRegistry[int64, *collector](),
		subs:    correlate.NewSet[int64](),
		ctx:     sctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// enqueue puts st on q unless the connection has already ended. Queuing
// ConnectionClosed ends it.
func (s *session) enqueue(q *queue.Queue[event.Stamped], st event.Stamped) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.ended {
		return false
	}

	q.Put(st)
	if _, ok := st.Event.(event.ConnectionClosed); ok {
		s.ended = true
		close(s.closed)
	}
	return true
}

// end marks a connection that never opened a socket as finished.
func (s *session) end() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.closed)
	}
}

// Client talks to one gateway. It is safe for concurrent use; Connect may be
// called again after a connection has ended.
type Client struct {
	config Config
	codec  codec.Codec
	log    logger.Logger
	events *queue.Queue[event.Stamped]

	mu    sync.Mutex
	state State
	sess  *session
	// last is the most recent connection attempt, live or not.
	last *session

	stampMu   sync.Mutex
	lastStamp time.Time
}

// New creates a client. No connection is made until Connect is called.
//
// Parameters:
//   - config: Gateway address and behavior (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client in StateUnset with an empty event queue
func New(config Config) *Client {
	config = config.withDefaults()

	c := &Client{
		config: config,
		codec:  config.Codec,
		log:    config.Logger.With(logger.Field{Key: "component", Value: "client"}),
		events: queue.New[event.Stamped](),
		state:  StateUnset,
	}
	config.Metrics.SetState(int(StateUnset))

	return c
}

// Events returns the event queue. Every event is queued exactly once, before
// the handler sees it. The queue outlives connections; a ConnectionClosed
// event marks the end of each one.
func (c *Client) Events() *queue.Queue[event.Stamped] {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState must be called with c.mu held.
func (c *Client) setState(s State) {
	if c.state != s {
		c.log.Debug("state changed",
			logger.Field{Key: "from", Value: c.state.String()},
			logger.Field{Key: "to", Value: s.String()},
		)
	}
	c.state = s
	c.config.Metrics.SetState(int(s))
}

// Connect opens the connection, performs the version handshake, sends the
// session start message and starts the reader and the dispatch loop. If the
// previous connection has not queued its ConnectionClosed yet, Connect waits
// for it first.
//
// Parameters:
//   - ctx: Bounds that wait, the dial and the handshake; the connection
//     itself lives until Disconnect or until the gateway closes it
//
// Returns:
//   - nil once the session start message was sent
//   - ErrAlreadyConnected, transport.ErrConnectFailed, ErrHandshakeAborted or
//     ctx.Err(); all but the last are also reported as events
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		cur := c.sess
		c.mu.Unlock()
		c.post(cur, event.NewError(event.CodeAlreadyConnected, "Already connected."))
		return ErrAlreadyConnected
	}

	prev := c.last
	s := newSession(context.WithoutCancel(ctx), c.config.Transport,
		c.log.With(logger.Field{Key: "addr", Value: c.config.Transport.Address}))
	c.sess = s
	c.last = s
	c.setState(StateConnecting)
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.closed:
		case <-ctx.Done():
			c.discard(s)
			return fmt.Errorf("previous connection still closing: %w", ctx.Err())
		case <-s.ctx.Done():
			c.discard(s)
			return fmt.Errorf("%w: %w", ErrHandshakeAborted, errDisconnected)
		}
	}

	s.log.Info("connecting", logger.Field{Key: "client_id", Value: c.config.ClientID})
	if err := s.tr.Open(ctx); err != nil {
		s.log.Error("failed to connect", logger.Field{Key: "error", Value: err.Error()})
		c.reset(s)
		c.deliver(s, event.NewError(event.CodeConnectFail, "Couldn't connect to TWS."))
		s.end()
		close(s.stopped)
		return err
	}

	// the handshake stops on ctx or on Disconnect, whichever comes first
	hctx, stop := context.WithCancel(s.ctx)
	defer stop()
	unlink := context.AfterFunc(ctx, stop)
	defer unlink()

	rest, err := c.handshake(hctx, s)
	if err != nil {
		return c.abort(s, err)
	}
	c.codec.SetServerVersion(s.serverVersion)

	start := codec.StartAPI{
		ClientID:             c.config.ClientID,
		OptionalCapabilities: c.config.OptionalCapabilities,
	}
	if _, err := c.write(hctx, s, start); err != nil {
		return c.abort(s, err)
	}

	// nothing reads the queue yet, so the ack stays ahead of every frame
	s.frames.Put(item{local: event.ConnectAck{}})
	for _, f := range rest {
		s.frames.Put(item{frame: f})
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return c.abort(s, errDisconnected)
	}
	c.setState(StateConnected)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	c.mu.Unlock()

	s.log.Info("connected",
		logger.Field{Key: "server_version", Value: s.serverVersion},
		logger.Field{Key: "connection_time", Value: s.connectionTime},
	)
	c.start(s, prev)

	return nil
}

// handshake sends the version range and reads frames until the two-field
// reply arrives. Frames before the reply are dispatched as they come; frames
// after it are returned for the dispatch loop.
func (c *Client) handshake(ctx context.Context, s *session) ([][]byte, error) {
	hello := wire.Handshake(wire.MinClientVersion, wire.MaxClientVersion, c.config.ConnectionOptions)
	if err := s.tr.WriteAll(ctx, hello); err != nil {
		return nil, err
	}
	s.log.Debug("handshake sent", logger.Field{Key: "versions", Value: wire.VersionPayload(wire.MinClientVersion, wire.MaxClientVersion, c.config.ConnectionOptions)})

	for {
		chunk, err := s.tr.ReadChunk(ctx)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, io.EOF
		}

		frames, ferr := s.split.Feed(chunk)
		for i, frame := range frames {
			fields := wire.SplitFields(frame)
			if len(fields) != 2 {
				c.handleFrame(s, frame)
				continue
			}

			version, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("%w %q", errBadVersion, fields[0])
			}
			s.serverVersion = version
			s.connectionTime = fields[1]

			return frames[i+1:], ferr
		}
		if ferr != nil {
			return nil, ferr
		}
	}
}

// abort ends a session whose handshake did not complete. Every session that
// opened a socket ends with exactly one ConnectionClosed event.
func (c *Client) abort(s *session, cause error) error {
	switch {
	case errors.Is(cause, io.EOF):
		s.log.Info("connection closed during handshake")
	case errors.Is(cause, errBadVersion):
		s.log.Error("invalid handshake reply", logger.Field{Key: "error", Value: cause.Error()})
		c.deliver(s, event.NewError(event.CodeBadMessage, cause.Error()))
	case errors.Is(cause, transport.ErrCancelled), errors.Is(cause, errDisconnected):
		s.log.Info("handshake cancelled")
	case errors.Is(cause, transport.ErrWriteFailed):
		s.log.Error("handshake write failed", logger.Field{Key: "error", Value: cause.Error()})
		c.deliver(s, event.NewError(event.CodeSocketException, cause.Error()))
	default:
		s.log.Error("handshake failed", logger.Field{Key: "error", Value: cause.Error()})
		c.deliver(s, event.NewError(event.CodeConnectFail, cause.Error()))
	}

	c.reset(s)
	c.deliver(s, event.ConnectionClosed{})
	close(s.stopped)

	return fmt.Errorf("%w: %w", ErrHandshakeAborted, cause)
}

// discard drops a connection that never opened its socket.
func (c *Client) discard(s *session) {
	c.reset(s)
	s.end()
	close(s.stopped)
}

// reset clears s as the current session and releases its socket.
func (c *Client) reset(s *session) {
	s.cancel()
	_ = s.tr.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s {
		c.sess = nil
		c.setState(StateDisconnected)
	}
}

// start runs the frame reader and the dispatch loop of s. Dispatch begins
// once prev, if any, has stopped, so handler calls of two connections never
// overlap on their loops.
func (c *Client) start(s, prev *session) {
	g, gctx := errgroup.WithContext(s.ctx)

	g.Go(func() error {
		r := &wire.Reader{
			Source:   s.tr,
			Splitter: s.split,
			Emit:     func(frame []byte) { s.frames.Put(item{frame: frame}) },
			Logger:   s.log.With(logger.Field{Key: "component", Value: "reader"}),
		}
		if err := r.Run(gctx); err != nil {
			s.log.Error("read failed", logger.Field{Key: "error", Value: err.Error()})
			s.frames.Put(item{local: event.NewError(event.CodeSocketException, err.Error())})
		}
		s.frames.Put(item{done: true})
		return nil
	})

	g.Go(func() error {
		if prev != nil {
			select {
			case <-prev.stopped:
			case <-gctx.Done():
			}
		}
		return c.dispatch(gctx, s)
	})

	go func() {
		_ = g.Wait()
		close(s.stopped)
	}()
}

// Disconnect closes the connection. The first call after a connect emits
// exactly one ConnectionClosed event; later calls do nothing. While a
// handler of the connection is running, Disconnect does not wait for the
// dispatch loop, since it may be called from that handler.
//
// Parameters:
//   - ctx: Bounds the wait for the dispatch loop to finish
//
// Returns:
//   - nil, or ctx.Err() if the loop did not finish in time
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.sess = nil
	c.setState(StateDisconnected)
	c.mu.Unlock()

	s.log.Info("disconnecting")
	running := s.isRunning()
	s.cancel()
	_ = s.tr.Close()

	if !running || s.handlers.Load() > 0 {
		return nil
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitReady blocks until the gateway has provided the first request id.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	select {
	case <-s.ids.Seeded():
		return nil
	case <-s.stopped:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServerVersion returns the version negotiated by the last handshake, or 0.
func (c *Client) ServerVersion() int {
	return c.codec.ServerVersion()
}

// ConnectionTime returns the gateway's connection timestamp of the live
// connection, or "".
func (c *Client) ConnectionTime() string {
	s := c.current()
	if s == nil {
		return ""
	}
	return s.connectionTime
}

// NextRequestID returns the id the next request would use, and false before
// the gateway has seeded it.
func (c *Client) NextRequestID() (int64, bool) {
	s := c.current()
	if s == nil {
		return 0, false
	}
	return s.ids.Current()
}

// current returns the live connection, or nil unless the state is
// StateConnected.
func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.sess
}
