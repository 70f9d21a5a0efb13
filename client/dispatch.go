package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/model"
	"github.com/cyberinferno/go-ibclient/queue"
)

// dispatch is the single consumer of a connection's frame queue. It returns
// when the reader has ended or ctx is cancelled; either way the connection's
// ConnectionClosed event is delivered on the way out.
func (c *Client) dispatch(ctx context.Context, s *session) error {
	log := s.log.With(logger.Field{Key: "component", Value: "dispatch"})
	log.Debug("dispatch loop started")
	defer c.finish(s)

	for {
		it, err := s.frames.GetWithin(ctx, c.config.IdleTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				c.config.Metrics.Idle()
				if c.config.OnIdle != nil {
					c.config.OnIdle()
				}
				continue
			}
			log.Debug("dispatch loop cancelled")
			return nil
		}
		c.config.Metrics.SetFrameQueue(s.frames.Len())

		switch {
		case it.done:
			log.Debug("reader finished, stopping dispatch loop")
			return nil
		case it.local != nil:
			c.deliver(s, it.local)
		default:
			c.handleFrame(s, it.frame)
		}
	}
}

// finish tears down s after its dispatch loop stopped. Client events still
// queued are delivered; unread frames are dropped.
func (c *Client) finish(s *session) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	c.reset(s)

	dropped := 0
	for {
		it, ok := s.frames.TryGet()
		if !ok {
			break
		}
		if it.local != nil {
			c.deliver(s, it.local)
		} else if it.frame != nil {
			dropped++
		}
	}
	c.config.Metrics.SetFrameQueue(0)

	s.log.Info("connection closed", logger.Field{Key: "dropped_frames", Value: dropped})
	c.deliver(s, event.ConnectionClosed{})
}

// handleFrame checks, decodes and delivers one frame. Bad frames never stop
// the loop.
func (c *Client) handleFrame(s *session, frame []byte) {
	c.config.Metrics.FrameRead(len(frame))

	if len(frame) > c.config.MaxMessageLength {
		c.config.Metrics.FrameOversized()
		s.log.Warn("frame too long", logger.Field{Key: "size", Value: len(frame)})
		c.deliver(s, event.NewError(event.CodeBadLength, fmt.Sprintf("Bad message length:%d", len(frame))))
		return
	}

	ev, err := c.codec.Decode(frame)
	if err != nil {
		c.config.Metrics.DecodeFailed()
		s.log.Warn("failed to decode frame",
			logger.Field{Key: "size", Value: len(frame)},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	s.log.Debug("frame decoded", logger.Field{Key: "kind", Value: ev.Kind().String()})

	c.deliver(s, ev)
}

// post delivers a client-generated event. While the dispatch loop of s runs
// the event is queued behind the frames already received; otherwise it is
// delivered right away.
func (c *Client) post(s *session, ev event.Event) {
	if s != nil {
		s.mu.Lock()
		if s.running {
			s.frames.Put(item{local: ev})
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}

	c.deliver(s, ev)
}

// deliver is the event bridge. The event is queued exactly once, before any
// bookkeeping and before the handler runs. Events of a connection that has
// already queued its ConnectionClosed are dropped.
func (c *Client) deliver(s *session, ev event.Event) {
	st := event.Stamped{Event: ev}
	if event.IsLive(ev) {
		st.Time = c.stamp()
	}
	if s == nil {
		c.events.Put(st)
	} else if !s.enqueue(c.events, st) {
		s.log.Debug("event after close dropped", logger.Field{Key: "kind", Value: ev.Kind().String()})
		return
	}

	c.config.Metrics.EventDelivered(ev.Kind().String())
	c.config.Metrics.SetEventQueue(c.events.Len())

	c.track(s, ev)
	c.callHandler(s, ev)
}

// stamp returns the receive time of a live event. Stamps never go backwards.
func (c *Client) stamp() time.Time {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()

	now := time.Now()
	if now.Before(c.lastStamp) {
		now = c.lastStamp
	}
	c.lastStamp = now

	return now
}

// track keeps the request ids, in-flight collectors and live subscriptions
// of s in step with its event stream.
func (c *Client) track(s *session, ev event.Event) {
	if s == nil {
		return
	}

	switch e := ev.(type) {
	case event.NextValidID:
		if s.ids.Seed(e.OrderID) {
			s.log.Debug("request ids seeded", logger.Field{Key: "next", Value: e.OrderID})
		}
		return

	case event.ConnectionClosed:
		s.subs.Clear()
		s.pending.Range(func(id int64, col *collector) bool {
			col.fail(ErrNotConnected)
			return true
		})
		return

	case event.TickSnapshotEnd:
		s.subs.Remove(e.ReqID)
	}

	id, ok := event.RequestID(ev)
	if !ok || id == event.NoValidID {
		return
	}
	if col, found := s.pending.Load(id); found {
		col.add(ev)
	}
	if e, isErr := ev.(event.Error); isErr && !isWarning(e.Code) {
		if s.subs.Remove(id) {
			s.log.Info("subscription ended by gateway error",
				logger.Field{Key: "req_id", Value: id},
				logger.Field{Key: "code", Value: e.Code},
			)
		}
	}
}

// isWarning reports gateway codes that are informational (farm status and
// the like) and do not end a request.
func isWarning(code int) bool {
	return code >= 2100 && code < 2200
}

// callHandler runs the user handler. A panic is recovered, counted and
// reported as a BAD_MESSAGE event.
func (c *Client) callHandler(s *session, ev event.Event) {
	h := c.config.Handler
	if h == nil {
		return
	}

	if s != nil {
		s.handlers.Add(1)
		defer s.handlers.Add(-1)
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		c.config.Metrics.HandlerPanicked()
		c.log.Error("handler panicked",
			logger.Field{Key: "kind", Value: ev.Kind().String()},
			logger.Field{Key: "panic", Value: fmt.Sprint(r)},
		)
		// a handler that also panics on the report is not reported again
		if e, ok := ev.(event.Error); ok && e.Code == event.CodeBadMessage {
			return
		}
		c.deliver(s, event.NewError(event.CodeBadMessage, fmt.Sprintf("handler panic on %s: %v", ev.Kind(), r)))
	}()

	h.Handle(ev)
}

// collector gathers the contract details replies of one request.
type collector struct {
	mu      sync.Mutex
	details []model.ContractDetails
	err     error
	once    sync.Once
	done    chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (col *collector) add(ev event.Event) {
	switch e := ev.(type) {
	case event.ContractDetails:
		col.mu.Lock()
		col.details = append(col.details, e.Details)
		col.mu.Unlock()
	case event.ContractDetailsEnd:
		col.fail(nil)
	case event.Error:
		if !isWarning(e.Code) {
			col.fail(e)
		}
	}
}

// fail completes the collector; a nil err completes it successfully.
func (col *collector) fail(err error) {
	col.once.Do(func() {
		col.mu.Lock()
		col.err = err
		col.mu.Unlock()
		close(col.done)
	})
}

func (col *collector) result() ([]model.ContractDetails, error) {
	col.mu.Lock()
	defer col.mu.Unlock()
	if col.err != nil {
		return nil, col.err
	}
	return col.details, nil
}
