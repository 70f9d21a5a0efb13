// Package sink forwards queued events to external consumers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/queue"
)

// Publisher delivers one event to a destination.
type Publisher interface {
	Publish(ctx context.Context, ev event.Stamped) error
}

// Encode flattens a queued event into string-keyed fields: kind, ts
// (RFC 3339 or empty), req_id (empty when the event has none) and the JSON
// payload.
func Encode(ev event.Stamped) (map[string]any, error) {
	if ev.Event == nil {
		return nil, errors.New("empty event")
	}

	payload, err := json.Marshal(ev.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.Event.Kind(), err)
	}

	ts := ""
	if ev.HasTime() {
		ts = ev.Time.UTC().Format(time.RFC3339Nano)
	}
	reqID := ""
	if id, ok := event.RequestID(ev.Event); ok {
		reqID = strconv.FormatInt(id, 10)
	}

	return map[string]any{
		"kind":    ev.Event.Kind().String(),
		"ts":      ts,
		"req_id":  reqID,
		"payload": string(payload),
	}, nil
}

// RedisStream appends events to a Redis stream with XADD.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream creates a publisher for stream. When maxLen is positive the
// stream is trimmed to roughly that many entries.
func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// Publish implements Publisher.
func (r *RedisStream) Publish(ctx context.Context, ev event.Stamped) error {
	values, err := Encode(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: r.stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}

	return nil
}

// Pump drains src into pub until a ConnectionClosed event has been
// published or ctx ends. It is the single consumer of src.
//
// Returns:
//   - nil after ConnectionClosed, ctx.Err() on cancellation, or the first
//     publish error
func Pump(ctx context.Context, src *queue.Queue[event.Stamped], pub Publisher, log logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	published := 0
	for {
		ev, err := src.Get(ctx)
		if err != nil {
			return err
		}

		if err := pub.Publish(ctx, ev); err != nil {
			log.Error("failed to publish event",
				logger.Field{Key: "kind", Value: ev.Event.Kind().String()},
				logger.Field{Key: "error", Value: err.Error()},
			)
			return err
		}
		published++

		if _, closed := ev.Event.(event.ConnectionClosed); closed {
			log.Info("event pump finished", logger.Field{Key: "published", Value: published})
			return nil
		}
	}
}
