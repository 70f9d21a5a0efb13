// Package codec translates between frame payloads and typed values: inbound
// frames decode to event.Event variants and outbound Requests encode to
// complete frames.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/wire"
)

var (
	// ErrBadMessage is returned for frames that cannot be decoded.
	ErrBadMessage = errors.New("bad message")
	// ErrUnknownMessage is returned when encoding a request without a message id.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrUnsupported is returned when the negotiated server version is too old
	// for a request.
	ErrUnsupported = errors.New("not supported by server version")
)

// Codec decodes inbound frames and encodes outbound requests. Layouts depend
// on the server version negotiated during the handshake.
type Codec interface {
	Decode(frame []byte) (event.Event, error)
	Encode(req Request) ([]byte, error)
	SetServerVersion(v int)
	ServerVersion() int
}

// Request is one outbound message.
type Request interface {
	MessageID() int
	// Fields returns the payload fields following the message id.
	Fields(serverVersion int) []any
}

// versioned is implemented by requests that need a minimum server version.
type versioned interface {
	MinServerVersion() int
}

// FieldCodec is the NUL-delimited text codec. It is safe for concurrent use.
type FieldCodec struct {
	serverVersion atomic.Int64
}

// NewFieldCodec returns a FieldCodec with no server version set.
func NewFieldCodec() *FieldCodec {
	return &FieldCodec{}
}

// SetServerVersion implements Codec.
func (c *FieldCodec) SetServerVersion(v int) {
	c.serverVersion.Store(int64(v))
}

// ServerVersion implements Codec.
func (c *FieldCodec) ServerVersion() int {
	return int(c.serverVersion.Load())
}

// Encode implements Codec. The result is a complete length-prefixed frame.
func (c *FieldCodec) Encode(req Request) ([]byte, error) {
	if req == nil || req.MessageID() <= 0 {
		return nil, ErrUnknownMessage
	}

	sv := c.ServerVersion()
	if v, ok := req.(versioned); ok && sv > 0 && sv < v.MinServerVersion() {
		return nil, fmt.Errorf("%w: %s needs %d, have %d", ErrUnsupported, OutName(req.MessageID()), v.MinServerVersion(), sv)
	}

	fields := append([]any{req.MessageID()}, req.Fields(sv)...)
	return wire.MakeFrame(wire.MakePayload(fields...)), nil
}

// Decode implements Codec. Message ids the codec does not model decode to
// event.Raw.
func (c *FieldCodec) Decode(frame []byte) (event.Event, error) {
	fields := wire.SplitFields(frame)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrBadMessage)
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: message id %q", ErrBadMessage, fields[0])
	}

	dec, ok := decoders[id]
	if !ok {
		return event.Raw{MsgID: id, Fields: fields[1:]}, nil
	}

	r := &fieldReader{fields: fields[1:], serverVersion: c.ServerVersion()}
	ev := dec(r)
	if r.err != nil {
		return nil, fmt.Errorf("message %d: %w", id, r.err)
	}

	return ev, nil
}
