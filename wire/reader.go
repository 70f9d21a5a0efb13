package wire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-ibclient/logger"
)

// ErrFrameTooLong is returned when a length prefix declares more than
// MaxMsgLen bytes. The stream cannot be resynchronized after it.
var ErrFrameTooLong = errors.New("declared frame length too long")

// Splitter reassembles frames from an arbitrarily chunked byte stream.
// Bytes that do not yet form a complete frame stay buffered across calls.
// It is not safe for concurrent use.
type Splitter struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every frame that is now
// complete, in stream order. The returned frames do not alias the buffer.
// A header declaring more than MaxMsgLen bytes stops the scan with
// ErrFrameTooLong; frames ahead of it are still returned.
func (s *Splitter) Feed(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)

	var (
		frames [][]byte
		err    error
	)
	rest := s.buf
	for {
		if len(rest) >= HeaderLen {
			if size := binary.BigEndian.Uint32(rest); size > MaxMsgLen {
				err = fmt.Errorf("%w: %d bytes", ErrFrameTooLong, size)
				break
			}
		}
		frame, next, ok := ReadFrame(rest)
		if !ok {
			break
		}
		frames = append(frames, bytesClone(frame))
		rest = next
	}

	if len(frames) > 0 {
		n := copy(s.buf, rest)
		s.buf = s.buf[:n]
	}

	return frames, err
}

// Buffered returns the number of bytes held back waiting for more data.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

func bytesClone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ChunkSource is the read side of the byte transport.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// Reader pulls chunks from Source for the lifetime of a connection and emits
// complete frames in arrival order.
type Reader struct {
	Source   ChunkSource
	Splitter *Splitter
	Emit     func(frame []byte)
	Logger   logger.Logger
}

// Run reads until the peer closes the stream or ctx is cancelled, both of
// which end the reader normally with a nil error. Any other read failure,
// or ErrFrameTooLong, is returned.
func (r *Reader) Run(ctx context.Context) error {
	if r.Splitter == nil {
		r.Splitter = &Splitter{}
	}
	log := r.Logger
	if log == nil {
		log = logger.Nop()
	}

	log.Debug("reader started")
	for {
		chunk, err := r.Source.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("reader cancelled")
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Debug("reader reached end of stream", logger.Field{Key: "buffered", Value: r.Splitter.Buffered()})
				return nil
			}
			return err
		}
		if len(chunk) == 0 {
			log.Debug("reader got empty chunk, treating as end of stream")
			return nil
		}

		frames, err := r.Splitter.Feed(chunk)
		log.Debug("reader received chunk",
			logger.Field{Key: "size", Value: len(chunk)},
			logger.Field{Key: "frames", Value: len(frames)},
			logger.Field{Key: "buffered", Value: r.Splitter.Buffered()},
		)
		for _, f := range frames {
			r.Emit(f)
		}
		if err != nil {
			return err
		}
	}
}
