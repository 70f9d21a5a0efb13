// Package wire implements the gateway's byte-level conventions: the
// connection preamble, 4-byte big-endian length framing, and NUL-delimited
// text fields.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

const (
	// Preamble is written once, before the version negotiation frame.
	Preamble = "API\x00"

	// MinClientVersion and MaxClientVersion bound the protocol versions this
	// client offers during the handshake.
	MinClientVersion = 100
	MaxClientVersion = 176

	// HeaderLen is the size of the length prefix in front of every frame.
	HeaderLen = 4

	// MaxMsgLen is the largest payload the gateway may legitimately send.
	MaxMsgLen = 0xFFFFFF
)

// MakeFrame prefixes payload with its 4-byte big-endian length.
func MakeFrame(payload []byte) []byte {
	out := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderLen:], payload)
	return out
}

// ReadFrame strips one frame from the front of buf.
//
// Parameters:
//   - buf: Buffered bytes, possibly holding several frames or a partial one
//
// Returns:
//   - frame: The payload of the first frame (length prefix removed)
//   - rest: The bytes following that frame
//   - ok: false if buf does not yet hold a complete frame; frame and rest
//     are then nil and buf must be kept intact
func ReadFrame(buf []byte) (frame, rest []byte, ok bool) {
	if len(buf) < HeaderLen {
		return nil, nil, false
	}

	size := binary.BigEndian.Uint32(buf)
	if uint64(len(buf)-HeaderLen) < uint64(size) {
		return nil, nil, false
	}

	end := HeaderLen + int(size)
	return buf[HeaderLen:end], buf[end:], true
}

// MakeField renders a single value in the gateway's text encoding, followed
// by the NUL terminator. Booleans are sent as 1/0 and nil as an empty field.
func MakeField(v any) string {
	return formatField(v) + "\x00"
}

func formatField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		if x == math.MaxFloat64 {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// MakePayload encodes fields as a sequence of NUL-terminated tokens.
func MakePayload(fields ...any) []byte {
	var b bytes.Buffer
	for _, f := range fields {
		b.WriteString(formatField(f))
		b.WriteByte(0)
	}

	return b.Bytes()
}

// SplitFields splits a frame payload into its NUL-delimited fields. The
// terminator after the last field does not produce an empty trailing field.
func SplitFields(frame []byte) []string {
	if len(frame) == 0 {
		return nil
	}

	parts := bytes.Split(frame, []byte{0})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}

	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = string(p)
	}

	return fields
}

// VersionPayload builds the version range offered during the handshake,
// e.g. "v100..176" or "v100..176 +PACEAPI".
func VersionPayload(minVersion, maxVersion int, options string) string {
	s := fmt.Sprintf("v%d..%d", minVersion, maxVersion)
	if options != "" {
		s += " " + options
	}

	return s
}

// Handshake returns the complete first write of a connection: the preamble
// followed by the framed version range.
func Handshake(minVersion, maxVersion int, options string) []byte {
	frame := MakeFrame([]byte(VersionPayload(minVersion, maxVersion, options)))
	out := make([]byte, 0, len(Preamble)+len(frame))
	out = append(out, Preamble...)
	return append(out, frame...)
}
