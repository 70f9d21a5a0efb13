package client

import (
	"net"
	"strconv"
	"time"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/contractcache"
	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/metrics"
	"github.com/cyberinferno/go-ibclient/transport"
	"github.com/cyberinferno/go-ibclient/wire"
)

// DefaultIdleTimeout is how long the dispatch loop waits on an empty frame
// queue before running the idle hook.
const DefaultIdleTimeout = 200 * time.Millisecond

// State is the lifecycle phase of the client's connection.
type State int32

const (
	StateUnset        State = iota // No connection attempt yet
	StateConnecting                // Socket open, handshake in progress
	StateConnected                 // Handshake done, dispatch loop running
	StateDisconnected              // Connection torn down
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config holds configuration for the client.
type Config struct {
	// Host and Port locate the gateway; used when Transport.Address is empty.
	Host string
	Port int
	// ClientID is sent with the session start message.
	ClientID int64
	// ConnectionOptions is appended to the version range in the handshake
	// (e.g. "+PACEAPI").
	ConnectionOptions string
	// OptionalCapabilities is sent with the session start message.
	OptionalCapabilities string
	// MaxMessageLength bounds inbound frames; longer frames are reported and
	// discarded.
	MaxMessageLength int
	// IdleTimeout is the empty-queue wait after which OnIdle runs.
	IdleTimeout time.Duration
	// OnIdle runs on the dispatch goroutine each time the frame queue stays
	// empty for IdleTimeout. Optional.
	OnIdle func()

	Transport transport.Config
	// Codec defaults to a new codec.FieldCodec.
	Codec codec.Codec
	// Handler receives every event after it has been queued. Optional.
	Handler event.Handler
	// Logger defaults to a discarding logger.
	Logger logger.Logger
	// Metrics may be nil.
	Metrics *metrics.Collector
	// ContractCache, when set, serves ContractDetails lookups.
	ContractCache *contractcache.Lookup
}

// DefaultConfig returns a Config with default values for the given gateway.
//
// Parameters:
//   - host: Gateway host (e.g. "127.0.0.1")
//   - port: Gateway port (e.g. 4002)
//   - clientID: Client id for the session
//
// Returns:
//   - A Config with IdleTimeout 200ms, MaxMessageLength wire.MaxMsgLen and
//     transport defaults for host:port
func DefaultConfig(host string, port int, clientID int64) Config {
	return Config{
		Host:             host,
		Port:             port,
		ClientID:         clientID,
		MaxMessageLength: wire.MaxMsgLen,
		IdleTimeout:      DefaultIdleTimeout,
		Transport:        transport.DefaultConfig(address(host, port)),
	}
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c Config) withDefaults() Config {
	if c.Transport.Address == "" {
		t := transport.DefaultConfig(address(c.Host, c.Port))
		t.ReadBufferSize = c.Transport.ReadBufferSize
		if c.Transport.ConnectionTimeout > 0 {
			t.ConnectionTimeout = c.Transport.ConnectionTimeout
		}
		if c.Transport.WriteTimeout > 0 {
			t.WriteTimeout = c.Transport.WriteTimeout
		}
		c.Transport = t
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = wire.MaxMsgLen
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Codec == nil {
		c.Codec = codec.NewFieldCodec()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return c
}
