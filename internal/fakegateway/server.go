// Package fakegateway is an in-process gateway that speaks the framed wire
// protocol: it performs the version handshake and answers a handful of
// requests with canned replies. It backs the end-to-end client tests and the
// fakegateway command.
package fakegateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-ibclient/correlate"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/model"
	"github.com/cyberinferno/go-ibclient/wire"
)

// Message is one request received from a client.
type Message struct {
	SessionID uint32
	ID        int
	// Fields excludes the message id.
	Fields []string
}

// Handler may intercept a message. Returning true suppresses the canned
// reply.
type Handler func(s *Session, m Message) bool

// Server accepts client connections. Exported fields configure the server
// and must be set before Start.
type Server struct {
	// Addr is the listen address; "127.0.0.1:0" if empty.
	Addr string
	// ServerVersion is sent in the handshake reply; 176 if zero.
	ServerVersion int
	// RawVersion, when set, replaces the version field of the handshake reply.
	RawVersion string
	// NextValidID is reported after START_API and REQ_IDS; 1 if zero.
	NextValidID int64
	// Accounts is reported after START_API; DU12345 if empty.
	Accounts []string
	// Notices are frame payloads sent before the handshake reply.
	Notices [][]byte
	// Trailer holds frame payloads written in the same write as the reply.
	Trailer [][]byte
	// HangUpOnHandshake closes the connection instead of replying.
	HangUpOnHandshake bool
	// Contracts answers REQ_CONTRACT_DATA by symbol.
	Contracts map[string][]model.ContractDetails
	// OnMessage sees every message before the canned reply.
	OnMessage Handler
	Logger    logger.Logger

	listener net.Listener
	running  atomic.Bool
	nextID   atomic.Uint32
	sessions *correlate.Registry[uint32, *Session]
	wg       sync.WaitGroup

	mu       sync.Mutex
	received []Message
	arrived  chan struct{}
}

// Start listens and begins accepting clients in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return errors.New("fake gateway already running")
	}
	if s.Logger == nil {
		s.Logger = logger.Nop()
	}
	if s.Addr == "" {
		s.Addr = "127.0.0.1:0"
	}
	if s.ServerVersion == 0 {
		s.ServerVersion = wire.MaxClientVersion
	}
	if s.NextValidID == 0 {
		s.NextValidID = 1
	}
	if len(s.Accounts) == 0 {
		s.Accounts = []string{"DU12345"}
	}
	s.sessions = correlate.NewRegistry[uint32, *Session]()
	s.arrived = make(chan struct{}, 1)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("fake gateway failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("fake gateway failed to start: %w", err)
	}

	s.listener = ln
	s.running.Store(true)
	s.Logger.Info("fake gateway started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener == nil {
		return s.Addr
	}
	return s.listener.Addr().String()
}

// HostPort splits Address into host and port.
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.Address())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Stop closes the listener and every session and waits for them to end.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}

	_ = s.listener.Close()
	s.CloseClients()
	s.wg.Wait()
	s.Logger.Info("fake gateway stopped")
}

// CloseClients drops every connected client, as a gateway restart would.
func (s *Server) CloseClients() {
	s.sessions.Range(func(_ uint32, sess *Session) bool {
		_ = sess.Close()
		return true
	})
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.Len()
}

// Push sends a frame payload to every connected client that finished the
// handshake.
func (s *Server) Push(payload []byte) {
	s.sessions.Range(func(_ uint32, sess *Session) bool {
		if sess.ready.Load() {
			_ = sess.Send(payload)
		}
		return true
	})
}

// PushFields encodes fields as a payload and pushes it.
func (s *Server) PushFields(fields ...any) {
	s.Push(wire.MakePayload(fields...))
}

// Received returns a snapshot of every message received so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.received...)
}

// WaitFor blocks until count messages with the given id have arrived.
func (s *Server) WaitFor(ctx context.Context, id, count int) ([]Message, error) {
	for {
		var matched []Message
		for _, m := range s.Received() {
			if m.ID == id {
				matched = append(matched, m)
			}
		}
		if len(matched) >= count {
			return matched, nil
		}

		select {
		case <-ctx.Done():
			return matched, ctx.Err()
		case <-s.arrived:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	s.received = append(s.received, m)
	s.mu.Unlock()

	select {
	case s.arrived <- struct{}{}:
	default:
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.Logger.Error("fake gateway accept error", logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		id := s.nextID.Add(1)
		sess := newSession(id, conn, s)
		s.sessions.Store(id, sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sessions.Delete(id)
			sess.Handle()
		}()
	}
}
