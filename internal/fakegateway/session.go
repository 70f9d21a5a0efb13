package fakegateway

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/model"
	"github.com/cyberinferno/go-ibclient/wire"
)

// Session is one client connection.
type Session struct {
	id     uint32
	conn   net.Conn
	server *Server
	log    logger.Logger

	writeMu sync.Mutex
	ready   atomic.Bool
	closed  atomic.Bool

	clientID atomic.Int64
}

func newSession(id uint32, conn net.Conn, server *Server) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		server: server,
		log:    server.Logger.With(logger.Field{Key: "session", Value: id}),
	}
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// ClientID returns the client id sent with START_API.
func (s *Session) ClientID() int64 {
	return s.clientID.Load()
}

// Close drops the connection.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Send writes one frame with the given payload.
func (s *Session) Send(payload []byte) error {
	return s.write(wire.MakeFrame(payload))
}

// SendFields encodes fields as one frame.
func (s *Session) SendFields(fields ...any) error {
	return s.Send(wire.MakePayload(fields...))
}

func (s *Session) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(b)
	return err
}

// Handle runs the handshake and then serves requests until the client
// disconnects.
func (s *Session) Handle() {
	defer func() { _ = s.Close() }()
	s.log.Info("client connected", logger.Field{Key: "remote", Value: s.conn.RemoteAddr().String()})

	if err := s.handshake(); err != nil {
		s.log.Info("handshake ended", logger.Field{Key: "reason", Value: err.Error()})
		return
	}
	s.ready.Store(true)

	for {
		payload, err := readFrame(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.log.Info("client disconnected", logger.Field{Key: "error", Value: err.Error()})
			}
			return
		}

		fields := wire.SplitFields(payload)
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			s.log.Warn("bad message id", logger.Field{Key: "id", Value: fields[0]})
			continue
		}

		m := Message{SessionID: s.id, ID: id, Fields: fields[1:]}
		s.server.record(m)
		s.log.Debug("message received", logger.Field{Key: "id", Value: id}, logger.Field{Key: "fields", Value: len(m.Fields)})

		if h := s.server.OnMessage; h != nil && h(s, m) {
			continue
		}
		s.reply(m)
	}
}

func (s *Session) handshake() error {
	prefix := make([]byte, len(wire.Preamble))
	if _, err := io.ReadFull(s.conn, prefix); err != nil {
		return fmt.Errorf("read preamble: %w", err)
	}
	if string(prefix) != wire.Preamble {
		return fmt.Errorf("invalid preamble %q", prefix)
	}

	versions, err := readFrame(s.conn)
	if err != nil {
		return fmt.Errorf("read version range: %w", err)
	}
	s.log.Debug("version range received", logger.Field{Key: "range", Value: string(versions)})

	srv := s.server
	for _, n := range srv.Notices {
		if err := s.Send(n); err != nil {
			return err
		}
	}

	if srv.HangUpOnHandshake {
		return errors.New("hanging up on purpose")
	}

	version := srv.RawVersion
	if version == "" {
		version = strconv.Itoa(srv.ServerVersion)
	}
	out := wire.MakeFrame(wire.MakePayload(version, time.Now().Format("20060102 15:04:05 MST")))
	for _, t := range srv.Trailer {
		out = append(out, wire.MakeFrame(t)...)
	}

	return s.write(out)
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [wire.HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > wire.MaxMsgLen {
		return nil, fmt.Errorf("frame too long: %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

func field(m Message, i int) string {
	if i < len(m.Fields) {
		return m.Fields[i]
	}
	return ""
}

func fieldInt(m Message, i int) int64 {
	v, _ := strconv.ParseInt(field(m, i), 10, 64)
	return v
}

func (s *Session) reply(m Message) {
	srv := s.server

	switch m.ID {
	case codec.OutStartAPI:
		s.clientID.Store(fieldInt(m, 1))
		_ = s.SendFields(codec.InNextValidID, 1, srv.NextValidID)
		_ = s.SendFields(codec.InManagedAccts, 1, strings.Join(srv.Accounts, ","))

	case codec.OutReqIDs:
		_ = s.SendFields(codec.InNextValidID, 1, srv.NextValidID)

	case codec.OutReqCurrentTime:
		_ = s.SendFields(codec.InCurrentTime, 1, time.Now().Unix())

	case codec.OutReqContractData:
		s.replyContractData(m)

	case codec.OutReqAccountSummary:
		reqID := fieldInt(m, 1)
		_ = s.SendFields(codec.InAccountSummary, 1, reqID, srv.Accounts[0], "NetLiquidation", "250000", "USD")
		_ = s.SendFields(codec.InAccountSummaryEnd, 1, reqID)

	case codec.OutReqTickByTickData:
		s.replyTickByTick(m)

	case codec.OutReqMktData:
		reqID := fieldInt(m, 1)
		_ = s.SendFields(codec.InMarketDataType, 1, reqID, 1)
		// generic tick list, snapshot, regulatory snapshot, options follow the contract block
		if field(m, len(m.Fields)-3) == "1" {
			_ = s.SendFields(codec.InTickSnapshotEnd, 1, reqID)
		}

	case codec.OutReqPositions:
		_ = s.SendFields(codec.InPositionEnd, 1)

	case codec.OutReqOpenOrders:
		_ = s.SendFields(codec.InOpenOrderEnd, 1)

	case codec.OutReqCompletedOrders:
		_ = s.SendFields(codec.InCompletedOrdersEnd)
	}
}

func (s *Session) replyContractData(m Message) {
	reqID := fieldInt(m, 1)
	symbol := field(m, 3)

	found, ok := s.server.Contracts[symbol]
	if !ok {
		_ = s.SendFields(codec.InErrMsg, 2, reqID, 200, "No security definition has been found for the request", "")
		return
	}

	for _, d := range found {
		_ = s.SendFields(contractDataFields(reqID, d, s.server.ServerVersion)...)
	}
	_ = s.SendFields(codec.InContractDataEnd, 1, reqID)
}

func contractDataFields(reqID int64, d model.ContractDetails, serverVersion int) []any {
	c := d.Contract
	f := []any{codec.InContractData}
	if serverVersion < codec.MinServerVerSizeRules {
		f = append(f, 8)
	}
	f = append(f, reqID, c.Symbol, c.SecType, c.LastTradeDateOrContractMonth, c.Strike, c.Right,
		c.Exchange, c.Currency, c.LocalSymbol, d.MarketName, c.TradingClass, c.ConID, d.MinTick)
	if serverVersion < codec.MinServerVerSizeRules {
		f = append(f, 1)
	}

	return append(f, c.Multiplier, d.OrderTypes, d.ValidExchanges, d.PriceMagnifier, d.UnderConID,
		d.LongName, c.PrimaryExchange, d.ContractMonth, d.Industry, d.Category, d.Subcategory,
		d.TimeZoneID, d.TradingHours, d.LiquidHours)
}

// replyTickByTick sends two ticks of the requested type.
func (s *Session) replyTickByTick(m Message) {
	reqID := fieldInt(m, 0)
	tickType := field(m, 13)
	ts := time.Now().Unix()

	for i := 0; i < 2; i++ {
		at := ts + int64(i)
		switch tickType {
		case "Last", "AllLast":
			kind := 1
			if tickType == "AllLast" {
				kind = 2
			}
			_ = s.SendFields(codec.InTickByTick, reqID, kind, at, 150.2+float64(i)/100, 10+i, 0, "SMART", "")
		case "BidAsk":
			_ = s.SendFields(codec.InTickByTick, reqID, 3, at, 150.0+float64(i)/100, 150.5+float64(i)/100, 5+i, 8+i, 0)
		case "MidPoint":
			_ = s.SendFields(codec.InTickByTick, reqID, 4, at, 150.1+float64(i)/100)
		}
	}
}
