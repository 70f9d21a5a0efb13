package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/internal/fakegateway"
	"github.com/cyberinferno/go-ibclient/metrics"
	"github.com/cyberinferno/go-ibclient/transport"
	"github.com/cyberinferno/go-ibclient/wire"
)

const waitTimeout = 5 * time.Second

func startGateway(t *testing.T, gw *fakegateway.Server) *fakegateway.Server {
	t.Helper()
	require.NoError(t, gw.Start())
	t.Cleanup(gw.Stop)
	return gw
}

func newClient(t *testing.T, gw *fakegateway.Server, configure func(*Config)) *Client {
	t.Helper()
	host, port := gw.HostPort()
	cfg := DefaultConfig(host, port, 7)
	cfg.IdleTimeout = 20 * time.Millisecond
	if configure != nil {
		configure(&cfg)
	}

	c := New(cfg)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func nextEvent(t *testing.T, c *Client) event.Stamped {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	ev, err := c.Events().Get(ctx)
	require.NoError(t, err, "no event arrived")
	return ev
}

// nextOf skips queued events until one of type T arrives.
func nextOf[T event.Event](t *testing.T, c *Client) T {
	t.Helper()
	for {
		if e, ok := nextEvent(t, c).Event.(T); ok {
			return e
		}
	}
}

func drain(c *Client) []event.Event {
	var out []event.Event
	for {
		st, ok := c.Events().TryGet()
		if !ok {
			return out
		}
		out = append(out, st.Event)
	}
}

// connect connects and consumes the session start replies, after which the
// gateway treats the session as ready.
func connect(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(testContext(t)))
	nextOf[event.ManagedAccounts](t, c)
}

var errRefused = errors.New("encode refused")

// refusingCodec fails to encode the listed message ids.
type refusingCodec struct {
	*codec.FieldCodec
	refuse map[int]bool
}

func newRefusingCodec(ids ...int) *refusingCodec {
	c := &refusingCodec{FieldCodec: codec.NewFieldCodec(), refuse: map[int]bool{}}
	for _, id := range ids {
		c.refuse[id] = true
	}
	return c
}

func (c *refusingCodec) Encode(req codec.Request) ([]byte, error) {
	if c.refuse[req.MessageID()] {
		return nil, errRefused
	}
	return c.FieldCodec.Encode(req)
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			if m.GetCounter() != nil {
				sum += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				sum += m.GetGauge().GetValue()
			}
		}
		return sum
	}

	return 0
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unset", StateUnset.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1", 4002, 3)

	assert.Equal(t, "127.0.0.1:4002", cfg.Transport.Address)
	assert.Equal(t, int64(3), cfg.ClientID)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, wire.MaxMsgLen, cfg.MaxMessageLength)
}

func TestClient_Connect(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{NextValidID: 100, Accounts: []string{"DU1", "DU2"}})
	c := newClient(t, gw, nil)
	assert.Equal(t, StateUnset, c.State())

	require.NoError(t, c.Connect(testContext(t)))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 176, c.ServerVersion())
	assert.NotEmpty(t, c.ConnectionTime())

	assert.Equal(t, event.ConnectAck{}, nextEvent(t, c).Event)
	assert.Equal(t, event.NextValidID{OrderID: 100}, nextEvent(t, c).Event)
	assert.Equal(t, event.ManagedAccounts{Accounts: []string{"DU1", "DU2"}}, nextEvent(t, c).Event)

	require.NoError(t, c.WaitReady(testContext(t)))
	next, ok := c.NextRequestID()
	assert.True(t, ok)
	assert.Equal(t, int64(100), next)

	// session start is the first message after the handshake
	received := gw.Received()
	require.NotEmpty(t, received)
	assert.Equal(t, codec.OutStartAPI, received[0].ID)
	assert.Equal(t, []string{"2", "7", ""}, received[0].Fields)
}

func TestClient_Connect_peerClosesDuringHandshake(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{HangUpOnHandshake: true})
	c := newClient(t, gw, nil)

	err := c.Connect(testContext(t))
	assert.ErrorIs(t, err, ErrHandshakeAborted)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.ConnectionTime())

	closed := 0
	for _, ev := range drain(c) {
		assert.NotEqual(t, event.KindConnectAck, ev.Kind())
		if ev.Kind() == event.KindConnectionClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)

	// nothing left to tear down
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Zero(t, c.Events().Len())
}

func TestClient_Connect_badServerVersion(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{RawVersion: "abc"})
	c := newClient(t, gw, nil)

	err := c.Connect(testContext(t))
	assert.ErrorIs(t, err, ErrHandshakeAborted)
	assert.ErrorIs(t, err, codec.ErrBadMessage)
	assert.Equal(t, StateDisconnected, c.State())

	bad, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.NoValidID, bad.ReqID)
	assert.Equal(t, event.CodeBadMessage, bad.Code)
	assert.Equal(t, event.ConnectionClosed{}, nextEvent(t, c).Event)
}

func TestClient_Connect_sessionStartFails(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, func(cfg *Config) {
		cfg.Codec = newRefusingCodec(codec.OutStartAPI)
	})

	err := c.Connect(testContext(t))
	assert.ErrorIs(t, err, ErrHandshakeAborted)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, StateDisconnected, c.State())

	failed, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.CodeConnectFail, failed.Code)
	assert.Contains(t, failed.Message, errRefused.Error())
	assert.Equal(t, event.ConnectionClosed{}, nextEvent(t, c).Event)
	assert.Zero(t, c.Events().Len())

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Zero(t, c.Events().Len())
}

func TestClient_Connect_refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New(DefaultConfig("127.0.0.1", port, 1))
	err = c.Connect(testContext(t))
	assert.ErrorIs(t, err, transport.ErrConnectFailed)
	assert.Equal(t, StateDisconnected, c.State())

	failed, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.NoValidID, failed.ReqID)
	assert.Equal(t, event.CodeConnectFail, failed.Code)
	assert.Zero(t, c.Events().Len())
}

func TestClient_Connect_alreadyConnected(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, nil)
	connect(t, c)

	assert.ErrorIs(t, c.Connect(testContext(t)), ErrAlreadyConnected)

	dup := nextOf[event.Error](t, c)
	assert.Equal(t, event.CodeAlreadyConnected, dup.Code)
	assert.Equal(t, event.NoValidID, dup.ReqID)
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_notConnected(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1", 1, 1))
	ctx := testContext(t)

	assert.ErrorIs(t, c.Send(ctx, codec.ReqCurrentTime{}), ErrNotConnected)
	notConn, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.CodeNotConnected, notConn.Code)
	assert.Equal(t, event.NoValidID, notConn.ReqID)

	id, err := c.ReqTickByTickData(ctx, aapl, "Last", 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, id)
	assert.Empty(t, c.Subscriptions())

	_, err = c.ContractDetails(ctx, aapl)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.WaitReady(ctx), ErrNotConnected)

	_, ok = c.NextRequestID()
	assert.False(t, ok)

	require.NoError(t, c.Disconnect(ctx))
	drain(c)
	require.NoError(t, c.Disconnect(ctx))
	assert.Zero(t, c.Events().Len())
}

func TestClient_noticeBeforeAckAndTrailingFrames(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{
		Notices: [][]byte{wire.MakePayload(codec.InErrMsg, 2, -1, 2104, "Market data farm connection is OK:usfarm", "")},
		Trailer: [][]byte{wire.MakePayload(codec.InCurrentTime, 1, 1700000000)},
	})
	c := newClient(t, gw, nil)
	require.NoError(t, c.Connect(testContext(t)))

	notice, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, 2104, notice.Code)

	assert.Equal(t, event.ConnectAck{}, nextEvent(t, c).Event)
	assert.Equal(t, event.CurrentTime{Time: time.Unix(1700000000, 0).UTC()}, nextEvent(t, c).Event)
	assert.Equal(t, event.KindNextValidID, nextEvent(t, c).Event.Kind())
}

func TestClient_oversizedFrame(t *testing.T) {
	reg := prometheus.NewRegistry()
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, func(cfg *Config) {
		cfg.MaxMessageLength = 32
		cfg.Metrics = metrics.New(reg, "test")
	})
	connect(t, c)

	big := wire.MakePayload(codec.InErrMsg, 2, 5, 321, strings.Repeat("x", 40), "")
	gw.Push(big)
	gw.PushFields(codec.InTickSnapshotEnd, 1, 9)

	tooLong, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.NoValidID, tooLong.ReqID)
	assert.Equal(t, event.CodeBadLength, tooLong.Code)
	assert.Equal(t, "Bad message length:"+strconv.Itoa(len(big)), tooLong.Message)

	assert.Equal(t, event.TickSnapshotEnd{ReqID: 9}, nextEvent(t, c).Event)
	assert.Equal(t, float64(1), metricValue(t, reg, "test_frames_oversized_total"))
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_decodeFailureKeepsLoopRunning(t *testing.T) {
	reg := prometheus.NewRegistry()
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, func(cfg *Config) {
		cfg.Metrics = metrics.New(reg, "test")
	})
	connect(t, c)

	gw.Push(wire.MakePayload("abc", 1))
	gw.PushFields(codec.InTickByTick, 5, 9, 1700000000)
	gw.PushFields(codec.InTickSnapshotEnd, 1, 9)

	assert.Equal(t, event.TickSnapshotEnd{ReqID: 9}, nextEvent(t, c).Event)
	assert.Equal(t, float64(2), metricValue(t, reg, "test_decode_errors_total"))
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_eventOrderAndStamps(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, nil)
	connect(t, c)

	gw.PushFields(codec.InErrMsg, 2, 5, 10167, "Displaying delayed market data", "")
	for i := 0; i < 20; i++ {
		gw.PushFields(codec.InTickByTick, 5, 4, 1700000000+i, 150.25)
	}
	gw.PushFields(codec.InCurrentTime, 1, 1700000100)

	first := nextEvent(t, c)
	assert.Equal(t, event.KindError, first.Event.Kind())
	assert.False(t, first.HasTime())

	var last time.Time
	for i := 0; i < 20; i++ {
		st := nextEvent(t, c)
		tick, ok := st.Event.(event.TickByTickMidPoint)
		require.True(t, ok, "got %s", st.Event.Kind())
		assert.Equal(t, int64(1700000000+i), tick.Time.Unix())
		require.True(t, st.HasTime())
		assert.False(t, st.Time.Before(last))
		last = st.Time
	}

	end := nextEvent(t, c)
	assert.Equal(t, event.KindCurrentTime, end.Event.Kind())
	assert.False(t, end.HasTime())
}

func TestClient_Disconnect_idempotent(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, nil)
	connect(t, c)

	ctx := testContext(t)
	require.NoError(t, c.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.Disconnect(ctx))

	evs := drain(c)
	closed := 0
	for _, ev := range evs {
		if ev.Kind() == event.KindConnectionClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
	require.NotEmpty(t, evs)
	assert.Equal(t, event.KindConnectionClosed, evs[len(evs)-1].Kind())

	assert.ErrorIs(t, c.Send(ctx, codec.ReqCurrentTime{}), ErrNotConnected)
}

func TestClient_peerCloseAndReconnect(t *testing.T) {
	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, nil)
	connect(t, c)

	gw.CloseClients()
	nextOf[event.ConnectionClosed](t, c)
	assert.Equal(t, StateDisconnected, c.State())

	connect(t, c)
	assert.Equal(t, StateConnected, c.State())
	require.Eventually(t, func() bool { return gw.Sessions() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_reconnectWhileHandlerBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool

	gw := startGateway(t, &fakegateway.Server{})
	c := newClient(t, gw, func(cfg *Config) {
		cfg.Handler = event.HandlerFunc(func(ev event.Event) {
			if _, ok := ev.(event.ManagedAccounts); ok && blocked.CompareAndSwap(false, true) {
				close(entered)
				<-release
			}
		})
	})
	require.NoError(t, c.Connect(testContext(t)))

	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("handler never saw ManagedAccounts")
	}
	require.NoError(t, c.Disconnect(testContext(t)))

	ctx := testContext(t)
	reconnected := make(chan error, 1)
	go func() { reconnected <- c.Connect(ctx) }()

	select {
	case err := <-reconnected:
		t.Fatalf("Connect returned before the old connection closed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-reconnected:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
	}

	require.NoError(t, c.WaitReady(ctx))
	id, err := c.ReqTickByTickData(ctx, aapl, "Last", 0, false)
	require.NoError(t, err)
	require.NoError(t, c.ReqCurrentTime(ctx))

	var kinds []event.Kind
	for {
		ev := nextEvent(t, c).Event
		kinds = append(kinds, ev.Kind())
		if ev.Kind() == event.KindCurrentTime {
			break
		}
	}

	require.GreaterOrEqual(t, len(kinds), 7)
	assert.Equal(t, []event.Kind{
		event.KindConnectAck, event.KindNextValidID, event.KindManagedAccounts,
		event.KindConnectionClosed,
		event.KindConnectAck, event.KindNextValidID, event.KindManagedAccounts,
	}, kinds[:7])
	assert.Equal(t, 1, countKind(kinds, event.KindConnectionClosed))

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []int64{id}, c.Subscriptions())
}

func countKind(kinds []event.Kind, k event.Kind) int {
	n := 0
	for _, got := range kinds {
		if got == k {
			n++
		}
	}
	return n
}

func TestClient_handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	var idles atomic.Int32
	seeded := make(chan event.NextValidID, 1)

	mux := event.NewMux()
	event.On(mux, func(e event.NextValidID) { seeded <- e })
	event.On(mux, func(event.TickSnapshotEnd) { panic("boom") })

	gw := startGateway(t, &fakegateway.Server{NextValidID: 42})
	c := newClient(t, gw, func(cfg *Config) {
		cfg.Handler = mux
		cfg.Metrics = metrics.New(reg, "test")
		cfg.OnIdle = func() { idles.Add(1) }
	})
	connect(t, c)

	select {
	case e := <-seeded:
		assert.Equal(t, int64(42), e.OrderID)
	case <-time.After(waitTimeout):
		t.Fatal("handler did not see NextValidID")
	}

	gw.PushFields(codec.InTickSnapshotEnd, 1, 4)
	gw.PushFields(codec.InCurrentTime, 1, 1700000000)

	assert.Equal(t, event.TickSnapshotEnd{ReqID: 4}, nextEvent(t, c).Event)
	recovered, ok := nextEvent(t, c).Event.(event.Error)
	require.True(t, ok)
	assert.Equal(t, event.CodeBadMessage, recovered.Code)
	assert.Equal(t, event.KindCurrentTime, nextEvent(t, c).Event.Kind())
	assert.Equal(t, float64(1), metricValue(t, reg, "test_handler_panics_total"))

	require.Eventually(t, func() bool { return idles.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Positive(t, metricValue(t, reg, "test_idle_ticks_total"))
}

func TestClient_disconnectFromHandler(t *testing.T) {
	var c *Client
	gw := startGateway(t, &fakegateway.Server{})
	c = newClient(t, gw, func(cfg *Config) {
		cfg.Handler = event.HandlerFunc(func(ev event.Event) {
			if _, ok := ev.(event.ManagedAccounts); ok {
				_ = c.Disconnect(context.Background())
			}
		})
	})

	require.NoError(t, c.Connect(testContext(t)))
	nextOf[event.ConnectionClosed](t, c)
	assert.Equal(t, StateDisconnected, c.State())
}
