package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/model"
	"github.com/cyberinferno/go-ibclient/wire"
)

func payload(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func newCodec(sv int) *FieldCodec {
	c := NewFieldCodec()
	c.SetServerVersion(sv)
	return c
}

func encodedFields(t *testing.T, c *FieldCodec, req Request) []string {
	t.Helper()
	frame, err := c.Encode(req)
	require.NoError(t, err)

	body, rest, ok := wire.ReadFrame(frame)
	require.True(t, ok)
	require.Empty(t, rest)
	return wire.SplitFields(body)
}

func TestFieldCodec_ServerVersion(t *testing.T) {
	c := NewFieldCodec()
	assert.Equal(t, 0, c.ServerVersion())
	c.SetServerVersion(176)
	assert.Equal(t, 176, c.ServerVersion())
}

func TestDecode_errors(t *testing.T) {
	c := newCodec(176)

	t.Run("empty frame", func(t *testing.T) {
		_, err := c.Decode(nil)
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("non numeric message id", func(t *testing.T) {
		_, err := c.Decode(payload("abc", "1"))
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("truncated frame", func(t *testing.T) {
		_, err := c.Decode(payload("9", "1"))
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("malformed integer", func(t *testing.T) {
		_, err := c.Decode(payload("9", "1", "x12"))
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("unknown tick-by-tick type", func(t *testing.T) {
		_, err := c.Decode(payload("99", "1", "9", "1700000000"))
		assert.ErrorIs(t, err, ErrBadMessage)
	})
}

func TestDecode_unknownIsRaw(t *testing.T) {
	ev, err := newCodec(176).Decode(payload("21", "1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, event.Raw{MsgID: 21, Fields: []string{"1", "2", "3"}}, ev)
}

func TestDecode_session(t *testing.T) {
	c := newCodec(176)

	t.Run("next valid id", func(t *testing.T) {
		ev, err := c.Decode(payload("9", "1", "100"))
		require.NoError(t, err)
		assert.Equal(t, event.NextValidID{OrderID: 100}, ev)
	})

	t.Run("managed accounts", func(t *testing.T) {
		ev, err := c.Decode(payload("15", "1", "DU1,DU2,"))
		require.NoError(t, err)
		assert.Equal(t, event.ManagedAccounts{Accounts: []string{"DU1", "DU2"}}, ev)
	})

	t.Run("current time", func(t *testing.T) {
		ev, err := c.Decode(payload("49", "1", "1700000000"))
		require.NoError(t, err)
		assert.Equal(t, event.CurrentTime{Time: time.Unix(1700000000, 0).UTC()}, ev)
	})

	t.Run("error with advanced reject", func(t *testing.T) {
		ev, err := c.Decode(payload("4", "2", "-1", "2104", "Market data farm connection is OK", "{}"))
		require.NoError(t, err)
		assert.Equal(t, event.Error{ReqID: -1, Code: 2104, Message: "Market data farm connection is OK", AdvancedOrderRejectJSON: "{}"}, ev)
	})

	t.Run("error without advanced reject", func(t *testing.T) {
		ev, err := c.Decode(payload("4", "2", "7", "200", "No security definition"))
		require.NoError(t, err)
		assert.Equal(t, event.Error{ReqID: 7, Code: 200, Message: "No security definition"}, ev)
	})
}

func TestDecode_ticks(t *testing.T) {
	c := newCodec(176)
	ts := time.Unix(1700000000, 0).UTC()

	t.Run("bid ask", func(t *testing.T) {
		ev, err := c.Decode(payload("99", "5", "3", "1700000000", "150.01", "150.03", "5", "8", "0"))
		require.NoError(t, err)
		assert.Equal(t, event.TickByTickBidAsk{ReqID: 5, Time: ts, BidPx: 150.01, AskPx: 150.03, BidSize: 5, AskSize: 8}, ev)
	})

	t.Run("all last", func(t *testing.T) {
		ev, err := c.Decode(payload("99", "5", "2", "1700000000", "150.2", "10", "0", "SMART", ""))
		require.NoError(t, err)
		assert.Equal(t, event.TickByTickAllLast{ReqID: 5, TickType: 2, Time: ts, Price: 150.2, Size: 10, Exchange: "SMART"}, ev)
	})

	t.Run("mid point", func(t *testing.T) {
		ev, err := c.Decode(payload("99", "5", "4", "1700000000", "150.1"))
		require.NoError(t, err)
		assert.Equal(t, event.TickByTickMidPoint{ReqID: 5, Time: ts, MidPoint: 150.1}, ev)
	})

	t.Run("tick price and size", func(t *testing.T) {
		ev, err := c.Decode(payload("1", "6", "3", "1", "99.5", "200", "3"))
		require.NoError(t, err)
		assert.Equal(t, event.TickPrice{ReqID: 3, TickType: 1, Price: 99.5, Size: 200, Attrib: 3}, ev)

		ev, err = c.Decode(payload("2", "6", "3", "0", "400"))
		require.NoError(t, err)
		assert.Equal(t, event.TickSize{ReqID: 3, Size: 400}, ev)
	})

	t.Run("snapshot end and market data type", func(t *testing.T) {
		ev, err := c.Decode(payload("57", "1", "3"))
		require.NoError(t, err)
		assert.Equal(t, event.TickSnapshotEnd{ReqID: 3}, ev)

		ev, err = c.Decode(payload("58", "1", "3", "2"))
		require.NoError(t, err)
		assert.Equal(t, event.MarketDataType{ReqID: 3, MarketDataType: 2}, ev)
	})
}

func TestDecode_orderStatus(t *testing.T) {
	fields := []string{"12", "Filled", "100", "0", "150.25", "777", "0", "150.25", "1", ""}

	t.Run("modern layout has no version and carries market cap price", func(t *testing.T) {
		args := append(append([]string{"3"}, fields...), "0")
		ev, err := newCodec(176).Decode(payload(args...))
		require.NoError(t, err)
		assert.Equal(t, event.OrderStatus{
			OrderID: 12, Status: "Filled", Filled: 100, AvgFillPrice: 150.25,
			PermID: 777, LastFillPrice: 150.25, ClientID: 1,
		}, ev)
	})

	t.Run("old layout leads with version", func(t *testing.T) {
		args := append([]string{"3", "8"}, fields...)
		ev, err := newCodec(130).Decode(payload(args...))
		require.NoError(t, err)
		assert.Equal(t, int64(12), ev.(event.OrderStatus).OrderID)
	})
}

func TestDecode_batches(t *testing.T) {
	c := newCodec(176)

	t.Run("contract details", func(t *testing.T) {
		ev, err := c.Decode(payload(
			"10", "7", "AAPL", "STK", "", "0", "", "SMART", "USD", "AAPL", "NMS", "NMS", "265598", "0.01",
			"", "LMT,MKT", "SMART,NASDAQ", "1", "0", "APPLE INC", "NASDAQ", "", "Technology", "Computers",
			"Computers", "US/Eastern", "20240101:0930-1600", "20240101:0930-1600", "extra1", "extra2",
		))
		require.NoError(t, err)

		cd := ev.(event.ContractDetails)
		assert.Equal(t, int64(7), cd.ReqID)
		assert.Equal(t, "AAPL", cd.Details.Contract.Symbol)
		assert.Equal(t, int64(265598), cd.Details.Contract.ConID)
		assert.Equal(t, "NASDAQ", cd.Details.Contract.PrimaryExchange)
		assert.Equal(t, 0.01, cd.Details.MinTick)
		assert.Equal(t, "APPLE INC", cd.Details.LongName)
		assert.Equal(t, "US/Eastern", cd.Details.TimeZoneID)
		assert.Equal(t, []string{"extra1", "extra2"}, cd.Details.Extra)
	})

	t.Run("contract details end", func(t *testing.T) {
		ev, err := c.Decode(payload("52", "1", "7"))
		require.NoError(t, err)
		assert.Equal(t, event.ContractDetailsEnd{ReqID: 7}, ev)
	})

	t.Run("position", func(t *testing.T) {
		ev, err := c.Decode(payload("61", "3", "DU1", "265598", "AAPL", "STK", "", "0", "", "", "NASDAQ", "USD", "AAPL", "NMS", "10", "150.5"))
		require.NoError(t, err)
		p := ev.(event.Position)
		assert.Equal(t, "DU1", p.Account)
		assert.Equal(t, "AAPL", p.Contract.Symbol)
		assert.Equal(t, 10.0, p.Position)
		assert.Equal(t, 150.5, p.AvgCost)
	})

	t.Run("execution", func(t *testing.T) {
		ev, err := c.Decode(payload(
			"11", "4", "12", "265598", "AAPL", "STK", "", "0", "", "", "SMART", "USD", "AAPL", "NMS",
			"0001", "20240101 10:00:00", "DU1", "ISLAND", "BOT", "100", "150.25", "777", "1", "0",
			"100", "150.25", "", "", "", "", "2",
		))
		require.NoError(t, err)
		e := ev.(event.ExecDetails)
		assert.Equal(t, int64(4), e.ReqID)
		assert.Equal(t, int64(12), e.Execution.OrderID)
		assert.Equal(t, "0001", e.Execution.ExecID)
		assert.Equal(t, 100.0, e.Execution.Shares)
		assert.Equal(t, int64(2), e.Execution.LastLiquidity)
	})

	t.Run("account summary", func(t *testing.T) {
		ev, err := c.Decode(payload("63", "1", "9", "DU1", "NetLiquidation", "250000", "USD"))
		require.NoError(t, err)
		assert.Equal(t, event.AccountSummary{ReqID: 9, Account: "DU1", Tag: "NetLiquidation", Value: "250000", Currency: "USD"}, ev)

		ev, err = c.Decode(payload("64", "1", "9"))
		require.NoError(t, err)
		assert.Equal(t, event.AccountSummaryEnd{ReqID: 9}, ev)
	})

	t.Run("end markers without request ids", func(t *testing.T) {
		ev, err := c.Decode(payload("53", "1"))
		require.NoError(t, err)
		assert.Equal(t, event.OpenOrderEnd{}, ev)

		ev, err = c.Decode(payload("62", "1"))
		require.NoError(t, err)
		assert.Equal(t, event.PositionEnd{}, ev)

		ev, err = c.Decode(payload("102"))
		require.NoError(t, err)
		assert.Equal(t, event.CompletedOrdersEnd{}, ev)
	})

	t.Run("open order keeps its tail", func(t *testing.T) {
		ev, err := c.Decode(payload("5", "12", "265598", "AAPL", "STK", "", "0", "", "", "SMART", "USD", "AAPL", "NMS", "BUY", "100", "LMT", "150", "0"))
		require.NoError(t, err)
		o := ev.(event.OpenOrder)
		assert.Equal(t, int64(12), o.OrderID)
		assert.Equal(t, "BUY", o.Action)
		assert.Equal(t, "LMT", o.Type)
		assert.Equal(t, []string{"150", "0"}, o.Fields)
	})

	t.Run("wsh and user info", func(t *testing.T) {
		ev, err := c.Decode(payload("105", "8", `{"k":1}`))
		require.NoError(t, err)
		assert.Equal(t, event.WshEventData{ReqID: 8, DataJSON: `{"k":1}`}, ev)

		ev, err = c.Decode(payload("107", "9", "brand"))
		require.NoError(t, err)
		assert.Equal(t, event.UserInfo{ReqID: 9, WhiteBrandingID: "brand"}, ev)
	})

	t.Run("commission report", func(t *testing.T) {
		ev, err := c.Decode(payload("59", "1", "0001", "1.5", "USD", "", "", ""))
		require.NoError(t, err)
		assert.Equal(t, event.CommissionReport{ExecID: "0001", Commission: 1.5, Currency: "USD"}, ev)
	})
}

func TestEncode(t *testing.T) {
	c := newCodec(176)

	t.Run("start api with capabilities", func(t *testing.T) {
		got := encodedFields(t, c, StartAPI{ClientID: 1, OptionalCapabilities: ""})
		assert.Equal(t, []string{"71", "2", "1", ""}, got)
	})

	t.Run("start api on an old server omits capabilities", func(t *testing.T) {
		got := encodedFields(t, newCodec(70), StartAPI{ClientID: 3})
		assert.Equal(t, []string{"71", "2", "3"}, got)
	})

	t.Run("current time and ids", func(t *testing.T) {
		assert.Equal(t, []string{"49", "1"}, encodedFields(t, c, ReqCurrentTime{}))
		assert.Equal(t, []string{"8", "1", "1"}, encodedFields(t, c, ReqIDs{NumIDs: 1}))
	})

	t.Run("tick by tick", func(t *testing.T) {
		req := ReqTickByTickData{
			ReqID:    100,
			Contract: model.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"},
			TickType: "BidAsk",
		}
		assert.Equal(t, []string{
			"97", "100", "0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "BidAsk", "0", "0",
		}, encodedFields(t, c, req))
	})

	t.Run("contract data adds issuer id on new servers", func(t *testing.T) {
		req := ReqContractData{ReqID: 5, Contract: model.Contract{Symbol: "AAPL", IssuerID: "X"}}
		got := encodedFields(t, c, req)
		assert.Equal(t, "9", got[0])
		assert.Equal(t, "8", got[1])
		assert.Equal(t, "5", got[2])
		assert.Equal(t, "X", got[len(got)-1])
		assert.Len(t, encodedFields(t, newCodec(175), req), len(got)-1)
	})

	t.Run("market data", func(t *testing.T) {
		got := encodedFields(t, c, ReqMktData{ReqID: 3, Contract: model.Contract{Symbol: "AAPL"}, Snapshot: true})
		assert.Equal(t, []string{"1", "11", "3"}, got[:3])
		assert.Equal(t, []string{"0", "", "1", "0", ""}, got[len(got)-5:])
	})

	t.Run("wsh event data gates filters by version", func(t *testing.T) {
		req := ReqWshEventData{ReqID: 4, Filter: model.WshEventDataFilter{ConID: 8314, FillWatchlist: true}}
		assert.Equal(t, []string{"102", "4", "8314", "", "1", "0", "0", "", "", ""}, encodedFields(t, c, req))
		assert.Equal(t, []string{"102", "4", "8314"}, encodedFields(t, newCodec(165), req))
	})

	t.Run("cancel order layout", func(t *testing.T) {
		assert.Equal(t, []string{"4", "12", ""}, encodedFields(t, c, CancelOrder{OrderID: 12}))
		assert.Equal(t, []string{"4", "1", "12"}, encodedFields(t, newCodec(160), CancelOrder{OrderID: 12}))
	})

	t.Run("executions", func(t *testing.T) {
		got := encodedFields(t, c, ReqExecutions{ReqID: 2, Filter: model.ExecutionFilter{Symbol: "AAPL"}})
		assert.Equal(t, []string{"7", "3", "2", "0", "", "", "AAPL", "", "", ""}, got)
	})

	t.Run("too old server is rejected", func(t *testing.T) {
		_, err := newCodec(120).Encode(ReqTickByTickData{ReqID: 1})
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("nil request", func(t *testing.T) {
		_, err := c.Encode(nil)
		assert.ErrorIs(t, err, ErrUnknownMessage)
	})
}

func TestOutName(t *testing.T) {
	assert.Equal(t, "start_api", OutName(OutStartAPI))
	assert.Equal(t, "msg_999", OutName(999))
}
