package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/model"
)

// fieldReader consumes fields in order. The first failure sticks; later
// reads return zero values so decoders can read straight through and check
// err once.
type fieldReader struct {
	fields        []string
	pos           int
	serverVersion int
	err           error
}

func (r *fieldReader) next() (string, bool) {
	if r.err != nil {
		return "", false
	}
	if r.pos >= len(r.fields) {
		r.err = fmt.Errorf("%w: truncated at field %d", ErrBadMessage, r.pos+1)
		return "", false
	}

	s := r.fields[r.pos]
	r.pos++
	return s, true
}

func (r *fieldReader) str() string {
	s, _ := r.next()
	return s
}

// optStr reads a trailing field that older gateways omit.
func (r *fieldReader) optStr() string {
	if r.err != nil || r.pos >= len(r.fields) {
		return ""
	}
	return r.str()
}

func (r *fieldReader) int() int64 {
	s, ok := r.next()
	if !ok || s == "" {
		return 0
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: field %d: %q is not an integer", ErrBadMessage, r.pos, s)
		return 0
	}

	return v
}

func (r *fieldReader) float() float64 {
	s, ok := r.next()
	if !ok || s == "" {
		return 0
	}
	if s == "Infinity" {
		return math.Inf(1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: field %d: %q is not a number", ErrBadMessage, r.pos, s)
		return 0
	}

	return v
}

func (r *fieldReader) bool() bool {
	return r.int() != 0
}

func (r *fieldReader) unixTime() time.Time {
	v := r.int()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// skip discards n fields.
func (r *fieldReader) skip(n int) {
	for i := 0; i < n; i++ {
		r.next()
	}
}

func (r *fieldReader) rest() []string {
	if r.err != nil || r.pos >= len(r.fields) {
		return nil
	}

	out := append([]string(nil), r.fields[r.pos:]...)
	r.pos = len(r.fields)
	return out
}

// contract reads the compact contract block shared by orders, positions
// and executions.
func (r *fieldReader) contract() model.Contract {
	return model.Contract{
		ConID:                        r.int(),
		Symbol:                       r.str(),
		SecType:                      r.str(),
		LastTradeDateOrContractMonth: r.str(),
		Strike:                       r.float(),
		Right:                        r.str(),
		Multiplier:                   r.str(),
		Exchange:                     r.str(),
		Currency:                     r.str(),
		LocalSymbol:                  r.str(),
		TradingClass:                 r.str(),
	}
}

type decodeFunc func(r *fieldReader) event.Event

var decoders = map[int]decodeFunc{
	InTickPrice:          decodeTickPrice,
	InTickSize:           decodeTickSize,
	InOrderStatus:        decodeOrderStatus,
	InErrMsg:             decodeError,
	InOpenOrder:          decodeOpenOrder,
	InNextValidID:        decodeNextValidID,
	InContractData:       decodeContractData,
	InExecutionData:      decodeExecutionData,
	InManagedAccts:       decodeManagedAccounts,
	InCurrentTime:        decodeCurrentTime,
	InContractDataEnd:    decodeContractDataEnd,
	InOpenOrderEnd:       decodeOpenOrderEnd,
	InExecutionDataEnd:   decodeExecutionDataEnd,
	InTickSnapshotEnd:    decodeTickSnapshotEnd,
	InMarketDataType:     decodeMarketDataType,
	InCommissionReport:   decodeCommissionReport,
	InPositionData:       decodePosition,
	InPositionEnd:        decodePositionEnd,
	InAccountSummary:     decodeAccountSummary,
	InAccountSummaryEnd:  decodeAccountSummaryEnd,
	InTickByTick:         decodeTickByTick,
	InCompletedOrder:     decodeCompletedOrder,
	InCompletedOrdersEnd: decodeCompletedOrdersEnd,
	InWshMetaData:        decodeWshMetaData,
	InWshEventData:       decodeWshEventData,
	InUserInfo:           decodeUserInfo,
}

func decodeTickPrice(r *fieldReader) event.Event {
	r.skip(1) // version
	return event.TickPrice{
		ReqID:    r.int(),
		TickType: int(r.int()),
		Price:    r.float(),
		Size:     r.float(),
		Attrib:   int(r.int()),
	}
}

func decodeTickSize(r *fieldReader) event.Event {
	r.skip(1)
	return event.TickSize{
		ReqID:    r.int(),
		TickType: int(r.int()),
		Size:     r.float(),
	}
}

func decodeOrderStatus(r *fieldReader) event.Event {
	if r.serverVersion < MinServerVerMarketCapPrice {
		r.skip(1)
	}

	ev := event.OrderStatus{
		OrderID:       r.int(),
		Status:        r.str(),
		Filled:        r.float(),
		Remaining:     r.float(),
		AvgFillPrice:  r.float(),
		PermID:        r.int(),
		ParentID:      r.int(),
		LastFillPrice: r.float(),
		ClientID:      r.int(),
		WhyHeld:       r.str(),
	}
	if r.serverVersion >= MinServerVerMarketCapPrice {
		ev.MktCapPrice = r.float()
	}

	return ev
}

func decodeError(r *fieldReader) event.Event {
	r.skip(1)
	ev := event.Error{
		ReqID:   r.int(),
		Code:    int(r.int()),
		Message: r.str(),
	}
	if r.serverVersion >= MinServerVerAdvancedOrderReject {
		ev.AdvancedOrderRejectJSON = r.optStr()
	}

	return ev
}

func decodeOpenOrder(r *fieldReader) event.Event {
	if r.serverVersion < MinServerVerOrderContainer {
		r.skip(1)
	}

	return event.OpenOrder{
		OrderID:  r.int(),
		Contract: r.contract(),
		Action:   r.str(),
		Quantity: r.float(),
		Type:     r.str(),
		Fields:   r.rest(),
	}
}

func decodeNextValidID(r *fieldReader) event.Event {
	r.skip(1)
	return event.NextValidID{OrderID: r.int()}
}

func decodeContractData(r *fieldReader) event.Event {
	if r.serverVersion < MinServerVerSizeRules {
		r.skip(1)
	}

	ev := event.ContractDetails{ReqID: r.int()}
	d := &ev.Details
	d.Contract.Symbol = r.str()
	d.Contract.SecType = r.str()
	d.Contract.LastTradeDateOrContractMonth = r.str()
	d.Contract.Strike = r.float()
	d.Contract.Right = r.str()
	d.Contract.Exchange = r.str()
	d.Contract.Currency = r.str()
	d.Contract.LocalSymbol = r.str()
	d.MarketName = r.str()
	d.Contract.TradingClass = r.str()
	d.Contract.ConID = r.int()
	d.MinTick = r.float()
	if r.serverVersion < MinServerVerSizeRules {
		r.skip(1) // md size multiplier
	}
	d.Contract.Multiplier = r.str()
	d.OrderTypes = r.str()
	d.ValidExchanges = r.str()
	d.PriceMagnifier = r.int()
	d.UnderConID = r.int()
	d.LongName = r.str()
	d.Contract.PrimaryExchange = r.str()
	d.ContractMonth = r.str()
	d.Industry = r.str()
	d.Category = r.str()
	d.Subcategory = r.str()
	d.TimeZoneID = r.str()
	d.TradingHours = r.str()
	d.LiquidHours = r.str()
	d.Extra = r.rest()

	return ev
}

func decodeExecutionData(r *fieldReader) event.Event {
	if r.serverVersion < MinServerVerLastLiquidity {
		r.skip(1)
	}

	ev := event.ExecDetails{ReqID: r.int()}
	orderID := r.int()
	ev.Contract = r.contract()
	ev.Execution = model.Execution{
		OrderID:      orderID,
		ExecID:       r.str(),
		Time:         r.str(),
		AcctNumber:   r.str(),
		Exchange:     r.str(),
		Side:         r.str(),
		Shares:       r.float(),
		Price:        r.float(),
		PermID:       r.int(),
		ClientID:     r.int(),
		Liquidation:  r.int(),
		CumQty:       r.float(),
		AvgPrice:     r.float(),
		OrderRef:     r.str(),
		EvRule:       r.str(),
		EvMultiplier: r.float(),
		ModelCode:    r.str(),
	}
	if r.serverVersion >= MinServerVerLastLiquidity {
		ev.Execution.LastLiquidity = r.int()
	}

	return ev
}

func decodeManagedAccounts(r *fieldReader) event.Event {
	r.skip(1)
	list := r.str()

	var accounts []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}

	return event.ManagedAccounts{Accounts: accounts}
}

func decodeCurrentTime(r *fieldReader) event.Event {
	r.skip(1)
	return event.CurrentTime{Time: r.unixTime()}
}

func decodeContractDataEnd(r *fieldReader) event.Event {
	r.skip(1)
	return event.ContractDetailsEnd{ReqID: r.int()}
}

func decodeOpenOrderEnd(r *fieldReader) event.Event {
	return event.OpenOrderEnd{}
}

func decodeExecutionDataEnd(r *fieldReader) event.Event {
	r.skip(1)
	return event.ExecDetailsEnd{ReqID: r.int()}
}

func decodeTickSnapshotEnd(r *fieldReader) event.Event {
	r.skip(1)
	return event.TickSnapshotEnd{ReqID: r.int()}
}

func decodeMarketDataType(r *fieldReader) event.Event {
	r.skip(1)
	return event.MarketDataType{ReqID: r.int(), MarketDataType: int(r.int())}
}

func decodeCommissionReport(r *fieldReader) event.Event {
	r.skip(1)
	return event.CommissionReport{
		ExecID:              r.str(),
		Commission:          r.float(),
		Currency:            r.str(),
		RealizedPNL:         r.float(),
		Yield:               r.float(),
		YieldRedemptionDate: r.int(),
	}
}

func decodePosition(r *fieldReader) event.Event {
	r.skip(1)
	return event.Position{
		Account:  r.str(),
		Contract: r.contract(),
		Position: r.float(),
		AvgCost:  r.float(),
	}
}

func decodePositionEnd(r *fieldReader) event.Event {
	return event.PositionEnd{}
}

func decodeAccountSummary(r *fieldReader) event.Event {
	r.skip(1)
	return event.AccountSummary{
		ReqID:    r.int(),
		Account:  r.str(),
		Tag:      r.str(),
		Value:    r.str(),
		Currency: r.str(),
	}
}

func decodeAccountSummaryEnd(r *fieldReader) event.Event {
	r.skip(1)
	return event.AccountSummaryEnd{ReqID: r.int()}
}

// Tick-by-tick types.
const (
	tickByTickLast     = 1
	tickByTickAllLast  = 2
	tickByTickBidAsk   = 3
	tickByTickMidPoint = 4
)

func decodeTickByTick(r *fieldReader) event.Event {
	reqID := r.int()
	tickType := int(r.int())
	ts := r.unixTime()

	switch tickType {
	case tickByTickLast, tickByTickAllLast:
		return event.TickByTickAllLast{
			ReqID:             reqID,
			TickType:          tickType,
			Time:              ts,
			Price:             r.float(),
			Size:              r.float(),
			Mask:              int(r.int()),
			Exchange:          r.str(),
			SpecialConditions: r.str(),
		}
	case tickByTickBidAsk:
		return event.TickByTickBidAsk{
			ReqID:   reqID,
			Time:    ts,
			BidPx:   r.float(),
			AskPx:   r.float(),
			BidSize: r.float(),
			AskSize: r.float(),
			Mask:    int(r.int()),
		}
	case tickByTickMidPoint:
		return event.TickByTickMidPoint{ReqID: reqID, Time: ts, MidPoint: r.float()}
	}

	if r.err == nil {
		r.err = fmt.Errorf("%w: tick-by-tick type %d", ErrBadMessage, tickType)
	}
	return nil
}

func decodeCompletedOrder(r *fieldReader) event.Event {
	return event.CompletedOrder{
		Contract: r.contract(),
		Action:   r.str(),
		Quantity: r.float(),
		Type:     r.str(),
		Fields:   r.rest(),
	}
}

func decodeCompletedOrdersEnd(r *fieldReader) event.Event {
	return event.CompletedOrdersEnd{}
}

func decodeWshMetaData(r *fieldReader) event.Event {
	return event.WshMetaData{ReqID: r.int(), DataJSON: r.str()}
}

func decodeWshEventData(r *fieldReader) event.Event {
	return event.WshEventData{ReqID: r.int(), DataJSON: r.str()}
}

func decodeUserInfo(r *fieldReader) event.Event {
	return event.UserInfo{ReqID: r.int(), WhiteBrandingID: r.str()}
}
