// Package event defines the closed set of decoded gateway events, the
// timestamped envelope queued for consumers, and the single-entry handler
// surface.
package event

import (
	"fmt"
	"time"

	"github.com/cyberinferno/go-ibclient/model"
)

// NoValidID is the request id used for events not tied to any request.
const NoValidID int64 = -1

// Client-side error codes reported through Error events.
const (
	CodeAlreadyConnected = 501
	CodeConnectFail      = 502
	CodeNotConnected     = 504
	CodeBadLength        = 507
	CodeBadMessage       = 508
	CodeSocketException  = 509
)

// Kind identifies an event variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindError
	KindConnectAck
	KindConnectionClosed
	KindNextValidID
	KindManagedAccounts
	KindCurrentTime
	KindTickPrice
	KindTickSize
	KindTickByTickBidAsk
	KindTickByTickAllLast
	KindTickByTickMidPoint
	KindTickSnapshotEnd
	KindMarketDataType
	KindOrderStatus
	KindOpenOrder
	KindOpenOrderEnd
	KindCompletedOrder
	KindCompletedOrdersEnd
	KindPosition
	KindPositionEnd
	KindContractDetails
	KindContractDetailsEnd
	KindExecDetails
	KindExecDetailsEnd
	KindCommissionReport
	KindAccountSummary
	KindAccountSummaryEnd
	KindWshMetaData
	KindWshEventData
	KindUserInfo
	KindRaw
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	KindError:              "error",
	KindConnectAck:         "connect_ack",
	KindConnectionClosed:   "connection_closed",
	KindNextValidID:        "next_valid_id",
	KindManagedAccounts:    "managed_accounts",
	KindCurrentTime:        "current_time",
	KindTickPrice:          "tick_price",
	KindTickSize:           "tick_size",
	KindTickByTickBidAsk:   "tick_by_tick_bid_ask",
	KindTickByTickAllLast:  "tick_by_tick_all_last",
	KindTickByTickMidPoint: "tick_by_tick_mid_point",
	KindTickSnapshotEnd:    "tick_snapshot_end",
	KindMarketDataType:     "market_data_type",
	KindOrderStatus:        "order_status",
	KindOpenOrder:          "open_order",
	KindOpenOrderEnd:       "open_order_end",
	KindCompletedOrder:     "completed_order",
	KindCompletedOrdersEnd: "completed_orders_end",
	KindPosition:           "position",
	KindPositionEnd:        "position_end",
	KindContractDetails:    "contract_details",
	KindContractDetailsEnd: "contract_details_end",
	KindExecDetails:        "exec_details",
	KindExecDetailsEnd:     "exec_details_end",
	KindCommissionReport:   "commission_report",
	KindAccountSummary:     "account_summary",
	KindAccountSummaryEnd:  "account_summary_end",
	KindWshMetaData:        "wsh_meta_data",
	KindWshEventData:       "wsh_event_data",
	KindUserInfo:           "user_info",
	KindRaw:                "raw",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Event is one decoded gateway message or a client-generated notification.
type Event interface {
	Kind() Kind
}

// Error reports a gateway error or a client-side fault.
type Error struct {
	ReqID                   int64  `json:"req_id"`
	Code                    int    `json:"code"`
	Message                 string `json:"message"`
	AdvancedOrderRejectJSON string `json:"advanced_order_reject_json,omitempty"`
}

// NewError builds a client-side Error not tied to any request.
func NewError(code int, message string) Error {
	return Error{ReqID: NoValidID, Code: code, Message: message}
}

// Error lets request helpers return gateway errors as Go errors.
func (e Error) Error() string {
	return fmt.Sprintf("error %d (request %d): %s", e.Code, e.ReqID, e.Message)
}

// ConnectAck is queued once the handshake has completed.
type ConnectAck struct{}

// ConnectionClosed is the last event of every connection.
type ConnectionClosed struct{}

type NextValidID struct {
	OrderID int64 `json:"order_id"`
}

type ManagedAccounts struct {
	Accounts []string `json:"accounts"`
}

type CurrentTime struct {
	Time time.Time `json:"time"`
}

type TickPrice struct {
	ReqID    int64   `json:"req_id"`
	TickType int     `json:"tick_type"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Attrib   int     `json:"attrib"`
}

type TickSize struct {
	ReqID    int64   `json:"req_id"`
	TickType int     `json:"tick_type"`
	Size     float64 `json:"size"`
}

type TickByTickBidAsk struct {
	ReqID   int64     `json:"req_id"`
	Time    time.Time `json:"time"`
	BidPx   float64   `json:"bid_px"`
	AskPx   float64   `json:"ask_px"`
	BidSize float64   `json:"bid_size"`
	AskSize float64   `json:"ask_size"`
	Mask    int       `json:"mask"`
}

// TickByTickAllLast carries a trade print; TickType is 1 (Last) or 2 (AllLast).
type TickByTickAllLast struct {
	ReqID             int64     `json:"req_id"`
	TickType          int       `json:"tick_type"`
	Time              time.Time `json:"time"`
	Price             float64   `json:"price"`
	Size              float64   `json:"size"`
	Mask              int       `json:"mask"`
	Exchange          string    `json:"exchange"`
	SpecialConditions string    `json:"special_conditions"`
}

type TickByTickMidPoint struct {
	ReqID    int64     `json:"req_id"`
	Time     time.Time `json:"time"`
	MidPoint float64   `json:"mid_point"`
}

type TickSnapshotEnd struct {
	ReqID int64 `json:"req_id"`
}

type MarketDataType struct {
	ReqID          int64 `json:"req_id"`
	MarketDataType int   `json:"market_data_type"`
}

type OrderStatus struct {
	OrderID       int64   `json:"order_id"`
	Status        string  `json:"status"`
	Filled        float64 `json:"filled"`
	Remaining     float64 `json:"remaining"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	PermID        int64   `json:"perm_id"`
	ParentID      int64   `json:"parent_id"`
	LastFillPrice float64 `json:"last_fill_price"`
	ClientID      int64   `json:"client_id"`
	WhyHeld       string  `json:"why_held"`
	MktCapPrice   float64 `json:"mkt_cap_price"`
}

// OpenOrder carries the identifying header of an open order. The remaining
// order attributes are kept undecoded in Fields.
type OpenOrder struct {
	OrderID  int64          `json:"order_id"`
	Contract model.Contract `json:"contract"`
	Action   string         `json:"action"`
	Quantity float64        `json:"quantity"`
	Type     string         `json:"type"`
	Fields   []string       `json:"fields,omitempty"`
}

type OpenOrderEnd struct{}

// CompletedOrder carries the contract of a completed order and its raw tail.
type CompletedOrder struct {
	Contract model.Contract `json:"contract"`
	Action   string         `json:"action"`
	Quantity float64        `json:"quantity"`
	Type     string         `json:"type"`
	Fields   []string       `json:"fields,omitempty"`
}

type CompletedOrdersEnd struct{}

type Position struct {
	Account  string         `json:"account"`
	Contract model.Contract `json:"contract"`
	Position float64        `json:"position"`
	AvgCost  float64        `json:"avg_cost"`
}

type PositionEnd struct{}

type ContractDetails struct {
	ReqID   int64                 `json:"req_id"`
	Details model.ContractDetails `json:"details"`
}

type ContractDetailsEnd struct {
	ReqID int64 `json:"req_id"`
}

type ExecDetails struct {
	ReqID     int64           `json:"req_id"`
	Contract  model.Contract  `json:"contract"`
	Execution model.Execution `json:"execution"`
}

type ExecDetailsEnd struct {
	ReqID int64 `json:"req_id"`
}

type CommissionReport struct {
	ExecID              string  `json:"exec_id"`
	Commission          float64 `json:"commission"`
	Currency            string  `json:"currency"`
	RealizedPNL         float64 `json:"realized_pnl"`
	Yield               float64 `json:"yield"`
	YieldRedemptionDate int64   `json:"yield_redemption_date"`
}

type AccountSummary struct {
	ReqID    int64  `json:"req_id"`
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type AccountSummaryEnd struct {
	ReqID int64 `json:"req_id"`
}

type WshMetaData struct {
	ReqID    int64  `json:"req_id"`
	DataJSON string `json:"data_json"`
}

type WshEventData struct {
	ReqID    int64  `json:"req_id"`
	DataJSON string `json:"data_json"`
}

type UserInfo struct {
	ReqID           int64  `json:"req_id"`
	WhiteBrandingID string `json:"white_branding_id"`
}

// Raw is a message the codec does not model; Fields excludes the message id.
type Raw struct {
	MsgID  int      `json:"msg_id"`
	Fields []string `json:"fields"`
}

func (Error) Kind() Kind              { return KindError }
func (ConnectAck) Kind() Kind         { return KindConnectAck }
func (ConnectionClosed) Kind() Kind   { return KindConnectionClosed }
func (NextValidID) Kind() Kind        { return KindNextValidID }
func (ManagedAccounts) Kind() Kind    { return KindManagedAccounts }
func (CurrentTime) Kind() Kind        { return KindCurrentTime }
func (TickPrice) Kind() Kind          { return KindTickPrice }
func (TickSize) Kind() Kind           { return KindTickSize }
func (TickByTickBidAsk) Kind() Kind   { return KindTickByTickBidAsk }
func (TickByTickAllLast) Kind() Kind  { return KindTickByTickAllLast }
func (TickByTickMidPoint) Kind() Kind { return KindTickByTickMidPoint }
func (TickSnapshotEnd) Kind() Kind    { return KindTickSnapshotEnd }
func (MarketDataType) Kind() Kind     { return KindMarketDataType }
func (OrderStatus) Kind() Kind        { return KindOrderStatus }
func (OpenOrder) Kind() Kind          { return KindOpenOrder }
func (OpenOrderEnd) Kind() Kind       { return KindOpenOrderEnd }
func (CompletedOrder) Kind() Kind     { return KindCompletedOrder }
func (CompletedOrdersEnd) Kind() Kind { return KindCompletedOrdersEnd }
func (Position) Kind() Kind           { return KindPosition }
func (PositionEnd) Kind() Kind        { return KindPositionEnd }
func (ContractDetails) Kind() Kind    { return KindContractDetails }
func (ContractDetailsEnd) Kind() Kind { return KindContractDetailsEnd }
func (ExecDetails) Kind() Kind        { return KindExecDetails }
func (ExecDetailsEnd) Kind() Kind     { return KindExecDetailsEnd }
func (CommissionReport) Kind() Kind   { return KindCommissionReport }
func (AccountSummary) Kind() Kind     { return KindAccountSummary }
func (AccountSummaryEnd) Kind() Kind  { return KindAccountSummaryEnd }
func (WshMetaData) Kind() Kind        { return KindWshMetaData }
func (WshEventData) Kind() Kind       { return KindWshEventData }
func (UserInfo) Kind() Kind           { return KindUserInfo }
func (Raw) Kind() Kind                { return KindRaw }

// RequestID returns the request id an event answers, if it carries one.
// Error events report their id even when it is NoValidID.
func RequestID(ev Event) (int64, bool) {
	switch e := ev.(type) {
	case Error:
		return e.ReqID, true
	case TickPrice:
		return e.ReqID, true
	case TickSize:
		return e.ReqID, true
	case TickByTickBidAsk:
		return e.ReqID, true
	case TickByTickAllLast:
		return e.ReqID, true
	case TickByTickMidPoint:
		return e.ReqID, true
	case TickSnapshotEnd:
		return e.ReqID, true
	case MarketDataType:
		return e.ReqID, true
	case ContractDetails:
		return e.ReqID, true
	case ContractDetailsEnd:
		return e.ReqID, true
	case ExecDetails:
		return e.ReqID, true
	case ExecDetailsEnd:
		return e.ReqID, true
	case AccountSummary:
		return e.ReqID, true
	case AccountSummaryEnd:
		return e.ReqID, true
	case WshMetaData:
		return e.ReqID, true
	case WshEventData:
		return e.ReqID, true
	case UserInfo:
		return e.ReqID, true
	}

	return 0, false
}

// IsEnd reports whether ev marks the end of a batch of replies.
func IsEnd(ev Event) bool {
	switch ev.(type) {
	case TickSnapshotEnd, OpenOrderEnd, CompletedOrdersEnd, PositionEnd,
		ContractDetailsEnd, ExecDetailsEnd, AccountSummaryEnd:
		return true
	}
	return false
}

// IsLive reports whether ev is a streaming market or order update that gets
// a receive timestamp.
func IsLive(ev Event) bool {
	switch ev.(type) {
	case TickPrice, TickSize, TickByTickBidAsk, TickByTickAllLast, TickByTickMidPoint, OrderStatus:
		return true
	}
	return false
}

// Stamped is the element type of the event queue.
type Stamped struct {
	// Time is when a live event was received; zero for structural events.
	Time  time.Time
	Event Event
}

// HasTime reports whether the event carries a receive timestamp.
func (s Stamped) HasTime() bool {
	return !s.Time.IsZero()
}
