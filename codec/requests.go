package codec

import "github.com/cyberinferno/go-ibclient/model"

// contractFields is the contract block used by market data and contract
// detail requests.
func contractFields(c model.Contract) []any {
	return []any{
		c.ConID, c.Symbol, c.SecType, c.LastTradeDateOrContractMonth, c.Strike,
		c.Right, c.Multiplier, c.Exchange, c.PrimaryExchange, c.Currency,
		c.LocalSymbol, c.TradingClass,
	}
}

// StartAPI opens the API session after the handshake.
type StartAPI struct {
	ClientID             int64
	OptionalCapabilities string
}

func (StartAPI) MessageID() int { return OutStartAPI }

func (r StartAPI) Fields(sv int) []any {
	f := []any{2, r.ClientID}
	if sv >= MinServerVerOptionalCapabilities {
		f = append(f, r.OptionalCapabilities)
	}
	return f
}

type ReqCurrentTime struct{}

func (ReqCurrentTime) MessageID() int   { return OutReqCurrentTime }
func (ReqCurrentTime) Fields(int) []any { return []any{1} }

// ReqIDs asks the gateway to push a fresh next valid id.
type ReqIDs struct {
	NumIDs int
}

func (ReqIDs) MessageID() int     { return OutReqIDs }
func (r ReqIDs) Fields(int) []any { return []any{1, r.NumIDs} }

type ReqMktData struct {
	ReqID              int64
	Contract           model.Contract
	GenericTickList    string
	Snapshot           bool
	RegulatorySnapshot bool
}

func (ReqMktData) MessageID() int { return OutReqMktData }

func (r ReqMktData) Fields(int) []any {
	f := append([]any{11, r.ReqID}, contractFields(r.Contract)...)
	// no delta neutral contract, no market data options
	return append(f, false, r.GenericTickList, r.Snapshot, r.RegulatorySnapshot, "")
}

type CancelMktData struct {
	ReqID int64
}

func (CancelMktData) MessageID() int     { return OutCancelMktData }
func (r CancelMktData) Fields(int) []any { return []any{2, r.ReqID} }

// ReqTickByTickData subscribes to tick-by-tick data. TickType is one of
// "Last", "AllLast", "BidAsk" or "MidPoint".
type ReqTickByTickData struct {
	ReqID         int64
	Contract      model.Contract
	TickType      string
	NumberOfTicks int
	IgnoreSize    bool
}

func (ReqTickByTickData) MessageID() int        { return OutReqTickByTickData }
func (ReqTickByTickData) MinServerVersion() int { return MinServerVerTickByTick }

func (r ReqTickByTickData) Fields(sv int) []any {
	f := append([]any{r.ReqID}, contractFields(r.Contract)...)
	f = append(f, r.TickType)
	if sv >= MinServerVerTickByTickIgnoreSize {
		f = append(f, r.NumberOfTicks, r.IgnoreSize)
	}
	return f
}

type CancelTickByTickData struct {
	ReqID int64
}

func (CancelTickByTickData) MessageID() int        { return OutCancelTickByTickData }
func (CancelTickByTickData) MinServerVersion() int { return MinServerVerTickByTick }
func (r CancelTickByTickData) Fields(int) []any    { return []any{r.ReqID} }

type ReqContractData struct {
	ReqID    int64
	Contract model.Contract
}

func (ReqContractData) MessageID() int { return OutReqContractData }

func (r ReqContractData) Fields(sv int) []any {
	c := r.Contract
	f := append([]any{8, r.ReqID}, contractFields(c)...)
	f = append(f, c.IncludeExpired, c.SecIDType, c.SecID)
	if sv >= MinServerVerBondIssuerID {
		f = append(f, c.IssuerID)
	}
	return f
}

type ReqAccountSummary struct {
	ReqID     int64
	GroupName string
	Tags      string
}

func (ReqAccountSummary) MessageID() int { return OutReqAccountSummary }
func (r ReqAccountSummary) Fields(int) []any {
	return []any{1, r.ReqID, r.GroupName, r.Tags}
}

type CancelAccountSummary struct {
	ReqID int64
}

func (CancelAccountSummary) MessageID() int     { return OutCancelAccountSummary }
func (r CancelAccountSummary) Fields(int) []any { return []any{1, r.ReqID} }

type ReqPositions struct{}

func (ReqPositions) MessageID() int   { return OutReqPositions }
func (ReqPositions) Fields(int) []any { return []any{1} }

type CancelPositions struct{}

func (CancelPositions) MessageID() int   { return OutCancelPositions }
func (CancelPositions) Fields(int) []any { return []any{1} }

type ReqOpenOrders struct{}

func (ReqOpenOrders) MessageID() int   { return OutReqOpenOrders }
func (ReqOpenOrders) Fields(int) []any { return []any{1} }

type ReqCompletedOrders struct {
	APIOnly bool
}

func (ReqCompletedOrders) MessageID() int        { return OutReqCompletedOrders }
func (ReqCompletedOrders) MinServerVersion() int { return MinServerVerCompletedOrders }
func (r ReqCompletedOrders) Fields(int) []any    { return []any{r.APIOnly} }

type ReqExecutions struct {
	ReqID  int64
	Filter model.ExecutionFilter
}

func (ReqExecutions) MessageID() int { return OutReqExecutions }

func (r ReqExecutions) Fields(int) []any {
	f := r.Filter
	return []any{3, r.ReqID, f.ClientID, f.AcctCode, f.Time, f.Symbol, f.SecType, f.Exchange, f.Side}
}

type ReqWshMetaData struct {
	ReqID int64
}

func (ReqWshMetaData) MessageID() int        { return OutReqWshMetaData }
func (ReqWshMetaData) MinServerVersion() int { return MinServerVerWshCalendar }
func (r ReqWshMetaData) Fields(int) []any    { return []any{r.ReqID} }

type ReqWshEventData struct {
	ReqID  int64
	Filter model.WshEventDataFilter
}

func (ReqWshEventData) MessageID() int        { return OutReqWshEventData }
func (ReqWshEventData) MinServerVersion() int { return MinServerVerWshCalendar }

func (r ReqWshEventData) Fields(sv int) []any {
	w := r.Filter
	var conID any
	if w.ConID != 0 {
		conID = w.ConID
	}

	f := []any{r.ReqID, conID}
	if sv >= MinServerVerWshEventDataFilters {
		f = append(f, w.Filter, w.FillWatchlist, w.FillPortfolio, w.FillCompetitors)
	}
	if sv >= MinServerVerWshEventDataDate {
		var limit any
		if w.TotalLimit > 0 {
			limit = w.TotalLimit
		}
		f = append(f, w.StartDate, w.EndDate, limit)
	}
	return f
}

type ReqUserInfo struct {
	ReqID int64
}

func (ReqUserInfo) MessageID() int        { return OutReqUserInfo }
func (ReqUserInfo) MinServerVersion() int { return MinServerVerUserInfo }
func (r ReqUserInfo) Fields(int) []any    { return []any{r.ReqID} }

type CancelOrder struct {
	OrderID               int64
	ManualOrderCancelTime string
}

func (CancelOrder) MessageID() int { return OutCancelOrder }

func (r CancelOrder) Fields(sv int) []any {
	if sv >= MinServerVerManualOrderTime {
		return []any{r.OrderID, r.ManualOrderCancelTime}
	}
	return []any{1, r.OrderID}
}
