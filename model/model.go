// Package model holds the business objects carried by requests and events.
// They are plain data; the client attaches no behavior to them.
package model

import (
	"strconv"
	"strings"
)

// Contract identifies an instrument.
type Contract struct {
	ConID                        int64   `json:"con_id,omitempty"`
	Symbol                       string  `json:"symbol,omitempty"`
	SecType                      string  `json:"sec_type,omitempty"`
	LastTradeDateOrContractMonth string  `json:"last_trade_date,omitempty"`
	Strike                       float64 `json:"strike,omitempty"`
	Right                        string  `json:"right,omitempty"`
	Multiplier                   string  `json:"multiplier,omitempty"`
	Exchange                     string  `json:"exchange,omitempty"`
	PrimaryExchange              string  `json:"primary_exchange,omitempty"`
	Currency                     string  `json:"currency,omitempty"`
	LocalSymbol                  string  `json:"local_symbol,omitempty"`
	TradingClass                 string  `json:"trading_class,omitempty"`
	IncludeExpired               bool    `json:"include_expired,omitempty"`
	SecIDType                    string  `json:"sec_id_type,omitempty"`
	SecID                        string  `json:"sec_id,omitempty"`
	IssuerID                     string  `json:"issuer_id,omitempty"`
}

// Key returns a stable identity string for the contract, used for caching.
func (c Contract) Key() string {
	if c.ConID != 0 {
		return "conid:" + strconv.FormatInt(c.ConID, 10) + ":" + c.Exchange
	}

	return strings.Join([]string{
		c.Symbol, c.SecType, c.LastTradeDateOrContractMonth,
		strconv.FormatFloat(c.Strike, 'f', -1, 64), c.Right, c.Multiplier,
		c.Exchange, c.PrimaryExchange, c.Currency, c.LocalSymbol, c.TradingClass,
	}, "|")
}

// ContractDetails is the subset of contract reference data the client decodes.
// Fields the codec does not model are kept verbatim in Extra.
type ContractDetails struct {
	Contract        Contract `json:"contract"`
	MarketName      string   `json:"market_name,omitempty"`
	MinTick         float64  `json:"min_tick,omitempty"`
	OrderTypes      string   `json:"order_types,omitempty"`
	ValidExchanges  string   `json:"valid_exchanges,omitempty"`
	PriceMagnifier  int64    `json:"price_magnifier,omitempty"`
	UnderConID      int64    `json:"under_con_id,omitempty"`
	LongName        string   `json:"long_name,omitempty"`
	ContractMonth   string   `json:"contract_month,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	Category        string   `json:"category,omitempty"`
	Subcategory     string   `json:"subcategory,omitempty"`
	TimeZoneID      string   `json:"time_zone_id,omitempty"`
	TradingHours    string   `json:"trading_hours,omitempty"`
	LiquidHours     string   `json:"liquid_hours,omitempty"`
	Extra           []string `json:"extra,omitempty"`
}

// Execution describes one fill.
type Execution struct {
	ExecID        string  `json:"exec_id"`
	Time          string  `json:"time"`
	AcctNumber    string  `json:"acct_number"`
	Exchange      string  `json:"exchange"`
	Side          string  `json:"side"`
	Shares        float64 `json:"shares"`
	Price         float64 `json:"price"`
	PermID        int64   `json:"perm_id"`
	ClientID      int64   `json:"client_id"`
	OrderID       int64   `json:"order_id"`
	Liquidation   int64   `json:"liquidation"`
	CumQty        float64 `json:"cum_qty"`
	AvgPrice      float64 `json:"avg_price"`
	OrderRef      string  `json:"order_ref,omitempty"`
	EvRule        string  `json:"ev_rule,omitempty"`
	EvMultiplier  float64 `json:"ev_multiplier,omitempty"`
	ModelCode     string  `json:"model_code,omitempty"`
	LastLiquidity int64   `json:"last_liquidity,omitempty"`
}

// ExecutionFilter narrows an executions request. Zero values match everything.
type ExecutionFilter struct {
	ClientID int64
	AcctCode string
	Time     string
	Symbol   string
	SecType  string
	Exchange string
	Side     string
}

// WshEventDataFilter selects Wall Street Horizon calendar events.
type WshEventDataFilter struct {
	ConID           int64
	Filter          string
	FillWatchlist   bool
	FillPortfolio   bool
	FillCompetitors bool
	StartDate       string
	EndDate         string
	TotalLimit      int64
}
