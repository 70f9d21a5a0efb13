package codec

import "strconv"

// Incoming message ids (gateway to client).
const (
	InTickPrice          = 1
	InTickSize           = 2
	InOrderStatus        = 3
	InErrMsg             = 4
	InOpenOrder          = 5
	InNextValidID        = 9
	InContractData       = 10
	InExecutionData      = 11
	InManagedAccts       = 15
	InCurrentTime        = 49
	InContractDataEnd    = 52
	InOpenOrderEnd       = 53
	InExecutionDataEnd   = 55
	InTickSnapshotEnd    = 57
	InMarketDataType     = 58
	InCommissionReport   = 59
	InPositionData       = 61
	InPositionEnd        = 62
	InAccountSummary     = 63
	InAccountSummaryEnd  = 64
	InTickByTick         = 99
	InCompletedOrder     = 101
	InCompletedOrdersEnd = 102
	InWshMetaData        = 104
	InWshEventData       = 105
	InUserInfo           = 107
)

// Outgoing message ids (client to gateway).
const (
	OutReqMktData           = 1
	OutCancelMktData        = 2
	OutCancelOrder          = 4
	OutReqOpenOrders        = 5
	OutReqExecutions        = 7
	OutReqIDs               = 8
	OutReqContractData      = 9
	OutReqCurrentTime       = 49
	OutReqPositions         = 61
	OutReqAccountSummary    = 62
	OutCancelAccountSummary = 63
	OutCancelPositions      = 64
	OutStartAPI             = 71
	OutReqTickByTickData    = 97
	OutCancelTickByTickData = 98
	OutReqCompletedOrders   = 99
	OutReqWshMetaData       = 100
	OutReqWshEventData      = 102
	OutReqUserInfo          = 104
)

// Server versions that change message layouts.
const (
	MinServerVerOptionalCapabilities = 72
	MinServerVerMarketCapPrice       = 131
	MinServerVerLastLiquidity        = 136
	MinServerVerTickByTick           = 137
	MinServerVerTickByTickIgnoreSize = 140
	MinServerVerOrderContainer       = 145
	MinServerVerCompletedOrders      = 150
	MinServerVerWshCalendar          = 161
	MinServerVerSizeRules            = 164
	MinServerVerAdvancedOrderReject  = 166
	MinServerVerUserInfo             = 166
	MinServerVerManualOrderTime      = 169
	MinServerVerWshEventDataFilters  = 171
	MinServerVerWshEventDataDate     = 173
	MinServerVerBondIssuerID         = 176
)

var outNames = map[int]string{
	OutReqMktData:           "req_mkt_data",
	OutCancelMktData:        "cancel_mkt_data",
	OutCancelOrder:          "cancel_order",
	OutReqOpenOrders:        "req_open_orders",
	OutReqExecutions:        "req_executions",
	OutReqIDs:               "req_ids",
	OutReqContractData:      "req_contract_data",
	OutReqCurrentTime:       "req_current_time",
	OutReqPositions:         "req_positions",
	OutReqAccountSummary:    "req_account_summary",
	OutCancelAccountSummary: "cancel_account_summary",
	OutCancelPositions:      "cancel_positions",
	OutStartAPI:             "start_api",
	OutReqTickByTickData:    "req_tick_by_tick_data",
	OutCancelTickByTickData: "cancel_tick_by_tick_data",
	OutReqCompletedOrders:   "req_completed_orders",
	OutReqWshMetaData:       "req_wsh_meta_data",
	OutReqWshEventData:      "req_wsh_event_data",
	OutReqUserInfo:          "req_user_info",
}

// OutName returns a readable name for an outgoing message id.
func OutName(id int) string {
	if name, ok := outNames[id]; ok {
		return name
	}
	return "msg_" + strconv.Itoa(id)
}
