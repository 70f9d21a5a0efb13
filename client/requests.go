package client

import (
	"context"
	"fmt"
	"slices"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/model"
)

// Send encodes req and writes it to the gateway.
//
// Parameters:
//   - ctx: Cancels the write
//   - req: The request to send
//
// Returns:
//   - ErrNotConnected (also reported as a NOT_CONNECTED event), an encoding
//     error, or the write error (also reported as a SOCKET_EXCEPTION event)
func (c *Client) Send(ctx context.Context, req codec.Request) error {
	s := c.current()
	if s == nil {
		c.notConnected()
		return ErrNotConnected
	}

	return c.send(ctx, s, req)
}

// Request allocates one request id, builds the request with it and sends it.
//
// Parameters:
//   - ctx: Cancels the write
//   - build: Returns the request for the allocated id; called exactly once
//
// Returns:
//   - The allocated id, also on a send error
//   - ErrNotConnected, reqid.ErrNotSeeded before the gateway provided ids, or
//     the Send error
func (c *Client) Request(ctx context.Context, build func(id int64) codec.Request) (int64, error) {
	_, id, err := c.request(ctx, func(_ *session, id int64) codec.Request {
		return build(id)
	})
	return id, err
}

// request is Request that also returns the connection the id was allocated
// on, or nil if no id was allocated.
func (c *Client) request(ctx context.Context, build func(s *session, id int64) codec.Request) (*session, int64, error) {
	s := c.current()
	if s == nil {
		c.notConnected()
		return nil, 0, ErrNotConnected
	}

	id, err := s.ids.Next()
	if err != nil {
		return nil, 0, err
	}

	return s, id, c.send(ctx, s, build(s, id))
}

func (c *Client) notConnected() {
	c.log.Warn("request while not connected")
	c.post(nil, event.NewError(event.CodeNotConnected, "Not connected"))
}

// send writes req on s. A failed write is reported as SOCKET_EXCEPTION.
func (c *Client) send(ctx context.Context, s *session, req codec.Request) error {
	encoded, err := c.write(ctx, s, req)
	if err != nil && encoded {
		c.post(s, event.NewError(event.CodeSocketException, err.Error()))
	}
	return err
}

// write encodes req and writes it to the socket of s. encoded reports
// whether a failure happened on the socket rather than in the codec.
func (c *Client) write(ctx context.Context, s *session, req codec.Request) (encoded bool, err error) {
	name := codec.OutName(req.MessageID())

	frame, err := c.codec.Encode(req)
	if err != nil {
		s.log.Warn("failed to encode request",
			logger.Field{Key: "request", Value: name},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return false, err
	}

	if err := s.tr.WriteAll(ctx, frame); err != nil {
		s.log.Error("failed to send request",
			logger.Field{Key: "request", Value: name},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return true, fmt.Errorf("send %s: %w", name, err)
	}

	c.config.Metrics.RequestSent(name)
	s.log.Debug("request sent", logger.Field{Key: "request", Value: name}, logger.Field{Key: "size", Value: len(frame)})

	return true, nil
}

// subscribe is Request for streaming requests: the id is tracked as a live
// subscription until it is cancelled or ended by the gateway.
func (c *Client) subscribe(ctx context.Context, build func(id int64) codec.Request) (int64, error) {
	s, id, err := c.request(ctx, func(s *session, id int64) codec.Request {
		s.subs.Add(id)
		return build(id)
	})
	if err != nil && s != nil {
		s.subs.Remove(id)
	}

	return id, err
}

func (c *Client) unsubscribe(id int64) {
	if s := c.current(); s != nil {
		s.subs.Remove(id)
	}
}

// Subscriptions returns the ids of the live streaming requests of the
// current connection in ascending order.
func (c *Client) Subscriptions() []int64 {
	s := c.current()
	if s == nil {
		return nil
	}
	ids := s.subs.Values()
	slices.Sort(ids)
	return ids
}

// ReqCurrentTime asks for the gateway clock; it arrives as CurrentTime.
func (c *Client) ReqCurrentTime(ctx context.Context) error {
	return c.Send(ctx, codec.ReqCurrentTime{})
}

// ReqIDs asks the gateway to push a fresh NextValidID. The allocator only
// moves forward.
func (c *Client) ReqIDs(ctx context.Context, numIDs int) error {
	return c.Send(ctx, codec.ReqIDs{NumIDs: numIDs})
}

// ReqMktData subscribes to market data for contract. With snapshot set the
// subscription ends at TickSnapshotEnd.
func (c *Client) ReqMktData(ctx context.Context, contract model.Contract, genericTickList string, snapshot, regulatorySnapshot bool) (int64, error) {
	return c.subscribe(ctx, func(id int64) codec.Request {
		return codec.ReqMktData{
			ReqID:              id,
			Contract:           contract,
			GenericTickList:    genericTickList,
			Snapshot:           snapshot,
			RegulatorySnapshot: regulatorySnapshot,
		}
	})
}

// CancelMktData ends a ReqMktData subscription.
func (c *Client) CancelMktData(ctx context.Context, reqID int64) error {
	c.unsubscribe(reqID)
	return c.Send(ctx, codec.CancelMktData{ReqID: reqID})
}

// ReqTickByTickData subscribes to tick-by-tick data. tickType is one of
// "Last", "AllLast", "BidAsk" or "MidPoint".
func (c *Client) ReqTickByTickData(ctx context.Context, contract model.Contract, tickType string, numberOfTicks int, ignoreSize bool) (int64, error) {
	return c.subscribe(ctx, func(id int64) codec.Request {
		return codec.ReqTickByTickData{
			ReqID:         id,
			Contract:      contract,
			TickType:      tickType,
			NumberOfTicks: numberOfTicks,
			IgnoreSize:    ignoreSize,
		}
	})
}

// CancelTickByTickData ends a ReqTickByTickData subscription.
func (c *Client) CancelTickByTickData(ctx context.Context, reqID int64) error {
	c.unsubscribe(reqID)
	return c.Send(ctx, codec.CancelTickByTickData{ReqID: reqID})
}

// ReqContractDetails requests contract details; replies arrive as
// ContractDetails events followed by ContractDetailsEnd.
func (c *Client) ReqContractDetails(ctx context.Context, contract model.Contract) (int64, error) {
	return c.Request(ctx, func(id int64) codec.Request {
		return codec.ReqContractData{ReqID: id, Contract: contract}
	})
}

// ReqAccountSummary subscribes to account summary values.
func (c *Client) ReqAccountSummary(ctx context.Context, groupName, tags string) (int64, error) {
	return c.subscribe(ctx, func(id int64) codec.Request {
		return codec.ReqAccountSummary{ReqID: id, GroupName: groupName, Tags: tags}
	})
}

// CancelAccountSummary ends a ReqAccountSummary subscription.
func (c *Client) CancelAccountSummary(ctx context.Context, reqID int64) error {
	c.unsubscribe(reqID)
	return c.Send(ctx, codec.CancelAccountSummary{ReqID: reqID})
}

func (c *Client) ReqPositions(ctx context.Context) error {
	return c.Send(ctx, codec.ReqPositions{})
}

func (c *Client) CancelPositions(ctx context.Context) error {
	return c.Send(ctx, codec.CancelPositions{})
}

func (c *Client) ReqOpenOrders(ctx context.Context) error {
	return c.Send(ctx, codec.ReqOpenOrders{})
}

// ReqCompletedOrders requests completed orders, only those placed through
// the API when apiOnly is set.
func (c *Client) ReqCompletedOrders(ctx context.Context, apiOnly bool) error {
	return c.Send(ctx, codec.ReqCompletedOrders{APIOnly: apiOnly})
}

// ReqExecutions requests executions matching filter.
func (c *Client) ReqExecutions(ctx context.Context, filter model.ExecutionFilter) (int64, error) {
	return c.Request(ctx, func(id int64) codec.Request {
		return codec.ReqExecutions{ReqID: id, Filter: filter}
	})
}

func (c *Client) ReqWshMetaData(ctx context.Context) (int64, error) {
	return c.Request(ctx, func(id int64) codec.Request {
		return codec.ReqWshMetaData{ReqID: id}
	})
}

// ReqWshEventData requests Wall Street Horizon events. It allocates its own
// id like every other correlated request.
func (c *Client) ReqWshEventData(ctx context.Context, filter model.WshEventDataFilter) (int64, error) {
	return c.Request(ctx, func(id int64) codec.Request {
		return codec.ReqWshEventData{ReqID: id, Filter: filter}
	})
}

func (c *Client) ReqUserInfo(ctx context.Context) (int64, error) {
	return c.Request(ctx, func(id int64) codec.Request {
		return codec.ReqUserInfo{ReqID: id}
	})
}

// CancelOrder cancels an open order. manualOrderCancelTime may be empty.
func (c *Client) CancelOrder(ctx context.Context, orderID int64, manualOrderCancelTime string) error {
	return c.Send(ctx, codec.CancelOrder{OrderID: orderID, ManualOrderCancelTime: manualOrderCancelTime})
}

// ContractDetails requests the details of contract and waits for the whole
// reply. With a contract cache configured, cached answers are returned and
// concurrent lookups of the same contract share one request.
//
// Parameters:
//   - ctx: Bounds the wait
//   - contract: The contract to resolve
//
// Returns:
//   - Every ContractDetails received before ContractDetailsEnd
//   - The gateway's event.Error for the request, ErrNotConnected if the
//     connection ends first, or ctx.Err()
func (c *Client) ContractDetails(ctx context.Context, contract model.Contract) ([]model.ContractDetails, error) {
	if lookup := c.config.ContractCache; lookup != nil {
		return lookup.Get(ctx, contract, func(ctx context.Context) ([]model.ContractDetails, error) {
			return c.fetchContractDetails(ctx, contract)
		})
	}

	return c.fetchContractDetails(ctx, contract)
}

func (c *Client) fetchContractDetails(ctx context.Context, contract model.Contract) ([]model.ContractDetails, error) {
	col := newCollector()
	s, id, err := c.request(ctx, func(s *session, id int64) codec.Request {
		s.pending.Store(id, col)
		return codec.ReqContractData{ReqID: id, Contract: contract}
	})
	if s != nil {
		defer s.pending.Delete(id)
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-col.done:
	case <-s.closed:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-col.done:
		return col.result()
	default:
		return nil, ErrNotConnected
	}
}
