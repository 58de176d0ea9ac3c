package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce represents how long an order remains active
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusCreated                 OrderStatus = "Created"
	OrderStatusNew                     OrderStatus = "New"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
	OrderStatusRejected                OrderStatus = "Rejected"
	OrderStatusDeactivated             OrderStatus = "Deactivated"
)

// Order represents a trading order as reported by the REST API
type Order struct {
	OrderID      string          `json:"orderId"`
	OrderLinkID  string          `json:"orderLinkId"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	OrderType    OrderType       `json:"orderType"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	TimeInForce  TimeInForce     `json:"timeInForce"`
	OrderStatus  OrderStatus     `json:"orderStatus"`
	RejectReason string          `json:"rejectReason"`
	CumExecQty   decimal.Decimal `json:"cumExecQty"`
	CumExecValue decimal.Decimal `json:"cumExecValue"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CreatedTime  time.Time       `json:"createdTime"`
	UpdatedTime  time.Time       `json:"updatedTime"`
}

// PlaceOrderParams holds parameters for placing an order
type PlaceOrderParams struct {
	Symbol      string          // Trading pair symbol
	Side        OrderSide       // Buy or Sell
	OrderType   OrderType       // Market or Limit
	Qty         decimal.Decimal // Order quantity
	Price       decimal.Decimal // Price for limit orders
	TimeInForce TimeInForce     // GTC, IOC, FOK
	OrderLinkID string          // client order id; Bybit rejects duplicates
}

// PlaceOrderAck is the synchronous answer of the create endpoint
type PlaceOrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder places a new order. It is never retried here: a lost answer
// must be resolved with GetOrderByLinkID.
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*PlaceOrderAck, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.OrderType == "" {
		return nil, fmt.Errorf("orderType is required")
	}
	if !params.Qty.IsPositive() {
		return nil, fmt.Errorf("qty must be positive")
	}
	if params.OrderType == OrderTypeLimit && !params.Price.IsPositive() {
		return nil, fmt.Errorf("price is required for limit orders")
	}
	if params.OrderType == OrderTypeLimit && params.TimeInForce == "" {
		params.TimeInForce = TimeInForceGTC
	}

	apiParams := map[string]interface{}{
		"category":  c.category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       params.Qty.String(),
	}
	if params.OrderType == OrderTypeLimit {
		apiParams["price"] = params.Price.String()
	}
	if params.TimeInForce != "" {
		apiParams["timeInForce"] = string(params.TimeInForce)
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, WrapAPIError("place order", err))
	}
	return decodePlaceAck(result)
}

// decodePlaceAck reads the place response. A retCode is a definite answer;
// anything unreadable after the send leaves the outcome unknown.
func decodePlaceAck(result interface{}) (*PlaceOrderAck, error) {
	var ack PlaceOrderAck
	if err := decodeResult(result, &ack); err != nil {
		var bybitErr *BybitError
		if errors.As(err, &bybitErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	return &ack, nil
}

// CancelOrder cancels an order by client order id
func (c *Client) CancelOrder(ctx context.Context, symbol, orderLinkID string) error {
	params := map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"orderLinkId": orderLinkID,
	}

	return c.RetryWithConfig(ctx, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
		if err != nil {
			return WrapAPIError("cancel order", err)
		}
		return decodeResult(result, nil)
	}, c.retry)
}

// GetOrderByLinkID looks an order up by client order id, first among open
// orders and then in history. found is false when Bybit has no such order.
func (c *Client) GetOrderByLinkID(ctx context.Context, symbol, orderLinkID string) (order *Order, found bool, err error) {
	params := map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"orderLinkId": orderLinkID,
	}

	for _, source := range []string{"realtime", "history"} {
		var orders []Order
		err = c.RetryWithConfig(ctx, func() error {
			svc := c.httpClient.NewUtaBybitServiceWithParams(params)
			var result interface{}
			var callErr error
			if source == "realtime" {
				result, callErr = svc.GetOpenOrders(ctx)
			} else {
				result, callErr = svc.GetOrderHistory(ctx)
			}
			if callErr != nil {
				return WrapAPIError("get order "+source, callErr)
			}
			orders, callErr = parseOrderList(result)
			return callErr
		}, c.retry)
		if err != nil {
			return nil, false, err
		}
		for i := range orders {
			if orders[i].OrderLinkID == orderLinkID {
				return &orders[i], true, nil
			}
		}
	}
	return nil, false, nil
}

// decodeResult checks the response envelope and unmarshals Result into out
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type %T", response)
	}
	if err := ParseAPIError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// parseOrderList parses the orders list API response
func parseOrderList(response interface{}) ([]Order, error) {
	var listResult struct {
		List []rawOrder `json:"list"`
	}
	if err := decodeResult(response, &listResult); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(listResult.List))
	for _, raw := range listResult.List {
		orders = append(orders, raw.toOrder())
	}
	return orders, nil
}
