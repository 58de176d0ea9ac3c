package bybit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// rawOrder mirrors the REST order object, where every number is a string
type rawOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Side         string `json:"side"`
	OrderStatus  string `json:"orderStatus"`
	RejectReason string `json:"rejectReason"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	TimeInForce  string `json:"timeInForce"`
	OrderType    string `json:"orderType"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

func (r rawOrder) toOrder() Order {
	return Order{
		OrderID:      r.OrderID,
		OrderLinkID:  r.OrderLinkID,
		Symbol:       r.Symbol,
		Side:         OrderSide(r.Side),
		OrderType:    OrderType(r.OrderType),
		Qty:          parseDecimal(r.Qty),
		Price:        parseDecimal(r.Price),
		TimeInForce:  TimeInForce(r.TimeInForce),
		OrderStatus:  OrderStatus(r.OrderStatus),
		RejectReason: r.RejectReason,
		CumExecQty:   parseDecimal(r.CumExecQty),
		CumExecValue: parseDecimal(r.CumExecValue),
		AvgPrice:     parseDecimal(r.AvgPrice),
		CreatedTime:  parseTimestamp(r.CreatedTime),
		UpdatedTime:  parseTimestamp(r.UpdatedTime),
	}
}

// wsEnvelope is the common shape of stream messages
type wsEnvelope struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

// wsTicker is the tickers.<symbol> payload; fields absent from a delta are empty
type wsTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Volume24h string `json:"volume24h"`
}

// wsExecution is one element of the private execution topic
type wsExecution struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	ExecType    string `json:"execType"`
	LeavesQty   string `json:"leavesQty"`
	ExecTime    string `json:"execTime"`
}

// wsOrder is one element of the private order topic
type wsOrder struct {
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Side         string `json:"side"`
	OrderStatus  string `json:"orderStatus"`
	RejectReason string `json:"rejectReason"`
	UpdatedTime  string `json:"updatedTime"`
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec).UTC()
}
