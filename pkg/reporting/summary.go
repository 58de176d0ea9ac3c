package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// SymbolSummary aggregates fills for one symbol
type SymbolSummary struct {
	Symbol         string
	Orders         int
	Fills          int
	BoughtQuantity decimal.Decimal
	SoldQuantity   decimal.Decimal
	BuyNotional    decimal.Decimal
	SellNotional   decimal.Decimal
	Commission     decimal.Decimal
}

// AvgBuyPrice is the volume-weighted buy price, zero without buys
func (s SymbolSummary) AvgBuyPrice() decimal.Decimal {
	if s.BoughtQuantity.IsZero() {
		return decimal.Zero
	}
	return s.BuyNotional.Div(s.BoughtQuantity)
}

// AvgSellPrice is the volume-weighted sell price, zero without sells
func (s SymbolSummary) AvgSellPrice() decimal.Decimal {
	if s.SoldQuantity.IsZero() {
		return decimal.Zero
	}
	return s.SellNotional.Div(s.SoldQuantity)
}

// BlotterSummary is the Summary sheet content
type BlotterSummary struct {
	TotalOrders    int
	ByStatus       map[oms.Status]int
	Fills          int
	FilledNotional decimal.Decimal
	Commission     decimal.Decimal
	FillRate       float64
	AvgAckLatency  time.Duration
	From           time.Time
	To             time.Time
	Symbols        []SymbolSummary
}

// Summarize aggregates orders for the blotter. Fill rate is filled orders
// over orders that reached a terminal status.
func Summarize(orders []oms.Order) BlotterSummary {
	sum := BlotterSummary{
		ByStatus:       make(map[oms.Status]int),
		FilledNotional: decimal.Zero,
		Commission:     decimal.Zero,
	}
	bySymbol := make(map[string]*SymbolSummary)
	var ackTotal time.Duration
	acked := 0

	for i := range orders {
		o := &orders[i]
		sum.TotalOrders++
		sum.ByStatus[o.Status]++
		if sum.From.IsZero() || o.CreatedAt.Before(sum.From) {
			sum.From = o.CreatedAt
		}
		if o.UpdatedAt.After(sum.To) {
			sum.To = o.UpdatedAt
		}
		if l := o.AckLatency(); l > 0 {
			ackTotal += l
			acked++
		}

		ss, ok := bySymbol[o.Symbol]
		if !ok {
			ss = &SymbolSummary{
				Symbol:         o.Symbol,
				BoughtQuantity: decimal.Zero,
				SoldQuantity:   decimal.Zero,
				BuyNotional:    decimal.Zero,
				SellNotional:   decimal.Zero,
				Commission:     decimal.Zero,
			}
			bySymbol[o.Symbol] = ss
		}
		ss.Orders++
		for _, f := range o.Fills {
			notional := f.Quantity.Mul(f.Price)
			ss.Fills++
			ss.Commission = ss.Commission.Add(f.Commission)
			if o.Side == types.SideBuy {
				ss.BoughtQuantity = ss.BoughtQuantity.Add(f.Quantity)
				ss.BuyNotional = ss.BuyNotional.Add(notional)
			} else {
				ss.SoldQuantity = ss.SoldQuantity.Add(f.Quantity)
				ss.SellNotional = ss.SellNotional.Add(notional)
			}
			sum.Fills++
			sum.FilledNotional = sum.FilledNotional.Add(notional)
			sum.Commission = sum.Commission.Add(f.Commission)
		}
	}

	terminal := sum.ByStatus[oms.StatusFilled] + sum.ByStatus[oms.StatusCancelled] +
		sum.ByStatus[oms.StatusExpired] + sum.ByStatus[oms.StatusRejected]
	if terminal > 0 {
		sum.FillRate = float64(sum.ByStatus[oms.StatusFilled]) / float64(terminal)
	}
	if acked > 0 {
		sum.AvgAckLatency = ackTotal / time.Duration(acked)
	}

	for _, ss := range bySymbol {
		sum.Symbols = append(sum.Symbols, *ss)
	}
	sort.Slice(sum.Symbols, func(i, j int) bool { return sum.Symbols[i].Symbol < sum.Symbols[j].Symbol })
	return sum
}
