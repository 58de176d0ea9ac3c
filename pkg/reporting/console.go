package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

// DefaultConsoleReporter renders tables with go-pretty
type DefaultConsoleReporter struct{}

// NewDefaultConsoleReporter creates a new console reporter
func NewDefaultConsoleReporter() *DefaultConsoleReporter {
	return &DefaultConsoleReporter{}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderStatus prints the status snapshot: trading state, throughput,
// risk, positions and active violations
func (r *DefaultConsoleReporter) RenderStatus(w io.Writer, snap monitoring.StatusSnapshot) {
	t := newTable(w, "OMS STATUS")

	state := strings.ToUpper(string(snap.Mode))
	if snap.Halted {
		state = fmt.Sprintf("HALTED (%s)", snap.HaltReason)
		if snap.ManualHalt {
			state += " manual"
		}
	} else if snap.Reducing {
		state += " reducing"
	}
	venue := "connected"
	if !snap.VenueConnected {
		venue = "disconnected"
	}

	t.AppendRows([]table.Row{
		{"Mode", state},
		{"Uptime", snap.Uptime},
		{"Venue", venue},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Orders/min", fmt.Sprintf("%.2f", snap.OrdersPerMinute)},
		{"Fill Rate", fmt.Sprintf("%.1f%%", snap.FillRate*100)},
		{"Error Rate", fmt.Sprintf("%.3f", snap.ErrorRate)},
		{"Avg Ack Latency", fmt.Sprintf("%.1f ms", snap.AvgAckLatencyMs)},
		{"Open Orders", snap.OpenOrders},
		{"Indeterminate", snap.Indeterminate},
		{"Rate Gate", fmt.Sprintf("in-flight %d, waiting %d, dropped %d",
			snap.RateGate.InFlight, snap.RateGate.Waiting, snap.RateGate.Dropped)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Exposure", fmt.Sprintf("$%.2f", snap.Risk.TotalExposure)},
		{"Daily PnL", fmt.Sprintf("$%.2f", snap.Risk.DailyPnL)},
		{"Daily Drawdown", fmt.Sprintf("%.2f%%", snap.Risk.DailyDrawdown*100)},
		{"Trades Today", snap.Risk.DailyTradeCount},
		{"Consecutive Losses", snap.Risk.ConsecutiveLosses},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 50, Align: text.AlignLeft},
	})
	t.Render()

	if len(snap.Positions) > 0 {
		pt := newTable(w, "POSITIONS")
		pt.AppendHeader(table.Row{"Symbol", "Side", "Size", "Entry", "Price", "PnL"})
		for _, p := range snap.Positions {
			pt.AppendRow(table.Row{
				p.Symbol, strings.ToUpper(string(p.Side)),
				fmt.Sprintf("%.6f", p.Size), fmt.Sprintf("%.2f", p.EntryPrice),
				fmt.Sprintf("%.2f", p.CurrentPrice), fmt.Sprintf("%.2f", p.PnL),
			})
		}
		pt.Render()
	}

	if len(snap.Violations) > 0 {
		vt := newTable(w, "ACTIVE VIOLATIONS")
		vt.AppendHeader(table.Row{"Severity", "Type", "Message"})
		for _, v := range snap.Violations {
			vt.AppendRow(table.Row{strings.ToUpper(string(v.Severity)), string(v.Type), v.Message})
		}
		vt.Render()
	}
}

// RenderOrders prints one row per order
func (r *DefaultConsoleReporter) RenderOrders(w io.Writer, orders []oms.Order) {
	t := newTable(w, "ORDERS")
	t.AppendHeader(table.Row{"Order ID", "Symbol", "Side", "Type", "Status", "Qty", "Filled", "Avg Price"})
	for i := range orders {
		o := &orders[i]
		t.AppendRow(table.Row{
			o.ID, o.Symbol, strings.ToUpper(string(o.Side)), string(o.Type), string(o.Status),
			o.Quantity.String(), o.FilledQuantity.String(), o.AveragePrice.StringFixed(2),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(orders), "", ""})
	t.Render()
}
