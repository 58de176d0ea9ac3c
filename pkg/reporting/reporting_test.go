package reporting

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

var t0 = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func blotterOrders() []oms.Order {
	filled := oms.Order{
		ID: "o-1", ClientOrderID: "c-1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket,
		Status: oms.StatusFilled, Quantity: d(2), FilledQuantity: d(2), RemainingQuantity: d(0),
		AveragePrice: d(101),
		Fills: []oms.Fill{
			{FillID: "f-1", Quantity: d(1), Price: d(100), Commission: d(0.1), Timestamp: t0.Add(time.Second)},
			{FillID: "f-2", Quantity: d(1), Price: d(102), Commission: d(0.1), Timestamp: t0.Add(2 * time.Second)},
		},
		CreatedAt: t0, SubmittedAt: t0, AckedAt: t0.Add(40 * time.Millisecond), UpdatedAt: t0.Add(2 * time.Second),
	}
	sold := oms.Order{
		ID: "o-2", ClientOrderID: "c-2", Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeLimit,
		Status: oms.StatusPartial, Quantity: d(1), FilledQuantity: d(0.5), RemainingQuantity: d(0.5),
		Price: d(110), AveragePrice: d(110),
		Fills:     []oms.Fill{{FillID: "f-3", Quantity: d(0.5), Price: d(110), Timestamp: t0.Add(time.Minute)}},
		CreatedAt: t0.Add(30 * time.Second), SubmittedAt: t0.Add(30 * time.Second),
		AckedAt: t0.Add(30*time.Second + 20*time.Millisecond), UpdatedAt: t0.Add(time.Minute),
	}
	rejected := oms.Order{
		ID: "o-3", ClientOrderID: "c-3", Symbol: "ETHUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Status: oms.StatusRejected, Quantity: d(1), FilledQuantity: d(0), RemainingQuantity: d(1),
		RejectReason: "insufficient balance", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Minute),
	}
	return []oms.Order{filled, sold, rejected}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(blotterOrders())

	assert.Equal(t, 3, sum.TotalOrders)
	assert.Equal(t, 1, sum.ByStatus[oms.StatusFilled])
	assert.Equal(t, 1, sum.ByStatus[oms.StatusRejected])
	assert.Equal(t, 3, sum.Fills)
	assert.True(t, sum.FilledNotional.Equal(d(257)), sum.FilledNotional.String())
	assert.True(t, sum.Commission.Equal(d(0.2)))
	assert.InDelta(t, 0.5, sum.FillRate, 1e-12)
	assert.Equal(t, 30*time.Millisecond, sum.AvgAckLatency)
	assert.True(t, sum.From.Equal(t0))
	assert.True(t, sum.To.Equal(t0.Add(time.Minute)))

	require.Len(t, sum.Symbols, 2)
	btc := sum.Symbols[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, 2, btc.Orders)
	assert.True(t, btc.AvgBuyPrice().Equal(d(101)))
	assert.True(t, btc.AvgSellPrice().Equal(d(110)))
	assert.True(t, sum.Symbols[1].AvgBuyPrice().IsZero())
}

func TestWriteBlotterXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "blotter.xlsx")
	require.NoError(t, NewDefaultExcelReporter().WriteBlotterXLSX(blotterOrders(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{ordersSheet, fillsSheet, summarySheet}, fx.GetSheetList())

	raw := excelize.Options{RawCellValue: true}
	orders, err := fx.GetRows(ordersSheet, raw)
	require.NoError(t, err)
	require.Len(t, orders, 4)
	assert.Equal(t, "Order ID", orders[0][0])
	assert.Equal(t, "o-1", orders[1][0])
	assert.Equal(t, "FILLED", orders[1][6])
	assert.Equal(t, "insufficient balance", orders[3][14])

	fills, err := fx.GetRows(fillsSheet, raw)
	require.NoError(t, err)
	require.Len(t, fills, 4)
	assert.Equal(t, "f-2", fills[2][1])
	assert.Equal(t, "102", fills[2][5])

	total, err := fx.GetCellValue(summarySheet, "B1", raw)
	require.NoError(t, err)
	assert.Equal(t, "3", total)
}

func TestWriteBlotterXLSXEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, NewDefaultExcelReporter().WriteBlotterXLSX(nil, path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()
	rows, err := fx.GetRows(ordersSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRenderStatus(t *testing.T) {
	snap := monitoring.StatusSnapshot{
		Mode:            safety.ModeHalt,
		Halted:          true,
		HaltReason:      "daily drawdown",
		OrdersPerMinute: 1.5,
		FillRate:        0.75,
		OpenOrders:      2,
		VenueConnected:  true,
		Risk:            risk.Metrics{TotalExposure: 1234.5, DailyPnL: -50},
		Positions:       []risk.Position{{Symbol: "BTCUSDT", Side: types.SideBuy, Size: 0.1, EntryPrice: 50000, CurrentPrice: 49000}},
		Violations:      []risk.Violation{{Type: risk.ViolationDrawdown, Severity: risk.SeverityCritical, Message: "daily drawdown 6%"}},
	}

	var buf bytes.Buffer
	NewDefaultConsoleReporter().RenderStatus(&buf, snap)
	out := buf.String()

	for _, want := range []string{"OMS STATUS", "HALTED (daily drawdown)", "75.0%", "$1234.50", "POSITIONS", "BTCUSDT", "ACTIVE VIOLATIONS", "CRITICAL"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderOrders(t *testing.T) {
	var buf bytes.Buffer
	NewDefaultConsoleReporter().RenderOrders(&buf, blotterOrders())
	out := buf.String()
	assert.Contains(t, out, "o-3")
	assert.Contains(t, out, "REJECTED")
	assert.Contains(t, out, "101.00")
}

func TestDefaultBlotterPath(t *testing.T) {
	assert.Equal(t, filepath.Join("reports", "blotter_20240603.xlsx"), DefaultBlotterPath(t0))
}
