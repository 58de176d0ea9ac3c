package reporting

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

const (
	ordersSheet  = "Orders"
	fillsSheet   = "Fills"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04:05"
)

// DefaultExcelReporter writes the order blotter workbook
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteBlotterXLSX writes Orders, Fills and Summary sheets to path
func (r *DefaultExcelReporter) WriteBlotterXLSX(orders []oms.Order, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), ordersSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(fillsSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeOrdersSheet(fx, orders, styles); err != nil {
		return fmt.Errorf("orders sheet: %w", err)
	}
	if err := r.writeFillsSheet(fx, orders, styles); err != nil {
		return fmt.Errorf("fills sheet: %w", err)
	}
	if err := r.writeSummarySheet(fx, Summarize(orders), styles); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}

	return fx.SaveAs(path)
}

func border(color string) []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: color, Style: 1},
		{Type: "right", Color: color, Style: 1},
		{Type: "top", Color: color, Style: 1},
		{Type: "bottom", Color: color, Style: 1},
	}
}

func (r *DefaultExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	// dark slate header, white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border("000000"),
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: border("E0E0E0")})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border("E0E0E0"),
	})
	if err != nil {
		return styles, err
	}

	qtyFmt := "0.00000000"
	styles.QuantityStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &qtyFmt,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       border("E0E0E0"),
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border("E0E0E0"),
	})
	if err != nil {
		return styles, err
	}

	styles.RejectedStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "9C0006"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
		Border: border("E0E0E0"),
	})
	if err != nil {
		return styles, err
	}

	styles.FilledStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "006100"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
		Border: border("E0E0E0"),
	})
	if err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11, Family: "Calibri"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"D9E1F2"}, Pattern: 1},
		Border: border("000000"),
	})
	return styles, err
}

func writeHeader(fx *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if i < len(widths) {
			if err := fx.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return err
			}
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// writeRow writes values starting at column A and styles each cell with the
// matching entry of styles
func writeRow(fx *excelize.File, sheet string, row int, values []interface{}, styles []int) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := fx.SetSheetRow(sheet, start, &values); err != nil {
		return err
	}
	for i, style := range styles {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func (r *DefaultExcelReporter) writeOrdersSheet(fx *excelize.File, orders []oms.Order, s ExcelStyles) error {
	headers := []string{
		"Order ID", "Client Order ID", "Venue Order ID", "Symbol", "Side", "Type", "Status",
		"Quantity", "Filled", "Remaining", "Price", "Avg Price", "Stop Price",
		"Route", "Reject Reason", "Created", "Ack Latency (ms)", "Closed",
	}
	widths := []float64{30, 30, 22, 12, 6, 11, 11, 14, 14, 14, 14, 14, 14, 8, 28, 20, 16, 20}
	if err := writeHeader(fx, ordersSheet, headers, widths, s.HeaderStyle); err != nil {
		return err
	}

	for i := range orders {
		o := &orders[i]
		statusStyle := s.BaseStyle
		switch o.Status {
		case oms.StatusRejected:
			statusStyle = s.RejectedStyle
		case oms.StatusFilled:
			statusStyle = s.FilledStyle
		}
		values := []interface{}{
			o.ID, o.ClientOrderID, o.VenueOrderID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
			o.Quantity.InexactFloat64(), o.FilledQuantity.InexactFloat64(), o.RemainingQuantity.InexactFloat64(),
			o.Price.InexactFloat64(), o.AveragePrice.InexactFloat64(), o.StopPrice.InexactFloat64(),
			o.Route, o.RejectReason, formatTime(o.CreatedAt),
			o.AckLatency().Milliseconds(), formatTime(o.ClosedAt),
		}
		rowStyles := []int{
			s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle, statusStyle,
			s.QuantityStyle, s.QuantityStyle, s.QuantityStyle,
			s.CurrencyStyle, s.CurrencyStyle, s.CurrencyStyle,
			s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle,
		}
		if err := writeRow(fx, ordersSheet, i+2, values, rowStyles); err != nil {
			return err
		}
	}

	if len(orders) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(headers), len(orders)+1)
		return fx.AutoFilter(ordersSheet, "A1:"+last, nil)
	}
	return nil
}

func (r *DefaultExcelReporter) writeFillsSheet(fx *excelize.File, orders []oms.Order, s ExcelStyles) error {
	headers := []string{"Order ID", "Fill ID", "Symbol", "Side", "Quantity", "Price", "Notional", "Commission", "Timestamp"}
	widths := []float64{30, 30, 12, 6, 14, 14, 16, 12, 20}
	if err := writeHeader(fx, fillsSheet, headers, widths, s.HeaderStyle); err != nil {
		return err
	}

	row := 2
	for i := range orders {
		o := &orders[i]
		for _, f := range o.Fills {
			values := []interface{}{
				o.ID, f.FillID, o.Symbol, string(o.Side),
				f.Quantity.InexactFloat64(), f.Price.InexactFloat64(),
				f.Quantity.Mul(f.Price).InexactFloat64(), f.Commission.InexactFloat64(),
				formatTime(f.Timestamp),
			}
			rowStyles := []int{
				s.BaseStyle, s.BaseStyle, s.BaseStyle, s.BaseStyle,
				s.QuantityStyle, s.CurrencyStyle, s.CurrencyStyle, s.CurrencyStyle, s.BaseStyle,
			}
			if err := writeRow(fx, fillsSheet, row, values, rowStyles); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func (r *DefaultExcelReporter) writeSummarySheet(fx *excelize.File, sum BlotterSummary, s ExcelStyles) error {
	if err := fx.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return err
	}
	if err := fx.SetColWidth(summarySheet, "B", "H", 16); err != nil {
		return err
	}

	rows := []struct {
		label string
		value interface{}
		style int
	}{
		{"Total Orders", sum.TotalOrders, s.BaseStyle},
		{"Filled", sum.ByStatus[oms.StatusFilled], s.BaseStyle},
		{"Cancelled", sum.ByStatus[oms.StatusCancelled], s.BaseStyle},
		{"Expired", sum.ByStatus[oms.StatusExpired], s.BaseStyle},
		{"Rejected", sum.ByStatus[oms.StatusRejected], s.BaseStyle},
		{"Open", sum.TotalOrders - sum.ByStatus[oms.StatusFilled] - sum.ByStatus[oms.StatusCancelled] -
			sum.ByStatus[oms.StatusExpired] - sum.ByStatus[oms.StatusRejected], s.BaseStyle},
		{"Fills", sum.Fills, s.BaseStyle},
		{"Filled Notional", sum.FilledNotional.InexactFloat64(), s.CurrencyStyle},
		{"Commission", sum.Commission.InexactFloat64(), s.CurrencyStyle},
		{"Fill Rate", sum.FillRate, s.PercentStyle},
		{"Avg Ack Latency (ms)", sum.AvgAckLatency.Milliseconds(), s.BaseStyle},
		{"From", formatTime(sum.From), s.BaseStyle},
		{"To", formatTime(sum.To), s.BaseStyle},
	}
	for i, row := range rows {
		if err := writeRow(fx, summarySheet, i+1, []interface{}{row.label, row.value}, []int{s.SummaryStyle, row.style}); err != nil {
			return err
		}
	}

	start := len(rows) + 3
	headers := []string{"Symbol", "Orders", "Fills", "Bought", "Avg Buy", "Sold", "Avg Sell", "Commission"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, start)
		if err := fx.SetCellValue(summarySheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(summarySheet, cell, cell, s.HeaderStyle); err != nil {
			return err
		}
	}
	for i, ss := range sum.Symbols {
		values := []interface{}{
			ss.Symbol, ss.Orders, ss.Fills,
			ss.BoughtQuantity.InexactFloat64(), ss.AvgBuyPrice().InexactFloat64(),
			ss.SoldQuantity.InexactFloat64(), ss.AvgSellPrice().InexactFloat64(),
			ss.Commission.InexactFloat64(),
		}
		rowStyles := []int{
			s.BaseStyle, s.BaseStyle, s.BaseStyle,
			s.QuantityStyle, s.CurrencyStyle, s.QuantityStyle, s.CurrencyStyle, s.CurrencyStyle,
		}
		if err := writeRow(fx, summarySheet, start+1+i, values, rowStyles); err != nil {
			return err
		}
	}
	return nil
}
