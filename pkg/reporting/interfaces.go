// Package reporting renders OMS state for operators: a console status table
// and an Excel order blotter.
package reporting

import (
	"io"

	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

// ConsoleReporter renders live state as text tables
type ConsoleReporter interface {
	RenderStatus(w io.Writer, snap monitoring.StatusSnapshot)
	RenderOrders(w io.Writer, orders []oms.Order)
}

// FileReporter writes order history to disk
type FileReporter interface {
	WriteBlotterXLSX(orders []oms.Order, path string) error
}

// ExcelStyles holds the blotter cell styles
type ExcelStyles struct {
	HeaderStyle   int
	BaseStyle     int
	CurrencyStyle int
	QuantityStyle int
	PercentStyle  int
	RejectedStyle int
	FilledStyle   int
	SummaryStyle  int
}

var (
	_ ConsoleReporter = (*DefaultConsoleReporter)(nil)
	_ FileReporter    = (*DefaultExcelReporter)(nil)
)
