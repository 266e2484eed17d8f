package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ecomdash/dashboard"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// Format is the encoding of an exported report.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"

	filenameLayout = "20060102_150405"
	dayLayout      = time.DateOnly
)

var (
	ErrUnknownFormat = func(f string) error {
		return fmt.Errorf("unknown export format %q, expected json or xlsx", f)
	}
)

// ParseFormat accepts json or xlsx in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", ErrUnknownFormat(s)
}

// Envelope wraps a report with an id and the time it was produced.
type Envelope struct {
	ID          string            `json:"id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Source      string            `json:"source,omitempty"`
	Report      *dashboard.Report `json:"report"`
}

func NewEnvelope(source string, r *dashboard.Report) *Envelope {
	return &Envelope{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Source:      source,
		Report:      r,
	}
}

// TimestampedFilename is dir/name_YYYYMMDD_HHMMSS.ext.
func TimestampedFilename(dir, name string, f Format, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", name, at.Format(filenameLayout), f))
}

// WriteFile writes env into dir in format f and returns the path written.
func WriteFile(dir string, f Format, env *Envelope) (string, error) {
	if f != FormatJSON && f != FormatXLSX {
		return "", ErrUnknownFormat(string(f))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := "report_" + env.Report.Selection.String()
	path := TimestampedFilename(dir, name, f, env.GeneratedAt)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer file.Close()

	switch f {
	case FormatJSON:
		err = WriteJSON(file, env)
	case FormatXLSX:
		err = WriteXLSX(file, env.Report)
	}
	if err != nil {
		return "", err
	}
	return path, file.Close()
}

func WriteJSON(w io.Writer, env *Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// sheet names of the workbook, in tab order
const (
	SheetSummary        = "summary"
	SheetDaily          = "daily_orders"
	SheetCategorySales  = "category_sales"
	SheetCategoryReview = "category_review"
	SheetTopCities      = "top_cities"
	SheetRFM            = "rfm"
)

// WriteXLSX writes one sheet per derived table of r.
func WriteXLSX(w io.Writer, r *dashboard.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	s := r.Summary
	summary := [][]any{
		{"start", r.Selection.Start.Format(dayLayout)},
		{"end", r.Selection.End.Format(dayLayout)},
		{"rows", r.Rows},
		{"total_orders", s.TotalOrders},
		{"total_revenue", s.TotalRevenue},
		{"avg_recency", s.AvgRecency},
		{"avg_frequency", s.AvgFrequency},
		{"avg_monetary", s.AvgMonetary},
	}
	if err := writeRows(f, SheetSummary, []string{"metric", "value"}, summary); err != nil {
		return err
	}

	daily := make([][]any, len(r.Daily))
	for i, d := range r.Daily {
		daily[i] = []any{d.Date.Format(dayLayout), d.OrderCount, d.Revenue}
	}
	sales := make([][]any, len(r.CategorySales))
	for i, c := range r.CategorySales {
		sales[i] = []any{c.Category, c.OrderCount}
	}
	reviews := make([][]any, len(r.CategoryReview))
	for i, c := range r.CategoryReview {
		reviews[i] = []any{c.Category, c.MeanReviewScore}
	}
	cities := make([][]any, len(r.TopCities))
	for i, c := range r.TopCities {
		cities[i] = []any{c.City, c.UniqueCustomerCount}
	}
	rfm := make([][]any, len(r.RFM))
	for i, c := range r.RFM {
		rfm[i] = []any{c.CustomerID, c.Recency, c.Frequency, c.Monetary}
	}

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
	}{
		{SheetDaily, []string{"date", "order_count", "revenue"}, daily},
		{SheetCategorySales, []string{"category", "order_count"}, sales},
		{SheetCategoryReview, []string{"category", "mean_review_score"}, reviews},
		{SheetTopCities, []string{"city", "unique_customer_count"}, cities},
		{SheetRFM, []string{"customer_unique_id", "recency", "frequency", "monetary"}, rfm},
	}
	for _, sh := range sheets {
		if _, err := f.NewSheet(sh.name); err != nil {
			return err
		}
		if err := writeRows(f, sh.name, sh.headers, sh.rows); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
