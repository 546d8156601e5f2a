// Package exporter renders job records as downloadable tables.
package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"

	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/adapters/writers/csvwriter"
	"github.com/gosom/scrapemate/adapters/writers/jsonwriter"
	"github.com/xuri/excelize/v2"

	"github.com/gosom/gmaps-extractor/models"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat maps a user supplied format name to a Format. The empty
// string selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	default:
		return "", models.BadRequest(fmt.Sprintf("unsupported export format %q", s))
	}
}

// FieldSpec selects the output format and, optionally, a subset of columns
// in the given order. Column names are those of models.Record.CsvHeaders.
type FieldSpec struct {
	Format  Format
	Columns []string
}

// Export is a rendered table.
type Export struct {
	Data        []byte
	ContentType string
	Extension   string
}

const sheetName = "Results"

type Exporter struct{}

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) Render(ctx context.Context, records []models.Record, spec FieldSpec) (*Export, error) {
	cols, err := columns(spec.Columns)
	if err != nil {
		return nil, err
	}

	if spec.Format == "" {
		spec.Format = FormatCSV
	}

	switch spec.Format {
	case FormatCSV:
		data, err := renderCSV(ctx, records, cols)
		if err != nil {
			return nil, err
		}

		return &Export{Data: data, ContentType: "text/csv; charset=utf-8", Extension: "csv"}, nil
	case FormatJSON:
		data, err := renderJSON(ctx, records)
		if err != nil {
			return nil, err
		}

		return &Export{Data: data, ContentType: "application/x-ndjson", Extension: "jsonl"}, nil
	case FormatXLSX:
		data, err := renderXLSX(records, cols)
		if err != nil {
			return nil, err
		}

		return &Export{
			Data:        data,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Extension:   "xlsx",
		}, nil
	default:
		return nil, models.BadRequest(fmt.Sprintf("unsupported export format %q", spec.Format))
	}
}

// columns resolves names to indexes into the record row. No names selects
// every column.
func columns(names []string) ([]int, error) {
	headers := (&models.Record{}).CsvHeaders()

	if len(names) == 0 {
		idx := make([]int, len(headers))
		for i := range idx {
			idx[i] = i
		}

		return idx, nil
	}

	idx := make([]int, 0, len(names))

	for _, name := range names {
		i := slices.Index(headers, strings.TrimSpace(name))
		if i < 0 {
			return nil, models.BadRequest(fmt.Sprintf("unknown column %q", name))
		}

		idx = append(idx, i)
	}

	return idx, nil
}

// row is a projection of a record onto the selected columns.
type row struct {
	rec  *models.Record
	cols []int
}

func (r row) CsvHeaders() []string {
	return pick(r.rec.CsvHeaders(), r.cols)
}

func (r row) CsvRow() []string {
	return pick(r.rec.CsvRow(), r.cols)
}

func pick(all []string, cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = all[c]
	}

	return out
}

func feed(records []models.Record, data func(*models.Record) any) <-chan scrapemate.Result {
	in := make(chan scrapemate.Result, len(records))

	for i := range records {
		in <- scrapemate.Result{Data: data(&records[i])}
	}

	close(in)

	return in
}

func renderCSV(ctx context.Context, records []models.Record, cols []int) ([]byte, error) {
	var buf bytes.Buffer

	w := csvwriter.NewCsvWriter(csv.NewWriter(&buf))

	in := feed(records, func(r *models.Record) any {
		return row{rec: r, cols: cols}
	})

	if err := w.Run(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}

	return buf.Bytes(), nil
}

func renderJSON(ctx context.Context, records []models.Record) ([]byte, error) {
	var buf bytes.Buffer

	w := jsonwriter.NewJSONWriter(&buf)

	in := feed(records, func(r *models.Record) any {
		return r
	})

	if err := w.Run(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to write json: %w", err)
	}

	return buf.Bytes(), nil
}

func renderXLSX(records []models.Record, cols []int) (data []byte, err error) {
	f := excelize.NewFile()

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}

	f.SetActiveSheet(idx)

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headers := pick((&models.Record{}).CsvHeaders(), cols)
	if err := setRow(f, 1, toAny(headers)); err != nil {
		return nil, err
	}

	for i := range records {
		if err := setRow(f, i+2, cellValues(&records[i], cols)); err != nil {
			return nil, err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}

	return buf.Bytes(), nil
}

func setRow(f *excelize.File, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}

	return f.SetSheetRow(sheetName, cell, &values)
}

// cellValues keeps numeric columns numeric so spreadsheets can sort them.
func cellValues(r *models.Record, cols []int) []any {
	text := r.CsvRow()
	headers := r.CsvHeaders()

	out := make([]any, len(cols))

	for i, c := range cols {
		switch headers[c] {
		case "rating":
			out[i] = r.Rating
		case "reviews_count":
			out[i] = r.ReviewsCount
		default:
			out[i] = text[c]
		}
	}

	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i := range ss {
		out[i] = ss[i]
	}

	return out
}
