package project

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&CSVSource{})
)

// ErrSourceColumnMissing is wrapped by every source that cannot find a requested column.
var ErrSourceColumnMissing = errors.New("source has no such column")

var (
	ErrMissingCSVColumn = func(name string) error {
		return fmt.Errorf("%w: csv header has no column %q", ErrSourceColumnMissing, name)
	}
	ErrBadCSVCell = func(row int, column, cell string, err error) error {
		return fmt.Errorf("csv row %d column %s: cannot parse %q: %w", row, column, cell, err)
	}
)

// CSVSource streams a CSV file as record batches shaped by a declared schema.
// Columns are matched to the header by name; header columns not in the schema are skipped.
type CSVSource struct {
	r           *csv.Reader
	schema      *arrow.Schema // columns to project as well as types to cast to
	colPosition map[string]int
	rowsSeen    int
	done        bool // if this is set in Next, we have reached EOF
}

func NewProjectCSVLeaf(source io.Reader, schema *arrow.Schema) (*CSVSource, error) {
	r := csv.NewReader(source)
	r.ReuseRecord = true
	proj := &CSVSource{
		r:           r,
		schema:      schema,
		colPosition: make(map[string]int),
	}
	if err := proj.parseHeader(); err != nil {
		return nil, err
	}
	return proj, nil
}

func (csvS *CSVSource) Next(n uint16) (*operators.RecordBatch, error) {
	if csvS.done {
		return nil, io.EOF
	}

	builders := csvS.initBuilders()
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rowsRead := uint16(0)
	for rowsRead < n {
		row, err := csvS.r.Read()
		if err == io.EOF {
			csvS.done = true
			if rowsRead == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		csvS.rowsSeen++
		if err := csvS.processRow(row, builders); err != nil {
			return nil, err
		}
		rowsRead++
	}

	columns := make([]arrow.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.NewArray()
	}

	return &operators.RecordBatch{
		Schema:   csvS.schema,
		Columns:  columns,
		RowCount: uint64(rowsRead),
	}, nil
}
func (csvS *CSVSource) Close() error {
	csvS.r = nil
	csvS.done = true
	return nil
}

func (csvS *CSVSource) Schema() *arrow.Schema {
	return csvS.schema
}
func (csvS *CSVSource) initBuilders() []array.Builder {
	fields := csvS.schema.Fields()
	builders := make([]array.Builder, len(fields))
	for i, f := range fields {
		builders[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
	}
	return builders
}

// nullTokens are the cell values read as missing, the same set pandas treats as NA.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {},
}

func isNullCell(cell string) bool {
	if _, ok := nullTokens[cell]; ok {
		return true
	}
	return strings.EqualFold(cell, "NULL") || strings.EqualFold(cell, "NaN")
}

func (csvS *CSVSource) processRow(content []string, builders []array.Builder) error {
	fields := csvS.schema.Fields()
	for i, f := range fields {
		cell := strings.TrimSpace(content[csvS.colPosition[f.Name]])

		if isNullCell(cell) {
			builders[i].AppendNull()
			continue
		}
		switch b := builders[i].(type) {
		case *array.Int64Builder:
			v, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				// integers exported as floats ("5.0")
				fv, ferr := strconv.ParseFloat(cell, 64)
				if ferr != nil {
					return ErrBadCSVCell(csvS.rowsSeen, f.Name, cell, err)
				}
				v = int64(fv)
			}
			b.Append(v)

		case *array.Float64Builder:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return ErrBadCSVCell(csvS.rowsSeen, f.Name, cell, err)
			}
			b.Append(v)

		case *array.StringBuilder:
			b.Append(cell)

		case *array.BooleanBuilder:
			v, err := strconv.ParseBool(cell)
			if err != nil {
				return ErrBadCSVCell(csvS.rowsSeen, f.Name, cell, err)
			}
			b.Append(v)

		default:
			return fmt.Errorf("unsupported Arrow type: %s", f.Type)
		}
	}
	return nil
}

// first call to csv.Reader
func (csvS *CSVSource) parseHeader() error {
	header, err := csvS.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("csv source is empty, no header row")
		}
		return err
	}
	position := make(map[string]int, len(header))
	for i, colName := range header {
		name := strings.TrimSpace(strings.TrimPrefix(colName, "\ufeff"))
		if _, dup := position[name]; !dup {
			position[name] = i
		}
	}
	for _, f := range csvS.schema.Fields() {
		idx, ok := position[f.Name]
		if !ok {
			return ErrMissingCSVColumn(f.Name)
		}
		csvS.colPosition[f.Name] = idx
	}
	return nil
}
