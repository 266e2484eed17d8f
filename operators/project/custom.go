package project

import (
	"fmt"
	"io"
	"time"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&InMemorySource{})
)

var (
	ErrInvalidInMemoryDataType = func(Type any) error {
		return fmt.Errorf("%T is not a supported in memory dataType for InMemorySource", Type)
	}
)

// InMemorySource replays columns that already live in memory. It is the leaf of
// every pipeline that runs against the loaded orders table.
type InMemorySource struct {
	schema        *arrow.Schema
	columns       []arrow.Array
	pos           uint64
	rows          uint64
	fieldToColIDx map[string]int
}

// NewInMemoryProjectExec builds a source from plain Go slices, one per column.
func NewInMemoryProjectExec(names []string, columns []any) (*InMemorySource, error) {
	if len(names) != len(columns) {
		return nil, operators.ErrInvalidSchema("number of column names and columns do not match")
	}
	fields := make([]arrow.Field, 0, len(names))
	arrays := make([]arrow.Array, 0, len(names))
	for i, col := range columns {
		if !supportedType(col) {
			return nil, operators.ErrInvalidSchema(fmt.Sprintf("unsupported column type for column %s", names[i]))
		}
		field, arr, err := unpackColumn(names[i], col)
		if err != nil {
			return nil, ErrInvalidInMemoryDataType(col)
		}
		fields = append(fields, field)
		arrays = append(arrays, arr)
	}
	return newInMemorySource(arrow.NewSchema(fields, nil), arrays)
}

// NewInMemorySource replays an existing record batch. The batch keeps ownership
// of its columns; the source holds its own reference until Close.
func NewInMemorySource(batch *operators.RecordBatch) (*InMemorySource, error) {
	for _, c := range batch.Columns {
		c.Retain()
	}
	return newInMemorySource(batch.Schema, batch.Columns)
}

func newInMemorySource(schema *arrow.Schema, columns []arrow.Array) (*InMemorySource, error) {
	if len(schema.Fields()) != len(columns) {
		return nil, operators.ErrInvalidSchema("schema fields and column count do not match")
	}
	fieldToColIDx := make(map[string]int, len(columns))
	var rows uint64
	for i, f := range schema.Fields() {
		fieldToColIDx[f.Name] = i
		if i == 0 {
			rows = uint64(columns[i].Len())
		} else if uint64(columns[i].Len()) != rows {
			return nil, operators.ErrInvalidSchema(fmt.Sprintf("column %s has %d rows, expected %d", f.Name, columns[i].Len(), rows))
		}
	}
	return &InMemorySource{
		schema:        schema,
		columns:       columns,
		rows:          rows,
		fieldToColIDx: fieldToColIDx,
	}, nil
}

func (ms *InMemorySource) withFields(names ...string) error {
	newSchema, cols, err := ProjectSchemaFilterDown(ms.schema, ms.columns, names...)
	if err != nil {
		return err
	}
	newMap := make(map[string]int)
	for i, f := range newSchema.Fields() {
		newMap[f.Name] = i
	}
	operators.ReleaseArrays(ms.columns)
	ms.schema = newSchema
	ms.fieldToColIDx = newMap
	ms.columns = cols
	return nil
}

func (ms *InMemorySource) Next(n uint16) (*operators.RecordBatch, error) {
	if len(ms.columns) == 0 || ms.pos >= ms.rows {
		return nil, io.EOF
	}
	toRead := uint64(n)
	if remaining := ms.rows - ms.pos; remaining < toRead {
		toRead = remaining
	}
	outPutCols := make([]arrow.Array, len(ms.schema.Fields()))
	for i, field := range ms.schema.Fields() {
		col := ms.columns[ms.fieldToColIDx[field.Name]]
		outPutCols[i] = array.NewSlice(col, int64(ms.pos), int64(ms.pos+toRead))
	}
	ms.pos += toRead

	return &operators.RecordBatch{
		Schema:   ms.schema,
		Columns:  outPutCols,
		RowCount: toRead,
	}, nil
}
func (ms *InMemorySource) Close() error {
	operators.ReleaseArrays(ms.columns)
	ms.columns = nil
	return nil
}
func (ms *InMemorySource) Schema() *arrow.Schema {
	return ms.schema
}

func unpackColumn(name string, col any) (arrow.Field, arrow.Array, error) {
	field := arrow.Field{Name: name, Nullable: true}
	switch data := col.(type) {
	case []int:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		for _, v := range data {
			b.Append(int64(v))
		}
		return field, b.NewArray(), nil
	case []int64:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []float64:
		field.Type = arrow.PrimitiveTypes.Float64
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []string:
		field.Type = arrow.BinaryTypes.String
		b := array.NewStringBuilder(memory.DefaultAllocator)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []bool:
		field.Type = arrow.FixedWidthTypes.Boolean
		b := array.NewBooleanBuilder(memory.DefaultAllocator)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []time.Time:
		field.Type = operators.TimestampType
		return field, operators.NewRecordBatchBuilder().GenTimestampArray(data...), nil
	}
	return arrow.Field{}, nil, fmt.Errorf("unsupported column type for column %s", name)
}
func supportedType(col any) bool {
	switch col.(type) {
	case []int, []int64, []float64, []string, []bool, []time.Time:
		return true
	default:
		return false
	}
}
