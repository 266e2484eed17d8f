package operators

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidSchema = func(info string) error {
		return fmt.Errorf("invalid schema was provided. context: %s", info)
	}
	ErrColumnNotFound = func(name string) error {
		return fmt.Errorf("column %q not found in record batch", name)
	}
)

// TimestampType is the single timestamp representation used across the engine.
// Sources normalise every temporal column to it so comparisons never mix units.
var TimestampType = &arrow.TimestampType{Unit: arrow.Second, TimeZone: "UTC"}

type Operator interface {
	Next(uint16) (*RecordBatch, error)
	Schema() *arrow.Schema
	// Call Operator.Close() after Next returns an io.EOF to clean up resources
	Close() error
}
type RecordBatch struct {
	Schema   *arrow.Schema
	Columns  []arrow.Array
	RowCount uint64
}

// Column returns the array backing the named field.
func (rb *RecordBatch) Column(name string) (arrow.Array, error) {
	idx := rb.Schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil, ErrColumnNotFound(name)
	}
	return rb.Columns[idx[0]], nil
}

type SchemaBuilder struct {
	fields []arrow.Field
}

type RecordBatchBuilder struct {
	SchemaBuilder *SchemaBuilder
}

func NewRecordBatchBuilder() *RecordBatchBuilder {
	return &RecordBatchBuilder{
		SchemaBuilder: &SchemaBuilder{
			fields: make([]arrow.Field, 0, 10),
		},
	}
}

func (sb *SchemaBuilder) WithField(name string, dtype arrow.DataType, nullable bool) *SchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: nullable,
	})
	return sb
}
func (sb *SchemaBuilder) WithoutField(names ...string) *SchemaBuilder {
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	newFields := make([]arrow.Field, 0, len(sb.fields))
	for _, field := range sb.fields {
		if _, found := nameSet[field.Name]; !found {
			newFields = append(newFields, field)
		}
	}
	sb.fields = newFields
	return sb
}

func (sb *SchemaBuilder) Build() *arrow.Schema {
	return arrow.NewSchema(sb.fields, nil)
}
func (rbb *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(rbb.SchemaBuilder.fields, nil)
}

// schema is always right in case of type mismatches
func (rbb *RecordBatchBuilder) validate(schema *arrow.Schema, columns []arrow.Array) error {
	if len(schema.Fields()) != len(columns) {
		return ErrInvalidSchema("schema fields and column count do not match")
	}
	var errs []string
	for i := 0; i < len(columns); i++ {
		field := schema.Field(i)
		colType := columns[i].DataType()

		if !arrow.TypeEqual(colType, field.Type) {
			errs = append(errs,
				fmt.Sprintf("Type mismatch at position %d: column '%s' has type '%s', but schema expects '%s'.",
					i, field.Name, colType, field.Type))
		}
	}
	for i := 1; i < len(columns); i++ {
		if columns[i].Len() != columns[0].Len() {
			errs = append(errs, fmt.Sprintf("column '%s' has %d rows, expected %d.",
				schema.Field(i).Name, columns[i].Len(), columns[0].Len()))
		}
	}
	if len(errs) > 0 {
		return ErrInvalidSchema(strings.Join(errs, " "))
	}
	return nil
}
func (rbb *RecordBatchBuilder) NewRecordBatch(schema *arrow.Schema, columns []arrow.Array) (*RecordBatch, error) {
	if err := rbb.validate(schema, columns); err != nil {
		return nil, err
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}
func (rb *RecordBatch) DeepEqual(other *RecordBatch) bool {
	if !rb.Schema.Equal(other.Schema) {
		return false
	}
	if len(rb.Columns) != len(other.Columns) {
		return false
	}
	for i := 0; i < len(rb.Columns); i++ {
		if !array.Equal(rb.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

func (rbb *RecordBatchBuilder) GenInt64Array(values ...int64) arrow.Array {
	builder := array.NewInt64Builder(memory.DefaultAllocator)
	defer builder.Release()
	builder.AppendValues(values, nil)
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenFloatArray(values ...float64) arrow.Array {
	builder := array.NewFloat64Builder(memory.DefaultAllocator)
	defer builder.Release()
	builder.AppendValues(values, nil)
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenStringArray(values ...string) arrow.Array {
	builder := array.NewStringBuilder(memory.DefaultAllocator)
	defer builder.Release()
	builder.AppendValues(values, nil)
	return builder.NewArray()
}

// GenNullableStringArray treats every empty string as a null slot.
func (rbb *RecordBatchBuilder) GenNullableStringArray(values ...string) arrow.Array {
	builder := array.NewStringBuilder(memory.DefaultAllocator)
	defer builder.Release()
	for _, v := range values {
		if v == "" {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenBoolArray(values ...bool) arrow.Array {
	builder := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer builder.Release()
	builder.AppendValues(values, nil)
	return builder.NewArray()
}

// GenTimestampArray stores each time at second precision; zero times become nulls.
func (rbb *RecordBatchBuilder) GenTimestampArray(values ...time.Time) arrow.Array {
	builder := array.NewTimestampBuilder(memory.DefaultAllocator, TimestampType)
	defer builder.Release()
	for _, v := range values {
		if v.IsZero() {
			builder.AppendNull()
			continue
		}
		builder.Append(arrow.Timestamp(v.Unix()))
	}
	return builder.NewArray()
}

func ReleaseArrays(arrays []arrow.Array) {
	for _, a := range arrays {
		if a != nil {
			a.Release()
		}
	}
}

// EmptyColumns builds a zero-length array for every field of schema.
func EmptyColumns(schema *arrow.Schema) []arrow.Array {
	cols := make([]arrow.Array, len(schema.Fields()))
	for i, f := range schema.Fields() {
		b := array.NewBuilder(memory.DefaultAllocator, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	return cols
}

// Collect drains op into a single record batch owned by the caller. An operator
// that produces no rows yields a batch with zero-length columns rather than an error.
func Collect(op Operator, batchSize uint16) (*RecordBatch, error) {
	schema := op.Schema()
	var parts [][]arrow.Array
	var count uint64
	for {
		batch, err := op.Next(batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if batch == nil || batch.RowCount == 0 {
			continue
		}
		parts = append(parts, batch.Columns)
		count += batch.RowCount
	}
	if len(parts) == 0 {
		return &RecordBatch{Schema: schema, Columns: EmptyColumns(schema)}, nil
	}
	if len(parts) == 1 {
		return &RecordBatch{Schema: schema, Columns: parts[0], RowCount: count}, nil
	}
	columns := make([]arrow.Array, len(schema.Fields()))
	for i := range columns {
		chunks := make([]arrow.Array, len(parts))
		for j, p := range parts {
			chunks[j] = p[i]
		}
		merged, err := array.Concatenate(chunks, memory.DefaultAllocator)
		if err != nil {
			return nil, fmt.Errorf("collect: concatenate column %s: %w", schema.Field(i).Name, err)
		}
		columns[i] = merged
	}
	// batches returned by Next belong to the caller, the merged copies replace them
	for _, p := range parts {
		ReleaseArrays(p)
	}
	return &RecordBatch{Schema: schema, Columns: columns, RowCount: count}, nil
}
