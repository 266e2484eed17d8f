package operators

import (
	"io"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func TestSchemaBuilderWithField(t *testing.T) {
	sb := &SchemaBuilder{
		fields: make([]arrow.Field, 0, 10),
	}

	sb.WithField("order_id", arrow.BinaryTypes.String, false).
		WithField("price", arrow.PrimitiveTypes.Float64, true).
		WithField("order_purchase_timestamp", TimestampType, false)

	if len(sb.fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(sb.fields))
	}
	expectedNames := []string{"order_id", "price", "order_purchase_timestamp"}
	for i, expected := range expectedNames {
		if sb.fields[i].Name != expected {
			t.Errorf("Field %d: expected name '%s', got '%s'", i, expected, sb.fields[i].Name)
		}
	}
	if !arrow.TypeEqual(sb.fields[2].Type, TimestampType) {
		t.Errorf("expected timestamp type, got %s", sb.fields[2].Type)
	}
	if !sb.fields[1].Nullable {
		t.Errorf("Field 'price': expected nullable=true")
	}
}

func TestSchemaBuilderWithoutField(t *testing.T) {
	sb := &SchemaBuilder{}
	sb.WithField("a", arrow.PrimitiveTypes.Int64, false).
		WithField("b", arrow.BinaryTypes.String, false).
		WithField("c", arrow.PrimitiveTypes.Float64, true)

	schema := sb.WithoutField("b").Build()
	if len(schema.Fields()) != 2 {
		t.Fatalf("Expected 2 fields after removal, got %d", len(schema.Fields()))
	}
	if schema.Field(0).Name != "a" || schema.Field(1).Name != "c" {
		t.Errorf("unexpected remaining fields %v", schema.Fields())
	}
}

func TestGenArrays(t *testing.T) {
	rbb := NewRecordBatchBuilder()

	t.Run("int64", func(t *testing.T) {
		arr := rbb.GenInt64Array(10, 20, 30)
		defer arr.Release()
		if !arrow.TypeEqual(arr.DataType(), arrow.PrimitiveTypes.Int64) {
			t.Fatalf("Expected Int64 type, got %s", arr.DataType())
		}
		if arr.(*array.Int64).Value(2) != 30 {
			t.Errorf("expected 30 at index 2, got %d", arr.(*array.Int64).Value(2))
		}
	})
	t.Run("nullable strings", func(t *testing.T) {
		arr := rbb.GenNullableStringArray("toys", "", "books")
		defer arr.Release()
		if arr.NullN() != 1 {
			t.Fatalf("expected 1 null, got %d", arr.NullN())
		}
		if !arr.IsNull(1) {
			t.Errorf("expected index 1 to be null")
		}
	})
	t.Run("timestamps", func(t *testing.T) {
		ts := time.Date(2024, 1, 3, 10, 30, 0, 0, time.UTC)
		arr := rbb.GenTimestampArray(ts, time.Time{})
		defer arr.Release()
		tsArr := arr.(*array.Timestamp)
		if int64(tsArr.Value(0)) != ts.Unix() {
			t.Errorf("expected %d, got %d", ts.Unix(), tsArr.Value(0))
		}
		if !tsArr.IsNull(1) {
			t.Errorf("zero time should be stored as null")
		}
	})
}

func TestValidate(t *testing.T) {
	rbb := NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("order_id", arrow.BinaryTypes.String, false).
		WithField("price", arrow.PrimitiveTypes.Float64, false).
		Build()

	t.Run("wrong type", func(t *testing.T) {
		err := rbb.validate(schema, []arrow.Array{rbb.GenInt64Array(1), rbb.GenFloatArray(1)})
		if err == nil {
			t.Fatal("Expected validation error for incorrect column type, got nil")
		}
	})
	t.Run("column count", func(t *testing.T) {
		err := rbb.validate(schema, []arrow.Array{rbb.GenStringArray("a")})
		if err == nil {
			t.Fatal("Expected validation error for column count mismatch, got nil")
		}
	})
	t.Run("ragged columns", func(t *testing.T) {
		err := rbb.validate(schema, []arrow.Array{rbb.GenStringArray("a", "b"), rbb.GenFloatArray(1)})
		if err == nil {
			t.Fatal("Expected validation error for ragged columns, got nil")
		}
	})
	t.Run("valid", func(t *testing.T) {
		rb, err := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenStringArray("a", "b"), rbb.GenFloatArray(1, 2)})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if rb.RowCount != 2 {
			t.Errorf("expected RowCount 2, got %d", rb.RowCount)
		}
		col, err := rb.Column("price")
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if col.Len() != 2 {
			t.Errorf("expected 2 prices, got %d", col.Len())
		}
		if _, err := rb.Column("missing"); err == nil {
			t.Errorf("expected error for unknown column")
		}
	})
}

func TestRecordBatchDeepEqual(t *testing.T) {
	rbb := NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.WithField("price", arrow.PrimitiveTypes.Float64, false).Build()
	a, _ := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenFloatArray(1, 2)})
	b, _ := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenFloatArray(1, 2)})
	c, _ := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenFloatArray(1, 3)})
	if !a.DeepEqual(b) {
		t.Errorf("expected equal batches")
	}
	if a.DeepEqual(c) {
		t.Errorf("expected different batches")
	}
}

// sliceOperator hands out pre-built batches, used to drive Collect.
type sliceOperator struct {
	schema  *arrow.Schema
	batches []*RecordBatch
}

func (s *sliceOperator) Next(uint16) (*RecordBatch, error) {
	if len(s.batches) == 0 {
		return nil, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}
func (s *sliceOperator) Schema() *arrow.Schema { return s.schema }
func (s *sliceOperator) Close() error          { return nil }

func TestCollect(t *testing.T) {
	rbb := NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.WithField("price", arrow.PrimitiveTypes.Float64, false).Build()

	t.Run("concatenates batches", func(t *testing.T) {
		b1, _ := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenFloatArray(1, 2)})
		b2, _ := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenFloatArray(3)})
		out, err := Collect(&sliceOperator{schema: schema, batches: []*RecordBatch{b1, b2}}, 10)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if out.RowCount != 3 || out.Columns[0].Len() != 3 {
			t.Fatalf("expected 3 rows, got %d", out.RowCount)
		}
		if out.Columns[0].(*array.Float64).Value(2) != 3 {
			t.Errorf("expected last value 3")
		}
	})
	t.Run("empty input", func(t *testing.T) {
		out, err := Collect(&sliceOperator{schema: schema}, 10)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if out.RowCount != 0 || len(out.Columns) != 1 || out.Columns[0].Len() != 0 {
			t.Fatalf("expected one zero-length column, got %+v", out)
		}
	})
}
