package filter

import (
	"errors"
	"io"
	"testing"
	"time"

	"ecomdash/Expr"
	"ecomdash/operators"
	"ecomdash/operators/project"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func generateTestColumns() ([]string, []any) {
	names := []string{"order_id", "purchase_day", "price", "is_delivered", "order_purchase_timestamp"}
	columns := []any{
		[]string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8"},
		[]int64{19725, 19725, 19726, 19727, 19727, 19728, 19730, 19731},
		[]float64{10, 20, 30, 40, 50, 60, 70, 80},
		[]bool{true, false, true, true, false, true, true, false},
		[]time.Time{
			time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC),
			time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 4, 13, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		},
	}
	return names, columns
}

func basicProject() *project.InMemorySource {
	names, cols := generateTestColumns()
	v, _ := project.NewInMemoryProjectExec(names, cols)
	return v
}

func dayRange(start, end int64) Expr.Expression {
	return Expr.NewBinaryExpr(
		Expr.NewBinaryExpr(Expr.NewColumnResolve("purchase_day"), Expr.GreaterThanOrEqual, Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, start)),
		Expr.And,
		Expr.NewBinaryExpr(Expr.NewColumnResolve("purchase_day"), Expr.LessThanOrEqual, Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, end)),
	)
}

func TestFilterInit(t *testing.T) {
	t.Run("range predicate", func(t *testing.T) {
		if _, err := NewFilterExec(basicProject(), dayRange(19725, 19727)); err != nil {
			t.Fatalf("failed to create filter exec: %v", err)
		}
	})
	t.Run("boolean equals predicate", func(t *testing.T) {
		predicate := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("is_delivered"),
			Expr.Equal,
			Expr.NewLiteralResolve(arrow.FixedWidthTypes.Boolean, true),
		)
		if _, err := NewFilterExec(basicProject(), predicate); err != nil {
			t.Fatalf("failed to create filter exec: %v", err)
		}
	})
	t.Run("invalid column name", func(t *testing.T) {
		predicate := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("does_not_exist"),
			Expr.Equal,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 1),
		)
		_, err := NewFilterExec(basicProject(), predicate)
		if !errors.Is(err, ErrInvalidPredicate) {
			t.Fatalf("expected ErrInvalidPredicate for missing column, got %v", err)
		}
	})
	t.Run("mismatched operand types", func(t *testing.T) {
		predicate := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("purchase_day"),
			Expr.Equal,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, 1.5),
		)
		if _, err := NewFilterExec(basicProject(), predicate); err == nil {
			t.Fatalf("expected error comparing int64 column with float64 literal")
		}
	})
	t.Run("arithmetic is not a predicate", func(t *testing.T) {
		predicate := Expr.NewBinaryExpr(Expr.NewColumnResolve("price"), Expr.Addition, Expr.NewColumnResolve("price"))
		if _, err := NewFilterExec(basicProject(), predicate); err == nil {
			t.Fatalf("expected error for non boolean predicate")
		}
	})
	t.Run("nil predicate should fail", func(t *testing.T) {
		if _, err := NewFilterExec(basicProject(), nil); err == nil {
			t.Fatalf("expected error for nil predicate")
		}
	})
}

func TestFilterExec_BasicPredicates(t *testing.T) {
	t.Run("inclusive day range", func(t *testing.T) {
		f, err := NewFilterExec(basicProject(), dayRange(19725, 19727))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rb, err := f.Next(100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rb.RowCount != 5 {
			t.Fatalf("expected 5 rows in range, got %d", rb.RowCount)
		}
		raw, _ := rb.Column("order_id")
		ids := raw.(*array.String)
		expected := []string{"o1", "o2", "o3", "o4", "o5"}
		for i := range expected {
			if ids.Value(i) != expected[i] {
				t.Fatalf("index %d expected %s got %s", i, expected[i], ids.Value(i))
			}
		}
		// every column is filtered with the same mask
		for _, c := range rb.Columns {
			if c.Len() != 5 {
				t.Fatalf("column of length %d, expected 5", c.Len())
			}
		}
	})
	t.Run("timestamp literal comparison", func(t *testing.T) {
		cut := time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC).Unix()
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("order_purchase_timestamp"),
			Expr.GreaterThanOrEqual,
			Expr.NewLiteralResolve(operators.TimestampType, cut),
		)
		f, err := NewFilterExec(basicProject(), pred)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rb, err := f.Next(100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rb.RowCount != 5 {
			t.Fatalf("expected 5 rows at or after the cut, got %d", rb.RowCount)
		}
	})
	t.Run("no matches yields empty batch", func(t *testing.T) {
		f, _ := NewFilterExec(basicProject(), dayRange(20000, 20001))
		rb, err := f.Next(100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rb.RowCount != 0 {
			t.Fatalf("expected 0 rows, got %d", rb.RowCount)
		}
		if _, err := f.Next(100); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after input drained, got %v", err)
		}
	})
}

func TestFilterExec_EdgeCases(t *testing.T) {
	t.Run("zero batch size", func(t *testing.T) {
		f, _ := NewFilterExec(basicProject(), dayRange(0, 1))
		if _, err := f.Next(0); !errors.Is(err, ErrZeroBatchSize) {
			t.Fatalf("expected ErrZeroBatchSize, got %v", err)
		}
	})
	t.Run("null predicate values drop the row", func(t *testing.T) {
		src, err := project.NewInMemorySource(nullableCategories())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("product_category_name"),
			Expr.Equal,
			Expr.NewLiteralResolve(arrow.BinaryTypes.String, "toys"),
		)
		f, err := NewFilterExec(src, pred)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out, err := operators.Collect(f, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.RowCount != 2 {
			t.Fatalf("expected 2 toys rows, got %d", out.RowCount)
		}
	})
	t.Run("null check predicate", func(t *testing.T) {
		src, _ := project.NewInMemorySource(nullableCategories())
		f, err := NewFilterExec(src, Expr.NewNullCheckExpr(Expr.NewColumnResolve("product_category_name")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out, err := operators.Collect(f, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.RowCount != 3 {
			t.Fatalf("expected 3 rows with a category, got %d", out.RowCount)
		}
	})
}

func TestFilterAcrossBatches(t *testing.T) {
	f, _ := NewFilterExec(basicProject(), dayRange(19726, 19731))
	out, err := operators.Collect(f, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RowCount != 6 {
		t.Fatalf("expected 6 rows, got %d", out.RowCount)
	}
	col, _ := out.Column("price")
	prices := col.(*array.Float64)
	if prices.Value(0) != 30 || prices.Value(5) != 80 {
		t.Errorf("unexpected prices %v", prices)
	}
	if err := f.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestApplyBooleanMask(t *testing.T) {
	rbb := operators.NewRecordBatchBuilder()
	col := rbb.GenFloatArray(1, 2, 3)
	defer col.Release()
	mask := rbb.GenBoolArray(true, false, true)
	defer mask.Release()
	out, err := ApplyBooleanMask(col, mask.(*array.Boolean))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer out.Release()
	f := out.(*array.Float64)
	if f.Len() != 2 || f.Value(0) != 1 || f.Value(1) != 3 {
		t.Errorf("unexpected filtered values %v", f)
	}
}

func nullableCategories() *operators.RecordBatch {
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("order_id", arrow.BinaryTypes.String, false).
		WithField("product_category_name", arrow.BinaryTypes.String, true).
		Build()
	rb, err := rbb.NewRecordBatch(schema, []arrow.Array{
		rbb.GenStringArray("o1", "o2", "o3", "o4"),
		rbb.GenNullableStringArray("toys", "", "books", "toys"),
	})
	if err != nil {
		panic(err)
	}
	return rb
}
