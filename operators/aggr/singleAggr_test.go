package aggr

import (
	"errors"
	"io"
	"testing"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

func nullableFloats(values []float64, nullIdx ...int) arrow.Array {
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	for _, i := range nullIdx {
		valid[i] = false
	}
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, valid)
	return b.NewArray()
}

func TestAccumulators(t *testing.T) {
	values := nullableFloats([]float64{4, 1, 9})
	defer values.Release()
	feed := func(acc Accumulator) Accumulator {
		for i := 0; i < values.Len(); i++ {
			acc.Update(values, i)
		}
		return acc
	}
	cases := []struct {
		name     string
		acc      Accumulator
		expected float64
	}{
		{"min", newMinAggr(), 1},
		{"max", newMaxAggr(), 9},
		{"count", NewCountAggr(), 3},
		{"sum", NewSumAggr(), 14},
		{"avg", newAvgAggr(), 14.0 / 3.0},
		{"count distinct", NewCountDistinctAggr(), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := feed(tc.acc).Finalize()
			if !ok {
				t.Fatalf("expected a defined result")
			}
			if got != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestAccumulatorsEmpty(t *testing.T) {
	for _, f := range []AggrFunc{Min, Max, Avg} {
		acc, _ := newAccumulator(f)
		if _, ok := acc.Finalize(); ok {
			t.Errorf("%s over nothing should be undefined", aggrToString(int(f)))
		}
	}
	for _, f := range []AggrFunc{Count, Sum, CountDistinct} {
		acc, _ := newAccumulator(f)
		v, ok := acc.Finalize()
		if !ok || v != 0 {
			t.Errorf("%s over nothing should be 0, got %v (%v)", aggrToString(int(f)), v, ok)
		}
	}
	if _, err := newAccumulator(AggrFunc(42)); err == nil {
		t.Errorf("expected error for unknown aggregate")
	}
}

func TestCountDistinctStrings(t *testing.T) {
	rbb := operators.NewRecordBatchBuilder()
	ids := rbb.GenStringArray("o1", "o2", "o2", "o3", "o1")
	defer ids.Release()
	acc := NewCountDistinctAggr()
	for i := 0; i < ids.Len(); i++ {
		acc.Update(ids, i)
	}
	if v, _ := acc.Finalize(); v != 3 {
		t.Errorf("expected 3 distinct orders, got %v", v)
	}
}

func TestNewAggrExec(t *testing.T) {
	t.Run("output names and types", func(t *testing.T) {
		agg, err := NewGlobalAggrExec(orderSource(t), []AggregateFunctions{
			NewAggregateFunctions(Min, Expr.NewColumnResolve("purchase_day")),
			NewAggregateFunctions(Sum, Expr.NewColumnResolve("price")).As("revenue"),
			NewAggregateFunctions(CountDistinct, Expr.NewColumnResolve("order_id")),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"min_purchase_day", "revenue", "count_distinct_order_id"}
		for i, f := range agg.Schema().Fields() {
			if f.Name != expected[i] {
				t.Errorf("field %d: expected %s got %s", i, expected[i], f.Name)
			}
			if !arrow.TypeEqual(f.Type, arrow.PrimitiveTypes.Float64) {
				t.Errorf("field %s should be float64", f.Name)
			}
		}
	})
	t.Run("sum over strings is rejected", func(t *testing.T) {
		_, err := NewGlobalAggrExec(orderSource(t), []AggregateFunctions{
			NewAggregateFunctions(Sum, Expr.NewColumnResolve("customer_city")),
		})
		if err == nil {
			t.Fatalf("expected error summing a string column")
		}
	})
	t.Run("count distinct over strings is fine", func(t *testing.T) {
		_, err := NewGlobalAggrExec(orderSource(t), []AggregateFunctions{
			NewAggregateFunctions(CountDistinct, Expr.NewColumnResolve("customer_city")),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	t.Run("unknown column", func(t *testing.T) {
		_, err := NewGlobalAggrExec(orderSource(t), []AggregateFunctions{
			NewAggregateFunctions(Max, Expr.NewColumnResolve("freight_value")),
		})
		if err == nil {
			t.Fatalf("expected error for unknown column")
		}
	})
}

func TestAggregateExecNext(t *testing.T) {
	agg, err := NewGlobalAggrExec(orderSource(t), []AggregateFunctions{
		NewAggregateFunctions(Min, Expr.NewColumnResolve("purchase_day")),
		NewAggregateFunctions(Max, Expr.NewColumnResolve("purchase_day")),
		NewAggregateFunctions(Sum, Expr.NewColumnResolve("price")),
		NewAggregateFunctions(Avg, Expr.NewColumnResolve("review_score")),
		NewAggregateFunctions(Count, Expr.NewColumnResolve("review_score")),
		NewAggregateFunctions(CountDistinct, Expr.NewColumnResolve("customer_unique_id")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// small batches so the accumulators see several inputs
	rb, err := agg.Next(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rb.RowCount != 1 {
		t.Fatalf("expected a single row, got %d", rb.RowCount)
	}
	expected := []float64{19725, 19730, 290, 19.0 / 6.0, 6, 4}
	for i, e := range expected {
		got := rb.Columns[i].(*array.Float64).Value(0)
		if got != e {
			t.Errorf("%s: expected %v got %v", rb.Schema.Field(i).Name, e, got)
		}
	}
	if _, err := agg.Next(2); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after the result row, got %v", err)
	}
	if err := agg.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestAggregateExecEmptyInput(t *testing.T) {
	src, _ := newEmptySource(t)
	agg, err := NewGlobalAggrExec(src, []AggregateFunctions{
		NewAggregateFunctions(Min, Expr.NewColumnResolve("purchase_day")),
		NewAggregateFunctions(Count, Expr.NewColumnResolve("order_id")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rb, err := agg.Next(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rb.Columns[0].IsNull(0) {
		t.Errorf("min over no rows should be null")
	}
	if rb.Columns[1].(*array.Float64).Value(0) != 0 {
		t.Errorf("count over no rows should be 0")
	}
}

func TestCastArrayToFloat64(t *testing.T) {
	rbb := operators.NewRecordBatchBuilder()
	t.Run("int64", func(t *testing.T) {
		in := rbb.GenInt64Array(1, 2, 3)
		defer in.Release()
		out, err := castArrayToFloat64(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer out.Release()
		if out.(*array.Float64).Value(2) != 3 {
			t.Errorf("expected 3.0")
		}
	})
	t.Run("float64 passes through", func(t *testing.T) {
		in := rbb.GenFloatArray(1.5)
		defer in.Release()
		out, err := castArrayToFloat64(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer out.Release()
		if out.(*array.Float64).Value(0) != 1.5 {
			t.Errorf("expected 1.5")
		}
	})
}
