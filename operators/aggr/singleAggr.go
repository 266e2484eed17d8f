package aggr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedAggrFunc = func(aggr int) error {
		return fmt.Errorf("%d is an unsupported aggregate function", aggr)
	}
	ErrInvalidAggrColumnType = func(value any) error {
		return fmt.Errorf("%v of type %T cannot be cast to float64 so it is not a valid column type to aggregate on", value, value)
	}
)

// AggrFunc represents the type of aggregation function to be performed.
type AggrFunc int

const (
	Min AggrFunc = iota
	Max
	Count
	Sum
	Avg
	CountDistinct
)

var (
	_ = (Accumulator)(&MinAggrAccumulator{})
	_ = (Accumulator)(&MaxAggrAccumulator{})
	_ = (Accumulator)(&CountAggrAccumulator{})
	_ = (Accumulator)(&SumAggrAccumulator{})
	_ = (Accumulator)(&AvgAggrAccumulator{})
	_ = (Accumulator)(&CountDistinctAccumulator{})
	_ = (operators.Operator)(&AggrExec{})
)

func NewAggregateFunctions(aggrFunc AggrFunc, child Expr.Expression) AggregateFunctions {
	return AggregateFunctions{
		AggrFunc: aggrFunc,
		Child:    child,
	}
}

type AggregateFunctions struct {
	AggrFunc AggrFunc        // switch to deal with separate aggregate functions
	Child    Expr.Expression // resolves to a column generally
	Name     string          // output column name, defaults to <func>_<column>
}

// As renames the output column of the aggregate.
func (a AggregateFunctions) As(name string) AggregateFunctions {
	a.Name = name
	return a
}

func (a AggregateFunctions) OutputName() string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("%s_%s", strings.ToLower(aggrToString(int(a.AggrFunc))), Expr.ExprName(a.Child))
}

// numeric reports whether the accumulator reads values rather than presence.
func (a AggregateFunctions) numeric() bool {
	switch a.AggrFunc {
	case Count, CountDistinct:
		return false
	}
	return true
}

// Accumulator folds one column of one group. Null slots are never passed to Update.
// Finalize reports false when the result is undefined (e.g. min of nothing).
type Accumulator interface {
	Update(col arrow.Array, row int)
	Finalize() (float64, bool)
}

func newAccumulator(f AggrFunc) (Accumulator, error) {
	switch f {
	case Min:
		return newMinAggr(), nil
	case Max:
		return newMaxAggr(), nil
	case Count:
		return NewCountAggr(), nil
	case Sum:
		return NewSumAggr(), nil
	case Avg:
		return newAvgAggr(), nil
	case CountDistinct:
		return NewCountDistinctAggr(), nil
	}
	return nil, ErrUnsupportedAggrFunc(int(f))
}

func newMinAggr() Accumulator {
	return &MinAggrAccumulator{}
}

type MinAggrAccumulator struct {
	minV       float64
	firstValue bool
}

func (m *MinAggrAccumulator) Update(col arrow.Array, row int) {
	value := col.(*array.Float64).Value(row)
	if !m.firstValue {
		m.minV = value
		m.firstValue = true
		return
	}
	m.minV = min(m.minV, value)
}
func (m *MinAggrAccumulator) Finalize() (float64, bool) { return m.minV, m.firstValue }

func newMaxAggr() Accumulator {
	return &MaxAggrAccumulator{}
}

type MaxAggrAccumulator struct {
	maxV       float64
	firstValue bool
}

func (m *MaxAggrAccumulator) Update(col arrow.Array, row int) {
	value := col.(*array.Float64).Value(row)
	if !m.firstValue {
		m.maxV = value
		m.firstValue = true
		return
	}
	m.maxV = max(m.maxV, value)
}
func (m *MaxAggrAccumulator) Finalize() (float64, bool) { return m.maxV, m.firstValue }

func NewCountAggr() Accumulator {
	return &CountAggrAccumulator{}
}

type CountAggrAccumulator struct {
	count float64
}

func (c *CountAggrAccumulator) Update(_ arrow.Array, _ int) {
	c.count++
}
func (c *CountAggrAccumulator) Finalize() (float64, bool) { return c.count, true }

func NewSumAggr() Accumulator {
	return &SumAggrAccumulator{}
}

type SumAggrAccumulator struct {
	summation float64
}

func (s *SumAggrAccumulator) Update(col arrow.Array, row int) {
	s.summation += col.(*array.Float64).Value(row)
}
func (s *SumAggrAccumulator) Finalize() (float64, bool) { return s.summation, true }

func newAvgAggr() Accumulator {
	return &AvgAggrAccumulator{}
}

type AvgAggrAccumulator struct {
	values float64
	count  float64
}

func (a *AvgAggrAccumulator) Update(col arrow.Array, row int) {
	a.values += col.(*array.Float64).Value(row)
	a.count++
}
func (a *AvgAggrAccumulator) Finalize() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.values / a.count, true
}

func NewCountDistinctAggr() Accumulator {
	return &CountDistinctAccumulator{seen: make(map[string]struct{})}
}

// CountDistinctAccumulator counts unique values by their string rendering.
type CountDistinctAccumulator struct {
	seen map[string]struct{}
}

func (c *CountDistinctAccumulator) Update(col arrow.Array, row int) {
	c.seen[col.ValueStr(row)] = struct{}{}
}
func (c *CountDistinctAccumulator) Finalize() (float64, bool) {
	return float64(len(c.seen)), true
}

// ===================
// Aggregator Operator
// ===================
// handles global aggregations without group by
type AggrExec struct {
	child          operators.Operator   // child operator
	schema         *arrow.Schema        // output schema
	aggExpressions []AggregateFunctions // list of wanted aggregate expressions
	accumulators   []Accumulator        // one per aggExpression
	done           bool                 // know when to return io.EOF
}

func NewGlobalAggrExec(child operators.Operator, aggExprs []AggregateFunctions) (*AggrExec, error) {
	accs := make([]Accumulator, len(aggExprs))
	fields, err := aggrFields(child.Schema(), aggExprs)
	if err != nil {
		return nil, err
	}
	for i, agg := range aggExprs {
		if accs[i], err = newAccumulator(agg.AggrFunc); err != nil {
			return nil, err
		}
	}
	return &AggrExec{
		child:          child,
		schema:         arrow.NewSchema(fields, nil),
		aggExpressions: aggExprs,
		accumulators:   accs,
	}, nil
}

// pipeline breaker: consumes the whole child and emits exactly one row,
// even for empty input (undefined results are null)
func (a *AggrExec) Next(n uint16) (*operators.RecordBatch, error) {
	if a.done {
		return nil, io.EOF
	}
	for {
		childBatch, err := a.child.Next(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for i, aggExpr := range a.aggExpressions {
			values, err := evalAggrInput(aggExpr, childBatch)
			if err != nil {
				return nil, err
			}
			acc := a.accumulators[i]
			for j := 0; j < values.Len(); j++ {
				if values.IsNull(j) {
					continue
				}
				acc.Update(values, j)
			}
			values.Release()
		}
		operators.ReleaseArrays(childBatch.Columns)
	}
	resultColumns := make([]arrow.Array, len(a.accumulators))
	for i, acc := range a.accumulators {
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		appendResult(b, acc)
		resultColumns[i] = b.NewArray()
		b.Release()
	}
	a.done = true
	return &operators.RecordBatch{
		Schema:   a.schema,
		Columns:  resultColumns,
		RowCount: 1,
	}, nil
}

func (a *AggrExec) Schema() *arrow.Schema {
	return a.schema
}
func (a *AggrExec) Close() error {
	return a.child.Close()
}

func appendResult(b *array.Float64Builder, acc Accumulator) {
	v, ok := acc.Finalize()
	if !ok {
		b.AppendNull()
		return
	}
	b.Append(v)
}

// aggrFields validates every aggregate input and returns the float64 output fields.
func aggrFields(childSchema *arrow.Schema, aggExprs []AggregateFunctions) ([]arrow.Field, error) {
	fields := make([]arrow.Field, len(aggExprs))
	for i, agg := range aggExprs {
		if agg.AggrFunc < Min || agg.AggrFunc > CountDistinct {
			return nil, ErrUnsupportedAggrFunc(int(agg.AggrFunc))
		}
		dt, err := Expr.ExprDataType(agg.Child, childSchema)
		if err != nil {
			return nil, err
		}
		if agg.numeric() && !validAggrType(dt) {
			return nil, ErrInvalidAggrColumnType(dt)
		}
		fields[i] = arrow.Field{
			Name:     agg.OutputName(),
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: true,
		}
	}
	return fields, nil
}

// evalAggrInput evaluates the aggregate's child, casting to float64 for value based functions.
func evalAggrInput(agg AggregateFunctions, batch *operators.RecordBatch) (arrow.Array, error) {
	arr, err := Expr.EvalExpression(agg.Child, batch)
	if err != nil {
		return nil, err
	}
	if !agg.numeric() {
		return arr, nil
	}
	defer arr.Release()
	return castArrayToFloat64(arr)
}

func validAggrType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

func castArrayToFloat64(arr arrow.Array) (arrow.Array, error) {
	if arr.DataType().ID() == arrow.FLOAT64 {
		arr.Retain()
		return arr, nil
	}
	return compute.CastArray(context.TODO(), arr, compute.NewCastOptions(arrow.PrimitiveTypes.Float64, true))
}

func aggrToString(t int) string {
	switch AggrFunc(t) {
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Avg:
		return "AVG"
	case CountDistinct:
		return "COUNT_DISTINCT"
	default:
		return "UNKNOWN_AGGREGATE_FUNCTION"
	}
}
