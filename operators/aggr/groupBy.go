package aggr

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

/*
rules for group by:
1.Every non-aggregated column in SELECT must be in GROUP BY
2.You can group by multiple columns - creates groups for each unique combination
3.Use HAVING to filter groups (WHERE filters before grouping, HAVING filters after)
*/
var (
	_ = (operators.Operator)(&GroupByExec{})
)

var (
	ErrUnsupportedGroupKey = func(name string, dt arrow.DataType) error {
		return fmt.Errorf("group-by expr %s has unsupported key type %s", name, dt)
	}
)

type group struct {
	keys         []any // original key values for output, nil for null
	accumulators []Accumulator
}

// GroupByExec places every unique key combination into a hash table, each group gets
// its own accumulators. Groups are emitted in the order they were first seen and a
// null key is a group of its own.
type GroupByExec struct {
	child       operators.Operator
	schema      *arrow.Schema
	groupExpr   []AggregateFunctions
	groupByExpr []Expr.Expression // column names

	groups map[string]int // maps group by key to its position in order
	order  []*group
	output *bufferedOutput
	done   bool
}

func NewGroupByExec(child operators.Operator, groupExpr []AggregateFunctions, groupBy []Expr.Expression) (*GroupByExec, error) {
	if len(groupBy) == 0 {
		return nil, errors.New("group by needs at least one key expression")
	}
	s, err := buildGroupBySchema(child.Schema(), groupBy, groupExpr)
	if err != nil {
		return nil, err
	}

	return &GroupByExec{
		child:       child,
		schema:      s,
		groupExpr:   groupExpr,
		groupByExpr: groupBy,
		groups:      make(map[string]int),
	}, nil
}

func (g *GroupByExec) Next(batchSize uint16) (*operators.RecordBatch, error) {
	if g.done {
		return nil, io.EOF
	}
	if g.output == nil {
		if err := g.consume(); err != nil {
			return nil, err
		}
		columns, err := g.buildOutput()
		if err != nil {
			return nil, err
		}
		g.output = newBufferedOutput(g.schema, columns)
	}
	batch, err := g.output.next(batchSize)
	if errors.Is(err, io.EOF) {
		g.done = true
	}
	return batch, err
}

func (g *GroupByExec) consume() error {
	for {
		childBatch, err := g.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := g.consumeBatch(childBatch); err != nil {
			return err
		}
		operators.ReleaseArrays(childBatch.Columns)
	}
}

func (g *GroupByExec) consumeBatch(batch *operators.RecordBatch) error {
	keyCols := make([]arrow.Array, len(g.groupByExpr))
	defer func() { operators.ReleaseArrays(keyCols) }()
	for i, e := range g.groupByExpr {
		arr, err := Expr.EvalExpression(e, batch)
		if err != nil {
			return err
		}
		keyCols[i] = arr
	}
	valueCols := make([]arrow.Array, len(g.groupExpr))
	defer func() { operators.ReleaseArrays(valueCols) }()
	for i, agg := range g.groupExpr {
		arr, err := evalAggrInput(agg, batch)
		if err != nil {
			return err
		}
		valueCols[i] = arr
	}

	var sb strings.Builder
	for row := 0; row < int(batch.RowCount); row++ {
		sb.Reset()
		for _, kc := range keyCols {
			writeKeyPart(&sb, kc, row)
		}
		key := sb.String()
		idx, ok := g.groups[key]
		if !ok {
			grp, err := g.newGroup(keyCols, row)
			if err != nil {
				return err
			}
			idx = len(g.order)
			g.groups[key] = idx
			g.order = append(g.order, grp)
		}
		grp := g.order[idx]
		for i, vc := range valueCols {
			if vc.IsNull(row) {
				continue
			}
			grp.accumulators[i].Update(vc, row)
		}
	}
	return nil
}

func (g *GroupByExec) newGroup(keyCols []arrow.Array, row int) (*group, error) {
	grp := &group{
		keys:         make([]any, len(keyCols)),
		accumulators: make([]Accumulator, len(g.groupExpr)),
	}
	for i, kc := range keyCols {
		grp.keys[i] = keyValue(kc, row)
	}
	for i, agg := range g.groupExpr {
		acc, err := newAccumulator(agg.AggrFunc)
		if err != nil {
			return nil, err
		}
		grp.accumulators[i] = acc
	}
	return grp, nil
}

func (g *GroupByExec) buildOutput() ([]arrow.Array, error) {
	nKeys := len(g.groupByExpr)
	columns := make([]arrow.Array, len(g.schema.Fields()))
	for i, f := range g.schema.Fields() {
		b := array.NewBuilder(memory.DefaultAllocator, f.Type)
		for _, grp := range g.order {
			if i < nKeys {
				if err := appendKey(b, grp.keys[i]); err != nil {
					b.Release()
					operators.ReleaseArrays(columns)
					return nil, err
				}
				continue
			}
			appendResult(b.(*array.Float64Builder), grp.accumulators[i-nKeys])
		}
		columns[i] = b.NewArray()
		b.Release()
	}
	return columns, nil
}

func (g *GroupByExec) Schema() *arrow.Schema {
	return g.schema
}
func (g *GroupByExec) Close() error {
	if g.output != nil {
		g.output.release()
	}
	return g.child.Close()
}

// handles validation and building of schema for group by
func buildGroupBySchema(childSchema *arrow.Schema, groupByExpr []Expr.Expression, aggrExprs []AggregateFunctions) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(groupByExpr)+len(aggrExprs))

	// 1. Add group-by columns
	for _, expr := range groupByExpr {
		dt, err := Expr.ExprDataType(expr, childSchema)
		if err != nil {
			return nil, fmt.Errorf("group-by expr %s has invalid type: %w", expr.String(), err)
		}
		if !validGroupKeyType(dt) {
			return nil, ErrUnsupportedGroupKey(expr.String(), dt)
		}
		fields = append(fields, arrow.Field{
			Name:     Expr.ExprName(expr),
			Type:     dt,
			Nullable: true,
		})
	}

	// 2. Add aggregate columns, all float64
	aggFields, err := aggrFields(childSchema, aggrExprs)
	if err != nil {
		return nil, err
	}
	fields = append(fields, aggFields...)
	return arrow.NewSchema(fields, nil), nil
}

func validGroupKeyType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.INT32, arrow.INT64, arrow.FLOAT64, arrow.BOOL, arrow.TIMESTAMP:
		return true
	}
	return false
}

// writeKeyPart appends one key column to the composite group key. The tag byte keeps
// a null apart from a value that renders as the same text.
func writeKeyPart(sb *strings.Builder, col arrow.Array, row int) {
	if col.IsNull(row) {
		sb.WriteString("n\x1f")
		return
	}
	sb.WriteByte('v')
	sb.WriteString(col.ValueStr(row))
	sb.WriteByte('\x1f')
}

func keyValue(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch arr := col.(type) {
	case *array.String:
		return arr.Value(row)
	case *array.Int32:
		return arr.Value(row)
	case *array.Int64:
		return arr.Value(row)
	case *array.Float64:
		return arr.Value(row)
	case *array.Boolean:
		return arr.Value(row)
	case *array.Timestamp:
		return arr.Value(row)
	}
	return col.ValueStr(row)
}

func appendKey(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.Int32Builder:
		bb.Append(v.(int32))
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.TimestampBuilder:
		bb.Append(v.(arrow.Timestamp))
	default:
		return fmt.Errorf("cannot append group key %v to %T", v, b)
	}
	return nil
}
