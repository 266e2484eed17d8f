package filter

import (
	"context"
	"errors"
	"io"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

var (
	_ = (operators.Operator)(&FilterExec{})
)

var (
	ErrInvalidPredicate = errors.New("predicates passed to FilterExec are invalid")
	ErrZeroBatchSize    = errors.New("must pass in wanted batch size > 0")
)

// FilterExec is an operator that filters input records according to a predicate expression.
// Rows where the predicate is false or null are dropped.
type FilterExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	predicate Expr.Expression
	done      bool
}

func NewFilterExec(input operators.Operator, pred Expr.Expression) (*FilterExec, error) {
	if !validPredicates(pred, input.Schema()) {
		return nil, ErrInvalidPredicate
	}
	return &FilterExec{
		input:     input,
		predicate: pred,
		schema:    input.Schema(),
	}, nil
}
func (f *FilterExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return nil, ErrZeroBatchSize
	}
	if f.done {
		return nil, io.EOF
	}
	childBatch, err := f.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.done = true
			return nil, io.EOF
		}
		return nil, err
	}
	booleanMask, err := Expr.EvalExpression(f.predicate, childBatch)
	if err != nil {
		return nil, err
	}
	defer booleanMask.Release()
	boolArr, ok := booleanMask.(*array.Boolean) // validPredicates only admits boolean expressions
	if !ok {
		return nil, errors.New("predicate did not evaluate to boolean array")
	}
	filteredCol := make([]arrow.Array, len(childBatch.Columns))
	for i, col := range childBatch.Columns {
		filteredCol[i], err = ApplyBooleanMask(col, boolArr)
		if err != nil {
			operators.ReleaseArrays(filteredCol)
			return nil, err
		}
	}
	// release old columns
	operators.ReleaseArrays(childBatch.Columns)
	var size uint64
	if len(filteredCol) > 0 {
		size = uint64(filteredCol[0].Len())
	}

	return &operators.RecordBatch{
		Schema:   childBatch.Schema,
		Columns:  filteredCol,
		RowCount: size,
	}, nil
}
func (f *FilterExec) Schema() *arrow.Schema {
	return f.schema
}

func (f *FilterExec) Close() error {
	return f.input.Close()
}

func ApplyBooleanMask(col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	values, selection := compute.NewDatum(col), compute.NewDatum(mask)
	defer values.Release()
	defer selection.Release()
	datum, err := compute.Filter(
		context.TODO(),
		values,
		selection,
		*compute.DefaultFilterOptions(),
	)
	if err != nil {
		return nil, err
	}
	defer datum.Release()
	return datum.(*compute.ArrayDatum).MakeArray(), nil
}

func validPredicates(pred Expr.Expression, schema *arrow.Schema) bool {
	switch p := pred.(type) {
	case *Expr.ColumnResolve:
		idx := schema.FieldIndices(p.Name)
		return len(idx) != 0

	case *Expr.BinaryExpr:
		// these return boolean arrays
		switch p.Op {
		case Expr.Equal, Expr.NotEqual,
			Expr.GreaterThan, Expr.GreaterThanOrEqual,
			Expr.LessThan, Expr.LessThanOrEqual,
			Expr.And, Expr.Or:
		default:
			return false
		}
		dt1, err := Expr.ExprDataType(p.Left, schema)
		if err != nil {
			return false
		}
		dt2, err := Expr.ExprDataType(p.Right, schema)
		if err != nil {
			return false
		}
		if !arrow.TypeEqual(dt1, dt2) {
			return false
		}
		if (p.Op == Expr.And || p.Op == Expr.Or) && dt1.ID() != arrow.BOOL {
			return false
		}
		return validOperand(p.Left, schema) && validOperand(p.Right, schema)

	case *Expr.NullCheckExpr:
		return validOperand(p.Expr, schema)
	default:
		return false
	}
}

// operands may be any expression that resolves against schema
func validOperand(e Expr.Expression, schema *arrow.Schema) bool {
	switch e.(type) {
	case *Expr.BinaryExpr, *Expr.NullCheckExpr:
		dt, err := Expr.ExprDataType(e, schema)
		if err != nil {
			return false
		}
		if dt.ID() == arrow.BOOL {
			return validPredicates(e, schema)
		}
		return true
	default:
		_, err := Expr.ExprDataType(e, schema)
		return err == nil
	}
}
