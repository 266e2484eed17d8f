package project

import (
	"errors"
	"fmt"
	"io"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	ErrEmptyColumnsToProject = errors.New("no columns passed in")
	ErrProjectColumnNotFound = errors.New("invalid column passed in to be pruned")
)

// ProjectSchemaFilterDown keeps only the requested columns, in the requested order,
// keeping schema and columns aligned. Returns ErrProjectColumnNotFound if a column doesnt exist.
func ProjectSchemaFilterDown(schema *arrow.Schema, cols []arrow.Array, keepCols ...string) (*arrow.Schema, []arrow.Array, error) {
	if len(keepCols) == 0 {
		return arrow.NewSchema([]arrow.Field{}, nil), nil, ErrEmptyColumnsToProject
	}

	fieldIndex := make(map[string]int) // order_id -> 0
	for i, f := range schema.Fields() {
		fieldIndex[f.Name] = i
	}

	newFields := make([]arrow.Field, 0, len(keepCols))
	newCols := make([]arrow.Array, 0, len(keepCols))

	for _, name := range keepCols {
		idx, exists := fieldIndex[name]
		if !exists {
			return arrow.NewSchema([]arrow.Field{}, nil), []arrow.Array{}, ErrProjectColumnNotFound
		}

		newFields = append(newFields, schema.Field(idx))
		col := cols[idx]
		col.Retain()
		newCols = append(newCols, col)
	}

	return arrow.NewSchema(newFields, nil), newCols, nil
}

var (
	_ = (operators.Operator)(&ProjectExec{})
)

// ProjectExec evaluates one expression per output column against every input batch.
// sql: select col, col2 - 1 as x
type ProjectExec struct {
	input  operators.Operator
	exprs  []Expr.Expression
	schema *arrow.Schema
	done   bool
}

func NewProjectExec(input operators.Operator, exprs []Expr.Expression) (*ProjectExec, error) {
	if len(exprs) == 0 {
		return nil, ErrEmptyColumnsToProject
	}
	fields := make([]arrow.Field, len(exprs))
	for i, e := range exprs {
		dt, err := Expr.ExprDataType(e, input.Schema())
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: Expr.ExprName(e), Type: dt, Nullable: true}
	}
	return &ProjectExec{
		input:  input,
		exprs:  exprs,
		schema: arrow.NewSchema(fields, nil),
	}, nil
}

func (p *ProjectExec) Next(n uint16) (*operators.RecordBatch, error) {
	if p.done {
		return nil, io.EOF
	}
	childBatch, err := p.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.done = true
		}
		return nil, err
	}
	defer operators.ReleaseArrays(childBatch.Columns)

	columns := make([]arrow.Array, len(p.exprs))
	for i, e := range p.exprs {
		arr, err := Expr.EvalExpression(e, childBatch)
		if err != nil {
			operators.ReleaseArrays(columns)
			return nil, err
		}
		if !arrow.TypeEqual(arr.DataType(), p.schema.Field(i).Type) {
			arr.Release()
			operators.ReleaseArrays(columns)
			return nil, operators.ErrInvalidSchema(fmt.Sprintf("expression %s produced %s, expected %s", e, arr.DataType(), p.schema.Field(i).Type))
		}
		columns[i] = arr
	}
	return &operators.RecordBatch{
		Schema:   p.schema,
		Columns:  columns,
		RowCount: childBatch.RowCount,
	}, nil
}

func (p *ProjectExec) Schema() *arrow.Schema {
	return p.schema
}

func (p *ProjectExec) Close() error {
	return p.input.Close()
}
