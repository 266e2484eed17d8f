package Expr

import (
	"context"
	"fmt"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedExpression = func(info string) error {
		return fmt.Errorf("unsupported expression passed to EvalExpression: %s", info)
	}
	ErrCantCompareDifferentTypes = func(leftType, rightType arrow.DataType) error {
		return fmt.Errorf("cannot compare different data types: %s and %s", leftType, rightType)
	}
	ErrUnknownColumn = func(name string) error {
		return fmt.Errorf("column %s not found", name)
	}
)

type binaryOperator int

const (
	// arithmetic
	Addition       binaryOperator = 1
	Subtraction    binaryOperator = 2
	Multiplication binaryOperator = 3
	Division       binaryOperator = 4
	// comparison
	Equal              binaryOperator = 6
	NotEqual           binaryOperator = 7
	LessThan           binaryOperator = 8
	LessThanOrEqual    binaryOperator = 9
	GreaterThan        binaryOperator = 10
	GreaterThanOrEqual binaryOperator = 11
	// logical
	And binaryOperator = 12
	Or  binaryOperator = 13
)

var comparisonKernels = map[binaryOperator]string{
	Equal:              "equal",
	NotEqual:           "not_equal",
	LessThan:           "less",
	LessThanOrEqual:    "less_equal",
	GreaterThan:        "greater",
	GreaterThanOrEqual: "greater_equal",
	And:                "and_kleene",
	Or:                 "or_kleene",
}

var (
	_ = (Expression)(&Alias{})
	_ = (Expression)(&ColumnResolve{})
	_ = (Expression)(&LiteralResolve{})
	_ = (Expression)(&BinaryExpr{})
	_ = (Expression)(&CastExpr{})
	_ = (Expression)(&NullCheckExpr{})
)

/*
Eval(expr):

	match expr:
	    Literal(x) -> return x
	    Column(name) -> return array of that column
	    BinaryExpr(left > right) -> eval left, eval right, apply operator
	    Cast(expr, type) -> eval expr, cast kernel
	    Alias(expr, name) -> just a name wrapper
*/
type Expression interface {
	// empty method, only for the sake of polymorphism
	ExprNode()
	fmt.Stringer
}

// EvalExpression returns a new reference; callers release the result.
func EvalExpression(expr Expression, batch *operators.RecordBatch) (arrow.Array, error) {
	switch e := expr.(type) {
	case *Alias:
		return EvalAlias(e, batch)
	case *ColumnResolve:
		return EvalColumn(e, batch)
	case *LiteralResolve:
		return EvalLiteral(e, batch)
	case *BinaryExpr:
		return EvalBinary(e, batch)
	case *CastExpr:
		return EvalCast(e, batch)
	case *NullCheckExpr:
		return EvalNullCheckMask(e.Expr, batch)
	default:
		return nil, ErrUnsupportedExpression(expr.String())
	}
}

func ExprDataType(e Expression, inputSchema *arrow.Schema) (arrow.DataType, error) {
	switch ex := e.(type) {

	case *LiteralResolve:
		return ex.Type, nil

	case *ColumnResolve:
		idx := inputSchema.FieldIndices(ex.Name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("exprDataType: unknown column %q", ex.Name)
		}
		return inputSchema.Field(idx[0]).Type, nil
	case *Alias:
		// alias does NOT change type
		return ExprDataType(ex.Expr, inputSchema)

	case *CastExpr:
		return ex.TargetType, nil

	case *BinaryExpr:
		leftType, err := ExprDataType(ex.Left, inputSchema)
		if err != nil {
			return nil, err
		}
		rightType, err := ExprDataType(ex.Right, inputSchema)
		if err != nil {
			return nil, err
		}
		return inferBinaryType(leftType, ex.Op, rightType)

	case *NullCheckExpr:
		return arrow.FixedWidthTypes.Boolean, nil

	default:
		return nil, ErrUnsupportedExpression(ex.String())
	}
}

// ExprName is the output column name of an expression.
func ExprName(e Expression) string {
	switch ex := e.(type) {
	case *Alias:
		return ex.Name
	case *ColumnResolve:
		return ex.Name
	default:
		return e.String()
	}
}

func NewExpressions(exprs ...Expression) []Expression {
	return exprs
}

/*
Alias | sql: select col1 as new_name from table_source
updates the column name in the output schema.
*/
type Alias struct {
	Expr Expression
	Name string
}

func NewAlias(expr Expression, name string) *Alias {
	return &Alias{
		Expr: expr,
		Name: name,
	}
}

func EvalAlias(a *Alias, batch *operators.RecordBatch) (arrow.Array, error) {
	return EvalExpression(a.Expr, batch)
}
func (a *Alias) ExprNode() {}
func (a *Alias) String() string {
	return fmt.Sprintf("Alias(%s AS %s)", a.Expr, a.Name)
}

// resolves the arrow array corresponding to name passed in
// sql: select age
type ColumnResolve struct {
	Name string
}

func NewColumnResolve(name string) *ColumnResolve {
	return &ColumnResolve{Name: name}
}

func EvalColumn(c *ColumnResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	// schema and columns are always aligned
	for i, f := range batch.Schema.Fields() {
		if f.Name == c.Name {
			col := batch.Columns[i]
			col.Retain()
			return col, nil
		}
	}
	return nil, ErrUnknownColumn(c.Name)
}
func (c *ColumnResolve) ExprNode() {}
func (c *ColumnResolve) String() string {
	return fmt.Sprintf("Column(%s)", c.Name)
}

// Evaluates to a column of length = batch-size, filled with this literal.
// sql: select 1
type LiteralResolve struct {
	Type  arrow.DataType
	Value any
}

// NewLiteralResolve coerces Go ints and floats to the width Type asks for.
func NewLiteralResolve(Type arrow.DataType, Value any) *LiteralResolve {
	castVal := Value
	switch v := Value.(type) {
	case int:
		switch Type.ID() {
		case arrow.INT32:
			castVal = int32(v)
		case arrow.INT64, arrow.TIMESTAMP:
			castVal = int64(v)
		case arrow.FLOAT64:
			castVal = float64(v)
		}
	case int64:
		if Type.ID() == arrow.FLOAT64 {
			castVal = float64(v)
		}
	case float64:
		if Type.ID() == arrow.INT64 {
			castVal = int64(v)
		}
	}
	return &LiteralResolve{Type: Type, Value: castVal}
}

func EvalLiteral(l *LiteralResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	n := int(batch.RowCount)

	switch l.Type.ID() {
	case arrow.BOOL:
		val, ok := l.Value.(bool)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewBooleanBuilder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(val)
		}
		return b.NewArray(), nil

	case arrow.INT32:
		v, ok := l.Value.(int32)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewInt32Builder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.INT64:
		v, ok := l.Value.(int64)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.FLOAT64:
		v, ok := l.Value.(float64)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.STRING:
		v, ok := l.Value.(string)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewStringBuilder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.TIMESTAMP:
		v, ok := l.Value.(int64)
		if !ok {
			return nil, literalTypeErr(l)
		}
		b := array.NewTimestampBuilder(memory.DefaultAllocator, l.Type.(*arrow.TimestampType))
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(arrow.Timestamp(v))
		}
		return b.NewArray(), nil

	case arrow.NULL:
		b := array.NewNullBuilder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.AppendNull()
		}
		return b.NewArray(), nil

	default:
		return nil, fmt.Errorf("literal type %s not supported", l.Type)
	}
}

func literalTypeErr(l *LiteralResolve) error {
	return fmt.Errorf("literal %v (%T) does not match declared type %s", l.Value, l.Value, l.Type)
}

func (l *LiteralResolve) ExprNode() {}
func (l *LiteralResolve) String() string {
	return fmt.Sprintf("Literal(%v)", l.Value)
}

type BinaryExpr struct {
	Left  Expression
	Op    binaryOperator
	Right Expression
}

func NewBinaryExpr(left Expression, op binaryOperator, right Expression) *BinaryExpr {
	return &BinaryExpr{
		Left:  left,
		Op:    op,
		Right: right,
	}
}

func EvalBinary(b *BinaryExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	leftArr, err := EvalExpression(b.Left, batch)
	if err != nil {
		return nil, err
	}
	defer leftArr.Release()
	rightArr, err := EvalExpression(b.Right, batch)
	if err != nil {
		return nil, err
	}
	defer rightArr.Release()

	ctx := context.Background()
	left, right := compute.NewDatum(leftArr), compute.NewDatum(rightArr)
	defer left.Release()
	defer right.Release()

	opt := compute.ArithmeticOptions{}
	var datum compute.Datum
	switch b.Op {
	// arithmetic
	case Addition:
		datum, err = compute.Add(ctx, opt, left, right)
	case Subtraction:
		datum, err = compute.Subtract(ctx, opt, left, right)
	case Multiplication:
		datum, err = compute.Multiply(ctx, opt, left, right)
	case Division:
		datum, err = compute.Divide(ctx, opt, left, right)

	// comparisons return a boolean array
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual, And, Or:
		if !arrow.TypeEqual(leftArr.DataType(), rightArr.DataType()) {
			return nil, ErrCantCompareDifferentTypes(leftArr.DataType(), rightArr.DataType())
		}
		datum, err = compute.CallFunction(ctx, comparisonKernels[b.Op], nil, left, right)
	default:
		return nil, fmt.Errorf("binary operator %d not supported", b.Op)
	}
	if err != nil {
		return nil, err
	}
	defer datum.Release()
	return unpackDatum(datum)
}
func (b *BinaryExpr) ExprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("BinaryExpr(%s %d %s)", b.Left, b.Op, b.Right)
}
func unpackDatum(d compute.Datum) (arrow.Array, error) {
	array, ok := d.(*compute.ArrayDatum)
	if !ok {
		return nil, fmt.Errorf("datum %v is not of type array", d)
	}
	return array.MakeArray(), nil
}

// If cast succeeds → return the casted value
// If cast fails → throw a runtime error
type CastExpr struct {
	Expr       Expression // can be a Literal or Column (check for datatype when you resolve)
	TargetType arrow.DataType
}

func NewCastExpr(expr Expression, targetType arrow.DataType) *CastExpr {
	return &CastExpr{
		Expr:       expr,
		TargetType: targetType,
	}
}

func EvalCast(c *CastExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	arr, err := EvalExpression(c.Expr, batch)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	if arrow.TypeEqual(arr.DataType(), c.TargetType) {
		arr.Retain()
		return arr, nil
	}

	castOpts := compute.SafeCastOptions(c.TargetType)
	out, err := compute.CastArray(context.Background(), arr, castOpts)
	if err != nil {
		return nil, fmt.Errorf("cast error: cannot cast %s to %s: %w",
			arr.DataType(), c.TargetType, err)
	}
	return out, nil
}

func (c *CastExpr) ExprNode() {}
func (c *CastExpr) String() string {
	return fmt.Sprintf("Cast(%s AS %s)", c.Expr, c.TargetType)
}

// NullCheckExpr is true for every row whose value is present.
type NullCheckExpr struct {
	Expr Expression
}

func NewNullCheckExpr(expr Expression) *NullCheckExpr {
	return &NullCheckExpr{Expr: expr}
}
func (n *NullCheckExpr) ExprNode() {}
func (n *NullCheckExpr) String() string {
	return fmt.Sprintf("NullCheck(%s)", n.Expr.String())
}
func EvalNullCheckMask(expr Expression, batch *operators.RecordBatch) (arrow.Array, error) {
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		return nil, err
	}
	defer arr.Release()

	length := arr.Len()
	builder := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer builder.Release()
	builder.Reserve(length)
	for i := 0; i < length; i++ {
		builder.Append(!arr.IsNull(i)) // true = not null
	}
	return builder.NewArray(), nil
}

func inferBinaryType(left arrow.DataType, op binaryOperator, right arrow.DataType) (arrow.DataType, error) {
	switch op {
	case Addition, Subtraction, Multiplication, Division:
		return numericPromotion(left, right), nil

	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual, And, Or:
		return arrow.FixedWidthTypes.Boolean, nil

	default:
		return nil, fmt.Errorf("inferBinaryType: unsupported operator %v", op)
	}
}

// matching operands keep their type, anything mixed widens to float64
func numericPromotion(a, b arrow.DataType) arrow.DataType {
	if arrow.TypeEqual(a, b) {
		return a
	}
	return arrow.PrimitiveTypes.Float64
}
