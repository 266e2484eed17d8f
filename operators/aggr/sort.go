package aggr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// order by col asc, col 2 desc .... etc
var (
	_ = (operators.Operator)(&SortExec{})
	_ = (operators.Operator)(&TopKSortExec{})
)

var (
	ErrUnsupportedSortType = func(dt arrow.DataType) error {
		return fmt.Errorf("unsupported Arrow type %s in sort key", dt)
	}
)

type SortKey struct {
	Expr      Expr.Expression
	Ascending bool // by default false -- DESC (highest values first -> smaller values)
	NullFirst bool // by default false -- nulls last
}

func NewSortKey(expr Expr.Expression, options ...bool) *SortKey {
	var asc, nullF bool
	switch len(options) {
	case 2:
		asc = options[0]
		nullF = options[1]
	case 1:
		asc = options[0]
	}
	return &SortKey{
		Expr:      expr,
		Ascending: asc,
		NullFirst: nullF,
	}
}
func CombineSortKeys(sk ...*SortKey) []SortKey {
	var res []SortKey
	for _, s := range sk {
		res = append(res, *s)
	}
	return res
}

// SortExec is a stable multi-key sort. Rows that compare equal on every key keep
// their input order.
type SortExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	sortKeys []SortKey // resolves to columns
	output   *bufferedOutput
	done     bool // have we already produced all the sorted record batches?
}

func NewSortExec(child operators.Operator, sortKeys []SortKey) (*SortExec, error) {
	if err := validSortKeys(child.Schema(), sortKeys); err != nil {
		return nil, err
	}
	return &SortExec{
		child:    child,
		schema:   child.Schema(),
		sortKeys: sortKeys,
	}, nil
}

// for now read everything into memory and sort
func (s *SortExec) Next(n uint16) (*operators.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.output == nil {
		columns, err := sortChild(s.child, s.sortKeys, -1)
		if err != nil {
			return nil, err
		}
		s.output = newBufferedOutput(s.schema, columns)
	}
	batch, err := s.output.next(n)
	if errors.Is(err, io.EOF) {
		s.done = true
	}
	return batch, err
}
func (s *SortExec) Schema() *arrow.Schema {
	return s.schema
}
func (s *SortExec) Close() error {
	if s.output != nil {
		s.output.release()
	}
	return s.child.Close()
}

/*
sort and keep only the top k rows
*/
type TopKSortExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	sortKeys []SortKey // resolves to columns
	k        uint16    // top k
	output   *bufferedOutput
	done     bool
}

func NewTopKSortExec(child operators.Operator, sortKeys []SortKey, k uint16) (*TopKSortExec, error) {
	if err := validSortKeys(child.Schema(), sortKeys); err != nil {
		return nil, err
	}
	return &TopKSortExec{
		child:    child,
		schema:   child.Schema(),
		sortKeys: sortKeys,
		k:        k,
	}, nil
}

func (t *TopKSortExec) Next(n uint16) (*operators.RecordBatch, error) {
	if t.done {
		return nil, io.EOF
	}
	if t.output == nil {
		columns, err := sortChild(t.child, t.sortKeys, int(t.k))
		if err != nil {
			return nil, err
		}
		t.output = newBufferedOutput(t.schema, columns)
	}
	batch, err := t.output.next(n)
	if errors.Is(err, io.EOF) {
		t.done = true
	}
	return batch, err
}
func (t *TopKSortExec) Schema() *arrow.Schema {
	return t.schema
}
func (t *TopKSortExec) Close() error {
	if t.output != nil {
		t.output.release()
	}
	return t.child.Close()
}

/*
shared functions
*/

func validSortKeys(schema *arrow.Schema, sortKeys []SortKey) error {
	if len(sortKeys) == 0 {
		return errors.New("sort needs at least one sort key")
	}
	for _, sk := range sortKeys {
		dt, err := Expr.ExprDataType(sk.Expr, schema)
		if err != nil {
			return err
		}
		switch dt.ID() {
		case arrow.STRING, arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
			arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
			arrow.FLOAT32, arrow.FLOAT64, arrow.BOOL, arrow.TIMESTAMP:
		default:
			return ErrUnsupportedSortType(dt)
		}
	}
	return nil
}

// sortChild drains child, sorts it and returns the reordered columns, truncated
// to limit rows when limit >= 0.
func sortChild(child operators.Operator, sortKeys []SortKey, limit int) ([]arrow.Array, error) {
	full, err := operators.Collect(child, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(full.Columns)

	idx, err := sortBatches(full, sortKeys)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	mem := memory.DefaultAllocator
	indices := idxToArrowArray(idx, mem)
	defer indices.Release()

	sorted := make([]arrow.Array, len(full.Columns))
	for i, col := range full.Columns {
		arr, err := compute.TakeArray(context.TODO(), col, indices)
		if err != nil {
			operators.ReleaseArrays(sorted)
			return nil, err
		}
		sorted[i] = arr
	}
	return sorted, nil
}

func sortBatches(fullRC *operators.RecordBatch, sortKeys []SortKey) ([]uint64, error) {
	keyColumns := make([]arrow.Array, len(sortKeys))
	defer func() { operators.ReleaseArrays(keyColumns) }()
	for i, sk := range sortKeys {
		arr, err := Expr.EvalExpression(sk.Expr, fullRC)
		if err != nil {
			return nil, fmt.Errorf("sort batches: failed to eval sort expression: %w", err)
		}
		keyColumns[i] = arr
	}
	idVector := make([]uint64, fullRC.RowCount)
	for i := range idVector {
		idVector[i] = uint64(i)
	}
	sortIndexVector(idVector, keyColumns, sortKeys)
	return idVector, nil
}

// sortIndexVector sorts idVec based on keyColumns + sortKeys.
// keyColumns[i] corresponds to sortKeys[i].
func sortIndexVector(idVec []uint64, keyColumns []arrow.Array, sortKeys []SortKey) {
	sort.SliceStable(idVec, func(a, b int) bool {
		i := int(idVec[a])
		j := int(idVec[b])

		// lexicographic: go through each sort key
		for k, col := range keyColumns {
			sk := sortKeys[k]
			iNull, jNull := col.IsNull(i), col.IsNull(j)
			switch {
			case iNull && jNull:
				continue
			case iNull:
				return sk.NullFirst
			case jNull:
				return !sk.NullFirst
			}
			cmp := compareArrowValues(col, i, j)
			if cmp == 0 {
				continue // equal -> move to next key
			}
			if sk.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}

		// completely equal for all keys
		return false
	})
}

// compareArrowValues compares two non-null slots of col.
func compareArrowValues(col arrow.Array, i, j int) int {
	switch arr := col.(type) {
	case *array.String:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Int8:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Int16:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Int32:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Int64:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Uint8:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Uint16:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Uint32:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Uint64:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Float32:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Float64:
		return compareOrdered(arr.Value(i), arr.Value(j))
	case *array.Timestamp:
		return compareOrdered(int64(arr.Value(i)), int64(arr.Value(j)))
	case *array.Boolean:
		vi, vj := arr.Value(i), arr.Value(j)
		if vi == vj {
			return 0
		}
		if !vi && vj {
			return -1
		}
		return 1
	default:
		// validSortKeys rejects every other type up front
		panic("unsupported Arrow type in compareArrowValues")
	}
}

func compareOrdered[T ~string | ~int64 | ~int32 | ~int16 | ~int8 | ~uint64 | ~uint32 | ~uint16 | ~uint8 | ~float32 | ~float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func idxToArrowArray(v []uint64, mem memory.Allocator) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(v, nil)
	return b.NewArray()
}
