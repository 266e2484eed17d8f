package filter

import (
	"io"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&LimitExec{})
)

// LimitExec passes through at most count rows of its input.
type LimitExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	remaining uint64
	done      bool
}

func NewLimitExec(input operators.Operator, count uint64) (*LimitExec, error) {
	return &LimitExec{
		input:     input,
		schema:    input.Schema(),
		remaining: count,
	}, nil
}

func (l *LimitExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return &operators.RecordBatch{
			Schema:   l.schema,
			Columns:  operators.EmptyColumns(l.schema),
			RowCount: 0,
		}, nil
	}
	if l.done || l.remaining == 0 {
		l.done = true
		return nil, io.EOF
	}
	childN := n
	if uint64(n) > l.remaining {
		childN = uint16(l.remaining)
	}
	childBatch, err := l.input.Next(childN)
	if err != nil {
		return nil, err
	}
	// a child may ignore the requested size
	if childBatch.RowCount > l.remaining {
		trimmed := make([]arrow.Array, len(childBatch.Columns))
		for i, c := range childBatch.Columns {
			trimmed[i] = array.NewSlice(c, 0, int64(l.remaining))
		}
		operators.ReleaseArrays(childBatch.Columns)
		childBatch = &operators.RecordBatch{
			Schema:   childBatch.Schema,
			Columns:  trimmed,
			RowCount: l.remaining,
		}
	}
	l.remaining -= childBatch.RowCount
	if l.remaining == 0 {
		l.done = true
	}
	return childBatch, nil
}
func (l *LimitExec) Schema() *arrow.Schema {
	return l.schema
}

func (l *LimitExec) Close() error {
	return l.input.Close()
}
