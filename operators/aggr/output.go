package aggr

import (
	"io"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// bufferedOutput hands out a fully materialised result in slices of at most n rows.
// Pipeline breakers (group by, sort) fill one once and then drain it.
type bufferedOutput struct {
	schema  *arrow.Schema
	columns []arrow.Array
	offset  uint64
	rows    uint64
}

func newBufferedOutput(schema *arrow.Schema, columns []arrow.Array) *bufferedOutput {
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &bufferedOutput{schema: schema, columns: columns, rows: rows}
}

func (b *bufferedOutput) next(n uint16) (*operators.RecordBatch, error) {
	if b.offset >= b.rows || n == 0 {
		return nil, io.EOF
	}
	end := b.offset + uint64(n)
	if end > b.rows {
		end = b.rows
	}
	out := make([]arrow.Array, len(b.columns))
	for i, c := range b.columns {
		out[i] = array.NewSlice(c, int64(b.offset), int64(end))
	}
	rows := end - b.offset
	b.offset = end
	return &operators.RecordBatch{
		Schema:   b.schema,
		Columns:  out,
		RowCount: rows,
	}, nil
}

func (b *bufferedOutput) release() {
	operators.ReleaseArrays(b.columns)
	b.columns = nil
	b.rows = 0
}
