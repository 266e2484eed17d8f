package project

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

var (
	_ = (operators.Operator)(&ParquetSource{})
)

var (
	ErrUnknownParquetColumn = func(name string) error {
		return fmt.Errorf("%w: unknown column %q passed in for projection push down", ErrSourceColumnMissing, name)
	}
)

const parquetReadBatch = 4096

type ParquetSource struct {
	schema             *arrow.Schema
	projectionPushDown []string // columns to project up
	fileReader         *file.Reader
	reader             pqarrow.RecordReader
	// record currently being handed out and the offset into it
	pending arrow.Record
	offset  int64
	done    bool // if set to true always return io.EOF
}

func NewParquetSource(ctx context.Context, r parquet.ReaderAtSeeker) (*ParquetSource, error) {
	return newParquetSource(ctx, r, nil)
}

// NewParquetSourcePushDown only decodes the named columns, in file order.
func NewParquetSourcePushDown(ctx context.Context, r parquet.ReaderAtSeeker, columns []string) (*ParquetSource, error) {
	if len(columns) == 0 {
		return nil, errors.New("no columns were provided for projection push down")
	}
	return newParquetSource(ctx, r, columns)
}

func newParquetSource(ctx context.Context, r parquet.ReaderAtSeeker, columns []string) (*ParquetSource, error) {
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, err
	}
	arrowReader, err := pqarrow.NewFileReader(
		fileReader,
		pqarrow.ArrowReadProperties{Parallel: true, BatchSize: parquetReadBatch},
		memory.DefaultAllocator,
	)
	if err != nil {
		_ = fileReader.Close()
		return nil, err
	}

	var wantedColumnsIDX []int
	if len(columns) > 0 {
		s, err := arrowReader.Schema()
		if err != nil {
			_ = fileReader.Close()
			return nil, err
		}
		for _, col := range columns {
			idx := s.FieldIndices(col)
			if len(idx) == 0 {
				_ = fileReader.Close()
				return nil, ErrUnknownParquetColumn(col)
			}
			wantedColumnsIDX = append(wantedColumnsIDX, idx...)
		}
	}

	rdr, err := arrowReader.GetRecordReader(ctx, wantedColumnsIDX, nil)
	if err != nil {
		_ = fileReader.Close()
		return nil, err
	}
	return &ParquetSource{
		schema:             rdr.Schema(),
		projectionPushDown: columns,
		fileReader:         fileReader,
		reader:             rdr,
	}, nil
}

// Next hands out at most n rows. Records larger than n are sliced across calls.
func (ps *ParquetSource) Next(n uint16) (*operators.RecordBatch, error) {
	if ps.done || ps.reader == nil {
		return nil, io.EOF
	}
	for ps.pending == nil || ps.offset >= ps.pending.NumRows() {
		if ps.pending != nil {
			ps.pending.Release()
			ps.pending = nil
		}
		if !ps.reader.Next() {
			ps.done = true
			if err := ps.reader.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, io.EOF
		}
		ps.pending = ps.reader.Record()
		ps.pending.Retain()
		ps.offset = 0
	}

	end := ps.offset + int64(n)
	if end > ps.pending.NumRows() {
		end = ps.pending.NumRows()
	}
	columns := make([]arrow.Array, ps.pending.NumCols())
	for i := range columns {
		columns[i] = array.NewSlice(ps.pending.Column(i), ps.offset, end)
	}
	rows := uint64(end - ps.offset)
	ps.offset = end

	return &operators.RecordBatch{
		Schema:   ps.schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}

func (ps *ParquetSource) Close() error {
	if ps.pending != nil {
		ps.pending.Release()
		ps.pending = nil
	}
	if ps.reader != nil {
		ps.reader.Release()
		ps.reader = nil
	}
	ps.done = true
	if ps.fileReader != nil {
		err := ps.fileReader.Close()
		ps.fileReader = nil
		return err
	}
	return nil
}

func (ps *ParquetSource) Schema() *arrow.Schema {
	return ps.schema
}
