package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"ecomdash/Expr"
	"ecomdash/operators"
	"ecomdash/operators/filter"
	"ecomdash/operators/project"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"go.uber.org/zap"
)

var (
	ErrMissingColumn = errors.New("required column missing")
	ErrBadTimestamp  = errors.New("unparseable timestamp")
	ErrEmptyDataset  = errors.New("dataset has no rows")
	ErrNoObjectStore = errors.New("object storage path given but no storage client is configured")

	ErrColumnType = func(name string, got, want arrow.DataType) error {
		return fmt.Errorf("column %s has type %s, expected %s", name, got, want)
	}
)

// accepted renderings of a timestamp cell, tried in order
var timestampLayouts = []string{
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// LoadError reports a dataset that could not be turned into a Table.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type LoadOptions struct {
	Path             string // local .csv/.parquet file or s3://bucket/key
	Client           project.ObjectGetter
	MaxDownloadBytes int64 // 0 disables the download limit
	RowLimit         int   // 0 loads every row
	BatchSize        int
	Logger           *zap.Logger
}

// Load reads the combined orders table, parses its timestamps and sorts it by
// purchase time. Every failure is returned as a *LoadError.
func Load(ctx context.Context, opts LoadOptions) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	table, err := load(ctx, opts)
	if err != nil {
		logger.Error("load failed", zap.String("source", opts.Path), zap.Error(err))
		return nil, &LoadError{Source: opts.Path, Err: err}
	}
	bounds := table.Bounds()
	logger.Info("orders loaded",
		zap.String("source", opts.Path),
		zap.Int("rows", table.Len()),
		zap.String("first_day", bounds.First.Format(dateLayout)),
		zap.String("last_day", bounds.Last.Format(dateLayout)),
		zap.Duration("elapsed", time.Since(start)))
	return table, nil
}

func load(ctx context.Context, opts LoadOptions) (*Table, error) {
	src, err := openSource(ctx, opts)
	if err != nil {
		return nil, err
	}
	var op operators.Operator = src
	if opts.RowLimit > 0 {
		limit, err := filter.NewLimitExec(src, uint64(opts.RowLimit))
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		op = limit
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > maxPipelineBatch {
		batchSize = defaultBatchSize
	}
	raw, err := operators.Collect(op, uint16(batchSize))
	closeErr := op.Close()
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(raw.Columns)
	if closeErr != nil {
		return nil, closeErr
	}
	if raw.RowCount == 0 {
		return nil, ErrEmptyDataset
	}
	normalized, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	sorted, err := sortByPurchase(normalized)
	if err != nil {
		return nil, err
	}
	return newTable(sorted), nil
}

// readerAtSeeker is what both the CSV and the Parquet source can read from.
type readerAtSeeker interface {
	io.Reader
	parquet.ReaderAtSeeker
}

func openSource(ctx context.Context, opts LoadOptions) (operators.Operator, error) {
	format, err := project.MimeOf(opts.Path)
	if err != nil {
		return nil, err
	}
	if project.IsObjectURI(opts.Path) {
		if opts.Client == nil {
			return nil, ErrNoObjectStore
		}
		obj, err := project.FetchObject(ctx, opts.Client, opts.Path, opts.MaxDownloadBytes)
		if err != nil {
			return nil, err
		}
		return openFormat(ctx, format, obj.Reader())
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	op, err := openFormat(ctx, format, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &closingSource{Operator: op, closer: f}, nil
}

func openFormat(ctx context.Context, format project.Format, r readerAtSeeker) (operators.Operator, error) {
	var (
		op  operators.Operator
		err error
	)
	switch format {
	case project.MimeCSV:
		op, err = project.NewProjectCSVLeaf(r, csvSchema())
	case project.MimeParquet:
		op, err = project.NewParquetSourcePushDown(ctx, r, requiredColumns)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
	if errors.Is(err, project.ErrSourceColumnMissing) {
		return nil, fmt.Errorf("%w: %w", ErrMissingColumn, err)
	}
	return op, err
}

// closingSource closes the underlying file together with the operator.
type closingSource struct {
	operators.Operator
	closer io.Closer
}

func (c *closingSource) Close() error {
	err := c.Operator.Close()
	if cerr := c.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

// normalize converts a raw batch to tableSchema: timestamps parsed to seconds,
// numbers widened to float64 and the purchase day derived.
func normalize(raw *operators.RecordBatch) (*operators.RecordBatch, error) {
	columns := make([]arrow.Array, 0, len(tableSchema().Fields()))
	fail := func(err error) (*operators.RecordBatch, error) {
		operators.ReleaseArrays(columns)
		return nil, err
	}
	for _, name := range []string{ColOrderID, ColCustomerID, ColCity, ColCategory} {
		col, err := raw.Column(name)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrMissingColumn, err))
		}
		if !arrow.TypeEqual(col.DataType(), arrow.BinaryTypes.String) {
			return fail(ErrColumnType(name, col.DataType(), arrow.BinaryTypes.String))
		}
		col.Retain()
		columns = append(columns, col)
	}

	purchased, days, err := parseTimestampColumn(raw, ColPurchasedAt, true)
	if err != nil {
		return fail(err)
	}
	columns = append(columns, purchased)
	delivered, _, err := parseTimestampColumn(raw, ColDeliveredAt, false)
	if err != nil {
		days.Release()
		return fail(err)
	}
	columns = append(columns, delivered)

	for _, name := range []string{ColPrice, ColReviewScore} {
		col, err := Expr.EvalExpression(Expr.NewCastExpr(Expr.NewColumnResolve(name), arrow.PrimitiveTypes.Float64), raw)
		if err != nil {
			days.Release()
			return fail(err)
		}
		columns = append(columns, nanToNull(col.(*array.Float64)))
	}
	columns = append(columns, days)
	return &operators.RecordBatch{Schema: tableSchema(), Columns: columns, RowCount: raw.RowCount}, nil
}

// nanToNull turns NaN values into nulls so aggregates skip them. It takes
// ownership of col.
func nanToNull(col *array.Float64) arrow.Array {
	hasNaN := false
	for i := 0; i < col.Len() && !hasNaN; i++ {
		hasNaN = col.IsValid(i) && math.IsNaN(col.Value(i))
	}
	if !hasNaN {
		return col
	}
	defer col.Release()
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.Reserve(col.Len())
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) || math.IsNaN(col.Value(i)) {
			b.AppendNull()
			continue
		}
		b.Append(col.Value(i))
	}
	return b.NewArray()
}

// parseTimestampColumn converts text, timestamp or date cells to TimestampType.
// For the required column every row must be present and the epoch day of each
// row is returned as well.
func parseTimestampColumn(raw *operators.RecordBatch, name string, required bool) (arrow.Array, arrow.Array, error) {
	col, err := raw.Column(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMissingColumn, err)
	}
	tb := array.NewTimestampBuilder(memory.DefaultAllocator, operators.TimestampType)
	defer tb.Release()
	db := array.NewInt64Builder(memory.DefaultAllocator)
	defer db.Release()
	tb.Reserve(col.Len())

	var loc *time.Location
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			if required {
				return nil, nil, fmt.Errorf("%w: column %s row %d is empty", ErrBadTimestamp, name, i+1)
			}
			tb.AppendNull()
			continue
		}
		var t time.Time
		switch c := col.(type) {
		case *array.String:
			t, err = parseTimestamp(c.Value(i))
			if err != nil {
				return nil, nil, fmt.Errorf("%w: column %s row %d value %q", ErrBadTimestamp, name, i+1, c.Value(i))
			}
		case *array.Timestamp:
			tt := c.DataType().(*arrow.TimestampType)
			if loc == nil {
				if loc, err = timestampLocation(tt); err != nil {
					return nil, nil, fmt.Errorf("%w: column %s: %w", ErrBadTimestamp, name, err)
				}
			}
			t = c.Value(i).ToTime(tt.Unit).In(loc)
		case *array.Date32:
			t = c.Value(i).ToTime()
		default:
			return nil, nil, ErrColumnType(name, col.DataType(), operators.TimestampType)
		}
		tb.Append(arrow.Timestamp(t.Unix()))
		if required {
			// the wall clock date where the order was placed
			db.Append(dayOf(t))
		}
	}
	ts := tb.NewArray()
	if !required {
		return ts, nil, nil
	}
	return ts, db.NewArray(), nil
}

// timestampLocation is the zone of a timestamp column, UTC when it has none.
func timestampLocation(tt *arrow.TimestampType) (*time.Location, error) {
	if tt.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tt.TimeZone)
}

func parseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
