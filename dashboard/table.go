package dashboard

import (
	"time"

	"ecomdash/Expr"
	"ecomdash/operators"
	"ecomdash/operators/aggr"
	"ecomdash/operators/filter"
	"ecomdash/operators/project"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// Bounds is the inclusive calendar range covered by a table.
type Bounds struct {
	First time.Time
	Last  time.Time
}

func (b Bounds) Empty() bool { return b.First.IsZero() }

// Days is the number of calendar days in the range, both ends included.
func (b Bounds) Days() int {
	if b.Empty() {
		return 0
	}
	return int(dayOf(b.Last)-dayOf(b.First)) + 1
}

// Table is the read-only orders table. Filter returns a new Table and never
// changes the receiver, so one loaded Table can serve concurrent requests.
type Table struct {
	batch    *operators.RecordBatch
	firstDay int64
	lastDay  int64
}

func newTable(batch *operators.RecordBatch) *Table {
	t := &Table{batch: batch}
	if batch.RowCount == 0 {
		return t
	}
	// rows are sorted by instant, but wall clock days of mixed offsets need not follow
	days := t.column(ColPurchaseDay).(*array.Int64).Int64Values()
	t.firstDay, t.lastDay = days[0], days[0]
	for _, d := range days[1:] {
		t.firstDay = min(t.firstDay, d)
		t.lastDay = max(t.lastDay, d)
	}
	return t
}

func (t *Table) Len() int { return int(t.batch.RowCount) }

func (t *Table) Schema() *arrow.Schema { return t.batch.Schema }

func (t *Table) Bounds() Bounds {
	if t.Len() == 0 {
		return Bounds{}
	}
	return Bounds{First: dayToDate(t.firstDay), Last: dayToDate(t.lastDay)}
}

// Release drops the table's column references. The table must not be used afterwards.
func (t *Table) Release() {
	operators.ReleaseArrays(t.batch.Columns)
	t.batch.Columns = nil
}

// Filter keeps the rows whose purchase date lies in [start, end]. Only the
// calendar date of start and end is used. An empty result is not an error.
func (t *Table) Filter(start, end time.Time) (*Table, error) {
	if t.Len() == 0 {
		return newTable(emptyBatch()), nil
	}
	src, err := t.source()
	if err != nil {
		return nil, err
	}
	day := Expr.NewColumnResolve(ColPurchaseDay)
	pred := Expr.NewBinaryExpr(
		Expr.NewBinaryExpr(day, Expr.GreaterThanOrEqual, Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, dayOf(start))),
		Expr.And,
		Expr.NewBinaryExpr(day, Expr.LessThanOrEqual, Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, dayOf(end))),
	)
	f, err := filter.NewFilterExec(src, pred)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	batch, err := drain(f)
	if err != nil {
		return nil, err
	}
	return newTable(batch), nil
}

func (t *Table) column(name string) arrow.Array {
	return t.batch.Columns[t.batch.Schema.FieldIndices(name)[0]]
}

// source replays the table into an operator pipeline.
func (t *Table) source() (operators.Operator, error) {
	return project.NewInMemorySource(t.batch)
}

// drain collects op and closes it.
func drain(op operators.Operator) (*operators.RecordBatch, error) {
	batch, err := operators.Collect(op, maxPipelineBatch)
	closeErr := op.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		operators.ReleaseArrays(batch.Columns)
		return nil, closeErr
	}
	return batch, nil
}

func sortByPurchase(batch *operators.RecordBatch) (*operators.RecordBatch, error) {
	src, err := project.NewInMemorySource(batch)
	if err != nil {
		return nil, err
	}
	// the source holds its own references
	operators.ReleaseArrays(batch.Columns)
	keys := aggr.CombineSortKeys(aggr.NewSortKey(Expr.NewColumnResolve(ColPurchasedAt), true))
	sorted, err := aggr.NewSortExec(src, keys)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return drain(sorted)
}
