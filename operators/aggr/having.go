package aggr

import (
	"errors"
	"fmt"

	"ecomdash/Expr"
	"ecomdash/operators"
	"ecomdash/operators/filter"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	_ = (operators.Operator)(&HavingExec{})
)

var ErrHavingNotBoolean = errors.New("having predicate must evaluate to a boolean")

// HavingExec drops the aggregated groups whose predicate is false or null.
// Batches left empty by the predicate are skipped.
type HavingExec struct {
	groups *filter.FilterExec
}

func NewHavingExec(input operators.Operator, havingFilter Expr.Expression) (*HavingExec, error) {
	dt, err := Expr.ExprDataType(havingFilter, input.Schema())
	if err != nil {
		return nil, err
	}
	if dt.ID() != arrow.BOOL {
		return nil, ErrHavingNotBoolean
	}
	groups, err := filter.NewFilterExec(input, havingFilter)
	if err != nil {
		return nil, fmt.Errorf("having %s: %w", havingFilter, err)
	}
	return &HavingExec{groups: groups}, nil
}

func (h *HavingExec) Next(n uint16) (*operators.RecordBatch, error) {
	for {
		batch, err := h.groups.Next(n)
		if err != nil {
			return nil, err
		}
		if batch.RowCount > 0 {
			return batch, nil
		}
		operators.ReleaseArrays(batch.Columns)
	}
}

func (h *HavingExec) Schema() *arrow.Schema {
	return h.groups.Schema()
}

func (h *HavingExec) Close() error {
	return h.groups.Close()
}
