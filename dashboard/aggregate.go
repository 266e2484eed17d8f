package dashboard

import (
	"fmt"
	"time"

	"ecomdash/Expr"
	"ecomdash/config"
	"ecomdash/operators"
	"ecomdash/operators/aggr"
	"ecomdash/operators/filter"
	"ecomdash/operators/project"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

type DailyOrders struct {
	Date       time.Time `json:"date"`
	OrderCount int       `json:"order_count"`
	Revenue    float64   `json:"revenue"`
}

type CategorySales struct {
	Category   string `json:"category"`
	OrderCount int    `json:"order_count"`
}

type CategoryReview struct {
	Category        string  `json:"category"`
	MeanReviewScore float64 `json:"mean_review_score"`
}

type CityCustomers struct {
	City                string `json:"city"`
	UniqueCustomerCount int    `json:"unique_customer_count"`
}

// CustomerRFM holds one customer's recency, frequency and monetary values.
// Recency is measured from the earliest purchase day of the table, so it is
// zero or negative.
type CustomerRFM struct {
	CustomerID string  `json:"customer_unique_id"`
	Recency    int     `json:"recency"`
	Frequency  int     `json:"frequency"`
	Monetary   float64 `json:"monetary"`
}

// ShortID is the display id: the last five characters of the customer id.
func (c CustomerRFM) ShortID() string {
	r := []rune(c.CustomerID)
	if len(r) <= shortIDLength {
		return c.CustomerID
	}
	return string(r[len(r)-shortIDLength:])
}

// CategoryOptions selects how rows without a category are treated.
type CategoryOptions struct {
	Missing string // config.MissingCategoryBucket (default) or config.MissingCategoryDrop
}

func (o CategoryOptions) drop() bool {
	return o.Missing == config.MissingCategoryDrop
}

// AggregateDaily counts distinct orders and sums revenue per calendar day. Every
// day between the first and last purchase day appears once, empty days as zero.
func AggregateDaily(t *Table) ([]DailyOrders, error) {
	out := []DailyOrders{}
	if t.Len() == 0 {
		return out, nil
	}
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		return aggr.NewGroupByExec(src,
			[]aggr.AggregateFunctions{
				aggr.NewAggregateFunctions(aggr.CountDistinct, Expr.NewColumnResolve(ColOrderID)).As("order_count"),
				aggr.NewAggregateFunctions(aggr.Sum, Expr.NewColumnResolve(ColPrice)).As("revenue"),
			},
			Expr.NewExpressions(Expr.NewColumnResolve(ColPurchaseDay)))
	})
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(batch.Columns)

	days := batch.Columns[0].(*array.Int64)
	counts := batch.Columns[1].(*array.Float64)
	revenue := batch.Columns[2].(*array.Float64)
	byDay := make(map[int64]int, days.Len())
	for i := 0; i < days.Len(); i++ {
		byDay[days.Value(i)] = i
	}
	out = make([]DailyOrders, 0, t.lastDay-t.firstDay+1)
	for day := t.firstDay; day <= t.lastDay; day++ {
		row := DailyOrders{Date: dayToDate(day)}
		if i, ok := byDay[day]; ok {
			row.OrderCount = int(counts.Value(i))
			row.Revenue = revenue.Value(i)
		}
		out = append(out, row)
	}
	return out, nil
}

// AggregateCategorySales counts distinct orders per category, most orders first.
// Ties keep the order in which the categories first appear.
func AggregateCategorySales(t *Table, opts CategoryOptions) ([]CategorySales, error) {
	out := []CategorySales{}
	if t.Len() == 0 {
		return out, nil
	}
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		in, err := categoryInput(src, opts)
		if err != nil {
			return nil, err
		}
		grouped, err := aggr.NewGroupByExec(in,
			[]aggr.AggregateFunctions{
				aggr.NewAggregateFunctions(aggr.CountDistinct, Expr.NewColumnResolve(ColOrderID)).As("order_count"),
			},
			Expr.NewExpressions(Expr.NewColumnResolve(ColCategory)))
		if err != nil {
			return nil, err
		}
		return aggr.NewSortExec(grouped, aggr.CombineSortKeys(aggr.NewSortKey(Expr.NewColumnResolve("order_count"), false)))
	})
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(batch.Columns)

	categories := batch.Columns[0].(*array.String)
	counts := batch.Columns[1].(*array.Float64)
	out = make([]CategorySales, 0, categories.Len())
	for i := 0; i < categories.Len(); i++ {
		out = append(out, CategorySales{Category: label(categories, i), OrderCount: int(counts.Value(i))})
	}
	return out, nil
}

// AggregateCategoryReview averages review scores per category, best first.
// Categories without any review are left out.
func AggregateCategoryReview(t *Table, opts CategoryOptions) ([]CategoryReview, error) {
	out := []CategoryReview{}
	if t.Len() == 0 {
		return out, nil
	}
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		in, err := categoryInput(src, opts)
		if err != nil {
			return nil, err
		}
		grouped, err := aggr.NewGroupByExec(in,
			[]aggr.AggregateFunctions{
				aggr.NewAggregateFunctions(aggr.Avg, Expr.NewColumnResolve(ColReviewScore)).As("mean_review_score"),
			},
			Expr.NewExpressions(Expr.NewColumnResolve(ColCategory)))
		if err != nil {
			return nil, err
		}
		// mean of no reviews is null
		reviewed, err := aggr.NewHavingExec(grouped, Expr.NewNullCheckExpr(Expr.NewColumnResolve("mean_review_score")))
		if err != nil {
			return nil, err
		}
		return aggr.NewSortExec(reviewed, aggr.CombineSortKeys(aggr.NewSortKey(Expr.NewColumnResolve("mean_review_score"), false)))
	})
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(batch.Columns)

	categories := batch.Columns[0].(*array.String)
	means := batch.Columns[1].(*array.Float64)
	out = make([]CategoryReview, 0, categories.Len())
	for i := 0; i < categories.Len(); i++ {
		out = append(out, CategoryReview{Category: label(categories, i), MeanReviewScore: means.Value(i)})
	}
	return out, nil
}

// AggregateTopCities counts distinct customers per city and keeps the k largest.
// k <= 0 means DefaultTopCities.
func AggregateTopCities(t *Table, k int) ([]CityCustomers, error) {
	out := []CityCustomers{}
	if t.Len() == 0 {
		return out, nil
	}
	if k <= 0 {
		k = DefaultTopCities
	}
	if k > maxPipelineBatch {
		k = maxPipelineBatch
	}
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		grouped, err := aggr.NewGroupByExec(src,
			[]aggr.AggregateFunctions{
				aggr.NewAggregateFunctions(aggr.CountDistinct, Expr.NewColumnResolve(ColCustomerID)).As("unique_customer_count"),
			},
			Expr.NewExpressions(Expr.NewColumnResolve(ColCity)))
		if err != nil {
			return nil, err
		}
		return aggr.NewTopKSortExec(grouped,
			aggr.CombineSortKeys(aggr.NewSortKey(Expr.NewColumnResolve("unique_customer_count"), false)),
			uint16(k))
	})
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(batch.Columns)

	cities := batch.Columns[0].(*array.String)
	counts := batch.Columns[1].(*array.Float64)
	out = make([]CityCustomers, 0, cities.Len())
	for i := 0; i < cities.Len(); i++ {
		out = append(out, CityCustomers{City: label(cities, i), UniqueCustomerCount: int(counts.Value(i))})
	}
	return out, nil
}

// AggregateRFM computes per customer the distinct order count, the summed price
// and the recency: earliest purchase day of the whole table minus the
// customer's last purchase day. Customers appear in order of first purchase.
func AggregateRFM(t *Table) ([]CustomerRFM, error) {
	out := []CustomerRFM{}
	if t.Len() == 0 {
		return out, nil
	}
	reference, err := t.referenceDay()
	if err != nil {
		return nil, err
	}
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		grouped, err := aggr.NewGroupByExec(src,
			[]aggr.AggregateFunctions{
				aggr.NewAggregateFunctions(aggr.Max, Expr.NewColumnResolve(ColPurchaseDay)).As("last_day"),
				aggr.NewAggregateFunctions(aggr.CountDistinct, Expr.NewColumnResolve(ColOrderID)).As("frequency"),
				aggr.NewAggregateFunctions(aggr.Sum, Expr.NewColumnResolve(ColPrice)).As("monetary"),
			},
			Expr.NewExpressions(Expr.NewColumnResolve(ColCustomerID)))
		if err != nil {
			return nil, err
		}
		return project.NewProjectExec(grouped, Expr.NewExpressions(
			Expr.NewColumnResolve(ColCustomerID),
			Expr.NewAlias(Expr.NewBinaryExpr(
				Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, reference),
				Expr.Subtraction,
				Expr.NewColumnResolve("last_day"),
			), "recency"),
			Expr.NewColumnResolve("frequency"),
			Expr.NewColumnResolve("monetary"),
		))
	})
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(batch.Columns)

	ids := batch.Columns[0].(*array.String)
	recency := batch.Columns[1].(*array.Float64)
	frequency := batch.Columns[2].(*array.Float64)
	monetary := batch.Columns[3].(*array.Float64)
	out = make([]CustomerRFM, 0, ids.Len())
	for i := 0; i < ids.Len(); i++ {
		out = append(out, CustomerRFM{
			CustomerID: ids.Value(i),
			Recency:    int(recency.Value(i)),
			Frequency:  int(frequency.Value(i)),
			Monetary:   monetary.Value(i),
		})
	}
	return out, nil
}

// referenceDay is the earliest purchase day of the table, found with a global aggregate.
func (t *Table) referenceDay() (float64, error) {
	batch, err := t.pipeline(func(src operators.Operator) (operators.Operator, error) {
		return aggr.NewGlobalAggrExec(src, []aggr.AggregateFunctions{
			aggr.NewAggregateFunctions(aggr.Min, Expr.NewColumnResolve(ColPurchaseDay)).As("reference_day"),
		})
	})
	if err != nil {
		return 0, err
	}
	defer operators.ReleaseArrays(batch.Columns)
	col := batch.Columns[0].(*array.Float64)
	if col.Len() != 1 || col.IsNull(0) {
		return 0, fmt.Errorf("reference day undefined for %d rows", t.Len())
	}
	return col.Value(0), nil
}

// pipeline runs build over a fresh source of the table and collects the result.
// On a build error the source is closed here.
func (t *Table) pipeline(build func(src operators.Operator) (operators.Operator, error)) (*operators.RecordBatch, error) {
	src, err := t.source()
	if err != nil {
		return nil, err
	}
	op, err := build(src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return drain(op)
}

// categoryInput applies the missing category policy. Null keys are kept for the
// bucket policy and labelled later.
func categoryInput(src operators.Operator, opts CategoryOptions) (operators.Operator, error) {
	if !opts.drop() {
		return src, nil
	}
	return filter.NewFilterExec(src, Expr.NewNullCheckExpr(Expr.NewColumnResolve(ColCategory)))
}

func label(col *array.String, i int) string {
	if col.IsNull(i) {
		return MissingLabel
	}
	return col.Value(i)
}
