package dashboard

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// RFMLeaders are the customers shown on the RFM charts.
type RFMLeaders struct {
	ByRecency   []CustomerRFM `json:"by_recency"`   // lowest recency first
	ByFrequency []CustomerRFM `json:"by_frequency"` // highest first
	ByMonetary  []CustomerRFM `json:"by_monetary"`  // highest first
}

// CategoryRanking are the best and worst selling categories.
type CategoryRanking struct {
	Best  []CategorySales `json:"best"`
	Worst []CategorySales `json:"worst"` // fewest orders first
}

// Report is everything the dashboard renders for one selection.
type Report struct {
	Selection      Selection        `json:"selection"`
	Rows           int              `json:"rows"`
	Summary        Summary          `json:"summary"`
	Daily          []DailyOrders    `json:"daily_orders"`
	CategorySales  []CategorySales  `json:"category_sales"`
	CategoryReview []CategoryReview `json:"category_review"`
	TopCities      []CityCustomers  `json:"top_cities"`
	RFM            []CustomerRFM    `json:"rfm"`
	Ranking        CategoryRanking  `json:"ranking"`
	TopReviews     []CategoryReview `json:"top_reviews"`
	Leaders        RFMLeaders       `json:"rfm_leaders"`
}

type ReportOptions struct {
	Category  CategoryOptions
	TopCities int
	Logger    *zap.Logger
}

// BuildReport filters t to sel and derives every table from the filtered rows.
// Nothing is cached; each call recomputes from t.
func BuildReport(t *Table, sel Selection, opts ReportOptions) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	filtered, err := t.Filter(sel.Start, sel.End)
	if err != nil {
		return nil, err
	}
	defer filtered.Release()

	r := &Report{Selection: sel, Rows: filtered.Len()}
	if r.Daily, err = AggregateDaily(filtered); err != nil {
		return nil, err
	}
	if r.CategorySales, err = AggregateCategorySales(filtered, opts.Category); err != nil {
		return nil, err
	}
	if r.CategoryReview, err = AggregateCategoryReview(filtered, opts.Category); err != nil {
		return nil, err
	}
	if r.TopCities, err = AggregateTopCities(filtered, opts.TopCities); err != nil {
		return nil, err
	}
	if r.RFM, err = AggregateRFM(filtered); err != nil {
		return nil, err
	}
	r.Summary = Summarize(r.Daily, r.RFM)
	r.Ranking = RankCategories(r.CategorySales)
	r.TopReviews = head(r.CategoryReview, topReviewsSize)
	r.Leaders = RankCustomers(r.RFM)

	logger.Debug("report built",
		zap.Stringer("selection", sel),
		zap.Int("rows", r.Rows),
		zap.Int("customers", len(r.RFM)),
		zap.Duration("elapsed", time.Since(start)))
	return r, nil
}

// RankCategories takes sales sorted by descending count.
func RankCategories(sales []CategorySales) CategoryRanking {
	worst := append([]CategorySales(nil), sales...)
	sort.SliceStable(worst, func(i, j int) bool { return worst[i].OrderCount < worst[j].OrderCount })
	return CategoryRanking{
		Best:  head(sales, rankingSize),
		Worst: head(worst, rankingSize),
	}
}

func RankCustomers(rfm []CustomerRFM) RFMLeaders {
	by := func(less func(a, b CustomerRFM) bool) []CustomerRFM {
		sorted := append([]CustomerRFM(nil), rfm...)
		sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
		return head(sorted, rankingSize)
	}
	return RFMLeaders{
		ByRecency:   by(func(a, b CustomerRFM) bool { return a.Recency < b.Recency }),
		ByFrequency: by(func(a, b CustomerRFM) bool { return a.Frequency > b.Frequency }),
		ByMonetary:  by(func(a, b CustomerRFM) bool { return a.Monetary > b.Monetary }),
	}
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n]
	}
	return append([]T{}, s...)
}
