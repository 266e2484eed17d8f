package dashboard

import (
	"fmt"
	"time"

	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// column names of the combined orders table
const (
	ColOrderID        = "order_id"
	ColCustomerID     = "customer_unique_id"
	ColCity           = "customer_city"
	ColCategory       = "product_category_name"
	ColPurchasedAt    = "order_purchase_timestamp"
	ColDeliveredAt    = "order_delivered_customer_date"
	ColPrice          = "price"
	ColReviewScore    = "review_score"
	ColPurchaseDay    = "purchase_day" // days since the unix epoch, derived at load
	secondsPerDay     = 24 * 60 * 60
	MissingLabel      = "unknown" // label of the null category and null city groups
	DefaultTopCities  = 5
	defaultBatchSize  = 8192
	maxPipelineBatch  = 65535
	shortIDLength     = 5
	rankingSize       = 5
	topReviewsSize    = 10
	dateLayout        = time.DateOnly
)

// requiredColumns must be present in every input file.
var requiredColumns = []string{
	ColOrderID, ColCustomerID, ColCity, ColCategory,
	ColPurchasedAt, ColDeliveredAt, ColPrice, ColReviewScore,
}

// csvSchema is the declared shape of the CSV input. Timestamps stay text until normalised.
func csvSchema() *arrow.Schema {
	return operators.NewRecordBatchBuilder().SchemaBuilder.
		WithField(ColOrderID, arrow.BinaryTypes.String, false).
		WithField(ColCustomerID, arrow.BinaryTypes.String, false).
		WithField(ColCity, arrow.BinaryTypes.String, true).
		WithField(ColCategory, arrow.BinaryTypes.String, true).
		WithField(ColPurchasedAt, arrow.BinaryTypes.String, false).
		WithField(ColDeliveredAt, arrow.BinaryTypes.String, true).
		WithField(ColPrice, arrow.PrimitiveTypes.Float64, true).
		WithField(ColReviewScore, arrow.PrimitiveTypes.Float64, true).
		Build()
}

// tableSchema is the schema of every loaded or filtered Table.
func tableSchema() *arrow.Schema {
	return operators.NewRecordBatchBuilder().SchemaBuilder.
		WithField(ColOrderID, arrow.BinaryTypes.String, false).
		WithField(ColCustomerID, arrow.BinaryTypes.String, false).
		WithField(ColCity, arrow.BinaryTypes.String, true).
		WithField(ColCategory, arrow.BinaryTypes.String, true).
		WithField(ColPurchasedAt, operators.TimestampType, false).
		WithField(ColDeliveredAt, operators.TimestampType, true).
		WithField(ColPrice, arrow.PrimitiveTypes.Float64, true).
		WithField(ColReviewScore, arrow.PrimitiveTypes.Float64, true).
		WithField(ColPurchaseDay, arrow.PrimitiveTypes.Int64, false).
		Build()
}

// OrderRecord is one line item of the combined table. Nil pointers are missing values.
type OrderRecord struct {
	OrderID     string
	CustomerID  string
	City        string
	Category    *string
	PurchasedAt time.Time
	DeliveredAt *time.Time
	Price       float64
	ReviewScore *float64
}

// NewTableFromRecords builds a table from in-memory records. Rows are sorted by
// purchase time like a loaded file.
func NewTableFromRecords(records []OrderRecord) (*Table, error) {
	if len(records) == 0 {
		return newTable(emptyBatch()), nil
	}
	mem := memory.DefaultAllocator
	ids := array.NewStringBuilder(mem)
	customers := array.NewStringBuilder(mem)
	cities := array.NewStringBuilder(mem)
	categories := array.NewStringBuilder(mem)
	purchased := array.NewTimestampBuilder(mem, operators.TimestampType)
	delivered := array.NewTimestampBuilder(mem, operators.TimestampType)
	prices := array.NewFloat64Builder(mem)
	reviews := array.NewFloat64Builder(mem)
	days := array.NewInt64Builder(mem)
	builders := []array.Builder{ids, customers, cities, categories, purchased, delivered, prices, reviews, days}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for i, r := range records {
		if r.PurchasedAt.IsZero() {
			return nil, fmt.Errorf("record %d (order %s): %w", i, r.OrderID, ErrBadTimestamp)
		}
		ids.Append(r.OrderID)
		customers.Append(r.CustomerID)
		cities.Append(r.City)
		if r.Category == nil {
			categories.AppendNull()
		} else {
			categories.Append(*r.Category)
		}
		purchased.Append(arrow.Timestamp(r.PurchasedAt.Unix()))
		if r.DeliveredAt == nil {
			delivered.AppendNull()
		} else {
			delivered.Append(arrow.Timestamp(r.DeliveredAt.Unix()))
		}
		prices.Append(r.Price)
		if r.ReviewScore == nil {
			reviews.AppendNull()
		} else {
			reviews.Append(*r.ReviewScore)
		}
		days.Append(dayOf(r.PurchasedAt))
	}
	columns := make([]arrow.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.NewArray()
	}
	batch := &operators.RecordBatch{Schema: tableSchema(), Columns: columns, RowCount: uint64(len(records))}
	sorted, err := sortByPurchase(batch)
	if err != nil {
		return nil, err
	}
	return newTable(sorted), nil
}

func emptyBatch() *operators.RecordBatch {
	schema := tableSchema()
	return &operators.RecordBatch{Schema: schema, Columns: operators.EmptyColumns(schema)}
}

// dayOf is the calendar date of t, in t's own location, as days since the epoch.
func dayOf(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}

// dayToDate is the inverse of dayOf, at midnight UTC.
func dayToDate(day int64) time.Time {
	return time.Unix(day*secondsPerDay, 0).UTC()
}
