package dashboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func line(order, customer, city, category string, at time.Time, price float64) OrderRecord {
	r := OrderRecord{
		OrderID:     order,
		CustomerID:  customer,
		City:        city,
		PurchasedAt: at,
		Price:       price,
	}
	if category != "" {
		r.Category = strPtr(category)
	}
	return r
}

// twoOrders is order A with two items on 2024-01-01 and order B on 2024-01-03.
func twoOrders(t *testing.T) *Table {
	t.Helper()
	table, err := NewTableFromRecords([]OrderRecord{
		line("A", "cust1", "Bogota", "toys", day(2024, 1, 1).Add(9*time.Hour), 10),
		line("A", "cust1", "Bogota", "toys", day(2024, 1, 1).Add(9*time.Hour), 5),
		line("B", "cust2", "Medellin", "books", day(2024, 1, 3).Add(14*time.Hour), 20),
	})
	require.NoError(t, err)
	return table
}

// marketplace is a month of orders over seven cities with a few missing
// categories and reviews. Records are deliberately out of time order.
func marketplace(t *testing.T) (*Table, []OrderRecord) {
	t.Helper()
	cities := []string{"sao paulo", "rio de janeiro", "belo horizonte", "curitiba", "campinas", "salvador", "recife"}
	categories := []string{"toys", "books", "garden", "", "health"}
	var records []OrderRecord
	for i := 0; i < 60; i++ {
		o := i / 2 // two lines per order
		at := day(2018, 3, 1).Add(time.Duration((o*7)%30)*24*time.Hour + time.Duration(o%24)*time.Hour)
		r := line(
			fmt.Sprintf("order-%02d", o),
			fmt.Sprintf("customer-%02d", o%11),
			cities[(o*3)%len(cities)],
			categories[i%len(categories)],
			at,
			float64(10+i%9)+0.25,
		)
		if i%4 != 0 {
			r.ReviewScore = floatPtr(float64(1 + i%5))
		}
		records = append(records, r)
	}
	table, err := NewTableFromRecords(records)
	require.NoError(t, err)
	return table, records
}
