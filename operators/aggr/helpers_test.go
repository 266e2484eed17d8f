package aggr

import (
	"testing"

	"ecomdash/operators"
	"ecomdash/operators/project"
)

// order lines: two lines share o2, one category and one review are missing
func generateOrderColumns() ([]string, []any) {
	names := []string{"order_id", "customer_unique_id", "customer_city", "product_category_name", "purchase_day", "price", "review_score"}
	columns := []any{
		[]string{"o1", "o2", "o2", "o3", "o4", "o5", "o6"},
		[]string{"c1", "c2", "c2", "c1", "c3", "c4", "c3"},
		[]string{"sao paulo", "rio", "rio", "sao paulo", "curitiba", "sao paulo", "curitiba"},
		[]string{"toys", "books", "toys", "", "books", "toys", "garden"},
		[]int64{19725, 19725, 19725, 19726, 19728, 19728, 19730},
		[]float64{100, 50, 25, 10, 40, 60, 5},
		[]float64{5, 4, 4, 3, 2, 0, 1},
	}
	return names, columns
}

// orderSource returns the order lines with nullable category and review columns.
func orderSource(t *testing.T) *project.InMemorySource {
	t.Helper()
	names, cols := generateOrderColumns()
	plain, err := project.NewInMemoryProjectExec(names, cols)
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}
	batch, err := operators.Collect(plain, 100)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	rbb := operators.NewRecordBatchBuilder()
	// product_category_name: "" -> null, review_score of o5 -> null
	batch.Columns[3].Release()
	batch.Columns[3] = rbb.GenNullableStringArray(cols[3].([]string)...)
	batch.Columns[6].Release()
	batch.Columns[6] = nullableFloats([]float64{5, 4, 4, 3, 2, 0, 1}, 5)

	src, err := project.NewInMemorySource(batch)
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}
	operators.ReleaseArrays(batch.Columns)
	return src
}
