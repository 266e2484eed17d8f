package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ecomdash/config"
	"ecomdash/dashboard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	toys, books := "toys", "books"
	four, two := 4.0, 2.0
	at := time.Date(2018, 3, 1, 8, 30, 0, 0, time.UTC)
	table, err := dashboard.NewTableFromRecords([]dashboard.OrderRecord{
		{OrderID: "o1", CustomerID: "cust-aaaaa", City: "sao paulo", Category: &toys, PurchasedAt: at, Price: 10, ReviewScore: &four},
		{OrderID: "o1", CustomerID: "cust-aaaaa", City: "sao paulo", Category: &toys, PurchasedAt: at, Price: 15},
		{OrderID: "o2", CustomerID: "cust-bbbbb", City: "rio de janeiro", Category: &books, PurchasedAt: at.AddDate(0, 0, 1), Price: 7.5, ReviewScore: &two},
		{OrderID: "o3", CustomerID: "cust-aaaaa", City: "sao paulo", PurchasedAt: at.AddDate(0, 0, 3), Price: 20},
	})
	require.NoError(t, err)
	t.Cleanup(table.Release)

	cfg := *config.GetConfig()
	srv := httptest.NewServer(New(table, &cfg, nil, "memory").Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestReportEndpoint(t *testing.T) {
	srv := newTestServer(t)

	t.Run("full range by default", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/api/report")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var rep dashboard.Report
		require.NoError(t, json.Unmarshal(body, &rep))
		assert.Equal(t, 4, rep.Rows)
		assert.Len(t, rep.Daily, 4)
		assert.Equal(t, 3, rep.Summary.TotalOrders)
		assert.InDelta(t, 52.5, rep.Summary.TotalRevenue, 1e-9)
		assert.Len(t, rep.TopCities, 2)
	})

	t.Run("selected range", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/api/report?start=2018-03-02&end=2018-03-02")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rep dashboard.Report
		require.NoError(t, json.Unmarshal(body, &rep))
		assert.Equal(t, 1, rep.Rows)
		require.Len(t, rep.RFM, 1)
		assert.Equal(t, "cust-bbbbb", rep.RFM[0].CustomerID)
		assert.Equal(t, 0, rep.RFM[0].Recency)
	})

	t.Run("range outside the data is empty", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/api/summary?start=2019-01-01&end=2019-02-01")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var s dashboard.Summary
		require.NoError(t, json.Unmarshal(body, &s))
		// clamped to the last day of the data
		assert.Equal(t, 1, s.TotalOrders)
	})
}

func TestBadSelection(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name  string
		query string
	}{
		{"not a date", "start=yesterday"},
		{"wrong layout", "end=03/02/2018"},
		{"start after end", "start=2018-03-04&end=2018-03-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, path := range []string{"/api/report", "/api/summary", "/charts/daily.png", "/export/json", "/"} {
				resp, body := get(t, srv.URL+path+"?"+tc.query)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
				assert.Contains(t, string(body), `"error"`, path)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/api/bounds")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b map[string]any
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "2018-03-01", b["first"])
	assert.Equal(t, "2018-03-04", b["last"])
	assert.EqualValues(t, 4, b["days"])
	assert.EqualValues(t, 4, b["rows"])
}

func TestCharts(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/charts/rfm-monetary.png?start=2018-03-01")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	resp, _ = get(t, srv.URL+"/charts/pie.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExport(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv.URL+"/export/json?start=2018-03-01&end=2018-03-02")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report_2018-03-01_2018-03-02.json")
	var env struct {
		ID     string           `json:"id"`
		Source string           `json:"source"`
		Report dashboard.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "memory", env.Source)
	assert.Equal(t, 3, env.Report.Rows)

	resp, body = get(t, srv.URL+"/export/xlsx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/vnd.openxmlformats"))
	assert.True(t, bytes.HasPrefix(body, []byte("PK")))

	resp, _ = get(t, srv.URL+"/export/csv")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIndex(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/?start=2018-03-01&end=2018-03-04")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	page := string(body)
	assert.Contains(t, page, "E-Commerce Public Dashboard")
	assert.Contains(t, page, `src="/charts/daily.png?end=2018-03-04`)
	assert.Contains(t, page, "4 order lines selected")

	resp, body = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestConcurrentRequests(t *testing.T) {
	srv := newTestServer(t)
	var wg sync.WaitGroup
	results := make([]dashboard.Summary, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/api/summary")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			_ = json.NewDecoder(resp.Body).Decode(&results[i])
		}(i)
	}
	wg.Wait()
	for _, s := range results {
		assert.Equal(t, 3, s.TotalOrders)
		assert.InDelta(t, 52.5, s.TotalRevenue, 1e-9)
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	cfg := *config.GetConfig()
	s := New(nil, &cfg, zap.New(core), "")

	rec := httptest.NewRecorder()
	s.writeJSON(rec, http.StatusOK, map[string]float64{"mean": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "encode response", logs.All()[0].Message)
}

func TestReportWithMissingReviewTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "order_id,customer_unique_id,customer_city,product_category_name,order_purchase_timestamp,order_delivered_customer_date,price,review_score\n" +
		"o1,c1,sao paulo,toys,2018-03-01 10:00:00,,30,5\n" +
		"o2,c2,sao paulo,toys,2018-03-02 10:00:00,,20,nan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	table, err := dashboard.Load(context.Background(), dashboard.LoadOptions{Path: path})
	require.NoError(t, err)
	t.Cleanup(table.Release)

	cfg := *config.GetConfig()
	srv := httptest.NewServer(New(table, &cfg, nil, path).Router())
	t.Cleanup(srv.Close)

	resp, body := get(t, srv.URL+"/api/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep dashboard.Report
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.Equal(t, []dashboard.CategoryReview{{Category: "toys", MeanReviewScore: 5}}, rep.CategoryReview)
}
