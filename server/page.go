package server

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"ecomdash/dashboard"

	"go.uber.org/zap"
)

var page = template.Must(template.New("page").Parse(`<!doctype html>
<html><head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>E-Commerce Public Dashboard</title>
<style>
body{font-family:system-ui,Segoe UI,Roboto,Arial;background:#fbf7f0;color:#2b2118;margin:0;padding:20px}
.card{background:#fff;border:1px solid #ecdfcc;border-radius:12px;padding:16px;margin:12px 0}
.metric{display:inline-block;margin-right:32px}.metric b{display:block;font-size:1.6em}
img{max-width:100%} .muted{color:#939185} table{border-collapse:collapse}
th,td{border-bottom:1px solid #ecdfcc;padding:6px 12px;text-align:left}
</style>
</head><body>
<h1>E-Commerce Public Dashboard</h1>
<form class="card" method="GET" action="/">
  <label>Start <input type="date" name="start" value="{{.Start}}" min="{{.First}}" max="{{.Last}}"></label>
  <label>End <input type="date" name="end" value="{{.End}}" min="{{.First}}" max="{{.Last}}"></label>
  <button type="submit">Apply</button>
  <a href="/export/json?{{.Query}}">json</a> <a href="/export/xlsx?{{.Query}}">xlsx</a>
  <p class="muted">{{.Rows}} order lines selected</p>
</form>

<div class="card">
  <h2>Daily Orders</h2>
  <div class="metric">Total orders<b>{{.Report.Summary.TotalOrders}}</b></div>
  <div class="metric">Total Revenue<b>{{.Revenue}}</b></div>
  <img src="/charts/daily.png?{{.Query}}" alt="daily orders">
</div>

<div class="card">
  <h2>Best &amp; Worst Performing Product Category</h2>
  <img src="/charts/best-categories.png?{{.Query}}" alt="best categories">
  <img src="/charts/worst-categories.png?{{.Query}}" alt="worst categories">
  <h3>Review Score by Category</h3>
  <img src="/charts/reviews.png?{{.Query}}" alt="review score">
  <table><thead><tr><th>Category</th><th>Mean review</th></tr></thead><tbody>
  {{range .Report.TopReviews}}<tr><td>{{.Category}}</td><td>{{printf "%.2f" .MeanReviewScore}}</td></tr>{{else}}<tr><td colspan="2" class="muted">No reviews.</td></tr>{{end}}
  </tbody></table>
</div>

<div class="card">
  <h2>Customer Demographics</h2>
  <img src="/charts/cities.png?{{.Query}}" alt="customers by city">
</div>

<div class="card">
  <h2>Best Customer Based on RFM Parameters</h2>
  <div class="metric">Average Recency (days)<b>{{.Report.Summary.AvgRecency}}</b></div>
  <div class="metric">Average Frequency<b>{{.Report.Summary.AvgFrequency}}</b></div>
  <div class="metric">Average Monetary<b>{{.Monetary}}</b></div>
  <img src="/charts/rfm-recency.png?{{.Query}}" alt="recency">
  <img src="/charts/rfm-frequency.png?{{.Query}}" alt="frequency">
  <img src="/charts/rfm-monetary.png?{{.Query}}" alt="monetary">
</div>
</body></html>
`))

type pageData struct {
	First, Last string
	Start, End  string
	Query       template.URL
	Rows        int
	Revenue     string
	Monetary    string
	Report      *dashboard.Report
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	bounds := s.table.Bounds()
	q := url.Values{}
	q.Set("start", rep.Selection.Start.Format(time.DateOnly))
	q.Set("end", rep.Selection.End.Format(time.DateOnly))

	data := pageData{
		First:    bounds.First.Format(time.DateOnly),
		Last:     bounds.Last.Format(time.DateOnly),
		Start:    rep.Selection.Start.Format(time.DateOnly),
		End:      rep.Selection.End.Format(time.DateOnly),
		Query:    template.URL(q.Encode()),
		Rows:     rep.Rows,
		Revenue:  s.money(rep.Summary.TotalRevenue),
		Monetary: s.money(rep.Summary.AvgMonetary),
		Report:   rep,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, data); err != nil {
		s.logger.Error("render page", zap.Error(err))
	}
}

// money formats amount with the configured currency and locale, falling
// back to two plain decimals.
func (s *Server) money(amount float64) string {
	out, err := dashboard.FormatCurrency(amount, s.cfg.Dashboard.Currency, s.cfg.Dashboard.Locale)
	if err != nil {
		s.logger.Warn("currency format", zap.Error(err))
		return fmt.Sprintf("%.2f", amount)
	}
	return out
}
