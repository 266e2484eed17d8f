package dashboard

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Summary holds the scalar metrics shown above the charts, rounded as displayed.
type Summary struct {
	TotalOrders  int     `json:"total_orders"`
	TotalRevenue float64 `json:"total_revenue"`
	AvgRecency   float64 `json:"avg_recency"`   // days, 1 decimal
	AvgFrequency float64 `json:"avg_frequency"` // 2 decimals
	AvgMonetary  float64 `json:"avg_monetary"`  // 2 decimals
}

// Summarize reduces the daily and RFM tables. Empty tables give zero metrics.
func Summarize(daily []DailyOrders, rfm []CustomerRFM) Summary {
	var s Summary
	revenue := decimal.Zero
	for _, d := range daily {
		s.TotalOrders += d.OrderCount
		revenue = revenue.Add(decimal.NewFromFloat(d.Revenue))
	}
	s.TotalRevenue = revenue.Round(2).InexactFloat64()
	if len(rfm) == 0 {
		return s
	}

	var recency, frequency, monetary decimal.Decimal
	for _, c := range rfm {
		recency = recency.Add(decimal.NewFromInt(int64(c.Recency)))
		frequency = frequency.Add(decimal.NewFromInt(int64(c.Frequency)))
		monetary = monetary.Add(decimal.NewFromFloat(c.Monetary))
	}
	n := decimal.NewFromInt(int64(len(rfm)))
	s.AvgRecency = recency.Div(n).Round(1).InexactFloat64()
	s.AvgFrequency = frequency.Div(n).Round(2).InexactFloat64()
	s.AvgMonetary = monetary.Div(n).Round(2).InexactFloat64()
	return s
}

// FormatCurrency renders amount in the currency with the number conventions
// of locale, e.g. USD in es-CO.
func FormatCurrency(amount float64, code, locale string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("unknown currency %q: %w", code, err)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "", fmt.Errorf("unknown locale %q: %w", locale, err)
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.Symbol(unit.Amount(amount))), nil
}
