package charts

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"

	"ecomdash/dashboard"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	Daily          = "daily"
	BestCategories = "best-categories"
	WorstCategory  = "worst-categories"
	Reviews        = "reviews"
	Cities         = "cities"
	RFMRecency     = "rfm-recency"
	RFMFrequency   = "rfm-frequency"
	RFMMonetary    = "rfm-monetary"
)

// Names lists every chart in dashboard order.
var Names = []string{Daily, BestCategories, WorstCategory, Reviews, Cities, RFMRecency, RFMFrequency, RFMMonetary}

var (
	ErrUnknownChart = func(name string) error {
		return fmt.Errorf("unknown chart %q", name)
	}
)

var (
	width  = 12 * vg.Inch
	height = 6 * vg.Inch
)

// palette of the dashboard
var (
	brown      = rgb(0x82, 0x5B, 0x32)
	orange     = rgb(0xFF, 0xAD, 0x60)
	sand       = rgb(0xEC, 0xDF, 0xCC)
	steel      = rgb(0x50, 0x76, 0x87)
	sky        = rgb(0x8E, 0xAC, 0xCD)
	plum       = rgb(0x52, 0x22, 0x58)
	lavender   = rgb(0xB6, 0x92, 0xC2)
	stone      = rgb(0x93, 0x91, 0x85)
	barWidth   = vg.Points(28)
	labelAngle = math.Pi / 6
)

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 255} }

// Render draws the named chart of r as PNG into w.
func Render(w io.Writer, name string, r *dashboard.Report) error {
	var (
		p   *plot.Plot
		err error
	)
	switch name {
	case Daily:
		p, err = dailyChart(r.Daily)
	case BestCategories:
		p, err = categoryChart("Best Performing Product", r.Ranking.Best)
	case WorstCategory:
		p, err = categoryChart("Worst Performing Product", r.Ranking.Worst)
	case Reviews:
		labels, values := make([]string, len(r.TopReviews)), make([]float64, len(r.TopReviews))
		for i, c := range r.TopReviews {
			labels[i], values[i] = c.Category, c.MeanReviewScore
		}
		p, err = barChart("Mean Review Score", "Review Score", labels, values, 3, steel, sky)
	case Cities:
		labels, values := make([]string, len(r.TopCities)), make([]float64, len(r.TopCities))
		for i, c := range r.TopCities {
			labels[i], values[i] = c.City, float64(c.UniqueCustomerCount)
		}
		p, err = barChart(fmt.Sprintf("Top %d City by Total Customer", len(r.TopCities)), "Total Customer", labels, values, 1, plum, lavender)
	case RFMRecency:
		p, err = rfmChart("By Recency (days)", r.Leaders.ByRecency, func(c dashboard.CustomerRFM) float64 { return float64(c.Recency) })
	case RFMFrequency:
		p, err = rfmChart("By Frequency", r.Leaders.ByFrequency, func(c dashboard.CustomerRFM) float64 { return float64(c.Frequency) })
	case RFMMonetary:
		p, err = rfmChart("By Monetary", r.Leaders.ByMonetary, func(c dashboard.CustomerRFM) float64 { return c.Monetary })
	default:
		return ErrUnknownChart(name)
	}
	if err != nil {
		return fmt.Errorf("chart %s: %w", name, err)
	}
	return writePNG(w, p)
}

func writePNG(w io.Writer, p *plot.Plot) error {
	img := vgimg.New(width, height)
	p.Draw(draw.New(img))
	_, err := vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}

func newPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	return p
}

func dailyChart(daily []dashboard.DailyOrders) (*plot.Plot, error) {
	p := newPlot("Daily Orders")
	p.Y.Label.Text = "Orders"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Add(plotter.NewGrid())
	if len(daily) == 0 {
		return p, nil
	}
	points := make(plotter.XYs, len(daily))
	for i, d := range daily {
		points[i].X = float64(d.Date.Unix())
		points[i].Y = float64(d.OrderCount)
	}
	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return nil, err
	}
	line.Color = brown
	line.Width = vg.Points(2)
	scatter.Color = brown
	scatter.Shape = draw.CircleGlyph{}
	p.Add(line, scatter)
	return p, nil
}

func categoryChart(title string, sales []dashboard.CategorySales) (*plot.Plot, error) {
	labels, values := make([]string, len(sales)), make([]float64, len(sales))
	for i, c := range sales {
		labels[i], values[i] = c.Category, float64(c.OrderCount)
	}
	return barChart(title, "Number of Sales", labels, values, 1, orange, sand)
}

func rfmChart(title string, customers []dashboard.CustomerRFM, value func(dashboard.CustomerRFM) float64) (*plot.Plot, error) {
	labels, values := make([]string, len(customers)), make([]float64, len(customers))
	for i, c := range customers {
		labels[i], values[i] = c.ShortID(), value(c)
	}
	return barChart(title, "", labels, values, 0, stone, stone)
}

// barChart draws one bar per label. The first highlighted bars use accent,
// the rest use base.
func barChart(title, yLabel string, labels []string, values []float64, highlighted int, accent, base color.Color) (*plot.Plot, error) {
	p := newPlot(title)
	p.Y.Label.Text = yLabel
	if len(values) == 0 {
		return p, nil
	}
	front, rest := make(plotter.Values, len(values)), make(plotter.Values, len(values))
	for i, v := range values {
		if i < highlighted {
			front[i] = v
		} else {
			rest[i] = v
		}
	}
	for _, group := range []struct {
		values plotter.Values
		color  color.Color
	}{{front, accent}, {rest, base}} {
		bars, err := plotter.NewBarChart(group.values, barWidth)
		if err != nil {
			return nil, err
		}
		bars.Color = group.color
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
	}
	for i, v := range values {
		label, err := plotter.NewLabels(plotter.XYLabels{
			XYs:    []plotter.XY{{X: float64(i), Y: v}},
			Labels: []string{strconv.FormatFloat(v, 'f', -1, 64)},
		})
		if err != nil {
			return nil, err
		}
		p.Add(label)
	}
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = labelAngle
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	return p, nil
}
