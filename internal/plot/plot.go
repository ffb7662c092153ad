package plot

import (
	"errors"
	"io"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"auxite-wallet/internal/market"
)

const (
	DefaultSparkWidth  = 240
	DefaultSparkHeight = 64
)

// ErrNoData is returned when no series has enough points to draw.
var ErrNoData = errors.New("plot: not enough data points")

// Sparkline renders a bare line chart of samples as PNG. Fewer than two samples are
// drawn as a flat line at the last known (or default) price.
func Sparkline(w io.Writer, sym market.Symbol, samples []float64, width, height int) error {
	if width <= 0 {
		width = DefaultSparkWidth
	}
	if height <= 0 {
		height = DefaultSparkHeight
	}

	ys := finite(samples)
	if len(ys) < 2 {
		v := market.DefaultPrice(sym)
		if len(ys) == 1 {
			v = ys[0]
		}
		ys = []float64{v, v}
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	lo, hi := bounds(ys)

	line := drawing.ColorFromHex(market.PaletteFor(sym).Line)
	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 2, Left: 2, Right: 2, Bottom: 2},
		},
		XAxis: chart.XAxis{Style: chart.Style{Hidden: true}},
		YAxis: chart.YAxis{
			Style: chart.Style{Hidden: true},
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: line,
					StrokeWidth: 2,
					FillColor:   line.WithAlpha(48),
				},
			},
		},
	}
	return graph.Render(chart.PNG, w)
}

// Series is one symbol's recorded prices over time.
type Series struct {
	Symbol market.Symbol
	Times  []time.Time
	Prices []float64
}

// History renders a multi-symbol price chart as PNG. Series with fewer than two
// points are left out.
func History(w io.Writer, series []Series, width, height int) error {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}

	var drawn []chart.Series
	for _, s := range series {
		n := len(s.Times)
		if len(s.Prices) < n {
			n = len(s.Prices)
		}
		if n < 2 {
			continue
		}
		color := drawing.ColorFromHex(market.PaletteFor(s.Symbol).Line)
		drawn = append(drawn, chart.TimeSeries{
			Name:    s.Symbol.String(),
			XValues: s.Times[:n],
			YValues: s.Prices[:n],
			Style:   chart.Style{StrokeColor: color, StrokeWidth: 2},
		})
	}
	if len(drawn) == 0 {
		return ErrNoData
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (" + market.UnitLabel + ")",
			ValueFormatter: priceFormatter,
		},
		Series: drawn,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

func finite(samples []float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, v := range samples {
		if market.IsFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

// bounds widens a zero-height range so flat series still render.
func bounds(ys []float64) (float64, float64) {
	lo, hi := ys[0], ys[0]
	for _, v := range ys[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-9 {
		pad := math.Max(math.Abs(hi)*0.001, 0.001)
		lo -= pad
		hi += pad
	}
	return lo, hi
}
