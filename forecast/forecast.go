// Package forecast provides the price, PV and load series the optimizer plans
// against, via pluggable providers with demo fallbacks.
package forecast

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Point is one value of an hourly series.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is an ordered sequence of hourly points.
type Series []Point

// Values returns just the values of the series.
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// At returns the value of the hour containing t, or 0 if the series does not
// cover t.
func (s Series) At(t time.Time) (float64, bool) {
	for _, p := range s {
		if !t.Before(p.Time) && t.Before(p.Time.Add(time.Hour)) {
			return p.Value, true
		}
	}
	return 0, false
}

// clampNonNegative zeroes any negative values. Forecast series never carry
// negative power or generation.
func (s Series) clampNonNegative() Series {
	for i := range s {
		if s[i].Value < 0 {
			s[i].Value = 0
		}
	}
	return s
}

// Forecast bundles the three series for one optimization horizon.
type Forecast struct {
	Prices Series
	PV     Series
	Load   Series
}

// Has reports whether the named series is present and non-empty.
func (f Forecast) Has(key string) bool {
	switch key {
	case "prices":
		return len(f.Prices) > 0
	case "pv":
		return len(f.PV) > 0
	case "load":
		return len(f.Load) > 0
	}
	return false
}

// PriceProvider fetches day-ahead prices in EUR/MWh.
type PriceProvider interface {
	Prices(ctx context.Context) (Series, error)
}

// PVProvider fetches the PV generation forecast in kW.
type PVProvider interface {
	PV(ctx context.Context, hours int) (Series, error)
}

// LoadProvider fetches the load forecast in kW.
type LoadProvider interface {
	Load(ctx context.Context, hours int) (Series, error)
}

// Aggregator combines the three providers. A nil provider, a provider error
// or demo mode all fall back to the fixed demo curves, so a forecast is always
// available.
type Aggregator struct {
	prices   PriceProvider
	pv       PVProvider
	load     LoadProvider
	demoMode bool
	horizonH int
	now      func() time.Time
}

func NewAggregator(prices PriceProvider, pv PVProvider, load LoadProvider, demoMode bool) *Aggregator {
	return &Aggregator{
		prices:   prices,
		pv:       pv,
		load:     load,
		demoMode: demoMode,
		horizonH: 24,
		now:      time.Now,
	}
}

// Fetch assembles the forecast for the next horizon. Series are aligned on
// whole hours and never negative.
func (a *Aggregator) Fetch(ctx context.Context) Forecast {
	start := a.now().UTC().Truncate(time.Hour)

	forecast := Forecast{}

	if !a.demoMode && a.prices != nil {
		prices, err := a.prices.Prices(ctx)
		if err != nil {
			slog.Warn("Price fetch failed, using demo curve", "error", err)
		} else {
			forecast.Prices = prices
		}
	}
	if len(forecast.Prices) == 0 {
		forecast.Prices = DemoPrices(start, a.horizonH)
	}

	if !a.demoMode && a.pv != nil {
		pv, err := a.pv.PV(ctx, a.horizonH)
		if err != nil {
			slog.Warn("PV forecast failed, using demo curve", "error", err)
		} else {
			forecast.PV = pv
		}
	}
	if len(forecast.PV) == 0 {
		forecast.PV = DemoPV(start, a.horizonH)
	}

	if !a.demoMode && a.load != nil {
		load, err := a.load.Load(ctx, a.horizonH)
		if err != nil {
			slog.Warn("Load forecast failed, using demo curve", "error", err)
		} else {
			forecast.Load = load
		}
	}
	if len(forecast.Load) == 0 {
		forecast.Load = DemoLoad(start, a.horizonH)
	}

	forecast.Prices = forecast.Prices.clampNonNegative()
	forecast.PV = forecast.PV.clampNonNegative()
	forecast.Load = forecast.Load.clampNonNegative()

	return forecast
}

// Trend returns the normalized direction of the series in [-1, 1], comparing
// the mean of the second half against the first half.
func Trend(s Series) float64 {
	if len(s) < 2 {
		return 0
	}
	values := s.Values()
	half := len(values) / 2
	first := mean(values[:half])
	second := mean(values[half:])
	if first == 0 {
		return 0
	}
	trend := (second - first) / math.Abs(first)
	return math.Max(-1, math.Min(1, trend))
}

// Volatility returns the coefficient of variation of the series clamped to
// [0, 1].
func Volatility(s Series) float64 {
	values := s.Values()
	m := mean(values)
	if m == 0 {
		return 0
	}
	return math.Min(stddev(values)/math.Abs(m), 1.0)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
