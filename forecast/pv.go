package forecast

import (
	"context"
	"fmt"
	"math"
	"time"
)

// WeatherPoint is one hour of a cloud cover and temperature forecast.
type WeatherPoint struct {
	Time     time.Time
	CloudPct float64
	TempC    float64
}

// WeatherProvider fetches a weather forecast. The actual weather API is an
// external collaborator behind this interface.
type WeatherProvider interface {
	Hourly(ctx context.Context, hours int) ([]WeatherPoint, error)
}

// WeatherPV derives a PV generation forecast from cloud cover and temperature
// on top of a clear-sky model.
type WeatherPV struct {
	weather    WeatherProvider
	peakKw     float64
	efficiency float64
}

func NewWeatherPV(weather WeatherProvider, peakKw, efficiency float64) *WeatherPV {
	if peakKw <= 0 {
		peakKw = 50.0
	}
	if efficiency <= 0 || efficiency > 1 {
		efficiency = 0.85
	}
	return &WeatherPV{
		weather:    weather,
		peakKw:     peakKw,
		efficiency: efficiency,
	}
}

// PV returns the hourly PV forecast in kW. Without a weather provider it
// falls back to the clear-sky model alone.
func (w *WeatherPV) PV(ctx context.Context, hours int) (Series, error) {
	start := time.Now().UTC().Truncate(time.Hour)

	if w.weather == nil {
		return w.clearSkySeries(start, hours), nil
	}

	points, err := w.weather.Hourly(ctx, hours)
	if err != nil {
		return nil, fmt.Errorf("weather forecast: %w", err)
	}
	if len(points) == 0 {
		return w.clearSkySeries(start, hours), nil
	}

	series := make(Series, 0, len(points))
	for _, p := range points {
		clearSky := w.clearSkyPower(p.Time)

		// full clouds still leave roughly 20% diffuse output
		cloudFactor := 1.0 - (p.CloudPct/100.0)*0.8

		// cells derate 0.4% per degree above 25C
		tempFactor := 1.0 - math.Max(0, p.TempC-25)*0.004

		power := math.Max(0, clearSky*cloudFactor*tempFactor)
		series = append(series, Point{Time: p.Time, Value: power})
	}
	return series, nil
}

func (w *WeatherPV) clearSkySeries(start time.Time, hours int) Series {
	series := make(Series, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		series = append(series, Point{Time: ts, Value: w.clearSkyPower(ts)})
	}
	return series
}

// clearSkyPower estimates cloudless PV output from a simplified solar model:
// sunrise and sunset swing sinusoidally over the year, the elevation follows
// a half sine between them, and a seasonal factor weakens winter output.
func (w *WeatherPV) clearSkyPower(ts time.Time) float64 {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60.0
	dayOfYear := float64(ts.YearDay())

	seasonAngle := (dayOfYear - 80) / 365.0 * 2 * math.Pi
	sunriseOffset := math.Sin(seasonAngle) * 2
	sunrise := 7 - sunriseOffset
	sunset := 19 + sunriseOffset

	if hour < sunrise || hour > sunset {
		return 0.0
	}

	relativeHour := (hour - sunrise) / (sunset - sunrise)
	sunElevation := math.Sin(relativeHour * math.Pi)

	power := w.peakKw * w.efficiency * sunElevation

	seasonalFactor := 0.7 + 0.3*math.Sin(seasonAngle)
	power *= seasonalFactor

	return math.Max(0, power)
}
