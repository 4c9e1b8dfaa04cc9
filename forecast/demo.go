package forecast

import (
	"math"
	"time"
)

// demoPriceCurve is the fixed 24 hour day-ahead price shape in EUR/MWh:
// low at night, peaks in the morning and evening.
var demoPriceCurve = [24]float64{
	65, 60, 55, 50, 52, 58,
	85, 110, 135, 130, 120, 115,
	105, 95, 90, 100, 110, 125,
	145, 150, 140, 120, 95, 75,
}

// demoLoadCurve is the fixed 24 hour weekday load shape in kW.
var demoLoadCurve = [24]float64{
	8, 7, 6, 5, 6, 8,
	15, 25, 28, 22, 18, 16,
	20, 22, 20, 18, 20, 24,
	30, 32, 28, 22, 15, 10,
}

// DemoPrices returns the fixed demo price curve starting at `start`.
func DemoPrices(start time.Time, hours int) Series {
	series := make(Series, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		series = append(series, Point{Time: ts, Value: demoPriceCurve[ts.Hour()]})
	}
	return series
}

// DemoLoad returns the fixed demo load curve starting at `start`.
func DemoLoad(start time.Time, hours int) Series {
	series := make(Series, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		series = append(series, Point{Time: ts, Value: demoLoadCurve[ts.Hour()]})
	}
	return series
}

// DemoPV returns a sinusoidal PV curve between 06:00 and 20:00 with a 50 kW
// peak around 13:00.
func DemoPV(start time.Time, hours int) Series {
	series := make(Series, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		hour := ts.Hour()
		power := 0.0
		if hour >= 6 && hour <= 20 {
			t := float64(hour-6) / 14.0
			power = 50.0 * math.Sin(t*math.Pi)
		}
		series = append(series, Point{Time: ts, Value: power})
	}
	return series
}
