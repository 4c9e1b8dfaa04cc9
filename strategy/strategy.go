// Package strategy holds the schedulable operating strategies of a site and
// the selection logic that picks between them.
package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/gridvolt/emscontroller/forecast"
	"github.com/gridvolt/emscontroller/optimizer"
	"github.com/gridvolt/emscontroller/telemetry"
)

// Context carries everything a strategy needs for one evaluation or
// optimization pass.
type Context struct {
	State       telemetry.PlantState
	Forecast    forecast.Forecast
	Constraints optimizer.Constraints
	Now         time.Time
}

// Result is the outcome of one strategy optimization. Schedules use the
// discharge-positive sign convention.
type Result struct {
	StrategyName string
	Schedule     []optimizer.SchedulePoint
	SocSchedule  []optimizer.SocPoint

	ExpectedRevenue float64
	ExpectedCost    float64
	ExpectedProfit  float64

	Confidence float64
	Metadata   map[string]any
}

// Strategy is the capability interface every operating strategy implements.
type Strategy interface {
	Name() string
	RequiredForecasts() []string
	Evaluate(ctx Context) float64
	Optimize(ctx Context) (*Result, error)
}

// hasRequired checks that all forecast series a strategy depends on are
// present and non-empty.
func hasRequired(s Strategy, f forecast.Forecast) bool {
	for _, key := range s.RequiredForecasts() {
		if !f.Has(key) {
			return false
		}
	}
	return true
}

func emptyResult(name string) *Result {
	return &Result{StrategyName: name, Confidence: 0.0}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := meanOf(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func varianceOf(values []float64) float64 {
	s := stdOf(values)
	return s * s
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// percentileOf interpolates linearly between the closest ranks, matching the
// behavior of the usual numeric libraries.
func percentileOf(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := q / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
