package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LoadObservation is one historical load measurement used for fitting.
type LoadObservation struct {
	Time   time.Time
	LoadKw float64
}

// minFitDays is the minimum history span before the seasonal model is used.
const minFitDays = 30

// SeasonalLoad predicts hourly load from a multiplicative seasonal
// decomposition: overall level x hour-of-day factor x day-of-week factor x
// month-of-year factor. Until fitted with enough history it reports itself
// unfit and the aggregator falls back to the demo curve.
type SeasonalLoad struct {
	mu sync.RWMutex

	fitted        bool
	level         float64
	hourFactors   [24]float64
	weekdyFactors [7]float64
	monthFactors  [12]float64
	now           func() time.Time
}

func NewSeasonalLoad() *SeasonalLoad {
	return &SeasonalLoad{now: time.Now}
}

// Fit estimates the seasonal factors from history. It requires at least 30
// days of observations; with less, the model stays unfitted.
func (s *SeasonalLoad) Fit(observations []LoadObservation) error {
	if len(observations) == 0 {
		return fmt.Errorf("no load observations")
	}

	first := observations[0].Time
	last := observations[0].Time
	total := 0.0
	for _, o := range observations {
		if o.Time.Before(first) {
			first = o.Time
		}
		if o.Time.After(last) {
			last = o.Time
		}
		total += o.LoadKw
	}
	if last.Sub(first) < minFitDays*24*time.Hour {
		return fmt.Errorf("need %d days of history, have %.1f", minFitDays, last.Sub(first).Hours()/24)
	}

	level := total / float64(len(observations))
	if level <= 0 {
		return fmt.Errorf("history mean load is not positive")
	}

	var hourSum [24]float64
	var hourCount [24]int
	var wdSum [7]float64
	var wdCount [7]int
	var moSum [12]float64
	var moCount [12]int

	for _, o := range observations {
		h := o.Time.UTC().Hour()
		hourSum[h] += o.LoadKw
		hourCount[h]++
		wd := int(o.Time.UTC().Weekday())
		wdSum[wd] += o.LoadKw
		wdCount[wd]++
		mo := int(o.Time.UTC().Month()) - 1
		moSum[mo] += o.LoadKw
		moCount[mo]++
	}

	var hourFactors [24]float64
	for h := 0; h < 24; h++ {
		if hourCount[h] == 0 {
			hourFactors[h] = 1.0
			continue
		}
		hourFactors[h] = (hourSum[h] / float64(hourCount[h])) / level
	}

	var weekdayFactors [7]float64
	for d := 0; d < 7; d++ {
		if wdCount[d] == 0 {
			weekdayFactors[d] = 1.0
			continue
		}
		weekdayFactors[d] = (wdSum[d] / float64(wdCount[d])) / level
	}

	// months without observations predict at the overall level
	var monthFactors [12]float64
	for m := 0; m < 12; m++ {
		if moCount[m] == 0 {
			monthFactors[m] = 1.0
			continue
		}
		monthFactors[m] = (moSum[m] / float64(moCount[m])) / level
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	s.hourFactors = hourFactors
	s.weekdyFactors = weekdayFactors
	s.monthFactors = monthFactors
	s.fitted = true
	return nil
}

// Fitted reports whether enough history has been absorbed.
func (s *SeasonalLoad) Fitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// Load predicts the hourly load for the next `hours` hours.
func (s *SeasonalLoad) Load(_ context.Context, hours int) (Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return nil, fmt.Errorf("seasonal load model not fitted")
	}

	start := s.now().UTC().Truncate(time.Hour)
	series := make(Series, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		value := s.level * s.hourFactors[ts.Hour()] * s.weekdyFactors[int(ts.Weekday())] * s.monthFactors[int(ts.Month())-1]
		series = append(series, Point{Time: ts, Value: value})
	}
	return series, nil
}
