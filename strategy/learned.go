package strategy

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gridvolt/emscontroller/forecast"
	"github.com/gridvolt/emscontroller/telemetry"
)

// FeatureCount is the length of the fixed feature vector the learned selector
// classifies on.
const FeatureCount = 17

// FeatureVector is the normalized input of the learned selector:
// soc, soh, temperature, price trend, price volatility, current price,
// 6h PV/load/price averages, hour, weekday, weekend flag, current strategy
// score and the four plant powers.
type FeatureVector [FeatureCount]float64

// ExtractFeatures builds the feature vector from the plant state and the
// current forecast window.
func ExtractFeatures(state telemetry.PlantState, f forecast.Forecast, currentScore float64, now time.Time) FeatureVector {
	now = now.UTC()

	isWeekend := 0.0
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		isWeekend = 1.0
	}

	return FeatureVector{
		state.SocPct / 100.0,
		state.SohPct / 100.0,
		state.TemperatureC / 50.0,
		forecast.Trend(f.Prices),
		forecast.Volatility(f.Prices),
		state.PriceEurMwh / 100.0,
		headAverage(f.PV, 6) / 100.0,
		headAverage(f.Load, 6) / 100.0,
		headAverage(f.Prices, 6) / 100.0,
		float64(now.Hour()) / 24.0,
		float64(now.Weekday()) / 7.0,
		isWeekend,
		currentScore,
		state.PBessKw / 100.0,
		state.PPvKw / 100.0,
		state.PLoadKw / 100.0,
		state.PGridKw / 100.0,
	}
}

func headAverage(s forecast.Series, n int) float64 {
	if len(s) == 0 {
		return 0
	}
	if len(s) < n {
		n = len(s)
	}
	sum := 0.0
	for _, p := range s[:n] {
		sum += p.Value
	}
	return sum / float64(n)
}

// TrainingRecord pairs a feature vector with the strategy that performed best
// in that situation, joined from the history store.
type TrainingRecord struct {
	Features FeatureVector
	Strategy string
}

// minTrainingRecords is the minimum history size before the learned stage
// participates in selection.
const minTrainingRecords = 100

// Learned is a nearest-neighbour classifier over historical strategy
// outcomes. It is deliberately small: the selector consults it only after
// enough history exists and hysteresis still applies to its output.
type Learned struct {
	mu sync.RWMutex

	k       int
	records []TrainingRecord
	trained bool
}

func NewLearned() *Learned {
	return &Learned{k: 5}
}

// Trained reports whether the classifier has absorbed enough history.
func (l *Learned) Trained() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trained
}

// Train replaces the classifier's history. With fewer than 100 records the
// learned stage stays disabled.
func (l *Learned) Train(records []TrainingRecord) error {
	if len(records) < minTrainingRecords {
		return fmt.Errorf("insufficient training data: %d records (need at least %d)", len(records), minTrainingRecords)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]TrainingRecord(nil), records...)
	l.trained = true
	return nil
}

// Predict returns the majority strategy among the k nearest neighbours.
func (l *Learned) Predict(features FeatureVector) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.trained || len(l.records) == 0 {
		return "", false
	}

	type neighbour struct {
		distance float64
		strategy string
	}

	neighbours := make([]neighbour, 0, len(l.records))
	for _, r := range l.records {
		neighbours = append(neighbours, neighbour{
			distance: euclidean(features, r.Features),
			strategy: r.Strategy,
		})
	}
	sort.Slice(neighbours, func(i, j int) bool { return neighbours[i].distance < neighbours[j].distance })

	k := l.k
	if k > len(neighbours) {
		k = len(neighbours)
	}

	votes := make(map[string]int)
	for _, n := range neighbours[:k] {
		votes[n.strategy]++
	}

	best := ""
	bestVotes := 0
	for strategy, count := range votes {
		if count > bestVotes || (count == bestVotes && strategy < best) {
			best = strategy
			bestVotes = count
		}
	}
	return best, best != ""
}

func euclidean(a, b FeatureVector) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
