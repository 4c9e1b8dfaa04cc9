package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/forecast"
	"github.com/gridvolt/emscontroller/telemetry"
)

func TestLearnedTrainGate(t *testing.T) {
	learned := NewLearned()
	assert.False(t, learned.Trained())

	_, ok := learned.Predict(FeatureVector{})
	assert.False(t, ok)

	short := make([]TrainingRecord, minTrainingRecords-1)
	assert.Error(t, learned.Train(short))
	assert.False(t, learned.Trained())

	enough := make([]TrainingRecord, minTrainingRecords)
	for i := range enough {
		enough[i] = TrainingRecord{Strategy: "arbitrage"}
	}
	require.NoError(t, learned.Train(enough))
	assert.True(t, learned.Trained())
}

func TestLearnedPredictMajority(t *testing.T) {
	near := func(v float64) FeatureVector {
		var f FeatureVector
		f[0] = v
		return f
	}

	records := make([]TrainingRecord, 0, minTrainingRecords)
	for i := 0; i < 60; i++ {
		records = append(records, TrainingRecord{
			Features: near(0.1 + float64(i%3)*0.01),
			Strategy: "peak_shaving",
		})
	}
	for i := 0; i < 60; i++ {
		records = append(records, TrainingRecord{
			Features: near(0.9 - float64(i%3)*0.01),
			Strategy: "arbitrage",
		})
	}

	learned := NewLearned()
	require.NoError(t, learned.Train(records))

	predicted, ok := learned.Predict(near(0.12))
	require.True(t, ok)
	assert.Equal(t, "peak_shaving", predicted)

	predicted, ok = learned.Predict(near(0.88))
	require.True(t, ok)
	assert.Equal(t, "arbitrage", predicted)
}

func TestExtractFeatures(t *testing.T) {
	now := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC) // a Saturday

	state := telemetry.PlantState{
		SocPct:       75,
		SohPct:       98,
		TemperatureC: 25,
		PriceEurMwh:  80,
		PBessKw:      50,
		PPvKw:        30,
		PLoadKw:      20,
		PGridKw:      -60,
	}

	start := now
	prices := forecast.Series{
		{Time: start, Value: 100},
		{Time: start.Add(time.Hour), Value: 100},
	}

	f := ExtractFeatures(state, forecast.Forecast{Prices: prices}, 0.42, now)

	assert.InDelta(t, 0.75, f[0], 1e-9)
	assert.InDelta(t, 0.98, f[1], 1e-9)
	assert.InDelta(t, 0.5, f[2], 1e-9)
	assert.InDelta(t, 0.0, f[3], 1e-9)  // flat trend
	assert.InDelta(t, 0.0, f[4], 1e-9)  // flat volatility
	assert.InDelta(t, 0.8, f[5], 1e-9)
	assert.InDelta(t, 0.0, f[6], 1e-9)  // no PV forecast
	assert.InDelta(t, 1.0, f[8], 1e-9)  // 100 EUR/MWh average
	assert.InDelta(t, 0.5, f[9], 1e-9)  // noon
	assert.InDelta(t, 1.0, f[11], 1e-9) // weekend
	assert.InDelta(t, 0.42, f[12], 1e-9)
	assert.InDelta(t, 0.5, f[13], 1e-9)
	assert.InDelta(t, -0.6, f[16], 1e-9)
}
