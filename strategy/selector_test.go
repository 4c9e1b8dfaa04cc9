package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	name  string
	score float64
}

func (s *stubStrategy) Name() string                 { return s.name }
func (s *stubStrategy) RequiredForecasts() []string  { return nil }
func (s *stubStrategy) Evaluate(ctx Context) float64 { return s.score }
func (s *stubStrategy) Optimize(ctx Context) (*Result, error) {
	return &Result{StrategyName: s.name}, nil
}

func TestSelectorInitialSelection(t *testing.T) {
	a := &stubStrategy{name: "a", score: 0.5}
	b := &stubStrategy{name: "b", score: 0.6}
	sel := NewSelector([]Strategy{a, b}, 0, nil)

	assert.Equal(t, "", sel.Current())

	strat, scores, change := sel.Select(Context{})

	assert.Equal(t, "b", strat.Name())
	assert.Equal(t, Scores{"a": 0.5, "b": 0.6}, scores)
	require.NotNil(t, change)
	assert.Equal(t, "", change.Old)
	assert.Equal(t, "b", change.New)
	assert.Equal(t, "initial", change.Reason)
	assert.Equal(t, "b", sel.Current())
}

func TestSelectorHysteresis(t *testing.T) {
	a := &stubStrategy{name: "a", score: 0.5}
	b := &stubStrategy{name: "b", score: 0.6}
	sel := NewSelector([]Strategy{a, b}, 0.15, nil)

	sel.Select(Context{})
	assert.Equal(t, "b", sel.Current())

	// a slight lead is not enough to switch
	a.score = 0.65
	strat, _, change := sel.Select(Context{})
	assert.Equal(t, "b", strat.Name())
	assert.Nil(t, change)

	// a clear lead is
	a.score = 0.80
	strat, _, change = sel.Select(Context{})
	assert.Equal(t, "a", strat.Name())
	require.NotNil(t, change)
	assert.Equal(t, "b", change.Old)
	assert.Equal(t, "a", change.New)
	assert.Equal(t, "score", change.Reason)
}

func TestSelectorManualPin(t *testing.T) {
	a := &stubStrategy{name: "a", score: 0.9}
	b := &stubStrategy{name: "b", score: 0.1}
	sel := NewSelector([]Strategy{a, b}, 0, nil)

	assert.Error(t, sel.SetManual("nope"))
	require.NoError(t, sel.SetManual("b"))
	assert.Equal(t, SelectionManual, sel.Mode())

	strat, scores, change := sel.Select(Context{})
	assert.Equal(t, "b", strat.Name())
	assert.Nil(t, scores)
	require.NotNil(t, change)
	assert.Equal(t, "manual", change.Reason)

	// pin holds on repeated cycles without further change records
	strat, _, change = sel.Select(Context{})
	assert.Equal(t, "b", strat.Name())
	assert.Nil(t, change)

	sel.SetAuto()
	assert.Equal(t, SelectionAuto, sel.Mode())
	strat, _, _ = sel.Select(Context{})
	assert.Equal(t, "a", strat.Name())
}

func TestSelectorLearnedOverride(t *testing.T) {
	a := &stubStrategy{name: "a", score: 0.9}
	b := &stubStrategy{name: "b", score: 0.1}

	learned := NewLearned()
	records := make([]TrainingRecord, minTrainingRecords)
	for i := range records {
		records[i] = TrainingRecord{Strategy: "b"}
	}
	require.NoError(t, learned.Train(records))

	// classifier beats the score ranking before any strategy is current
	sel := NewSelector([]Strategy{a, b}, 0.15, learned)
	strat, _, change := sel.Select(Context{})
	assert.Equal(t, "b", strat.Name())
	require.NotNil(t, change)
	assert.Equal(t, "initial", change.Reason)

	// once a is current, hysteresis still guards the classifier's pick
	sel = NewSelector([]Strategy{a, b}, 0.15, nil)
	sel.Select(Context{})
	assert.Equal(t, "a", sel.Current())

	sel.learned = learned
	strat, _, change = sel.Select(Context{})
	assert.Equal(t, "a", strat.Name())
	assert.Nil(t, change)
}

func TestSelectorList(t *testing.T) {
	sel := NewSelector([]Strategy{
		&stubStrategy{name: "x"},
		&stubStrategy{name: "y"},
	}, 0, nil)

	assert.Equal(t, []string{"x", "y"}, sel.List())
}
