package strategy

import (
	"fmt"
	"log/slog"
	"sync"
)

// SelectionMode says whether the selector picks strategies automatically or
// sticks to a pinned one.
type SelectionMode string

const (
	SelectionAuto   SelectionMode = "auto"
	SelectionManual SelectionMode = "manual"
)

// Scores maps strategy names to their evaluation scores.
type Scores map[string]float64

// Change records one strategy switch for the history store.
type Change struct {
	Old    string
	New    string
	Reason string
	Scores Scores
}

// Selector evaluates the registered strategies and picks one per optimization
// cycle, with hysteresis against flapping and an optional learned classifier.
type Selector struct {
	mu sync.Mutex

	registry map[string]Strategy
	order    []string

	current         string
	mode            SelectionMode
	manualName      string
	switchThreshold float64
	learned         *Learned
}

// NewSelector builds a selector over the given strategies. A zero
// switchThreshold takes the default of 0.15. learned may be nil.
func NewSelector(strategies []Strategy, switchThreshold float64, learned *Learned) *Selector {
	if switchThreshold == 0 {
		switchThreshold = 0.15
	}

	registry := make(map[string]Strategy, len(strategies))
	order := make([]string, 0, len(strategies))
	for _, s := range strategies {
		registry[s.Name()] = s
		order = append(order, s.Name())
	}

	return &Selector{
		registry:        registry,
		order:           order,
		mode:            SelectionAuto,
		switchThreshold: switchThreshold,
		learned:         learned,
	}
}

// List returns the registered strategy names in registration order.
func (s *Selector) List() []string {
	return append([]string(nil), s.order...)
}

// Current returns the currently selected strategy name, empty before the
// first selection.
func (s *Selector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetManual pins the named strategy.
func (s *Selector) SetManual(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry[name]; !ok {
		return fmt.Errorf("unknown strategy '%s'", name)
	}
	s.mode = SelectionManual
	s.manualName = name
	return nil
}

// SetAuto returns the selector to automatic selection.
func (s *Selector) SetAuto() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = SelectionAuto
}

// Mode returns the current selection mode.
func (s *Selector) Mode() SelectionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Select picks the strategy for this optimization cycle. The returned Change
// is non-nil when the selection switched strategies.
func (s *Selector) Select(ctx Context) (Strategy, Scores, *Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == SelectionManual {
		strat := s.registry[s.manualName]
		var change *Change
		if s.current != s.manualName {
			change = &Change{Old: s.current, New: s.manualName, Reason: "manual"}
			s.current = s.manualName
		}
		return strat, nil, change
	}

	scores := make(Scores, len(s.order))
	best := ""
	for _, name := range s.order {
		score := s.registry[name].Evaluate(ctx)
		scores[name] = score
		if best == "" || score > scores[best] {
			best = name
		}
	}

	candidate := best
	reason := "score"

	if s.learned != nil && s.learned.Trained() {
		features := ExtractFeatures(ctx.State, ctx.Forecast, scores[s.current], ctx.Now)
		if predicted, ok := s.learned.Predict(features); ok {
			if _, known := s.registry[predicted]; known {
				candidate = predicted
				reason = "classifier"
			}
		}
	}

	// hysteresis: only switch for a clearly better candidate
	if s.current != "" && candidate != s.current {
		if scores[candidate]-scores[s.current] < s.switchThreshold {
			candidate = s.current
		}
	}

	var change *Change
	if candidate != s.current {
		if s.current == "" {
			reason = "initial"
		}
		change = &Change{Old: s.current, New: candidate, Reason: reason, Scores: scores}
		slog.Info("Strategy switch", "old", s.current, "new", candidate, "reason", reason)
		s.current = candidate
	}

	return s.registry[candidate], scores, change
}
