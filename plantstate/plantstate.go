package plantstate

import (
	"sync"
	"time"

	"github.com/gridvolt/emscontroller/telemetry"
)

// staleAfter is how long the store trusts the last live telemetry before the
// state flips to simulation.
const staleAfter = 120 * time.Second

// maxPoints bounds the in-memory history ring (about an hour at a 2s tick).
const maxPoints = 1800

// Point is one in-memory history entry, kept for the live charts and the
// power flow decomposition.
type Point struct {
	Timestamp time.Time
	Source    telemetry.Source
	SocPct    float64
	PBessKw   float64
	PPvKw     float64
	PLoadKw   float64
	PGridKw   float64
}

// Store holds the mutable plant state of one site plus a bounded ring of
// recent points. All access is mutex-guarded; Snapshot returns a copy.
type Store struct {
	mu sync.RWMutex

	state    telemetry.PlantState
	lastLive time.Time
	ring     []Point
}

func New(siteID string) *Store {
	return &Store{
		state: telemetry.PlantState{
			SiteID: siteID,
			Source: telemetry.SourceSimulation,
			Mode:   telemetry.ModeAuto,
		},
	}
}

// ApplySample merges a telemetry sample into the state and appends a history
// point. Live (non-simulation) samples refresh the staleness clock.
func (s *Store) ApplySample(sample telemetry.Sample) telemetry.PlantState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Apply(sample)
	if sample.Source != telemetry.SourceSimulation {
		s.lastLive = sample.Timestamp
	}
	s.append()

	return s.state
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() telemetry.PlantState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update runs fn on the state under the lock.
func (s *Store) Update(fn func(*telemetry.PlantState)) telemetry.PlantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}

// MarkStaleIfExpired flips the source to simulation when no live telemetry
// arrived within the staleness window. Returns true when the state is stale.
func (s *Store) MarkStaleIfExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastLive.IsZero() && now.Sub(s.lastLive) <= staleAfter {
		return false
	}
	s.state.Source = telemetry.SourceSimulation
	return true
}

// LastLive returns the timestamp of the last live sample, zero before any.
func (s *Store) LastLive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLive
}

// append records the current state in the ring. Caller holds the lock.
func (s *Store) append() {
	s.ring = append(s.ring, Point{
		Timestamp: s.state.Timestamp,
		Source:    s.state.Source,
		SocPct:    s.state.SocPct,
		PBessKw:   s.state.PBessKw,
		PPvKw:     s.state.PPvKw,
		PLoadKw:   s.state.PLoadKw,
		PGridKw:   s.state.PGridKw,
	})
	if len(s.ring) > maxPoints {
		s.ring = s.ring[len(s.ring)-maxPoints:]
	}
}

// Recent returns the points within the given window, newest last, capped at
// limit entries (0 means no cap).
func (s *Store) Recent(window time.Duration, limit int) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if len(s.ring) > 0 && window > 0 {
		cutoff = s.ring[len(s.ring)-1].Timestamp.Add(-window)
	}

	start := 0
	for i, p := range s.ring {
		if p.Timestamp.After(cutoff) || p.Timestamp.Equal(cutoff) {
			start = i
			break
		}
	}

	points := s.ring[start:]
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}

	out := make([]Point, len(points))
	copy(out, points)
	return out
}
