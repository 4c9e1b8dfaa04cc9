// Package optimizer computes economic charge/discharge schedules for a
// battery under physical constraints.
package optimizer

import (
	"log/slog"
	"sort"
	"time"

	"github.com/gridvolt/emscontroller/forecast"
)

// Solver and status labels carried in schedule results.
const (
	SolverLP       = "lp"
	SolverFallback = "fallback"

	StatusOptimal   = "optimal"
	StatusHeuristic = "heuristic"
	StatusNoData    = "no_data"
)

// Constraints are the physical battery limits the schedule must respect.
type Constraints struct {
	PChargeMaxKw      float64
	PDischargeMaxKw   float64
	EnergyCapacityKwh float64
	SocMinPct         float64
	SocMaxPct         float64
	EtaCharge         float64
	EtaDischarge      float64
	TimestepH         float64
}

// WithDefaults fills unset fields with the standard site parameters.
func (c Constraints) WithDefaults() Constraints {
	if c.PChargeMaxKw == 0 {
		c.PChargeMaxKw = 100.0
	}
	if c.PDischargeMaxKw == 0 {
		c.PDischargeMaxKw = 100.0
	}
	if c.EnergyCapacityKwh == 0 {
		c.EnergyCapacityKwh = 200.0
	}
	if c.SocMinPct == 0 && c.SocMaxPct == 0 {
		c.SocMinPct = 10.0
		c.SocMaxPct = 90.0
	}
	if c.EtaCharge == 0 {
		c.EtaCharge = 0.95
	}
	if c.EtaDischarge == 0 {
		c.EtaDischarge = 0.95
	}
	if c.TimestepH == 0 {
		c.TimestepH = 1.0
	}
	return c
}

// SchedulePoint is one step of a charge/discharge plan. The sign convention
// is positive = discharge.
type SchedulePoint struct {
	Time   time.Time
	PNetKw float64
}

// SocPoint is the state of charge after one schedule step.
type SocPoint struct {
	Time   time.Time
	SocPct float64
}

// Result is a schedule plus its aggregate metrics.
type Result struct {
	Schedule    []SchedulePoint
	SocSchedule []SocPoint

	ExpectedRevenue float64
	ExpectedCost    float64
	ExpectedProfit  float64

	EnergyChargedKwh    float64
	EnergyDischargedKwh float64
	Cycles              float64

	Status string
	Solver string
}

// Solver is the pluggable exact-optimization capability. The system stays
// correct with the heuristic alone; a solver upgrades schedule quality.
type Solver interface {
	Solve(prices forecast.Series, socPct float64, c Constraints) (*Result, error)
}

// Optimizer plans arbitrage schedules, preferring the exact solver and
// falling back to the price-quantile heuristic.
type Optimizer struct {
	solver Solver
}

func New() *Optimizer {
	return &Optimizer{solver: newGridSolver()}
}

// NewWithSolver builds an optimizer around a custom solver. A nil solver
// leaves only the heuristic.
func NewWithSolver(solver Solver) *Optimizer {
	return &Optimizer{solver: solver}
}

// OptimizeArbitrage returns a schedule with the same length and timestamps as
// the price series.
func (o *Optimizer) OptimizeArbitrage(prices forecast.Series, socPct float64, c Constraints) *Result {
	c = c.WithDefaults()

	if len(prices) == 0 {
		return &Result{Status: StatusNoData, Solver: SolverFallback}
	}

	if o.solver != nil {
		result, err := o.solver.Solve(prices, socPct, c)
		if err == nil {
			return result
		}
		slog.Warn("Exact solve failed, using heuristic", "error", err)
	}

	return heuristicArbitrage(prices, socPct, c)
}

// quantileByIndex picks the q-quantile of values using the sorted-index rule,
// e.g. q=0.25 selects sorted[n/4].
func quantileByIndex(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
