package optimizer

import (
	"fmt"
	"math"

	"github.com/gridvolt/emscontroller/forecast"
)

// gridSolver maximizes the arbitrage profit
//
//	max Σ_t (p_d[t] - p_c[t]) · dt · price[t]/1000
//
// subject to the energy balance E[t+1] = E[t] + (η_c·p_c - p_d/η_d)·dt and
// the power and SoC box constraints, by dynamic programming over a uniformly
// discretized energy axis. The objective and constraints are linear, so the
// discretized optimum converges on the LP optimum as the grid refines.
type gridSolver struct {
	levels int
}

func newGridSolver() *gridSolver {
	return &gridSolver{levels: 401}
}

func (g *gridSolver) Solve(prices forecast.Series, socPct float64, c Constraints) (*Result, error) {
	n := len(prices)
	if n == 0 {
		return nil, fmt.Errorf("no prices")
	}
	if c.EnergyCapacityKwh <= 0 || c.SocMaxPct <= c.SocMinPct {
		return nil, fmt.Errorf("invalid constraints")
	}

	levels := g.levels
	if levels < 2 {
		levels = 2
	}

	eMin := c.SocMinPct / 100.0 * c.EnergyCapacityKwh
	eMax := c.SocMaxPct / 100.0 * c.EnergyCapacityKwh
	eStep := (eMax - eMin) / float64(levels-1)
	dt := c.TimestepH

	energyAt := func(i int) float64 { return eMin + float64(i)*eStep }

	eStart := socPct / 100.0 * c.EnergyCapacityKwh
	eStart = math.Max(eMin, math.Min(eMax, eStart))
	startIdx := int(math.Round((eStart - eMin) / eStep))

	// stepReward returns the profit of moving from energy level i to j at
	// the given price, or false when the move exceeds a power limit.
	stepReward := func(i, j int, price float64) (float64, bool) {
		dE := energyAt(j) - energyAt(i)
		switch {
		case dE > 0:
			pCharge := dE / (c.EtaCharge * dt)
			if pCharge > c.PChargeMaxKw+1e-9 {
				return 0, false
			}
			return -pCharge * dt * price / 1000.0, true
		case dE < 0:
			pDischarge := -dE * c.EtaDischarge / dt
			if pDischarge > c.PDischargeMaxKw+1e-9 {
				return 0, false
			}
			return pDischarge * dt * price / 1000.0, true
		default:
			return 0, true
		}
	}

	// value[t][i]: best profit from step t onward starting at level i
	value := make([][]float64, n+1)
	choice := make([][]int, n)
	value[n] = make([]float64, levels)
	for t := n - 1; t >= 0; t-- {
		value[t] = make([]float64, levels)
		choice[t] = make([]int, levels)
		price := prices[t].Value
		for i := 0; i < levels; i++ {
			best := math.Inf(-1)
			bestJ := i
			for j := 0; j < levels; j++ {
				reward, ok := stepReward(i, j, price)
				if !ok {
					continue
				}
				total := reward + value[t+1][j]
				if total > best {
					best = total
					bestJ = j
				}
			}
			value[t][i] = best
			choice[t][i] = bestJ
		}
	}

	result := &Result{
		Schedule:    make([]SchedulePoint, 0, n),
		SocSchedule: make([]SocPoint, 0, n),
		Status:      StatusOptimal,
		Solver:      SolverLP,
	}

	idx := startIdx
	for t := 0; t < n; t++ {
		next := choice[t][idx]
		dE := energyAt(next) - energyAt(idx)

		pNet := 0.0
		if dE > 0 {
			pCharge := dE / (c.EtaCharge * dt)
			pNet = -pCharge
			result.ExpectedCost += pCharge * dt * prices[t].Value / 1000.0
			result.EnergyChargedKwh += pCharge * dt
		} else if dE < 0 {
			pDischarge := -dE * c.EtaDischarge / dt
			pNet = pDischarge
			result.ExpectedRevenue += pDischarge * dt * prices[t].Value / 1000.0
			result.EnergyDischargedKwh += pDischarge * dt
		}

		result.Schedule = append(result.Schedule, SchedulePoint{Time: prices[t].Time, PNetKw: pNet})
		result.SocSchedule = append(result.SocSchedule, SocPoint{
			Time:   prices[t].Time,
			SocPct: energyAt(next) / c.EnergyCapacityKwh * 100.0,
		})
		idx = next
	}

	result.ExpectedProfit = result.ExpectedRevenue - result.ExpectedCost
	result.Cycles = result.EnergyDischargedKwh / (2 * c.EnergyCapacityKwh)

	return result, nil
}
