package optimizer

import (
	"math"

	"github.com/gridvolt/emscontroller/forecast"
)

// heuristicArbitrage charges below the 25th price percentile and discharges
// above the 75th, walking the SoC forward with the efficiency rules.
func heuristicArbitrage(prices forecast.Series, socPct float64, c Constraints) *Result {
	values := prices.Values()
	lowThreshold := quantileByIndex(values, 0.25)
	highThreshold := quantileByIndex(values, 0.75)

	dt := c.TimestepH
	soc := socPct

	result := &Result{
		Schedule:    make([]SchedulePoint, 0, len(prices)),
		SocSchedule: make([]SocPoint, 0, len(prices)),
		Status:      StatusHeuristic,
		Solver:      SolverFallback,
	}

	for _, p := range prices {
		pNet := 0.0

		switch {
		case p.Value <= lowThreshold && soc < c.SocMaxPct:
			pCharge := math.Min(c.PChargeMaxKw, (c.SocMaxPct-soc)/100.0*c.EnergyCapacityKwh/dt)
			pNet = -pCharge

			energyAdded := pCharge * c.EtaCharge * dt
			soc += energyAdded / c.EnergyCapacityKwh * 100.0

			result.ExpectedCost += pCharge * dt * p.Value / 1000.0
			result.EnergyChargedKwh += pCharge * dt

		case p.Value >= highThreshold && soc > c.SocMinPct:
			pDischarge := math.Min(c.PDischargeMaxKw, (soc-c.SocMinPct)/100.0*c.EnergyCapacityKwh/dt)
			pNet = pDischarge

			energyRemoved := pDischarge / c.EtaDischarge * dt
			soc -= energyRemoved / c.EnergyCapacityKwh * 100.0

			result.ExpectedRevenue += pDischarge * dt * p.Value / 1000.0
			result.EnergyDischargedKwh += pDischarge * dt
		}

		// clamp to avoid numeric drift
		soc = math.Max(c.SocMinPct, math.Min(c.SocMaxPct, soc))

		result.Schedule = append(result.Schedule, SchedulePoint{Time: p.Time, PNetKw: pNet})
		result.SocSchedule = append(result.SocSchedule, SocPoint{Time: p.Time, SocPct: soc})
	}

	result.ExpectedProfit = result.ExpectedRevenue - result.ExpectedCost
	result.Cycles = result.EnergyDischargedKwh / (2 * c.EnergyCapacityKwh)

	return result
}
