package strategy

import (
	"log/slog"
	"math"

	"github.com/gridvolt/emscontroller/optimizer"
)

// SelfConsumptionConfig carries the tariffs the savings estimate compares.
type SelfConsumptionConfig struct {
	GridTariffEurKwh   float64
	FeedinTariffEurKwh float64
}

func (c SelfConsumptionConfig) withDefaults() SelfConsumptionConfig {
	if c.GridTariffEurKwh == 0 {
		c.GridTariffEurKwh = 0.30
	}
	if c.FeedinTariffEurKwh == 0 {
		c.FeedinTariffEurKwh = 0.08
	}
	return c
}

// SelfConsumption buffers PV surplus in the battery and serves the local load
// from it, minimizing grid exchange.
type SelfConsumption struct {
	cfg SelfConsumptionConfig
}

func NewSelfConsumption(cfg SelfConsumptionConfig) *SelfConsumption {
	return &SelfConsumption{cfg: cfg.withDefaults()}
}

func (s *SelfConsumption) Name() string {
	return "self_consumption"
}

func (s *SelfConsumption) RequiredForecasts() []string {
	return []string{"pv", "load"}
}

// Evaluate scores self consumption by the PV level and the surplus/deficit
// balance.
func (s *SelfConsumption) Evaluate(ctx Context) float64 {
	if !hasRequired(s, ctx.Forecast) {
		return 0.0
	}

	pv := ctx.Forecast.PV.Values()
	load := ctx.Forecast.Load.Values()
	if len(pv) < 2 || len(load) < 2 {
		return 0.0
	}

	avgPv := meanOf(pv)
	if maxOf(pv) < 1.0 {
		// no appreciable generation
		return 0.0
	}

	n := len(pv)
	if len(load) < n {
		n = len(load)
	}
	surplusSum := 0.0
	deficitSum := 0.0
	for i := 0; i < n; i++ {
		surplusSum += math.Max(0, pv[i]-load[i])
		deficitSum += math.Max(0, load[i]-pv[i])
	}
	avgSurplus := surplusSum / float64(n)
	avgDeficit := deficitSum / float64(n)

	pvScore := math.Min(avgPv/10.0, 1.0)
	balanceScore := math.Min((avgSurplus+avgDeficit)/10.0, 1.0)

	score := pvScore*0.6 + balanceScore*0.4

	slog.Debug("Self consumption evaluation", "avg_pv_kw", avgPv, "score", score)

	return score
}

// Optimize charges with the PV surplus and discharges into the deficit. The
// emitted schedule follows the discharge-positive convention; the metadata
// energy totals are magnitudes.
func (s *SelfConsumption) Optimize(ctx Context) (*Result, error) {
	if !hasRequired(s, ctx.Forecast) {
		return emptyResult(s.Name()), nil
	}

	c := ctx.Constraints.WithDefaults()
	pvSeries := ctx.Forecast.PV
	loadSeries := ctx.Forecast.Load

	n := len(pvSeries)
	if len(loadSeries) < n {
		n = len(loadSeries)
	}

	schedule := make([]optimizer.SchedulePoint, 0, n)
	socSchedule := make([]optimizer.SocPoint, 0, n)
	soc := ctx.State.SocPct

	gridImport := 0.0
	gridExport := 0.0
	batteryCharge := 0.0
	batteryDischarge := 0.0

	for i := 0; i < n; i++ {
		pv := pvSeries[i].Value
		load := loadSeries[i].Value
		net := pv - load

		pBess := 0.0

		if net > 0 && soc < c.SocMaxPct {
			pCharge := math.Min(net, c.PChargeMaxKw)
			pBess = -pCharge
			batteryCharge += pCharge
			soc += 1.0
		} else if net < 0 && soc > c.SocMinPct {
			pDischarge := math.Min(-net, c.PDischargeMaxKw)
			pBess = pDischarge
			batteryDischarge += pDischarge
			soc -= 1.0
		}

		soc = clamp(soc, c.SocMinPct, c.SocMaxPct)

		remaining := net + pBess
		if remaining > 0 {
			gridExport += remaining
		} else {
			gridImport += -remaining
		}

		schedule = append(schedule, optimizer.SchedulePoint{Time: pvSeries[i].Time, PNetKw: pBess})
		socSchedule = append(socSchedule, optimizer.SocPoint{Time: pvSeries[i].Time, SocPct: soc})
	}

	totalPv := 0.0
	totalLoad := 0.0
	for i := 0; i < n; i++ {
		totalPv += pvSeries[i].Value
		totalLoad += loadSeries[i].Value
	}

	withoutBatteryImport := math.Max(0, totalLoad-totalPv)
	withoutBatteryExport := math.Max(0, totalPv-totalLoad)

	costWithout := withoutBatteryImport*s.cfg.GridTariffEurKwh - withoutBatteryExport*s.cfg.FeedinTariffEurKwh
	costWith := gridImport*s.cfg.GridTariffEurKwh - gridExport*s.cfg.FeedinTariffEurKwh

	savings := costWithout - costWith

	selfConsumptionRate := 0.0
	if totalPv > 0 {
		selfConsumptionRate = (totalPv - gridExport) / totalPv * 100.0
	}

	slog.Debug("Self consumption optimization", "savings_eur", savings, "self_consumption_pct", selfConsumptionRate)

	return &Result{
		StrategyName:   s.Name(),
		Schedule:       schedule,
		SocSchedule:    socSchedule,
		ExpectedCost:   costWith,
		ExpectedProfit: savings,
		Confidence:     0.75,
		Metadata: map[string]any{
			"total_pv_kwh":          totalPv,
			"total_load_kwh":        totalLoad,
			"grid_import_kwh":       gridImport,
			"grid_export_kwh":       gridExport,
			"battery_charge_kwh":    batteryCharge,
			"battery_discharge_kwh": batteryDischarge,
			"savings_eur":           savings,
			"self_consumption_rate": selfConsumptionRate,
		},
	}, nil
}
