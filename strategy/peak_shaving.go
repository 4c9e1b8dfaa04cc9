package strategy

import (
	"log/slog"
	"math"

	"github.com/gridvolt/emscontroller/optimizer"
)

// PeakShavingConfig tunes the peak shaving strategy.
type PeakShavingConfig struct {
	ThresholdPercentile float64
}

func (c PeakShavingConfig) withDefaults() PeakShavingConfig {
	if c.ThresholdPercentile == 0 {
		c.ThresholdPercentile = 75.0
	}
	return c
}

// PeakShaving discharges during forecast load peaks and recharges in the
// off-peak valleys.
type PeakShaving struct {
	cfg PeakShavingConfig
}

func NewPeakShaving(cfg PeakShavingConfig) *PeakShaving {
	return &PeakShaving{cfg: cfg.withDefaults()}
}

func (p *PeakShaving) Name() string {
	return "peak_shaving"
}

func (p *PeakShaving) RequiredForecasts() []string {
	return []string{"load"}
}

// Evaluate scores peak shaving by the peak intensity and volatility of the
// load forecast.
func (p *PeakShaving) Evaluate(ctx Context) float64 {
	if !hasRequired(p, ctx.Forecast) {
		return 0.0
	}

	values := ctx.Forecast.Load.Values()
	if len(values) < 2 {
		return 0.0
	}

	mean := meanOf(values)
	if mean == 0 {
		return 0.0
	}

	peakRatio := (maxOf(values) - mean) / mean
	cv := stdOf(values) / mean

	score := math.Min(peakRatio*2, 1.0)*0.6 + math.Min(cv*3, 1.0)*0.4

	slog.Debug("Peak shaving evaluation", "peak_ratio", peakRatio, "cv", cv, "score", score)

	return math.Min(score, 1.0)
}

// Optimize discharges `load - threshold` above the percentile threshold and
// charges at half the threshold power when the load falls below 70% of it.
func (p *PeakShaving) Optimize(ctx Context) (*Result, error) {
	if !hasRequired(p, ctx.Forecast) {
		return emptyResult(p.Name()), nil
	}

	c := ctx.Constraints.WithDefaults()
	load := ctx.Forecast.Load
	values := load.Values()

	threshold := percentileOf(values, p.cfg.ThresholdPercentile)

	schedule := make([]optimizer.SchedulePoint, 0, len(load))
	socSchedule := make([]optimizer.SocPoint, 0, len(load))
	soc := ctx.State.SocPct

	for _, point := range load {
		pNet := 0.0

		if point.Value > threshold && soc > c.SocMinPct {
			pNet = math.Min(c.PDischargeMaxKw, point.Value-threshold)
			soc -= 2.0
		} else if point.Value < threshold*0.7 && soc < c.SocMaxPct {
			pNet = -math.Min(c.PChargeMaxKw, threshold*0.5)
			soc += 2.0
		}

		soc = clamp(soc, c.SocMinPct, c.SocMaxPct)

		schedule = append(schedule, optimizer.SchedulePoint{Time: point.Time, PNetKw: pNet})
		socSchedule = append(socSchedule, optimizer.SocPoint{Time: point.Time, SocPct: soc})
	}

	peakReduction := maxOf(values) - threshold
	estimatedSavings := peakReduction * 0.15 * float64(len(load)) / 24.0

	slog.Debug("Peak shaving optimization", "threshold_kw", threshold, "reduction_kw", peakReduction)

	return &Result{
		StrategyName:   p.Name(),
		Schedule:       schedule,
		SocSchedule:    socSchedule,
		ExpectedProfit: estimatedSavings,
		Confidence:     0.7,
		Metadata: map[string]any{
			"peak_threshold_kw":           threshold,
			"max_load_kw":                 maxOf(values),
			"estimated_peak_reduction_kw": peakReduction,
			"estimated_savings_eur":       estimatedSavings,
		},
	}, nil
}
