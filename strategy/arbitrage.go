package strategy

import (
	"log/slog"
	"math"

	"github.com/gridvolt/emscontroller/optimizer"
)

// ArbitrageConfig tunes the arbitrage strategy.
type ArbitrageConfig struct {
	MinPriceSpreadEurMwh float64
	MinProfitEur         float64
}

func (c ArbitrageConfig) withDefaults() ArbitrageConfig {
	if c.MinPriceSpreadEurMwh == 0 {
		c.MinPriceSpreadEurMwh = 20.0
	}
	if c.MinProfitEur == 0 {
		c.MinProfitEur = 5.0
	}
	return c
}

// Arbitrage charges the battery at low day-ahead prices and discharges at
// high ones, planned by the optimizer.
type Arbitrage struct {
	cfg ArbitrageConfig
	opt *optimizer.Optimizer
}

func NewArbitrage(cfg ArbitrageConfig, opt *optimizer.Optimizer) *Arbitrage {
	return &Arbitrage{cfg: cfg.withDefaults(), opt: opt}
}

func (a *Arbitrage) Name() string {
	return "arbitrage"
}

func (a *Arbitrage) RequiredForecasts() []string {
	return []string{"prices"}
}

// Evaluate scores arbitrage by the price spread and volatility of the window.
func (a *Arbitrage) Evaluate(ctx Context) float64 {
	if !hasRequired(a, ctx.Forecast) {
		return 0.0
	}

	prices := ctx.Forecast.Prices
	if len(prices) < 4 {
		// too little time for a sensible charge/discharge cycle
		return 0.1
	}

	values := prices.Values()
	spread := maxOf(values) - minOf(values)

	spreadScore := math.Min(spread/100.0, 1.0)
	if spread < a.cfg.MinPriceSpreadEurMwh {
		spreadScore *= 0.5
	}

	volatilityScore := math.Min(stdOf(values)/30.0, 1.0)

	score := spreadScore*0.7 + volatilityScore*0.3

	slog.Debug("Arbitrage evaluation", "spread_eur_mwh", spread, "score", score)

	return score
}

func (a *Arbitrage) Optimize(ctx Context) (*Result, error) {
	if !hasRequired(a, ctx.Forecast) {
		return emptyResult(a.Name()), nil
	}

	prices := ctx.Forecast.Prices
	opt := a.opt.OptimizeArbitrage(prices, ctx.State.SocPct, ctx.Constraints)

	values := prices.Values()

	return &Result{
		StrategyName:    a.Name(),
		Schedule:        opt.Schedule,
		SocSchedule:     opt.SocSchedule,
		ExpectedRevenue: opt.ExpectedRevenue,
		ExpectedCost:    opt.ExpectedCost,
		ExpectedProfit:  opt.ExpectedProfit,
		Confidence:      a.confidence(opt),
		Metadata: map[string]any{
			"energy_charged_kwh":    opt.EnergyChargedKwh,
			"energy_discharged_kwh": opt.EnergyDischargedKwh,
			"cycles":                opt.Cycles,
			"optimization_status":   opt.Status,
			"solver":                opt.Solver,
			"price_spread":          maxOf(values) - minOf(values),
		},
	}, nil
}

func (a *Arbitrage) confidence(opt *optimizer.Result) float64 {
	var confidence float64
	switch {
	case opt.Solver == optimizer.SolverLP && opt.Status == optimizer.StatusOptimal:
		confidence = 1.0
	case opt.Solver == optimizer.SolverLP:
		confidence = 0.85
	default:
		confidence = 0.7
	}

	if opt.ExpectedProfit < a.cfg.MinProfitEur {
		confidence *= 0.6
	}
	return confidence
}
