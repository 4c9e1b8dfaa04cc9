package controller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridvolt/emscontroller/forecast"
	"github.com/gridvolt/emscontroller/history"
	"github.com/gridvolt/emscontroller/optimizer"
	"github.com/gridvolt/emscontroller/plantstate"
	"github.com/gridvolt/emscontroller/powerctrl"
	"github.com/gridvolt/emscontroller/strategy"
	"github.com/gridvolt/emscontroller/telemetry"
)

const (
	// simSampleInterval throttles how often the controller synthesizes
	// simulation samples while telemetry is stale.
	simSampleInterval = 10 * time.Second

	// historyInterval is how often the plant state is persisted.
	historyInterval = 5 * time.Minute
)

// Config configures one site controller.
type Config struct {
	SiteID               string
	Timestep             time.Duration
	OptimizationInterval time.Duration
	Constraints          optimizer.Constraints
	Mode                 telemetry.Mode
}

func (c Config) withDefaults() Config {
	if c.Timestep == 0 {
		c.Timestep = 2 * time.Second
	}
	if c.OptimizationInterval == 0 {
		c.OptimizationInterval = 15 * time.Minute
	}
	if c.Mode == "" {
		c.Mode = telemetry.ModeAuto
	}
	c.Constraints = c.Constraints.WithDefaults()
	return c
}

// Plan is the currently active battery schedule.
type Plan struct {
	Strategy    string
	GeneratedAt time.Time
	Schedule    []optimizer.SchedulePoint
	SocSchedule []optimizer.SocPoint
	Result      *strategy.Result
}

// Deps are the collaborators of one controller. Engine, History and Learned
// may be nil.
type Deps struct {
	Forecast *forecast.Aggregator
	Selector *strategy.Selector
	Power    *powerctrl.Manager
	Engine   powerctrl.Writer
	History  *history.Store
	Learned  *strategy.Learned
}

// Controller runs the control loop of one site: it consumes telemetry
// samples, re-optimizes the battery schedule on an interval and pushes the
// limited setpoint to the inverter on every tick.
//
// Feed telemetry into the Samples channel; subscribers receive a state
// snapshot after every tick.
type Controller struct {
	Samples chan telemetry.Sample

	cfg   Config
	state *plantstate.Store
	deps  Deps

	mu            sync.Mutex
	plan          *Plan
	lastForecast  forecast.Forecast
	lastScores    strategy.Scores
	lastSimSample time.Time
	lastHistory   time.Time
	lastDay       string

	subsMu sync.Mutex
	subs   map[chan telemetry.PlantState]struct{}

	// injectable tick sources, for tests
	ticks    <-chan time.Time
	optTicks <-chan time.Time
	now      func() time.Time
}

func New(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()

	c := &Controller{
		Samples: make(chan telemetry.Sample, 25),
		cfg:     cfg,
		state:   plantstate.New(cfg.SiteID),
		deps:    deps,
		subs:    make(map[chan telemetry.PlantState]struct{}),
		now:     time.Now,
	}
	c.state.Update(func(s *telemetry.PlantState) {
		s.Mode = cfg.Mode
	})
	return c
}

// Run drives the control and optimization loops until the context is
// cancelled. An optimization runs immediately on startup.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("Site controller starting", "site", c.cfg.SiteID, "timestep", c.cfg.Timestep)

	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(c.cfg.Timestep)
		defer ticker.Stop()
		ticks = ticker.C
	}

	optTicks := c.optTicks
	if optTicks == nil {
		optTicker := time.NewTicker(c.cfg.OptimizationInterval)
		defer optTicker.Stop()
		optTicks = optTicker.C
	}

	c.runOptimization(ctx, c.now())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Site controller stopping", "site", c.cfg.SiteID)
			return
		case sample := <-c.Samples:
			c.state.ApplySample(sample)
			if len(sample.Raw) > 0 {
				c.deps.Power.IngestStatus(sample.Raw, sample.Timestamp)
			}
		case t := <-ticks:
			c.runTick(t)
		case t := <-optTicks:
			c.runOptimization(ctx, t)
		}
	}
}

// runTick executes one control cycle: staleness check, planned setpoint
// lookup, limit enforcement, state update and inverter write.
func (c *Controller) runTick(t time.Time) {
	stale := c.state.MarkStaleIfExpired(t)
	snapshot := c.state.Snapshot()

	requested := c.plannedSetpoint(t)
	if snapshot.Mode == telemetry.ModeIdle {
		requested = 0
	}

	decision := c.deps.Power.Decide(requested, c.cfg.Constraints, snapshot.PPvKw, t)
	signals := c.deps.Power.Signals()

	snapshot = c.state.Update(func(s *telemetry.PlantState) {
		s.SetpointKw = decision.EffectiveKw
		s.PowerLimitReason = decision.Reason
		s.DsoTrip = signals.DsoTrip
		s.SafetyAlarm = signals.SafetyAlarm
		s.DsoLimitPct = signals.DsoLimitPct
		s.RemoteShutdownRequested = decision.Shutdown
		if decision.LimitKw != nil {
			limitW := *decision.LimitKw * 1000.0
			s.ActivePowerLimitW = &limitW
		} else {
			s.ActivePowerLimitW = nil
		}
	})

	if stale {
		c.simulate(t, snapshot, decision.EffectiveKw)
	}

	c.persistTick(t, snapshot)

	c.deps.Power.Apply(c.deps.Engine, decision)
	c.broadcast(snapshot)
}

// simulate synthesizes a simulation sample from the last known state and the
// effective setpoint, at most once per simSampleInterval.
func (c *Controller) simulate(t time.Time, snapshot telemetry.PlantState, setpointKw float64) {
	c.mu.Lock()
	if t.Sub(c.lastSimSample) < simSampleInterval {
		c.mu.Unlock()
		return
	}
	last := c.lastSimSample
	c.lastSimSample = t
	c.mu.Unlock()

	soc := snapshot.SocPct
	if !last.IsZero() && c.cfg.Constraints.EnergyCapacityKwh > 0 {
		dtH := t.Sub(last).Hours()
		soc -= setpointKw * dtH / c.cfg.Constraints.EnergyCapacityKwh * 100.0
		soc = math.Max(c.cfg.Constraints.SocMinPct, math.Min(c.cfg.Constraints.SocMaxPct, soc))
	}

	pGrid := snapshot.PLoadKw - snapshot.PPvKw - setpointKw

	sample := telemetry.Sample{
		ID:        uuid.New(),
		Timestamp: t,
		Source:    telemetry.SourceSimulation,
		SocPct:    telemetry.Float(soc),
		PBessKw:   telemetry.Float(setpointKw),
		PPvKw:     telemetry.Float(snapshot.PPvKw),
		PLoadKw:   telemetry.Float(snapshot.PLoadKw),
		PGridKw:   telemetry.Float(pGrid),
	}
	c.state.ApplySample(sample)
}

// persistTick appends the state to the history store on an interval and
// rolls the previous day up when the date changes.
func (c *Controller) persistTick(t time.Time, snapshot telemetry.PlantState) {
	if c.deps.History == nil {
		return
	}

	c.mu.Lock()
	appendDue := c.lastHistory.IsZero() || t.Sub(c.lastHistory) >= historyInterval
	if appendDue {
		c.lastHistory = t
	}
	day := t.UTC().Format("2006-01-02")
	rolloverDue := c.lastDay != "" && day != c.lastDay
	prevDay := c.lastDay
	c.lastDay = day
	c.mu.Unlock()

	if appendDue {
		if err := c.deps.History.AppendState(snapshot); err != nil {
			slog.Warn("State history append failed", "site", c.cfg.SiteID, "error", err)
		}
	}

	if rolloverDue {
		prev, err := time.Parse("2006-01-02", prevDay)
		if err == nil {
			_, err = c.deps.History.CalculateDailyMetrics(c.cfg.SiteID, prev, c.cfg.Constraints.EnergyCapacityKwh)
		}
		if err != nil {
			slog.Warn("Daily metrics rollup failed", "site", c.cfg.SiteID, "day", prevDay, "error", err)
		}
	}
}

// plannedSetpoint returns the schedule entry closest to t, zero without a
// plan.
func (c *Controller) plannedSetpoint(t time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.plan == nil || len(c.plan.Schedule) == 0 {
		return 0
	}

	best := c.plan.Schedule[0]
	bestDist := absDuration(t.Sub(best.Time))
	for _, point := range c.plan.Schedule[1:] {
		if d := absDuration(t.Sub(point.Time)); d < bestDist {
			best = point
			bestDist = d
		}
	}
	return best.PNetKw
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// runOptimization refreshes the forecast, selects a strategy and replaces
// the plan. On failure the previous plan stays in force.
func (c *Controller) runOptimization(ctx context.Context, t time.Time) {
	c.maybeTrainLearned()

	fc := c.deps.Forecast.Fetch(ctx)
	snapshot := c.state.Snapshot()

	if price, ok := fc.Prices.At(t); ok {
		snapshot = c.state.Update(func(s *telemetry.PlantState) {
			s.PriceEurMwh = price
		})
	}

	sctx := strategy.Context{
		State:       snapshot,
		Forecast:    fc,
		Constraints: c.cfg.Constraints,
		Now:         t,
	}

	strat, scores, change := c.deps.Selector.Select(sctx)
	if change != nil && c.deps.History != nil {
		if err := c.deps.History.AppendStrategyChange(c.cfg.SiteID, t, *change); err != nil {
			slog.Warn("Strategy change append failed", "site", c.cfg.SiteID, "error", err)
		}
	}

	result, err := strat.Optimize(sctx)

	status := telemetry.OptimizationSuccess
	if err != nil || result == nil || len(result.Schedule) == 0 {
		status = telemetry.OptimizationFailed
		slog.Warn("Optimization failed, keeping previous plan",
			"site", c.cfg.SiteID, "strategy", strat.Name(), "error", err)
	}

	c.mu.Lock()
	c.lastForecast = fc
	c.lastScores = scores
	if status == telemetry.OptimizationSuccess {
		c.plan = &Plan{
			Strategy:    strat.Name(),
			GeneratedAt: t,
			Schedule:    result.Schedule,
			SocSchedule: result.SocSchedule,
			Result:      result,
		}
	}
	c.mu.Unlock()

	c.state.Update(func(s *telemetry.PlantState) {
		s.ActiveStrategy = strat.Name()
		s.OptimizationStatus = status
	})

	if c.deps.History != nil && result != nil {
		features := strategy.ExtractFeatures(snapshot, fc, scores[strat.Name()], t)
		solver, _ := result.Metadata["solver"].(string)
		err := c.deps.History.AppendOptimization(c.cfg.SiteID, t, result, string(status), solver, &features)
		if err != nil {
			slog.Warn("Optimization record append failed", "site", c.cfg.SiteID, "error", err)
		}
	}

	if status == telemetry.OptimizationSuccess {
		slog.Info("Optimization complete",
			"site", c.cfg.SiteID,
			"strategy", strat.Name(),
			"expected_profit_eur", result.ExpectedProfit,
			"schedule_points", len(result.Schedule))
	}
}

// maybeTrainLearned feeds the learned selector from the persisted
// optimization history until it has trained.
func (c *Controller) maybeTrainLearned() {
	if c.deps.Learned == nil || c.deps.History == nil || c.deps.Learned.Trained() {
		return
	}

	records, err := c.deps.History.TrainingRecords(c.cfg.SiteID, 1000)
	if err != nil {
		slog.Warn("Training record load failed", "site", c.cfg.SiteID, "error", err)
		return
	}
	if err := c.deps.Learned.Train(records); err != nil {
		slog.Debug("Learned selector not yet trainable", "site", c.cfg.SiteID, "error", err)
		return
	}
	slog.Info("Learned selector trained", "site", c.cfg.SiteID, "records", len(records))
}

// State returns a snapshot of the plant state.
func (c *Controller) State() telemetry.PlantState {
	return c.state.Snapshot()
}

// Plan returns the active plan, nil before the first successful
// optimization.
func (c *Controller) Plan() *Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Scores returns the evaluation scores of the last selection cycle.
func (c *Controller) Scores() strategy.Scores {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScores
}

// RecentTelemetry returns the in-memory history of the given window.
func (c *Controller) RecentTelemetry(window time.Duration, limit int) []plantstate.Point {
	return c.state.Recent(window, limit)
}

// PowerFlow decomposes the recent history into the plant energy flows.
func (c *Controller) PowerFlow(window time.Duration) plantstate.FlowReport {
	return c.state.PowerFlow(window)
}

// Strategies lists the registered strategy names.
func (c *Controller) Strategies() []string {
	return c.deps.Selector.List()
}

// SetManualStrategy pins the named strategy and switches to manual mode.
func (c *Controller) SetManualStrategy(name string) error {
	if err := c.deps.Selector.SetManual(name); err != nil {
		return err
	}
	c.state.Update(func(s *telemetry.PlantState) {
		s.Mode = telemetry.ModeManual
	})
	return nil
}

// SetAutoMode returns strategy selection to automatic.
func (c *Controller) SetAutoMode() {
	c.deps.Selector.SetAuto()
	c.state.Update(func(s *telemetry.PlantState) {
		s.Mode = telemetry.ModeAuto
	})
}

// SetIdle stops dispatching: the requested setpoint stays zero until the
// mode changes back.
func (c *Controller) SetIdle() {
	c.state.Update(func(s *telemetry.PlantState) {
		s.Mode = telemetry.ModeIdle
	})
}

// Subscribe returns a channel receiving a state snapshot after every tick.
// Slow subscribers miss snapshots rather than blocking the control loop.
func (c *Controller) Subscribe() chan telemetry.PlantState {
	ch := make(chan telemetry.PlantState, 10)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Controller) Unsubscribe(ch chan telemetry.PlantState) {
	c.subsMu.Lock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
	c.subsMu.Unlock()
}

func (c *Controller) broadcast(state telemetry.PlantState) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
