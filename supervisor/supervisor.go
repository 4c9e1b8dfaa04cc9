package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gridvolt/emscontroller/config"
	"github.com/gridvolt/emscontroller/controller"
	"github.com/gridvolt/emscontroller/forecast"
	"github.com/gridvolt/emscontroller/history"
	"github.com/gridvolt/emscontroller/modbuspoll"
	"github.com/gridvolt/emscontroller/mqttingest"
	"github.com/gridvolt/emscontroller/optimizer"
	"github.com/gridvolt/emscontroller/powerctrl"
	"github.com/gridvolt/emscontroller/strategy"
	"github.com/gridvolt/emscontroller/telemetry"
)

// Site bundles one site's controller with its telemetry sources.
type Site struct {
	ID         string
	Name       string
	Controller *controller.Controller

	capacityKwh float64

	poller   *modbuspoll.Poller
	ingestor *mqttingest.Ingestor
	history  *history.Store
}

// AggregatedState is the fleet-level view across all sites.
type AggregatedState struct {
	Sites           int
	SocPct          float64
	PBessKw         float64
	PPvKw           float64
	PLoadKw         float64
	PGridKw         float64
	PriceEurMwh     float64
	CapacityKwh     float64
	AlarmSites      []string
	SimulationSites []string
}

// Supervisor owns one controller per configured site and fans telemetry into
// them. A site that fails to construct is skipped; the rest keep running.
type Supervisor struct {
	mu    sync.RWMutex
	sites map[string]*Site
	order []string
}

// New builds the per-site stacks from the configuration. At least one site
// must construct successfully.
func New(cfg config.Config) (*Supervisor, error) {
	s := &Supervisor{sites: make(map[string]*Site)}

	for _, siteCfg := range cfg.Sites {
		site, err := buildSite(siteCfg)
		if err != nil {
			slog.Error("Site construction failed, skipping", "site", siteCfg.ID, "error", err)
			continue
		}
		s.sites[site.ID] = site
		s.order = append(s.order, site.ID)
	}

	if len(s.sites) == 0 {
		return nil, fmt.Errorf("no usable sites")
	}
	return s, nil
}

func buildSite(cfg config.SiteConfig) (*Site, error) {
	constraints := optimizer.Constraints{
		PChargeMaxKw:      cfg.Bess.PChargeMaxKw,
		PDischargeMaxKw:   cfg.Bess.PDischargeMaxKw,
		EnergyCapacityKwh: cfg.Bess.EnergyCapacityKwh,
		SocMinPct:         cfg.Bess.SocMinPct,
		SocMaxPct:         cfg.Bess.SocMaxPct,
		EtaCharge:         cfg.Bess.EtaCharge,
		EtaDischarge:      cfg.Bess.EtaDischarge,
	}.WithDefaults()

	strategies, err := buildStrategies(cfg.Strategies)
	if err != nil {
		return nil, err
	}

	var learned *strategy.Learned
	if cfg.EMS.LearnedSelection {
		learned = strategy.NewLearned()
	}
	selector := strategy.NewSelector(strategies, cfg.EMS.SwitchThreshold, learned)

	aggregator, err := buildAggregator(cfg)
	if err != nil {
		return nil, err
	}

	power, err := buildPowerControl(cfg.PowerControl)
	if err != nil {
		return nil, err
	}

	store, err := history.New(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	site := &Site{
		ID:          cfg.ID,
		Name:        cfg.Name,
		capacityKwh: constraints.EnergyCapacityKwh,
		history:     store,
	}

	deps := controller.Deps{
		Forecast: aggregator,
		Selector: selector,
		Power:    power,
		History:  store,
		Learned:  learned,
	}

	if cfg.Modbus.Enabled {
		poller, err := modbuspoll.New(modbuspoll.Config{
			ProfileName: cfg.Modbus.Profile,
			Connection:  cfg.Modbus.Connection(),
			SyncClock:   cfg.Modbus.SyncClock,
		})
		if err != nil {
			return nil, fmt.Errorf("build modbus poller: %w", err)
		}
		site.poller = poller
		deps.Engine = poller.Engine()
	}

	if cfg.Mqtt.Enabled {
		site.ingestor = mqttingest.New(mqttingest.Config{
			BrokerURL: cfg.Mqtt.BrokerURL,
			ClientID:  cfg.Mqtt.ClientID,
			Topic:     cfg.Mqtt.Topic,
			QoS:       byte(cfg.Mqtt.QoS),
			Username:  cfg.Mqtt.Username,
			Password:  cfg.Mqtt.Password,
		})
	}

	site.Controller = controller.New(controller.Config{
		SiteID:               cfg.ID,
		Timestep:             time.Duration(cfg.EMS.TimestepSecs) * time.Second,
		OptimizationInterval: time.Duration(cfg.EMS.OptimizationIntervalSecs) * time.Second,
		Constraints:          constraints,
		Mode:                 telemetry.Mode(cfg.EMS.Mode),
	}, deps)

	return site, nil
}

func buildStrategies(cfg config.StrategiesConfig) ([]strategy.Strategy, error) {
	available := map[string]strategy.Strategy{
		"arbitrage": strategy.NewArbitrage(strategy.ArbitrageConfig{
			MinPriceSpreadEurMwh: cfg.ArbitrageMinSpreadEurMwh,
			MinProfitEur:         cfg.ArbitrageMinProfitEur,
		}, optimizer.New()),
		"peak_shaving": strategy.NewPeakShaving(strategy.PeakShavingConfig{
			ThresholdPercentile: cfg.PeakThresholdPercentile,
		}),
		"self_consumption": strategy.NewSelfConsumption(strategy.SelfConsumptionConfig{
			GridTariffEurKwh:   cfg.GridTariffEurKwh,
			FeedinTariffEurKwh: cfg.FeedinTariffEurKwh,
		}),
		"load_balancing": strategy.NewLoadBalancing(strategy.LoadBalancingConfig{
			SmoothingWindow: cfg.SmoothingWindow,
		}),
	}

	strategies := make([]strategy.Strategy, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		strat, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown strategy '%s'", name)
		}
		strategies = append(strategies, strat)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}
	return strategies, nil
}

func buildAggregator(cfg config.SiteConfig) (*forecast.Aggregator, error) {
	var prices forecast.PriceProvider
	if !cfg.Prices.DemoMode {
		client, err := forecast.NewAwattarClient(cfg.Prices.Region)
		if err != nil {
			return nil, err
		}
		prices = client
	}

	pv := forecast.NewWeatherPV(nil, cfg.Forecast.PVPeakKw, cfg.Forecast.PVEfficiency)
	load := forecast.NewSeasonalLoad()

	return forecast.NewAggregator(prices, pv, load, cfg.Prices.DemoMode), nil
}

func buildPowerControl(cfg config.PowerControlConfig) (*powerctrl.Manager, error) {
	rules, err := cfg.FeedIn.ParsedRules()
	if err != nil {
		return nil, err
	}

	pcCfg := powerctrl.Config{
		Enabled:    cfg.Enabled,
		AutoWrite:  cfg.AutoWrite,
		MaxPowerKw: cfg.MaxPowerKw,
		FeedIn: powerctrl.FeedInConfig{
			Mode:          powerctrl.FeedInMode(cfg.FeedIn.Mode),
			FixedLimitPct: cfg.FeedIn.FixedLimitPct,
			PVIntegration: cfg.FeedIn.PVIntegration,
		},
	}
	if pcCfg.FeedIn.Mode == "" {
		pcCfg.FeedIn.Mode = powerctrl.FeedInOff
	}
	for _, rule := range rules {
		pcCfg.FeedIn.Rules = append(pcCfg.FeedIn.Rules, powerctrl.FeedInRule{
			Window:   rule.Window,
			LimitPct: rule.LimitPct,
		})
	}

	if sig := cfg.DsoTrip; sig != nil {
		pcCfg.Signals.DsoTrip = &powerctrl.SignalConfig{Register: sig.Register, Mask: sig.Mask, Equals: sig.Equals}
	}
	if sig := cfg.SafetyAlarm; sig != nil {
		pcCfg.Signals.SafetyAlarm = &powerctrl.SignalConfig{Register: sig.Register, Mask: sig.Mask, Equals: sig.Equals}
	}
	if sig := cfg.DsoLimitPct; sig != nil {
		pcCfg.Signals.DsoLimitPct = &powerctrl.LimitSignalConfig{
			Register: sig.Register, Scale: sig.Scale, MinPct: sig.MinPct, MaxPct: sig.MaxPct,
		}
	}

	if w := cfg.RemoteEnable; w != nil {
		pcCfg.Writes.RemoteEnable = &powerctrl.EnableWrite{Register: w.Register, On: w.On, Off: w.Off}
	}
	if w := cfg.ActivePowerSetW; w != nil {
		pcCfg.Writes.ActivePowerSetW = &powerctrl.ScaledWrite{Register: w.Register, Scale: w.Scale}
	}
	if w := cfg.ActivePowerLimitPct; w != nil {
		pcCfg.Writes.ActivePowerLimitPct = &powerctrl.ScaledWrite{Register: w.Register, Scale: w.Scale}
	}

	return powerctrl.NewManager(pcCfg), nil
}

// Run starts every site's telemetry sources and controller and blocks until
// the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	s.mu.RLock()
	sites := make([]*Site, 0, len(s.order))
	for _, id := range s.order {
		sites = append(sites, s.sites[id])
	}
	s.mu.RUnlock()

	for _, site := range sites {
		site := site

		if site.poller != nil {
			wg.Add(2)
			go func() {
				defer wg.Done()
				site.poller.Run(ctx)
			}()
			go func() {
				defer wg.Done()
				forwardSamples(ctx, site.poller.Telemetry, site.Controller.Samples)
			}()
		}

		if site.ingestor != nil {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := site.ingestor.Run(ctx); err != nil {
					slog.Error("MQTT ingestor failed", "site", site.ID, "error", err)
				}
			}()
			go func() {
				defer wg.Done()
				forwardSamples(ctx, site.ingestor.Telemetry, site.Controller.Samples)
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			site.Controller.Run(ctx)
		}()
	}

	slog.Info("Supervisor running", "sites", len(sites))
	wg.Wait()
}

func forwardSamples(ctx context.Context, from <-chan telemetry.Sample, to chan<- telemetry.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-from:
			select {
			case to <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Site returns the named site.
func (s *Supervisor) Site(id string) (*Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	return site, ok
}

// ListSites returns the site IDs in configuration order.
func (s *Supervisor) ListSites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// AllStates snapshots every site's plant state.
func (s *Supervisor) AllStates() map[string]telemetry.PlantState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]telemetry.PlantState, len(s.sites))
	for id, site := range s.sites {
		states[id] = site.Controller.State()
	}
	return states
}

// Aggregate rolls the fleet up: SoC is capacity-weighted, the price is
// load-weighted and the powers are summed.
func (s *Supervisor) Aggregate() AggregatedState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := AggregatedState{Sites: len(s.sites)}

	socWeighted := 0.0
	priceWeighted := 0.0
	loadSum := 0.0

	for _, id := range s.order {
		site := s.sites[id]
		state := site.Controller.State()

		agg.PBessKw += state.PBessKw
		agg.PPvKw += state.PPvKw
		agg.PLoadKw += state.PLoadKw
		agg.PGridKw += state.PGridKw
		agg.CapacityKwh += site.capacityKwh

		socWeighted += state.SocPct * site.capacityKwh
		priceWeighted += state.PriceEurMwh * state.PLoadKw
		loadSum += state.PLoadKw

		if state.Alarm || state.DsoTrip || state.SafetyAlarm {
			agg.AlarmSites = append(agg.AlarmSites, id)
		}
		if state.Source == telemetry.SourceSimulation {
			agg.SimulationSites = append(agg.SimulationSites, id)
		}
	}

	if agg.CapacityKwh > 0 {
		agg.SocPct = socWeighted / agg.CapacityKwh
	}
	if loadSum > 0 {
		agg.PriceEurMwh = priceWeighted / loadSum
	}
	sort.Strings(agg.AlarmSites)
	sort.Strings(agg.SimulationSites)

	return agg
}
