package powerctrl

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gridvolt/emscontroller/modbusreg"
	"github.com/gridvolt/emscontroller/optimizer"
)

// Decision reasons, in precedence order.
const (
	ReasonDisabled    = "power_control_disabled"
	ReasonDsoTrip     = "dso_trip"
	ReasonSafetyAlarm = "safety_alarm"
	ReasonDsoLimit    = "dso_limit_pct"
	ReasonFeedinLimit = "feedin_limit"
	ReasonPlan        = "plan"
)

// SignalConfig reads a boolean out of a status register, either by AND-ing a
// bit mask or by comparing against an exact value. With neither set, any
// non-zero value counts as asserted.
type SignalConfig struct {
	Register string
	Mask     uint16
	Equals   *int
}

// LimitSignalConfig reads a percentage limit out of a status register.
type LimitSignalConfig struct {
	Register string
	Scale    float64
	MinPct   float64
	MaxPct   float64
}

// EnableWrite maps the on/off command onto a register.
type EnableWrite struct {
	Register string
	On       int
	Off      int
}

// ScaledWrite maps a numeric command onto a register with a register-side
// scale (the written raw value is command/scale).
type ScaledWrite struct {
	Register string
	Scale    float64
}

// Signals configures which inverter registers carry the DSO and safety
// signals. Nil entries disable the respective signal.
type Signals struct {
	DsoTrip     *SignalConfig
	SafetyAlarm *SignalConfig
	DsoLimitPct *LimitSignalConfig
}

// Writes configures the command registers. Nil entries suppress the
// respective command.
type Writes struct {
	RemoteEnable        *EnableWrite
	ActivePowerSetW     *ScaledWrite
	ActivePowerLimitPct *ScaledWrite
}

// Config configures the power control manager for one site.
type Config struct {
	Enabled    bool
	AutoWrite  bool
	MaxPowerKw float64
	Signals    Signals
	Writes     Writes
	FeedIn     FeedInConfig
}

// SignalState is the last ingested view of the external control signals.
type SignalState struct {
	DsoTrip     bool
	SafetyAlarm bool
	DsoLimitPct *float64
	UpdatedAt   time.Time
}

// Decision is the outcome of one control cycle: the effective setpoint, why
// it differs from the request, and the register commands that realize it.
type Decision struct {
	RequestedKw  float64
	EffectiveKw  float64
	LimitKw      *float64
	LimitPct     *float64
	Reason       string
	Shutdown     bool
	RemoteEnable bool
	Commands     map[string]float64
}

// Manager enforces DSO and safety precedence over the optimizer's requested
// battery power and synthesizes the inverter register writes.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	limiter *FeedInLimiter
	signals SignalState
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		limiter: NewFeedInLimiter(cfg.FeedIn),
	}
}

func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// IngestStatus updates the signal state from a raw register read, keyed by
// logical register name. Registers absent from the map leave the previous
// signal value in place.
func (m *Manager) IngestStatus(raw map[string]float64, now time.Time) SignalState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig := m.cfg.Signals.DsoTrip; sig != nil {
		if v, ok := raw[sig.Register]; ok {
			m.signals.DsoTrip = sig.asserted(v)
		}
	}
	if sig := m.cfg.Signals.SafetyAlarm; sig != nil {
		if v, ok := raw[sig.Register]; ok {
			m.signals.SafetyAlarm = sig.asserted(v)
		}
	}
	if sig := m.cfg.Signals.DsoLimitPct; sig != nil {
		if v, ok := raw[sig.Register]; ok {
			pct := sig.pct(v)
			m.signals.DsoLimitPct = &pct
		}
	}
	m.signals.UpdatedAt = now

	return m.signals
}

// SetSignals overrides the signal state directly, for telemetry paths that
// bypass register ingestion.
func (m *Manager) SetSignals(s SignalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = s
}

// Signals returns the last ingested signal state.
func (m *Manager) Signals() SignalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signals
}

func (s *SignalConfig) asserted(v float64) bool {
	val := int(math.Round(v))
	if s.Mask != 0 {
		return uint16(val)&s.Mask != 0
	}
	if s.Equals != nil {
		return val == *s.Equals
	}
	return val != 0
}

func (s *LimitSignalConfig) pct(v float64) float64 {
	scale := s.Scale
	if scale == 0 {
		scale = 1.0
	}
	pct := v * scale

	min, max := s.MinPct, s.MaxPct
	if max == 0 {
		max = 100.0
	}
	if pct < min {
		pct = min
	}
	if pct > max {
		pct = max
	}
	return pct
}

// Decide applies the precedence chain to a requested setpoint: trip and
// safety force shutdown, the DSO release percentage clamps the magnitude,
// and the feed-in limiter restricts export on top of the clamped value.
func (m *Manager) Decide(requestedKw float64, c optimizer.Constraints, pvKw float64, now time.Time) Decision {
	m.mu.Lock()
	signals := m.signals
	m.mu.Unlock()

	d := Decision{
		RequestedKw:  requestedKw,
		EffectiveKw:  requestedKw,
		Reason:       ReasonPlan,
		RemoteEnable: true,
	}

	if !m.cfg.Enabled {
		d.Reason = ReasonDisabled
		d.Commands = map[string]float64{}
		return d
	}

	switch {
	case signals.DsoTrip:
		d.EffectiveKw = 0
		d.Shutdown = true
		d.RemoteEnable = false
		d.Reason = ReasonDsoTrip
	case signals.SafetyAlarm:
		d.EffectiveKw = 0
		d.Shutdown = true
		d.RemoteEnable = false
		d.Reason = ReasonSafetyAlarm
	default:
		if signals.DsoLimitPct != nil && *signals.DsoLimitPct < 100 {
			pct := *signals.DsoLimitPct
			limitKw := m.maxPower(requestedKw, c) * pct / 100.0
			d.LimitKw = &limitKw
			d.LimitPct = &pct
			if math.Abs(d.EffectiveKw) > limitKw {
				d.EffectiveKw = math.Copysign(limitKw, d.EffectiveKw)
				d.Reason = ReasonDsoLimit
			}
		}

		if limited, changed := m.limiter.Apply(d.EffectiveKw, pvKw, now); changed {
			d.EffectiveKw = limited
			d.Reason = ReasonFeedinLimit
		}
	}

	d.Commands = m.commands(d)
	return d
}

func (m *Manager) maxPower(requestedKw float64, c optimizer.Constraints) float64 {
	if m.cfg.MaxPowerKw > 0 {
		return m.cfg.MaxPowerKw
	}
	max := math.Max(c.PDischargeMaxKw, c.PChargeMaxKw)
	return math.Max(max, math.Abs(requestedKw))
}

func (m *Manager) commands(d Decision) map[string]float64 {
	commands := make(map[string]float64)

	if w := m.cfg.Writes.RemoteEnable; w != nil {
		on, off := w.On, w.Off
		if on == 0 && off == 0 {
			on = 1
		}
		if d.RemoteEnable {
			commands[w.Register] = float64(on)
		} else {
			commands[w.Register] = float64(off)
		}
	}

	if w := m.cfg.Writes.ActivePowerSetW; w != nil {
		scale := w.Scale
		if scale == 0 {
			scale = 1.0
		}
		commands[w.Register] = math.Round(d.EffectiveKw * 1000.0 / scale)
	}

	if w := m.cfg.Writes.ActivePowerLimitPct; w != nil {
		scale := w.Scale
		if scale == 0 {
			scale = 1.0
		}
		pct := 0.0
		if !d.Shutdown && d.LimitPct != nil {
			pct = *d.LimitPct
		}
		commands[w.Register] = math.Round(pct / scale)
	}

	return commands
}

// Writer is the write surface of the register engine.
type Writer interface {
	Write(name string, value float64) error
}

var _ Writer = (*modbusreg.Engine)(nil)

// Apply pushes the decision's commands to the inverter. Writes only happen
// when auto write is enabled; individual write failures are logged and do not
// abort the remaining commands.
func (m *Manager) Apply(w Writer, d Decision) {
	if !m.cfg.Enabled || !m.cfg.AutoWrite || w == nil {
		return
	}

	names := make([]string, 0, len(d.Commands))
	for name := range d.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := w.Write(name, d.Commands[name]); err != nil {
			slog.Warn("Power control write failed", "register", name, "error", err)
		}
	}
}
