package powerctrl

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/optimizer"
	"github.com/gridvolt/emscontroller/timeutils"
)

var decideNow = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func enabledConfig() Config {
	return Config{
		Enabled:    true,
		MaxPowerKw: 100,
		Writes: Writes{
			RemoteEnable:        &EnableWrite{Register: "remote_enable"},
			ActivePowerSetW:     &ScaledWrite{Register: "active_power_set_w"},
			ActivePowerLimitPct: &ScaledWrite{Register: "active_power_limit_pct"},
		},
	}
}

func TestDecideDisabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})

	d := m.Decide(80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	assert.Equal(t, 80.0, d.EffectiveKw)
	assert.Equal(t, ReasonDisabled, d.Reason)
	assert.Empty(t, d.Commands)
}

func TestDecidePlanPassThrough(t *testing.T) {
	m := NewManager(enabledConfig())

	d := m.Decide(80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	assert.Equal(t, 80.0, d.EffectiveKw)
	assert.Equal(t, ReasonPlan, d.Reason)
	assert.False(t, d.Shutdown)
	assert.True(t, d.RemoteEnable)

	assert.Equal(t, 1.0, d.Commands["remote_enable"])
	assert.Equal(t, 80000.0, d.Commands["active_power_set_w"])

	// the limit register is only driven while a DSO limit is active
	assert.Equal(t, 0.0, d.Commands["active_power_limit_pct"])
}

func TestDecideDsoTripForcesShutdown(t *testing.T) {
	m := NewManager(enabledConfig())
	m.SetSignals(SignalState{DsoTrip: true})

	d := m.Decide(80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	assert.Equal(t, 0.0, d.EffectiveKw)
	assert.True(t, d.Shutdown)
	assert.False(t, d.RemoteEnable)
	assert.Equal(t, ReasonDsoTrip, d.Reason)

	assert.Equal(t, 0.0, d.Commands["remote_enable"])
	assert.Equal(t, 0.0, d.Commands["active_power_set_w"])
	assert.Equal(t, 0.0, d.Commands["active_power_limit_pct"])
}

func TestDecideSafetyAlarm(t *testing.T) {
	m := NewManager(enabledConfig())
	m.SetSignals(SignalState{SafetyAlarm: true})

	d := m.Decide(-60, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	assert.Equal(t, 0.0, d.EffectiveKw)
	assert.True(t, d.Shutdown)
	assert.Equal(t, ReasonSafetyAlarm, d.Reason)
}

func TestDecideDsoLimitClampsMagnitude(t *testing.T) {
	m := NewManager(enabledConfig())
	pct := 50.0
	m.SetSignals(SignalState{DsoLimitPct: &pct})

	// 50% of the 100 kW rating clamps the 80 kW discharge to 50
	d := m.Decide(80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)
	assert.Equal(t, 50.0, d.EffectiveKw)
	assert.Equal(t, ReasonDsoLimit, d.Reason)
	require.NotNil(t, d.LimitKw)
	assert.Equal(t, 50.0, *d.LimitKw)
	assert.Equal(t, 50.0, d.Commands["active_power_limit_pct"])

	// charge clamps with the sign preserved
	d = m.Decide(-80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)
	assert.Equal(t, -50.0, d.EffectiveKw)

	// a request inside the limit is untouched
	d = m.Decide(30, optimizer.Constraints{}.WithDefaults(), 0, decideNow)
	assert.Equal(t, 30.0, d.EffectiveKw)
	assert.Equal(t, ReasonPlan, d.Reason)
}

func TestDecideFeedInAfterDsoClamp(t *testing.T) {
	cfg := enabledConfig()
	cfg.FeedIn = FeedInConfig{Mode: FeedInFixed, FixedLimitPct: 30}
	m := NewManager(cfg)

	pct := 50.0
	m.SetSignals(SignalState{DsoLimitPct: &pct})

	// -80 clamps to -50 first, then the 30% export limit takes it to -15
	d := m.Decide(-80, optimizer.Constraints{}.WithDefaults(), 0, decideNow)
	assert.InDelta(t, -15.0, d.EffectiveKw, 1e-9)
	assert.Equal(t, ReasonFeedinLimit, d.Reason)
}

func TestFeedInLimiterFixed(t *testing.T) {
	lim := NewFeedInLimiter(FeedInConfig{Mode: FeedInFixed, FixedLimitPct: 30})

	// import passes through
	v, changed := lim.Apply(40, 0, decideNow)
	assert.Equal(t, 40.0, v)
	assert.False(t, changed)

	v, changed = lim.Apply(-100, 0, decideNow)
	assert.InDelta(t, -30.0, v, 1e-9)
	assert.True(t, changed)
}

func TestFeedInLimiterDynamicWindow(t *testing.T) {
	window, err := timeutils.ParseClockWindow("22:00-06:00")
	require.NoError(t, err)

	lim := NewFeedInLimiter(FeedInConfig{
		Mode:  FeedInDynamic,
		Rules: []FeedInRule{{Window: timeutils.DayedWindow{ClockWindow: window}, LimitPct: 30}},
	})

	night := time.Date(2025, 6, 16, 23, 0, 0, 0, time.UTC)
	v, changed := lim.Apply(-100, 0, night)
	assert.InDelta(t, -30.0, v, 1e-9)
	assert.True(t, changed)

	// outside the window the limiter is inactive
	noon := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	v, changed = lim.Apply(-100, 0, noon)
	assert.Equal(t, -100.0, v)
	assert.False(t, changed)
}

func TestFeedInLimiterPVIntegration(t *testing.T) {
	lim := NewFeedInLimiter(FeedInConfig{
		Mode:          FeedInFixed,
		FixedLimitPct: 50,
		PVIntegration: true,
	})

	// export is capped at half the live PV power
	v, changed := lim.Apply(-100, 40, decideNow)
	assert.InDelta(t, -20.0, v, 1e-9)
	assert.True(t, changed)

	// no sun, no export
	v, _ = lim.Apply(-100, 0, decideNow)
	assert.Equal(t, 0.0, v)
}

func TestIngestStatus(t *testing.T) {
	three := 3
	m := NewManager(Config{
		Enabled: true,
		Signals: Signals{
			DsoTrip:     &SignalConfig{Register: "dso_trip"},
			SafetyAlarm: &SignalConfig{Register: "fault_word", Mask: 0x0008},
			DsoLimitPct: &LimitSignalConfig{Register: "dso_release_pct"},
		},
	})

	s := m.IngestStatus(map[string]float64{
		"dso_trip":        1,
		"fault_word":      0x0008,
		"dso_release_pct": 60,
	}, decideNow)

	assert.True(t, s.DsoTrip)
	assert.True(t, s.SafetyAlarm)
	require.NotNil(t, s.DsoLimitPct)
	assert.Equal(t, 60.0, *s.DsoLimitPct)
	assert.Equal(t, decideNow, s.UpdatedAt)

	// absent registers keep the previous values
	s = m.IngestStatus(map[string]float64{"dso_trip": 0}, decideNow.Add(time.Minute))
	assert.False(t, s.DsoTrip)
	assert.True(t, s.SafetyAlarm)
	require.NotNil(t, s.DsoLimitPct)

	// mask not set in the word clears the alarm
	s = m.IngestStatus(map[string]float64{"fault_word": 0x0004}, decideNow)
	assert.False(t, s.SafetyAlarm)

	// exact-match signal
	m2 := NewManager(Config{
		Enabled: true,
		Signals: Signals{DsoTrip: &SignalConfig{Register: "mode", Equals: &three}},
	})
	assert.True(t, m2.IngestStatus(map[string]float64{"mode": 3}, decideNow).DsoTrip)
	assert.False(t, m2.IngestStatus(map[string]float64{"mode": 2}, decideNow).DsoTrip)
}

func TestLimitSignalClamps(t *testing.T) {
	sig := &LimitSignalConfig{Register: "pct", Scale: 0.1}

	assert.Equal(t, 60.0, sig.pct(600))
	assert.Equal(t, 100.0, sig.pct(2000))
	assert.Equal(t, 0.0, sig.pct(-50))
}

type fakeWriter struct {
	writes map[string]float64
	fail   map[string]bool
}

func (f *fakeWriter) Write(name string, value float64) error {
	if f.fail[name] {
		return fmt.Errorf("write failed")
	}
	if f.writes == nil {
		f.writes = make(map[string]float64)
	}
	f.writes[name] = value
	return nil
}

func TestApplyWritesCommands(t *testing.T) {
	cfg := enabledConfig()
	cfg.AutoWrite = true
	m := NewManager(cfg)

	d := m.Decide(50, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	w := &fakeWriter{fail: map[string]bool{"remote_enable": true}}
	m.Apply(w, d)

	// the failing write does not abort the rest
	assert.Equal(t, 50000.0, w.writes["active_power_set_w"])
	assert.Equal(t, 0.0, w.writes["active_power_limit_pct"])
	_, wrote := w.writes["remote_enable"]
	assert.False(t, wrote)
}

func TestApplyRespectsAutoWrite(t *testing.T) {
	m := NewManager(enabledConfig())

	d := m.Decide(50, optimizer.Constraints{}.WithDefaults(), 0, decideNow)

	w := &fakeWriter{}
	m.Apply(w, d)
	assert.Empty(t, w.writes)
}
