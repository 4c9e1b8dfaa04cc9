package plantstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/telemetry"
)

var t0 = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func liveSample(at time.Time, soc, bess, pv, load, grid float64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: at,
		Source:    telemetry.SourceModbus,
		SocPct:    telemetry.Float(soc),
		PBessKw:   telemetry.Float(bess),
		PPvKw:     telemetry.Float(pv),
		PLoadKw:   telemetry.Float(load),
		PGridKw:   telemetry.Float(grid),
	}
}

func TestApplySampleMergesState(t *testing.T) {
	store := New("site1")

	state := store.Snapshot()
	assert.Equal(t, "site1", state.SiteID)
	assert.Equal(t, telemetry.SourceSimulation, state.Source)

	state = store.ApplySample(liveSample(t0, 62.5, 10, 0, 0, 0))
	assert.Equal(t, telemetry.SourceModbus, state.Source)
	assert.Equal(t, 62.5, state.SocPct)
	assert.Equal(t, 10.0, state.PBessKw)
	assert.Equal(t, t0, store.LastLive())

	// absent fields keep the previous values
	state = store.ApplySample(telemetry.Sample{
		Timestamp: t0.Add(2 * time.Second),
		Source:    telemetry.SourceModbus,
		PBessKw:   telemetry.Float(12),
	})
	assert.Equal(t, 62.5, state.SocPct)
	assert.Equal(t, 12.0, state.PBessKw)
}

func TestStaleness(t *testing.T) {
	store := New("site1")

	// no live telemetry yet
	assert.True(t, store.MarkStaleIfExpired(t0))

	store.ApplySample(liveSample(t0, 50, 0, 0, 0, 0))
	assert.False(t, store.MarkStaleIfExpired(t0.Add(60*time.Second)))
	assert.False(t, store.MarkStaleIfExpired(t0.Add(120*time.Second)))

	assert.True(t, store.MarkStaleIfExpired(t0.Add(121*time.Second)))
	assert.Equal(t, telemetry.SourceSimulation, store.Snapshot().Source)

	// simulation samples do not refresh the staleness clock
	store.ApplySample(telemetry.Sample{
		Timestamp: t0.Add(130 * time.Second),
		Source:    telemetry.SourceSimulation,
		SocPct:    telemetry.Float(49),
	})
	assert.Equal(t, t0, store.LastLive())
	assert.True(t, store.MarkStaleIfExpired(t0.Add(131*time.Second)))
}

func TestRecentWindowAndLimit(t *testing.T) {
	store := New("site1")
	for i := 0; i < 10; i++ {
		store.ApplySample(liveSample(t0.Add(time.Duration(i)*time.Minute), 50, 0, 0, 0, 0))
	}

	points := store.Recent(0, 0)
	assert.Len(t, points, 10)

	// window is anchored at the newest point
	points = store.Recent(3*time.Minute, 0)
	require.Len(t, points, 4)
	assert.Equal(t, t0.Add(6*time.Minute), points[0].Timestamp)
	assert.Equal(t, t0.Add(9*time.Minute), points[3].Timestamp)

	points = store.Recent(0, 3)
	require.Len(t, points, 3)
	assert.Equal(t, t0.Add(9*time.Minute), points[2].Timestamp)
}

func TestRingBound(t *testing.T) {
	store := New("site1")
	for i := 0; i < maxPoints+50; i++ {
		store.ApplySample(liveSample(t0.Add(time.Duration(i)*time.Second), 50, 0, 0, 0, 0))
	}
	assert.Len(t, store.Recent(0, 0), maxPoints)
}

func TestPowerFlowDecomposition(t *testing.T) {
	store := New("site1")

	// one steady hour: 8 kW PV, 5 kW load, 2 kW discharge, 5 kW export
	store.ApplySample(liveSample(t0, 50, 2, 8, 5, -5))
	store.ApplySample(liveSample(t0.Add(time.Hour), 49, 2, 8, 5, -5))

	report := store.PowerFlow(2 * time.Hour)

	assert.Equal(t, 2, report.Samples)
	assert.Equal(t, t0, report.WindowStart)

	assert.InDelta(t, 5.0, report.PvToLoadKwh, 1e-9)
	assert.InDelta(t, 0.0, report.BessToLoadKwh, 1e-9)
	assert.InDelta(t, 0.0, report.GridToLoadKwh, 1e-9)
	assert.InDelta(t, 3.0, report.PvToGridKwh, 1e-9)
	assert.InDelta(t, 2.0, report.BessToGridKwh, 1e-9)

	assert.InDelta(t, 8.0, report.PvGeneratedKwh, 1e-9)
	assert.InDelta(t, 5.0, report.GridExportKwh, 1e-9)
}

func TestPowerFlowChargeFromGrid(t *testing.T) {
	store := New("site1")

	// night charge: no PV, 10 kW load, 20 kW charge, 30 kW import
	store.ApplySample(liveSample(t0, 40, -20, 0, 10, 30))
	store.ApplySample(liveSample(t0.Add(30*time.Minute), 45, -20, 0, 10, 30))

	report := store.PowerFlow(time.Hour)

	assert.InDelta(t, 5.0, report.GridToLoadKwh, 1e-9)
	assert.InDelta(t, 10.0, report.GridToBessKwh, 1e-9)
	assert.InDelta(t, 10.0, report.BessChargeKwh, 1e-9)
	assert.InDelta(t, 15.0, report.GridImportKwh, 1e-9)
}

func TestPowerFlowTooFewPoints(t *testing.T) {
	store := New("site1")
	store.ApplySample(liveSample(t0, 50, 0, 0, 0, 0))

	report := store.PowerFlow(time.Hour)
	assert.Equal(t, 1, report.Samples)
	assert.Equal(t, 0.0, report.PvGeneratedKwh)
}
