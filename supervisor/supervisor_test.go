package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/config"
	"github.com/gridvolt/emscontroller/telemetry"
)

func demoSite(id string, capacityKwh float64) config.SiteConfig {
	return config.SiteConfig{
		ID:          id,
		Name:        id,
		Bess:        config.BessConfig{EnergyCapacityKwh: capacityKwh},
		Strategies:  config.StrategiesConfig{Enabled: []string{"arbitrage", "peak_shaving"}},
		Prices:      config.PricesConfig{DemoMode: true},
		HistoryPath: ":memory:",
	}
}

func TestNewBuildsSites(t *testing.T) {
	sup, err := New(config.Config{Sites: []config.SiteConfig{
		demoSite("a", 100),
		demoSite("b", 300),
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, sup.ListSites())

	site, ok := sup.Site("a")
	require.True(t, ok)
	assert.Equal(t, "a", site.ID)
	assert.NotNil(t, site.Controller)

	_, ok = sup.Site("c")
	assert.False(t, ok)

	states := sup.AllStates()
	assert.Len(t, states, 2)
	assert.Equal(t, "a", states["a"].SiteID)
}

func TestNewSkipsBrokenSites(t *testing.T) {
	broken := demoSite("broken", 100)
	broken.Strategies.Enabled = []string{"time_travel"}

	sup, err := New(config.Config{Sites: []config.SiteConfig{
		broken,
		demoSite("ok", 100),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, sup.ListSites())

	_, err = New(config.Config{Sites: []config.SiteConfig{broken}})
	assert.Error(t, err)
}

func TestBuildStrategies(t *testing.T) {
	strategies, err := buildStrategies(config.StrategiesConfig{
		Enabled: []string{"arbitrage", "self_consumption", "load_balancing"},
	})
	require.NoError(t, err)
	require.Len(t, strategies, 3)
	assert.Equal(t, "arbitrage", strategies[0].Name())

	_, err = buildStrategies(config.StrategiesConfig{Enabled: []string{"nope"}})
	assert.Error(t, err)

	_, err = buildStrategies(config.StrategiesConfig{})
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	sup, err := New(config.Config{Sites: []config.SiteConfig{
		demoSite("a", 100),
		demoSite("b", 300),
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	feed := func(id string, soc, bess, load float64) {
		site, ok := sup.Site(id)
		require.True(t, ok)
		site.Controller.Samples <- telemetry.Sample{
			Timestamp: time.Now().UTC(),
			Source:    telemetry.SourceModbus,
			SocPct:    telemetry.Float(soc),
			PBessKw:   telemetry.Float(bess),
			PLoadKw:   telemetry.Float(load),
		}
	}
	feed("a", 20, 10, 40)
	feed("b", 60, -30, 60)

	require.Eventually(t, func() bool {
		agg := sup.Aggregate()
		return agg.PLoadKw == 100.0
	}, 2*time.Second, 10*time.Millisecond)

	agg := sup.Aggregate()
	assert.Equal(t, 2, agg.Sites)
	assert.Equal(t, 400.0, agg.CapacityKwh)
	// capacity-weighted: (20*100 + 60*300) / 400
	assert.InDelta(t, 50.0, agg.SocPct, 1e-9)
	assert.InDelta(t, -20.0, agg.PBessKw, 1e-9)
	assert.Empty(t, agg.AlarmSites)
}
