package mqttingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/telemetry"
)

func testIngestor() *Ingestor {
	return &Ingestor{
		Telemetry: make(chan telemetry.Sample, 25),
		cfg:       Config{Topic: "test"}.withDefaults(),
		now: func() time.Time {
			return time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
		},
	}
}

func TestParseVendorPayload(t *testing.T) {
	ing := testIngestor()

	sample, ok := ing.Parse([]byte(`{
		"sys_soc": 73.5,
		"sys_bat_p": -42000,
		"sys_pv_p": 8500,
		"sys_load_p": 12000,
		"grid_on_p": 45500,
		"bat_v": 780.2,
		"cell_temp": 28.4,
		"bat_sts": "charging"
	}`))
	require.True(t, ok)

	assert.Equal(t, telemetry.SourceMQTT, sample.Source)
	require.NotNil(t, sample.SocPct)
	assert.Equal(t, 73.5, *sample.SocPct)

	// power fields arrive in watts
	assert.Equal(t, -42.0, *sample.PBessKw)
	assert.Equal(t, 8.5, *sample.PPvKw)
	assert.Equal(t, 12.0, *sample.PLoadKw)
	assert.Equal(t, 45.5, *sample.PGridKw)

	assert.Equal(t, 780.2, *sample.VoltageV)
	assert.Equal(t, 28.4, *sample.TemperatureC)
	assert.Equal(t, "charging", sample.StatusText)

	assert.Equal(t, 73.5, sample.Raw["sys_soc"])
}

func TestParseAliasPrecedence(t *testing.T) {
	ing := testIngestor()

	// "soc" wins over "sys_soc", "bat_p" over "sys_bat_p"
	sample, ok := ing.Parse([]byte(`{"soc": 50, "sys_soc": 60, "bat_p": 1000, "sys_bat_p": 2000}`))
	require.True(t, ok)
	assert.Equal(t, 50.0, *sample.SocPct)
	assert.Equal(t, 1.0, *sample.PBessKw)
}

func TestParseStringAndBoolCoercion(t *testing.T) {
	ing := testIngestor()

	sample, ok := ing.Parse([]byte(`{"soc": "81.5", "dso_trip": true, "fault_code": 516}`))
	require.True(t, ok)
	assert.Equal(t, 81.5, *sample.SocPct)
	assert.Equal(t, "516", sample.StatusBits)
	assert.Equal(t, 1.0, sample.Raw["dso_trip"])
}

func TestParseDerivesPower(t *testing.T) {
	ing := testIngestor()

	sample, ok := ing.Parse([]byte(`{"bat_v": 800, "current": 0}`))
	require.True(t, ok)
	assert.Nil(t, sample.PBessKw)

	// no current alias, power stays nil; with bat_p present it is used directly
	sample, ok = ing.Parse([]byte(`{"bat_v": 800, "bat_p": 16000}`))
	require.True(t, ok)
	assert.Equal(t, 16.0, *sample.PBessKw)
}

func TestParseRejectsUnusableBodies(t *testing.T) {
	ing := testIngestor()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `garbage`},
		{"json array", `[1, 2, 3]`},
		{"no recognized field", `{"foo": 1, "bar": "x"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ing.Parse([]byte(tt.payload))
			assert.False(t, ok)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BrokerURL: "tcp://localhost:1883"}.withDefaults()

	assert.NotEmpty(t, cfg.ClientID)
	assert.Contains(t, cfg.ClientID, "emscontroller-")
	assert.Equal(t, byte(1), cfg.QoS)
}
