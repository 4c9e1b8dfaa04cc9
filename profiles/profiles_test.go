package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/modbusreg"
)

func TestGet(t *testing.T) {
	profile, err := Get("hithium_ess_5016")
	require.NoError(t, err)
	assert.Equal(t, "hithium_ess_5016", profile.Name)

	_, err = Get("no_such_device")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	assert.Equal(t, []string{"hithium_ess_5016", "wstech_pcs"}, List())
}

func TestHithiumContract(t *testing.T) {
	profile := Hithium()

	assert.Equal(t, modbusreg.ConnectionTCP, profile.Defaults.Kind)
	assert.Equal(t, 1, profile.Defaults.SlaveID)
	assert.Equal(t, 2.0, profile.Defaults.PollIntervalS)

	// current: raw*0.1 - 3200, positive values mean charging
	current, ok := profile.Registers["current_a"]
	require.True(t, ok)
	assert.Equal(t, uint16(3), current.Address)
	assert.Equal(t, modbusreg.FuncInput, current.Function)
	assert.Equal(t, 0.1, current.Scale)
	assert.Equal(t, -3200.0, current.Offset)
	assert.Equal(t, uint16(2), current.WireAddress())

	temp, ok := profile.Registers["temperature_c"]
	require.True(t, ok)
	assert.Equal(t, -40.0, temp.Offset)

	for _, name := range []string{
		"soc_percent", "soh_percent", "voltage_v", "status_code",
		"max_charge_power_kw", "max_discharge_power_kw",
		"max_charge_current_a", "max_discharge_current_a",
		"insulation_resistance_kohm",
	} {
		_, ok := profile.Registers[name]
		assert.True(t, ok, "missing register %s", name)
	}

	for _, name := range []string{
		"charge_prohibited", "discharge_prohibited", "system_fault",
		"contactor_abnormal_open", "contactor_abnormal_closed",
	} {
		_, ok := profile.Alarms[name]
		assert.True(t, ok, "missing alarm %s", name)
	}

	assert.Equal(t, "Laden", profile.StatusText(1))
	assert.Equal(t, "Fehler", profile.StatusText(8))
	assert.Equal(t, "Unknown (99)", profile.StatusText(99))
}

func TestWstechContract(t *testing.T) {
	profile := Wstech()

	set, ok := profile.Registers["active_power_set_w"]
	require.True(t, ok)
	assert.Equal(t, modbusreg.FuncHolding, set.Function)
	assert.Equal(t, modbusreg.I32, set.Type)
	assert.Equal(t, uint16(9), set.WireAddress())

	release, ok := profile.Registers["dso_release_pct"]
	require.True(t, ok)
	assert.Equal(t, modbusreg.FuncInput, release.Function)
	assert.Equal(t, uint16(19), release.WireAddress())

	trip, ok := profile.Registers["dso_trip"]
	require.True(t, ok)
	assert.Equal(t, uint16(20), trip.WireAddress())

	fault, ok := profile.Alarms["grid_fault"]
	require.True(t, ok)
	assert.Equal(t, uint16(0), fault.WireAddress())

	assert.Equal(t, "Netzparallelbetrieb", profile.StatusText(1))
}
