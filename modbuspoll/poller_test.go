package modbuspoll

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvolt/emscontroller/modbusreg"
	"github.com/gridvolt/emscontroller/telemetry"
)

type fakeTransport struct {
	inputs   map[uint16]uint16
	holdings map[uint16]uint16
	discrete map[uint16]byte
	writes   int
	written  map[uint16][]byte
}

func (f *fakeTransport) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(f.inputs, address, quantity), nil
}

func (f *fakeTransport) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(f.holdings, address, quantity), nil
}

func (f *fakeTransport) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return []byte{f.discrete[address]}, nil
}

func (f *fakeTransport) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.writes++
	if f.written == nil {
		f.written = make(map[uint16][]byte)
	}
	f.written[address] = append([]byte(nil), value...)
	return nil, nil
}

func (f *fakeTransport) read(regs map[uint16]uint16, address, quantity uint16) []byte {
	out := make([]byte, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(out[i*2:], regs[address+i])
	}
	return out
}

// hithiumTransport carries a plausible register image of the Hithium BMS,
// keyed by wire address.
func hithiumTransport() *fakeTransport {
	return &fakeTransport{
		inputs: map[uint16]uint16{
			1:  7802,  // voltage 780.2 V
			2:  32500, // current +50 A
			3:  87,    // soc
			4:  99,    // soh
			31: 1000,  // max discharge 100 kW
			32: 1000,  // max charge 100 kW
			33: 1600,  // max discharge current 160 A
			34: 1600,  // max charge current 160 A
			41: 65,    // temperature 25 °C
			42: 1,     // status "Laden"
			44: 500,   // insulation
			45: 0,
			46: 0,
		},
		discrete: map[uint16]byte{
			54: 1, // charge_prohibited
		},
	}
}

func testPoller(t *testing.T, cfg Config, transport modbusreg.Transport) *Poller {
	t.Helper()
	p, err := NewWithTransport(cfg, transport)
	require.NoError(t, err)
	p.now = func() time.Time {
		return time.Date(2025, 6, 15, 14, 30, 45, 0, time.UTC)
	}
	return p
}

func TestNewUnknownProfile(t *testing.T) {
	_, err := NewWithTransport(Config{ProfileName: "no_such_device"}, &fakeTransport{})
	assert.Error(t, err)
}

func TestConnectionDefaultsMerge(t *testing.T) {
	p := testPoller(t, Config{
		ProfileName: "hithium_ess_5016",
		Connection:  modbusreg.Connection{Port: "10.0.0.5"},
	}, &fakeTransport{})

	assert.Equal(t, modbusreg.ConnectionTCP, p.cfg.Connection.Kind)
	assert.Equal(t, "10.0.0.5", p.cfg.Connection.Port)
	assert.Equal(t, 1, p.cfg.Connection.SlaveID)
	assert.Equal(t, 3.0, p.cfg.Connection.TimeoutS)
	assert.Equal(t, 2*time.Second, p.Interval())

	p = testPoller(t, Config{
		ProfileName: "hithium_ess_5016",
		Connection:  modbusreg.Connection{PollIntervalS: 5},
	}, &fakeTransport{})
	assert.Equal(t, 5*time.Second, p.Interval())

	// intervals below half a second are floored
	p = testPoller(t, Config{
		ProfileName: "hithium_ess_5016",
		Connection:  modbusreg.Connection{PollIntervalS: 0.1},
	}, &fakeTransport{})
	assert.Equal(t, 500*time.Millisecond, p.Interval())
}

func TestPollSweep(t *testing.T) {
	p := testPoller(t, Config{ProfileName: "hithium_ess_5016"}, hithiumTransport())

	require.NoError(t, p.Poll())

	var sample telemetry.Sample
	select {
	case sample = <-p.Telemetry:
	default:
		t.Fatal("expected a sample on the telemetry channel")
	}

	assert.Equal(t, telemetry.SourceModbus, sample.Source)
	require.NotNil(t, sample.SocPct)
	assert.Equal(t, 87.0, *sample.SocPct)
	assert.Equal(t, 99.0, *sample.SohPct)
	assert.InDelta(t, 780.2, *sample.VoltageV, 1e-9)
	assert.InDelta(t, 50.0, *sample.CurrentA, 1e-9)
	assert.InDelta(t, 25.0, *sample.TemperatureC, 1e-9)
	assert.InDelta(t, 100.0, *sample.MaxChargePowerKw, 1e-9)
	assert.InDelta(t, 160.0, *sample.MaxDischargeCurrentA, 1e-9)
	assert.InDelta(t, 500.0, *sample.InsulationKohm, 1e-9)

	require.NotNil(t, sample.StatusCode)
	assert.Equal(t, 1, *sample.StatusCode)
	assert.Equal(t, "Laden", sample.StatusText)

	assert.Equal(t, []string{"charge_prohibited"}, sample.ActiveAlarms)
	assert.Equal(t, "charge_prohibited", sample.StatusBits)

	// no direct power register, so power derives from voltage and current
	require.NotNil(t, sample.PBessKw)
	assert.InDelta(t, 39.01, *sample.PBessKw, 0.01)

	assert.Equal(t, 87.0, sample.Raw["soc_percent"])
}

func TestPollSyncClockOncePerSession(t *testing.T) {
	transport := hithiumTransport()
	p := testPoller(t, Config{ProfileName: "hithium_ess_5016", SyncClock: true}, transport)

	require.NoError(t, p.Poll())
	require.NoError(t, p.Poll())
	assert.Equal(t, 1, transport.writes)

	written := transport.written[524]
	require.Len(t, written, 12)
	assert.Equal(t, uint16(25), binary.BigEndian.Uint16(written[0:]))
	assert.Equal(t, uint16(6), binary.BigEndian.Uint16(written[2:]))
	assert.Equal(t, uint16(45), binary.BigEndian.Uint16(written[10:]))

	// a disconnect forces a re-sync on the next poll
	p.disconnect()
	require.NoError(t, p.Poll())
	assert.Equal(t, 2, transport.writes)
}

func TestPollDropsWhenChannelFull(t *testing.T) {
	p := testPoller(t, Config{ProfileName: "hithium_ess_5016"}, hithiumTransport())

	for i := 0; i < cap(p.Telemetry)+5; i++ {
		require.NoError(t, p.Poll())
	}
	assert.Len(t, p.Telemetry, cap(p.Telemetry))
}

func TestParityCode(t *testing.T) {
	assert.Equal(t, "E", parityCode("even"))
	assert.Equal(t, "O", parityCode("Odd"))
	assert.Equal(t, "N", parityCode(""))
	assert.Equal(t, "N", parityCode("none"))
}
