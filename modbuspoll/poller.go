package modbuspoll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grid-x/modbus"

	"github.com/gridvolt/emscontroller/modbusreg"
	"github.com/gridvolt/emscontroller/profiles"
	"github.com/gridvolt/emscontroller/telemetry"
)

// errorBackoff caps how quickly the poller retries after a transport error.
const errorBackoff = 5 * time.Second

// Config selects the device profile and transport for one poller.
type Config struct {
	ProfileName string
	Connection  modbusreg.Connection
	SyncClock   bool
}

// connection is the subset of the grid-x handlers the poller manages.
type connection interface {
	Connect() error
	Close() error
}

// Poller reads a Modbus device on a fixed interval and turns each sweep into
// one telemetry sample on the Telemetry channel.
//
// The register map comes from the device profile; the poller itself knows
// nothing about addresses or scaling.
type Poller struct {
	Telemetry chan telemetry.Sample

	cfg     Config
	profile *modbusreg.Profile
	engine  *modbusreg.Engine

	handler   connection
	connected bool
	rtcSynced bool

	now func() time.Time
}

// New builds a poller for the named device profile. The grid-x handler is
// constructed from the profile's connection defaults merged with cfg.
func New(cfg Config) (*Poller, error) {
	profile, err := profiles.Get(cfg.ProfileName)
	if err != nil {
		return nil, err
	}
	cfg.Connection = mergeConnection(profile.Defaults, cfg.Connection)

	handler, transport, err := newTransport(cfg.Connection)
	if err != nil {
		return nil, err
	}

	return &Poller{
		Telemetry: make(chan telemetry.Sample, 25),
		cfg:       cfg,
		profile:   profile,
		engine:    modbusreg.NewEngine(transport, profile),
		handler:   handler,
		now:       time.Now,
	}, nil
}

// NewWithTransport builds a poller on an externally supplied transport,
// bypassing the grid-x handler. Used by tests.
func NewWithTransport(cfg Config, transport modbusreg.Transport) (*Poller, error) {
	profile, err := profiles.Get(cfg.ProfileName)
	if err != nil {
		return nil, err
	}
	cfg.Connection = mergeConnection(profile.Defaults, cfg.Connection)

	return &Poller{
		Telemetry: make(chan telemetry.Sample, 25),
		cfg:       cfg,
		profile:   profile,
		engine:    modbusreg.NewEngine(transport, profile),
		now:       time.Now,
	}, nil
}

func mergeConnection(defaults, override modbusreg.Connection) modbusreg.Connection {
	merged := defaults
	if override.Kind != "" {
		merged.Kind = override.Kind
	}
	if override.Port != "" {
		merged.Port = override.Port
	}
	if override.SlaveID != 0 {
		merged.SlaveID = override.SlaveID
	}
	if override.TimeoutS != 0 {
		merged.TimeoutS = override.TimeoutS
	}
	if override.PollIntervalS != 0 {
		merged.PollIntervalS = override.PollIntervalS
	}
	if override.Baudrate != 0 {
		merged.Baudrate = override.Baudrate
	}
	if override.Parity != "" {
		merged.Parity = override.Parity
	}
	return merged
}

func newTransport(conn modbusreg.Connection) (connection, modbusreg.Transport, error) {
	timeout := time.Duration(conn.TimeoutS * float64(time.Second))
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	switch conn.Kind {
	case modbusreg.ConnectionTCP, "":
		target := conn.Port
		if !strings.Contains(target, ":") {
			target += ":502"
		}
		handler := modbus.NewTCPClientHandler(target)
		handler.Timeout = timeout
		handler.SlaveID = byte(conn.SlaveID)
		return handler, modbus.NewClient(handler), nil
	case modbusreg.ConnectionRTU:
		handler := modbus.NewRTUClientHandler(conn.Port)
		handler.Timeout = timeout
		handler.SlaveID = byte(conn.SlaveID)
		handler.BaudRate = conn.Baudrate
		handler.DataBits = 8
		handler.StopBits = 1
		handler.Parity = parityCode(conn.Parity)
		return handler, modbus.NewClient(handler), nil
	default:
		return nil, nil, fmt.Errorf("unsupported modbus connection kind '%s'", conn.Kind)
	}
}

func parityCode(parity string) string {
	switch strings.ToLower(parity) {
	case "even":
		return "E"
	case "odd":
		return "O"
	default:
		return "N"
	}
}

// Engine exposes the register engine, for command writes from the power
// control path.
func (p *Poller) Engine() *modbusreg.Engine {
	return p.engine
}

// minPollInterval bounds how fast a misconfigured site can hammer the device.
const minPollInterval = 500 * time.Millisecond

// Interval returns the effective poll interval, floored at minPollInterval.
func (p *Poller) Interval() time.Duration {
	if p.cfg.Connection.PollIntervalS > 0 {
		interval := time.Duration(p.cfg.Connection.PollIntervalS * float64(time.Second))
		if interval < minPollInterval {
			return minPollInterval
		}
		return interval
	}
	return 2 * time.Second
}

// Run polls the device until the context is cancelled. A failed sweep drops
// the connection and backs off before reconnecting.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("Modbus poller starting", "profile", p.profile.Name, "port", p.cfg.Connection.Port)

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()
	defer p.disconnect()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Modbus poller stopping", "profile", p.profile.Name)
			return
		case <-ticker.C:
			if err := p.poll(); err != nil {
				slog.Warn("Modbus poll failed", "profile", p.profile.Name, "error", err)
				p.disconnect()

				backoff := p.Interval()
				if backoff > errorBackoff {
					backoff = errorBackoff
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}
		}
	}
}

// Poll runs one sweep, for callers that drive the cadence themselves.
func (p *Poller) Poll() error {
	return p.poll()
}

func (p *Poller) poll() error {
	if err := p.connect(); err != nil {
		return err
	}

	if p.cfg.SyncClock && !p.rtcSynced {
		if err := p.engine.SyncTime(p.now()); err != nil {
			return fmt.Errorf("sync device clock: %w", err)
		}
		p.rtcSynced = true
	}

	sample, err := p.sweep()
	if err != nil {
		return err
	}

	select {
	case p.Telemetry <- sample:
	default:
		slog.Warn("Telemetry channel full, dropping sample", "profile", p.profile.Name)
	}
	return nil
}

func (p *Poller) connect() error {
	if p.connected || p.handler == nil {
		return nil
	}
	if err := p.handler.Connect(); err != nil {
		return fmt.Errorf("connect to '%s': %w", p.cfg.Connection.Port, err)
	}
	p.connected = true
	slog.Info("Modbus connected", "profile", p.profile.Name, "port", p.cfg.Connection.Port)
	return nil
}

func (p *Poller) disconnect() {
	p.rtcSynced = false
	if !p.connected || p.handler == nil {
		return
	}
	if err := p.handler.Close(); err != nil {
		slog.Debug("Modbus close failed", "error", err)
	}
	p.connected = false
}

// sweep reads every readable register and alarm of the profile into one
// sample.
func (p *Poller) sweep() (telemetry.Sample, error) {
	sample := telemetry.Sample{
		ID:        uuid.New(),
		Timestamp: p.now().UTC(),
		Source:    telemetry.SourceModbus,
		Raw:       make(map[string]float64, len(p.profile.Registers)),
	}

	for _, name := range registerNames(p.profile) {
		value, err := p.engine.Read(name)
		if err != nil {
			return sample, fmt.Errorf("read register '%s': %w", name, err)
		}
		sample.Raw[name] = value
		assignField(&sample, name, value, p.profile)
	}

	bits := make([]string, 0, len(p.profile.Alarms))
	for _, name := range alarmNames(p.profile) {
		active, err := p.engine.ReadAlarm(name)
		if err != nil {
			return sample, fmt.Errorf("read alarm '%s': %w", name, err)
		}
		if active {
			sample.ActiveAlarms = append(sample.ActiveAlarms, name)
			bits = append(bits, name)
		}
	}
	sample.StatusBits = strings.Join(bits, ",")

	sample.DerivePower()
	return sample, nil
}

func registerNames(profile *modbusreg.Profile) []string {
	names := make([]string, 0, len(profile.Registers))
	for name := range profile.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func alarmNames(profile *modbusreg.Profile) []string {
	names := make([]string, 0, len(profile.Alarms))
	for name := range profile.Alarms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// assignField maps a logical register name onto the typed sample fields.
// Unknown names stay available through Raw.
func assignField(sample *telemetry.Sample, name string, value float64, profile *modbusreg.Profile) {
	switch name {
	case "soc_percent":
		sample.SocPct = telemetry.Float(value)
	case "soh_percent":
		sample.SohPct = telemetry.Float(value)
	case "voltage_v", "dc_voltage_v":
		sample.VoltageV = telemetry.Float(value)
	case "current_a":
		sample.CurrentA = telemetry.Float(value)
	case "temperature_c":
		sample.TemperatureC = telemetry.Float(value)
	case "active_power_w":
		sample.PBessKw = telemetry.Float(value / 1000.0)
	case "max_charge_power_kw":
		sample.MaxChargePowerKw = telemetry.Float(value)
	case "max_discharge_power_kw":
		sample.MaxDischargePowerKw = telemetry.Float(value)
	case "max_charge_current_a":
		sample.MaxChargeCurrentA = telemetry.Float(value)
	case "max_discharge_current_a":
		sample.MaxDischargeCurrentA = telemetry.Float(value)
	case "insulation_resistance_kohm":
		sample.InsulationKohm = telemetry.Float(value)
	case "status_code", "status_word":
		code := int(value)
		sample.StatusCode = telemetry.Int(code)
		sample.StatusText = profile.StatusText(code)
	}
}
