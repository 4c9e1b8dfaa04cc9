package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where a telemetry sample originated.
type Source string

const (
	SourceModbus     Source = "modbus"
	SourceMQTT       Source = "mqtt"
	SourceSimulation Source = "simulation"
)

// Mode is the operating mode of a site controller.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
	ModeIdle   Mode = "idle"
)

// OptimizationStatus reflects the outcome of the most recent optimization cycle.
type OptimizationStatus string

const (
	OptimizationPending OptimizationStatus = "pending"
	OptimizationSuccess OptimizationStatus = "success"
	OptimizationFailed  OptimizationStatus = "failed"
)

// Sample is one timestamped telemetry reading from a field device.
//
// Optional fields are pointers: nil means the source did not report the value.
// The power sign convention is positive = discharge (battery sourcing power).
type Sample struct {
	ID        uuid.UUID
	Timestamp time.Time
	Source    Source

	SocPct       *float64
	SohPct       *float64
	PBessKw      *float64
	PPvKw        *float64
	PLoadKw      *float64
	PGridKw      *float64
	VoltageV     *float64
	CurrentA     *float64
	TemperatureC *float64

	StatusCode *int
	StatusText string
	StatusBits string

	MaxChargePowerKw     *float64
	MaxDischargePowerKw  *float64
	MaxChargeCurrentA    *float64
	MaxDischargeCurrentA *float64
	InsulationKohm       *float64

	ActiveAlarms []string

	// Raw carries every decoded register value keyed by logical name.
	Raw map[string]float64
}

// DerivePower fills PBessKw from voltage and current when the device does not
// report battery power directly.
func (s *Sample) DerivePower() {
	if s.PBessKw != nil || s.VoltageV == nil || s.CurrentA == nil {
		return
	}
	p := *s.VoltageV * *s.CurrentA / 1000.0
	s.PBessKw = &p
}

// Float is a convenience for building optional sample fields.
func Float(v float64) *float64 {
	return &v
}

// Int is a convenience for building optional sample fields.
func Int(v int) *int {
	return &v
}
