package telemetry

import "time"

// PlantState is the fused view of one site: the latest telemetry plus the
// control outputs computed by the site controller.
type PlantState struct {
	SiteID    string
	Timestamp time.Time
	Source    Source

	SocPct       float64
	SohPct       float64
	PBessKw      float64
	PPvKw        float64
	PLoadKw      float64
	PGridKw      float64
	VoltageV     float64
	CurrentA     float64
	TemperatureC float64

	StatusCode int
	StatusText string
	StatusBits string

	MaxChargePowerKw     float64
	MaxDischargePowerKw  float64
	MaxChargeCurrentA    float64
	MaxDischargeCurrentA float64
	InsulationKohm       float64

	ActiveAlarms []string
	Alarm        bool

	Mode               Mode
	ActiveStrategy     string
	OptimizationStatus OptimizationStatus

	// PriceEurMwh is the day-ahead price for the current hour, refreshed on
	// each optimization cycle.
	PriceEurMwh float64

	SetpointKw              float64
	ActivePowerLimitW       *float64
	PowerLimitReason        string
	DsoTrip                 bool
	SafetyAlarm             bool
	DsoLimitPct             *float64
	RemoteShutdownRequested bool
}

// Apply overwrites the state's telemetry fields with the values present in the
// sample. Absent fields keep their previous values.
func (p *PlantState) Apply(s Sample) {
	p.Timestamp = s.Timestamp
	p.Source = s.Source

	if s.SocPct != nil {
		p.SocPct = *s.SocPct
	}
	if s.SohPct != nil {
		p.SohPct = *s.SohPct
	}
	if s.PBessKw != nil {
		p.PBessKw = *s.PBessKw
	}
	if s.PPvKw != nil {
		p.PPvKw = *s.PPvKw
	}
	if s.PLoadKw != nil {
		p.PLoadKw = *s.PLoadKw
	}
	if s.PGridKw != nil {
		p.PGridKw = *s.PGridKw
	}
	if s.VoltageV != nil {
		p.VoltageV = *s.VoltageV
	}
	if s.CurrentA != nil {
		p.CurrentA = *s.CurrentA
	}
	if s.TemperatureC != nil {
		p.TemperatureC = *s.TemperatureC
	}
	if s.StatusCode != nil {
		p.StatusCode = *s.StatusCode
	}
	if s.StatusText != "" {
		p.StatusText = s.StatusText
	}
	if s.StatusBits != "" {
		p.StatusBits = s.StatusBits
	}
	if s.MaxChargePowerKw != nil {
		p.MaxChargePowerKw = *s.MaxChargePowerKw
	}
	if s.MaxDischargePowerKw != nil {
		p.MaxDischargePowerKw = *s.MaxDischargePowerKw
	}
	if s.MaxChargeCurrentA != nil {
		p.MaxChargeCurrentA = *s.MaxChargeCurrentA
	}
	if s.MaxDischargeCurrentA != nil {
		p.MaxDischargeCurrentA = *s.MaxDischargeCurrentA
	}
	if s.InsulationKohm != nil {
		p.InsulationKohm = *s.InsulationKohm
	}
	if s.ActiveAlarms != nil {
		p.ActiveAlarms = append([]string(nil), s.ActiveAlarms...)
		p.Alarm = len(s.ActiveAlarms) > 0
	}
}
