package profiles

import "github.com/gridvolt/emscontroller/modbusreg"

// Wstech returns the register map for the WSTECH battery inverter (PCS side).
// The control registers live in the classic 4xxxx holding range, the telemetry
// in the 3xxxx input range.
func Wstech() *modbusreg.Profile {
	return &modbusreg.Profile{
		Name:         "wstech_pcs",
		Label:        "WSTECH PCS",
		Manufacturer: "WSTECH",
		Defaults: modbusreg.Connection{
			Kind:          modbusreg.ConnectionTCP,
			SlaveID:       1,
			TimeoutS:      3.0,
			PollIntervalS: 2.0,
		},
		StatusCodes: map[int]string{
			0: "Standby",
			1: "Netzparallelbetrieb",
			2: "Inselbetrieb",
			3: "Anfahren",
			4: "Abschaltung",
			8: "Fehler",
		},
		Registers: map[string]modbusreg.Register{
			"active_power_set_w": {
				Address:     40010,
				Function:    modbusreg.FuncHolding,
				Type:        modbusreg.I32,
				Scale:       1.0,
				Unit:        "W",
				Category:    modbusreg.CategoryControl,
				Description: "Active power setpoint, positive discharging",
			},
			"reactive_power_set_var": {
				Address:     40012,
				Function:    modbusreg.FuncHolding,
				Type:        modbusreg.I32,
				Scale:       1.0,
				Unit:        "var",
				Category:    modbusreg.CategoryControl,
				Description: "Reactive power setpoint",
			},
			"active_power_limit_pct": {
				Address:     40014,
				Function:    modbusreg.FuncHolding,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Unit:        "%",
				Category:    modbusreg.CategoryControl,
				Description: "Active power limit as percentage of nominal power",
			},
			"remote_enable": {
				Address:     40015,
				Function:    modbusreg.FuncHolding,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryControl,
				Description: "Remote enable, 1 run 0 stop",
			},
			"status_word": {
				Address:     30010,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryStatus,
				Description: "Inverter status word",
			},
			"active_power_w": {
				Address:     30012,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.I32,
				Scale:       1.0,
				Unit:        "W",
				Category:    modbusreg.CategoryTelemetry,
				Description: "Measured active power at the AC terminals",
			},
			"dc_voltage_v": {
				Address:     30016,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "V",
				Category:    modbusreg.CategoryTelemetry,
				Description: "DC link voltage",
			},
			"grid_frequency_hz": {
				Address:     30018,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.01,
				Unit:        "Hz",
				Category:    modbusreg.CategoryTelemetry,
				Description: "Grid frequency",
			},
			"dso_release_pct": {
				Address:     30020,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Unit:        "%",
				Category:    modbusreg.CategoryStatus,
				Description: "DSO power release in percent of nominal power",
			},
			"dso_trip": {
				Address:     30021,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryStatus,
				Description: "DSO remote trip, 1 tripped",
			},
		},
		Alarms: map[string]modbusreg.Alarm{
			"grid_fault": {
				Address:     10001,
				Bit:         0,
				Description: "Grid protection relay released",
			},
			"overtemperature": {
				Address:     10002,
				Bit:         0,
				Description: "Power stage overtemperature",
			},
			"dc_overvoltage": {
				Address:     10003,
				Bit:         0,
				Description: "DC link overvoltage",
			},
		},
	}
}
