package profiles

import "github.com/gridvolt/emscontroller/modbusreg"

// Hithium returns the register map for the Hithium ESS 5.016/4.180 kWh
// container, SBMU to EMS side, per "BMS Communication Protocol with EMS via
// Modbus V1.6".
func Hithium() *modbusreg.Profile {
	return &modbusreg.Profile{
		Name:          "hithium_ess_5016",
		Label:         "Hithium ESS 5.016/4.180 kWh",
		Manufacturer:  "Hithium",
		Documentation: "BMS Communication Protocol with EMS via Modbus V1.6",
		Defaults: modbusreg.Connection{
			Kind:          modbusreg.ConnectionTCP,
			SlaveID:       1,
			TimeoutS:      3.0,
			PollIntervalS: 2.0,
		},
		StatusCodes: map[int]string{
			0: "Initialisierung",
			1: "Laden",
			2: "Entladen",
			3: "Bereit",
			5: "Ladesperre",
			6: "Entladesperre",
			7: "Lade- & Entladesperre",
			8: "Fehler",
		},
		Registers: map[string]modbusreg.Register{
			"soc_percent": {
				Address:     4,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Unit:        "%",
				Category:    modbusreg.CategoryTelemetry,
				Description: "System State of Charge",
			},
			"soh_percent": {
				Address:     5,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Unit:        "%",
				Category:    modbusreg.CategoryTelemetry,
				Description: "System State of Health",
			},
			"voltage_v": {
				Address:     2,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "V",
				Category:    modbusreg.CategoryTelemetry,
				Description: "System total voltage",
			},
			"current_a": {
				Address:     3,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Offset:      -3200.0,
				Unit:        "A",
				Category:    modbusreg.CategoryTelemetry,
				Description: "System current, positive values charging",
			},
			"temperature_c": {
				Address:     42,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Offset:      -40.0,
				Unit:        "°C",
				Category:    modbusreg.CategoryTelemetry,
				Description: "Average system temperature",
			},
			"max_discharge_power_kw": {
				Address:     32,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "kW",
				Category:    modbusreg.CategoryLimit,
				Description: "Allowed maximum discharge power",
			},
			"max_charge_power_kw": {
				Address:     33,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "kW",
				Category:    modbusreg.CategoryLimit,
				Description: "Allowed maximum charge power",
			},
			"max_discharge_current_a": {
				Address:     34,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "A",
				Category:    modbusreg.CategoryLimit,
				Description: "Allowed maximum discharge current",
			},
			"max_charge_current_a": {
				Address:     35,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       0.1,
				Unit:        "A",
				Category:    modbusreg.CategoryLimit,
				Description: "Allowed maximum charge current",
			},
			"insulation_resistance_kohm": {
				Address:     45,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Unit:        "kΩ",
				Category:    modbusreg.CategoryDiagnostics,
				Description: "System insulation resistance",
			},
			"status_code": {
				Address:     43,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryStatus,
				Description: "System status per BMS",
			},
			"pcs_comm_fault": {
				Address:     46,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryDiagnostics,
				Description: "Communication fault PCS-BMS, 0 OK 1 fault",
			},
			"ems_comm_fault": {
				Address:     47,
				Function:    modbusreg.FuncInput,
				Type:        modbusreg.U16,
				Scale:       1.0,
				Category:    modbusreg.CategoryDiagnostics,
				Description: "Communication fault EMS-BMS, 0 OK 1 fault",
			},
		},
		Alarms: map[string]modbusreg.Alarm{
			"charge_prohibited": {
				Address:     55,
				Bit:         0,
				Description: "Charging blocked",
			},
			"discharge_prohibited": {
				Address:     56,
				Bit:         0,
				Description: "Discharging blocked",
			},
			"system_fault": {
				Address:     57,
				Bit:         0,
				Description: "BMS system fault",
			},
			"contactor_abnormal_open": {
				Address:     53,
				Bit:         0,
				Description: "Contactor unexpectedly open",
			},
			"contactor_abnormal_closed": {
				Address:     54,
				Bit:         0,
				Description: "Contactor unexpectedly closed",
			},
		},
	}
}
