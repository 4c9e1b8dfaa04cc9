package modbusreg

import "fmt"

// FunctionCode selects the Modbus access method for a register.
type FunctionCode uint8

const (
	FuncDiscreteInput FunctionCode = 2
	FuncHolding       FunctionCode = 3
	FuncInput         FunctionCode = 4
)

// DataType describes how the register words are interpreted.
type DataType string

const (
	U16 DataType = "u16"
	I16 DataType = "i16"
	U32 DataType = "u32"
	I32 DataType = "i32"
	F32 DataType = "float32"
)

// Words returns the number of 16-bit registers the type occupies.
func (d DataType) Words() uint16 {
	switch d {
	case U32, I32, F32:
		return 2
	default:
		return 1
	}
}

func (d DataType) signed() bool {
	return d == I16 || d == I32
}

// Category groups registers by their role in the device profile.
type Category string

const (
	CategoryTelemetry   Category = "telemetry"
	CategoryLimit       Category = "limit"
	CategoryStatus      Category = "status"
	CategoryDiagnostics Category = "diagnostics"
	CategoryAlarm       Category = "alarm"
	CategoryControl     Category = "control"
)

// Register describes one device register as printed in the vendor manual.
//
// Decoding reads Count words MSW-first, sign-extends when the type (or the
// Signed flag) says so, and applies `value = raw*Scale + Offset`.
type Register struct {
	Address     uint16
	Function    FunctionCode
	Count       uint16 // word count, 0 means derived from Type
	Type        DataType
	Scale       float64
	Offset      float64
	Unit        string
	Signed      bool
	ZeroBased   bool
	Category    Category
	Description string
}

func (r Register) words() uint16 {
	if r.Count > 0 {
		return r.Count
	}
	if r.Type == "" {
		return 1
	}
	return r.Type.Words()
}

func (r Register) scale() float64 {
	if r.Scale == 0 {
		return 1.0
	}
	return r.Scale
}

// WireAddress is the 0-based address sent on the wire.
func (r Register) WireAddress() uint16 {
	return NormalizeAddress(r.Address, r.Function, r.ZeroBased)
}

// Alarm describes one alarm bit. The default access method is a discrete
// input; register-backed alarms set Function to holding or input and test the
// bit within the register value.
type Alarm struct {
	Address     uint16
	Bit         uint8
	Function    FunctionCode
	ZeroBased   bool
	Description string
}

func (a Alarm) function() FunctionCode {
	if a.Function == 0 {
		return FuncDiscreteInput
	}
	return a.Function
}

// WireAddress is the 0-based address sent on the wire.
func (a Alarm) WireAddress() uint16 {
	return NormalizeAddress(a.Address, a.function(), a.ZeroBased)
}

// NormalizeAddress maps a manual-style address to the 0-based wire address.
// Addresses in the classic 4xxxx/3xxxx/1xxxx ranges are remapped per function
// code; other one-based addresses lose one with a floor of zero. Zero-based
// addresses pass through unchanged.
func NormalizeAddress(addr uint16, fc FunctionCode, zeroBased bool) uint16 {
	if zeroBased {
		return addr
	}
	switch fc {
	case FuncHolding:
		if addr >= 40001 {
			return addr - 40001
		}
	case FuncInput:
		if addr >= 30001 {
			return addr - 30001
		}
	case FuncDiscreteInput:
		if addr >= 10001 {
			return addr - 10001
		}
	}
	if addr == 0 {
		return 0
	}
	return addr - 1
}

// ConnectionKind selects the Modbus transport.
type ConnectionKind string

const (
	ConnectionTCP ConnectionKind = "tcp"
	ConnectionRTU ConnectionKind = "rtu"
)

// Connection describes how to reach a device: Port is "host:port" for TCP
// and the serial device path for RTU. Profiles ship defaults for everything
// but the target itself.
type Connection struct {
	Kind          ConnectionKind
	Port          string
	SlaveID       int
	TimeoutS      float64
	PollIntervalS float64
	Baudrate      int
	Parity        string
}

// Profile is an immutable bundle of registers, alarms and status codes for one
// device family.
type Profile struct {
	Name          string
	Label         string
	Manufacturer  string
	Documentation string
	Registers     map[string]Register
	Alarms        map[string]Alarm
	StatusCodes   map[int]string
	Defaults      Connection
}

// StatusText maps a status code to its label, falling back to a generic label
// for vendor-specific extensions.
func (p *Profile) StatusText(code int) string {
	if text, ok := p.StatusCodes[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown (%d)", code)
}
