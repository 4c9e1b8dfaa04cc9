package modbusreg

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Transport is the slice of the Modbus client API the engine needs. It is
// satisfied by grid-x/modbus clients and by test fakes.
type Transport interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// rtcBaseAddr is the first of six consecutive holding registers holding the
// BMS real-time clock as year-2000, month, day, hour, minute, second.
const rtcBaseAddr = 524

// Engine reads and writes logical registers of one device per its profile.
//
// The poller and the command writer share the underlying connection, so every
// transport access is serialized under the engine's lock.
type Engine struct {
	mu        sync.Mutex
	transport Transport
	profile   *Profile
}

func NewEngine(transport Transport, profile *Profile) *Engine {
	return &Engine{
		transport: transport,
		profile:   profile,
	}
}

func (e *Engine) Profile() *Profile {
	return e.profile
}

// Read fetches and decodes the named register.
func (e *Engine) Read(name string) (float64, error) {
	reg, ok := e.profile.Registers[name]
	if !ok {
		return 0, fmt.Errorf("unknown register '%s'", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.readLocked(name, reg)
}

func (e *Engine) readLocked(name string, reg Register) (float64, error) {
	words := reg.words()
	addr := reg.WireAddress()

	var (
		bytes []byte
		err   error
	)
	switch reg.Function {
	case FuncInput:
		bytes, err = e.transport.ReadInputRegisters(addr, words)
	case FuncHolding:
		bytes, err = e.transport.ReadHoldingRegisters(addr, words)
	case FuncDiscreteInput:
		bits, berr := e.transport.ReadDiscreteInputs(addr, 1)
		if berr != nil {
			return 0, fmt.Errorf("read discrete '%s': %w", name, berr)
		}
		if len(bits) < 1 {
			return 0, fmt.Errorf("read discrete '%s': empty response", name)
		}
		return float64(bits[0] & 0x01), nil
	default:
		return 0, fmt.Errorf("register '%s': unsupported function code %d", name, reg.Function)
	}
	if err != nil {
		return 0, fmt.Errorf("read register '%s': %w", name, err)
	}
	if len(bytes) < int(words)*2 {
		return 0, fmt.Errorf("read register '%s': short response (%d bytes)", name, len(bytes))
	}

	raw := decodeWords(bytes[:words*2], reg.Type, reg.Signed)
	return raw*reg.scale() + reg.Offset, nil
}

// ReadAlarm fetches the named alarm bit.
func (e *Engine) ReadAlarm(name string) (bool, error) {
	alarm, ok := e.profile.Alarms[name]
	if !ok {
		return false, fmt.Errorf("unknown alarm '%s'", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	addr := alarm.WireAddress()

	switch alarm.function() {
	case FuncDiscreteInput:
		bits, err := e.transport.ReadDiscreteInputs(addr, 1)
		if err != nil {
			return false, fmt.Errorf("read alarm '%s': %w", name, err)
		}
		if len(bits) < 1 {
			return false, fmt.Errorf("read alarm '%s': empty response", name)
		}
		return bits[0]&0x01 != 0, nil
	case FuncHolding, FuncInput:
		var (
			bytes []byte
			err   error
		)
		if alarm.function() == FuncHolding {
			bytes, err = e.transport.ReadHoldingRegisters(addr, 1)
		} else {
			bytes, err = e.transport.ReadInputRegisters(addr, 1)
		}
		if err != nil {
			return false, fmt.Errorf("read alarm '%s': %w", name, err)
		}
		if len(bytes) < 2 {
			return false, fmt.Errorf("read alarm '%s': short response", name)
		}
		value := binary.BigEndian.Uint16(bytes)
		return value&(1<<alarm.Bit) != 0, nil
	default:
		return false, fmt.Errorf("alarm '%s': unsupported function code %d", name, alarm.Function)
	}
}

// Write encodes the value and writes it to the named holding register.
// Registers with any other function code are not writable.
func (e *Engine) Write(name string, value float64) error {
	reg, ok := e.profile.Registers[name]
	if !ok {
		return fmt.Errorf("unknown register '%s'", name)
	}
	if reg.Function != FuncHolding {
		return fmt.Errorf("register '%s' is not writable (function code %d)", name, reg.Function)
	}

	raw := int64(math.Round((value - reg.Offset) / reg.scale()))
	words := reg.words()
	bytes := encodeWords(raw, reg.Type)

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.transport.WriteMultipleRegisters(reg.WireAddress(), words, bytes)
	if err != nil {
		return fmt.Errorf("write register '%s': %w", name, err)
	}
	return nil
}

// SyncTime aligns the BMS real-time clock by writing six consecutive holding
// registers starting at 524.
func (e *Engine) SyncTime(now time.Time) error {
	now = now.UTC()

	bytes := make([]byte, 12)
	binary.BigEndian.PutUint16(bytes[0:], uint16(now.Year()-2000))
	binary.BigEndian.PutUint16(bytes[2:], uint16(now.Month()))
	binary.BigEndian.PutUint16(bytes[4:], uint16(now.Day()))
	binary.BigEndian.PutUint16(bytes[6:], uint16(now.Hour()))
	binary.BigEndian.PutUint16(bytes[8:], uint16(now.Minute()))
	binary.BigEndian.PutUint16(bytes[10:], uint16(now.Second()))

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.transport.WriteMultipleRegisters(rtcBaseAddr, 6, bytes)
	if err != nil {
		return fmt.Errorf("sync time: %w", err)
	}
	return nil
}

// decodeWords combines big-endian register words (high word first) into a
// number, sign-extending signed types.
func decodeWords(b []byte, dt DataType, signed bool) float64 {
	switch dt {
	case F32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case U32, I32:
		raw := binary.BigEndian.Uint32(b)
		if dt.signed() || signed {
			return float64(int32(raw))
		}
		return float64(raw)
	default:
		raw := binary.BigEndian.Uint16(b)
		if dt.signed() || signed {
			return float64(int16(raw))
		}
		return float64(raw)
	}
}

// encodeWords is the inverse of decodeWords for integer types.
func encodeWords(raw int64, dt DataType) []byte {
	switch dt {
	case F32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(raw)))
		return b
	case U32, I32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(raw))
		return b
	default:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(raw))
		return b
	}
}
