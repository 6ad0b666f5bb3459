package modbus

// FunctionCode enumerates the canonical Modbus function codes this
// library supports (spec.md §3). The exception-response code for any
// function is FunctionCode|0x80.
type FunctionCode byte

const (
	ReadCoils                  FunctionCode = 0x01
	ReadDiscreteInputs         FunctionCode = 0x02
	ReadHoldingRegisters       FunctionCode = 0x03
	ReadInputRegisters         FunctionCode = 0x04
	WriteSingleCoil            FunctionCode = 0x05
	WriteSingleRegister        FunctionCode = 0x06
	WriteMultipleCoils         FunctionCode = 0x0F
	WriteMultipleRegisters     FunctionCode = 0x10
	ReadWriteMultipleRegisters FunctionCode = 0x17
)

// exceptionBit is the high bit a response function code carries to signal
// an exception payload follows (spec.md §3, §4.2).
const exceptionBit byte = 0x80

// ExceptionCodeOf returns the function code's exception-response byte.
func (fc FunctionCode) ExceptionCodeOf() byte {
	return byte(fc) | exceptionBit
}

// IsKnown reports whether fc is one of the function codes this library implements.
func (fc FunctionCode) IsKnown() bool {
	switch fc {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters,
		WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters,
		ReadWriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// Protocol maximums for the count field of each function (spec.md §4.2 table,
// plus the read/write-multiple-registers limits from Modbus Application
// Protocol v1.1b3, supplemented per SPEC_FULL.md §4.2).
const (
	MaxReadBitsCount           uint16 = 2000
	MaxReadRegistersCount      uint16 = 125
	MaxWriteCoilsCount         uint16 = 1968
	MaxWriteRegistersCount     uint16 = 123
	MaxReadWriteReadCount      uint16 = 125
	MaxReadWriteWriteCount     uint16 = 121
)
