package modbus

import "context"

// Handler is the narrow capability the server dispatcher invokes for each
// inbound request (spec.md §6). One method exists per request family; the
// dispatcher has already validated the range and payload by the time it
// calls through, so implementations only need to answer for the storage
// they own.
//
// A zero ExceptionCode return means success. Any other value is encoded
// as a Modbus exception response; the connection remains open.
type Handler interface {
	ReadCoils(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode)
	ReadDiscreteInputs(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode)
	ReadHoldingRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode)
	ReadInputRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode)
	WriteSingleCoil(ctx context.Context, unit UnitId, addr uint16, value bool) ExceptionCode
	WriteSingleRegister(ctx context.Context, unit UnitId, addr, value uint16) ExceptionCode
	WriteMultipleCoils(ctx context.Context, unit UnitId, w WriteMultiple[bool]) ExceptionCode
	WriteMultipleRegisters(ctx context.Context, unit UnitId, w WriteMultiple[uint16]) ExceptionCode
	ReadWriteMultipleRegisters(ctx context.Context, unit UnitId, req ReadWriteMultipleRegistersRequest) ([]uint16, ExceptionCode)
}

// Mux implements Handler as a server-side request multiplexer: each field
// left nil responds with IllegalFunction, mirroring a device that doesn't
// support that family. All callbacks must be safe for concurrent use if a
// Mux is shared across connections (spec.md §5).
type Mux struct {
	ReadCoilsFunc                  func(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode)
	ReadDiscreteInputsFunc         func(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode)
	ReadHoldingRegistersFunc       func(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode)
	ReadInputRegistersFunc         func(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode)
	WriteSingleCoilFunc            func(ctx context.Context, unit UnitId, addr uint16, value bool) ExceptionCode
	WriteSingleRegisterFunc        func(ctx context.Context, unit UnitId, addr, value uint16) ExceptionCode
	WriteMultipleCoilsFunc         func(ctx context.Context, unit UnitId, w WriteMultiple[bool]) ExceptionCode
	WriteMultipleRegistersFunc     func(ctx context.Context, unit UnitId, w WriteMultiple[uint16]) ExceptionCode
	ReadWriteMultipleRegistersFunc func(ctx context.Context, unit UnitId, req ReadWriteMultipleRegistersRequest) ([]uint16, ExceptionCode)
}

var _ Handler = (*Mux)(nil)

func (m *Mux) ReadCoils(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode) {
	if m.ReadCoilsFunc == nil {
		return nil, IllegalFunction
	}
	return m.ReadCoilsFunc(ctx, unit, r)
}

func (m *Mux) ReadDiscreteInputs(ctx context.Context, unit UnitId, r AddressRange) ([]bool, ExceptionCode) {
	if m.ReadDiscreteInputsFunc == nil {
		return nil, IllegalFunction
	}
	return m.ReadDiscreteInputsFunc(ctx, unit, r)
}

func (m *Mux) ReadHoldingRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode) {
	if m.ReadHoldingRegistersFunc == nil {
		return nil, IllegalFunction
	}
	return m.ReadHoldingRegistersFunc(ctx, unit, r)
}

func (m *Mux) ReadInputRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]uint16, ExceptionCode) {
	if m.ReadInputRegistersFunc == nil {
		return nil, IllegalFunction
	}
	return m.ReadInputRegistersFunc(ctx, unit, r)
}

func (m *Mux) WriteSingleCoil(ctx context.Context, unit UnitId, addr uint16, value bool) ExceptionCode {
	if m.WriteSingleCoilFunc == nil {
		return IllegalFunction
	}
	return m.WriteSingleCoilFunc(ctx, unit, addr, value)
}

func (m *Mux) WriteSingleRegister(ctx context.Context, unit UnitId, addr, value uint16) ExceptionCode {
	if m.WriteSingleRegisterFunc == nil {
		return IllegalFunction
	}
	return m.WriteSingleRegisterFunc(ctx, unit, addr, value)
}

func (m *Mux) WriteMultipleCoils(ctx context.Context, unit UnitId, w WriteMultiple[bool]) ExceptionCode {
	if m.WriteMultipleCoilsFunc == nil {
		return IllegalFunction
	}
	return m.WriteMultipleCoilsFunc(ctx, unit, w)
}

func (m *Mux) WriteMultipleRegisters(ctx context.Context, unit UnitId, w WriteMultiple[uint16]) ExceptionCode {
	if m.WriteMultipleRegistersFunc == nil {
		return IllegalFunction
	}
	return m.WriteMultipleRegistersFunc(ctx, unit, w)
}

func (m *Mux) ReadWriteMultipleRegisters(ctx context.Context, unit UnitId, req ReadWriteMultipleRegistersRequest) ([]uint16, ExceptionCode) {
	if m.ReadWriteMultipleRegistersFunc == nil {
		return nil, IllegalFunction
	}
	return m.ReadWriteMultipleRegistersFunc(ctx, unit, req)
}
