package modbus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cursor primitives (spec.md §4.1). These are
// compared with errors.Is since they carry no payload.
var (
	ErrInsufficientBytes        = errors.New("modbus: insufficient bytes")
	ErrInsufficientBytesForWrite = errors.New("modbus: insufficient bytes for write")
)

// Channel-level sentinels (spec.md §7).
var (
	// ErrResponseTimeout is returned to a caller whose per-request deadline expired.
	ErrResponseTimeout = errors.New("modbus: response timeout")
	// ErrShutdown is returned to every caller, pending or future, once the channel has terminated.
	ErrShutdown = errors.New("modbus: channel shutdown")
	// ErrInternal indicates an invariant violation; it signals a library bug, not a peer fault.
	ErrInternal = errors.New("modbus: internal error")
)

// InvalidRange is raised at AddressRange construction time.
type InvalidRange struct {
	Kind  InvalidRangeKind
	Start uint16
	Count uint16
}

// InvalidRangeKind enumerates the reasons an AddressRange can fail to construct.
type InvalidRangeKind int

const (
	// CountOfZero means the requested count was zero; every Modbus range needs at least one element.
	CountOfZero InvalidRangeKind = iota
	// AddressOverflow means start+count-1 exceeds the 16-bit address space.
	AddressOverflow
)

func (e *InvalidRange) Error() string {
	switch e.Kind {
	case CountOfZero:
		return "modbus: count of zero"
	case AddressOverflow:
		return fmt.Sprintf("modbus: address overflow (start=%d, count=%d)", e.Start, e.Count)
	default:
		return "modbus: invalid range"
	}
}

// InvalidRequest is raised before any bytes are sent to the peer (spec.md §4.2 pre-flight checks).
type InvalidRequest struct {
	Kind   InvalidRequestKind
	Actual int
	Max    int
}

// InvalidRequestKind enumerates the reasons a request fails pre-flight validation.
type InvalidRequestKind int

const (
	// CountTooBigForType means the requested count exceeds the function's protocol maximum.
	CountTooBigForType InvalidRequestKind = iota
	// CountTooBigForU16 means a WriteMultiple's value count doesn't fit in a uint16.
	CountTooBigForU16
)

func (e *InvalidRequest) Error() string {
	switch e.Kind {
	case CountTooBigForType:
		return fmt.Sprintf("modbus: count %d too big for function (max %d)", e.Actual, e.Max)
	case CountTooBigForU16:
		return fmt.Sprintf("modbus: count %d too big for u16", e.Actual)
	default:
		return "modbus: invalid request"
	}
}

// ADUParseError enumerates the ways an inbound ADU can fail to decode (spec.md §4.2/§7).
type ADUParseError struct {
	Kind     ADUParseErrorKind
	Declared int
	Actual   int
	Value    uint16
	Byte     byte
}

// ADUParseErrorKind is the discriminant of ADUParseError.
type ADUParseErrorKind int

const (
	KindInsufficientBytes ADUParseErrorKind = iota
	KindInsufficientBytesForByteCount
	KindRequestByteCountMismatch
	KindUnknownCoilState
	KindUnknownResponseFunction
	KindReplyEchoMismatch
	KindUnknownProtocolId
	KindBadTransactionId
	KindFrameOverflow
)

func (e *ADUParseError) Error() string {
	switch e.Kind {
	case KindInsufficientBytes:
		return "modbus: insufficient bytes"
	case KindInsufficientBytesForByteCount:
		return fmt.Sprintf("modbus: insufficient bytes for declared byte count %d (have %d)", e.Declared, e.Actual)
	case KindRequestByteCountMismatch:
		return fmt.Sprintf("modbus: byte count mismatch (expected %d, got %d)", e.Declared, e.Actual)
	case KindUnknownCoilState:
		return fmt.Sprintf("modbus: unknown coil state 0x%04X", e.Value)
	case KindUnknownResponseFunction:
		return fmt.Sprintf("modbus: unknown response function 0x%02X", e.Byte)
	case KindReplyEchoMismatch:
		return "modbus: reply echo mismatch"
	case KindUnknownProtocolId:
		return fmt.Sprintf("modbus: unknown protocol id %d", e.Value)
	case KindBadTransactionId:
		return "modbus: bad transaction id"
	case KindFrameOverflow:
		return "modbus: frame overflow"
	default:
		return "modbus: ADU parse error"
	}
}

// TransportError wraps an underlying I/O failure from the byte-stream transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
