package modbus

import (
	"encoding/binary"
	"sync/atomic"
)

// This file implements the two wire framings named in spec.md §4.3: the
// 7-byte MBAP header used over TCP/TLS, and CRC-terminated RTU framing
// used over serial lines.

// mbapHeaderLen is the fixed MBAP header size (transaction-id, protocol-id,
// length, unit-id).
const mbapHeaderLen = 7

// maxMBAPBodyLen is the largest PDU that fits in an MBAP frame (spec.md §4.3).
const maxMBAPBodyLen = 253

// EncodeMBAP wraps pdu in an MBAP header for the given transaction and unit.
func EncodeMBAP(transactionID uint16, unitID byte, pdu []byte) ([]byte, error) {
	if len(pdu) > maxMBAPBodyLen {
		return nil, &ADUParseError{Kind: KindFrameOverflow}
	}
	length := uint16(1 + len(pdu))
	buf := make([]byte, mbapHeaderLen+len(pdu))
	w := NewWriteCursor(buf)
	_ = w.WriteU16BE(transactionID)
	_ = w.WriteU16BE(0) // protocol id, always 0
	_ = w.WriteU16BE(length)
	_ = w.WriteU8(unitID)
	_ = w.WriteBytes(pdu)
	return w.Written(), nil
}

// DecodeMBAP parses an MBAP header and yields the transaction id, unit id
// and PDU bytes (spec.md §4.3's decode rules).
func DecodeMBAP(adu []byte) (transactionID uint16, unitID byte, pdu []byte, err error) {
	cur := NewReadCursor(adu)
	transactionID, err = cur.ReadU16BE()
	if err != nil {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	protocolID, err := cur.ReadU16BE()
	if err != nil {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	if protocolID != 0 {
		return 0, 0, nil, &ADUParseError{Kind: KindUnknownProtocolId, Value: protocolID}
	}
	length, err := cur.ReadU16BE()
	if err != nil {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	if length < 1 {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	if length > maxMBAPBodyLen+1 {
		return 0, 0, nil, &ADUParseError{Kind: KindFrameOverflow}
	}
	unitID, err = cur.ReadU8()
	if err != nil {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	pdu, err = cur.ReadBytes(int(length) - 1)
	if err != nil {
		return 0, 0, nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	return transactionID, unitID, pdu, nil
}

// transactionIDGenerator produces a monotonically incrementing, freely
// wrapping 16-bit transaction id (spec.md §4.3). The channel task allows
// only one request in flight, so the id is informational on the wire but
// still echoed and checked.
type transactionIDGenerator struct {
	counter uint32
}

func (g *transactionIDGenerator) next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// ---- RTU framing ----

// rtuModbusPoly is the Modbus CRC-16 polynomial (0xA001, reflected).
const rtuModbusPoly = 0xA001

// crc16 computes the Modbus CRC-16 of data, initial value 0xFFFF.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ rtuModbusPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// EncodeRTU wraps pdu in RTU framing: unit id, pdu, CRC-16 (little-endian on the wire).
func EncodeRTU(unitID byte, pdu []byte) []byte {
	body := make([]byte, 1+len(pdu))
	body[0] = unitID
	copy(body[1:], pdu)
	crc := crc16(body)
	out := make([]byte, len(body)+2)
	copy(out, body)
	binary.LittleEndian.PutUint16(out[len(body):], crc)
	return out
}

// rtuFrameLength inspects the bytes accumulated so far and returns the
// total frame length (unit id + pdu + CRC) once it can be determined from
// the function-code-specific length rule (spec.md §4.3, §9: the framer
// must be driven byte-wise and must not require knowing full frame length
// up front). isRequest selects the request-side or response-side shape,
// since several function codes differ in variability between the two.
func rtuFrameLength(buf []byte, isRequest bool) (length int, determined bool) {
	if len(buf) < 2 {
		return 0, false
	}
	fc := buf[1]
	if !isRequest && fc&exceptionBit != 0 {
		return 5, true // unit + exception fc + exception code + crc16
	}
	switch FunctionCode(fc &^ exceptionBit) {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		if isRequest {
			return 8, true // unit + fc + start(2) + count(2) + crc16
		}
		if len(buf) < 3 {
			return 0, false
		}
		n := int(buf[2])
		return 3 + n + 2, true // unit + fc + bytecount + n + crc16
	case WriteSingleCoil, WriteSingleRegister:
		return 8, true // identical shape both directions (echo)
	case WriteMultipleCoils, WriteMultipleRegisters:
		if isRequest {
			if len(buf) < 7 {
				return 0, false
			}
			n := int(buf[6])
			return 7 + n + 2, true // unit + fc + start(2) + count(2) + bytecount + n + crc16
		}
		return 8, true // response echoes start+count only
	case ReadWriteMultipleRegisters:
		if isRequest {
			if len(buf) < 11 {
				return 0, false
			}
			n := int(buf[10])
			return 11 + n + 2, true
		}
		if len(buf) < 3 {
			return 0, false
		}
		n := int(buf[2])
		return 3 + n + 2, true
	default:
		return 0, false
	}
}

// RTUFramer accumulates bytes from an unreliable serial stream and yields
// complete, CRC-valid frames. On a CRC failure it discards the leading
// byte and keeps trying, resynchronizing without requiring inter-frame
// silence (spec.md §4.3, §9).
type RTUFramer struct {
	buf       []byte
	isRequest bool
}

// NewRTUFramer creates a framer for the request side (server reading
// requests) or the response side (client reading responses).
func NewRTUFramer(isRequest bool) *RTUFramer {
	return &RTUFramer{isRequest: isRequest}
}

// PushByte feeds one more byte read from the serial port. It returns a
// decoded (unitID, pdu) pair and ok=true once a CRC-valid frame has been
// assembled; otherwise ok is false and more bytes are needed.
func (f *RTUFramer) PushByte(b byte) (unitID byte, pdu []byte, ok bool) {
	f.buf = append(f.buf, b)
	for {
		if len(f.buf) < 2 {
			return 0, nil, false
		}
		// rtuFrameLength can only resolve a length once buf[1] is a byte it
		// recognizes as a function code; a byte in the noise that never maps
		// to one would otherwise pin the accumulator in "need more bytes"
		// forever. Drop it and keep resynchronizing before asking for a
		// length so corruption never stalls the framer (spec.md §4.3, §9).
		isException := !f.isRequest && f.buf[1]&exceptionBit != 0
		if !isException && !FunctionCode(f.buf[1]&^exceptionBit).IsKnown() {
			f.buf = f.buf[1:]
			continue
		}
		length, determined := rtuFrameLength(f.buf, f.isRequest)
		if !determined || len(f.buf) < length {
			return 0, nil, false
		}
		frame := f.buf[:length]
		if crc16(frame[:length-2]) == binary.LittleEndian.Uint16(frame[length-2:]) {
			unitID = frame[0]
			pdu = append([]byte(nil), frame[1:length-2]...)
			f.buf = f.buf[length:]
			return unitID, pdu, true
		}
		// CRC mismatch: drop the leading byte and resynchronize.
		f.buf = f.buf[1:]
		if len(f.buf) < 2 {
			return 0, nil, false
		}
	}
}

// Reset discards any partially accumulated frame, e.g. after an idle timeout.
func (f *RTUFramer) Reset() {
	f.buf = f.buf[:0]
}
