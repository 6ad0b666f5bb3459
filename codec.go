package modbus

// This file implements, for each function code in spec.md's table (§4.2),
// a request encoder/decoder and a response encoder/decoder operating on
// PDU bytes (function code byte included, transport-independent). The
// codec never touches framing (MBAP/RTU); see frame.go for that.

// packBits packs values low-order-bit-first into ceil(len(values)/8) bytes
// (spec.md §4.2 bit packing rule).
func packBits(values []bool) []byte {
	buf := make([]byte, byteCountForBits(uint16(len(values))))
	for i, v := range values {
		if v {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	return buf
}

// decodeResponseFunction consumes the function code byte of a response
// PDU. If the high bit is set, the next byte is the exception code and an
// *ExceptionError is returned. A function code that neither matches
// expected nor carries the exception bit is UnknownResponseFunction.
func decodeResponseFunction(pdu []byte, expected FunctionCode) ([]byte, error) {
	cur := NewReadCursor(pdu)
	fc, err := cur.ReadU8()
	if err != nil {
		return nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	if fc&exceptionBit != 0 {
		code, err := cur.ReadU8()
		if err != nil {
			return nil, &ADUParseError{Kind: KindInsufficientBytes}
		}
		return nil, &ExceptionError{Code: ExceptionCode(code)}
	}
	if fc != byte(expected) {
		return nil, &ADUParseError{Kind: KindUnknownResponseFunction, Byte: fc}
	}
	return cur.Remaining(), nil
}

// ---- Read coils / discrete inputs / holding / input registers ----

// EncodeReadRequest builds the request PDU for any of the four read
// function codes, after validating r against the function's maximum
// count (spec.md §4.2 pre-flight validation).
func EncodeReadRequest(fc FunctionCode, r AddressRange) ([]byte, error) {
	if err := r.checkMax(maxCountFor(fc)); err != nil {
		return nil, err
	}
	buf := make([]byte, 5)
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(fc))
	_ = w.WriteU16BE(r.Start)
	_ = w.WriteU16BE(r.Count)
	return w.Written(), nil
}

func maxCountFor(fc FunctionCode) uint16 {
	switch fc {
	case ReadCoils, ReadDiscreteInputs:
		return MaxReadBitsCount
	case ReadHoldingRegisters, ReadInputRegisters:
		return MaxReadRegistersCount
	default:
		return 0
	}
}

// DecodeReadRequest parses a server-side inbound read request body (the
// function code has already been dispatched on by the caller).
func DecodeReadRequest(body []byte) (AddressRange, error) {
	cur := NewReadCursor(body)
	start, err := cur.ReadU16BE()
	if err != nil {
		return AddressRange{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	count, err := cur.ReadU16BE()
	if err != nil {
		return AddressRange{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	return NewAddressRange(start, count)
}

// EncodeReadBitsResponse builds a response PDU for ReadCoils/ReadDiscreteInputs
// from the materialized bit values returned by the handler.
func EncodeReadBitsResponse(fc FunctionCode, values []bool) []byte {
	packed := packBits(values)
	buf := make([]byte, 2+len(packed))
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(fc))
	_ = w.WriteU8(byte(len(packed)))
	_ = w.WriteBytes(packed)
	return w.Written()
}

// DecodeReadBitsResponse validates and decodes a ReadCoils/ReadDiscreteInputs
// response against the originating request range.
func DecodeReadBitsResponse(fc FunctionCode, pdu []byte, req AddressRange) ([]Indexed[bool], error) {
	body, err := decodeResponseFunction(pdu, fc)
	if err != nil {
		return nil, err
	}
	cur := NewReadCursor(body)
	byteCount, err := cur.ReadU8()
	if err != nil {
		return nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	expected := byteCountForBits(req.Count)
	if int(byteCount) != expected {
		return nil, &ADUParseError{Kind: KindRequestByteCountMismatch, Declared: expected, Actual: int(byteCount)}
	}
	if cur.Len() != expected {
		return nil, &ADUParseError{Kind: KindInsufficientBytesForByteCount, Declared: int(byteCount), Actual: cur.Len()}
	}
	raw, err := cur.ReadBytes(expected)
	if err != nil {
		return nil, err
	}
	it, err := NewBitIterator(raw, req)
	if err != nil {
		return nil, err
	}
	out := make([]Indexed[bool], it.Len())
	for i, v := range it.Values() {
		out[i] = NewIndexed(req.Start+uint16(i), v)
	}
	return out, nil
}

// EncodeReadRegistersResponse builds a response PDU for
// ReadHoldingRegisters/ReadInputRegisters from the materialized register values.
func EncodeReadRegistersResponse(fc FunctionCode, values []uint16) []byte {
	buf := make([]byte, 2+2*len(values))
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(fc))
	_ = w.WriteU8(byte(2 * len(values)))
	for _, v := range values {
		_ = w.WriteU16BE(v)
	}
	return w.Written()
}

// DecodeReadRegistersResponse validates and decodes a
// ReadHoldingRegisters/ReadInputRegisters response against the originating
// request range.
func DecodeReadRegistersResponse(fc FunctionCode, pdu []byte, req AddressRange) ([]Indexed[uint16], error) {
	body, err := decodeResponseFunction(pdu, fc)
	if err != nil {
		return nil, err
	}
	cur := NewReadCursor(body)
	byteCount, err := cur.ReadU8()
	if err != nil {
		return nil, &ADUParseError{Kind: KindInsufficientBytes}
	}
	expected := 2 * int(req.Count)
	if int(byteCount) != expected {
		return nil, &ADUParseError{Kind: KindRequestByteCountMismatch, Declared: expected, Actual: int(byteCount)}
	}
	if cur.Len() != expected {
		return nil, &ADUParseError{Kind: KindInsufficientBytesForByteCount, Declared: int(byteCount), Actual: cur.Len()}
	}
	raw, err := cur.ReadBytes(expected)
	if err != nil {
		return nil, err
	}
	it, err := NewRegisterIterator(raw, req)
	if err != nil {
		return nil, err
	}
	out := make([]Indexed[uint16], it.Len())
	for i, v := range it.Values() {
		out[i] = NewIndexed(req.Start+uint16(i), v)
	}
	return out, nil
}

// ---- Write single coil ----

// EncodeWriteSingleCoilRequest builds the request PDU for WriteSingleCoil.
func EncodeWriteSingleCoilRequest(address uint16, value bool) []byte {
	buf := make([]byte, 5)
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(WriteSingleCoil))
	_ = w.WriteU16BE(address)
	_ = w.WriteU16BE(coilToU16(value))
	return w.Written()
}

// DecodeWriteSingleCoilRequest parses a server-side inbound request body.
func DecodeWriteSingleCoilRequest(body []byte) (Indexed[bool], error) {
	cur := NewReadCursor(body)
	addr, err := cur.ReadU16BE()
	if err != nil {
		return Indexed[bool]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	raw, err := cur.ReadU16BE()
	if err != nil {
		return Indexed[bool]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	v, err := coilFromU16(raw)
	if err != nil {
		return Indexed[bool]{}, err
	}
	return NewIndexed(addr, v), nil
}

// EncodeWriteSingleCoilResponse builds the (echoing) response PDU.
func EncodeWriteSingleCoilResponse(address uint16, value bool) []byte {
	return EncodeWriteSingleCoilRequest(address, value)
}

// DecodeWriteSingleCoilResponse validates the echo against the original request.
func DecodeWriteSingleCoilResponse(pdu []byte, req Indexed[bool]) (Indexed[bool], error) {
	body, err := decodeResponseFunction(pdu, WriteSingleCoil)
	if err != nil {
		return Indexed[bool]{}, err
	}
	got, err := DecodeWriteSingleCoilRequest(body)
	if err != nil {
		return Indexed[bool]{}, err
	}
	if got != req {
		return Indexed[bool]{}, &ADUParseError{Kind: KindReplyEchoMismatch}
	}
	return got, nil
}

// ---- Write single register ----

// EncodeWriteSingleRegisterRequest builds the request PDU for WriteSingleRegister.
func EncodeWriteSingleRegisterRequest(address, value uint16) []byte {
	buf := make([]byte, 5)
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(WriteSingleRegister))
	_ = w.WriteU16BE(address)
	_ = w.WriteU16BE(value)
	return w.Written()
}

// DecodeWriteSingleRegisterRequest parses a server-side inbound request body.
func DecodeWriteSingleRegisterRequest(body []byte) (Indexed[uint16], error) {
	cur := NewReadCursor(body)
	addr, err := cur.ReadU16BE()
	if err != nil {
		return Indexed[uint16]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	value, err := cur.ReadU16BE()
	if err != nil {
		return Indexed[uint16]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	return NewIndexed(addr, value), nil
}

// EncodeWriteSingleRegisterResponse builds the (echoing) response PDU.
func EncodeWriteSingleRegisterResponse(address, value uint16) []byte {
	return EncodeWriteSingleRegisterRequest(address, value)
}

// DecodeWriteSingleRegisterResponse validates the echo against the original request.
func DecodeWriteSingleRegisterResponse(pdu []byte, req Indexed[uint16]) (Indexed[uint16], error) {
	body, err := decodeResponseFunction(pdu, WriteSingleRegister)
	if err != nil {
		return Indexed[uint16]{}, err
	}
	got, err := DecodeWriteSingleRegisterRequest(body)
	if err != nil {
		return Indexed[uint16]{}, err
	}
	if got != req {
		return Indexed[uint16]{}, &ADUParseError{Kind: KindReplyEchoMismatch}
	}
	return got, nil
}

// ---- Write multiple coils ----

// EncodeWriteMultipleCoilsRequest builds the request PDU, validating the
// implied range against the function's maximum count.
func EncodeWriteMultipleCoilsRequest(w WriteMultiple[bool]) ([]byte, error) {
	r, err := w.ToAddressRange()
	if err != nil {
		return nil, err
	}
	if err := r.checkMax(MaxWriteCoilsCount); err != nil {
		return nil, err
	}
	packed := packBits(w.Values)
	buf := make([]byte, 6+len(packed))
	wc := NewWriteCursor(buf)
	_ = wc.WriteU8(byte(WriteMultipleCoils))
	_ = wc.WriteU16BE(r.Start)
	_ = wc.WriteU16BE(r.Count)
	_ = wc.WriteU8(byte(len(packed)))
	_ = wc.WriteBytes(packed)
	return wc.Written(), nil
}

// DecodeWriteMultipleCoilsRequest parses a server-side inbound request body.
func DecodeWriteMultipleCoilsRequest(body []byte) (WriteMultiple[bool], error) {
	cur := NewReadCursor(body)
	start, err := cur.ReadU16BE()
	if err != nil {
		return WriteMultiple[bool]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	count, err := cur.ReadU16BE()
	if err != nil {
		return WriteMultiple[bool]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	byteCount, err := cur.ReadU8()
	if err != nil {
		return WriteMultiple[bool]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	r, err := NewAddressRange(start, count)
	if err != nil {
		return WriteMultiple[bool]{}, err
	}
	expected := byteCountForBits(count)
	if int(byteCount) != expected {
		return WriteMultiple[bool]{}, &ADUParseError{Kind: KindRequestByteCountMismatch, Declared: expected, Actual: int(byteCount)}
	}
	if cur.Len() != expected {
		return WriteMultiple[bool]{}, &ADUParseError{Kind: KindInsufficientBytesForByteCount, Declared: int(byteCount), Actual: cur.Len()}
	}
	raw, err := cur.ReadBytes(expected)
	if err != nil {
		return WriteMultiple[bool]{}, err
	}
	it, err := NewBitIterator(raw, r)
	if err != nil {
		return WriteMultiple[bool]{}, err
	}
	return NewWriteMultiple(start, it.Values()), nil
}

// EncodeWriteMultipleResponse builds the shared write-multiple echo
// response (coils and registers share this wire shape).
func EncodeWriteMultipleResponse(fc FunctionCode, r AddressRange) []byte {
	buf := make([]byte, 5)
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(fc))
	_ = w.WriteU16BE(r.Start)
	_ = w.WriteU16BE(r.Count)
	return w.Written()
}

// DecodeWriteMultipleResponse validates a write-multiple echo response
// against the address range implied by the request.
func DecodeWriteMultipleResponse(fc FunctionCode, pdu []byte, req AddressRange) (AddressRange, error) {
	body, err := decodeResponseFunction(pdu, fc)
	if err != nil {
		return AddressRange{}, err
	}
	cur := NewReadCursor(body)
	start, err := cur.ReadU16BE()
	if err != nil {
		return AddressRange{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	count, err := cur.ReadU16BE()
	if err != nil {
		return AddressRange{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	got := AddressRange{Start: start, Count: count}
	if got != req {
		return AddressRange{}, &ADUParseError{Kind: KindReplyEchoMismatch}
	}
	return got, nil
}

// ---- Write multiple registers ----

// EncodeWriteMultipleRegistersRequest builds the request PDU, validating
// the implied range against the function's maximum count.
func EncodeWriteMultipleRegistersRequest(w WriteMultiple[uint16]) ([]byte, error) {
	r, err := w.ToAddressRange()
	if err != nil {
		return nil, err
	}
	if err := r.checkMax(MaxWriteRegistersCount); err != nil {
		return nil, err
	}
	buf := make([]byte, 6+2*len(w.Values))
	wc := NewWriteCursor(buf)
	_ = wc.WriteU8(byte(WriteMultipleRegisters))
	_ = wc.WriteU16BE(r.Start)
	_ = wc.WriteU16BE(r.Count)
	_ = wc.WriteU8(byte(2 * len(w.Values)))
	for _, v := range w.Values {
		_ = wc.WriteU16BE(v)
	}
	return wc.Written(), nil
}

// DecodeWriteMultipleRegistersRequest parses a server-side inbound request body.
func DecodeWriteMultipleRegistersRequest(body []byte) (WriteMultiple[uint16], error) {
	cur := NewReadCursor(body)
	start, err := cur.ReadU16BE()
	if err != nil {
		return WriteMultiple[uint16]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	count, err := cur.ReadU16BE()
	if err != nil {
		return WriteMultiple[uint16]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	byteCount, err := cur.ReadU8()
	if err != nil {
		return WriteMultiple[uint16]{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	if _, err := NewAddressRange(start, count); err != nil {
		return WriteMultiple[uint16]{}, err
	}
	expected := 2 * int(count)
	if int(byteCount) != expected {
		return WriteMultiple[uint16]{}, &ADUParseError{Kind: KindRequestByteCountMismatch, Declared: expected, Actual: int(byteCount)}
	}
	if cur.Len() != expected {
		return WriteMultiple[uint16]{}, &ADUParseError{Kind: KindInsufficientBytesForByteCount, Declared: int(byteCount), Actual: cur.Len()}
	}
	values := make([]uint16, count)
	for i := range values {
		v, err := cur.ReadU16BE()
		if err != nil {
			return WriteMultiple[uint16]{}, err
		}
		values[i] = v
	}
	return NewWriteMultiple(start, values), nil
}

// ---- Read/Write multiple registers (function 0x17) ----

// ReadWriteMultipleRegistersRequest bundles the read range and the write
// values of a combined 0x17 request (SPEC_FULL.md §4.2 supplemented feature).
type ReadWriteMultipleRegistersRequest struct {
	Read  AddressRange
	Write WriteMultiple[uint16]
}

// EncodeReadWriteMultipleRegistersRequest builds the request PDU.
func EncodeReadWriteMultipleRegistersRequest(req ReadWriteMultipleRegistersRequest) ([]byte, error) {
	if err := req.Read.checkMax(MaxReadWriteReadCount); err != nil {
		return nil, err
	}
	wr, err := req.Write.ToAddressRange()
	if err != nil {
		return nil, err
	}
	if err := wr.checkMax(MaxReadWriteWriteCount); err != nil {
		return nil, err
	}
	buf := make([]byte, 10+2*len(req.Write.Values))
	w := NewWriteCursor(buf)
	_ = w.WriteU8(byte(ReadWriteMultipleRegisters))
	_ = w.WriteU16BE(req.Read.Start)
	_ = w.WriteU16BE(req.Read.Count)
	_ = w.WriteU16BE(wr.Start)
	_ = w.WriteU16BE(wr.Count)
	_ = w.WriteU8(byte(2 * len(req.Write.Values)))
	for _, v := range req.Write.Values {
		_ = w.WriteU16BE(v)
	}
	return w.Written(), nil
}

// DecodeReadWriteMultipleRegistersRequest parses a server-side inbound request body.
func DecodeReadWriteMultipleRegistersRequest(body []byte) (ReadWriteMultipleRegistersRequest, error) {
	cur := NewReadCursor(body)
	readStart, err := cur.ReadU16BE()
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	readCount, err := cur.ReadU16BE()
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	writeStart, err := cur.ReadU16BE()
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	writeCount, err := cur.ReadU16BE()
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	byteCount, err := cur.ReadU8()
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindInsufficientBytes}
	}
	readRange, err := NewAddressRange(readStart, readCount)
	if err != nil {
		return ReadWriteMultipleRegistersRequest{}, err
	}
	if _, err := NewAddressRange(writeStart, writeCount); err != nil {
		return ReadWriteMultipleRegistersRequest{}, err
	}
	expected := 2 * int(writeCount)
	if int(byteCount) != expected || cur.Len() != expected {
		return ReadWriteMultipleRegistersRequest{}, &ADUParseError{Kind: KindRequestByteCountMismatch, Declared: expected, Actual: cur.Len()}
	}
	values := make([]uint16, writeCount)
	for i := range values {
		v, err := cur.ReadU16BE()
		if err != nil {
			return ReadWriteMultipleRegistersRequest{}, err
		}
		values[i] = v
	}
	return ReadWriteMultipleRegistersRequest{
		Read:  readRange,
		Write: NewWriteMultiple(writeStart, values),
	}, nil
}

// EncodeReadWriteMultipleRegistersResponse builds the response PDU from
// the materialized register values read by the handler.
func EncodeReadWriteMultipleRegistersResponse(values []uint16) []byte {
	return EncodeReadRegistersResponse(ReadWriteMultipleRegisters, values)
}

// DecodeReadWriteMultipleRegistersResponse validates and decodes the response.
func DecodeReadWriteMultipleRegistersResponse(pdu []byte, readRange AddressRange) ([]Indexed[uint16], error) {
	return DecodeReadRegistersResponse(ReadWriteMultipleRegisters, pdu, readRange)
}
