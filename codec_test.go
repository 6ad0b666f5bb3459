package modbus

import (
	"testing"
)

func TestReadRequestRoundTrip(t *testing.T) {
	r, err := NewAddressRange(100, 10)
	if err != nil {
		t.Fatal(err)
	}
	pdu, err := EncodeReadRequest(ReadHoldingRegisters, r)
	if err != nil {
		t.Fatal(err)
	}
	if FunctionCode(pdu[0]) != ReadHoldingRegisters {
		t.Fatalf("pdu[0] = %#x", pdu[0])
	}
	got, err := DecodeReadRequest(pdu[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestReadRequestRejectsOversizedCount(t *testing.T) {
	r, err := NewAddressRange(0, MaxReadRegistersCount+1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := EncodeReadRequest(ReadHoldingRegisters, r); err == nil {
		t.Fatal("expected InvalidRequest for oversized count")
	}
}

func TestReadBitsResponseRoundTrip(t *testing.T) {
	r, err := NewAddressRange(0, 13)
	if err != nil {
		t.Fatal(err)
	}
	values := make([]bool, 13)
	for i := range values {
		values[i] = i%3 == 0
	}
	pdu := EncodeReadBitsResponse(ReadCoils, values)
	got, err := DecodeReadBitsResponse(ReadCoils, pdu, r)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(values) {
		t.Fatalf("got %d values, want %d", len(got), len(values))
	}
	for i, v := range values {
		if got[i].Index != r.Start+uint16(i) || got[i].Value != v {
			t.Fatalf("index %d: got %+v, want value %v", i, got[i], v)
		}
	}
}

func TestReadRegistersResponseRoundTrip(t *testing.T) {
	r, err := NewAddressRange(7, 4)
	if err != nil {
		t.Fatal(err)
	}
	values := []uint16{1, 2, 3, 4}
	pdu := EncodeReadRegistersResponse(ReadInputRegisters, values)
	got, err := DecodeReadRegistersResponse(ReadInputRegisters, pdu, r)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range values {
		if got[i].Value != v {
			t.Fatalf("got[%d] = %+v, want value %d", i, got[i], v)
		}
	}
}

func TestDecodeResponseFunctionException(t *testing.T) {
	pdu := []byte{ReadHoldingRegisters.ExceptionCodeOf(), byte(IllegalDataAddress)}
	_, err := DecodeReadRegistersResponse(ReadHoldingRegisters, pdu, AddressRange{Start: 0, Count: 1})
	code, ok := AsException(err)
	if !ok {
		t.Fatalf("expected ExceptionError, got %v", err)
	}
	if code != IllegalDataAddress {
		t.Fatalf("code = %v, want IllegalDataAddress", code)
	}
}

func TestWriteSingleCoilRoundTrip(t *testing.T) {
	reqPDU := EncodeWriteSingleCoilRequest(12, true)
	req, err := DecodeWriteSingleCoilRequest(reqPDU[1:])
	if err != nil {
		t.Fatal(err)
	}
	if req.Index != 12 || req.Value != true {
		t.Fatalf("got %+v", req)
	}

	resPDU := EncodeWriteSingleCoilResponse(12, true)
	echo, err := DecodeWriteSingleCoilResponse(resPDU, req)
	if err != nil {
		t.Fatal(err)
	}
	if echo != req {
		t.Fatalf("echo %+v != request %+v", echo, req)
	}
}

func TestWriteSingleCoilEchoMismatch(t *testing.T) {
	req := NewIndexed[bool](12, true)
	resPDU := EncodeWriteSingleCoilResponse(12, false) // peer echoed the wrong value
	if _, err := DecodeWriteSingleCoilResponse(resPDU, req); err == nil {
		t.Fatal("expected echo mismatch error")
	}
}

func TestWriteMultipleCoilsRoundTrip(t *testing.T) {
	w := NewWriteMultiple(20, []bool{true, false, true, true, false, false, true, false, true})
	pdu, err := EncodeWriteMultipleCoilsRequest(w)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeWriteMultipleCoilsRequest(pdu[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != w.Start || len(got.Values) != len(w.Values) {
		t.Fatalf("got %+v", got)
	}
	for i := range w.Values {
		if got.Values[i] != w.Values[i] {
			t.Fatalf("value %d: got %v, want %v", i, got.Values[i], w.Values[i])
		}
	}

	r, _ := w.ToAddressRange()
	resPDU := EncodeWriteMultipleResponse(WriteMultipleCoils, r)
	echoed, err := DecodeWriteMultipleResponse(WriteMultipleCoils, resPDU, r)
	if err != nil {
		t.Fatal(err)
	}
	if echoed != r {
		t.Fatalf("echoed %+v != %+v", echoed, r)
	}
}

func TestWriteMultipleRegistersRoundTrip(t *testing.T) {
	w := NewWriteMultiple[uint16](0, []uint16{10, 20, 30})
	pdu, err := EncodeWriteMultipleRegistersRequest(w)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeWriteMultipleRegistersRequest(pdu[1:])
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range w.Values {
		if got.Values[i] != v {
			t.Fatalf("value %d: got %v, want %v", i, got.Values[i], v)
		}
	}
}

func TestReadWriteMultipleRegistersRoundTrip(t *testing.T) {
	req := ReadWriteMultipleRegistersRequest{
		Read:  AddressRange{Start: 0, Count: 3},
		Write: NewWriteMultiple[uint16](10, []uint16{100, 200}),
	}
	pdu, err := EncodeReadWriteMultipleRegistersRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeReadWriteMultipleRegistersRequest(pdu[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.Read != req.Read || got.Write.Start != req.Write.Start {
		t.Fatalf("got %+v", got)
	}

	resPDU := EncodeReadWriteMultipleRegistersResponse([]uint16{1, 2, 3})
	values, err := DecodeReadWriteMultipleRegistersResponse(resPDU, req.Read)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 || values[2].Value != 3 {
		t.Fatalf("got %+v", values)
	}
}

func TestByteCountMismatchDetected(t *testing.T) {
	// Declare a byte count that doesn't match the requested range.
	pdu := []byte{byte(ReadHoldingRegisters), 0x02, 0x00, 0x01}
	_, err := DecodeReadRegistersResponse(ReadHoldingRegisters, pdu, AddressRange{Start: 0, Count: 5})
	if err == nil {
		t.Fatal("expected byte count mismatch error")
	}
}
