package modbus

import (
	"io"
	"net"
)

// transport is what the client channel task and the server's per-link loop
// both speak: a way to write one request/response PDU and read one back,
// framed according to the physical layer in use. TCP and TLS share
// mbapTransport (identical MBAP framing over an opaque byte stream,
// spec.md §6); RTU gets its own framer-driven implementation.
type transport interface {
	// writeFrame sends one PDU, addressed to unit, framed for the wire.
	writeFrame(transactionID uint16, unit UnitId, pdu []byte) error
	// readFrame blocks for exactly one framed PDU.
	readFrame() (transactionID uint16, unit UnitId, pdu []byte, err error)
	Close() error
}

// mbapTransport frames over a net.Conn (plain TCP or a TLS-wrapped
// connection; both implement net.Conn identically from here on).
type mbapTransport struct {
	conn net.Conn
}

func newMBAPTransport(conn net.Conn) *mbapTransport {
	return &mbapTransport{conn: conn}
}

func (t *mbapTransport) writeFrame(transactionID uint16, unit UnitId, pdu []byte) error {
	adu, err := EncodeMBAP(transactionID, byte(unit), pdu)
	if err != nil {
		return err
	}
	_, err = t.conn.Write(adu)
	return err
}

func (t *mbapTransport) readFrame() (transactionID uint16, unit UnitId, pdu []byte, err error) {
	header := make([]byte, mbapHeaderLen)
	if _, err = io.ReadFull(t.conn, header); err != nil {
		return 0, 0, nil, &TransportError{Err: err}
	}
	length := int(header[4])<<8 | int(header[5])
	if length < 1 || length > maxMBAPBodyLen+1 {
		return 0, 0, nil, &ADUParseError{Kind: KindFrameOverflow}
	}
	rest := make([]byte, length-1)
	if _, err = io.ReadFull(t.conn, rest); err != nil {
		return 0, 0, nil, &TransportError{Err: err}
	}
	adu := append(header, rest...)
	tid, uid, p, err := DecodeMBAP(adu)
	return tid, UnitId(uid), p, err
}

func (t *mbapTransport) Close() error {
	return t.conn.Close()
}

// rtuTransport frames over a serial link using CRC-terminated RTU framing.
// Unlike MBAP there is no transaction id on the wire, so readFrame echoes
// back the id writeFrame was last called with: the channel task only ever
// has one request in flight per transport (spec.md §4.5), so this is a
// faithful correlation, not a fabricated one.
type rtuTransport struct {
	port    io.ReadWriteCloser
	framer  *RTUFramer
	rxBuf   [1]byte
	lastTid uint16
}

func newRTUTransport(port io.ReadWriteCloser) *rtuTransport {
	return &rtuTransport{port: port, framer: NewRTUFramer(false)}
}

func (t *rtuTransport) writeFrame(transactionID uint16, unit UnitId, pdu []byte) error {
	t.lastTid = transactionID
	_, err := t.port.Write(EncodeRTU(byte(unit), pdu))
	return err
}

func (t *rtuTransport) readFrame() (transactionID uint16, unit UnitId, pdu []byte, err error) {
	for {
		if _, err := t.port.Read(t.rxBuf[:]); err != nil {
			return 0, 0, nil, &TransportError{Err: err}
		}
		uid, p, ok := t.framer.PushByte(t.rxBuf[0])
		if ok {
			return t.lastTid, UnitId(uid), p, nil
		}
	}
}

func (t *rtuTransport) Close() error {
	return t.port.Close()
}

var (
	_ transport = (*mbapTransport)(nil)
	_ transport = (*rtuTransport)(nil)
)
