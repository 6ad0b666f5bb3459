package modbus

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	modbusserial "github.com/modbusgo/modbus/serial"
)

// Server dispatches inbound Modbus requests to a Handler. One Server value
// can drive many connections (TCP/TLS, via Serve) and/or a single serial
// link (via ServeRTU) concurrently; all of them invoke the same Handler, so
// a Handler shared this way must be safe for concurrent use (spec.md §5).
// Within one connection or link, requests are handled one at a time.
type Server struct {
	Handler Handler

	// Logger receives one line per connection accepted/closed and per
	// malformed frame dropped. A nil Logger discards these.
	Logger *log.Logger
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// ListenAndServe opens the transport described by cfg (a bound TCP/TLS
// listener, or the configured serial port for RTU) and serves h on it
// until ctx is done. It is the single-call convenience entry point that
// mirrors how most Modbus deployments are actually wired: one
// configuration, one handler.
func ListenAndServe(ctx context.Context, cfg Config, h Handler, logger *log.Logger) error {
	s := &Server{Handler: h, Logger: logger}
	if cfg.Transport == TransportRTU {
		port, err := modbusserial.Open(cfg.Serial)
		if err != nil {
			return &TransportError{Err: err}
		}
		defer port.Close()
		return s.ServeRTU(ctx, port)
	}
	l, err := cfg.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l and serves MBAP-framed requests on each
// (spec.md §4.3). It is transport-agnostic: l may be a plain net.Listener
// or a tls.Listener, since both speak the same TCP byte stream and MBAP
// framing is identical over either. Serve blocks until ctx is done or
// Accept fails permanently.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveMBAPConn(ctx, conn)
		}()
	}
}

func (s *Server) serveMBAPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.logf("modbus: connection accepted from %s", conn.RemoteAddr())
	defer s.logf("modbus: connection closed from %s", conn.RemoteAddr())

	var mu sync.Mutex // guards conn writes; requests on one connection are handled one at a time
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	header := make([]byte, mbapHeaderLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := int(header[4])<<8 | int(header[5])
		if length < 1 || length > maxMBAPBodyLen+1 {
			return
		}
		rest := make([]byte, length-1)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		adu := append(append([]byte(nil), header...), rest...)

		wg.Add(1)
		func(adu []byte) {
			defer wg.Done()
			transactionID, unitID, pdu, err := DecodeMBAP(adu)
			if err != nil {
				s.logf("modbus: dropping unparseable frame: %v", err)
				return
			}
			resPDU := s.dispatch(ctx, UnitId(unitID), pdu)
			if resPDU == nil {
				return
			}
			res, err := EncodeMBAP(transactionID, unitID, resPDU)
			if err != nil {
				s.logf("modbus: dropping oversized response: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if _, err := conn.Write(res); err != nil {
				s.logf("modbus: write failed: %v", err)
			}
		}(adu)
	}
}

// ServeRTU reads framed requests off a serial link and writes framed
// responses back, one at a time: RTU is a multi-drop half-duplex bus, so
// unlike Serve there is a single link and no interleaving of responses
// (spec.md §4.3, §9). It returns when a read or write on port fails, or
// when ctx is done; ctx is checked before each read, so a read that is
// already blocked is not interrupted.
func (s *Server) ServeRTU(ctx context.Context, port io.ReadWriter) error {
	framer := NewRTUFramer(true)
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := port.Read(buf); err != nil {
			return err
		}
		unitID, pdu, ok := framer.PushByte(buf[0])
		if !ok {
			continue
		}
		resPDU := s.dispatch(ctx, UnitId(unitID), pdu)
		if resPDU == nil {
			continue
		}
		if _, err := port.Write(EncodeRTU(unitID, resPDU)); err != nil {
			return err
		}
	}
}

// dispatch decodes one PDU, invokes the matching Handler method, and
// encodes its result back to a PDU. It returns nil when no response should
// be sent at all (an empty inbound PDU, which has no function code to echo
// an exception against).
func (s *Server) dispatch(ctx context.Context, unit UnitId, pdu []byte) []byte {
	if len(pdu) < 1 {
		return nil
	}
	fc := FunctionCode(pdu[0])
	body := pdu[1:]

	if !fc.IsKnown() {
		return encodeException(fc, IllegalFunction)
	}

	switch fc {
	case ReadCoils, ReadDiscreteInputs:
		r, err := DecodeReadRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := r.checkMax(MaxReadBitsCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		var values []bool
		var ex ExceptionCode
		if fc == ReadCoils {
			values, ex = s.Handler.ReadCoils(ctx, unit, r)
		} else {
			values, ex = s.Handler.ReadDiscreteInputs(ctx, unit, r)
		}
		if ex != 0 {
			return encodeException(fc, ex)
		}
		if len(values) != int(r.Count) {
			s.logf("modbus: handler returned %d values for %d requested", len(values), r.Count)
			return encodeException(fc, ServerDeviceFailure)
		}
		return EncodeReadBitsResponse(fc, values)

	case ReadHoldingRegisters, ReadInputRegisters:
		r, err := DecodeReadRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := r.checkMax(MaxReadRegistersCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		var values []uint16
		var ex ExceptionCode
		if fc == ReadHoldingRegisters {
			values, ex = s.Handler.ReadHoldingRegisters(ctx, unit, r)
		} else {
			values, ex = s.Handler.ReadInputRegisters(ctx, unit, r)
		}
		if ex != 0 {
			return encodeException(fc, ex)
		}
		if len(values) != int(r.Count) {
			s.logf("modbus: handler returned %d values for %d requested", len(values), r.Count)
			return encodeException(fc, ServerDeviceFailure)
		}
		return EncodeReadRegistersResponse(fc, values)

	case WriteSingleCoil:
		req, err := DecodeWriteSingleCoilRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if ex := s.Handler.WriteSingleCoil(ctx, unit, req.Index, req.Value); ex != 0 {
			return encodeException(fc, ex)
		}
		return EncodeWriteSingleCoilResponse(req.Index, req.Value)

	case WriteSingleRegister:
		req, err := DecodeWriteSingleRegisterRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if ex := s.Handler.WriteSingleRegister(ctx, unit, req.Index, req.Value); ex != 0 {
			return encodeException(fc, ex)
		}
		return EncodeWriteSingleRegisterResponse(req.Index, req.Value)

	case WriteMultipleCoils:
		w, err := DecodeWriteMultipleCoilsRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		r, err := w.ToAddressRange()
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := r.checkMax(MaxWriteCoilsCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if ex := s.Handler.WriteMultipleCoils(ctx, unit, w); ex != 0 {
			return encodeException(fc, ex)
		}
		return EncodeWriteMultipleResponse(fc, r)

	case WriteMultipleRegisters:
		w, err := DecodeWriteMultipleRegistersRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		r, err := w.ToAddressRange()
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := r.checkMax(MaxWriteRegistersCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if ex := s.Handler.WriteMultipleRegisters(ctx, unit, w); ex != 0 {
			return encodeException(fc, ex)
		}
		return EncodeWriteMultipleResponse(fc, r)

	case ReadWriteMultipleRegisters:
		req, err := DecodeReadWriteMultipleRegistersRequest(body)
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := req.Read.checkMax(MaxReadWriteReadCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		wr, err := req.Write.ToAddressRange()
		if err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		if err := wr.checkMax(MaxReadWriteWriteCount); err != nil {
			return encodeException(fc, mapDecodeErr(err))
		}
		values, ex := s.Handler.ReadWriteMultipleRegisters(ctx, unit, req)
		if ex != 0 {
			return encodeException(fc, ex)
		}
		if len(values) != int(req.Read.Count) {
			s.logf("modbus: handler returned %d values for %d requested", len(values), req.Read.Count)
			return encodeException(fc, ServerDeviceFailure)
		}
		return EncodeReadWriteMultipleRegistersResponse(values)

	default:
		return encodeException(fc, IllegalFunction)
	}
}

func encodeException(fc FunctionCode, ex ExceptionCode) []byte {
	return []byte{fc.ExceptionCodeOf(), byte(ex)}
}

// mapDecodeErr turns a decode-time error into the exception code a server
// reports to the peer (spec.md §4.2/§7): a malformed address range that
// overflows the address space is IllegalDataAddress, everything else
// rejected before reaching the Handler is IllegalDataValue.
func mapDecodeErr(err error) ExceptionCode {
	var rangeErr *InvalidRange
	if errors.As(err, &rangeErr) && rangeErr.Kind == AddressOverflow {
		return IllegalDataAddress
	}
	return IllegalDataValue
}
