package modbus

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T, h Handler) (addr string, stop func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{Handler: h}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, l)
	return l.Addr().String(), func() {
		cancel()
		l.Close()
	}
}

func TestClientReadWriteHoldingRegisters(t *testing.T) {
	holding := []uint16{1, 2, 3, 4, 5}
	addr, stop := startTestServer(t, testMux(holding))
	defer stop()

	c := NewClient(Config{Transport: TransportTCP, Host: addr})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := NewAddressRange(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.ReadHoldingRegisters(ctx, DefaultUnitId, r)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range holding {
		if values[i].Value != v {
			t.Fatalf("values[%d] = %d, want %d", i, values[i].Value, v)
		}
	}

	if err := c.WriteSingleRegister(ctx, DefaultUnitId, 2, 99); err != nil {
		t.Fatal(err)
	}
	if holding[2] != 99 {
		t.Fatalf("holding[2] = %d, want 99", holding[2])
	}
}

func TestClientReceivesExceptionAsError(t *testing.T) {
	addr, stop := startTestServer(t, testMux(make([]uint16, 2)))
	defer stop()

	c := NewClient(Config{Transport: TransportTCP, Host: addr})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := NewAddressRange(0, 10) // out of range for a 2-register bank
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ReadHoldingRegisters(ctx, DefaultUnitId, r)
	code, ok := AsException(err)
	if !ok {
		t.Fatalf("expected ExceptionError, got %v", err)
	}
	if code != IllegalDataAddress {
		t.Fatalf("code = %v, want IllegalDataAddress", code)
	}
}

func TestClientPreflightValidationNeverTouchesTransport(t *testing.T) {
	// Nothing is listening on this port; a pre-flight validation failure
	// must be returned synchronously without the request ever reaching the
	// channel task, so this must not block on the 100ms deadline below.
	c := NewClient(Config{Transport: TransportTCP, Host: "127.0.0.1:1"})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	oversized := AddressRange{Start: 0, Count: MaxReadRegistersCount + 1}
	_, err := c.ReadHoldingRegisters(ctx, DefaultUnitId, oversized)
	var ireq *InvalidRequest
	if !errors.As(err, &ireq) {
		t.Fatalf("got %v, want *InvalidRequest", err)
	}
}

func TestClientRequestAfterCloseReturnsShutdown(t *testing.T) {
	addr, stop := startTestServer(t, testMux(make([]uint16, 4)))
	defer stop()

	c := NewClient(Config{Transport: TransportTCP, Host: addr})

	// Give the channel task time to connect before closing.
	time.Sleep(50 * time.Millisecond)
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, _ := NewAddressRange(0, 1)
	_, err := c.ReadHoldingRegisters(ctx, DefaultUnitId, r)
	if err != ErrShutdown && err != context.DeadlineExceeded {
		t.Fatalf("got %v, want ErrShutdown", err)
	}
}
