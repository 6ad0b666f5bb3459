package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/GoAethereal/cancel"
)

func TestClientServerOverRTU(t *testing.T) {
	serverSide, clientSide := newHalfDuplexPair()
	defer serverSide.Close()
	defer clientSide.Close()

	holding := []uint16{7, 8, 9}
	s := &Server{Handler: testMux(holding)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.ServeRTU(ctx, serverSide)
		close(done)
	}()

	rtuClient := newRTUTransport(clientSide)
	defer rtuClient.Close()

	r, err := NewAddressRange(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	reqPDU, err := EncodeReadRequest(ReadHoldingRegisters, r)
	if err != nil {
		t.Fatal(err)
	}
	if err := rtuClient.writeFrame(0, DefaultUnitId, reqPDU); err != nil {
		t.Fatal(err)
	}

	resultCh := make(chan struct {
		pdu []byte
		err error
	}, 1)
	go func() {
		_, _, pdu, err := rtuClient.readFrame()
		resultCh <- struct {
			pdu []byte
			err error
		}{pdu, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatal(res.err)
		}
		values, err := DecodeReadRegistersResponse(ReadHoldingRegisters, res.pdu, r)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range holding {
			if values[i].Value != v {
				t.Fatalf("values[%d] = %d, want %d", i, values[i].Value, v)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RTU response")
	}
}

// TestClientServerOverRTUViaClient drives a real Client (the channel-task
// state machine, not just rtuTransport directly) against ServeRTU over the
// io.Pipe harness. NewClient's own dial step always opens a real serial
// port via Config.dial, which isn't available in this environment, so the
// Client is assembled by hand with the harness's transport already in
// place and serve() is driven directly — the same seam server_test.go uses
// to exercise serveMBAPConn without a real net.Listener.
func TestClientServerOverRTUViaClient(t *testing.T) {
	serverSide, clientSide := newHalfDuplexPair()
	defer serverSide.Close()
	defer clientSide.Close()

	holding := []uint16{11, 22, 33}
	s := &Server{Handler: testMux(holding)}
	ctx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	go s.ServeRTU(ctx, serverSide)

	c := &Client{
		cfg:   Config{},
		reqCh: make(chan *clientRequest, defaultMaxQueuedRequests),
		root:  cancel.New(),
		notif: newNotifier(nil),
		done:  make(chan struct{}),
	}
	defer c.root.Cancel()
	go func() {
		defer close(c.done)
		_ = c.serve(newRTUTransport(clientSide))
	}()

	reqCtx, cancelReq := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelReq()

	r, err := NewAddressRange(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.ReadHoldingRegisters(reqCtx, DefaultUnitId, r)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range holding {
		if values[i].Value != v {
			t.Fatalf("values[%d] = %d, want %d", i, values[i].Value, v)
		}
	}

	if err := c.WriteSingleRegister(reqCtx, DefaultUnitId, 1, 99); err != nil {
		t.Fatal(err)
	}
	if holding[1] != 99 {
		t.Fatalf("holding[1] = %d, want 99", holding[1])
	}
}
