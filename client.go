package modbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"
)

// Client is the async channel task described in spec.md §4.5: a single
// goroutine owns the transport and all in-flight correlation state, so no
// request ever races another for the wire. Callers enqueue through a
// bounded channel and block on a private reply slot; NewClient starts the
// task immediately in the Disabled→Connecting transition.
type Client struct {
	cfg   Config
	reqCh chan *clientRequest

	root  cancel.Context
	notif *notifier

	closeOnce sync.Once
	done      chan struct{}

	tidGen transactionIDGenerator
}

type clientRequest struct {
	unit    UnitId
	pdu     []byte
	deadline time.Time
	hasDeadline bool
	reply   chan clientReply
}

type clientReply struct {
	pdu []byte
	err error
}

// errReconnect is the internal sentinel serve() and serviceOne() return
// when the shutdown signal interrupts the Connected state. run() does not
// inspect serve's result; it checks shuttingDown() to choose between
// Shutdown and WaitAfterDisconnect.
var errReconnect = errors.New("modbus: reconnect")

// NewClient builds a Client from cfg and starts its channel task.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:   cfg,
		reqCh: make(chan *clientRequest, cfg.maxQueuedRequests()),
		root:  cancel.New(),
		notif: newNotifier(cfg.Listener),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Close signals shutdown and blocks until the channel task has drained all
// pending callers with ErrShutdown and exited.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.root.Cancel()
	})
	<-c.done
	return nil
}

func (c *Client) run() {
	defer close(c.done)
	defer c.notif.close()

	c.notif.post(Disabled)
	retry := c.cfg.retry()

	for {
		select {
		case <-c.root.Done():
			c.drainShutdown()
			c.notif.post(Shutdown)
			return
		default:
		}

		c.notif.post(Connecting)
		t, err := c.cfg.dial(c.root)
		if err != nil {
			if !c.sleep(retry.NextDelay()) {
				c.drainShutdown()
				c.notif.post(Shutdown)
				return
			}
			continue
		}

		retry.Reset()
		c.notif.post(Connected)
		_ = c.serve(t)
		t.Close()

		if c.shuttingDown() {
			c.drainShutdown()
			c.notif.post(Shutdown)
			return
		}
		if !c.sleep(retry.NextDelay()) {
			c.drainShutdown()
			c.notif.post(Shutdown)
			return
		}
	}
}

func (c *Client) shuttingDown() bool {
	select {
	case <-c.root.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d or an early shutdown signal, reporting whether it ran
// to completion (spec.md §4.5's cancellable reconnect sleep).
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.root.Done():
		return false
	}
}

// serve runs the Connected state: service requests one at a time until the
// transport fails, a request times out, or shutdown is signaled.
func (c *Client) serve(t transport) error {
	for {
		select {
		case <-c.root.Done():
			return errReconnect
		case req := <-c.reqCh:
			if err := c.serviceOne(t, req); err != nil {
				return err
			}
		}
	}
}

func (c *Client) serviceOne(t transport, req *clientRequest) error {
	tid := c.tidGen.next()
	if err := t.writeFrame(tid, req.unit, req.pdu); err != nil {
		werr := &TransportError{Err: err}
		req.reply <- clientReply{err: werr}
		return werr
	}

	type readResult struct {
		tid  uint16
		unit UnitId
		pdu  []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		tid2, unit2, pdu2, err2 := t.readFrame()
		resultCh <- readResult{tid2, unit2, pdu2, err2}
	}()

	var timerC <-chan time.Time
	if req.hasDeadline {
		timer := time.NewTimer(time.Until(req.deadline))
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			req.reply <- clientReply{err: res.err}
			return res.err
		}
		if res.tid != tid {
			err := &ADUParseError{Kind: KindBadTransactionId}
			req.reply <- clientReply{err: err}
			return err
		}
		req.reply <- clientReply{pdu: res.pdu}
		return nil

	case <-timerC:
		req.reply <- clientReply{err: ErrResponseTimeout}
		return ErrResponseTimeout

	case <-c.root.Done():
		req.reply <- clientReply{err: ErrShutdown}
		return errReconnect
	}
}

// drainShutdown answers every request still sitting in the queue with
// ErrShutdown once the task is no longer servicing it (spec.md §4.5).
func (c *Client) drainShutdown() {
	for {
		select {
		case req := <-c.reqCh:
			req.reply <- clientReply{err: ErrShutdown}
		default:
			return
		}
	}
}

// doRequest enqueues pdu and blocks for its reply, honoring ctx for both
// the enqueue and the wait (spec.md §5: abandoning the reply slot does not
// cancel the in-flight request on the wire). A ctx deadline that expires
// during the wait is reported as ErrResponseTimeout.
func (c *Client) doRequest(ctx context.Context, unit UnitId, pdu []byte) ([]byte, error) {
	req := &clientRequest{unit: unit, pdu: pdu, reply: make(chan clientReply, 1)}
	if dl, ok := ctx.Deadline(); ok {
		req.deadline, req.hasDeadline = dl, true
	}

	select {
	case <-c.root.Done():
		return nil, ErrShutdown
	default:
	}

	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.root.Done():
		return nil, ErrShutdown
	}

	select {
	case rep := <-req.reply:
		return rep.pdu, rep.err
	case <-c.done:
		// The task has exited; it may have answered just before doing so.
		select {
		case rep := <-req.reply:
			return rep.pdu, rep.err
		default:
			return nil, ErrShutdown
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrResponseTimeout
		}
		return nil, ctx.Err()
	}
}

// ---- typed request methods, one per function code (spec.md §4.2) ----

func (c *Client) ReadCoils(ctx context.Context, unit UnitId, r AddressRange) ([]Indexed[bool], error) {
	pdu, err := EncodeReadRequest(ReadCoils, r)
	if err != nil {
		return nil, err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return nil, err
	}
	return DecodeReadBitsResponse(ReadCoils, res, r)
}

func (c *Client) ReadDiscreteInputs(ctx context.Context, unit UnitId, r AddressRange) ([]Indexed[bool], error) {
	pdu, err := EncodeReadRequest(ReadDiscreteInputs, r)
	if err != nil {
		return nil, err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return nil, err
	}
	return DecodeReadBitsResponse(ReadDiscreteInputs, res, r)
}

func (c *Client) ReadHoldingRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]Indexed[uint16], error) {
	pdu, err := EncodeReadRequest(ReadHoldingRegisters, r)
	if err != nil {
		return nil, err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return nil, err
	}
	return DecodeReadRegistersResponse(ReadHoldingRegisters, res, r)
}

func (c *Client) ReadInputRegisters(ctx context.Context, unit UnitId, r AddressRange) ([]Indexed[uint16], error) {
	pdu, err := EncodeReadRequest(ReadInputRegisters, r)
	if err != nil {
		return nil, err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return nil, err
	}
	return DecodeReadRegistersResponse(ReadInputRegisters, res, r)
}

func (c *Client) WriteSingleCoil(ctx context.Context, unit UnitId, address uint16, value bool) error {
	pdu := EncodeWriteSingleCoilRequest(address, value)
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return err
	}
	_, err = DecodeWriteSingleCoilResponse(res, NewIndexed(address, value))
	return err
}

func (c *Client) WriteSingleRegister(ctx context.Context, unit UnitId, address, value uint16) error {
	pdu := EncodeWriteSingleRegisterRequest(address, value)
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return err
	}
	_, err = DecodeWriteSingleRegisterResponse(res, NewIndexed(address, value))
	return err
}

func (c *Client) WriteMultipleCoils(ctx context.Context, unit UnitId, w WriteMultiple[bool]) error {
	pdu, err := EncodeWriteMultipleCoilsRequest(w)
	if err != nil {
		return err
	}
	r, err := w.ToAddressRange()
	if err != nil {
		return err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return err
	}
	_, err = DecodeWriteMultipleResponse(WriteMultipleCoils, res, r)
	return err
}

func (c *Client) WriteMultipleRegisters(ctx context.Context, unit UnitId, w WriteMultiple[uint16]) error {
	pdu, err := EncodeWriteMultipleRegistersRequest(w)
	if err != nil {
		return err
	}
	r, err := w.ToAddressRange()
	if err != nil {
		return err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return err
	}
	_, err = DecodeWriteMultipleResponse(WriteMultipleRegisters, res, r)
	return err
}

func (c *Client) ReadWriteMultipleRegisters(ctx context.Context, unit UnitId, req ReadWriteMultipleRegistersRequest) ([]Indexed[uint16], error) {
	pdu, err := EncodeReadWriteMultipleRegistersRequest(req)
	if err != nil {
		return nil, err
	}
	res, err := c.doRequest(ctx, unit, pdu)
	if err != nil {
		return nil, err
	}
	return DecodeReadWriteMultipleRegistersResponse(res, req.Read)
}
