package modbus

import (
	"io"
)

// halfDuplexPipe glues two io.Pipe pairs into a single full-duplex
// io.ReadWriteCloser, so ServeRTU and rtuTransport can talk to each other in
// a test without a real serial port.
type halfDuplexPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newHalfDuplexPair() (a, b *halfDuplexPipe) {
	r1, w1 := io.Pipe() // a -> b
	r2, w2 := io.Pipe() // b -> a
	a = &halfDuplexPipe{r: r2, w: w1}
	b = &halfDuplexPipe{r: r1, w: w2}
	return a, b
}

func (p *halfDuplexPipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *halfDuplexPipe) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *halfDuplexPipe) Close() error {
	p.r.Close()
	return p.w.Close()
}
