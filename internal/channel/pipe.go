package channel

import (
	"sync"

	"github.com/louisbranch/reflex/internal/protocol"
)

const pipeBuffer = 64

// Pipe is an in-process channel end, used by tests and by embedding hosts
// that run client and server in one process.
type Pipe struct {
	in  <-chan protocol.Frame
	out chan<- protocol.Frame

	closeOnce *sync.Once
	done      chan struct{}
}

// NewPipe creates two connected channel ends. Frames sent on one end arrive
// on the other in order. Closing either end closes both.
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan protocol.Frame, pipeBuffer)
	ba := make(chan protocol.Frame, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &Pipe{in: ba, out: ab, closeOnce: once, done: done}
	b := &Pipe{in: ab, out: ba, closeOnce: once, done: done}
	return a, b
}

// Send delivers a frame to the peer end.
func (p *Pipe) Send(frame protocol.Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Receive blocks until a frame arrives or either end closes.
func (p *Pipe) Receive() (protocol.Frame, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		// Drain frames that were in flight before the close.
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return protocol.Frame{}, ErrClosed
		}
	}
}

// Close tears both ends down.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
