// Package serialporttest provides an in-memory serial port for tests.
package serialporttest

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
)

type Port struct {
	Name string
	Baud int

	mu       sync.Mutex
	incoming chan []byte
	pending  []byte
	writes   []string
	writeErr error
	readErrs []error
	timeout  time.Duration
	closed   bool
	closedCh chan struct{}
}

func New() *Port {
	return &Port{
		incoming: make(chan []byte, 64),
		timeout:  10 * time.Millisecond,
		closedCh: make(chan struct{}),
	}
}

// Feed queues bytes as if the board had sent them.
func (p *Port) Feed(data string) {
	p.incoming <- []byte(data)
}

// FailWrites makes every following Write return err (nil restores writes).
func (p *Port) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// FailRead makes the next Read return err once.
func (p *Port) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErrs = append(p.readErrs, err)
}

func (p *Port) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.readErrs) > 0 {
		err := p.readErrs[0]
		p.readErrs = p.readErrs[1:]
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	select {
	case data := <-p.incoming:
		n := copy(b, data)
		p.mu.Lock()
		p.pending = append(p.pending, data[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	case <-p.closedCh:
		return 0, io.ErrClosedPipe
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.writes = append(p.writes, string(b))
	return len(b), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("port already closed")
	}
	p.closed = true
	close(p.closedCh)
	return nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

// Opener hands out ports for a test. Each Open call takes the next queued
// port; OpenErr, when set, fails the call instead.
type Opener struct {
	mu      sync.Mutex
	ports   []*Port
	opened  []*Port
	OpenErr error
}

func NewOpener(ports ...*Port) *Opener {
	return &Opener{ports: ports}
}

func (o *Opener) Open(name string, baud int, readTimeout time.Duration) (serialport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if len(o.ports) == 0 {
		return nil, errors.New("serialporttest: no port available")
	}

	p := o.ports[0]
	o.ports = o.ports[1:]
	p.Name = name
	p.Baud = baud
	_ = p.SetReadTimeout(readTimeout)
	o.opened = append(o.opened, p)
	return p, nil
}

func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}
