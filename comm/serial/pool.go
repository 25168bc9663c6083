package serial

import (
	"bytes"
	"context"
	"fmt"
	"github.com/jt05610/flowchem/wire"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Response is one line received from a device.
type Response struct {
	Port string
	Line string
	At   time.Time
}

// Conn is a shared handle on one open port. It stays open while at least one
// holder has acquired it.
type Conn struct {
	name    string
	baud    int
	handle  Port
	refs    int
	wmu     sync.Mutex
	closing chan struct{}
	done    chan struct{}
}

func (c *Conn) Port() string { return c.name }

func (c *Conn) Baud() int { return c.baud }

// Pool owns every open connection. At most one OS handle exists per port.
type Pool struct {
	open   Opener
	logger *zap.Logger
	mu     sync.Mutex
	conns  map[string]*Conn
	subMu  sync.RWMutex
	subs   map[chan Response]struct{}
}

type Option func(*Pool)

func WithOpener(open Opener) Option {
	return func(p *Pool) {
		p.open = open
	}
}

func NewPool(logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		open:   OpenPort,
		logger: logger,
		conns:  make(map[string]*Conn),
		subs:   make(map[chan Response]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Acquire returns the connection for port, opening it on first use.
func (p *Pool) Acquire(ctx context.Context, port string, baud int) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Port: port, Op: "open", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[port]; ok {
		if c.baud != baud {
			return nil, &ConnectionError{
				Port: port,
				Op:   "open",
				Err:  errBaud{have: c.baud, want: baud},
			}
		}
		c.refs++
		p.logger.Debug("shared connection", zap.String("port", port), zap.Int("refs", c.refs))
		return c, nil
	}
	h, err := p.open(port, baud)
	if err != nil {
		return nil, &ConnectionError{Port: port, Op: "open", Err: err}
	}
	c := &Conn{
		name:    port,
		baud:    baud,
		handle:  h,
		refs:    1,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.conns[port] = c
	go p.read(c)
	p.logger.Info("opened port", zap.String("port", port), zap.Int("baud", baud))
	return c, nil
}

type errBaud struct {
	have, want int
}

func (e errBaud) Error() string {
	return fmt.Sprintf("port already open at %d baud, requested %d", e.have, e.want)
}

// Release drops one reference. The last release stops the reader and closes
// the handle.
func (p *Pool) Release(c *Conn) error {
	p.mu.Lock()
	if c.refs == 0 {
		p.mu.Unlock()
		return nil
	}
	c.refs--
	if c.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.conns, c.name)
	p.mu.Unlock()
	return p.shutdown(c)
}

func (p *Pool) shutdown(c *Conn) error {
	close(c.closing)
	c.wmu.Lock()
	err := c.handle.Close()
	c.wmu.Unlock()
	<-c.done
	p.logger.Info("closed port", zap.String("port", c.name))
	if err != nil {
		return &ConnectionError{Port: c.name, Op: "close", Err: err}
	}
	return nil
}

// Refs reports how many holders share c.
func (p *Pool) Refs(c *Conn) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.refs
}

// Open reports whether a handle for port is currently open.
func (p *Pool) Open(port string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[port]
	return ok
}

// Send writes one record. Writes on a single connection never interleave.
// Sending on a released connection is a lifecycle bug and panics.
func (p *Pool) Send(ctx context.Context, c *Conn, rec wire.Record) error {
	p.mu.Lock()
	refs := c.refs
	p.mu.Unlock()
	if refs == 0 {
		panic("serial: send on released connection " + c.name)
	}
	bb, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Port: c.name, Op: "write", Err: err}
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.handle.Write(bb); err != nil {
		return &ConnectionError{Port: c.name, Op: "write", Err: err}
	}
	p.logger.Debug("sent", zap.String("port", c.name), zap.ByteString("data", bytes.TrimSpace(bb)))
	return nil
}

// Subscribe returns a channel of responses from every connection. It is
// closed when ctx is done. Slow subscribers miss lines.
func (p *Pool) Subscribe(ctx context.Context) <-chan Response {
	ch := make(chan Response, 64)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()
	go func() {
		<-ctx.Done()
		p.subMu.Lock()
		delete(p.subs, ch)
		p.subMu.Unlock()
		close(ch)
	}()
	return ch
}

func (p *Pool) publish(r Response) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for ch := range p.subs {
		select {
		case ch <- r:
		default:
			p.logger.Warn("dropped response", zap.String("port", r.Port))
		}
	}
}

func (p *Pool) read(c *Conn) {
	defer close(c.done)
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := c.handle.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := bytes.TrimSpace(pending[:i])
				pending = pending[i+1:]
				if len(line) > 0 {
					p.publish(Response{Port: c.name, Line: string(line), At: time.Now()})
				}
			}
		}
		select {
		case <-c.closing:
			return
		default:
		}
		if err != nil {
			p.logger.Error("read failed", zap.String("port", c.name), zap.Error(err))
			return
		}
	}
}

// Close shuts every connection regardless of holders.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for name, c := range p.conns {
		c.refs = 0
		conns = append(conns, c)
		delete(p.conns, name)
	}
	p.mu.Unlock()
	var first error
	for _, c := range conns {
		if err := p.shutdown(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
