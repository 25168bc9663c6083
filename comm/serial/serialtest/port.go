// Package serialtest provides in-memory ports for exercising the pool and
// device drivers without hardware.
package serialtest

import (
	"errors"
	"github.com/jt05610/flowchem/comm/serial"
	"io"
	"strings"
	"sync"
	"time"
)

var ErrClosed = errors.New("port closed")

// Write is one recorded write with the time it happened.
type Write struct {
	At   time.Time
	Data []byte
}

// Port records writes and serves lines pushed with Feed.
type Port struct {
	Name string
	Baud int

	mu       sync.Mutex
	writes   []Write
	failWith error
	pending  []byte
	rx       chan []byte
	closed   chan struct{}
	once     sync.Once
}

var _ serial.Port = (*Port)(nil)

func NewPort(name string, baud int) *Port {
	return &Port{
		Name:   name,
		Baud:   baud,
		rx:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	select {
	case data := <-p.rx:
		n := copy(b, data)
		if n < len(data) {
			p.mu.Lock()
			p.pending = append(p.pending, data[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed() {
		return 0, ErrClosed
	}
	if p.failWith != nil {
		return 0, p.failWith
	}
	data := make([]byte, len(b))
	copy(data, b)
	p.writes = append(p.writes, Write{At: time.Now(), Data: data})
	return len(b), nil
}

func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.closed)
	})
	return nil
}

func (p *Port) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Feed queues data for the reader.
func (p *Port) Feed(data string) {
	p.rx <- []byte(data)
}

// FailWrites makes every following write return err.
func (p *Port) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

func (p *Port) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]Write, len(p.writes))
	copy(ret, p.writes)
	return ret
}

// Lines returns the written records with trailing terminators removed.
func (p *Port) Lines() []string {
	ww := p.Writes()
	ret := make([]string, len(ww))
	for i, w := range ww {
		ret[i] = strings.TrimRight(string(w.Data), "\r\n")
	}
	return ret
}

// Opener hands out a fresh Port on every open and remembers the latest one per
// name.
type Opener struct {
	mu    sync.Mutex
	ports map[string]*Port
	opens map[string]int
	fail  map[string]error
}

func NewOpener() *Opener {
	return &Opener{
		ports: make(map[string]*Port),
		opens: make(map[string]int),
		fail:  make(map[string]error),
	}
}

func (o *Opener) Open(name string, baud int) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.fail[name]; ok {
		return nil, err
	}
	p := NewPort(name, baud)
	o.ports[name] = p
	o.opens[name]++
	return p, nil
}

// Fail makes opening name return err.
func (o *Opener) Fail(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[name] = err
}

func (o *Opener) Port(name string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[name]
}

func (o *Opener) Opens(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[name]
}
