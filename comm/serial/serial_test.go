package serial_test

import (
	"context"
	"errors"
	"github.com/jt05610/flowchem/comm/serial"
	"github.com/jt05610/flowchem/comm/serial/serialtest"
	"github.com/jt05610/flowchem/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"sync"
	"testing"
	"time"
)

func newPool(t *testing.T) (*serial.Pool, *serialtest.Opener) {
	o := serialtest.NewOpener()
	p := serial.NewPool(zaptest.NewLogger(t), serial.WithOpener(o.Open))
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p, o
}

func TestAcquireShares(t *testing.T) {
	ctx := context.Background()
	p, o := newPool(t)

	a, err := p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, o.Opens("COM3"))
	assert.Equal(t, 2, p.Refs(a))

	require.NoError(t, p.Release(a))
	assert.True(t, p.Open("COM3"))
	assert.False(t, o.Port("COM3").Closed())

	require.NoError(t, p.Release(b))
	assert.False(t, p.Open("COM3"))
	assert.True(t, o.Port("COM3").Closed())

	_, err = p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Opens("COM3"))
}

func TestAcquireErrors(t *testing.T) {
	ctx := context.Background()
	p, o := newPool(t)
	o.Fail("COM9", errors.New("no such device"))
	_, err := p.Acquire(ctx, "COM9", 9600)
	assert.ErrorIs(t, err, serial.ErrConnection)
	var ce *serial.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "COM9", ce.Port)

	_, err = p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "COM3", 115200)
	assert.ErrorIs(t, err, serial.ErrConnection)
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	p, o := newPool(t)
	c, err := p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	require.NoError(t, p.Send(ctx, c, wire.StopCommand(wire.Pins{Step: 2, Dir: 5})))
	assert.Equal(t, []string{`{"type":"stop","stepPin":2,"dirPin":5}`}, o.Port("COM3").Lines())

	o.Port("COM3").FailWrites(errors.New("unplugged"))
	assert.ErrorIs(t, p.Send(ctx, c, wire.Halt()), serial.ErrConnection)

	require.NoError(t, p.Release(c))
	assert.Panics(t, func() {
		_ = p.Send(ctx, c, wire.Halt())
	})
}

func TestSendDoesNotInterleave(t *testing.T) {
	ctx := context.Background()
	p, o := newPool(t)
	c, err := p.Acquire(ctx, "COM3", 9600)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, p.Send(ctx, c, wire.Go(i)))
		}(i)
	}
	wg.Wait()
	lines := o.Port("COM3").Lines()
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Regexp(t, `^GO\d+$`, l)
	}
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, o := newPool(t)
	rx := p.Subscribe(ctx)
	_, err := p.Acquire(ctx, "COM4", 9600)
	require.NoError(t, err)

	o.Port("COM4").Feed("ok 1\r\nok")
	o.Port("COM4").Feed(" 2\n")
	for _, want := range []string{"ok 1", "ok 2"} {
		select {
		case r := <-rx:
			assert.Equal(t, "COM4", r.Port)
			assert.Equal(t, want, r.Line)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-rx
		return !ok
	}, time.Second, 10*time.Millisecond)
}
