package scheduler

import (
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/flowchem/apparatus"
	"github.com/jt05610/flowchem/device"
	"github.com/jt05610/flowchem/event"
	"github.com/jt05610/flowchem/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sort"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

var states = []string{
	Idle:      "idle",
	Running:   "running",
	Completed: "completed",
	Aborted:   "aborted",
}

func (s State) String() string {
	if int(s) < len(states) {
		return states[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrNotIdle = errors.New("runner is not idle")

// DefaultStopTimeout bounds each stop sent while aborting.
const DefaultStopTimeout = 2 * time.Second

// Runner executes one schedule against a set of drivers.
type Runner struct {
	drivers     map[string]device.Driver
	sink        event.Sink
	logger      *zap.Logger
	metrics     *Metrics
	stopTimeout time.Duration

	mu      sync.Mutex
	state   State
	started time.Time
	err     error
}

type Option func(*Runner)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithSink(sink event.Sink) Option {
	return func(r *Runner) {
		r.sink = sink
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.stopTimeout = d
	}
}

// NewRunner takes one driver per active component, keyed by driver name.
func NewRunner(drivers []device.Driver, opts ...Option) *Runner {
	r := &Runner{
		drivers:     make(map[string]device.Driver, len(drivers)),
		sink:        event.Discard,
		logger:      zap.NewNop(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, d := range drivers {
		r.drivers[d.Name()] = d
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is the error that aborted the run, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Elapsed is the time since the run started.
func (r *Runner) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

func (r *Runner) transition(to State, err error) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.err = err
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.State.Set(float64(to))
	}
	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if err != nil {
		fields = append(fields, zap.Error(err))
		r.logger.Error("run state changed", fields...)
		return
	}
	r.logger.Info("run state changed", fields...)
}

// Run drives every timeline of s concurrently and blocks until the run has
// completed or aborted. Cancelling ctx aborts the run; every device is sent a
// stop before Run returns.
func (r *Runner) Run(ctx context.Context, s *protocol.Schedule) error {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.state = Running
	r.mu.Unlock()

	timelines := s.Timelines()
	for _, tl := range timelines {
		if _, ok := r.drivers[tl.Component.Name]; !ok {
			err := apparatus.Invalid(tl.Component.Name, "no driver")
			r.transition(Aborted, err)
			return err
		}
	}

	opened := make([]device.Driver, 0, len(timelines))
	defer func() {
		for _, d := range opened {
			if err := d.Close(); err != nil {
				r.logger.Warn("close failed", zap.String("component", d.Name()), zap.Error(err))
			}
		}
	}()
	for _, tl := range timelines {
		d := r.drivers[tl.Component.Name]
		if err := d.Open(ctx); err != nil {
			err = fmt.Errorf("open %s: %w", tl.Component.Name, err)
			r.emit(tl.Component.Name, event.Error, err.Error(), 0)
			r.stopAll(opened)
			r.transition(Aborted, err)
			return err
		}
		opened = append(opened, d)
	}

	plan := newPlan(timelines)
	clk := newClock()
	r.mu.Lock()
	r.started = clk.origin
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.State.Set(float64(Running))
	}
	r.logger.Info("run started",
		zap.String("protocol", s.Name),
		zap.Int("components", len(timelines)),
		zap.Duration("duration", s.Duration()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, tl := range timelines {
		t := &task{
			runner: r,
			clock:  clk,
			tl:     tl,
			driver: r.drivers[tl.Component.Name],
			steps:  plan[tl.Component.Name],
		}
		g.Go(func() error {
			return t.run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		r.transition(Aborted, err)
		return err
	}
	r.transition(Completed, nil)
	return nil
}

func (r *Runner) stopAll(drivers []device.Driver) {
	var wg sync.WaitGroup
	for _, d := range drivers {
		wg.Add(1)
		go func(d device.Driver) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
			defer cancel()
			if err := d.Stop(ctx); err != nil {
				r.logger.Error("stop failed", zap.String("component", d.Name()), zap.Error(err))
			}
		}(d)
	}
	wg.Wait()
}

func (r *Runner) emit(component string, kind event.Kind, detail string, elapsed time.Duration) {
	if r.metrics != nil && kind != event.Error {
		r.metrics.Commands.WithLabelValues(component, string(kind)).Inc()
	}
	r.sink.Emit(event.Event{
		Timestamp: time.Now(),
		Elapsed:   elapsed,
		Component: component,
		Kind:      kind,
		Detail:    detail,
	})
}

func (r *Runner) activeDelta(d float64) {
	if r.metrics != nil {
		r.metrics.Active.Add(d)
	}
}

// clock is the run-wide time origin shared by every task.
type clock struct {
	origin time.Time
}

func newClock() *clock {
	return &clock{origin: time.Now()}
}

func (c *clock) elapsed() time.Duration {
	return time.Since(c.origin)
}

// until blocks until offset after the origin has passed.
func (c *clock) until(ctx context.Context, offset time.Duration) error {
	d := time.Until(c.origin.Add(offset))
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// step is one dispatch of a task: applying a window or stopping after it.
// Steps sharing a timestamp run in protocol insertion order: each waits for
// prev to close and closes done once dispatched.
type step struct {
	at     time.Duration
	window int
	stop   bool
	seq    int
	prev   chan struct{}
	done   chan struct{}
}

func newPlan(timelines []*protocol.Timeline) map[string][]*step {
	plan := make(map[string][]*step, len(timelines))
	all := make([]*step, 0)
	for _, tl := range timelines {
		steps := make([]*step, 0, len(tl.Windows)*2)
		for i, w := range tl.Windows {
			steps = append(steps, &step{at: w.Start, window: i, seq: w.Seq, done: make(chan struct{})})
			if i+1 < len(tl.Windows) && w.Contiguous(tl.Windows[i+1]) {
				continue
			}
			steps = append(steps, &step{at: w.End, window: i, stop: true, seq: w.Seq, done: make(chan struct{})})
		}
		plan[tl.Component.Name] = steps
		all = append(all, steps...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].at != all[j].at {
			return all[i].at < all[j].at
		}
		return all[i].seq < all[j].seq
	})
	for i := 1; i < len(all); i++ {
		if all[i].at == all[i-1].at {
			all[i].prev = all[i-1].done
		}
	}
	return plan
}

type task struct {
	runner  *Runner
	clock   *clock
	tl      *protocol.Timeline
	driver  device.Driver
	steps   []*step
	current apparatus.Setpoint
	moving  bool
}

func (t *task) name() string { return t.tl.Component.Name }

func (t *task) run(ctx context.Context) error {
	for _, s := range t.steps {
		if err := t.clock.until(ctx, s.at); err != nil {
			return t.abort(err)
		}
		if s.prev != nil {
			select {
			case <-ctx.Done():
				return t.abort(ctx.Err())
			case <-s.prev:
			}
		}
		err := t.dispatch(ctx, s)
		close(s.done)
		if err != nil {
			if ctx.Err() != nil {
				return t.abort(ctx.Err())
			}
			t.runner.emit(t.name(), event.Error, err.Error(), t.clock.elapsed())
			return t.abort(fmt.Errorf("%s: %w", t.name(), err))
		}
	}
	return nil
}

func (t *task) dispatch(ctx context.Context, s *step) error {
	if s.stop {
		return t.stop(ctx)
	}
	w := t.tl.Windows[s.window]
	if w.Value.Equal(t.current) && (t.moving || w.Value.IsZero()) {
		return nil
	}
	if w.Value.IsZero() && t.tl.Component.Kind != apparatus.Valve {
		return t.stop(ctx)
	}
	if err := t.driver.Set(ctx, w.Value); err != nil {
		return err
	}
	kind := event.RateChanged
	if !t.moving {
		kind = event.Started
		t.moving = true
		t.runner.activeDelta(1)
	}
	t.current = w.Value
	t.tl.Component.Setpoint = w.Value
	t.runner.emit(t.name(), kind, w.Value.String(), t.clock.elapsed())
	return nil
}

func (t *task) stop(ctx context.Context) error {
	if err := t.driver.Stop(ctx); err != nil {
		return err
	}
	t.current = apparatus.Setpoint{}
	t.tl.Component.Setpoint = apparatus.Setpoint{}
	if t.moving {
		t.moving = false
		t.runner.activeDelta(-1)
	}
	t.runner.emit(t.name(), event.Stopped, "", t.clock.elapsed())
	return nil
}

// abort sends a best-effort stop bounded by the runner's stop timeout and
// returns cause.
func (t *task) abort(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.runner.stopTimeout)
	defer cancel()
	if err := t.stop(ctx); err != nil {
		t.runner.logger.Error("stop on abort failed", zap.String("component", t.name()), zap.Error(err))
	}
	return cause
}
