package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/jt05610/flowchem/event"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"sync"
	"testing"
	"time"
)

func TestEventJSON(t *testing.T) {
	e := event.Event{
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Component: "pump",
		Kind:      event.RateChanged,
		Detail:    "0.5 mL/min",
	}
	bb, err := e.Marshal()
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(bb, &raw))
	assert.Equal(t, "rate-changed", raw["event"])
	assert.Equal(t, "pump", raw["component"])
	assert.Equal(t, "2024-01-02T03:04:05Z", raw["timestamp"])
}

func TestFanout(t *testing.T) {
	var a, b event.Recorder
	core, logs := observer.New(zap.InfoLevel)
	sink := event.Fanout{&a, &b, &event.LogSink{Logger: zap.New(core)}}
	sink.Emit(event.Event{Component: "p", Kind: event.Started})
	sink.Emit(event.Event{Component: "p", Kind: event.Error, Detail: "boom"})
	sink.Emit(event.Event{Component: "q", Kind: event.Stopped})

	assert.Equal(t, []event.Kind{event.Started, event.Error}, a.Kinds("p"))
	assert.Len(t, b.Events(), 3)
	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestChannelDrops(t *testing.T) {
	c := event.NewChannel(1)
	c.Emit(event.Event{Kind: event.Started})
	c.Emit(event.Event{Kind: event.Stopped})
	assert.Equal(t, 1, c.Dropped())
	assert.Equal(t, event.Started, (<-c.C()).Kind)
	c.Close()
	c.Emit(event.Event{Kind: event.Stopped})
	_, ok := <-c.C()
	assert.False(t, ok)
}

type fakeChannel struct {
	mu   sync.Mutex
	keys []string
	msgs []amqp.Publishing
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := event.NewPublisher(ch, "flowchem", nil)
	p.Emit(event.Event{Component: "valve", Kind: event.RateChanged, Detail: "waste"})
	p.Emit(event.Event{Kind: event.Stopped})
	require.NoError(t, p.Close())
	assert.Equal(t, []string{"flowchem/valve.rate-changed", "flowchem/run.stopped"}, ch.keys)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	var got event.Event
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &got))
	assert.Equal(t, "waste", got.Detail)

	p.Emit(event.Event{Component: "valve", Kind: event.Stopped})
	assert.Len(t, ch.keys, 2)
	assert.NoError(t, p.Close())
}

func TestPublisherBrokerError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ch := &fakeChannel{err: errors.New("broker gone")}
	p := event.NewPublisher(ch, "flowchem", zap.New(core))
	p.Emit(event.Event{Component: "valve", Kind: event.Stopped})
	require.NoError(t, p.Close())
	assert.Empty(t, ch.keys)
	assert.Equal(t, 1, logs.FilterMessage("publish event").Len())
}

// stalledChannel never completes a publish before its context ends.
type stalledChannel struct{}

func (stalledChannel) PublishWithContext(ctx context.Context, _, _ string, _, _ bool, _ amqp.Publishing) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPublisherStalledBroker(t *testing.T) {
	p := event.NewPublisher(stalledChannel{}, "flowchem", nil,
		event.WithQueueSize(4),
		event.WithPublishTimeout(200*time.Millisecond),
	)
	start := time.Now()
	for i := 0; i < 50; i++ {
		p.Emit(event.Event{Component: "pump", Kind: event.RateChanged})
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.GreaterOrEqual(t, p.Dropped(), 40)

	start = time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), time.Second)
}
