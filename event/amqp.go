package event

import (
	"context"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"sync"
	"time"
)

// AMQPChannel is the part of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends each event as JSON to a topic exchange with routing key
// "<component>.<event>". Emit only queues the event; one goroutine publishes,
// and events are dropped when the queue is full.
type Publisher struct {
	ch       AMQPChannel
	closer   func() error
	exchange string
	timeout  time.Duration
	logger   *zap.Logger

	queue   chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped int
}

// DefaultQueueSize is the number of events a Publisher buffers.
const DefaultQueueSize = 256

type PublisherOption func(*Publisher)

// WithPublishTimeout bounds each publish and the drain on Close.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = d
	}
}

func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		p.queue = make(chan Event, n)
	}
}

func NewPublisher(ch AMQPChannel, exchange string, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
		queue:    make(chan Event, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	go p.run()
	return p
}

// Dial connects to the broker at uri and declares exchange.
func Dial(uri, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(exchange, "topic", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p := NewPublisher(ch, exchange, logger)
	p.closer = conn.Close
	return p, nil
}

func RoutingKey(e Event) string {
	component := e.Component
	if component == "" {
		component = "run"
	}
	return component + "." + string(e.Kind)
}

// Emit queues e without waiting for the broker.
func (p *Publisher) Emit(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.dropped++
	}
}

// Dropped counts events discarded because the queue was full.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.queue {
		p.publish(e)
	}
}

func (p *Publisher) publish(e Event) {
	body, err := e.Marshal()
	if err != nil {
		p.logger.Error("marshal event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(e), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   e.Timestamp,
		Body:        body,
	})
	if err != nil {
		p.logger.Error("publish event", zap.String("key", RoutingKey(e)), zap.Error(err))
	}
}

// Close publishes what is queued, giving up after the publish timeout, and
// closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	t := time.NewTimer(p.timeout)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		p.cancel()
		<-p.done
	}
	p.cancel()
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
