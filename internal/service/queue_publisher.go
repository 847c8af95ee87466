package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/queue"
)

var (
	// ErrPublisherBusy is returned when the outgoing event buffer is full.
	ErrPublisherBusy = errors.New("event buffer full")
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("publisher closed")
)

// EventPublisher delivers auth events to downstream consumers.  Publishing
// is best effort: callers log a failed publish and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// NopPublisher drops every event.  It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.AuthEvent) error { return nil }

// AMQPOptions tunes an AMQPPublisher.
type AMQPOptions struct {
	Buffer      int           // events queued before Publish reports ErrPublisherBusy
	DialTimeout time.Duration // bounds connect plus AMQP handshake
	SendTimeout time.Duration // bounds one publish on an open channel
}

// AMQPPublisher publishes auth events to the durable auth.events queue.
// Publish only enqueues; a single background goroutine owns the broker
// connection, dials it lazily, redials after failures and sends the
// events.  Messages are marked as persistent.  Events that cannot be sent
// are logged and dropped.
type AMQPPublisher struct {
	url  string
	log  logging.Logger
	opts AMQPOptions

	events    chan queue.AuthEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the worker goroutine
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for the broker at url and starts its
// worker.  No connection is made until the first event arrives.
func NewAMQPPublisher(url string, log logging.Logger, opts AMQPOptions) *AMQPPublisher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	p := &AMQPPublisher{
		url:    url,
		log:    log,
		opts:   opts,
		events: make(chan queue.AuthEvent, opts.Buffer),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues ev for delivery and never waits on the broker.
func (p *AMQPPublisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrPublisherBusy
	}
}

// Close stops the worker and releases the broker connection.  Events still
// queued are dropped.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	defer p.reset()
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			if err := p.send(ev); err != nil {
				p.log.Warn(context.Background(), "rabbitmq: event dropped", "type", ev.Type, "user_id", ev.UserID, "err", err)
			}
		}
	}
}

func (p *AMQPPublisher) send(ev queue.AuthEvent) error {
	pub, err := publishing(ev)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx,
		"",                    // default exchange
		queue.AuthEventsQueue, // routing key = queue name
		false,                 // mandatory
		false,                 // immediate
		pub,
	); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// publishing builds the AMQP message for ev.  The message timestamp is the
// event's own OccurredAt.
func publishing(ev queue.AuthEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339, ev.OccurredAt)
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    ts.UTC(),
		Type:         ev.Type,
		Body:         body,
	}, nil
}

// channel returns an open channel, dialling when needed.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	// DefaultDial puts a deadline on the socket that covers the handshake,
	// so a broker that accepts TCP but never answers cannot stall the worker.
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.opts.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue.AuthEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Debug(context.Background(), "rabbitmq: publisher connected", "queue", queue.AuthEventsQueue)
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// publish sends ev stamped with now and logs a failure instead of
// returning it.
func publish(ctx context.Context, pub EventPublisher, log logging.Logger, now time.Time, ev queue.AuthEvent) {
	ev.OccurredAt = now.UTC().Format(time.RFC3339)
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn(ctx, "publish auth event failed", "type", ev.Type, "user_id", ev.UserID, "err", err)
	}
}
