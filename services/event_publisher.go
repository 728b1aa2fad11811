package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/utils"
)

// Order lifecycle event types.
const (
	OrderEventSubmitted = "order.submitted"
	OrderEventConfirmed = "order.confirmed"
	OrderEventFailed    = "order.failed"
	OrderEventCancelled = "order.cancelled"
)

// OrderEvent is published after an order transition commits. It carries
// enough for downstream consumers to log or notify without querying the
// database.
type OrderEvent struct {
	Type         string    `json:"type"`
	OrderID      uint      `json:"order_id"`
	RestaurantID uint      `json:"restaurant_id"`
	SessionPID   string    `json:"session_pid"`
	TableNumber  string    `json:"table_number"`
	Status       string    `json:"status"`
	Total        float64   `json:"total"`
	Lines        int       `json:"lines"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }

// AMQPPublisher publishes persistent JSON messages to a durable queue,
// reconnecting lazily after a broken connection. A failed dial is not
// retried until the cooldown passes, so an unreachable broker costs callers
// at most one bounded dial.
type AMQPPublisher struct {
	url   string
	queue string

	// DialTimeout caps connect plus handshake when ctx has no earlier deadline.
	DialTimeout time.Duration
	Cooldown    time.Duration
	Now         func() time.Time

	// lock is a one-slot semaphore so waiters can give up with their ctx.
	lock      chan struct{}
	conn      *amqp.Connection
	ch        *amqp.Channel
	downUntil time.Time
}

var ErrBrokerUnavailable = errors.New("event broker unavailable")

func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	return &AMQPPublisher{
		url:         url,
		queue:       queue,
		DialTimeout: 3 * time.Second,
		Cooldown:    10 * time.Second,
		lock:        make(chan struct{}, 1),
	}
}

func (p *AMQPPublisher) now() time.Time { return clock(p.Now).now() }

func (p *AMQPPublisher) acquire(ctx context.Context) error {
	select {
	case p.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for publisher: %w", ctx.Err())
	}
}

func (p *AMQPPublisher) release() { <-p.lock }

func (p *AMQPPublisher) Publish(ctx context.Context, event OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) dialTimeout(ctx context.Context) time.Duration {
	timeout := p.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	return timeout
}

func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	if p.now().Before(p.downUntil) {
		return nil, ErrBrokerUnavailable
	}
	timeout := p.dialTimeout(ctx)
	if timeout <= 0 {
		return nil, fmt.Errorf("dial broker: %w", context.DeadlineExceeded)
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		p.downUntil = p.now().Add(p.Cooldown)
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.downUntil = time.Time{}
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *AMQPPublisher) Close() error {
	p.lock <- struct{}{}
	defer p.release()
	p.reset()
	return nil
}

// publishEvent never fails the caller; the order state is already committed.
func publishEvent(publisher EventPublisher, event OrderEvent) {
	if publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := publisher.Publish(ctx, event); err != nil {
		utils.ErrorLogger.WithError(err).WithFields(logrus.Fields{
			"event": event.Type,
			"order": event.OrderID,
		}).Warn("order event not published")
	}
}

// ConsumeOrderEvents reads the queue and hands each decoded event to handle,
// redialing with backoff until ctx is cancelled. Messages that fail to decode
// or handle are rejected without requeue.
func ConsumeOrderEvents(ctx context.Context, url, queue string, handle func(OrderEvent) error) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			utils.ErrorLogger.WithError(err).Warnf("event consumer: dial failed, retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queue, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.ErrorLogger.WithError(err).Warn("event consumer: loop ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue string, handle func(OrderEvent) error) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(50, 0, false); err != nil {
		utils.ErrorLogger.WithError(err).Warn("event consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleDelivery(d.Body, handle); err != nil {
				utils.ErrorLogger.WithError(err).Warn("event consumer: rejecting message")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleDelivery(body []byte, handle func(OrderEvent) error) error {
	var event OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return handle(event)
}
