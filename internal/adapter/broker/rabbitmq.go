// Package broker adapts the event protocol onto RabbitMQ, with an in-memory
// bus for tests and single-process wiring.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

// ErrPublishNacked is returned when the broker refuses a published message.
var ErrPublishNacked = errors.New("broker: publish not confirmed")

// RabbitBus implements events.Bus over a single AMQP connection. Publishing
// uses one confirm-mode channel guarded by a mutex; every subscription owns
// its channel.
type RabbitBus struct {
	conn           *amqp.Connection
	logger         *zap.Logger
	publishTimeout time.Duration

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

var _ events.Bus = (*RabbitBus)(nil)

// Dial connects to the broker and opens the publishing channel.
func Dial(url string, publishTimeout time.Duration, logger *zap.Logger) (*RabbitBus, error) {
	if logger == nil {
		logger = zap.L()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	bus := &RabbitBus{conn: conn, logger: logger, publishTimeout: publishTimeout, pubCh: ch}
	go bus.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return bus, nil
}

func (b *RabbitBus) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		b.logger.Error("rabbitmq connection closed", zap.Int("code", err.Code), zap.String("reason", err.Reason))
	}
}

// Declare creates the durable exchanges, queues and bindings.
func (b *RabbitBus) Declare(ctx context.Context, topology events.Topology) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open declare channel: %w", err)
	}
	defer ch.Close()

	for _, ex := range topology.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, string(ex.Kind), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range topology.Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	for _, bind := range topology.Bindings {
		if err := ch.QueueBind(bind.Queue, bind.Key, bind.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s/%s: %w", bind.Queue, bind.Exchange, bind.Key, err)
		}
	}
	b.logger.Info("rabbitmq topology declared",
		zap.Int("exchanges", len(topology.Exchanges)),
		zap.Int("queues", len(topology.Queues)),
		zap.Int("bindings", len(topology.Bindings)),
	)
	return nil
}

// Publish sends a persistent message and waits for the broker confirm.
func (b *RabbitBus) Publish(ctx context.Context, route events.Route, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if b.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.publishTimeout)
		defer cancel()
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, route.Exchange, route.Key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         string(env.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", route.Exchange, route.Key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// Subscribe starts a consumer on its own channel with manual acknowledgement.
// The handler runs on a single goroutine per subscription.
func (b *RabbitBus) Subscribe(ctx context.Context, opts events.SubscribeOptions, h events.Handler) (events.Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	tag := opts.ConsumerTag
	if tag == "" {
		tag = opts.Queue + "-" + uuid.NewString()[:8]
	}
	deliveries, err := ch.ConsumeWithContext(ctx, opts.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", opts.Queue, err)
	}

	sub := &rabbitSubscription{ch: ch, tag: tag, done: make(chan struct{})}
	logger := b.logger.With(zap.String("queue", opts.Queue), zap.String("consumer", tag))
	go func() {
		defer close(sub.done)
		for d := range deliveries {
			dispatch(ctx, logger, h, d)
		}
		logger.Info("consumer stopped")
	}()
	logger.Info("consumer started", zap.Int("prefetch", prefetch))
	return sub, nil
}

func dispatch(ctx context.Context, logger *zap.Logger, h events.Handler, d amqp.Delivery) {
	env, err := events.ParseEnvelope(d.Body)
	if err != nil {
		logger.Warn("dropping undecodable message", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Ack(false)
		return
	}

	err = h(ctx, env)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("ack failed", zap.String("type", string(env.Type)), zap.Error(ackErr))
		}
	default:
		logger.Warn("handler failed, requeueing", zap.String("type", string(env.Type)), zap.Error(err))
		_ = d.Nack(false, true)
	}
}

type rabbitSubscription struct {
	ch   *amqp.Channel
	tag  string
	done chan struct{}
	once sync.Once
}

// Close cancels the consumer, waits for the in-flight handler and closes the
// channel.
func (s *rabbitSubscription) Close() error {
	var err error
	s.once.Do(func() {
		if cancelErr := s.ch.Cancel(s.tag, false); cancelErr != nil {
			err = cancelErr
		}
		<-s.done
		if closeErr := s.ch.Close(); closeErr != nil && !errors.Is(closeErr, amqp.ErrClosed) && err == nil {
			err = closeErr
		}
	})
	return err
}

// Close shuts down the publishing channel and the connection.
func (b *RabbitBus) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	_ = b.pubCh.Close()
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq: %w", err)
	}
	return nil
}
