package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

// Group runs Workers subscriptions on one queue with the same handler. Each
// subscription delivers on its own goroutine.
type Group struct {
	Bus      events.Bus
	Queue    string
	Workers  int
	Prefetch int
	Handler  events.Handler
	Logger   *zap.Logger

	mu     sync.Mutex
	subs   []events.Subscription
	cancel context.CancelFunc
}

// Start subscribes all workers. The subscriptions outlive ctx; call Stop to
// end them.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return fmt.Errorf("consumer group %s already started", g.Queue)
	}

	workers := g.Workers
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < workers; i++ {
		sub, err := g.Bus.Subscribe(runCtx, events.SubscribeOptions{
			Queue:       g.Queue,
			Prefetch:    g.Prefetch,
			ConsumerTag: fmt.Sprintf("%s-%d", g.Queue, i),
		}, g.Handler)
		if err != nil {
			cancel()
			g.closeLocked()
			return fmt.Errorf("subscribe worker %d: %w", i, err)
		}
		g.subs = append(g.subs, sub)
	}
	g.cancel = cancel
	g.logger().Info("consumer group started", zap.String("queue", g.Queue), zap.Int("workers", workers))
	return nil
}

// Stop closes every subscription, waiting for in-flight handlers.
func (g *Group) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.closeLocked()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return err
}

func (g *Group) closeLocked() error {
	var errs []error
	for _, sub := range g.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.subs = nil
	return errors.Join(errs...)
}

func (g *Group) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.L()
}
