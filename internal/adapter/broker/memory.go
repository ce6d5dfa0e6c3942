package broker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

// Published records one message accepted by a MemoryBus.
type Published struct {
	Route    events.Route
	Envelope events.Envelope
}

// MemoryBus is an in-process events.Bus with RabbitMQ routing semantics.
// Delivery is synchronous: Publish returns after every reachable subscriber
// has handled the message. A message whose handler fails stays queued until
// Redeliver is called.
type MemoryBus struct {
	mu         sync.Mutex
	exchanges  map[string]events.ExchangeKind
	bindings   []events.Binding
	queues     map[string]*memoryQueue
	published  []Published
	publishErr error
}

type memoryQueue struct {
	pending  []events.Envelope
	subs     []*memorySubscription
	next     int
	draining bool
	acked    int
}

var _ events.Bus = (*MemoryBus)(nil)

// NewMemoryBus constructs an empty bus. Declare must be called before use.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		exchanges: map[string]events.ExchangeKind{},
		queues:    map[string]*memoryQueue{},
	}
}

// Declare registers exchanges, queues and bindings. Repeated declarations are
// idempotent.
func (b *MemoryBus) Declare(_ context.Context, topology events.Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ex := range topology.Exchanges {
		if kind, ok := b.exchanges[ex.Name]; ok && kind != ex.Kind {
			return fmt.Errorf("exchange %s redeclared as %s", ex.Name, ex.Kind)
		}
		b.exchanges[ex.Name] = ex.Kind
	}
	for _, q := range topology.Queues {
		if _, ok := b.queues[q]; !ok {
			b.queues[q] = &memoryQueue{}
		}
	}
	for _, bind := range topology.Bindings {
		if _, ok := b.queues[bind.Queue]; !ok {
			return fmt.Errorf("bind unknown queue %s", bind.Queue)
		}
		if _, ok := b.exchanges[bind.Exchange]; !ok {
			return fmt.Errorf("bind unknown exchange %s", bind.Exchange)
		}
		if !slices.Contains(b.bindings, bind) {
			b.bindings = append(b.bindings, bind)
		}
	}
	return nil
}

// FailPublishes makes every subsequent Publish return err. Pass nil to recover.
func (b *MemoryBus) FailPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Publish routes env to every bound queue and delivers it.
func (b *MemoryBus) Publish(ctx context.Context, route events.Route, env events.Envelope) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	kind, ok := b.exchanges[route.Exchange]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("publish to undeclared exchange %s", route.Exchange)
	}
	b.published = append(b.published, Published{Route: route, Envelope: env})

	var targets []string
	for _, bind := range b.bindings {
		if bind.Exchange == route.Exchange && routes(kind, bind.Key, route.Key) && !slices.Contains(targets, bind.Queue) {
			targets = append(targets, bind.Queue)
		}
	}
	for _, name := range targets {
		q := b.queues[name]
		q.pending = append(q.pending, env)
	}
	b.mu.Unlock()

	for _, name := range targets {
		b.drain(ctx, name)
	}
	return nil
}

// Subscribe attaches a handler to a queue and delivers anything buffered.
func (b *MemoryBus) Subscribe(ctx context.Context, opts events.SubscribeOptions, h events.Handler) (events.Subscription, error) {
	b.mu.Lock()
	q, ok := b.queues[opts.Queue]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("subscribe to undeclared queue %s", opts.Queue)
	}
	sub := &memorySubscription{bus: b, queue: opts.Queue, handler: h, ctx: ctx}
	q.subs = append(q.subs, sub)
	b.mu.Unlock()

	b.drain(ctx, opts.Queue)
	return sub, nil
}

// Redeliver retries the messages left on a queue by failed handlers and
// reports how many remain afterwards.
func (b *MemoryBus) Redeliver(ctx context.Context, queue string) int {
	b.drain(ctx, queue)
	return b.Pending(queue)
}

// Pending reports the number of undelivered or requeued messages on a queue.
func (b *MemoryBus) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.pending)
	}
	return 0
}

// Acked reports how many messages a queue has acknowledged.
func (b *MemoryBus) Acked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return q.acked
	}
	return 0
}

// Published returns a copy of every message accepted so far.
func (b *MemoryBus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// drain delivers queued messages one at a time without holding the lock, so
// handlers may publish. It stops at the first handler failure.
func (b *MemoryBus) drain(_ context.Context, queue string) {
	for {
		b.mu.Lock()
		q := b.queues[queue]
		if q == nil || q.draining || len(q.pending) == 0 || len(q.subs) == 0 {
			b.mu.Unlock()
			return
		}
		q.draining = true
		env := q.pending[0]
		q.pending = q.pending[1:]
		sub := q.subs[q.next%len(q.subs)]
		q.next++
		b.mu.Unlock()

		err := sub.handler(sub.ctx, env)

		b.mu.Lock()
		q.draining = false
		requeued := false
		if err == nil {
			q.acked++
		} else {
			q.pending = append([]events.Envelope{env}, q.pending...)
			requeued = true
		}
		b.mu.Unlock()
		if requeued {
			return
		}
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	queue   string
	handler events.Handler
	ctx     context.Context
	once    sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		q := s.bus.queues[s.queue]
		for i, sub := range q.subs {
			if sub == s {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
