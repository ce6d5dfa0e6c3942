package events

const (
	// SagaExchange is the topic exchange carrying registration saga events.
	SagaExchange = "saga_exchange"
	// UserEventsExchange is the direct exchange for ordinary business events.
	UserEventsExchange = "user_events_exchange"

	RoutingAccountPending = "auth.account.pending"
	RoutingEmailSent      = "notification.email.sent"
	RoutingEmailFailed    = "notification.email.failed"
	RoutingUserEvents     = "user.events"

	AuthSagaQueue       = "auth_saga_queue"
	AuthUserEventsQueue = "auth_user_events_queue"
	NotificationQueue   = "notification_queue"
)

// ExchangeKind mirrors the AMQP exchange types used here.
type ExchangeKind string

const (
	KindTopic  ExchangeKind = "topic"
	KindDirect ExchangeKind = "direct"
)

// Route addresses a published message.
type Route struct {
	Exchange string
	Key      string
}

// Exchange declares a durable exchange.
type Exchange struct {
	Name string
	Kind ExchangeKind
}

// Binding attaches a queue to an exchange under a routing key.
type Binding struct {
	Queue    string
	Exchange string
	Key      string
}

// Topology is the set of durable objects a process declares on startup.
type Topology struct {
	Exchanges []Exchange
	Queues    []string
	Bindings  []Binding
}

var exchanges = []Exchange{
	{Name: SagaExchange, Kind: KindTopic},
	{Name: UserEventsExchange, Kind: KindDirect},
}

// AuthTopology declares what the auth service consumes: saga outcomes and
// user events.
func AuthTopology() Topology {
	return Topology{
		Exchanges: exchanges,
		Queues:    []string{AuthSagaQueue, AuthUserEventsQueue},
		Bindings: []Binding{
			{Queue: AuthSagaQueue, Exchange: SagaExchange, Key: RoutingEmailSent},
			{Queue: AuthSagaQueue, Exchange: SagaExchange, Key: RoutingEmailFailed},
			{Queue: AuthUserEventsQueue, Exchange: UserEventsExchange, Key: RoutingUserEvents},
		},
	}
}

// NotificationTopology declares what the notification participant consumes.
func NotificationTopology() Topology {
	return Topology{
		Exchanges: exchanges,
		Queues:    []string{NotificationQueue},
		Bindings: []Binding{
			{Queue: NotificationQueue, Exchange: SagaExchange, Key: RoutingAccountPending},
			{Queue: NotificationQueue, Exchange: UserEventsExchange, Key: RoutingUserEvents},
		},
	}
}

// Merge combines topologies, dropping duplicate declarations.
func Merge(parts ...Topology) Topology {
	var out Topology
	seenEx := map[string]bool{}
	seenQ := map[string]bool{}
	seenB := map[Binding]bool{}
	for _, p := range parts {
		for _, ex := range p.Exchanges {
			if !seenEx[ex.Name] {
				seenEx[ex.Name] = true
				out.Exchanges = append(out.Exchanges, ex)
			}
		}
		for _, q := range p.Queues {
			if !seenQ[q] {
				seenQ[q] = true
				out.Queues = append(out.Queues, q)
			}
		}
		for _, b := range p.Bindings {
			if !seenB[b] {
				seenB[b] = true
				out.Bindings = append(out.Bindings, b)
			}
		}
	}
	return out
}
