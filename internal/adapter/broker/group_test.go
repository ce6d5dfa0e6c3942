package broker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

func TestGroupStartStop(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	var handled int
	group := &broker.Group{
		Bus:     bus,
		Queue:   events.AuthSagaQueue,
		Workers: 2,
		Handler: func(context.Context, events.Envelope) error {
			handled++
			return nil
		},
	}
	require.NoError(t, group.Start(ctx))
	require.Error(t, group.Start(ctx))
	cancel()

	require.NoError(t, events.Publish(context.Background(), bus, events.VerificationEmailSent{UserID: "1"}))
	require.NoError(t, events.Publish(context.Background(), bus, events.VerificationEmailSent{UserID: "2"}))
	require.Equal(t, 2, handled)

	require.NoError(t, group.Stop())
	require.NoError(t, events.Publish(context.Background(), bus, events.VerificationEmailSent{UserID: "3"}))
	require.Equal(t, 2, handled)
	require.Equal(t, 1, bus.Pending(events.AuthSagaQueue))
}
