package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

func TestEncodeDecodeAccountPending(t *testing.T) {
	msg := events.AccountPending{ID: "42", Email: "a@example.com", Name: "Ann", VerificationToken: "tok"}

	env, err := events.Encode(msg)
	require.NoError(t, err)
	require.Equal(t, events.TypeAccountPending, env.Type)
	require.JSONEq(t, `{"id":"42","email":"a@example.com","name":"Ann","verificationToken":"tok"}`, string(env.Payload))

	decoded, err := events.Decode(env)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestParseEnvelopeWireShape(t *testing.T) {
	body := []byte(`{"type":"VERIFICATION_EMAIL_FAILED","payload":{"userId":"7","error":"smtp down"}}`)

	env, err := events.ParseEnvelope(body)
	require.NoError(t, err)

	msg, err := events.Decode(env)
	require.NoError(t, err)
	failed, ok := msg.(events.VerificationEmailFailed)
	require.True(t, ok)
	assert.Equal(t, "7", failed.UserID)
	assert.Equal(t, "smtp down", failed.Error)
	assert.Equal(t, events.Route{Exchange: events.SagaExchange, Key: events.RoutingEmailFailed}, failed.Route())
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := events.ParseEnvelope([]byte("not json"))
	require.Error(t, err)

	_, err = events.ParseEnvelope([]byte(`{"payload":{}}`))
	require.Error(t, err)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := events.Decode(events.Envelope{Type: "SOMETHING_ELSE", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, events.ErrUnknownMessageType)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := events.Decode(events.Envelope{Type: events.TypeUserProfileDeleted, Payload: json.RawMessage(`[1,2]`)})
	require.Error(t, err)
	require.False(t, errors.Is(err, events.ErrUnknownMessageType))
}

type recordingPublisher struct {
	route events.Route
	env   events.Envelope
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, route events.Route, env events.Envelope) error {
	p.route = route
	p.env = env
	return p.err
}

func TestPublishRoutesByMessage(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, events.Publish(context.Background(), pub, events.PasswordResetRequested{Email: "a@b.c", ResetToken: "r"}))
	require.Equal(t, events.UserEventsExchange, pub.route.Exchange)
	require.Equal(t, events.RoutingUserEvents, pub.route.Key)
	require.Equal(t, events.TypePasswordResetRequested, pub.env.Type)

	pub.err = errors.New("channel closed")
	err := events.Publish(context.Background(), pub, events.UserProfileDeleted{UserID: "1"})
	require.ErrorIs(t, err, pub.err)
}

func TestMergeTopologyDeduplicates(t *testing.T) {
	merged := events.Merge(events.AuthTopology(), events.NotificationTopology())
	require.Len(t, merged.Exchanges, 2)
	require.ElementsMatch(t, []string{events.AuthSagaQueue, events.AuthUserEventsQueue, events.NotificationQueue}, merged.Queues)
	require.Len(t, merged.Bindings, 5)
}
