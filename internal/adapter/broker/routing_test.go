package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

func TestTopicRouting(t *testing.T) {
	cases := []struct {
		binding string
		key     string
		want    bool
	}{
		{"notification.email.sent", "notification.email.sent", true},
		{"notification.email.*", "notification.email.failed", true},
		{"notification.*", "notification.email.failed", false},
		{"notification.#", "notification.email.failed", true},
		{"#", "auth.account.pending", true},
		{"auth.#.pending", "auth.pending", true},
		{"auth.account.pending", "auth.account", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, routes(events.KindTopic, tc.binding, tc.key), "%s vs %s", tc.binding, tc.key)
	}
}

func TestDirectRoutingIsExact(t *testing.T) {
	assert.True(t, routes(events.KindDirect, "user.events", "user.events"))
	assert.False(t, routes(events.KindDirect, "user.*", "user.events"))
}
