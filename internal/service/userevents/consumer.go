// Package userevents removes credential records when the profile service
// reports a deleted user.
package userevents

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

// Consumer handles the auth service's user events queue.
type Consumer struct {
	users  repository.UserRepository
	group  *broker.Group
	logger *zap.Logger
}

// NewConsumer wires dependencies.
func NewConsumer(users repository.UserRepository, bus events.Bus, workers int, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.L()
	}
	c := &Consumer{users: users, logger: logger.Named("userevents")}
	c.group = &broker.Group{
		Bus:      bus,
		Queue:    events.AuthUserEventsQueue,
		Workers:  workers,
		Prefetch: 1,
		Handler:  c.Handle,
		Logger:   c.logger,
	}
	return c
}

func (c *Consumer) Start(ctx context.Context) error { return c.group.Start(ctx) }
func (c *Consumer) Stop() error                     { return c.group.Stop() }

// Handle deletes the user named by USER_PROFILE_DELETED. Missing users and
// other message types are acknowledged.
func (c *Consumer) Handle(ctx context.Context, env events.Envelope) error {
	msg, err := events.Decode(env)
	if err != nil {
		c.logger.Warn("dropping user event", zap.String("type", string(env.Type)), zap.Error(err))
		return nil
	}
	deleted, ok := msg.(events.UserProfileDeleted)
	if !ok {
		return nil
	}

	removed, err := c.users.Delete(ctx, deleted.UserID)
	if err != nil {
		return err
	}
	if !removed {
		c.logger.Warn("profile deleted for unknown user", zap.String("user_id", deleted.UserID))
		return nil
	}
	c.logger.Info("user account deleted", zap.String("user_id", deleted.UserID))
	return nil
}
