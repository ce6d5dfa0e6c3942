// Package saga coordinates the registration saga: it opens the saga when an
// account is created and commits or compensates it when the notification
// service reports the outcome of the verification email.
package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

// Options tunes the consumer side.
type Options struct {
	Workers         int
	Prefetch        int
	VerificationTTL time.Duration
}

// Coordinator owns the auth side of the registration saga.
type Coordinator struct {
	sagas  repository.SagaRepository
	store  repository.EphemeralStore
	bus    events.Bus
	opts   Options
	group  *broker.Group
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCoordinator wires dependencies.
func NewCoordinator(sagas repository.SagaRepository, store repository.EphemeralStore, bus events.Bus, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.L()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	c := &Coordinator{
		sagas:  sagas,
		store:  store,
		bus:    bus,
		opts:   opts,
		logger: logger.Named("saga"),
		tracer: otel.Tracer("github.com/Sanglm2207/my-microservices-app/internal/service/saga"),
	}
	c.group = &broker.Group{
		Bus:      bus,
		Queue:    events.AuthSagaQueue,
		Workers:  opts.Workers,
		Prefetch: opts.Prefetch,
		Handler:  c.Handle,
		Logger:   c.logger,
	}
	return c
}

// Begin persists the pending user with its saga row, stores the verification
// token and publishes ACCOUNT_PENDING. If anything after the insert fails the
// registration is compensated immediately and ErrSagaDeliveryFailure returned.
func (c *Coordinator) Begin(ctx context.Context, user domain.User, verificationToken string) (domain.User, error) {
	ctx, span := c.tracer.Start(ctx, "saga.Begin", trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	user.Status = domain.StatusPending
	created, err := c.sagas.StartRegistration(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	if err := c.store.Set(ctx, cache.VerifyKey(verificationToken), created.ID, c.opts.VerificationTTL); err != nil {
		return domain.User{}, c.abort(ctx, span, created.ID, fmt.Errorf("store verification token: %w", err))
	}
	if err := events.Publish(ctx, c.bus, events.AccountPending{
		ID:                created.ID,
		Email:             created.Email,
		Name:              created.Name,
		VerificationToken: verificationToken,
	}); err != nil {
		_ = c.store.Del(ctx, cache.VerifyKey(verificationToken))
		return domain.User{}, c.abort(ctx, span, created.ID, err)
	}

	c.logger.Info("registration saga started", zap.String("user_id", created.ID))
	return created, nil
}

func (c *Coordinator) abort(ctx context.Context, span trace.Span, userID string, cause error) error {
	span.RecordError(cause)
	if _, err := c.sagas.Compensate(context.WithoutCancel(ctx), userID, cause.Error()); err != nil {
		c.logger.Error("compensation after failed start failed", zap.String("user_id", userID), zap.Error(err))
	}
	c.logger.Warn("registration saga aborted", zap.String("user_id", userID), zap.Error(cause))
	return fmt.Errorf("%w: %v", domain.ErrSagaDeliveryFailure, cause)
}

// Start subscribes the saga workers.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.group.Start(ctx)
}

// Stop ends the saga workers after in-flight messages finish.
func (c *Coordinator) Stop() error {
	return c.group.Stop()
}

// Handle applies one saga outcome. A nil return acknowledges the message;
// an error leaves it for redelivery. Outcomes for sagas that are already
// resolved are acknowledged without effect.
func (c *Coordinator) Handle(ctx context.Context, env events.Envelope) error {
	msg, err := events.Decode(env)
	if err != nil {
		c.logger.Warn("dropping saga message", zap.String("type", string(env.Type)), zap.Error(err))
		return nil
	}

	switch m := msg.(type) {
	case events.VerificationEmailSent:
		return c.commit(ctx, m.UserID)
	case events.VerificationEmailFailed:
		return c.compensate(ctx, m.UserID, m.Error)
	default:
		c.logger.Debug("ignoring message", zap.String("type", string(env.Type)))
		return nil
	}
}

func (c *Coordinator) commit(ctx context.Context, userID string) error {
	ctx, span := c.tracer.Start(ctx, "saga.Commit", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	applied, err := c.sagas.Commit(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.resolved("commit", userID, applied)
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, userID, reason string) error {
	ctx, span := c.tracer.Start(ctx, "saga.Compensate", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	applied, err := c.sagas.Compensate(ctx, userID, reason)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.resolved("compensate", userID, applied)
	return nil
}

func (c *Coordinator) resolved(action, userID string, applied bool) {
	if !applied {
		c.logger.Info("saga outcome ignored", zap.String("action", action), zap.String("user_id", userID))
		return
	}
	c.logger.Info("audit", zap.String("event", "registration.saga."+action), zap.String("user_id", userID), zap.Time("timestamp", time.Now().UTC()))
}
