// Package notification is the saga participant that mails verification and
// password reset links and reports the outcome back to the auth service.
package notification

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

// Relay consumes the notification queue.
type Relay struct {
	bus         events.Bus
	mailer      Mailer
	frontendURL string
	group       *broker.Group
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewRelay wires dependencies.
func NewRelay(bus events.Bus, mailer Mailer, frontendURL string, workers int, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.L()
	}
	r := &Relay{
		bus:         bus,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger.Named("notification"),
		tracer:      otel.Tracer("github.com/Sanglm2207/my-microservices-app/internal/notification"),
	}
	r.group = &broker.Group{
		Bus:      bus,
		Queue:    events.NotificationQueue,
		Workers:  workers,
		Prefetch: 1,
		Handler:  r.Handle,
		Logger:   r.logger,
	}
	return r
}

func (r *Relay) Start(ctx context.Context) error { return r.group.Start(ctx) }
func (r *Relay) Stop() error                     { return r.group.Stop() }

// Handle processes one delivery. A failed mail send is reported to the saga
// and acknowledged; only a failed outcome publish is retried.
func (r *Relay) Handle(ctx context.Context, env events.Envelope) error {
	msg, err := events.Decode(env)
	if err != nil {
		r.logger.Warn("dropping notification message", zap.String("type", string(env.Type)), zap.Error(err))
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "notification.Handle")
	defer span.End()

	switch m := msg.(type) {
	case events.AccountPending:
		return r.verification(ctx, m)
	case events.PasswordResetRequested:
		if err := r.mailer.Send(ctx, Mail{
			To:      m.Email,
			Subject: "Reset your password",
			Body:    fmt.Sprintf("Hello %s, reset your password here: %s", greeting(m.Name), r.link("/reset-password", m.ResetToken)),
		}); err != nil {
			span.RecordError(err)
			r.logger.Error("password reset mail failed", zap.String("email", m.Email), zap.Error(err))
		}
		return nil
	default:
		return nil
	}
}

func (r *Relay) verification(ctx context.Context, m events.AccountPending) error {
	sendErr := r.mailer.Send(ctx, Mail{
		To:      m.Email,
		Subject: "Verify your email",
		Body:    fmt.Sprintf("Hello %s, confirm your account here: %s", greeting(m.Name), r.link("/verify-email", m.VerificationToken)),
	})

	var outcome events.Message = events.VerificationEmailSent{UserID: m.ID}
	if sendErr != nil {
		r.logger.Error("verification mail failed", zap.String("user_id", m.ID), zap.Error(sendErr))
		outcome = events.VerificationEmailFailed{UserID: m.ID, Error: sendErr.Error()}
	}
	if err := events.Publish(ctx, r.bus, outcome); err != nil {
		return err
	}
	r.logger.Info("verification outcome published", zap.String("user_id", m.ID), zap.String("type", string(outcome.MessageType())))
	return nil
}

func (r *Relay) link(path, token string) string {
	return r.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func greeting(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
