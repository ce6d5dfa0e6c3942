package notification

import (
	"context"

	"go.uber.org/zap"
)

// Mail is a rendered outgoing message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mail to the log instead of delivering it.
type LogMailer struct {
	Logger *zap.Logger
}

func (l LogMailer) Send(_ context.Context, m Mail) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("mail sent", zap.String("to", m.To), zap.String("subject", m.Subject), zap.String("body", m.Body))
	return nil
}
