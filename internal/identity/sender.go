package identity

import (
	"context"

	"loanflow/internal/loan"
)

// Sender delivers a code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending an SMS. For local
// development only.
type LogSender struct {
	logger loan.Logger
}

func NewLogSender(logger loan.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	s.logger.Info("verification code", "phone", phone, "code", code)
	return nil
}
