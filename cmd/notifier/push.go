package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/notify"
	"github.com/phrazzld/dotlist-notify/internal/redact"
)

// logReceiptPrefix marks receipts issued by logSender
const logReceiptPrefix = "log:"

// logSender is the PushSender used when push delivery is disabled. It logs
// each notification and reports success, so dedup records are still written.
type logSender struct {
	logger *slog.Logger
}

var _ notify.PushSender = (*logSender)(nil)

func newLogSender(logger *slog.Logger) *logSender {
	return &logSender{logger: logger.With(slog.String("component", "log_sender"))}
}

// Send implements notify.PushSender.
func (s *logSender) Send(ctx context.Context, token string, payload notify.PushPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	receipt := logReceiptPrefix + uuid.NewString()
	s.logger.Info("push notification (not delivered)",
		slog.String("token", redact.Token(token)),
		slog.String("title", payload.Title),
		slog.String("body", payload.Body),
		slog.String("receipt", receipt))
	return receipt, nil
}
