// Package notify delivers run summaries to an operator.
package notify

import (
	"context"

	"adhoc-backup/internal/backup"
)

// LogNotifier writes notifications to the run log.
type LogNotifier struct {
	logger backup.Logger
}

var _ backup.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger backup.Logger) *LogNotifier {
	if logger == nil {
		logger = backup.NewNopLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, body string) error {
	n.logger.Info("notification", "subject", subject, "body", body)
	return nil
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

func notifyError(target, msg string, err error) error {
	return backup.NewError(backup.ErrNotify, target, msg, err)
}
