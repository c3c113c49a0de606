package notify

import (
	"fmt"
	"time"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"
)

// NewNotifierFromConfig creates a Notifier based on the notifier config type.
func NewNotifierFromConfig(cfg config.NotifierConfig, logger backup.Logger) (backup.Notifier, error) {
	switch cfg.Type {
	case "log", "":
		return NewLogNotifier(logger), nil
	case "email":
		n, err := NewEmailNotifier(EmailOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			To:       cfg.To,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	case "webhook":
		n, err := NewWebhookNotifier(WebhookOptions{
			URL:        cfg.WebhookURL,
			Headers:    cfg.WebhookHeaders,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	case "none":
		return NopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}
