package testutil

import (
	"context"
	"sync"

	"adhoc-backup/internal/backup"
)

// Message is one notification delivered to a RecordingNotifier.
type Message struct {
	Subject string
	Body    string
}

// RecordingNotifier keeps every message. When Err is set, Notify records the
// message and then returns Err.
type RecordingNotifier struct {
	Err error

	mu       sync.Mutex
	messages []Message
}

var _ backup.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(ctx context.Context, subject, body string) error {
	n.mu.Lock()
	n.messages = append(n.messages, Message{Subject: subject, Body: body})
	n.mu.Unlock()
	return n.Err
}

func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}
