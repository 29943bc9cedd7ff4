// Package notify delivers member notifications. Delivery is fire-and-forget:
// callers log failures and carry on.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind names a notification template.
type Kind string

const (
	PayoutScheduled      Kind = "payout_scheduled"
	PayoutCompleted      Kind = "payout_completed"
	ContributionReminder Kind = "contribution_reminder"
)

// Message is one notification to one recipient.
type Message struct {
	// To is the recipient's e-mail address.
	To   string
	Kind Kind
	Data map[string]string
}

// Notifier sends messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the structured log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	attrs := []any{"to", msg.To, "kind", string(msg.Kind)}
	for k, v := range msg.Data {
		attrs = append(attrs, k, v)
	}
	slog.InfoContext(ctx, "Notification", attrs...)
	return nil
}

// Send delivers msg through n and logs, rather than returns, any failure.
func Send(ctx context.Context, n Notifier, msg Message) {
	if n == nil || msg.To == "" {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		slog.Warn("Notification failed", "to", msg.To, "kind", string(msg.Kind), "error", err)
	}
}

// Recorder keeps every message in memory. Useful in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Notify(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Messages returns the recorded messages of the given kind, or all when kind is empty.
func (r *Recorder) Messages(kind Kind) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
