package notify

import (
	"context"
	"errors"
	"testing"
)

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers", func(t *testing.T) {
		rec := &Recorder{}
		Send(ctx, rec, Message{To: "a@example.com", Kind: PayoutScheduled, Data: map[string]string{"round": "1"}})
		Send(ctx, rec, Message{To: "b@example.com", Kind: PayoutCompleted})

		if got := len(rec.Messages("")); got != 2 {
			t.Fatalf("recorded %d messages, want 2", got)
		}
		scheduled := rec.Messages(PayoutScheduled)
		if len(scheduled) != 1 || scheduled[0].Data["round"] != "1" {
			t.Errorf("unexpected scheduled messages: %+v", scheduled)
		}
	})

	t.Run("skips empty recipient", func(t *testing.T) {
		rec := &Recorder{}
		Send(ctx, rec, Message{Kind: PayoutScheduled})
		if len(rec.Messages("")) != 0 {
			t.Error("message without recipient should not be sent")
		}
	})

	t.Run("swallows errors", func(t *testing.T) {
		rec := &Recorder{Err: errors.New("smtp down")}
		Send(ctx, rec, Message{To: "a@example.com", Kind: ContributionReminder})
		if len(rec.Messages(ContributionReminder)) != 1 {
			t.Error("failed delivery should still have been attempted")
		}
	})

	t.Run("nil notifier", func(t *testing.T) {
		Send(ctx, nil, Message{To: "a@example.com"})
	})

	t.Run("log notifier", func(t *testing.T) {
		if err := (LogNotifier{}).Notify(ctx, Message{To: "a@example.com", Kind: PayoutCompleted}); err != nil {
			t.Errorf("LogNotifier.Notify() error = %v", err)
		}
	})
}
