package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avivamar/palm-sub009/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func testAlert() models.PaymentAlert {
	return models.PaymentAlert{
		ID:        "a-1",
		Type:      models.AlertSuccessRateLow,
		Severity:  models.SeverityCritical,
		Message:   "payment success rate critical: 60.0%",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifySendsToConfiguredChat(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, 42, nil)

	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 42 {
		t.Fatalf("unexpected chat id %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "success rate critical") {
		t.Fatalf("alert message missing from text: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, models.SeverityCritical) {
		t.Fatalf("severity missing from text: %q", msg.Text)
	}
}

func TestNotifySendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	n := newTelegramNotifier(sender, 42, nil)

	if err := n.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNotifyHonorsCancelledContext(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, 42, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Notify(ctx, testAlert()); err == nil {
		t.Fatal("expected context error")
	}
	if len(sender.sent) != 0 {
		t.Fatal("message sent despite cancelled context")
	}
}
