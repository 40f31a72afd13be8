package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventOrderSyncCompleted, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := OrderSyncEventPayload{OrderID: "ord-1", OrderNumber: "SO-1001", Status: "completed", Attempts: 1}
	if err := bus.PublishJSON(EventOrderSyncCompleted, payload); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	if callCount != 1 {
		t.Fatalf("expected handler to run once, got %d", callCount)
	}
	if received == nil || received.Type != EventOrderSyncCompleted {
		t.Fatalf("unexpected event: %+v", received)
	}

	var decoded OrderSyncEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.OrderNumber != "SO-1001" {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
}

func TestEventBusIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()

	var calls int
	bus.Subscribe(EventOrderSyncFailed, func(*Event) error {
		calls++
		return nil
	})

	if err := bus.PublishJSON(EventOrderSyncCompleted, map[string]string{"order_id": "ord-2"}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler for another type ran %d times", calls)
	}
}

func TestEventBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus()

	var second int
	bus.Subscribe(EventTaskDeadLettered, func(*Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(EventTaskDeadLettered, func(*Event) error {
		second++
		return nil
	})

	bus.Publish(&Event{Type: EventTaskDeadLettered})
	if second != 1 {
		t.Fatalf("second handler ran %d times", second)
	}
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventPaymentCompleted, struct{}{}); err != nil {
		t.Fatalf("nil bus should be a no-op, got %v", err)
	}
}
