package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fos/internal/messaging/kafka"
)

type captureSender struct {
	userIDs []string
	titles  []string
	err     error
}

func (s *captureSender) Send(_ context.Context, userID, title, _ string) error {
	s.userIDs = append(s.userIDs, userID)
	s.titles = append(s.titles, title)
	return s.err
}

func envelopeMessage(t *testing.T, event *kafka.OrderEvent) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	value, err := json.Marshal(map[string]interface{}{
		"id":         "outbox-1",
		"event_type": string(event.EventType),
		"payload":    json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: kafka.TopicOrderEvents, Value: value}
}

func TestNotifier_HandleOrderEvent(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier(sender, nil)
	handler := notifier.Handler()

	event := kafka.NewOrderEvent(kafka.EventTypeOrderDelivered, "o1", "ORD100", "user-1", "delivered", nil)
	if err := handler(context.Background(), envelopeMessage(t, event)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.userIDs) != 1 || sender.userIDs[0] != "user-1" {
		t.Fatalf("sender calls = %+v", sender.userIDs)
	}
	if sender.titles[0] != "Order delivered" {
		t.Fatalf("title = %q", sender.titles[0])
	}
}

func TestNotifier_UnknownEventTypeSkipped(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier(sender, nil)

	event := &kafka.OrderEvent{EventType: kafka.EventType("audit.trace"), UserID: "user-1"}
	if err := notifier.Handler()(context.Background(), envelopeMessage(t, event)); err != nil {
		t.Fatalf("unknown event must not error: %v", err)
	}
	if len(sender.userIDs) != 0 {
		t.Fatalf("unexpected notification sent")
	}
}

func TestNotifier_BadPayload(t *testing.T) {
	notifier := NewNotifier(nil, nil)
	msg := &sarama.ConsumerMessage{Value: []byte("not-json")}
	if err := notifier.Handler()(context.Background(), msg); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestComposeNotification(t *testing.T) {
	cases := []struct {
		eventType kafka.EventType
		ok        bool
	}{
		{kafka.EventTypeOrderCreated, true},
		{kafka.EventTypeOrderConfirmed, true},
		{kafka.EventTypeOrderPreparing, true},
		{kafka.EventTypeOrderShipping, true},
		{kafka.EventTypeOrderDelivered, true},
		{kafka.EventTypeOrderCancelled, true},
		{kafka.EventTypePointsEarned, false},
	}

	for _, tc := range cases {
		event := &kafka.OrderEvent{EventType: tc.eventType, OrderNumber: "ORD1"}
		_, _, ok := composeNotification(event)
		if ok != tc.ok {
			t.Fatalf("composeNotification(%s) ok = %v, want %v", tc.eventType, ok, tc.ok)
		}
	}
}
