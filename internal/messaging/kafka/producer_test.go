package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestProducer_PublishJSON(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var event OrderEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.EventType != EventTypeOrderCreated || event.OrderID != "order-123" {
			return errors.New("unexpected event body")
		}
		return nil
	})

	producer := newProducerFromSync(mockProducer)
	event := NewOrderEvent(EventTypeOrderCreated, "order-123", "ORD1700000000000123", "user-1", "pending",
		map[string]interface{}{"final_amount": 150000})

	if err := producer.PublishJSON(TopicOrderEvents, "order-123", event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishJSON_BrokerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newProducerFromSync(mockProducer)
	if err := producer.PublishJSON(TopicOrderEvents, "order-123", map[string]string{"k": "v"}); err == nil {
		t.Fatal("expected broker error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishJSON_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducerFromSync(mockProducer)

	if err := producer.PublishJSON(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_NilGuards(t *testing.T) {
	var producer *Producer
	if err := producer.PublishRaw(TopicOrderEvents, "k", []byte("{}"), nil); err == nil {
		t.Fatal("expected error on nil producer")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("nil close must be a no-op: %v", err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	event := NewOrderEvent(
		EventTypeOrderCancelled,
		"order-123",
		"ORD1700000000000123",
		"user-1",
		"cancelled",
		map[string]interface{}{"reason": "customer request"},
	)

	if event.EventType != EventTypeOrderCancelled {
		t.Fatalf("event type = %s", event.EventType)
	}
	if event.OrderID != "order-123" || event.UserID != "user-1" {
		t.Fatalf("event identity = %+v", event)
	}
	if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Minute {
		t.Fatalf("timestamp not set: %v", event.Timestamp)
	}
}

func TestEventTypeForStatus(t *testing.T) {
	cases := []struct {
		status string
		want   EventType
	}{
		{"confirmed", EventTypeOrderConfirmed},
		{"preparing", EventTypeOrderPreparing},
		{"shipping", EventTypeOrderShipping},
		{"delivered", EventTypeOrderDelivered},
		{"cancelled", EventTypeOrderCancelled},
		{"pending", EventTypeOrderCreated},
	}

	for _, tc := range cases {
		if got := EventTypeForStatus(tc.status); got != tc.want {
			t.Fatalf("EventTypeForStatus(%s) = %s, want %s", tc.status, got, tc.want)
		}
	}
}
