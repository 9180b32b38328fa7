package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

func TestOutboxPublisher_WrapsMessageInEnvelope(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope eventEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.EventType != "order.created" {
			return errors.New("unexpected envelope header")
		}
		if string(envelope.Payload) != `{"status":"pending"}` {
			return errors.New("payload must pass through untouched")
		}
		if envelope.PublishedAt.IsZero() {
			return errors.New("published_at must be set")
		}
		return nil
	})

	publisher := NewOutboxPublisher(newProducerFromSync(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     "order.created",
		Payload:       []byte(`{"status":"pending"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_ProducerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducerFromSync(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   "order.cancelled",
		Payload:     []byte(`{"status":"cancelled"}`),
	})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_Defaults(t *testing.T) {
	publisher := NewOutboxPublisher(nil, "")
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	typed, ok := publisher.(*OutboxTopicPublisher)
	if !ok {
		t.Fatalf("unexpected publisher type %T", publisher)
	}
	if typed.topic != TopicOrderEvents {
		t.Fatalf("empty topic must default to %s, got %s", TopicOrderEvents, typed.topic)
	}
}
