package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/messaging/kafka"
)

// Notifier превращает события заказов в пользовательские уведомления.
// Сейчас доставка — запись в лог; транспорт (push, email) подключается
// отдельным Sender без изменения обработчика.
type Notifier struct {
	logger *log.Entry
	sender Sender
}

// Sender доставляет готовое уведомление пользователю.
type Sender interface {
	Send(ctx context.Context, userID, title, body string) error
}

// NewNotifier создаёт обработчик уведомлений. sender может быть nil,
// тогда уведомления только логируются.
func NewNotifier(sender Sender, logger *log.Entry) *Notifier {
	if logger == nil {
		logger = log.New().WithField("component", "notification")
	}
	return &Notifier{logger: logger, sender: sender}
}

// Handler возвращает kafka.MessageHandler для подписки на события заказов.
func (n *Notifier) Handler() kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		return n.handle(ctx, message)
	}
}

func (n *Notifier) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	// Outbox-паблишер оборачивает событие в envelope с payload.
	var envelope struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return fmt.Errorf("unmarshal outbox envelope: %w", err)
	}

	var event kafka.OrderEvent
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return fmt.Errorf("unmarshal order event payload: %w", err)
		}
	}
	if event.EventType == "" {
		event.EventType = kafka.EventType(envelope.EventType)
	}

	title, body, ok := composeNotification(&event)
	if !ok {
		// Неизвестные типы событий пропускаем без ошибки, иначе они
		// бесконечно крутятся через retry и DLQ.
		n.logger.WithField("event_type", event.EventType).Debug("no notification for event type")
		return nil
	}

	if n.sender != nil {
		if err := n.sender.Send(ctx, event.UserID, title, body); err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
	}

	n.logger.WithFields(log.Fields{
		"user_id":      event.UserID,
		"order_number": event.OrderNumber,
		"event_type":   event.EventType,
	}).Info("order notification dispatched")
	return nil
}

// composeNotification строит заголовок и текст уведомления для события.
func composeNotification(event *kafka.OrderEvent) (title, body string, ok bool) {
	switch event.EventType {
	case kafka.EventTypeOrderCreated:
		return "Order placed", fmt.Sprintf("Your order %s has been placed and is awaiting confirmation.", event.OrderNumber), true
	case kafka.EventTypeOrderConfirmed:
		return "Order confirmed", fmt.Sprintf("Your order %s has been confirmed by the restaurant.", event.OrderNumber), true
	case kafka.EventTypeOrderPreparing:
		return "Order in the kitchen", fmt.Sprintf("Your order %s is being prepared.", event.OrderNumber), true
	case kafka.EventTypeOrderShipping:
		return "Order on the way", fmt.Sprintf("Your order %s is out for delivery.", event.OrderNumber), true
	case kafka.EventTypeOrderDelivered:
		return "Order delivered", fmt.Sprintf("Your order %s has been delivered. Enjoy!", event.OrderNumber), true
	case kafka.EventTypeOrderCancelled:
		return "Order cancelled", fmt.Sprintf("Your order %s has been cancelled.", event.OrderNumber), true
	default:
		return "", "", false
	}
}
