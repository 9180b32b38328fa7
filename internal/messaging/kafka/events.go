package kafka

import "time"

// EventType определяет тип события.
type EventType string

const (
	// События жизненного цикла заказа.
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderPreparing EventType = "order.preparing"
	EventTypeOrderShipping  EventType = "order.shipping"
	EventTypeOrderDelivered EventType = "order.delivered"
	EventTypeOrderCancelled EventType = "order.cancelled"

	// События программы лояльности.
	EventTypePointsEarned   EventType = "loyalty.points_earned"
	EventTypePointsRedeemed EventType = "loyalty.points_redeemed"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "fos.order.events"
	TopicDeadLetterQueue = "fos.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry-логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа.
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderID     string                 `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	UserID      string                 `json:"user_id"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, orderNumber, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		UserID:      userID,
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Metadata:    metadata,
	}
}

// EventTypeForStatus возвращает тип события для нового статуса заказа.
func EventTypeForStatus(status string) EventType {
	switch status {
	case "confirmed":
		return EventTypeOrderConfirmed
	case "preparing":
		return EventTypeOrderPreparing
	case "shipping":
		return EventTypeOrderShipping
	case "delivered":
		return EventTypeOrderDelivered
	case "cancelled":
		return EventTypeOrderCancelled
	default:
		return EventTypeOrderCreated
	}
}
