package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение; не-nil ошибка запускает
// retry-цикл и в итоге отправку в DLQ.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig описывает подписку consumer-группы.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	Handler    MessageHandler
	DLQ        *Producer // nil — сообщения после исчерпания retry остаются необработанными
	MaxRetries int
}

// Consumer — подписчик consumer-группы с retry и Dead Letter Queue.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	dlq        *Producer
	maxRetries int
	logger     *log.Entry
	wg         sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("consumer handler is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("consumer topics are required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    cfg.Handler,
		dlq:        cfg.DLQ,
		maxRetries: cfg.MaxRetries,
		logger:     log.WithField("component", "kafka-consumer"),
	}, nil
}

// Start запускает цикл Consume. Возвращается сразу, работа идёт в горутинах.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance, поэтому цикл.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume loop error")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim читает partition до закрытия канала или конца сессии.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(session.Context(), message) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// process возвращает true, когда offset можно зафиксировать: успех, либо
// сообщение ушло в DLQ.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	err := c.handler(ctx, message)
	if err == nil {
		return true
	}

	attempt := retryAttempt(message)
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"attempt":   attempt,
	}

	if attempt < c.maxRetries {
		c.logger.WithError(err).WithFields(fields).Warn("message processing failed, leaving for retry")
		return false
	}

	if c.dlq == nil {
		c.logger.WithError(err).WithFields(fields).Error("message processing exhausted retries, no DLQ configured")
		return false
	}

	if dlqErr := c.publishToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).WithFields(fields).Error("failed to publish message to DLQ")
		return false
	}
	c.logger.WithFields(fields).Info("message moved to DLQ")
	return true
}

// failedMessage — диагностическая обёртка, в которой сообщение попадает в DLQ.
type failedMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

func (c *Consumer) publishToDLQ(message *sarama.ConsumerMessage, cause error) error {
	return c.dlq.PublishJSON(TopicDeadLetterQueue, string(message.Key), failedMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retryAttempt(message),
	})
}

func retryAttempt(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// ParseOrderEvent разбирает тело сообщения как OrderEvent.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal order event: %w", err)
	}
	return &event, nil
}
