package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// Верхняя граница экспоненциального backoff между попытками публикации.
	maxRetryDelay = 5 * time.Second
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fos_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fos_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	backlogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fos_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// deadLetterRecord — payload сообщения в DLQ-топике. Имена полей
// завязаны на cmd/dlq-reprocess, который достаёт из них исходное событие.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// Worker вычитывает pending-записи из транзакционного outbox и доставляет
// их в брокер. Запись, которую не удалось опубликовать за maxAttempts
// попыток, помечается failed и уходит в DLQ.
type Worker struct {
	outbox     domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	logger     *log.Entry

	pollEvery    time.Duration
	batchSize    int
	maxAttempts  int
	retryBackoff time.Duration
}

// Option настраивает Worker при создании.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт publisher для DLQ после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetter = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollEvery = interval }
}

// WithBatchSize задаёт, сколько записей вычитывать за один цикл.
func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации до failed/DLQ.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт стартовую задержку экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBackoff = delay }
}

// NewWorker создаёт воркер с переданными опциями. Невалидные значения
// тихо заменяются дефолтами.
func NewWorker(outbox domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		outbox:       outbox,
		publisher:    publisher,
		pollEvery:    defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollEvery <= 0 {
		w.pollEvery = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBackoff < 0 {
		w.retryBackoff = 0
	}

	return w
}

// Run крутит polling-цикл до отмены ctx. Первый проход делается сразу,
// не дожидаясь тикера.
func (w *Worker) Run(ctx context.Context) {
	if w.outbox == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repository or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce вычитывает один батч pending-записей и доставляет каждую.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.outbox.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}

	for _, message := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, message)
	}

	if len(batch) > 0 {
		w.observeBacklog()
	}
}

// deliver публикует одну запись с retry и фиксирует итог в репозитории.
func (w *Worker) deliver(ctx context.Context, message domain.OutboxMessage) {
	publishErr := w.publishWithRetry(ctx, message)
	if publishErr == nil {
		if err := w.outbox.MarkSent(message.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", message.ID).Warn("failed to mark outbox message as sent")
		}
		return
	}

	w.logger.WithError(publishErr).WithFields(log.Fields{
		"outbox_id":  message.ID,
		"event_type": message.EventType,
	}).Error("outbox publish failed after retries")
	publishResults.WithLabelValues("failed").Inc()

	if err := w.moveToDeadLetter(message, publishErr); err != nil {
		w.logger.WithError(err).WithField("outbox_id", message.ID).Warn("failed to publish to DLQ")
		publishResults.WithLabelValues("dlq_failed").Inc()
	}
	if err := w.outbox.MarkFailed(message.ID); err != nil {
		w.logger.WithError(err).WithField("outbox_id", message.ID).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, message domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		err := w.publisher.Publish(message)
		if err == nil {
			publishResults.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		publishResults.WithLabelValues("retry_error").Inc()

		if attempt >= w.maxAttempts {
			return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
		}

		if delay := w.backoffDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// backoffDelay возвращает задержку перед попыткой attempt+1:
// base, base*2, base*4, ... с потолком maxRetryDelay.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	if w.retryBackoff <= 0 {
		return 0
	}

	delay := w.retryBackoff
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (w *Worker) moveToDeadLetter(message domain.OutboxMessage, publishErr error) error {
	if w.deadLetter == nil {
		return nil
	}

	payload, err := json.Marshal(deadLetterRecord{
		OutboxID:      message.ID,
		AggregateType: message.AggregateType,
		AggregateID:   message.AggregateID,
		EventType:     message.EventType,
		Payload:       json.RawMessage(message.Payload),
		PublishError:  publishErr.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	return w.deadLetter.Publish(domain.OutboxMessage{
		ID:            message.ID,
		AggregateType: message.AggregateType,
		AggregateID:   message.AggregateID,
		EventType:     message.EventType,
		Payload:       payload,
	})
}

// observeBacklog обновляет gauge-метрики размера и возраста backlog.
func (w *Worker) observeBacklog() {
	stats, err := w.outbox.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	backlogSize.Set(float64(stats.PendingCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		if since := time.Since(stats.OldestPendingAt).Seconds(); since > 0 {
			age = since
		}
	}
	backlogOldestAge.Set(age)
}
