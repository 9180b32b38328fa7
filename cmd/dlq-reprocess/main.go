package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/messaging/kafka"
)

// Утилита вычитывает fos.dlq и возвращает застрявшие события в рабочий
// топик. По умолчанию работает в режиме dry-run: только показывает,
// что было бы переотправлено.

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	source      string
	target      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// candidate — сообщение, готовое к переотправке.
type candidate struct {
	topic string
	key   string
	value []byte
}

type tally struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *tally) add(other tally) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
}

// kafkaCluster — то, что нужно утилите от sarama.Client.
type kafkaCluster interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

// replaySink покрывается *kafka.Producer.
type replaySink interface {
	PublishRaw(topic, key string, value []byte, headers []sarama.RecordHeader) error
}

type replayer struct {
	opts    options
	cluster kafkaCluster
	source  streamSource
	sink    replaySink
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	cluster, source, sink, cleanup, err := connectKafka(opts)
	if err != nil {
		fail("connect kafka: %v", err)
	}
	defer cleanup()

	r := &replayer{opts: opts, cluster: cluster, source: source, sink: sink}
	if _, err := r.Replay(context.Background()); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)

	var (
		opts       options
		brokersRaw string
	)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: FOS_KAFKA_BROKERS)")
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&opts.target, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.IntVar(&opts.limit, "limit", defaultScanLimit, "max number of messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("FOS_KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}

	switch {
	case len(opts.brokers) == 0:
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or FOS_KAFKA_BROKERS)")
	case strings.TrimSpace(opts.source) == "":
		return options{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(opts.target) == "":
		return options{}, fmt.Errorf("target-topic is required")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return opts, nil
}

type saramaStreamSource struct {
	consumer sarama.Consumer
}

func (s saramaStreamSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

// connectKafka собирает зависимости утилиты. Хук подменяется в тестах.
var connectKafka = func(opts options) (kafkaCluster, streamSource, replaySink, func(), error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	var producer *kafka.Producer
	if opts.execute {
		producer, err = kafka.NewProducer(opts.brokers)
		if err != nil {
			_ = consumer.Close()
			_ = client.Close()
			return nil, nil, nil, nil, err
		}
	}

	cleanup := func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}

	var sink replaySink
	if producer != nil {
		sink = producer
	}
	return client, saramaStreamSource{consumer: consumer}, sink, cleanup, nil
}

// Replay обходит партиции DLQ-топика по возрастанию номера и
// переотправляет всё, что удалось распознать, пока не исчерпан limit.
func (r *replayer) Replay(ctx context.Context) (tally, error) {
	if r.cluster == nil || r.source == nil {
		return tally{}, fmt.Errorf("kafka client and consumer are required")
	}
	if r.opts.execute && r.sink == nil {
		return tally{}, fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.cluster.Partitions(r.opts.source)
	if err != nil {
		return tally{}, fmt.Errorf("get partitions for topic %s: %w", r.opts.source, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.opts.source).Warn("source topic has no partitions")
		return tally{}, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total tally
	for _, partition := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}

		partial, err := r.scanPartition(ctx, partition, budget)
		total.add(partial)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (tally, error) {
	var result tally

	oldest, err := r.cluster.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return result, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.cluster.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return result, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return result, nil
	}

	start := oldest
	if r.opts.fromNewest {
		if start = newest - int64(budget); start < oldest {
			start = oldest
		}
	}

	stream, err := r.source.ConsumePartition(r.opts.source, partition, start)
	if err != nil {
		return result, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for result.scanned < budget {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case streamErr := <-stream.Errors():
			if streamErr != nil {
				return result, fmt.Errorf("partition %d consumer error: %w", partition, streamErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return result, nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			result.scanned++
			if err := r.handle(msg, &result); err != nil {
				return result, err
			}

			if msg.Offset+1 >= newest {
				return result, nil
			}
		case <-idle.C:
			return result, nil
		}
	}

	return result, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, result *tally) error {
	cand, err := decode(msg.Value, r.opts.target)
	if err != nil {
		result.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if cand == nil {
		result.skipped++
		return nil
	}

	if !r.opts.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": cand.topic,
			"key":          cand.key,
		}).Info("dlq replay candidate")
		result.replayed++
		return nil
	}

	if err := r.sink.PublishRaw(cand.topic, cand.key, cand.value, nil); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	result.replayed++
	return nil
}

// handlerFailure — DLQ-запись consumer-а: исходное сообщение целиком.
type handlerFailure struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// dlqEnvelope — DLQ-запись outbox-воркера: конверт, внутри которого
// payload содержит dead letter record с исходным событием.
type dlqEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type outboxFailure struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// decode распознаёт обе формы DLQ-записей. nil без ошибки означает,
// что сообщение не похоже ни на одну из них и пропускается молча.
func decode(value []byte, defaultTopic string) (*candidate, error) {
	var failure handlerFailure
	if err := json.Unmarshal(value, &failure); err == nil && failure.OriginalValue != "" {
		topic := strings.TrimSpace(failure.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return &candidate{
			topic: topic,
			key:   failure.OriginalKey,
			value: []byte(failure.OriginalValue),
		}, nil
	}

	var envelope dlqEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return nil, nil
	}

	var record outboxFailure
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return nil, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(record.Payload) == 0 {
		return nil, fmt.Errorf("outbox dlq payload does not contain the original event")
	}

	replay := replayEnvelope{
		ID:            coalesce(record.OutboxID, envelope.ID),
		AggregateType: coalesce(record.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(record.AggregateID, envelope.AggregateID),
		EventType:     coalesce(record.EventType, envelope.EventType),
		Payload:       record.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return nil, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}
	return &candidate{topic: defaultTopic, key: key, value: encoded}, nil
}

func coalesce(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
