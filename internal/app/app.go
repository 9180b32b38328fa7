package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fos/internal/health"
	"github.com/vladislavdragonenkov/fos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fos/internal/service/notification"
	"github.com/vladislavdragonenkov/fos/internal/service/outbox"
	"github.com/vladislavdragonenkov/fos/internal/version"
)

// Run поднимает сервис целиком: хранилище, HTTP API, outbox-воркер,
// Kafka-подписчик уведомлений и сервер метрик. Блокируется до отмены ctx
// или фатальной ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("storage close failed")
		}
	}()

	svc := buildServices(deps)
	httpServer := buildHTTPServer(deps, svc, logger)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.Register("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		})
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	producer := setupKafka(cfg.KafkaBrokers, logger)
	defer func() {
		if producer == nil {
			return
		}
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("kafka producer close failed")
		}
	}()

	if producer != nil {
		worker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("component", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(ctx)

		startNotificationConsumer(ctx, cfg, producer, logger)
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownHTTP(srv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupKafka создаёт producer, когда брокеры заданы. Сервис умеет жить
// без Kafka: события копятся в outbox до появления брокера.
func setupKafka(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

// startNotificationConsumer подписывает обработчик уведомлений на события
// заказов. Ошибка подписки не фатальна для сервиса.
func startNotificationConsumer(ctx context.Context, cfg Config, producer *kafka.Producer, logger *log.Entry) {
	notifier := notification.NewNotifier(nil, logger.WithField("component", "notification"))
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.ConsumerGroup,
		Topics:     []string{kafka.TopicOrderEvents},
		Handler:    notifier.Handler(),
		DLQ:        producer,
		MaxRetries: 3,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create notification consumer")
		return
	}

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("notification consumer stopped with error")
		}
	}()
	go func() {
		<-ctx.Done()
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("notification consumer close failed")
		}
	}()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.Alive)
	mux.HandleFunc("/readyz", healthHandler.Ready)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
