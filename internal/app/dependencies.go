package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
	"github.com/vladislavdragonenkov/fos/internal/storage/memory"
	"github.com/vladislavdragonenkov/fos/internal/storage/postgres"
)

// Dependencies содержит хранилища приложения.
type Dependencies struct {
	Orders       domain.OrderRepository
	Products     domain.ProductRepository
	Carts        domain.CartRepository
	Vouchers     domain.VoucherRepository
	UserVouchers domain.UserVoucherRepository
	Loyalty      domain.LoyaltyRepository
	Outbox       domain.OutboxRepository

	Store  *postgres.Store // nil при in-memory хранилище
	Logger *log.Entry
}

// NewDependencies собирает хранилища по выбранному драйверу.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	case StorageDriverMemory, "":
		return newMemoryDependencies(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryDependencies(logger *log.Entry) *Dependencies {
	logger.Info("using in-memory storage")
	return &Dependencies{
		Orders:       memory.NewOrderRepository(),
		Products:     memory.NewProductRepository(),
		Carts:        memory.NewCartRepository(),
		Vouchers:     memory.NewVoucherRepository(),
		UserVouchers: memory.NewUserVoucherRepository(),
		Loyalty:      memory.NewLoyaltyRepository(),
		Outbox:       memory.NewOutboxRepository(),
		Logger:       logger,
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	logger.Info("using postgres storage")

	return &Dependencies{
		Orders:       postgres.NewOrderRepository(store),
		Products:     postgres.NewProductRepository(store),
		Carts:        postgres.NewCartRepository(store),
		Vouchers:     postgres.NewVoucherRepository(store),
		UserVouchers: postgres.NewUserVoucherRepository(store),
		Loyalty:      postgres.NewLoyaltyRepository(store),
		Outbox:       postgres.NewOutboxRepository(store),
		Store:        store,
		Logger:       logger,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d == nil || d.Store == nil {
		return nil
	}
	return d.Store.Close()
}
