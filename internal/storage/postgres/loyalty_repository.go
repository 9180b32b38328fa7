package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

type loyaltyRepository struct {
	db *sql.DB
}

// NewLoyaltyRepository создаёт PostgreSQL-реализацию LoyaltyRepository.
// Credit и Debit выполняются одним UPDATE; уровень пересчитывается в том же
// запросе из нового lifetime_points.
func NewLoyaltyRepository(store *Store) domain.LoyaltyRepository {
	return &loyaltyRepository{db: store.DB()}
}

func (r *loyaltyRepository) GetOrCreate(userID string) (domain.LoyaltyAccount, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("ensure loyalty account: %w", err)
	}

	return r.get(ctx, userID)
}

func (r *loyaltyRepository) Credit(userID string, points int64) (domain.LoyaltyAccount, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO loyalty_accounts (user_id, total_points, available_points, lifetime_points, tier)
		VALUES ($1, $2, $2, $2, `+tierForValue("$2")+`)
		ON CONFLICT (user_id) DO UPDATE
		SET total_points = loyalty_accounts.total_points + $2,
		    available_points = loyalty_accounts.available_points + $2,
		    lifetime_points = loyalty_accounts.lifetime_points + $2,
		    tier = `+tierForValue("loyalty_accounts.lifetime_points + $2")+`,
		    updated_at = NOW()
		RETURNING user_id, total_points, available_points, lifetime_points, tier, created_at, updated_at
	`, userID, points)

	return scanLoyaltyAccount(row)
}

func (r *loyaltyRepository) Debit(userID string, points int64) (domain.LoyaltyAccount, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE loyalty_accounts
		SET available_points = available_points - $2,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND available_points >= $2
		RETURNING user_id, total_points, available_points, lifetime_points, tier, created_at, updated_at
	`, userID, points)

	account, err := scanLoyaltyAccount(row)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.LoyaltyAccount{}, err
	}

	// UPDATE не сработал: либо счёта нет, либо баллов не хватает.
	current, getErr := r.get(ctx, userID)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrLoyaltyAccountNotFound) {
			return domain.LoyaltyAccount{}, fmt.Errorf("%w: no account for user %s", domain.ErrInsufficientPoints, userID)
		}
		return domain.LoyaltyAccount{}, getErr
	}
	return domain.LoyaltyAccount{}, fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientPoints, current.AvailablePoints, points)
}

func (r *loyaltyRepository) AppendTransaction(tx domain.PointTransaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO point_transactions (
			id, user_id, order_id, type, points, balance_after, description, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		tx.ID, tx.UserID, tx.OrderID, string(tx.Type),
		tx.Points, tx.BalanceAfter, tx.Description, tx.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert point transaction: %w", err)
	}

	return nil
}

func (r *loyaltyRepository) ListTransactions(userID string, filter domain.PointTransactionFilter) ([]domain.PointTransaction, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if filter.Type != "" {
		where += ` AND type = $2`
		args = append(args, string(filter.Type))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM point_transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count point transactions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, order_id, type, points, balance_after, description, created_at
		FROM point_transactions %s
		ORDER BY created_at DESC, id DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list point transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.PointTransaction, 0)
	for rows.Next() {
		var (
			tx     domain.PointTransaction
			txType string
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.OrderID, &txType,
			&tx.Points, &tx.BalanceAfter, &tx.Description, &tx.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan point transaction: %w", err)
		}
		tx.Type = domain.PointTransactionType(txType)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate point transactions: %w", err)
	}

	return txs, total, nil
}

func (r *loyaltyRepository) get(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, total_points, available_points, lifetime_points, tier, created_at, updated_at
		FROM loyalty_accounts
		WHERE user_id = $1
	`, userID)

	account, err := scanLoyaltyAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LoyaltyAccount{}, domain.ErrLoyaltyAccountNotFound
		}
		return domain.LoyaltyAccount{}, err
	}
	return account, nil
}

func scanLoyaltyAccount(row *sql.Row) (domain.LoyaltyAccount, error) {
	var (
		account domain.LoyaltyAccount
		tier    string
	)
	err := row.Scan(
		&account.UserID, &account.TotalPoints, &account.AvailablePoints,
		&account.LifetimePoints, &tier, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LoyaltyAccount{}, sql.ErrNoRows
		}
		return domain.LoyaltyAccount{}, fmt.Errorf("scan loyalty account: %w", err)
	}
	account.Tier = domain.LoyaltyTier(tier)
	return account, nil
}

func tierForValue(expr string) string {
	return `
	CASE
		WHEN ` + expr + ` >= 10000 THEN 'PLATINUM'
		WHEN ` + expr + ` >= 5000 THEN 'GOLD'
		WHEN ` + expr + ` >= 2000 THEN 'SILVER'
		ELSE 'BRONZE'
	END`
}

var _ domain.LoyaltyRepository = (*loyaltyRepository)(nil)
