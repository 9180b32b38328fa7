package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

type voucherRepository struct {
	db *sql.DB
}

// NewVoucherRepository создаёт PostgreSQL-реализацию VoucherRepository.
func NewVoucherRepository(store *Store) domain.VoucherRepository {
	return &voucherRepository{db: store.DB()}
}

func (r *voucherRepository) Create(voucher domain.Voucher) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	products, err := json.Marshal(voucher.ApplicableProducts)
	if err != nil {
		return fmt.Errorf("encode applicable products: %w", err)
	}
	categories, err := json.Marshal(voucher.ApplicableCategories)
	if err != nil {
		return fmt.Errorf("encode applicable categories: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO vouchers (
			id, code, name, description, discount_type, discount_value,
			max_discount_amount, min_order_amount, max_usage, max_usage_per_user,
			usage_count, start_date, end_date, is_active, is_public,
			applicable_products, applicable_categories, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		voucher.ID, domain.NormalizeVoucherCode(voucher.Code), voucher.Name,
		voucher.Description, string(voucher.DiscountType), voucher.DiscountValue,
		voucher.MaxDiscountAmount, voucher.MinOrderAmount, voucher.MaxUsage,
		voucher.MaxUsagePerUser, voucher.UsageCount, voucher.StartDate,
		voucher.EndDate, voucher.IsActive, voucher.IsPublic,
		products, categories, voucher.CreatedBy, voucher.CreatedAt, voucher.UpdatedAt,
	); err != nil {
		if _, unique := uniqueViolation(err); unique {
			return fmt.Errorf("voucher %s already exists", voucher.Code)
		}
		return fmt.Errorf("insert voucher: %w", err)
	}

	return nil
}

func (r *voucherRepository) GetByCode(code string) (domain.Voucher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		voucher              domain.Voucher
		discountType         string
		products, categories []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, discount_type, discount_value,
		       max_discount_amount, min_order_amount, max_usage, max_usage_per_user,
		       usage_count, start_date, end_date, is_active, is_public,
		       applicable_products, applicable_categories, created_by, created_at, updated_at
		FROM vouchers
		WHERE code = $1
	`, domain.NormalizeVoucherCode(code)).Scan(
		&voucher.ID, &voucher.Code, &voucher.Name, &voucher.Description,
		&discountType, &voucher.DiscountValue, &voucher.MaxDiscountAmount,
		&voucher.MinOrderAmount, &voucher.MaxUsage, &voucher.MaxUsagePerUser,
		&voucher.UsageCount, &voucher.StartDate, &voucher.EndDate,
		&voucher.IsActive, &voucher.IsPublic, &products, &categories,
		&voucher.CreatedBy, &voucher.CreatedAt, &voucher.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, domain.ErrVoucherNotFound
		}
		return domain.Voucher{}, fmt.Errorf("select voucher: %w", err)
	}
	voucher.DiscountType = domain.DiscountType(discountType)

	if err := json.Unmarshal(products, &voucher.ApplicableProducts); err != nil {
		return domain.Voucher{}, fmt.Errorf("decode applicable products: %w", err)
	}
	if err := json.Unmarshal(categories, &voucher.ApplicableCategories); err != nil {
		return domain.Voucher{}, fmt.Errorf("decode applicable categories: %w", err)
	}

	return voucher, nil
}

func (r *voucherRepository) IncrementUsage(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE vouchers
		SET usage_count = usage_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (max_usage = 0 OR usage_count < max_usage)
	`, id)
	if err != nil {
		return fmt.Errorf("increment voucher usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := r.voucherExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrVoucherNotFound
	}
	return fmt.Errorf("%w: global usage limit reached", domain.ErrVoucherExhausted)
}

func (r *voucherRepository) voucherExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM vouchers WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check voucher exists: %w", err)
}

type userVoucherRepository struct {
	db *sql.DB
}

// NewUserVoucherRepository создаёт PostgreSQL-реализацию UserVoucherRepository.
func NewUserVoucherRepository(store *Store) domain.UserVoucherRepository {
	return &userVoucherRepository{db: store.DB()}
}

func (r *userVoucherRepository) Get(userID, voucherID string) (domain.UserVoucher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		row                 domain.UserVoucher
		savedAt, lastUsedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, voucher_id, usage_count, is_saved, saved_at, last_used_at
		FROM user_vouchers
		WHERE user_id = $1 AND voucher_id = $2
	`, userID, voucherID).Scan(
		&row.UserID, &row.VoucherID, &row.UsageCount, &row.IsSaved, &savedAt, &lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Пользователь ещё не использовал ваучер: нулевая строка.
			return domain.UserVoucher{UserID: userID, VoucherID: voucherID}, nil
		}
		return domain.UserVoucher{}, fmt.Errorf("select user voucher: %w", err)
	}

	if savedAt.Valid {
		ts := savedAt.Time.UTC()
		row.SavedAt = &ts
	}
	if lastUsedAt.Valid {
		ts := lastUsedAt.Time.UTC()
		row.LastUsedAt = &ts
	}

	return row, nil
}

func (r *userVoucherRepository) IncrementUsage(userID, voucherID string, maxPerUser int64, usedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Upsert с проверкой лимита в условии: превышение оставляет строку нетронутой.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_vouchers (user_id, voucher_id, usage_count, last_used_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, voucher_id) DO UPDATE
		SET usage_count = user_vouchers.usage_count + 1,
		    last_used_at = EXCLUDED.last_used_at
		WHERE $4 = 0 OR user_vouchers.usage_count < $4
	`, userID, voucherID, usedAt.UTC(), maxPerUser)
	if err != nil {
		return fmt.Errorf("increment user voucher usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: per-user usage limit reached", domain.ErrVoucherNotApplicable)
	}

	return nil
}

var (
	_ domain.VoucherRepository     = (*voucherRepository)(nil)
	_ domain.UserVoucherRepository = (*userVoucherRepository)(nil)
)
