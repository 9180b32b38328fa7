package domain

import (
	"fmt"
	"strings"
	"time"
)

// DiscountType определяет способ расчёта скидки по ваучеру.
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Voucher — промокод со счётчиками использования.
// Глобальный счётчик UsageCount мутируется оркестратором атомарно
// через VoucherRepository.IncrementUsage.
type Voucher struct {
	ID                   string
	Code                 string
	Name                 string
	Description          string
	DiscountType         DiscountType
	DiscountValue        int64
	MaxDiscountAmount    int64 // 0 — кап не задан
	MinOrderAmount       int64
	MaxUsage             int64 // 0 — глобальный лимит не задан
	MaxUsagePerUser      int64
	UsageCount           int64
	StartDate            time.Time
	EndDate              time.Time
	IsActive             bool
	IsPublic             bool
	ApplicableProducts   []string // пустой список — применим ко всем товарам
	ApplicableCategories []string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UserVoucher — строка использования ваучера конкретным пользователем.
// Ровно одна строка на пару (user, voucher).
type UserVoucher struct {
	UserID     string
	VoucherID  string
	UsageCount int64
	IsSaved    bool
	SavedAt    *time.Time
	LastUsedAt *time.Time
}

// NormalizeVoucherCode приводит код к канонической форме.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValid проверяет базовую действительность ваучера: активен, в окне
// действия, глобальный лимит не исчерпан.
func (v *Voucher) IsValid(now time.Time) bool {
	if !v.IsActive {
		return false
	}
	if now.Before(v.StartDate) || now.After(v.EndDate) {
		return false
	}
	if v.MaxUsage > 0 && v.UsageCount >= v.MaxUsage {
		return false
	}
	return true
}

// ValidateForOrder проверяет применимость ваучера к конкретному заказу.
func (v *Voucher) ValidateForOrder(orderSubtotal, userUsageCount int64, now time.Time) error {
	if !v.IsActive || now.Before(v.StartDate) || now.After(v.EndDate) {
		return fmt.Errorf("%w: voucher %s is not active", ErrVoucherNotApplicable, v.Code)
	}
	if v.MaxUsage > 0 && v.UsageCount >= v.MaxUsage {
		return fmt.Errorf("%w: voucher %s", ErrVoucherExhausted, v.Code)
	}
	if orderSubtotal < v.MinOrderAmount {
		return fmt.Errorf("%w: order subtotal %d below minimum %d", ErrVoucherNotApplicable, orderSubtotal, v.MinOrderAmount)
	}
	if v.MaxUsagePerUser > 0 && userUsageCount >= v.MaxUsagePerUser {
		return fmt.Errorf("%w: per-user usage limit reached", ErrVoucherNotApplicable)
	}
	return nil
}

// CalculateDiscount считает размер скидки для подытога заказа.
// Чистая функция: мутации счётчиков использования выполняет оркестратор
// и только после успешного расчёта.
func (v *Voucher) CalculateDiscount(orderSubtotal int64) int64 {
	var discount int64

	switch v.DiscountType {
	case DiscountTypePercentage:
		discount = orderSubtotal * v.DiscountValue / 100
		if v.MaxDiscountAmount > 0 && discount > v.MaxDiscountAmount {
			discount = v.MaxDiscountAmount
		}
	case DiscountTypeFixedAmount:
		discount = v.DiscountValue
	}

	// Скидка не может превышать сумму, которую она уменьшает.
	if discount > orderSubtotal {
		discount = orderSubtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// AppliesTo проверяет, что хотя бы одна позиция заказа попадает в
// allow-списки ваучера. Пустые списки означают «применим ко всему».
func (v *Voucher) AppliesTo(productIDs, categoryIDs []string) bool {
	if len(v.ApplicableProducts) == 0 && len(v.ApplicableCategories) == 0 {
		return true
	}

	for _, id := range productIDs {
		for _, allowed := range v.ApplicableProducts {
			if id == allowed {
				return true
			}
		}
	}
	for _, id := range categoryIDs {
		for _, allowed := range v.ApplicableCategories {
			if id == allowed {
				return true
			}
		}
	}
	return false
}
