package voucher

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// Quote — результат успешной проверки ваучера: сам ваучер и рассчитанная
// скидка для конкретного подытога. Счётчики использования на этом этапе
// ещё не тронуты.
type Quote struct {
	Voucher  domain.Voucher
	Discount int64
}

// Evaluator проверяет применимость ваучеров и фиксирует их использование.
// Validate — чистое чтение, Commit — мутация счётчиков; оркестратор
// вызывает Commit только после того, как заказ гарантированно создаётся.
type Evaluator struct {
	vouchers     domain.VoucherRepository
	userVouchers domain.UserVoucherRepository
	logger       *log.Entry
}

// NewEvaluator создаёт сервис проверки ваучеров.
func NewEvaluator(vouchers domain.VoucherRepository, userVouchers domain.UserVoucherRepository, logger *log.Entry) *Evaluator {
	if logger == nil {
		logger = log.New().WithField("component", "voucher")
	}
	return &Evaluator{
		vouchers:     vouchers,
		userVouchers: userVouchers,
		logger:       logger,
	}
}

// Validate проверяет код и возвращает котировку скидки.
// Любая ошибка здесь — мягкая для оформления заказа: оркестратор
// деградирует её до предупреждения в ответе.
func (e *Evaluator) Validate(userID, code string, subtotal int64, productIDs, categoryIDs []string, now time.Time) (Quote, error) {
	voucher, err := e.vouchers.GetByCode(code)
	if err != nil {
		return Quote{}, err
	}

	row, err := e.userVouchers.Get(userID, voucher.ID)
	if err != nil {
		return Quote{}, err
	}

	if err := voucher.ValidateForOrder(subtotal, row.UsageCount, now); err != nil {
		return Quote{}, err
	}
	if !voucher.AppliesTo(productIDs, categoryIDs) {
		return Quote{}, fmt.Errorf("%w: no eligible items in order", domain.ErrVoucherNotApplicable)
	}

	return Quote{
		Voucher:  voucher,
		Discount: voucher.CalculateDiscount(subtotal),
	}, nil
}

// Commit атомарно фиксирует использование: глобальный счётчик и счётчик
// пользователя. Глобальный инкремент идёт первым, потому что именно он
// несёт жёсткий лимит MaxUsage.
func (e *Evaluator) Commit(userID string, quote Quote, now time.Time) error {
	if err := e.vouchers.IncrementUsage(quote.Voucher.ID); err != nil {
		return err
	}
	if err := e.userVouchers.IncrementUsage(userID, quote.Voucher.ID, quote.Voucher.MaxUsagePerUser, now); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"user_id":    userID,
			"voucher_id": quote.Voucher.ID,
		}).Warn("per-user voucher usage update failed after global increment")
		return err
	}
	return nil
}
