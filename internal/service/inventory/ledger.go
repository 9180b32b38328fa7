package inventory

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// Ledger реализует StockLedger поверх каталога товаров.
// Атомарность каждого резерва обеспечивает репозиторий; ledger добавляет
// только логирование и единую точку входа для оркестратора.
type Ledger struct {
	products domain.ProductRepository
	logger   *log.Entry
}

// NewLedger создаёт складской журнал поверх ProductRepository.
func NewLedger(products domain.ProductRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Ledger{products: products, logger: logger}
}

// Reserve атомарно резервирует qty единиц товара.
func (l *Ledger) Reserve(productID string, qty int32) error {
	if err := l.products.ReserveStock(productID, qty); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"qty":        qty,
		}).Warn("stock reserve rejected")
		return err
	}
	return nil
}

// Release возвращает qty единиц на склад (компенсация).
func (l *Ledger) Release(productID string, qty int32) error {
	if err := l.products.ReleaseStock(productID, qty); err != nil {
		// Ошибка компенсации логируется как error: остаток разошёлся с реальностью.
		l.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"qty":        qty,
		}).Error("stock release failed")
		return err
	}
	return nil
}

var _ domain.StockLedger = (*Ledger)(nil)
