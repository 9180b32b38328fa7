package inventory

import "github.com/vladislavdragonenkov/fos/internal/domain"

// MockLedger — конфигурируемая заглушка StockLedger для тестов.
type MockLedger struct {
	ReserveErr error
	ReleaseErr error

	// FailOnProduct задаёт товар, для которого Reserve вернёт ReserveErr;
	// пустое значение — ошибка для всех вызовов.
	FailOnProduct string

	ReserveCalls int
	ReleaseCalls int
	Released     map[string]int32
}

// NewMockLedger возвращает mock с успешным сценарием по умолчанию.
func NewMockLedger() *MockLedger {
	return &MockLedger{Released: make(map[string]int32)}
}

// Reserve возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockLedger) Reserve(productID string, qty int32) error {
	m.ReserveCalls++
	if m.ReserveErr != nil && (m.FailOnProduct == "" || m.FailOnProduct == productID) {
		return m.ReserveErr
	}
	return nil
}

// Release считает возвраты по товарам.
func (m *MockLedger) Release(productID string, qty int32) error {
	m.ReleaseCalls++
	if m.Released == nil {
		m.Released = make(map[string]int32)
	}
	m.Released[productID] += qty
	return m.ReleaseErr
}

var _ domain.StockLedger = (*MockLedger)(nil)
