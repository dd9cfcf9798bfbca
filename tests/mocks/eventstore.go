package mocks

import (
	"context"
	"sync"

	"github.com/lllypuk/fenrys/internal/infrastructure/eventstore"
)

// MockEngine оборачивает eventstore.Engine и позволяет внедрять ошибки
type MockEngine struct {
	mu       sync.Mutex
	inner    *eventstore.InMemoryEngine
	calls    map[string]int
	failures map[string]error
	inserted [][]eventstore.Row
}

var _ eventstore.Engine = (*MockEngine)(nil)

// NewMockEngine создает mock поверх in-memory хранилища
func NewMockEngine() *MockEngine {
	return &MockEngine{
		inner:    eventstore.NewInMemoryEngine(),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// InsertMany записывает строки, если для метода не задана ошибка
func (m *MockEngine) InsertMany(ctx context.Context, rows []eventstore.Row) error {
	if err := m.record("InsertMany"); err != nil {
		return err
	}

	if err := m.inner.InsertMany(ctx, rows); err != nil {
		return err
	}

	m.mu.Lock()
	m.inserted = append(m.inserted, append([]eventstore.Row(nil), rows...))
	m.mu.Unlock()

	return nil
}

// FindByAggregateID возвращает строки агрегата
func (m *MockEngine) FindByAggregateID(ctx context.Context, aggregateID string) ([]eventstore.Row, error) {
	if err := m.record("FindByAggregateID"); err != nil {
		return nil, err
	}
	return m.inner.FindByAggregateID(ctx, aggregateID)
}

// FailNext заставляет следующий вызов метода вернуть err
func (m *MockEngine) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// GetCallCount возвращает количество вызовов метода
func (m *MockEngine) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Batches возвращает успешно записанные батчи (для тестов)
func (m *MockEngine) Batches() [][]eventstore.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]eventstore.Row(nil), m.inserted...)
}

// Inner возвращает нижележащее хранилище
func (m *MockEngine) Inner() *eventstore.InMemoryEngine {
	return m.inner
}

// Reset очищает вызовы, ошибки и данные
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inner.Clear()
	m.calls = make(map[string]int)
	m.failures = make(map[string]error)
	m.inserted = nil
}

func (m *MockEngine) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
	if err, ok := m.failures[method]; ok {
		delete(m.failures, method)
		return err
	}
	return nil
}
