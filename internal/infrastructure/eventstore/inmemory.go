package eventstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// InMemoryEngine реализует Engine в памяти для тестирования и локального запуска
type InMemoryEngine struct {
	mu   sync.RWMutex
	rows map[string]map[int]Row
}

var (
	_ Engine        = (*InMemoryEngine)(nil)
	_ VersionReader = (*InMemoryEngine)(nil)
	_ IDLister      = (*InMemoryEngine)(nil)
)

// NewInMemoryEngine создает новый in-memory engine
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{
		rows: make(map[string]map[int]Row),
	}
}

// InsertMany сохраняет строки атомарно
func (e *InMemoryEngine) InsertMany(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if err := checkBatch(rows); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Сначала проверяем весь батч, потом пишем
	for _, row := range rows {
		if _, exists := e.rows[row.AggregateID][row.Version]; exists {
			return fmt.Errorf("%w: %s@%d", ErrDuplicateRow, row.AggregateID, row.Version)
		}
	}

	for _, row := range rows {
		stream, ok := e.rows[row.AggregateID]
		if !ok {
			stream = make(map[int]Row)
			e.rows[row.AggregateID] = stream
		}
		stream[row.Version] = row
	}

	return nil
}

// FindByAggregateID возвращает копию строк агрегата
func (e *InMemoryEngine) FindByAggregateID(ctx context.Context, aggregateID string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	stream := e.rows[aggregateID]
	result := make([]Row, 0, len(stream))
	for _, row := range stream {
		result = append(result, row)
	}

	return result, nil
}

// MaxVersion возвращает максимальную версию агрегата
func (e *InMemoryEngine) MaxVersion(ctx context.Context, aggregateID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	maxVersion := 0
	for v := range e.rows[aggregateID] {
		maxVersion = max(maxVersion, v)
	}

	return maxVersion, nil
}

// Clear очищает все строки (для тестов)
func (e *InMemoryEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rows = make(map[string]map[int]Row)
}

// AggregateIDs возвращает все ID агрегатов
func (e *InMemoryEngine) AggregateIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.rows))
	for id := range e.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}
