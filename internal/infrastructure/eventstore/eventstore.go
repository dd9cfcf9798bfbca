package eventstore

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateRow возвращается когда строка с такой парой (aggregate_id, version) уже есть
	ErrDuplicateRow = errors.New("duplicate event row")

	// ErrInvalidRow возвращается при невалидной строке (пустой id, версия < 1, невалидный JSON)
	ErrInvalidRow = errors.New("invalid event row")
)

// Engine определяет границу между репозиторием и конкретным хранилищем.
//
// Реализация обязана гарантировать уникальность пары (aggregate_id, version)
// и атомарность InsertMany: либо записаны все строки батча, либо ни одной.
type Engine interface {
	// InsertMany записывает строки одной транзакцией.
	// Нарушение уникальности возвращает ErrDuplicateRow.
	InsertMany(ctx context.Context, rows []Row) error

	// FindByAggregateID возвращает все строки агрегата.
	// Порядок не гарантируется, пустой результат не является ошибкой.
	FindByAggregateID(ctx context.Context, aggregateID string) ([]Row, error)
}

// VersionReader реализуется хранилищами, умеющими быстро вернуть максимальную версию
type VersionReader interface {
	// MaxVersion возвращает 0 если у агрегата нет строк
	MaxVersion(ctx context.Context, aggregateID string) (int, error)
}

// IDLister реализуется хранилищами, умеющими перечислить агрегаты
type IDLister interface {
	// AggregateIDs возвращает ID всех агрегатов, отсортированные по возрастанию
	AggregateIDs(ctx context.Context) ([]string, error)
}

// Closer реализуется хранилищами, владеющими соединением
type Closer interface {
	Close() error
}
