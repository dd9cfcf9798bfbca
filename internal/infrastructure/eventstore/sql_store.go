package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// dialect holds what differs between relational engines
type dialect struct {
	name              string
	insertRow         string
	findRows          string
	maxVersion        string
	isUniqueViolation func(error) bool
}

// SQLEngine реализует Engine поверх database/sql
type SQLEngine struct {
	db      *sql.DB
	dialect dialect
	ownsDB  bool
	logger  *slog.Logger
}

var (
	_ Engine        = (*SQLEngine)(nil)
	_ VersionReader = (*SQLEngine)(nil)
	_ IDLister      = (*SQLEngine)(nil)
	_ Closer        = (*SQLEngine)(nil)
)

// SQLOption configures SQLEngine.
type SQLOption func(*SQLEngine)

// WithSQLLogger sets the logger for the engine.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(e *SQLEngine) {
		e.logger = logger
	}
}

func newSQLEngine(db *sql.DB, d dialect, opts ...SQLOption) *SQLEngine {
	e := &SQLEngine{
		db:      db,
		dialect: d,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// DB returns the underlying connection pool.
func (e *SQLEngine) DB() *sql.DB {
	return e.db
}

// InsertMany сохраняет строки в одной транзакции
func (e *SQLEngine) InsertMany(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkBatch(rows); err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, e.dialect.insertRow)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err = stmt.ExecContext(ctx, row.AggregateID, row.Version, row.EventName, row.Payload, row.Timestamp)
		if err != nil {
			return e.insertError(ctx, row, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return e.insertError(ctx, rows[0], err)
	}

	return nil
}

func (e *SQLEngine) insertError(ctx context.Context, row Row, err error) error {
	if e.dialect.isUniqueViolation(err) {
		e.logger.WarnContext(ctx, "duplicate key error in event store",
			slog.String("engine", e.dialect.name),
			slog.String("aggregate_id", row.AggregateID),
			slog.Int("version", row.Version),
		)
		return fmt.Errorf("%w: %s@%d: %w", ErrDuplicateRow, row.AggregateID, row.Version, err)
	}

	e.logger.ErrorContext(ctx, "failed to insert events to event store",
		slog.String("engine", e.dialect.name),
		slog.String("aggregate_id", row.AggregateID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("failed to insert event %s@%d: %w", row.AggregateID, row.Version, err)
}

// FindByAggregateID загружает все строки агрегата
func (e *SQLEngine) FindByAggregateID(ctx context.Context, aggregateID string) ([]Row, error) {
	rs, err := e.db.QueryContext(ctx, e.dialect.findRows, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var row Row
		if err = rs.Scan(&row.AggregateID, &row.Version, &row.EventName, &row.Payload, &row.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rows = append(rows, row)
	}

	if err = rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return rows, nil
}

// MaxVersion возвращает текущую версию агрегата
func (e *SQLEngine) MaxVersion(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := e.db.QueryRowContext(ctx, e.dialect.maxVersion, aggregateID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// AggregateIDs возвращает ID всех агрегатов
func (e *SQLEngine) AggregateIDs(ctx context.Context) ([]string, error) {
	rs, err := e.db.QueryContext(ctx, queryAggregateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregate ids: %w", err)
	}
	defer rs.Close()

	var ids []string
	for rs.Next() {
		var id string
		if err = rs.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregate ids: %w", err)
	}

	return ids, nil
}

// Close closes the connection pool if the engine opened it.
func (e *SQLEngine) Close() error {
	if !e.ownsDB {
		return nil
	}
	return e.db.Close()
}
