package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newMockPostgresEngine(t *testing.T) (*SQLEngine, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewPostgresEngine(db), mock, db
}

func pgRows(versions ...int) []Row {
	rows := make([]Row, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, Row{
			AggregateID: "Adder-1",
			Version:     v,
			EventName:   "adding",
			Payload:     `{"number":1}`,
			Timestamp:   1700000000000000,
		})
	}
	return rows
}

func TestPostgresEngine_InsertMany(t *testing.T) {
	tests := []struct {
		name       string
		rows       []Row
		mockResult func(mock sqlmock.Sqlmock, rows []Row)
		assertions func(t *testing.T, err error)
	}{
		{
			name: "success commits",
			rows: pgRows(1, 2),
			mockResult: func(mock sqlmock.Sqlmock, rows []Row) {
				mock.ExpectBegin()
				prep := mock.ExpectPrepare(regexp.QuoteMeta(queryInsertRowPostgres))
				for _, r := range rows {
					prep.ExpectExec().
						WithArgs(r.AggregateID, r.Version, r.EventName, r.Payload, r.Timestamp).
						WillReturnResult(sqlmock.NewResult(0, 1))
				}
				mock.ExpectCommit()
			},
			assertions: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name: "unique violation maps to ErrDuplicateRow",
			rows: pgRows(1, 2),
			mockResult: func(mock sqlmock.Sqlmock, rows []Row) {
				mock.ExpectBegin()
				prep := mock.ExpectPrepare(regexp.QuoteMeta(queryInsertRowPostgres))
				prep.ExpectExec().
					WithArgs(rows[0].AggregateID, rows[0].Version, rows[0].EventName, rows[0].Payload, rows[0].Timestamp).
					WillReturnResult(sqlmock.NewResult(0, 1))
				prep.ExpectExec().
					WithArgs(rows[1].AggregateID, rows[1].Version, rows[1].EventName, rows[1].Payload, rows[1].Timestamp).
					WillReturnError(&pq.Error{Code: pgUniqueViolation})
				mock.ExpectRollback()
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrDuplicateRow)
			},
		},
		{
			name: "other errors are wrapped",
			rows: pgRows(1),
			mockResult: func(mock sqlmock.Sqlmock, rows []Row) {
				mock.ExpectBegin()
				mock.ExpectPrepare(regexp.QuoteMeta(queryInsertRowPostgres)).
					ExpectExec().
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			assertions: func(t *testing.T, err error) {
				require.Error(t, err)
				require.NotErrorIs(t, err, ErrDuplicateRow)
				require.ErrorContains(t, err, "connection reset")
			},
		},
		{
			name: "begin failure",
			rows: pgRows(1),
			mockResult: func(mock sqlmock.Sqlmock, _ []Row) {
				mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "failed to begin transaction")
			},
		},
		{
			name: "invalid batch short-circuits",
			rows: append(pgRows(1), pgRows(1)...),
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrDuplicateRow)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, mock, db := newMockPostgresEngine(t)
			defer db.Close()

			if tc.mockResult != nil {
				tc.mockResult(mock, tc.rows)
			}

			err := engine.InsertMany(context.Background(), tc.rows)
			tc.assertions(t, err)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresEngine_FindByAggregateID(t *testing.T) {
	engine, mock, db := newMockPostgresEngine(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryFindRowsPostgres)).
		WithArgs("Adder-1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_id", "version", "event_name", "payload", "timestamp_us"}).
			AddRow("Adder-1", 1, "Created", `{"id":"Adder-1"}`, int64(10)).
			AddRow("Adder-1", 2, "adding", `{"number":5}`, int64(20)),
		).RowsWillBeClosed()

	rows, err := engine.FindByAggregateID(context.Background(), "Adder-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Created", rows[0].EventName)
	require.Equal(t, 2, rows[1].Version)
	require.Equal(t, `{"number":5}`, rows[1].Payload)
	require.Equal(t, int64(20), rows[1].Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngine_FindByAggregateID_QueryError(t *testing.T) {
	engine, mock, db := newMockPostgresEngine(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryFindRowsPostgres)).
		WithArgs("Adder-1").
		WillReturnError(errors.New("boom"))

	_, err := engine.FindByAggregateID(context.Background(), "Adder-1")
	require.ErrorContains(t, err, "failed to query events")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngine_MaxVersion(t *testing.T) {
	engine, mock, db := newMockPostgresEngine(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryMaxVersionPostgres)).
		WithArgs("Adder-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))

	v, err := engine.MaxVersion(context.Background(), "Adder-1")
	require.NoError(t, err)
	require.Equal(t, 4, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngine_AggregateIDs(t *testing.T) {
	engine, mock, db := newMockPostgresEngine(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryAggregateIDs)).
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_id"}).AddRow("Adder-1").AddRow("Adder-2"))

	ids, err := engine.AggregateIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Adder-1", "Adder-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngine_CloseDoesNotOwnPool(t *testing.T) {
	engine, mock, db := newMockPostgresEngine(t)
	defer db.Close()

	require.NoError(t, engine.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPostgresUniqueViolation(t *testing.T) {
	require.True(t, isPostgresUniqueViolation(&pq.Error{Code: pgUniqueViolation}))
	require.False(t, isPostgresUniqueViolation(&pq.Error{Code: "40001"}))
	require.False(t, isPostgresUniqueViolation(errors.New("plain")))
}
