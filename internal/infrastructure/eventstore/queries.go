package eventstore

const (
	queryInsertRowPostgres = `
		INSERT INTO events (aggregate_id, version, event_name, payload, timestamp_us)
		VALUES ($1, $2, $3, $4, $5)
	`

	queryFindRowsPostgres = `
		SELECT aggregate_id, version, event_name, payload, timestamp_us
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	queryMaxVersionPostgres = `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`

	queryAggregateIDs = `
		SELECT DISTINCT aggregate_id
		FROM events
		ORDER BY aggregate_id ASC
	`

	queryInsertRowSQLite = `
		INSERT INTO events (aggregate_id, version, event_name, payload, timestamp_us)
		VALUES (?, ?, ?, ?, ?)
	`

	queryFindRowsSQLite = `
		SELECT aggregate_id, version, event_name, payload, timestamp_us
		FROM events
		WHERE aggregate_id = ?
		ORDER BY version ASC
	`

	queryMaxVersionSQLite = `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = ?
	`

	schemaSQLite = `
	CREATE TABLE IF NOT EXISTS events (
		aggregate_id TEXT NOT NULL,
		version INTEGER NOT NULL CHECK (version > 0),
		event_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp_us INTEGER NOT NULL,
		PRIMARY KEY (aggregate_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
	`
)
