package logstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/echoreplay/pkg/record"
)

var _ Store = (*PostgresStore)(nil)

// ddlInteractionRecords creates the interaction log table. The composite
// index matches the (timestamp, sequence) read order so Records never sorts
// in memory.
const ddlInteractionRecords = `
CREATE TABLE IF NOT EXISTS interaction_records (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    record_id  TEXT         NOT NULL,
    kind       TEXT         NOT NULL,
    ts         TIMESTAMPTZ  NOT NULL,
    sequence   BIGINT       NOT NULL DEFAULT 0,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    media_ref  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_interaction_records_session
    ON interaction_records (session_id);

CREATE INDEX IF NOT EXISTS idx_interaction_records_session_order
    ON interaction_records (session_id, ts, sequence);
`

// PostgresStore is a [Store] backed by a PostgreSQL interaction_records
// table. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore, establishes a connection pool to
// the database at dsn, and runs [Migrate] to ensure the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("logstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("logstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("logstore: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the interaction_records table and its indexes if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlInteractionRecords); err != nil {
		return fmt.Errorf("create interaction_records: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts rec into the session's log.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, rec record.InteractionRecord) error {
	if sessionID == "" {
		return fmt.Errorf("logstore: append: session id is empty")
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("logstore: append %s: marshal metadata: %w", rec.ID, err)
	}

	const q = `
		INSERT INTO interaction_records
		    (session_id, record_id, kind, ts, sequence, metadata, media_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		rec.ID,
		string(rec.Kind),
		rec.Timestamp,
		rec.Sequence,
		meta,
		rec.MediaRef,
	)
	if err != nil {
		return fmt.Errorf("logstore: append %s: %w", rec.ID, err)
	}
	return nil
}

// Records returns the session's full log ordered by (ts, sequence).
func (s *PostgresStore) Records(ctx context.Context, sessionID string) ([]record.InteractionRecord, error) {
	const q = `
		SELECT record_id, kind, ts, sequence, metadata, media_ref
		FROM   interaction_records
		WHERE  session_id = $1
		ORDER  BY ts, sequence`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("logstore: records for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []record.InteractionRecord
	for rows.Next() {
		var rec record.InteractionRecord
		var kind string
		var meta []byte
		if err := rows.Scan(&rec.ID, &kind, &rec.Timestamp, &rec.Sequence, &meta, &rec.MediaRef); err != nil {
			return nil, fmt.Errorf("logstore: scan record: %w", err)
		}
		rec.Kind = record.Kind(kind)
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("logstore: unmarshal metadata for %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("logstore: records for %q: %w", sessionID, err)
	}
	if out == nil {
		return nil, fmt.Errorf("logstore: records for %q: %w", sessionID, ErrSessionNotFound)
	}
	return out, nil
}

// Sessions returns all known session ids, sorted.
func (s *PostgresStore) Sessions(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT session_id FROM interaction_records ORDER BY session_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("logstore: sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("logstore: scan session id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("logstore: sessions: %w", err)
	}
	return out, nil
}
