// Package logstore persists the interaction record log. The live capture
// feed appends to it; replay reads a session's full ordered log from it.
//
// Two implementations are provided: [MemoryStore] for tests and DSN-less
// operation, and [PostgresStore] backed by a pgx connection pool.
package logstore

import (
	"context"
	"errors"

	"github.com/MrWong99/echoreplay/pkg/record"
)

// ErrSessionNotFound is returned by Records for an unknown session.
var ErrSessionNotFound = errors.New("logstore: session not found")

// Store is the interaction log contract. Records returns the session's full
// log ordered by (timestamp, sequence). All methods are safe for concurrent
// use.
type Store interface {
	Append(ctx context.Context, sessionID string, rec record.InteractionRecord) error
	Records(ctx context.Context, sessionID string) ([]record.InteractionRecord, error)
	Sessions(ctx context.Context) ([]string, error)
}
