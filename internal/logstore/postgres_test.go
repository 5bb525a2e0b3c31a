package logstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/echoreplay/internal/logstore"
	"github.com/MrWong99/echoreplay/pkg/record"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if ECHOREPLAY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ECHOREPLAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ECHOREPLAY_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [logstore.PostgresStore] with a clean table.
func newTestStore(t *testing.T) *logstore.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS interaction_records"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := logstore.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []record.InteractionRecord{
		{
			ID: "u-1", Kind: record.KindAudioChunk,
			Timestamp: base.Add(time.Second), Sequence: 2,
			Metadata: record.Metadata{UserSource: true, SampleRate: 16000},
			MediaRef: "ref-u-1",
		},
		{
			ID: "act-1", Kind: record.KindUserAction,
			Timestamp: base, Sequence: 1,
			Metadata: record.Metadata{ActionType: record.ActionAudioStreamStart},
		},
		{
			ID: "api-1", Kind: record.KindAPIResponse,
			Timestamp: base.Add(time.Second), Sequence: 3,
			Metadata: record.Metadata{ResponseKind: record.ResponseAudio, SampleRate: 24000, Text: "hi"},
			MediaRef: "ref-api-1",
		},
	}
	for _, r := range in {
		if err := s.Append(ctx, "s-pg", r); err != nil {
			t.Fatalf("Append(%s) error = %v", r.ID, err)
		}
	}

	got, err := s.Records(ctx, "s-pg")
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Records() len = %d, want 3", len(got))
	}

	// Ordered by (ts, sequence): act-1 first, then u-1 and api-1 by sequence.
	wantOrder := []string{"act-1", "u-1", "api-1"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("Records()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}

	// Metadata survives the JSONB round trip.
	if !got[1].Metadata.UserSource || got[1].Metadata.SampleRate != 16000 {
		t.Errorf("u-1 metadata = %+v", got[1].Metadata)
	}
	if got[2].Metadata.ResponseKind != record.ResponseAudio || got[2].Metadata.Text != "hi" {
		t.Errorf("api-1 metadata = %+v", got[2].Metadata)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("act-1 timestamp = %v, want %v", got[0].Timestamp, base)
	}
}

func TestPostgresStore_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Records(context.Background(), "missing")
	if !errors.Is(err, logstore.ErrSessionNotFound) {
		t.Errorf("Records() error = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresStore_Sessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s-2", "s-1", "s-2"} {
		if err := s.Append(ctx, id, record.InteractionRecord{
			ID: "r", Kind: record.KindTextInput, Timestamp: base,
		}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(got) != 2 || got[0] != "s-1" || got[1] != "s-2" {
		t.Errorf("Sessions() = %v, want [s-1 s-2]", got)
	}
}
