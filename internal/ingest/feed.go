// Package ingest implements the live capture feed: a WebSocket client that
// receives interaction records as they are produced, appends every record to
// the log store, and hands inline audio chunks to the streaming aggregator
// for immediate play-ready coalescing.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/echoreplay/internal/aggregator"
	"github.com/MrWong99/echoreplay/internal/logstore"
	"github.com/MrWong99/echoreplay/internal/observe"
	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/record"
)

// Envelope is one capture feed message. Audio chunk records carry their PCM
// inline (base64) so live playback does not wait for blob-store round trips;
// the record's MediaRef still points at the durable copy.
type Envelope struct {
	SessionID string                   `json:"session_id"`
	Record    record.InteractionRecord `json:"record"`
	PCM       string                   `json:"pcm,omitempty"`
}

// DecodeEnvelope parses and validates one feed message. The record kind must
// be recognised; audio chunks must carry decodable PCM with a sample rate.
func DecodeEnvelope(data []byte) (Envelope, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("ingest: decode envelope: %w", err)
	}
	if env.SessionID == "" {
		return Envelope{}, nil, fmt.Errorf("ingest: envelope has no session id")
	}
	if !env.Record.Kind.IsValid() {
		return Envelope{}, nil, fmt.Errorf("ingest: record %s has unknown kind %q", env.Record.ID, env.Record.Kind)
	}

	var pcm []byte
	if env.PCM != "" {
		var err error
		pcm, err = base64.StdEncoding.DecodeString(env.PCM)
		if err != nil {
			return Envelope{}, nil, fmt.Errorf("ingest: record %s: decode pcm: %w", env.Record.ID, err)
		}
		if env.Record.Metadata.SampleRate <= 0 {
			return Envelope{}, nil, fmt.Errorf("ingest: record %s carries pcm but no sample rate", env.Record.ID)
		}
	}
	return env, pcm, nil
}

// Feed is a live capture feed session. One Feed serves one capture session;
// reconnecting means dialing a new Feed.
type Feed struct {
	conn    *websocket.Conn
	store   logstore.Store
	agg     *aggregator.Aggregator
	metrics *observe.Metrics

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Option configures a [Feed].
type Option func(*Feed)

// WithMetrics wires ingest instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// Dial connects to the capture feed at feedURL and starts consuming messages.
// Every valid record is appended to store; audio chunks are additionally
// pushed into agg for quiet-period coalescing.
func Dial(ctx context.Context, feedURL string, store logstore.Store, agg *aggregator.Aggregator, opts ...Option) (*Feed, error) {
	conn, _, err := websocket.Dial(ctx, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: dial %s: %w", feedURL, err)
	}

	f := &Feed{
		conn:  conn,
		store: store,
		agg:   agg,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.wg.Add(1)
	go f.readLoop(ctx)

	slog.Info("capture feed connected", "url", feedURL)
	return f, nil
}

// Done is closed when the read loop has exited (connection closed by either
// side).
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close terminates the feed. Idempotent.
func (f *Feed) Close() error {
	f.once.Do(func() {
		f.conn.Close(websocket.StatusNormalClosure, "feed closed")
		f.wg.Wait()
	})
	return nil
}

// readLoop receives envelopes until the connection closes. Malformed
// messages are logged and skipped; the feed stays up.
func (f *Feed) readLoop(ctx context.Context) {
	defer f.wg.Done()
	defer close(f.done)

	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			slog.Info("capture feed disconnected", "err", err)
			return
		}

		env, pcm, err := DecodeEnvelope(data)
		if err != nil {
			slog.Warn("capture feed: dropping message", "err", err)
			continue
		}
		f.handle(ctx, env, pcm)
	}
}

// handle persists one record and routes inline audio to the aggregator.
func (f *Feed) handle(ctx context.Context, env Envelope, pcm []byte) {
	if err := f.store.Append(ctx, env.SessionID, env.Record); err != nil {
		slog.Error("capture feed: append record failed",
			"session_id", env.SessionID,
			"record_id", env.Record.ID,
			"err", err,
		)
		return
	}
	if f.metrics != nil {
		f.metrics.IngestRecords.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(env.Record.Kind))))
	}

	if f.agg == nil || len(pcm) == 0 {
		return
	}
	if env.Record.Kind != record.KindAudioChunk && env.Record.Kind != record.KindAPIResponse {
		return
	}

	src := aggregator.SourceAI
	if env.Record.IsUserAudio() {
		src = aggregator.SourceUser
	}
	f.agg.Push(src, audio.Buffer{
		Data:       pcm,
		SampleRate: env.Record.Metadata.SampleRate,
		Channels:   1,
	})
}
