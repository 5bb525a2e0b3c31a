// Package media resolves interaction-record binary payloads from an
// in-memory cache or the external blob store, with concurrent bulk prefetch
// and explicit expired-reference reporting.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/record"
)

// Error kinds surfaced by resolution. Callers classify with [errors.Is].
var (
	// ErrExpiredReference means the blob store reports the media reference is
	// no longer valid. Recoverable via an explicit regeneration step; the
	// resolver never retries on its own.
	ErrExpiredReference = errors.New("media: reference expired")

	// ErrFetchFailed covers transient and other store failures.
	ErrFetchFailed = errors.New("media: fetch failed")

	// ErrDecodeFailed means fetched bytes could not be interpreted as the
	// record's payload type.
	ErrDecodeFailed = errors.New("media: decode failed")
)

// defaultPrefetchConcurrency bounds the fan-out of PrefetchAll. Fetches are
// issued concurrently — sequential fetch of N media files is the dominant
// replay latency cost otherwise.
const defaultPrefetchConcurrency = 8

// BlobStore is the external binary payload store. Fetch must return an error
// wrapping [ErrExpiredReference] when a reference's validity window has
// lapsed.
type BlobStore interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Regenerate reissues an expired reference. Only called on explicit
	// operator action, never inline with playback.
	Regenerate(ctx context.Context, ref string) (string, error)
}

// FrameAllocator turns fetched video bytes into presentable frame handles.
// Every allocated handle must be released when the cache is cleared — a leak
// here accumulates per replay session.
type FrameAllocator interface {
	Alloc(data []byte) (handle string)
	Release(handle string)
}

// Payload is a resolved binary payload: exactly one of Audio or FrameHandle
// is set.
type Payload struct {
	Audio       *audio.Buffer
	FrameHandle string
}

// PrefetchReport summarises a bulk prefetch. Partial failure is expected and
// tolerated; the report carries counts instead of the resolver failing fast.
type PrefetchReport struct {
	Succeeded     int
	ExpiredCount  int
	OtherFailures int
}

// Resolver caches resolved payloads keyed by record ID. One resolver is owned
// by exactly one active replay/capture session; switching sessions must Clear
// the previous resolver before the next session's media becomes presentable.
//
// All exported methods are safe for concurrent use.
type Resolver struct {
	store  BlobStore
	frames FrameAllocator

	mu      sync.Mutex
	cache   map[string]Payload
	expired map[string]record.InteractionRecord // record ID → record with the lapsed ref
}

// NewResolver creates a Resolver backed by store. frames may be nil when no
// video playback surface exists; video payloads are then reported as decode
// failures.
func NewResolver(store BlobStore, frames FrameAllocator) *Resolver {
	return &Resolver{
		store:   store,
		frames:  frames,
		cache:   make(map[string]Payload),
		expired: make(map[string]record.InteractionRecord),
	}
}

// Resolve returns rec's binary payload from the cache, fetching from the blob
// store on a miss and populating the cache. Records without a media reference
// resolve to an error wrapping [ErrFetchFailed].
func (r *Resolver) Resolve(ctx context.Context, rec record.InteractionRecord) (Payload, error) {
	r.mu.Lock()
	if p, ok := r.cache[rec.ID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	if !rec.HasMedia() {
		return Payload{}, fmt.Errorf("resolve %s: record has no media reference: %w", rec.ID, ErrFetchFailed)
	}

	data, err := r.store.Fetch(ctx, rec.MediaRef)
	if err != nil {
		if errors.Is(err, ErrExpiredReference) {
			r.mu.Lock()
			r.expired[rec.ID] = rec
			r.mu.Unlock()
			return Payload{}, fmt.Errorf("resolve %s: %w", rec.ID, err)
		}
		return Payload{}, fmt.Errorf("resolve %s: %v: %w", rec.ID, err, ErrFetchFailed)
	}

	p, err := r.decode(rec, data)
	if err != nil {
		return Payload{}, err
	}

	r.mu.Lock()
	// Another goroutine may have resolved the same record concurrently; keep
	// the first payload so video handles are not double-allocated then leaked.
	if existing, ok := r.cache[rec.ID]; ok {
		r.mu.Unlock()
		if p.FrameHandle != "" && p.FrameHandle != existing.FrameHandle && r.frames != nil {
			r.frames.Release(p.FrameHandle)
		}
		return existing, nil
	}
	r.cache[rec.ID] = p
	delete(r.expired, rec.ID)
	r.mu.Unlock()

	return p, nil
}

// decode interprets fetched bytes according to the record kind.
func (r *Resolver) decode(rec record.InteractionRecord, data []byte) (Payload, error) {
	switch rec.Kind {
	case record.KindAudioChunk, record.KindAPIResponse:
		// Raw little-endian int16 PCM; an odd byte count cannot be sample data.
		if len(data) == 0 || len(data)%2 != 0 {
			return Payload{}, fmt.Errorf("resolve %s: %d bytes is not int16 PCM: %w", rec.ID, len(data), ErrDecodeFailed)
		}
		if rec.Metadata.SampleRate <= 0 {
			return Payload{}, fmt.Errorf("resolve %s: missing sample rate: %w", rec.ID, ErrDecodeFailed)
		}
		return Payload{Audio: &audio.Buffer{
			Data:       data,
			SampleRate: rec.Metadata.SampleRate,
			Channels:   1,
		}}, nil

	case record.KindVideoFrame:
		if r.frames == nil {
			return Payload{}, fmt.Errorf("resolve %s: no frame allocator: %w", rec.ID, ErrDecodeFailed)
		}
		return Payload{FrameHandle: r.frames.Alloc(data)}, nil

	default:
		return Payload{}, fmt.Errorf("resolve %s: kind %q carries no media: %w", rec.ID, rec.Kind, ErrDecodeFailed)
	}
}

// PrefetchAll resolves every media-carrying record in records concurrently
// and joins on completion. Individual failures are counted, not propagated —
// a replay continues with whatever media resolved.
func (r *Resolver) PrefetchAll(ctx context.Context, records []record.InteractionRecord) PrefetchReport {
	var (
		mu     sync.Mutex
		report PrefetchReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultPrefetchConcurrency)

	for _, rec := range records {
		if !rec.HasMedia() {
			continue
		}
		g.Go(func() error {
			_, err := r.Resolve(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Succeeded++
			case errors.Is(err, ErrExpiredReference):
				report.ExpiredCount++
			default:
				report.OtherFailures++
			}
			return nil // partial failure must not abort the group
		})
	}

	_ = g.Wait() // workers never return errors; Wait is the join point

	if report.ExpiredCount > 0 || report.OtherFailures > 0 {
		slog.Warn("media prefetch completed with failures",
			"succeeded", report.Succeeded,
			"expired", report.ExpiredCount,
			"other_failures", report.OtherFailures,
		)
	}
	return report
}

// Payload returns the cached payload for a record ID, if resolved.
func (r *Resolver) Payload(recordID string) (Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.cache[recordID]
	return p, ok
}

// ExpiredRecords returns the records whose references were reported expired
// since the last Clear, for display and for the regeneration flow.
func (r *Resolver) ExpiredRecords() []record.InteractionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]record.InteractionRecord, 0, len(r.expired))
	for _, rec := range r.expired {
		out = append(out, rec)
	}
	record.SortRecords(out)
	return out
}

// Regenerate asks the blob store to reissue every expired reference and
// retries resolution with the fresh reference. Returns the number of records
// successfully recovered.
func (r *Resolver) Regenerate(ctx context.Context) (int, error) {
	expired := r.ExpiredRecords()
	if len(expired) == 0 {
		return 0, nil
	}

	recovered := 0
	var errs []error
	for _, rec := range expired {
		newRef, err := r.store.Regenerate(ctx, rec.MediaRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("regenerate %s: %w", rec.ID, err))
			continue
		}
		rec.MediaRef = newRef
		if _, err := r.Resolve(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}

	slog.Info("media regeneration finished",
		"expired", len(expired),
		"recovered", recovered,
	)
	return recovered, errors.Join(errs...)
}

// Clear empties the cache and releases every allocated video frame handle.
// Safe to call repeatedly; always call it when replay stops or before loading
// a new session.
func (r *Resolver) Clear() {
	r.mu.Lock()
	cache := r.cache
	r.cache = make(map[string]Payload)
	r.expired = make(map[string]record.InteractionRecord)
	r.mu.Unlock()

	if r.frames == nil {
		return
	}
	for _, p := range cache {
		if p.FrameHandle != "" {
			r.frames.Release(p.FrameHandle)
		}
	}
}
