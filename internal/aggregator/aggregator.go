// Package aggregator buffers audio chunks arriving from a live capture
// stream and coalesces them into single play-ready units once a quiet period
// elapses. It is the live-capture analogue of segmentation plus
// materialization, operating online instead of on a closed log.
package aggregator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echoreplay/pkg/audio"
)

// Source identifies a logical audio stream. The two sources are fully
// independent state machines — their chunks are never concatenated into the
// same unit even when interleaved in arrival order.
type Source int

const (
	// SourceUser is the local microphone.
	SourceUser Source = iota

	// SourceAI is the remote AI voice output.
	SourceAI
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Default quiet-period windows. Human speech has longer natural pauses than
// token-by-token AI audio emission, so the user window is wider.
const (
	DefaultUserQuietPeriod = 1200 * time.Millisecond
	DefaultAIQuietPeriod   = 350 * time.Millisecond
)

// Events carries the aggregator's lifecycle callbacks. Handlers are invoked
// from the aggregator's timer goroutine and must not block. Any handler may
// be nil.
type Events struct {
	// StreamStart fires when the first chunk of a new burst arrives.
	StreamStart func(src Source)

	// PlaybackStart fires once a quiet period elapses, with the coalesced
	// play-ready unit.
	PlaybackStart func(src Source, unit audio.ConcatResult)

	// StreamEnd fires after the unit has been handed off.
	StreamEnd func(src Source)
}

// stream is the per-source state machine: Idle (no chunks buffered) →
// Buffering (chunks accumulating, timer armed) → flushed back to Idle.
type stream struct {
	buffers    []audio.Buffer
	timer      *time.Timer
	generation uint64 // invalidates timer fires from a superseded arming
}

// Aggregator maintains one buffering state machine per source. All exported
// methods are safe for concurrent use.
type Aggregator struct {
	events Events
	quiet  map[Source]time.Duration
	caps   audio.Caps

	mu      sync.Mutex
	streams map[Source]*stream
	closed  bool
}

// Option configures an [Aggregator] during construction.
type Option func(*Aggregator)

// WithQuietPeriod overrides the quiet-period window for src.
func WithQuietPeriod(src Source, d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.quiet[src] = d
		}
	}
}

// WithCaps overrides the concatenation safety caps applied to flushed units.
func WithCaps(caps audio.Caps) Option {
	return func(a *Aggregator) {
		a.caps = caps
	}
}

// New creates an Aggregator delivering lifecycle events to events.
func New(events Events, opts ...Option) *Aggregator {
	a := &Aggregator{
		events: events,
		quiet: map[Source]time.Duration{
			SourceUser: DefaultUserQuietPeriod,
			SourceAI:   DefaultAIQuietPeriod,
		},
		streams: map[Source]*stream{
			SourceUser: {},
			SourceAI:   {},
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Push appends a chunk to src's buffer. If the stream was idle, a StreamStart
// event fires and the stream enters Buffering. The quiet-period timer is
// (re)armed on every push; it only fires after a full window with no new
// chunk.
func (a *Aggregator) Push(src Source, buf audio.Buffer) {
	if len(buf.Data) == 0 {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	s := a.streams[src]
	wasIdle := len(s.buffers) == 0
	s.buffers = append(s.buffers, buf)

	// Re-arm the quiet timer. Bumping the generation invalidates any fire
	// from the previous arming that is already in flight.
	s.generation++
	gen := s.generation
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(a.quiet[src], func() {
		a.flushQuiet(src, gen)
	})
	a.mu.Unlock()

	if wasIdle && a.events.StreamStart != nil {
		a.events.StreamStart(src)
	}
}

// flushQuiet runs when src's quiet period elapsed with no new chunk: the
// buffered chunks are concatenated into one playable unit and handed off.
func (a *Aggregator) flushQuiet(src Source, gen uint64) {
	a.mu.Lock()
	s := a.streams[src]
	if a.closed || gen != s.generation || len(s.buffers) == 0 {
		a.mu.Unlock()
		return
	}
	buffers := s.buffers
	s.buffers = nil
	s.timer = nil
	a.mu.Unlock()

	unit := audio.Concat(buffers, a.caps)
	slog.Debug("aggregator: quiet period elapsed, flushing",
		"source", src.String(),
		"chunks", unit.ChunkCount,
		"duration", unit.Buffer.Duration(),
		"truncated", unit.Truncated,
	)

	if a.events.PlaybackStart != nil {
		a.events.PlaybackStart(src, unit)
	}
	if a.events.StreamEnd != nil {
		a.events.StreamEnd(src)
	}
}

// Buffered returns the number of chunks currently buffered for src.
func (a *Aggregator) Buffered(src Source) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams[src].buffers)
}

// Clear discards both sources' buffers immediately without emitting any
// event. Used when replay stops or the capture feed disconnects. Safe to
// call repeatedly.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.streams {
		s.generation++
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.buffers = nil
	}
}

// Close clears all buffers and permanently stops the aggregator. Subsequent
// pushes are dropped. Idempotent.
func (a *Aggregator) Close() {
	a.Clear()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
