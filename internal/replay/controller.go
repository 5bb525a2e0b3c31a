// Package replay is the session-scoped playback controller. It owns the
// media resolver cache for exactly one loaded session, builds the segment
// timeline on load, and drives the scheduler in segment mode with a fallback
// to record mode when segmentation fails.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echoreplay/internal/media"
	"github.com/MrWong99/echoreplay/internal/observe"
	"github.com/MrWong99/echoreplay/internal/scheduler"
	"github.com/MrWong99/echoreplay/internal/segment"
	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/record"
)

// LogSource returns the full ordered record list for a session.
type LogSource interface {
	Records(ctx context.Context, sessionID string) ([]record.InteractionRecord, error)
}

// Mode is the active playback strategy.
type Mode string

const (
	// ModeSegment plays materialized conversation segments.
	ModeSegment Mode = "segment"

	// ModeRecord is the fallback that walks raw records with heuristic
	// pacing, used when segmentation fails on unexpected input.
	ModeRecord Mode = "record"
)

// Progress is a point-in-time snapshot of playback state. It is also the
// /statusz response body.
type Progress struct {
	SessionID string `json:"session_id"`
	Mode      Mode   `json:"mode"`
	Playing   bool   `json:"playing"`

	// Current is the index of the unit playing or played last: a segment
	// index in segment mode, a record index in record mode.
	Current int `json:"current"`

	// Total is the number of playback units in the active mode.
	Total int `json:"total"`

	Speed float64 `json:"speed"`

	// ExpiredMedia is the number of records whose media reference has
	// expired; regeneration can recover them.
	ExpiredMedia int `json:"expired_media"`
}

// Config holds the controller's external collaborators.
type Config struct {
	Logs   LogSource
	Blobs  media.BlobStore
	Frames media.FrameAllocator
	Sinks  scheduler.Sinks

	// Caps overrides the materialization safety caps. Zero fields use the
	// package defaults.
	Caps audio.Caps

	// Metrics receives playback instrumentation. Nil disables it.
	Metrics *observe.Metrics

	// SchedulerOptions are passed through to the scheduler (delay table,
	// gain overrides).
	SchedulerOptions []scheduler.Option
}

// Controller sequences one replay session at a time. All exported methods
// are safe for concurrent use.
type Controller struct {
	logs    LogSource
	blobs   media.BlobStore
	frames  media.FrameAllocator
	caps    audio.Caps
	metrics *observe.Metrics
	sched   *scheduler.Scheduler

	mu         sync.Mutex
	sessionID  string
	records    []record.InteractionRecord
	resolver   *media.Resolver
	items      []scheduler.Item
	mode       Mode
	startIndex int
	current    int
	playing    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewController creates a Controller with no session loaded.
func NewController(cfg Config) *Controller {
	return &Controller{
		logs:    cfg.Logs,
		blobs:   cfg.Blobs,
		frames:  cfg.Frames,
		caps:    cfg.Caps,
		metrics: cfg.Metrics,
		sched:   scheduler.New(cfg.Sinks, cfg.SchedulerOptions...),
	}
}

// LoadSession fetches the session's record log, prefetches all media, and
// builds the segment timeline. Any previously loaded session is stopped and
// its cache fully released first, so stale frame handles from a prior
// session can never appear in the new timeline.
func (c *Controller) LoadSession(ctx context.Context, sessionID string) error {
	c.stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		c.resolver.Clear()
		c.resolver = nil
	}
	c.sessionID = ""
	c.records = nil
	c.items = nil
	c.startIndex = 0
	c.current = 0

	records, err := c.logs.Records(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("replay: load session %s: %w", sessionID, err)
	}
	record.SortRecords(records)

	resolver := media.NewResolver(c.blobs, c.frames)
	start := time.Now()
	report := resolver.PrefetchAll(ctx, records)
	if c.metrics != nil {
		c.metrics.PrefetchDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.RecordMediaFetches(ctx, "ok", int64(report.Succeeded))
		c.metrics.RecordMediaFetches(ctx, "expired", int64(report.ExpiredCount))
		c.metrics.RecordMediaFetches(ctx, "failed", int64(report.OtherFailures))
	}

	items, mode := c.buildTimeline(ctx, records, resolver)

	c.sessionID = sessionID
	c.records = records
	c.resolver = resolver
	c.items = items
	c.mode = mode

	slog.Info("session loaded",
		"session_id", sessionID,
		"records", len(records),
		"segments", len(items),
		"mode", string(mode),
		"media_ok", report.Succeeded,
		"media_expired", report.ExpiredCount,
		"media_failed", report.OtherFailures,
	)
	return nil
}

// buildTimeline segments and materializes records. A panic during
// segmentation on unexpected input degrades to record mode instead of
// aborting the load.
func (c *Controller) buildTimeline(ctx context.Context, records []record.InteractionRecord, resolver *media.Resolver) (items []scheduler.Item, mode Mode) {
	segs, err := safeSplit(records)
	if err != nil {
		slog.Error("segmentation failed, falling back to record mode", "err", err)
		if c.metrics != nil {
			c.metrics.RecordDegradation(ctx, "segmentation_failure")
		}
		return nil, ModeRecord
	}

	items = make([]scheduler.Item, 0, len(segs))
	for _, seg := range segs {
		items = append(items, scheduler.Item{
			Segment: seg,
			Audio:   segment.MaterializeAudio(seg, resolver, c.caps),
			Video:   segment.MaterializeVideo(seg, resolver),
		})
		if c.metrics != nil {
			c.metrics.RecordSegment(ctx, string(seg.Type))
		}
	}
	return items, ModeSegment
}

// safeSplit runs segmentation with panic recovery.
func safeSplit(records []record.InteractionRecord) (segs []*segment.Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segs = nil
			err = fmt.Errorf("replay: segmentation panic: %v", r)
		}
	}()
	return segment.Split(records), nil
}

// Play starts playback of the loaded session from the current position in a
// background goroutine. Returns an error if no session is loaded or playback
// is already running.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return fmt.Errorf("replay: no session loaded")
	}
	if c.playing {
		return fmt.Errorf("replay: session %s is already playing", c.sessionID)
	}

	playCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.playing = true
	c.cancel = cancel
	c.done = done

	if c.metrics != nil {
		c.metrics.ActiveReplays.Add(playCtx, 1)
	}
	slog.Info("playback started",
		"session_id", c.sessionID,
		"mode", string(c.mode),
		"start_index", c.startIndex,
	)

	go c.run(playCtx, done)
	return nil
}

// run executes one playback pass and clears the playing state when it ends.
func (c *Controller) run(ctx context.Context, done chan struct{}) {
	c.mu.Lock()
	mode := c.mode
	items := c.items
	records := c.records
	resolver := c.resolver
	startIndex := c.startIndex
	sessionID := c.sessionID
	c.mu.Unlock()

	onAdvance := func(i int) {
		c.mu.Lock()
		c.current = i
		c.mu.Unlock()
	}

	var err error
	if mode == ModeSegment {
		err = c.sched.PlaySegments(ctx, items, startIndex, onAdvance)
	} else {
		err = c.sched.PlayRecords(ctx, records, resolver, startIndex, onAdvance)
	}

	c.mu.Lock()
	c.playing = false
	c.cancel = nil
	c.done = nil
	if err != nil {
		// Interrupted: a later Play resumes from the current unit.
		c.startIndex = c.current
	} else {
		c.startIndex = 0
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveReplays.Add(context.Background(), -1)
	}
	if err != nil {
		slog.Info("playback stopped", "session_id", sessionID, "err", err)
	} else {
		slog.Info("playback finished", "session_id", sessionID)
	}
	close(done)
}

// Stop halts playback: it cancels the pending completion await and all video
// frame timers, then waits for the playback goroutine to exit. Stop is
// idempotent and safe to call in any state.
func (c *Controller) Stop() {
	c.stop()
}

// stop cancels any running playback and waits for it to finish. Returns
// whether playback was running.
func (c *Controller) stop() bool {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	if done != nil {
		<-done
	}
	return true
}

// SetSpeed updates the playback-speed multiplier, effective immediately for
// subsequent delay computations.
func (c *Controller) SetSpeed(speed float64) {
	c.sched.SetSpeed(speed)
}

// JumpTo repositions playback at the record with the given index in the
// sorted log. In segment mode the position becomes the segment containing
// that record. If playback is running it restarts at the new position.
func (c *Controller) JumpTo(recordIndex int) error {
	wasPlaying := c.stop()

	c.mu.Lock()
	if recordIndex < 0 || recordIndex >= len(c.records) {
		c.mu.Unlock()
		return fmt.Errorf("replay: record index %d out of range [0,%d)", recordIndex, len(c.records))
	}

	if c.mode == ModeSegment {
		c.startIndex = c.segmentIndexFor(c.records[recordIndex].ID)
	} else {
		c.startIndex = recordIndex
	}
	c.current = c.startIndex
	c.mu.Unlock()

	if wasPlaying {
		return c.Play()
	}
	return nil
}

// segmentIndexFor returns the index of the segment containing recordID, or 0
// when no segment claims it (markers consumed by segmentation).
func (c *Controller) segmentIndexFor(recordID string) int {
	for i, item := range c.items {
		for _, m := range item.Segment.Members {
			if m.ID == recordID {
				return i
			}
		}
	}
	return 0
}

// RegenerateExpiredMedia asks the blob store to reissue every expired media
// reference, re-resolves the recovered payloads, and rebuilds the segment
// timeline so the new media is playable. Returns the number of recovered
// records. Playback must be stopped first.
func (c *Controller) RegenerateExpiredMedia(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing {
		return 0, fmt.Errorf("replay: cannot regenerate while playing")
	}
	if c.resolver == nil {
		return 0, fmt.Errorf("replay: no session loaded")
	}

	recovered, err := c.resolver.Regenerate(ctx)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		c.metrics.RecordRegenerations(ctx, status, int64(recovered))
	}
	if err != nil {
		return recovered, fmt.Errorf("replay: regenerate media: %w", err)
	}

	// Recovered payloads change materialization; rebuild the timeline.
	c.items, c.mode = c.buildTimeline(ctx, c.records, c.resolver)
	slog.Info("expired media regenerated", "session_id", c.sessionID, "recovered", recovered)
	return recovered, nil
}

// Progress returns a snapshot of the playback state.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.items)
	if c.mode == ModeRecord {
		total = len(c.records)
	}
	expired := 0
	if c.resolver != nil {
		expired = len(c.resolver.ExpiredRecords())
	}
	return Progress{
		SessionID:    c.sessionID,
		Mode:         c.mode,
		Playing:      c.playing,
		Current:      c.current,
		Total:        total,
		Speed:        c.sched.Speed(),
		ExpiredMedia: expired,
	}
}

// Close stops playback and releases the session's cached media resources.
func (c *Controller) Close() {
	c.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolver != nil {
		c.resolver.Clear()
		c.resolver = nil
	}
	c.sessionID = ""
	c.records = nil
	c.items = nil
	c.startIndex = 0
	c.current = 0
}
