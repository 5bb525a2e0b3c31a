// Package scheduler drives reconstructed playback: segment mode plays
// materialized conversation segments strictly sequentially, awaiting each
// segment's audio completion before advancing; record mode is the fallback
// that walks raw records with heuristic inter-record pacing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echoreplay/internal/media"
	"github.com/MrWong99/echoreplay/internal/segment"
	"github.com/MrWong99/echoreplay/pkg/record"
	"github.com/MrWong99/echoreplay/pkg/sink"
)

// Gain policy: local-microphone chunks are recorded at lower perceived
// loudness than AI-synthesised voice, so user audio is boosted and AI audio
// attenuated.
const (
	DefaultUserGain = 1.6
	DefaultAIGain   = 0.75
)

// Speed bounds for the playback multiplier.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Item pairs a conversation segment with its materialized artifacts. Audio
// and Video may be nil when nothing resolved for the modality.
type Item struct {
	Segment *segment.Segment
	Audio   *segment.MaterializedAudio
	Video   *segment.MaterializedVideo
}

// Sinks groups the presentation surfaces playback drives.
type Sinks struct {
	Audio sink.AudioSink
	Video sink.VideoSink
	Text  sink.TextSink
}

// Scheduler sequences playback into a set of sinks. A Scheduler is owned by
// one replay session; Play* methods must not run concurrently with each
// other, but SetSpeed is safe to call at any time.
type Scheduler struct {
	sinks  Sinks
	delays DelayTable

	userGain float64
	aiGain   float64

	mu    sync.Mutex
	speed float64
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithDelayTable overrides the record-mode pacing heuristics.
func WithDelayTable(t DelayTable) Option {
	return func(s *Scheduler) { s.delays = t }
}

// WithGains overrides the user/AI gain policy.
func WithGains(user, ai float64) Option {
	return func(s *Scheduler) {
		if user > 0 {
			s.userGain = user
		}
		if ai > 0 {
			s.aiGain = ai
		}
	}
}

// New creates a Scheduler playing into sinks at 1× speed.
func New(sinks Sinks, opts ...Option) *Scheduler {
	s := &Scheduler{
		sinks:    sinks,
		delays:   DefaultDelayTable(),
		userGain: DefaultUserGain,
		aiGain:   DefaultAIGain,
		speed:    1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSpeed updates the playback-speed multiplier, clamped to
// [MinSpeed, MaxSpeed]. Takes effect from the next delay computation.
func (s *Scheduler) SetSpeed(speed float64) {
	if speed < MinSpeed {
		speed = MinSpeed
	} else if speed > MaxSpeed {
		speed = MaxSpeed
	}
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// Speed returns the current playback-speed multiplier.
func (s *Scheduler) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// PlaySegments drives items strictly sequentially starting at startIndex:
// item N+1 never starts before item N's audio completion signal (or its
// pacing delay, for media-less segments). onAdvance, when non-nil, is called
// with each item index as it begins.
//
// Returns ctx.Err() when cancelled mid-playback, nil on completion.
func (s *Scheduler) PlaySegments(ctx context.Context, items []Item, startIndex int, onAdvance func(int)) error {
	if startIndex < 0 {
		startIndex = 0
	}
	for i := startIndex; i < len(items); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onAdvance != nil {
			onAdvance(i)
		}
		if err := s.playItem(ctx, items[i]); err != nil {
			return err
		}
	}
	return nil
}

// playItem plays one segment and blocks until its continuation signal.
func (s *Scheduler) playItem(ctx context.Context, item Item) error {
	seg := item.Segment

	switch seg.Type {
	case segment.TypeUserSpeech:
		return s.playAudioSegment(ctx, item, s.userGain)

	case segment.TypeAPIResponse:
		s.showSegmentText(seg, "api")
		return s.playAudioSegment(ctx, item, s.aiGain)

	case segment.TypeUserText:
		s.showSegmentText(seg, "user")
		return s.pace(ctx)

	case segment.TypeUserAction:
		return s.pace(ctx)

	default:
		return s.pace(ctx)
	}
}

// playAudioSegment starts the segment's video timeline (if any) and unified
// audio concurrently. The audio completion signal is the segment's
// continuation; the video timeline is cosmetic and is force-stopped when the
// audio ends even if frames remain. Without audio the continuation is the
// pacing delay.
func (s *Scheduler) playAudioSegment(ctx context.Context, item Item, gain float64) error {
	videoStop := s.startVideoTimeline(ctx, item.Video)
	defer videoStop()

	if item.Audio == nil {
		return s.pace(ctx)
	}

	done, err := s.sinks.Audio.Play(ctx, item.Audio.Buffer, gain)
	if err != nil {
		// Degrade to timing-only: the segment still occupies its slot.
		slog.Warn("scheduler: audio sink rejected segment, degrading to pacing",
			"segment_type", string(item.Segment.Type),
			"err", err,
		)
		s.status(fmt.Sprintf("audio unavailable for %s segment: %v", item.Segment.Type, err))
		return s.pace(ctx)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startVideoTimeline launches the independent frame timer loop for mat and
// returns a stop function. The loop shows each frame at its relative offset,
// scaled by playback speed.
func (s *Scheduler) startVideoTimeline(ctx context.Context, mat *segment.MaterializedVideo) (stop func()) {
	if mat == nil || len(mat.Frames) == 0 || s.sinks.Video == nil {
		return func() {}
	}

	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		elapsed := time.Duration(0)
		for _, f := range mat.Frames {
			wait := scale(f.Offset-elapsed, s.Speed())
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
			elapsed = f.Offset
			s.sinks.Video.ShowFrame(f.Handle)
		}
	}()

	return func() { once.Do(func() { close(stopCh) }) }
}

// pace blocks for the fixed no-media dwell, scaled by speed.
func (s *Scheduler) pace(ctx context.Context) error {
	select {
	case <-time.After(scale(s.delays.Pacing, s.Speed())):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// showSegmentText pushes every text-bearing member of seg to the text sink.
func (s *Scheduler) showSegmentText(seg *segment.Segment, role string) {
	if s.sinks.Text == nil {
		return
	}
	for _, m := range seg.Members {
		if m.Metadata.Text != "" {
			s.sinks.Text.ShowText(role, m.Metadata.Text)
		}
	}
}

func (s *Scheduler) status(msg string) {
	if s.sinks.Text != nil {
		s.sinks.Text.Status(msg)
	}
}

// PlayRecords is the fallback mode: it walks the raw record list one at a
// time, presenting each record and pausing according to the transition
// heuristics in the delay table. payloads supplies resolved media; records
// whose media is missing play as timing-only placeholders.
func (s *Scheduler) PlayRecords(ctx context.Context, records []record.InteractionRecord, payloads segment.PayloadSource, startIndex int, onAdvance func(int)) error {
	if startIndex < 0 {
		startIndex = 0
	}
	for i := startIndex; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onAdvance != nil {
			onAdvance(i)
		}

		rec := records[i]
		if err := s.playRecord(ctx, rec, payloads); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Other record-level failures degrade, never abort.
			s.status(fmt.Sprintf("record %s skipped: %v", rec.ID, err))
		}

		if i+1 < len(records) {
			delay := s.delays.Delay(rec, records[i+1], s.Speed())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// playRecord presents one raw record. Audio records block until completion.
func (s *Scheduler) playRecord(ctx context.Context, rec record.InteractionRecord, payloads segment.PayloadSource) error {
	switch rec.Kind {
	case record.KindAudioChunk, record.KindAPIResponse:
		if rec.Kind == record.KindAPIResponse && s.sinks.Text != nil && rec.Metadata.Text != "" {
			s.sinks.Text.ShowText("api", rec.Metadata.Text)
		}
		if !rec.HasMedia() {
			return nil
		}
		p, ok := payloads.Payload(rec.ID)
		if !ok || p.Audio == nil {
			return fmt.Errorf("no resolved audio: %w", media.ErrFetchFailed)
		}

		gain := s.aiGain
		if rec.IsUserAudio() {
			gain = s.userGain
		}
		done, err := s.sinks.Audio.Play(ctx, *p.Audio, gain)
		if err != nil {
			return err
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case record.KindVideoFrame:
		p, ok := payloads.Payload(rec.ID)
		if ok && p.FrameHandle != "" && s.sinks.Video != nil {
			s.sinks.Video.ShowFrame(p.FrameHandle)
		}
		return nil

	case record.KindTextInput:
		if s.sinks.Text != nil {
			s.sinks.Text.ShowText("user", rec.Metadata.Text)
		}
		return nil

	default:
		return nil
	}
}
