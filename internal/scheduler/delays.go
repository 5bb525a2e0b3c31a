package scheduler

import (
	"time"

	"github.com/MrWong99/echoreplay/pkg/record"
)

// DelayTable holds the inter-record pacing heuristics used in record mode.
// All values are pre-speed-scaling; the scheduler divides by the playback
// speed multiplier and clamps to [Min, Max].
type DelayTable struct {
	// Min and Max clamp every computed delay.
	Min time.Duration
	Max time.Duration

	// StreamMarker follows a stream-start action marker.
	StreamMarker time.Duration

	// AIChunk separates consecutive AI audio chunks; these must play almost
	// back-to-back.
	AIChunk time.Duration

	// UserChunk separates consecutive user audio chunks.
	UserChunk time.Duration

	// SourceSwitch separates a user↔AI audio transition (context switch).
	SourceSwitch time.Duration

	// APIFloor is the minimum dwell on any transition touching an
	// api_response — API turns carry semantic weight and should not flash by.
	APIFloor time.Duration

	// FrameMin and FrameMax clamp the original inter-frame gap between
	// consecutive video frames for smooth motion.
	FrameMin time.Duration
	FrameMax time.Duration

	// Pacing is the fixed dwell after no-media records (text, actions) so
	// displayed text does not flash illegibly.
	Pacing time.Duration
}

// DefaultDelayTable returns the standard pacing heuristics.
func DefaultDelayTable() DelayTable {
	return DelayTable{
		Min:          10 * time.Millisecond,
		Max:          2 * time.Second,
		StreamMarker: 50 * time.Millisecond,
		AIChunk:      30 * time.Millisecond,
		UserChunk:    80 * time.Millisecond,
		SourceSwitch: 250 * time.Millisecond,
		APIFloor:     400 * time.Millisecond,
		FrameMin:     30 * time.Millisecond,
		FrameMax:     500 * time.Millisecond,
		Pacing:       300 * time.Millisecond,
	}
}

// Delay computes the pause between cur and next in record mode. speed is the
// playback-speed multiplier; every delay is divided by it and clamped.
func (t DelayTable) Delay(cur, next record.InteractionRecord, speed float64) time.Duration {
	gap := next.Timestamp.Sub(cur.Timestamp)

	var d time.Duration
	switch {
	case cur.IsStreamStart():
		d = t.StreamMarker

	case isAIAudio(cur) && isAIAudio(next):
		d = t.AIChunk

	case cur.IsUserAudio() && next.IsUserAudio():
		d = t.UserChunk

	case cur.IsUserAudio() && isAIAudio(next),
		isAIAudio(cur) && next.IsUserAudio():
		d = t.SourceSwitch

	case cur.Kind == record.KindVideoFrame && next.Kind == record.KindVideoFrame:
		d = clamp(gap, t.FrameMin, t.FrameMax)

	default:
		d = clamp(gap, t.Min, t.Max)
	}

	// API turns never flash by. The floor does not apply between two AI
	// audio chunks: streamed AI voice logged as api_response records must
	// still play almost back-to-back.
	if (cur.Kind == record.KindAPIResponse || next.Kind == record.KindAPIResponse) &&
		!(isAIAudio(cur) && isAIAudio(next)) {
		d = max(d, t.APIFloor)
	}

	return clamp(scale(d, speed), t.Min, t.Max)
}

// isAIAudio covers both representations of AI voice in a log: api_response
// records with audio payloads and non-user-sourced raw audio chunks.
func isAIAudio(r record.InteractionRecord) bool {
	if r.IsAPIAudio() {
		return true
	}
	return r.Kind == record.KindAudioChunk && !r.Metadata.UserSource
}

// scale divides d by the speed multiplier.
func scale(d time.Duration, speed float64) time.Duration {
	if speed <= 0 {
		return d
	}
	return time.Duration(float64(d) / speed)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
