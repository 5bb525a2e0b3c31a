package segment

import (
	"time"

	"github.com/MrWong99/echoreplay/internal/media"
	"github.com/MrWong99/echoreplay/pkg/audio"
)

// PayloadSource supplies resolved media payloads by record ID. Satisfied by
// *media.Resolver.
type PayloadSource interface {
	Payload(recordID string) (media.Payload, bool)
}

// MaterializedAudio is one concatenated, playback-ready buffer for a segment.
// Owned by the materializer until handed to the scheduler by reference; never
// mutated after creation.
type MaterializedAudio struct {
	Buffer     audio.Buffer
	SampleRate int
	Duration   time.Duration
	ChunkCount int

	// Truncated is true when the segment's audio exceeded the safety caps
	// and only a prefix was materialized.
	Truncated bool
}

// Frame is one entry of a video timeline.
type Frame struct {
	// Offset is the frame's display time relative to the segment start.
	Offset time.Duration

	// Handle is the presentable frame handle allocated at resolve time.
	Handle string
}

// MaterializedVideo is a segment's ordered frame timeline.
type MaterializedVideo struct {
	Frames []Frame

	// AverageInterval is the segment duration divided by the frame count,
	// used for display pacing.
	AverageInterval time.Duration
}

// MaterializeAudio concatenates every resolved audio member of seg, in member
// order (original timestamp/sequence order — never re-sorted), into one
// unified buffer at the segment's dominant sample rate. Members whose payload
// did not resolve are skipped; the segment plays without them.
//
// Returns nil when no audio member resolved.
func MaterializeAudio(seg *Segment, payloads PayloadSource, caps audio.Caps) *MaterializedAudio {
	if seg == nil || len(seg.AudioMembers) == 0 {
		return nil
	}

	buffers := make([]audio.Buffer, 0, len(seg.AudioMembers))
	for _, m := range seg.AudioMembers {
		p, ok := payloads.Payload(m.ID)
		if !ok || p.Audio == nil {
			continue
		}
		buffers = append(buffers, *p.Audio)
	}
	if len(buffers) == 0 {
		return nil
	}

	// A segment can mix formats, e.g. a 16 kHz trailing user chunk absorbed
	// into a 24 kHz AI segment. Concatenating raw bytes would play the odd
	// member at the wrong pitch, so every member is converted to the
	// dominant format first.
	dominant := audio.Format{SampleRate: buffers[0].SampleRate, Channels: buffers[0].Channels}
	for _, b := range buffers {
		if len(b.Data) > 0 {
			dominant = audio.Format{SampleRate: b.SampleRate, Channels: b.Channels}
			break
		}
	}
	conv := audio.FormatConverter{Target: dominant}
	for i, b := range buffers {
		buffers[i] = conv.Convert(b)
	}

	res := audio.Concat(buffers, caps)
	return &MaterializedAudio{
		Buffer:     res.Buffer,
		SampleRate: res.Buffer.SampleRate,
		Duration:   res.Buffer.Duration(),
		ChunkCount: res.ChunkCount,
		Truncated:  res.Truncated,
	}
}

// MaterializeVideo builds seg's frame timeline from resolved frame handles.
// Unresolved frames are discarded. Returns nil when no frame resolved.
func MaterializeVideo(seg *Segment, payloads PayloadSource) *MaterializedVideo {
	if seg == nil || len(seg.VideoMembers) == 0 {
		return nil
	}

	frames := make([]Frame, 0, len(seg.VideoMembers))
	for _, m := range seg.VideoMembers {
		p, ok := payloads.Payload(m.ID)
		if !ok || p.FrameHandle == "" {
			continue
		}
		offset := m.Timestamp.Sub(seg.StartTime)
		if offset < 0 {
			offset = 0
		}
		frames = append(frames, Frame{Offset: offset, Handle: p.FrameHandle})
	}
	if len(frames) == 0 {
		return nil
	}

	return &MaterializedVideo{
		Frames:          frames,
		AverageInterval: seg.Duration() / time.Duration(len(frames)),
	}
}
