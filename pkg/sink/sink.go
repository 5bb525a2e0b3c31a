// Package sink defines the presentation boundaries of the replay engine:
// where reconstructed audio, video frames, and text leave the system.
// Implementations live outside the engine (speakers, UI surfaces); the engine
// only depends on these interfaces.
package sink

import (
	"context"

	"github.com/MrWong99/echoreplay/pkg/audio"
)

// AudioSink plays raw PCM buffers. Implementations must be safe for
// concurrent use.
type AudioSink interface {
	// Play starts playback of buf with the given gain and returns a channel
	// that is closed when playback completes. Playback is asynchronous; the
	// returned channel is the completion signal the scheduler awaits before
	// advancing.
	//
	// Cancelling ctx must stop playback and close the channel.
	Play(ctx context.Context, buf audio.Buffer, gain float64) (<-chan struct{}, error)
}

// VideoSink displays presentable frame handles. ShowFrame must not block —
// it is called from the scheduler's frame timer loop.
type VideoSink interface {
	ShowFrame(handle string)
}

// TextSink receives conversation text and degradation notices during replay.
type TextSink interface {
	// ShowText displays one conversation entry. role identifies the logical
	// speaker ("user" or "api").
	ShowText(role, text string)

	// Status reports a non-fatal replay condition, e.g. media that could not
	// be resolved and why (expired vs. other), so the operator knows whether
	// regeneration will help.
	Status(message string)
}
