// Package console provides terminal-oriented sink implementations: audio is
// paced in real time and written as raw PCM to an optional writer (pipe it
// to aplay or ffplay), video frames and text go to the log and stdout.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/sink"
)

// DefaultDevice is the output format audio is normalised to before writing.
var DefaultDevice = audio.Format{SampleRate: 48000, Channels: 2}

// Audio plays buffers by pacing wall-clock time against each buffer's
// duration. When Out is set, gain-adjusted PCM normalised to the device
// format is written there before the pacing wait begins.
type Audio struct {
	mu     sync.Mutex
	out    io.Writer
	conv   audio.FormatConverter
	device audio.Format
}

// AudioOption configures an [Audio] sink.
type AudioOption func(*Audio)

// WithOutput writes normalised PCM to w during playback.
func WithOutput(w io.Writer) AudioOption {
	return func(a *Audio) { a.out = w }
}

// WithDevice overrides the output device format.
func WithDevice(f audio.Format) AudioOption {
	return func(a *Audio) {
		if f.SampleRate > 0 && f.Channels > 0 {
			a.device = f
		}
	}
}

// NewAudio creates a console audio sink.
func NewAudio(opts ...AudioOption) *Audio {
	a := &Audio{device: DefaultDevice}
	for _, opt := range opts {
		opt(a)
	}
	a.conv = audio.FormatConverter{Target: a.device}
	return a
}

// Play applies gain, normalises to the device format, writes the PCM, and
// returns a channel closed once the buffer's natural duration has elapsed.
// Cancelling ctx ends the pacing wait early.
func (a *Audio) Play(ctx context.Context, buf audio.Buffer, gain float64) (<-chan struct{}, error) {
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("console: empty audio buffer")
	}

	out := audio.ApplyGain(buf, gain)

	a.mu.Lock()
	out = a.conv.Convert(out)
	if a.out != nil {
		if _, err := a.out.Write(out.Data); err != nil {
			a.mu.Unlock()
			return nil, fmt.Errorf("console: write pcm: %w", err)
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		timer := time.NewTimer(buf.Duration())
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}()
	return done, nil
}

// Video logs shown frame handles. A real UI surface would swap textures; on
// a terminal the handle and timing are the observable signal.
type Video struct{}

// ShowFrame implements [sink.VideoSink].
func (Video) ShowFrame(handle string) {
	slog.Debug("video frame", "handle", handle)
}

// Text writes conversation entries and status notices to a writer.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText creates a text sink writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// ShowText implements [sink.TextSink].
func (t *Text) ShowText(role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "[%s] %s\n", role, text)
}

// Status implements [sink.TextSink].
func (t *Text) Status(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "(status) %s\n", message)
}

var (
	_ sink.AudioSink = (*Audio)(nil)
	_ sink.VideoSink = Video{}
	_ sink.TextSink  = (*Text)(nil)
)
