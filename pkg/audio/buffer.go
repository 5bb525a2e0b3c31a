// Package audio provides the raw PCM buffer model and the concatenation and
// gain primitives used to build playback-ready audio from captured chunks.
// All PCM data is little-endian int16.
package audio

import "time"

// Buffer is a run of little-endian int16 PCM samples at a single sample rate.
// Buffers are treated as immutable once created — operations that change
// samples return a new Buffer.
type Buffer struct {
	// PCM audio data. Must have an even byte length.
	Data []byte

	// SampleRate in Hz (e.g. 16000 for microphone capture, 24000 for AI voice).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Samples returns the number of per-channel sample frames in the buffer.
func (b Buffer) Samples() int {
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(b.Data) / (2 * ch)
}

// Duration returns the playback duration of the buffer at its sample rate.
// A buffer with an unknown (zero) sample rate has zero duration.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Samples()) * time.Second / time.Duration(b.SampleRate)
}
