package audio

import (
	"log/slog"
	"time"
)

// Safety caps applied during concatenation. Corrupted or pathologically long
// capture sessions must not allocate unbounded buffers or stall playback.
const (
	// MaxConcatDuration is the hard ceiling on the duration of one
	// concatenated buffer.
	MaxConcatDuration = 30 * time.Second

	// MaxConcatChunks is the hard ceiling on the number of chunks merged
	// into one concatenated buffer.
	MaxConcatChunks = 150
)

// Caps bounds a single concatenation. The zero value means "use defaults".
type Caps struct {
	MaxDuration time.Duration
	MaxChunks   int
}

// DefaultCaps returns the package-level safety caps.
func DefaultCaps() Caps {
	return Caps{MaxDuration: MaxConcatDuration, MaxChunks: MaxConcatChunks}
}

func (c Caps) withDefaults() Caps {
	if c.MaxDuration <= 0 {
		c.MaxDuration = MaxConcatDuration
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = MaxConcatChunks
	}
	return c
}

// ConcatResult is one concatenated, playback-ready buffer.
type ConcatResult struct {
	// Buffer holds the merged samples at the dominant sample rate.
	Buffer Buffer

	// ChunkCount is the number of input chunks actually merged.
	ChunkCount int

	// Truncated is true when the inputs exceeded a safety cap and only a
	// prefix of the chunk list was merged.
	Truncated bool
}

// Concat merges buffers, in the order given, into one contiguous PCM buffer.
// The inputs are expected to share a format — callers normalise mixed-rate
// chunks with a [FormatConverter] first; the first non-empty buffer
// determines the output format. Empty buffers are skipped without counting
// against the chunk cap.
//
// If the inputs exceed caps, the prefix that fits is retained and
// [ConcatResult.Truncated] is set. Concat never fails: a fully empty input
// yields a zero-length result.
func Concat(buffers []Buffer, caps Caps) ConcatResult {
	caps = caps.withDefaults()

	var res ConcatResult

	// Pass 1: select the prefix of chunks that fits under both caps and
	// establish the output format.
	var (
		selected  []Buffer
		totalData int
	)
	for _, b := range buffers {
		if len(b.Data) == 0 {
			continue
		}
		if res.Buffer.SampleRate == 0 {
			res.Buffer.SampleRate = b.SampleRate
			res.Buffer.Channels = b.Channels
		}
		if len(selected) >= caps.MaxChunks {
			res.Truncated = true
			break
		}
		if res.Buffer.durationForBytes(totalData+len(b.Data)) > caps.MaxDuration {
			res.Truncated = true
			break
		}
		selected = append(selected, b)
		totalData += len(b.Data)
	}

	if len(selected) == 0 {
		return res
	}

	// Pass 2: copy each chunk into the unified buffer at a running offset.
	// A chunk that would write past the destination bound is truncated to fit
	// rather than corrupting adjacent memory; totalData is computed from the
	// same inputs, so this only fires on a layout accounting bug.
	out := make([]byte, totalData)
	offset := 0
	for _, b := range selected {
		n := len(b.Data)
		if offset+n > len(out) {
			slog.Error("audio concat: chunk exceeds destination bound, truncating",
				"offset", offset,
				"chunk_bytes", n,
				"dest_bytes", len(out),
			)
			n = len(out) - offset
			res.Truncated = true
		}
		copy(out[offset:offset+n], b.Data[:n])
		offset += n
		res.ChunkCount++
		if offset >= len(out) {
			break
		}
	}

	res.Buffer.Data = out
	return res
}

// durationForBytes computes the duration dataLen bytes would have in b's format.
func (b Buffer) durationForBytes(dataLen int) time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	samples := dataLen / (2 * ch)
	return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
}
