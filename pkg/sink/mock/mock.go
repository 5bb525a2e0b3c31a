// Package mock provides in-memory sink implementations for testing the
// playback scheduler and replay controller.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/echoreplay/pkg/audio"
)

// PlayCall records one AudioSink.Play invocation.
type PlayCall struct {
	Buf       audio.Buffer
	Gain      float64
	StartedAt time.Time
	EndedAt   time.Time
}

// AudioSink is a controllable sink.AudioSink. By default each Play completes
// after PlayDuration (zero means immediately). Set Manual to true to complete
// playback explicitly via [AudioSink.CompleteCurrent].
type AudioSink struct {
	// PlayDuration is how long automatic playback takes.
	PlayDuration time.Duration

	// Manual disables automatic completion.
	Manual bool

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	mu      sync.Mutex
	calls   []PlayCall
	current chan struct{}
}

func (s *AudioSink) Play(ctx context.Context, buf audio.Buffer, gain float64) (<-chan struct{}, error) {
	if s.PlayErr != nil {
		return nil, s.PlayErr
	}

	done := make(chan struct{})
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, PlayCall{Buf: buf, Gain: gain, StartedAt: time.Now()})
	s.current = done
	s.mu.Unlock()

	finish := func() {
		s.mu.Lock()
		if s.calls[idx].EndedAt.IsZero() {
			s.calls[idx].EndedAt = time.Now()
			close(done)
		}
		s.mu.Unlock()
	}

	if s.Manual {
		go func() {
			select {
			case <-ctx.Done():
				finish()
			case <-done:
			}
		}()
		return done, nil
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(s.PlayDuration):
		}
		finish()
	}()
	return done, nil
}

// CompleteCurrent finishes the most recent manual playback.
func (s *AudioSink) CompleteCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.calls {
		if s.calls[i].EndedAt.IsZero() {
			s.calls[i].EndedAt = time.Now()
		}
	}
	if s.current != nil {
		select {
		case <-s.current:
		default:
			close(s.current)
		}
		s.current = nil
	}
}

// Calls returns a snapshot of all recorded Play invocations.
func (s *AudioSink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// VideoSink records displayed frame handles.
type VideoSink struct {
	mu     sync.Mutex
	frames []string
}

func (s *VideoSink) ShowFrame(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, handle)
}

// Frames returns all handles shown so far.
func (s *VideoSink) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	copy(out, s.frames)
	return out
}

// TextEntry records one ShowText call.
type TextEntry struct {
	Role, Text string
}

// TextSink records text and status output.
type TextSink struct {
	mu       sync.Mutex
	entries  []TextEntry
	statuses []string
}

func (s *TextSink) ShowText(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, TextEntry{Role: role, Text: text})
}

func (s *TextSink) Status(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, message)
}

// Entries returns all text entries shown so far.
func (s *TextSink) Entries() []TextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TextEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Statuses returns all status messages reported so far.
func (s *TextSink) Statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statuses))
	copy(out, s.statuses)
	return out
}
