package replay_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/echoreplay/internal/media"
	mediamock "github.com/MrWong99/echoreplay/internal/media/mock"
	"github.com/MrWong99/echoreplay/internal/replay"
	"github.com/MrWong99/echoreplay/internal/scheduler"
	"github.com/MrWong99/echoreplay/pkg/record"
	sinkmock "github.com/MrWong99/echoreplay/pkg/sink/mock"
)

// ─────────────────────────────────────────────────────────────────────────────
// fixtures
// ─────────────────────────────────────────────────────────────────────────────

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// memLogs is a LogSource backed by a map.
type memLogs struct {
	sessions map[string][]record.InteractionRecord
	err      error
}

func (m *memLogs) Records(_ context.Context, sessionID string) ([]record.InteractionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	recs, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	out := make([]record.InteractionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// pcm returns little-endian 16-bit PCM bytes for n samples.
func pcm(n int) []byte {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(i+1))
	}
	return data
}

// conversation builds a small two-turn session: a user utterance followed by
// an AI audio response, with one video frame in the user turn.
func conversation() ([]record.InteractionRecord, map[string][]byte) {
	var seq int64
	next := func() int64 { seq++; return seq }

	recs := []record.InteractionRecord{
		{ID: "act-1", Kind: record.KindUserAction, Timestamp: base, Sequence: next(),
			Metadata: record.Metadata{ActionType: record.ActionAudioStreamStart}},
		{ID: "u-1", Kind: record.KindAudioChunk, Timestamp: base.Add(10 * time.Millisecond), Sequence: next(),
			Metadata: record.Metadata{UserSource: true, SampleRate: 16000}, MediaRef: "ref-u-1"},
		{ID: "v-1", Kind: record.KindVideoFrame, Timestamp: base.Add(20 * time.Millisecond), Sequence: next(),
			MediaRef: "ref-v-1"},
		{ID: "api-1", Kind: record.KindAPIResponse, Timestamp: base.Add(2 * time.Second), Sequence: next(),
			Metadata: record.Metadata{ResponseKind: record.ResponseAudio, SampleRate: 24000, Text: "hello"},
			MediaRef: "ref-api-1"},
	}
	blobs := map[string][]byte{
		"ref-u-1":   pcm(160),
		"ref-v-1":   {0xff, 0xd8, 0xff},
		"ref-api-1": pcm(240),
	}
	return recs, blobs
}

func newController(t *testing.T, logs replay.LogSource, store *mediamock.BlobStore) (*replay.Controller, *sinkmock.AudioSink, *sinkmock.TextSink) {
	t.Helper()
	audioSink := &sinkmock.AudioSink{}
	textSink := &sinkmock.TextSink{}
	c := replay.NewController(replay.Config{
		Logs:   logs,
		Blobs:  store,
		Frames: &mediamock.FrameAllocator{},
		Sinks: scheduler.Sinks{
			Audio: audioSink,
			Video: &sinkmock.VideoSink{},
			Text:  textSink,
		},
	})
	t.Cleanup(c.Close)
	return c, audioSink, textSink
}

// waitNotPlaying polls until playback finishes.
func waitNotPlaying(t *testing.T, c *replay.Controller) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Progress().Playing {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("playback did not finish in time")
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestLoadSession_BuildsSegmentTimeline(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, _, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}

	p := c.Progress()
	if p.SessionID != "s-1" {
		t.Errorf("SessionID = %q, want s-1", p.SessionID)
	}
	if p.Mode != replay.ModeSegment {
		t.Errorf("Mode = %q, want segment", p.Mode)
	}
	if p.Total != 2 {
		t.Errorf("Total = %d, want 2 segments (user_speech, api_response)", p.Total)
	}
	if p.Playing {
		t.Error("Playing = true before Play")
	}
}

func TestLoadSession_UnknownSession(t *testing.T) {
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{}}
	c, _, _ := newController(t, logs, &mediamock.BlobStore{})

	if err := c.LoadSession(context.Background(), "nope"); err == nil {
		t.Fatal("LoadSession() error = nil, want error")
	}
}

func TestPlay_PlaysBothTurns(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, textSink := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitNotPlaying(t, c)

	calls := audioSink.Calls()
	if len(calls) != 2 {
		t.Fatalf("audio calls = %d, want 2", len(calls))
	}
	// User turn boosted, AI turn attenuated.
	if calls[0].Gain <= 1.0 || calls[1].Gain >= 1.0 {
		t.Errorf("gains = %v, %v; want user > 1 and AI < 1", calls[0].Gain, calls[1].Gain)
	}
	entries := textSink.Entries()
	if len(entries) != 1 || entries[0].Text != "hello" {
		t.Errorf("text entries = %v, want the AI turn's text", entries)
	}
}

func TestPlay_WithoutSession(t *testing.T) {
	c, _, _ := newController(t, &memLogs{}, &mediamock.BlobStore{})
	if err := c.Play(); err == nil {
		t.Fatal("Play() error = nil, want error when no session loaded")
	}
}

func TestPlay_AlreadyPlaying(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})
	audioSink.Manual = true

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	defer c.Stop()

	if err := c.Play(); err == nil {
		t.Error("second Play() error = nil, want already-playing error")
	}
}

func TestStop_Idempotent(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})
	audioSink.Manual = true

	// Stop with nothing running is a no-op.
	c.Stop()

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	c.Stop()
	c.Stop()

	if p := c.Progress(); p.Playing {
		t.Error("Playing = true after Stop")
	}
}

func TestStop_ResumesFromInterruptedSegment(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})
	audioSink.Manual = true

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	// Resume plays the interrupted first segment again, then the second.
	audioSink.Manual = false
	if err := c.Play(); err != nil {
		t.Fatalf("resume Play() error = %v", err)
	}
	waitNotPlaying(t, c)

	calls := audioSink.Calls()
	if len(calls) != 3 {
		t.Errorf("audio calls = %d, want 3 (interrupted + replayed + second)", len(calls))
	}
}

func TestJumpTo_MapsRecordIndexToSegment(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	// Record index 3 is the api_response, which lives in segment 1.
	if err := c.JumpTo(3); err != nil {
		t.Fatalf("JumpTo() error = %v", err)
	}
	if p := c.Progress(); p.Current != 1 {
		t.Errorf("Current = %d, want 1 after JumpTo", p.Current)
	}

	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitNotPlaying(t, c)

	// Only the AI turn plays.
	calls := audioSink.Calls()
	if len(calls) != 1 {
		t.Fatalf("audio calls = %d, want 1", len(calls))
	}
	if calls[0].Gain >= 1.0 {
		t.Errorf("gain = %v, want AI attenuation", calls[0].Gain)
	}
}

func TestJumpTo_OutOfRange(t *testing.T) {
	recs, blobs := conversation()
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, _, _ := newController(t, logs, &mediamock.BlobStore{Blobs: blobs})

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if err := c.JumpTo(99); err == nil {
		t.Error("JumpTo(99) error = nil, want out-of-range error")
	}
	if err := c.JumpTo(-1); err == nil {
		t.Error("JumpTo(-1) error = nil, want out-of-range error")
	}
}

func TestRegenerateExpiredMedia_RecoversAndRebuilds(t *testing.T) {
	recs, blobs := conversation()
	store := &mediamock.BlobStore{
		Blobs:   blobs,
		Expired: map[string]bool{"ref-api-1": true},
	}
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{"s-1": recs}}
	c, audioSink, _ := newController(t, logs, store)

	if err := c.LoadSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if p := c.Progress(); p.ExpiredMedia != 1 {
		t.Fatalf("ExpiredMedia = %d, want 1", p.ExpiredMedia)
	}

	n, err := c.RegenerateExpiredMedia(context.Background())
	if err != nil {
		t.Fatalf("RegenerateExpiredMedia() error = %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	if p := c.Progress(); p.ExpiredMedia != 0 {
		t.Errorf("ExpiredMedia = %d after regeneration, want 0", p.ExpiredMedia)
	}

	// The rebuilt timeline now plays the AI turn's audio too.
	if err := c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitNotPlaying(t, c)
	if calls := audioSink.Calls(); len(calls) != 2 {
		t.Errorf("audio calls = %d, want 2 after regeneration", len(calls))
	}
}

func TestLoadSession_SwitchClearsPreviousCache(t *testing.T) {
	recsA, blobsA := conversation()
	recsB := []record.InteractionRecord{
		{ID: "b-1", Kind: record.KindTextInput, Timestamp: base, Sequence: 1,
			Metadata: record.Metadata{Text: "only text"}},
	}
	all := map[string][]byte{}
	for k, v := range blobsA {
		all[k] = v
	}
	logs := &memLogs{sessions: map[string][]record.InteractionRecord{
		"s-a": recsA,
		"s-b": recsB,
	}}
	frames := &mediamock.FrameAllocator{}
	c := replay.NewController(replay.Config{
		Logs:   logs,
		Blobs:  &mediamock.BlobStore{Blobs: all},
		Frames: frames,
		Sinks:  scheduler.Sinks{Audio: &sinkmock.AudioSink{}},
	})
	t.Cleanup(c.Close)

	if err := c.LoadSession(context.Background(), "s-a"); err != nil {
		t.Fatalf("LoadSession(s-a) error = %v", err)
	}
	if frames.LiveCount() == 0 {
		t.Fatal("expected live frame handles after loading s-a")
	}

	if err := c.LoadSession(context.Background(), "s-b"); err != nil {
		t.Fatalf("LoadSession(s-b) error = %v", err)
	}
	if got := frames.LiveCount(); got != 0 {
		t.Errorf("live frame handles after switch = %d, want 0", got)
	}
	if p := c.Progress(); p.SessionID != "s-b" || p.Total != 1 {
		t.Errorf("Progress = %+v, want session s-b with 1 segment", p)
	}
}

func TestSetSpeed_ReflectedInProgress(t *testing.T) {
	c, _, _ := newController(t, &memLogs{}, &mediamock.BlobStore{})
	c.SetSpeed(2.0)
	if got := c.Progress().Speed; got != 2.0 {
		t.Errorf("Speed = %v, want 2.0", got)
	}
}

var _ media.BlobStore = (*mediamock.BlobStore)(nil)
