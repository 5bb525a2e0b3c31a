package console_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/sink/console"
)

// mono16k returns n identical mono samples at 16kHz.
func mono16k(sample int16, n int) audio.Buffer {
	data := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return audio.Buffer{Data: data, SampleRate: 16000, Channels: 1}
}

func TestAudio_WritesNormalizedPCM(t *testing.T) {
	var out bytes.Buffer
	snk := console.NewAudio(
		console.WithOutput(&out),
		console.WithDevice(audio.Format{SampleRate: 48000, Channels: 2}),
	)

	// 16 samples @16kHz = 1ms; upsampled 3x and doubled to stereo = 192 bytes.
	done, err := snk.Play(context.Background(), mono16k(1000, 16), 1.0)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never completed")
	}
	if out.Len() != 192 {
		t.Errorf("wrote %d bytes, want 192", out.Len())
	}
}

func TestAudio_AppliesGain(t *testing.T) {
	var out bytes.Buffer
	snk := console.NewAudio(
		console.WithOutput(&out),
		console.WithDevice(audio.Format{SampleRate: 16000, Channels: 1}),
	)

	done, err := snk.Play(context.Background(), mono16k(1000, 8), 2.0)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	<-done

	got := int16(binary.LittleEndian.Uint16(out.Bytes()))
	if got != 2000 {
		t.Errorf("first sample = %d, want 2000 after 2.0 gain", got)
	}
}

func TestAudio_PacesRealTime(t *testing.T) {
	snk := console.NewAudio()

	// 1600 samples @16kHz = 100ms.
	start := time.Now()
	done, err := snk.Play(context.Background(), mono16k(1, 1600), 1.0)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	<-done
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("playback completed in %v, want >= ~100ms", elapsed)
	}
}

func TestAudio_CancelEndsWaitEarly(t *testing.T) {
	snk := console.NewAudio()
	ctx, cancel := context.WithCancel(context.Background())

	// 10 seconds of audio; cancellation must not wait it out.
	done, err := snk.Play(ctx, mono16k(1, 160000), 1.0)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not end playback")
	}
}

func TestAudio_EmptyBuffer(t *testing.T) {
	snk := console.NewAudio()
	if _, err := snk.Play(context.Background(), audio.Buffer{}, 1.0); err == nil {
		t.Error("Play() error = nil for empty buffer, want error")
	}
}

func TestText_FormatsEntriesAndStatuses(t *testing.T) {
	var out strings.Builder
	snk := console.NewText(&out)

	snk.ShowText("user", "hello there")
	snk.ShowText("api", "hi!")
	snk.Status("media for record u-2 unavailable")

	got := out.String()
	for _, want := range []string{"[user] hello there", "[api] hi!", "(status) media for record u-2 unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
