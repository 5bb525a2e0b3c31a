package media_test

import (
	"testing"

	"github.com/MrWong99/echoreplay/internal/media"
)

func TestMemoryFrames_AllocGetRelease(t *testing.T) {
	frames := media.NewMemoryFrames()

	h1 := frames.Alloc([]byte{1, 2})
	h2 := frames.Alloc([]byte{3})
	if h1 == h2 {
		t.Fatalf("handles collide: %q", h1)
	}
	if frames.Live() != 2 {
		t.Errorf("Live() = %d, want 2", frames.Live())
	}

	data, ok := frames.Get(h1)
	if !ok || len(data) != 2 {
		t.Errorf("Get(%q) = %v, %v", h1, data, ok)
	}

	frames.Release(h1)
	if _, ok := frames.Get(h1); ok {
		t.Error("released handle still resolvable")
	}
	if frames.Live() != 1 {
		t.Errorf("Live() = %d after release, want 1", frames.Live())
	}

	// Releasing twice or releasing junk is harmless.
	frames.Release(h1)
	frames.Release("nope")
}
