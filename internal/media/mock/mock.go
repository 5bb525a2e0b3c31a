// Package mock provides in-memory BlobStore and FrameAllocator
// implementations for testing media resolution.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/echoreplay/internal/media"
)

// BlobStore is a map-backed media.BlobStore. Mark references expired via the
// Expired set; Regenerate moves the payload under a fresh reference.
type BlobStore struct {
	mu sync.Mutex

	// Blobs maps reference → payload bytes.
	Blobs map[string][]byte

	// Expired contains references that report ErrExpiredReference.
	Expired map[string]bool

	// FetchErr, when non-nil, is returned by every Fetch (after the expiry check).
	FetchErr error

	fetchCount map[string]int
	regenSeq   int
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		Blobs:      make(map[string][]byte),
		Expired:    make(map[string]bool),
		fetchCount: make(map[string]int),
	}
}

func (s *BlobStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchCount == nil {
		s.fetchCount = make(map[string]int)
	}
	s.fetchCount[ref]++
	if s.Expired[ref] {
		return nil, fmt.Errorf("mock store: %q: %w", ref, media.ErrExpiredReference)
	}
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	data, ok := s.Blobs[ref]
	if !ok {
		return nil, fmt.Errorf("mock store: %q not found", ref)
	}
	return data, nil
}

func (s *BlobStore) Regenerate(_ context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Expired[ref] {
		return ref, nil
	}
	s.regenSeq++
	newRef := fmt.Sprintf("%s-regen-%d", ref, s.regenSeq)
	s.Blobs[newRef] = s.Blobs[ref]
	delete(s.Expired, ref)
	return newRef, nil
}

// FetchCount returns how many times ref was fetched.
func (s *BlobStore) FetchCount(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCount[ref]
}

// FrameAllocator hands out sequential handles and tracks releases so tests
// can assert that no handle leaks.
type FrameAllocator struct {
	mu       sync.Mutex
	next     int
	live     map[string]bool
	released []string
}

// NewFrameAllocator creates an empty allocator.
func NewFrameAllocator() *FrameAllocator {
	return &FrameAllocator{live: make(map[string]bool)}
}

func (a *FrameAllocator) Alloc(_ []byte) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	h := fmt.Sprintf("frame-%d", a.next)
	if a.live == nil {
		a.live = make(map[string]bool)
	}
	a.live[h] = true
	return h
}

func (a *FrameAllocator) Release(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, handle)
	a.released = append(a.released, handle)
}

// LiveCount returns the number of handles allocated but not yet released.
func (a *FrameAllocator) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Released returns all released handles in release order.
func (a *FrameAllocator) Released() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.released))
	copy(out, a.released)
	return out
}
