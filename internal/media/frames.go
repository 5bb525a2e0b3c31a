package media

import (
	"fmt"
	"sync"
)

// MemoryFrames is a FrameAllocator that keeps decoded frame bytes in memory
// behind generated handles. Presentation surfaces look the bytes up with
// [MemoryFrames.Get]; Release drops them so a cleared replay cache frees the
// frame data with it.
type MemoryFrames struct {
	mu     sync.Mutex
	next   uint64
	frames map[string][]byte
}

// NewMemoryFrames creates an empty allocator.
func NewMemoryFrames() *MemoryFrames {
	return &MemoryFrames{frames: make(map[string][]byte)}
}

// Alloc stores data and returns its handle.
func (m *MemoryFrames) Alloc(data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	handle := fmt.Sprintf("frame-%d", m.next)
	m.frames[handle] = data
	return handle
}

// Release drops the frame behind handle. Unknown handles are ignored.
func (m *MemoryFrames) Release(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frames, handle)
}

// Get returns the frame bytes behind handle, or false when the handle was
// never allocated or has been released.
func (m *MemoryFrames) Get(handle string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.frames[handle]
	return data, ok
}

// Live returns the number of handles currently allocated.
func (m *MemoryFrames) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

var _ FrameAllocator = (*MemoryFrames)(nil)
