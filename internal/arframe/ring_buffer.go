package arframe

import "sync"

// DefaultRingCapacity is the recommended frame history depth. Thirty frames
// at the 5 FPS ceiling gives a remote consumer six seconds to respond
// before its frame is evicted.
const DefaultRingCapacity = 30

// FrameRingBuffer is a bounded, thread-safe FIFO store of FrameEntry keyed
// by frame id. When capacity is reached the oldest entry is evicted and its
// depth buffer released. A single coarse mutex guards the backing map and
// order list; write traffic is at most 5 Hz so contention is a non-issue.
type FrameRingBuffer struct {
	mu        sync.Mutex
	capacity  int
	entries   map[string]*FrameEntry
	order     []string // insertion order, oldest first
	sessionID int
}

// NewFrameRingBuffer creates a ring buffer with the given capacity.
// Non-positive capacities fall back to DefaultRingCapacity.
func NewFrameRingBuffer(capacity int) *FrameRingBuffer {
	if capacity < 1 {
		capacity = DefaultRingCapacity
	}
	return &FrameRingBuffer{
		capacity: capacity,
		entries:  make(map[string]*FrameEntry, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Insert stores an entry, evicting the oldest resident entry if the buffer
// is full. The evicted entry's depth buffer is released before the
// reference is dropped.
func (rb *FrameRingBuffer) Insert(entry *FrameEntry) {
	if entry == nil || entry.FrameID == "" {
		return
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if old, ok := rb.entries[entry.FrameID]; ok {
		// Same id re-inserted: replace in place, keep eviction order.
		old.Depth.Release()
		rb.entries[entry.FrameID] = entry
		return
	}

	for len(rb.order) >= rb.capacity {
		oldest := rb.order[0]
		rb.order = rb.order[1:]
		if evicted, ok := rb.entries[oldest]; ok {
			evicted.Depth.Release()
			delete(rb.entries, oldest)
		}
	}

	rb.entries[entry.FrameID] = entry
	rb.order = append(rb.order, entry.FrameID)
}

// Lookup returns the entry for a frame id, or nil if it was never inserted
// or has been evicted.
func (rb *FrameRingBuffer) Lookup(frameID string) *FrameEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.entries[frameID]
}

// Len returns the number of resident entries.
func (rb *FrameRingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.order)
}

// Capacity returns the configured capacity.
func (rb *FrameRingBuffer) Capacity() int { return rb.capacity }

// IncrementSession bumps the buffer-wide session id. Called whenever the AR
// session resets or relocalizes, so entries captured before the reset can
// be distinguished from the live session.
func (rb *FrameRingBuffer) IncrementSession() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.sessionID++
	return rb.sessionID
}

// CurrentSession returns the current session id.
func (rb *FrameRingBuffer) CurrentSession() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.sessionID
}

// Clear releases every resident entry's depth buffer and empties the
// buffer. The session id is preserved.
func (rb *FrameRingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, id := range rb.order {
		if e, ok := rb.entries[id]; ok {
			e.Depth.Release()
		}
	}
	rb.entries = make(map[string]*FrameEntry, rb.capacity)
	rb.order = rb.order[:0]
}
