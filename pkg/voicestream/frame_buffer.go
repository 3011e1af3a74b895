package voicestream

import (
	"sync"
	"sync/atomic"
	"time"
)

// FrameBuffer is a bounded queue between the capture callback and the
// processing loop. Push never blocks: when the buffer is full the oldest
// unconsumed frame is evicted to make room, preserving the relative order of
// the survivors. Capacity is fixed at construction.
//
// Push and Pop are the only operations that are safe under concurrent access;
// Push is additionally safe with multiple producers.
type FrameBuffer struct {
	frames  chan AudioFrame
	pushMu  sync.Mutex
	total   atomic.Int64
	dropped atomic.Int64
}

// NewFrameBuffer creates a buffer holding up to capacity frames.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		frames: make(chan AudioFrame, capacity),
	}
}

// Push enqueues a frame, evicting the oldest frame first if the buffer is
// full. Returns false when an eviction happened. O(1) either way, never
// blocks; safe to call from the audio driver's real-time callback.
func (b *FrameBuffer) Push(frame AudioFrame) bool {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	b.total.Add(1)

	select {
	case b.frames <- frame:
		return true
	default:
	}

	// Full: drop the head, then insert. At most one frame is lost per
	// overflow event.
	select {
	case <-b.frames:
		b.dropped.Add(1)
	default:
	}
	select {
	case b.frames <- frame:
	default:
	}
	return false
}

// Pop blocks up to timeout for the next frame. ok is false on timeout, which
// the consumer loop treats as "keep polling", not as an error.
func (b *FrameBuffer) Pop(timeout time.Duration) (frame AudioFrame, ok bool) {
	select {
	case frame = <-b.frames:
		return frame, true
	case <-time.After(timeout):
		return AudioFrame{}, false
	}
}

// TryPop returns the next frame without waiting.
func (b *FrameBuffer) TryPop() (frame AudioFrame, ok bool) {
	select {
	case frame = <-b.frames:
		return frame, true
	default:
		return AudioFrame{}, false
	}
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Cap returns the fixed capacity.
func (b *FrameBuffer) Cap() int {
	return cap(b.frames)
}

// Total returns the number of frames ever pushed.
func (b *FrameBuffer) Total() int64 {
	return b.total.Load()
}

// Dropped returns the number of frames evicted on overflow.
func (b *FrameBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// Drain empties the buffer, returning how many frames were discarded.
func (b *FrameBuffer) Drain() int {
	n := 0
	for {
		select {
		case <-b.frames:
			n++
		default:
			return n
		}
	}
}
