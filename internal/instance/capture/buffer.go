package capture

import "sync"

// RingBuffer keeps the most recent size bytes written to it. Each recorder's
// Watcher tees its raw output here so a failed transition can report what the
// recorder last printed.
//
// Writes past capacity overwrite the oldest bytes:
//
//	size 5, write "abc"  -> "abc"
//	write "defg"         -> "cdefg"
//
// RingBuffer implements io.Writer and is safe for concurrent use.
type RingBuffer struct {
	data  []byte
	size  int
	start int
	end   int
	full  bool
	mu    sync.RWMutex
}

// NewRingBuffer creates a buffer holding at most size bytes. A size below
// one is raised to one.
func NewRingBuffer(size int) *RingBuffer {
	size = max(size, 1)
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, evicting the oldest bytes as needed. It never fails.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the last size bytes of p can survive.
	src := p
	if len(src) > r.size {
		src = src[len(src)-r.size:]
	}
	for _, b := range src {
		r.data[r.end] = b
		r.end = (r.end + 1) % r.size
		if r.full {
			r.start = r.end
		} else if r.end == r.start {
			r.full = true
		}
	}

	return len(p), nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, 0, r.len())
	if r.full || r.end < r.start {
		out = append(out, r.data[r.start:]...)
		return append(out, r.data[:r.end]...)
	}
	return append(out, r.data[r.start:r.end]...)
}

// String returns the buffered data as a string.
func (r *RingBuffer) String() string {
	return string(r.Bytes())
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

func (r *RingBuffer) len() int {
	switch {
	case r.full:
		return r.size
	case r.end >= r.start:
		return r.end - r.start
	default:
		return r.size - r.start + r.end
	}
}
