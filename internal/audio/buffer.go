package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for PCM byte streams. Writes
// beyond capacity are truncated rather than blocking: on a full buffer
// the freshest audio wins and the overflow is reported to the caller.
type RingBuffer struct {
	mu     sync.Mutex
	buffer []byte
	size   int
	read   int
	write  int
	length int
}

// NewRingBuffer creates a new ring buffer with the specified capacity
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data to the buffer, returning the number of bytes stored
// (less than len(data) when the buffer fills up)
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	space := rb.size - rb.length
	n := len(data)
	if n > space {
		n = space
	}

	for i := 0; i < n; i++ {
		rb.buffer[rb.write] = data[i]
		rb.write = (rb.write + 1) % rb.size
	}
	rb.length += n
	return n
}

// Read fills data from the buffer, returning the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n > rb.length {
		n = rb.length
	}

	for i := 0; i < n; i++ {
		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	rb.length -= n
	return n
}

// Available returns the number of bytes ready to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Space returns the number of bytes that can be written without truncation
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.length
}

// Clear discards all buffered data
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer holds no data
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length == 0
}
