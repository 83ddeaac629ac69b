package audio

import (
	"sync"
)

// Buffer accumulates PCM audio chunks with a configurable maximum size.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	format   Format
}

// NewBuffer creates a buffer that holds up to maxDurationMs of audio.
// A maxDurationMs of zero means unbounded.
func NewBuffer(format Format, maxDurationMs int) *Buffer {
	maxBytes := format.BytesForDurationMs(maxDurationMs)
	return &Buffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		format:   format,
	}
}

// Write appends audio data to the buffer.
// If the buffer would exceed maxBytes, older data is discarded.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	if b.maxBytes > 0 && len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Read returns a copy of all buffered audio data.
func (b *Buffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result
}

// Len returns the current buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the current buffer duration in milliseconds.
func (b *Buffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RMS calculates the RMS energy of the buffered audio.
func (b *Buffer) RMS() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RMSEnergy(b.data)
}
