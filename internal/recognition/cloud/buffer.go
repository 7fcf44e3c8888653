package cloud

import "math"

const (
	// SampleRate is the fixed capture rate for cloud backends.
	SampleRate = 16000
	// MaxUtterance bounds a single utterance in seconds.
	MaxUtterance = 30
)

// BufferCapacity is the number of samples held for one utterance.
var BufferCapacity = int(math.Ceil(MaxUtterance * SampleRate))

// Buffer is a fixed-capacity sample store. Writes past capacity are dropped.
type Buffer struct {
	samples []int16
	pos     int
	filled  bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = BufferCapacity
	}
	return &Buffer{samples: make([]int16, capacity)}
}

// Write appends up to min(n, len(samples), remaining) samples. It returns
// the number accepted and whether this call filled the buffer; the latter is
// true at most once between resets.
func (b *Buffer) Write(samples []int16, n int) (accepted int, filled bool) {
	if n > len(samples) {
		n = len(samples)
	}
	if n > 0 {
		accepted = copy(b.samples[b.pos:], samples[:n])
		b.pos += accepted
	}
	if b.Full() && !b.filled {
		b.filled = true
		return accepted, true
	}
	return accepted, false
}

func (b *Buffer) Full() bool {
	return b.pos >= len(b.samples)
}

func (b *Buffer) Position() int { return b.pos }

func (b *Buffer) Capacity() int { return len(b.samples) }

// Samples returns the written prefix. The slice aliases the buffer and is
// only valid until the next Write or Reset.
func (b *Buffer) Samples() []int16 {
	return b.samples[:b.pos]
}

// Reset rewinds the write position; the backing storage is reused.
func (b *Buffer) Reset() {
	b.pos = 0
	b.filled = false
}
