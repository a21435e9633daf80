// Package audio packages the raw input byte stream into protocol-sized,
// sample-aligned chunks for the outbound audio path.
package audio

import (
	"errors"
	"fmt"
)

// ErrSampleAlignment is returned when the input stream ends in the middle of
// an audio sample. Alignment cannot be safely guessed mid-stream, so framing
// halts for the session.
var ErrSampleAlignment = errors.New("audio input is not aligned to sample boundaries")

// Chunk is one immutable outbound audio chunk. Seq numbers are strictly
// increasing and gapless for the lifetime of one framer.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Framer accumulates raw audio bytes arriving in arbitrary-sized bursts and
// cuts them into fixed-size chunks, never splitting a sample. A partial
// remainder is buffered between calls and flushed as a final undersized
// chunk at end of input.
type Framer struct {
	chunkSize     int
	bytesPerFrame int // sample width times channel count

	pending []byte
	nextSeq uint64
	halted  bool
}

// NewFramer creates a framer producing chunks of chunkSize bytes.
// chunkSize must be a positive multiple of bytesPerFrame so a chunk boundary
// is always a sample boundary.
func NewFramer(chunkSize, bytesPerFrame int) (*Framer, error) {
	if bytesPerFrame <= 0 {
		return nil, fmt.Errorf("bytes per frame must be positive, got %d", bytesPerFrame)
	}
	if chunkSize <= 0 || chunkSize%bytesPerFrame != 0 {
		return nil, fmt.Errorf("chunk size must be a positive multiple of %d, got %d", bytesPerFrame, chunkSize)
	}
	return &Framer{
		chunkSize:     chunkSize,
		bytesPerFrame: bytesPerFrame,
	}, nil
}

// Push appends a burst of raw bytes and returns every complete chunk that
// became available. Bytes are never dropped or reordered; a trailing partial
// chunk stays buffered for the next Push or Flush.
func (f *Framer) Push(p []byte) ([]Chunk, error) {
	if f.halted {
		return nil, ErrSampleAlignment
	}
	if len(p) == 0 {
		return nil, nil
	}

	f.pending = append(f.pending, p...)

	var chunks []Chunk
	for len(f.pending) >= f.chunkSize {
		data := make([]byte, f.chunkSize)
		copy(data, f.pending[:f.chunkSize])
		f.pending = f.pending[f.chunkSize:]

		chunks = append(chunks, Chunk{Seq: f.nextSeq, Data: data})
		f.nextSeq++
	}

	return chunks, nil
}

// Flush emits the buffered remainder as a final, possibly undersized chunk.
// It returns nil when no bytes are pending. A remainder that does not land
// on a sample boundary is a framing error: no chunk is emitted for it and
// the framer accepts no further input.
func (f *Framer) Flush() (*Chunk, error) {
	if f.halted {
		return nil, ErrSampleAlignment
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	if len(f.pending)%f.bytesPerFrame != 0 {
		f.halted = true
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSampleAlignment, len(f.pending)%f.bytesPerFrame)
	}

	data := make([]byte, len(f.pending))
	copy(data, f.pending)
	f.pending = f.pending[:0]

	chunk := &Chunk{Seq: f.nextSeq, Data: data}
	f.nextSeq++
	return chunk, nil
}

// Pending returns the number of buffered bytes not yet emitted.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// NextSeq returns the sequence number the next emitted chunk will carry.
func (f *Framer) NextSeq() uint64 {
	return f.nextSeq
}
