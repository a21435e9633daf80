package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewFramer_RejectsMisalignedChunkSize(t *testing.T) {
	if _, err := NewFramer(6401, 2); err == nil {
		t.Error("Expected error for chunk size not a multiple of frame size")
	}
	if _, err := NewFramer(0, 2); err == nil {
		t.Error("Expected error for zero chunk size")
	}
	if _, err := NewFramer(6400, 0); err == nil {
		t.Error("Expected error for zero frame size")
	}
}

func TestFramer_ExactChunks(t *testing.T) {
	// 1 second of 16kHz mono s16le pushed in three uneven bursts.
	f, err := NewFramer(6400, 2)
	if err != nil {
		t.Fatalf("NewFramer failed: %v", err)
	}

	input := make([]byte, 32000)
	for i := range input {
		input[i] = byte(i % 251)
	}

	var chunks []Chunk
	for _, burst := range [][]byte{input[:13000], input[13000:22000], input[22000:]} {
		out, err := f.Push(burst)
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		chunks = append(chunks, out...)
	}

	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if final != nil {
		t.Errorf("Expected no final partial chunk for exact input, got %d bytes", len(final.Data))
	}

	if len(chunks) != 5 {
		t.Fatalf("Expected 5 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Data) != 6400 {
			t.Errorf("Chunk %d: expected 6400 bytes, got %d", i, len(c.Data))
		}
		if c.Seq != uint64(i) {
			t.Errorf("Chunk %d: expected seq %d, got %d", i, i, c.Seq)
		}
	}
}

func TestFramer_Lossless(t *testing.T) {
	f, err := NewFramer(320, 2)
	if err != nil {
		t.Fatalf("NewFramer failed: %v", err)
	}

	input := make([]byte, 5000)
	for i := range input {
		input[i] = byte(i)
	}

	var output bytes.Buffer
	var lastSeq uint64
	first := true

	// Uneven burst sizes exercise the remainder buffering.
	for off, n := 0, 0; off < len(input); off += n {
		n = 1 + (off*37)%700
		if off+n > len(input) {
			n = len(input) - off
		}
		chunks, err := f.Push(input[off : off+n])
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		for _, c := range chunks {
			if !first && c.Seq != lastSeq+1 {
				t.Errorf("Sequence gap: %d after %d", c.Seq, lastSeq)
			}
			lastSeq = c.Seq
			first = false
			output.Write(c.Data)
		}
	}

	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if final != nil {
		if final.Seq != lastSeq+1 {
			t.Errorf("Final chunk seq %d, expected %d", final.Seq, lastSeq+1)
		}
		output.Write(final.Data)
	}

	if !bytes.Equal(output.Bytes(), input) {
		t.Error("Concatenated chunk bytes differ from input bytes")
	}
}

func TestFramer_FinalPartialChunk(t *testing.T) {
	f, _ := NewFramer(6400, 2)

	if _, err := f.Push(make([]byte, 7000)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if final == nil {
		t.Fatal("Expected a final partial chunk")
	}
	if len(final.Data) != 600 {
		t.Errorf("Expected final chunk of 600 bytes, got %d", len(final.Data))
	}
	if final.Seq != 1 {
		t.Errorf("Expected final chunk seq 1, got %d", final.Seq)
	}
}

func TestFramer_OddTrailingByte(t *testing.T) {
	f, _ := NewFramer(6400, 2)

	chunks, err := f.Push(make([]byte, 32001))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(chunks) != 5 {
		t.Fatalf("Expected 5 chunks before the misaligned tail, got %d", len(chunks))
	}

	final, err := f.Flush()
	if !errors.Is(err, ErrSampleAlignment) {
		t.Errorf("Expected ErrSampleAlignment, got %v", err)
	}
	if final != nil {
		t.Error("Expected no chunk for the trailing single byte")
	}

	// Framing halts for the session after an alignment error.
	if _, err := f.Push([]byte{0, 0}); !errors.Is(err, ErrSampleAlignment) {
		t.Errorf("Expected halted framer to reject further input, got %v", err)
	}
}

func TestFramer_EmptyInput(t *testing.T) {
	f, _ := NewFramer(320, 2)

	chunks, err := f.Push(nil)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if chunks != nil {
		t.Error("Expected no chunks for empty push")
	}

	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if final != nil {
		t.Error("Expected no final chunk for empty input")
	}
	if f.NextSeq() != 0 {
		t.Errorf("Expected next seq 0, got %d", f.NextSeq())
	}
}

func TestFramer_ChunkImmutability(t *testing.T) {
	f, _ := NewFramer(4, 2)

	burst := []byte{1, 2, 3, 4, 5, 6}
	chunks, err := f.Push(burst)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}

	// Mutating the caller's burst must not change an emitted chunk.
	burst[0] = 99
	if chunks[0].Data[0] != 1 {
		t.Error("Chunk data aliases the caller's buffer")
	}
}
