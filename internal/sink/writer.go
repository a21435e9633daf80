// Package sink emits the client-visible output stream: one self-describing
// JSON record per line, in exact service arrival order.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/protocol"
)

// Writer relays service events to an output stream, 1:1 and in order. Each
// event produces exactly one newline-terminated line; a line is always
// written whole, never interleaved or partial.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer

	emitted uint64
}

// NewWriter creates a sink writing to out, typically stdout.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(out)}
}

// Emit writes the record for one service event. The raw wire payload is
// already a complete JSON document, so it is relayed verbatim: consumers see
// exactly what the service sent, including Unknown and Error variants.
func (s *Writer) Emit(ev *protocol.ServiceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(ev.Raw); err != nil {
		return fmt.Errorf("failed to write event record: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write event record: %w", err)
	}
	// Flush per record so each line is complete and visible as soon as the
	// event arrives; downstream consumers read line-by-line.
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush event record: %w", err)
	}

	s.emitted++
	return nil
}

// Emitted returns the number of records written so far.
func (s *Writer) Emitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}
