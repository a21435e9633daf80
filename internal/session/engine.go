// Package session drives one realtime transcription session: connection
// establishment, the configuration handshake, audio streaming, VAD event
// relay and teardown.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/audio"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/config"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/observability"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/protocol"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/transport"
)

// Input audio is PCM s16le mono, so a sample frame is two bytes. Chunk
// boundaries must never split a frame.
const bytesPerFrame = 2

// State is the session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConfiguring
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventSink consumes decoded service events in arrival order, one record
// per event.
type EventSink interface {
	Emit(ev *protocol.ServiceEvent) error
}

// Engine owns one session end to end. It holds the only reference to the
// transport connection; there is no state shared across sessions, so
// multiple engines can run concurrently (e.g. in tests) without
// interference.
type Engine struct {
	cfg     *config.Config
	dialer  transport.Dialer
	out     EventSink
	logger  zerolog.Logger
	metrics *observability.Metrics

	conn      transport.Conn
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	state     State
	sessionID string
	bytesRead uint64
}

// NewEngine creates a session engine. The dialer is injected so the caller
// decides what transport the session owns.
func NewEngine(cfg *config.Config, dialer transport.Dialer, out EventSink, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		dialer:  dialer,
		out:     out,
		logger:  logger,
		metrics: metrics,
		state:   StateConnecting,
		closed:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SessionID returns the identifier assigned by the service on handshake
// acknowledgement, or empty before that.
func (e *Engine) SessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionID
}

// BytesRead returns the number of raw audio bytes consumed from the input.
func (e *Engine) BytesRead() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bytesRead
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("session state transition")
}

// recvResult is one decoded inbound event or the receive-side failure that
// ended the pump.
type recvResult struct {
	ev  *protocol.ServiceEvent
	err *Error
}

// sendResult is the single completion report of the send pump.
type sendResult struct {
	eof      bool
	canceled bool
	err      *Error
}

// Run executes the session to completion and returns nil on a graceful
// close or the single terminal error on failure. It blocks until the
// session reaches Closed or Failed.
func (e *Engine) Run(ctx context.Context, input io.Reader) error {
	defer e.teardown()

	if e.metrics != nil {
		e.metrics.RecordSessionStart()
		defer e.metrics.RecordSessionEnd()
	}

	conn, err := e.dialer.Dial(ctx)
	if err != nil {
		return e.fail(newError(KindConnectFailure, err))
	}
	e.conn = conn
	e.setState(StateConfiguring)

	cfgMsg, err := protocol.EncodeSessionUpdate(protocol.SessionConfig{
		SampleRate:   e.cfg.SampleRate,
		Language:     e.cfg.Language,
		VADThreshold: e.cfg.VADThreshold,
		VADSilenceMs: e.cfg.VADSilenceMs,
	})
	if err != nil {
		return e.fail(newError(KindConfigurationRejected, err))
	}
	if err := conn.Send(cfgMsg); err != nil {
		return e.fail(newError(KindTransportError, fmt.Errorf("failed to send session configuration: %w", err)))
	}

	recvCh := make(chan recvResult)
	go e.receivePump(recvCh)

	if err := e.awaitSessionAck(ctx, recvCh); err != nil {
		return e.fail(err)
	}
	e.setState(StateStreaming)

	sendCh := make(chan sendResult, 1)
	go e.sendPump(ctx, input, sendCh)

	for {
		select {
		case r := <-recvCh:
			if r.err != nil {
				return e.fail(r.err)
			}
			if err := e.forward(r.ev); err != nil {
				return e.fail(err)
			}
		case r := <-sendCh:
			if r.err != nil {
				return e.fail(r.err)
			}
			if r.canceled {
				return e.drain(recvCh)
			}
			// End of input. All buffered chunks are on the wire at
			// this point, so the termination message cannot truncate
			// outbound audio.
			if e.cfg.KeepOpen {
				return e.linger(ctx, recvCh)
			}
			return e.drain(recvCh)
		case <-ctx.Done():
			return e.cancelStop(ctx, recvCh, sendCh)
		}
	}
}

// awaitSessionAck waits for the service to acknowledge the configuration
// handshake. Events that arrive meanwhile are still relayed to the sink.
func (e *Engine) awaitSessionAck(ctx context.Context, recvCh <-chan recvResult) error {
	deadline := time.NewTimer(e.cfg.ConfigureTimeout)
	defer deadline.Stop()

	for {
		select {
		case r := <-recvCh:
			if r.err != nil {
				return r.err
			}
			if err := e.forward(r.ev); err != nil {
				return err
			}
			if r.ev.Kind == protocol.KindError {
				// A service error before the ack means the session
				// parameters were rejected.
				return newError(KindConfigurationRejected,
					fmt.Errorf("service rejected session configuration: %s (%s)", r.ev.ErrorMessage, r.ev.ErrorCode))
			}
			if r.ev.IsSessionAck() {
				e.mu.Lock()
				e.sessionID = r.ev.SessionID
				e.mu.Unlock()
				e.logger.Info().Str("service_session_id", r.ev.SessionID).Msg("session configured")
				return nil
			}
		case <-deadline.C:
			return newError(KindConfigurationRejected,
				fmt.Errorf("no configuration acknowledgement within %s", e.cfg.ConfigureTimeout))
		case <-ctx.Done():
			return newError(KindCanceled, ctx.Err())
		}
	}
}

// sendPump frames the raw input stream and sends each chunk immediately.
// A full socket buffer blocks the send, which blocks the next input read:
// backpressure flows to the audio source instead of accumulating memory.
// The pump reports exactly once on sendCh and exits.
func (e *Engine) sendPump(ctx context.Context, input io.Reader, out chan<- sendResult) {
	framer, err := audio.NewFramer(e.cfg.ChunkSize, bytesPerFrame)
	if err != nil {
		out <- sendResult{err: newError(KindFramingError, err)}
		return
	}

	buf := make([]byte, e.cfg.ReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			out <- sendResult{canceled: true}
			return
		case <-e.closed:
			return
		default:
		}

		n, rerr := input.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.bytesRead += uint64(n)
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.RecordAudioBytes(int64(n))
			}

			chunks, ferr := framer.Push(buf[:n])
			if ferr != nil {
				out <- sendResult{err: newError(KindFramingError, ferr)}
				return
			}
			for _, c := range chunks {
				if serr := e.sendChunk(c); serr != nil {
					out <- sendResult{err: serr}
					return
				}
			}
		}

		if rerr != nil {
			if rerr != io.EOF {
				// A failing capture source ends the stream the same
				// way a closed one does.
				e.logger.Warn().Err(rerr).Msg("audio input read failed, treating as end of input")
			}
			final, ferr := framer.Flush()
			if ferr != nil {
				out <- sendResult{err: newError(KindFramingError, ferr)}
				return
			}
			if final != nil {
				if serr := e.sendChunk(*final); serr != nil {
					out <- sendResult{err: serr}
					return
				}
			}
			out <- sendResult{eof: true}
			return
		}
	}
}

func (e *Engine) sendChunk(c audio.Chunk) *Error {
	msg, err := protocol.EncodeAudioAppend(c.Data)
	if err != nil {
		return newError(KindTransportError, err)
	}
	if err := e.conn.Send(msg); err != nil {
		return newError(KindTransportError, fmt.Errorf("failed to send audio chunk %d: %w", c.Seq, err))
	}
	if e.metrics != nil {
		e.metrics.RecordChunkSent()
	}
	return nil
}

// receivePump reads and decodes inbound messages until the connection ends.
// Results go to recvCh in arrival order; the Run goroutine is the only
// consumer, so sink ordering matches wire ordering.
func (e *Engine) receivePump(out chan<- recvResult) {
	for {
		data, err := e.conn.Receive()
		if err != nil {
			r := recvResult{err: newError(KindTransportError, fmt.Errorf("connection closed: %w", err))}
			select {
			case out <- r:
			case <-e.closed:
			}
			return
		}

		ev, derr := protocol.DecodeServerEvent(data)
		if derr != nil {
			r := recvResult{err: newError(KindDecodeError, derr)}
			select {
			case out <- r:
			case <-e.closed:
			}
			return
		}

		select {
		case out <- recvResult{ev: ev}:
		case <-e.closed:
			return
		}
	}
}

// forward relays one event to the sink, 1:1 in arrival order. Service error
// events are normal records here; they are only fatal during configuring.
func (e *Engine) forward(ev *protocol.ServiceEvent) error {
	if e.metrics != nil {
		e.metrics.RecordEvent(string(ev.Kind))
	}
	if ev.Kind == protocol.KindError {
		e.logger.Warn().Str("code", ev.ErrorCode).Str("message", ev.ErrorMessage).Msg("service error event")
		if e.metrics != nil {
			e.metrics.RecordError(string(KindServiceError))
		}
	}
	if err := e.out.Emit(ev); err != nil {
		return fmt.Errorf("event sink write failed: %w", err)
	}
	return nil
}

// drain sends the termination message and relays any in-flight events until
// the service acknowledges with a final transcription, the peer closes, or
// the drain budget expires. All paths end in Closed.
func (e *Engine) drain(recvCh <-chan recvResult) error {
	e.setState(StateDraining)

	commit, err := protocol.EncodeBufferCommit()
	if err != nil {
		return e.fail(newError(KindTransportError, err))
	}
	if err := e.conn.Send(commit); err != nil {
		return e.fail(newError(KindTransportError, fmt.Errorf("failed to send termination message: %w", err)))
	}

	deadline := time.NewTimer(e.cfg.DrainTimeout)
	defer deadline.Stop()

	for {
		select {
		case r := <-recvCh:
			if r.err != nil {
				if r.err.Kind == KindDecodeError {
					return e.fail(r.err)
				}
				// Peer close while draining is a normal end.
				e.setState(StateClosed)
				return nil
			}
			if err := e.forward(r.ev); err != nil {
				return e.fail(err)
			}
			if r.ev.Kind == protocol.KindTranscriptionCompleted {
				// Terminal acknowledgement for the committed audio.
				e.setState(StateClosed)
				return nil
			}
		case <-deadline.C:
			e.logger.Debug().Dur("budget", e.cfg.DrainTimeout).Msg("drain budget expired")
			e.setState(StateClosed)
			return nil
		}
	}
}

// linger keeps the session open after end of input, relaying events until
// cancellation or peer close. Used by the keep-open mode, where the caller
// wants trailing transcriptions for audio the service is still processing.
func (e *Engine) linger(ctx context.Context, recvCh <-chan recvResult) error {
	for {
		select {
		case r := <-recvCh:
			if r.err != nil {
				if r.err.Kind == KindDecodeError {
					return e.fail(r.err)
				}
				// The input is fully delivered, so a peer close is the
				// natural end of the session.
				e.setState(StateClosed)
				return nil
			}
			if err := e.forward(r.ev); err != nil {
				return e.fail(err)
			}
		case <-ctx.Done():
			return e.drain(recvCh)
		}
	}
}

// cancelStop handles an external stop signal: wait for the send pump to
// release the connection, then drain gracefully. If the pump is stuck in a
// blocking input read past the hard-stop budget, force the session closed.
func (e *Engine) cancelStop(ctx context.Context, recvCh <-chan recvResult, sendCh <-chan sendResult) error {
	hardStop := time.NewTimer(e.cfg.HardStopTimeout)
	defer hardStop.Stop()

	select {
	case r := <-sendCh:
		if r.err != nil {
			return e.fail(r.err)
		}
		return e.drain(recvCh)
	case <-hardStop.C:
		e.logger.Warn().Dur("budget", e.cfg.HardStopTimeout).
			Msg("hard-stop budget elapsed waiting for the audio source, forcing close")
		e.setState(StateClosed)
		return nil
	}
}

func (e *Engine) fail(err error) error {
	e.setState(StateFailed)
	if kind, ok := KindOf(err); ok && e.metrics != nil {
		e.metrics.RecordError(string(kind))
	}
	return err
}

// teardown releases the connection and unblocks any pump still parked on a
// channel send. Safe to run once per session only.
func (e *Engine) teardown() {
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.conn != nil {
			_ = e.conn.Close()
		}
	})
}
