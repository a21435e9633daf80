// Package protocol implements the realtime ASR wire protocol: client event
// encoding and server event decoding. The dialect follows the OpenAI
// realtime API as spoken by DashScope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the decoded variant of a server event.
type EventKind string

const (
	KindSessionCreated         EventKind = "session_created"
	KindSessionUpdated         EventKind = "session_updated"
	KindSpeechStarted          EventKind = "speech_started"
	KindSpeechStopped          EventKind = "speech_stopped"
	KindTranscriptionDelta     EventKind = "transcription_delta"
	KindTranscriptionCompleted EventKind = "transcription_completed"
	KindError                  EventKind = "error"
	KindUnknown                EventKind = "unknown"
)

// Wire type strings for server events.
const (
	typeSessionCreated         = "session.created"
	typeSessionUpdated         = "session.updated"
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeSpeechStopped          = "input_audio_buffer.speech_stopped"
	typeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeError                  = "error"
)

// ServiceEvent is the decoded form of one server message. Kind selects the
// variant; only the fields that variant defines are populated. Raw always
// holds the original payload so the sink can relay it verbatim.
type ServiceEvent struct {
	Kind         EventKind
	Type         string // wire type string, also set for Unknown
	SessionID    string
	Delta        string // partial transcript text
	Transcript   string // final transcript text
	ErrorCode    string
	ErrorMessage string
	Raw          json.RawMessage
}

// serverEvent mirrors the superset of fields the service sends. Unrecognized
// fields are ignored by encoding/json, which is what keeps decoding tolerant.
type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Session *struct {
		ID string `json:"id"`
	} `json:"session,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DecodeServerEvent decodes one inbound wire message into exactly one
// ServiceEvent. Unknown but well-formed message types produce an Unknown
// variant carrying the raw payload; only a parse failure is an error.
func DecodeServerEvent(data []byte) (*ServiceEvent, error) {
	var wire serverEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode server event: %w", err)
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	ev := &ServiceEvent{Type: wire.Type, Raw: raw}

	switch wire.Type {
	case typeSessionCreated:
		ev.Kind = KindSessionCreated
		if wire.Session != nil {
			ev.SessionID = wire.Session.ID
		}
	case typeSessionUpdated:
		ev.Kind = KindSessionUpdated
		if wire.Session != nil {
			ev.SessionID = wire.Session.ID
		}
	case typeSpeechStarted:
		ev.Kind = KindSpeechStarted
	case typeSpeechStopped:
		ev.Kind = KindSpeechStopped
	case typeTranscriptionDelta:
		ev.Kind = KindTranscriptionDelta
		ev.Delta = wire.Delta
	case typeTranscriptionCompleted:
		ev.Kind = KindTranscriptionCompleted
		ev.Transcript = wire.Transcript
	case typeError:
		ev.Kind = KindError
		if wire.Error != nil {
			ev.ErrorCode = wire.Error.Code
			ev.ErrorMessage = wire.Error.Message
		}
	default:
		ev.Kind = KindUnknown
	}

	return ev, nil
}

// IsSessionAck reports whether the event acknowledges the session
// configuration handshake.
func (e *ServiceEvent) IsSessionAck() bool {
	return e.Kind == KindSessionCreated || e.Kind == KindSessionUpdated
}
