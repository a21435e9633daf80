package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionConfig carries the session parameters sent in the configuration
// handshake. VAD is server-side; threshold and silence duration are relayed
// to the service untouched.
type SessionConfig struct {
	SampleRate   int
	Language     string
	VADThreshold float64
	VADSilenceMs int
}

type sessionUpdateEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Session sessionUpdateBody `json:"session"`
}

type sessionUpdateBody struct {
	Modalities       []string          `json:"modalities"`
	InputAudioFormat string            `json:"input_audio_format"`
	SampleRate       int               `json:"sample_rate"`
	Transcription    transcriptionBody `json:"input_audio_transcription"`
	TurnDetection    turnDetectionBody `json:"turn_detection"`
}

type transcriptionBody struct {
	Language string `json:"language"`
}

type turnDetectionBody struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type audioAppendEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

type bufferCommitEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// EncodeSessionUpdate encodes the one-time session configuration message.
func EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	ev := sessionUpdateEvent{
		EventID: newEventID(),
		Type:    "session.update",
		Session: sessionUpdateBody{
			Modalities:       []string{"text"},
			InputAudioFormat: "pcm",
			SampleRate:       cfg.SampleRate,
			Transcription:    transcriptionBody{Language: cfg.Language},
			TurnDetection: turnDetectionBody{
				Type:              "server_vad",
				Threshold:         cfg.VADThreshold,
				SilenceDurationMs: cfg.VADSilenceMs,
			},
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session update: %w", err)
	}
	return data, nil
}

// EncodeAudioAppend encodes one audio chunk as an append message. The
// service expects the raw bytes base64-encoded inside a text frame.
func EncodeAudioAppend(audio []byte) ([]byte, error) {
	ev := audioAppendEvent{
		EventID: newEventID(),
		Type:    "input_audio_buffer.append",
		Audio:   base64.StdEncoding.EncodeToString(audio),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio append: %w", err)
	}
	return data, nil
}

// EncodeBufferCommit encodes the session termination message sent when the
// input stream ends.
func EncodeBufferCommit() ([]byte, error) {
	ev := bufferCommitEvent{
		EventID: newEventID(),
		Type:    "input_audio_buffer.commit",
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode buffer commit: %w", err)
	}
	return data, nil
}

// newEventID returns a time-ordered UUID for outbound event correlation.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
