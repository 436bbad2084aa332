package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType enumerates the carrier media stream's event set. The set is
// closed: anything outside it parses as EventUnknown and is logged, never
// silently swallowed into a catch-all string match.
type EventType string

const (
	// EventStart is the first message of a stream and carries the call id.
	EventStart EventType = "start"

	// EventMedia carries one base64-encoded μ-law audio chunk.
	EventMedia EventType = "media"

	// EventStop is the carrier's graceful end of stream.
	EventStop EventType = "stop"

	// EventDTMF reports a keypad press. Logged only; the bridge does not act
	// on digits.
	EventDTMF EventType = "dtmf"

	// EventUnknown is any event type outside the closed set above.
	EventUnknown EventType = ""
)

// StreamEvent is one parsed carrier message.
type StreamEvent struct {
	Type EventType

	// CallID is set for start events. The carrier may omit it, in which case
	// the session runs under the id "unknown".
	CallID string

	// Payload is the decoded μ-law audio of a media event.
	Payload []byte

	// Digit is the key of a dtmf event.
	Digit string

	// RawType preserves the wire event name for logging unknown events.
	RawType string
}

// Wire envelope shapes for the carrier's JSON stream.

type streamEnvelope struct {
	Event string        `json:"event"`
	Start *startDetails `json:"start,omitempty"`
	Media *mediaDetails `json:"media,omitempty"`
	DTMF  *dtmfDetails  `json:"dtmf,omitempty"`
}

type startDetails struct {
	CallID string `json:"callId"`
}

type mediaDetails struct {
	ContentType string `json:"contentType,omitempty"`
	SampleRate  string `json:"sampleRate,omitempty"`
	Payload     string `json:"payload"`
}

type dtmfDetails struct {
	Digit string `json:"digit"`
}

// ParseStreamEvent decodes one carrier message. Media payloads are base64
// decoded here so the pumps only ever see raw μ-law bytes.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("bridge: parse stream event: %w", err)
	}

	switch EventType(env.Event) {
	case EventStart:
		evt := StreamEvent{Type: EventStart, RawType: env.Event}
		if env.Start != nil {
			evt.CallID = env.Start.CallID
		}
		return evt, nil

	case EventMedia:
		if env.Media == nil || env.Media.Payload == "" {
			return StreamEvent{}, fmt.Errorf("bridge: media event without payload")
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return StreamEvent{}, fmt.Errorf("bridge: decode media payload: %w", err)
		}
		return StreamEvent{Type: EventMedia, Payload: payload, RawType: env.Event}, nil

	case EventStop:
		return StreamEvent{Type: EventStop, RawType: env.Event}, nil

	case EventDTMF:
		evt := StreamEvent{Type: EventDTMF, RawType: env.Event}
		if env.DTMF != nil {
			evt.Digit = env.DTMF.Digit
		}
		return evt, nil

	default:
		return StreamEvent{Type: EventUnknown, RawType: env.Event}, nil
	}
}

// playAudioEnvelope is the outbound carrier message wrapping one μ-law chunk.
type playAudioEnvelope struct {
	Event string       `json:"event"`
	Media mediaDetails `json:"media"`
}

// EncodePlayAudio wraps μ-law bytes in the carrier's playAudio envelope.
func EncodePlayAudio(mulaw []byte) ([]byte, error) {
	env := playAudioEnvelope{
		Event: "playAudio",
		Media: mediaDetails{
			ContentType: "audio/x-mulaw",
			SampleRate:  "8000",
			Payload:     base64.StdEncoding.EncodeToString(mulaw),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal playAudio: %w", err)
	}
	return data, nil
}
