package realtime

import (
	"encoding/json"
	"fmt"
)

// Event is the interface for all events received from the speech service.
type Event interface {
	// EventType returns the wire type string of the event.
	EventType() string
}

// SessionCreatedEvent is emitted once after the transport opens and the remote
// session is live.
type SessionCreatedEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// SessionUpdatedEvent confirms a session.update command, including changes to
// server-side turn detection.
type SessionUpdatedEvent struct {
	SessionID     string         `json:"session_id"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

func (e *SessionUpdatedEvent) EventType() string { return "session.updated" }

// ResponseCreatedEvent marks the start of a model response.
type ResponseCreatedEvent struct {
	ResponseID string `json:"response_id"`
}

func (e *ResponseCreatedEvent) EventType() string { return "response.created" }

// ResponseTextDeltaEvent carries an incremental output-text chunk.
type ResponseTextDeltaEvent struct {
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
}

func (e *ResponseTextDeltaEvent) EventType() string { return "response.output_text.delta" }

// ResponseTextDoneEvent marks the end of the output-text stream.
type ResponseTextDoneEvent struct {
	ResponseID string `json:"response_id"`
	Text       string `json:"text,omitempty"`
}

func (e *ResponseTextDoneEvent) EventType() string { return "response.output_text.done" }

// ResponseAudioDeltaEvent carries a base64-encoded audio chunk.
type ResponseAudioDeltaEvent struct {
	ResponseID string `json:"response_id"`
	Audio      []byte `json:"audio"`
}

func (e *ResponseAudioDeltaEvent) EventType() string { return "response.audio.delta" }

// ResponseAudioDoneEvent marks the end of the audio stream for a response.
type ResponseAudioDoneEvent struct {
	ResponseID string `json:"response_id"`
}

func (e *ResponseAudioDoneEvent) EventType() string { return "response.audio.done" }

// ResponseTranscriptDeltaEvent carries an incremental transcript of the
// model's own audio output.
type ResponseTranscriptDeltaEvent struct {
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
}

func (e *ResponseTranscriptDeltaEvent) EventType() string {
	return "response.audio_transcript.delta"
}

// ResponseTranscriptDoneEvent marks the end of the output transcript.
type ResponseTranscriptDoneEvent struct {
	ResponseID string `json:"response_id"`
	Transcript string `json:"transcript,omitempty"`
}

func (e *ResponseTranscriptDoneEvent) EventType() string {
	return "response.audio_transcript.done"
}

// ResponseCompletedEvent marks normal completion of a response.
type ResponseCompletedEvent struct {
	ResponseID string `json:"response_id"`
}

func (e *ResponseCompletedEvent) EventType() string { return "response.completed" }

// ResponseFailedEvent marks abnormal termination of a response.
type ResponseFailedEvent struct {
	ResponseID string `json:"response_id"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *ResponseFailedEvent) EventType() string { return "response.failed" }

// ResponseCanceledEvent marks a response cancelled by a client command.
type ResponseCanceledEvent struct {
	ResponseID string `json:"response_id"`
}

func (e *ResponseCanceledEvent) EventType() string { return "response.canceled" }

// SpeechStartedEvent is emitted by server-side voice-activity detection when
// speech begins in the input audio buffer.
type SpeechStartedEvent struct {
	AudioStartMs int `json:"audio_start_ms,omitempty"`
}

func (e *SpeechStartedEvent) EventType() string { return "input_audio_buffer.speech_started" }

// SpeechStoppedEvent is emitted when server-side voice-activity detection
// decides the speaker has stopped.
type SpeechStoppedEvent struct {
	AudioEndMs int `json:"audio_end_ms,omitempty"`
}

func (e *SpeechStoppedEvent) EventType() string { return "input_audio_buffer.speech_stopped" }

// ConversationItemCreatedEvent acknowledges an item appended to the
// conversation, whether by the client or by the server.
type ConversationItemCreatedEvent struct {
	ItemID string `json:"item_id"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
}

func (e *ConversationItemCreatedEvent) EventType() string { return "conversation.item.created" }

// ErrorEvent carries a protocol or service error.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// UnknownEvent preserves events this client does not model. They are passed
// through so a dispatcher can log them instead of silently dropping.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e *UnknownEvent) EventType() string { return e.Type }

// envelope is the minimal wire framing shared by all events.
type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses one wire frame from the speech service.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}

	var evt Event
	switch env.Type {
	case "session.created":
		evt = &SessionCreatedEvent{}
	case "session.updated":
		evt = &SessionUpdatedEvent{}
	case "response.created":
		evt = &ResponseCreatedEvent{}
	case "response.output_text.delta":
		evt = &ResponseTextDeltaEvent{}
	case "response.output_text.done":
		evt = &ResponseTextDoneEvent{}
	case "response.audio.delta":
		evt = &ResponseAudioDeltaEvent{}
	case "response.audio.done":
		evt = &ResponseAudioDoneEvent{}
	case "response.audio_transcript.delta":
		evt = &ResponseTranscriptDeltaEvent{}
	case "response.audio_transcript.done":
		evt = &ResponseTranscriptDoneEvent{}
	case "response.completed":
		evt = &ResponseCompletedEvent{}
	case "response.failed":
		evt = &ResponseFailedEvent{}
	case "response.canceled":
		evt = &ResponseCanceledEvent{}
	case "input_audio_buffer.speech_started":
		evt = &SpeechStartedEvent{}
	case "input_audio_buffer.speech_stopped":
		evt = &SpeechStoppedEvent{}
	case "conversation.item.created":
		evt = &ConversationItemCreatedEvent{}
	case "error":
		evt = &ErrorEvent{}
	default:
		return &UnknownEvent{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return evt, nil
}

// Command is the interface for all client-to-service messages.
type Command interface {
	// CommandType returns the wire type string of the command.
	CommandType() string
}

// TurnDetection configures server-side voice-activity turn detection.
// A nil TurnDetection in SessionUpdateCommand disables auto-response.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// SessionUpdateCommand updates the live session configuration.
type SessionUpdateCommand struct {
	Instructions  string         `json:"instructions,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection"`
}

func (c *SessionUpdateCommand) CommandType() string { return "session.update" }

// InputBufferClearCommand discards any uncommitted microphone audio.
type InputBufferClearCommand struct{}

func (c *InputBufferClearCommand) CommandType() string { return "input_audio_buffer.clear" }

// ItemCreateCommand appends an item to the conversation.
type ItemCreateCommand struct {
	ItemID string `json:"item_id,omitempty"`
	Role   string `json:"role"`
	Text   string `json:"text"`
	// Silent items must not trigger a response and are not spoken aloud.
	Silent bool `json:"silent,omitempty"`
}

func (c *ItemCreateCommand) CommandType() string { return "conversation.item.create" }

// ResponseCreateCommand asks the model to produce a response now.
type ResponseCreateCommand struct{}

func (c *ResponseCreateCommand) CommandType() string { return "response.create" }

// ResponseCancelCommand cancels the in-flight response, if any.
type ResponseCancelCommand struct{}

func (c *ResponseCancelCommand) CommandType() string { return "response.cancel" }

// EncodeCommand serializes a command into one wire frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}

	// Splice the type discriminator into the marshalled object.
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	typ, _ := json.Marshal(cmd.CommandType())
	merged["type"] = typ
	return json.Marshal(merged)
}
