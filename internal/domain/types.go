package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationID is an opaque backend identifier. The backend emits integers,
// but the client never does arithmetic on them.
type ConversationID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ConversationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ConversationID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("conversation id must be a string or number")
	}
	*id = ConversationID(n.String())
	return nil
}

func (id ConversationID) String() string { return string(id) }

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID    ConversationID `json:"id"`
	Title string         `json:"title"`
}

// Media is a binary payload rendered as a message (synthesized audio, generated image).
type Media struct {
	MIMEType string `json:"mimeType"`
	Filename string `json:"filename"`
	Data     []byte `json:"-"`
}

// Message is one rendered entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Media   *Media `json:"media,omitempty"`
}

// IsMedia reports whether the message carries a binary payload instead of text.
func (m Message) IsMedia() bool { return m.Media != nil }

// RecordingState models the voice capture lifecycle.
type RecordingState string

const (
	RecordingStateIdle       RecordingState = "idle"
	RecordingStateRecording  RecordingState = "recording"
	RecordingStateFinalizing RecordingState = "finalizing"
)

// RecordingReason explains a recording state transition.
type RecordingReason string

const (
	RecordingReasonStarted          RecordingReason = "recording_started"
	RecordingReasonTranscribing     RecordingReason = "transcribing"
	RecordingReasonTranscribed      RecordingReason = "transcribed"
	RecordingReasonFailed           RecordingReason = "transcription_failed"
	RecordingReasonDiscarded        RecordingReason = "recording_discarded"
	RecordingReasonBusyDiscarded    RecordingReason = "busy_discarded"
	RecordingReasonDeviceFailed     RecordingReason = "device_failed"
	RecordingReasonEmptyCapture     RecordingReason = "empty_capture"
	RecordingReasonCaptionsDegraded RecordingReason = "captions_degraded"
)

// Operation identifies a gated, dispatched user action.
type Operation string

const (
	OperationSendText Operation = "send_text"
	OperationSTT      Operation = "speech_to_text"
	OperationTTS      Operation = "text_to_speech"
	OperationImage    Operation = "image_generation"
)

// ErrorCode identifies user-visible notices that are not chat messages.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeAuth         ErrorCode = "auth"
	ErrorCodeDevice       ErrorCode = "device"
	ErrorCodeNoChat       ErrorCode = "no_conversation"
	ErrorCodeConversation ErrorCode = "conversation"
	ErrorCodeCaptions     ErrorCode = "captions"
)

// Affordances are the enabled flags of the action controls.
type Affordances struct {
	Send       bool   `json:"send"`
	Input      bool   `json:"input"`
	Voice      bool   `json:"voice"`
	Speech     bool   `json:"speech"`
	Image      bool   `json:"image"`
	VoiceLabel string `json:"voiceLabel"`
}

const (
	VoiceLabelStart = "Speech to Text"
	VoiceLabelStop  = "Stop Recording"
)

// AffordancesFor derives control presentation from the gate and the recorder.
// Stop is always available while recording; everything else follows the gate.
func AffordancesFor(busy bool, recording RecordingState) Affordances {
	a := Affordances{
		Send:       !busy,
		Input:      !busy,
		Voice:      !busy,
		Speech:     !busy,
		Image:      !busy,
		VoiceLabel: VoiceLabelStart,
	}
	if recording == RecordingStateRecording {
		a.Voice = true
		a.VoiceLabel = VoiceLabelStop
	}
	return a
}

// Status summarizes the client state for the UI.
type Status struct {
	LoggedIn             bool           `json:"loggedIn"`
	ActiveConversationID ConversationID `json:"activeConversationId,omitempty"`
	Busy                 bool           `json:"busy"`
	Recording            RecordingState `json:"recording"`
	Affordances          Affordances    `json:"affordances"`
	Message              string         `json:"message,omitempty"`
}

// CaptionKind distinguishes interim captions from settled ones.
type CaptionKind string

const (
	CaptionKindInterim CaptionKind = "interim"
	CaptionKindFinal   CaptionKind = "final"
)

// CaptionEvent is one live caption update produced while recording.
type CaptionEvent struct {
	Kind CaptionKind `json:"kind"`
	Text string      `json:"text"`
}
