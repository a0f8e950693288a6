package model

import "time"

// Control message types exchanged with the voice-AI provider.
const (
	MessageTypeAudio                = "audio"
	MessageTypeTranscript           = "transcript"
	MessageTypeSystemPromptOverride = "system_prompt_override"
	MessageTypeFirstMessageOverride = "first_message_override"
)

// ControlMessage is the JSON envelope used on the voice-AI side of the relay.
type ControlMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// TranscriptEntry is one transcript line observed during a relayed call.
type TranscriptEntry struct {
	SessionID  string    `json:"session_id"`
	CallSID    string    `json:"call_sid"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}
