package event

import (
	"encoding/json"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
)

// Kind names an event crossing the websocket boundary.
type Kind string

const (
	ChatJoined          Kind = "CHAT_JOINED"
	ChatLeft            Kind = "CHAT_LEAVED"
	StartTyping         Kind = "START_TYPING"
	StopTyping          Kind = "STOP_TYPING"
	NewMessage          Kind = "NEW_MESSAGE"
	NewMessageAlert     Kind = "NEW_MESSAGE_ALERT"
	OnlineUsers         Kind = "ONLINE_USERS"
	TranscriptionStart  Kind = "TRANSCRIPTION_START"
	TranscriptionAudio  Kind = "TRANSCRIPTION_AUDIO"
	TranscriptionStop   Kind = "TRANSCRIPTION_STOP"
	TranscriptionResult Kind = "TRANSCRIPTION_RESULT"
	TranscriptionError  Kind = "TRANSCRIPTION_ERROR"
	GenerateAudio       Kind = "GENERATE_AUDIO"
	AudioGenerated      Kind = "AUDIO_GENERATED"
	AudioError          Kind = "AUDIO_ERROR"
	Error               Kind = "ERROR"
)

// Event is an outbound frame addressed to one session.
type Event struct {
	Kind      Kind  `json:"type"`
	Data      any   `json:"data,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// Inbound is a frame read from a client before its payload is decoded.
type Inbound struct {
	Kind      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// MembershipPayload is carried by CHAT_JOINED and CHAT_LEAVED.
type MembershipPayload struct {
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}

// TypingPayload is carried by START_TYPING and STOP_TYPING.
type TypingPayload struct {
	ChatID  string   `json:"chatId"`
	Members []string `json:"members"`
}

// SendMessagePayload is the client's NEW_MESSAGE submission.
type SendMessagePayload struct {
	ChatID  string   `json:"chatId"`
	Members []string `json:"members"`
	Message string   `json:"message"`
}

// MessagePayload is the outbound NEW_MESSAGE frame.
type MessagePayload struct {
	ChatID  string        `json:"chatId"`
	Message chat.Envelope `json:"message"`
}

// ChatRef is the lightweight payload of typing and alert events.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// TranscriptionStartPayload optionally overrides the user's language.
type TranscriptionStartPayload struct {
	Language string `json:"language,omitempty"`
}

// AudioFramePayload carries raw float samples in [-1, 1].
type AudioFramePayload struct {
	Audio []float32 `json:"audio"`
}

// TranscriptPayload is emitted for every final transcript.
type TranscriptPayload struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// GenerateAudioPayload requests text-to-speech for content.
type GenerateAudioPayload struct {
	Content string `json:"content"`
}

// AudioPayload returns synthesized audio as base64.
type AudioPayload struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
}

// ErrorPayload reports a failure to the originating session only.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NoticePayload is carried by ERROR frames for malformed or unknown input.
type NoticePayload struct {
	Message string `json:"message"`
}
