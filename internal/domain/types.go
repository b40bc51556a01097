package domain

// StateKind identifies the active phase of a voice conversation.
type StateKind string

const (
	StateNoPermission StateKind = "no_permission"
	StateIdle         StateKind = "idle"
	StateListening    StateKind = "listening"
	StateProcessing   StateKind = "processing"
	StateSending      StateKind = "sending"
	StateSpeaking     StateKind = "speaking"
	StateError        StateKind = "error"
)

// MaxProgress is the value at which a cooldown ramp hands control back to the microphone.
const MaxProgress = 100

// ConversationState is the tagged variant owned by the conversation controller.
// Only the fields belonging to Kind are meaningful; values are never mutated in place.
type ConversationState struct {
	Kind         StateKind `json:"kind"`
	SpokenText   string    `json:"spokenText,omitempty"`
	IsSpeaking   bool      `json:"isSpeaking,omitempty"`
	Progress     int       `json:"progress,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

func NoPermission() ConversationState { return ConversationState{Kind: StateNoPermission} }

func Idle() ConversationState { return ConversationState{Kind: StateIdle} }

func Listening() ConversationState { return ConversationState{Kind: StateListening} }

func Processing(spokenText string) ConversationState {
	return ConversationState{Kind: StateProcessing, SpokenText: spokenText}
}

func Sending(spokenText string) ConversationState {
	return ConversationState{Kind: StateSending, SpokenText: spokenText}
}

// Speaking builds a Speaking state. progress is clamped to [0, MaxProgress].
func Speaking(spokenText string, isSpeaking bool, progress int) ConversationState {
	if progress < 0 {
		progress = 0
	}
	if progress > MaxProgress {
		progress = MaxProgress
	}
	return ConversationState{Kind: StateSpeaking, SpokenText: spokenText, IsSpeaking: isSpeaking, Progress: progress}
}

func ErrorState(message string) ConversationState {
	return ConversationState{Kind: StateError, ErrorMessage: message}
}

// ActivelySpeaking reports whether speech output is currently vocalizing.
func (s ConversationState) ActivelySpeaking() bool {
	return s.Kind == StateSpeaking && s.IsSpeaking
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// ChatMessage is a text message observed on a chat channel.
type ChatMessage struct {
	ID         string `json:"id"`
	ChannelURL string `json:"channelUrl"`
	SenderID   string `json:"senderId"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// Credentials identify the chat application and the local user.
type Credentials struct {
	AppID  string `json:"appId"`
	UserID string `json:"userId"`
}

// Complete reports whether both identifiers are present.
func (c Credentials) Complete() bool {
	return c.AppID != "" && c.UserID != ""
}

// InitState models the chat session bootstrap lifecycle.
type InitState string

const (
	InitStateUninitialized InitState = "uninitialized"
	InitStateInitializing  InitState = "initializing"
	InitStateReady         InitState = "ready"
	InitStateFailed        InitState = "failed"
)
