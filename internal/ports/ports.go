package ports

import (
	"context"
	"io"

	"chatbot/internal/domain"
)

// RecognitionListener receives speech recognizer callbacks for one session.
type RecognitionListener interface {
	OnRecognitionReady()
	OnRecognitionResult(candidates []string)
	OnRecognitionError(code domain.RecognitionErrorCode)
}

// SpeechInput turns microphone audio into recognized utterances.
// At most one recognition session is active at a time.
type SpeechInput interface {
	Begin(listener RecognitionListener)
	Stop()
	Close() error
}

// PlaybackListener is notified once per Speak call unless the utterance is interrupted.
type PlaybackListener interface {
	OnSpeechPlaybackDone()
}

// SpeechOutput vocalizes text.
type SpeechOutput interface {
	Speak(text string, listener PlaybackListener)
	Stop()
	Close() error
}

// MessageHandler receives messages delivered on a subscribed channel.
type MessageHandler func(message domain.ChatMessage)

// Subscription is a channel listener registration.
type Subscription interface {
	Unsubscribe()
}

// ChatChannel is the chat transport as seen by a conversation.
type ChatChannel interface {
	Send(ctx context.Context, channelURL string, text string) (domain.ChatMessage, error)
	Subscribe(channelURL string, handler MessageHandler) (Subscription, error)
	CurrentUserID() string
}

// ChatConnector establishes the chat session for a set of credentials.
type ChatConnector interface {
	Connect(ctx context.Context, creds domain.Credentials, accessToken string) error
	Close() error
}

// Preferences is a durable key/value store.
type Preferences interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// CredentialsStore persists the chat credentials entered by the user.
type CredentialsStore interface {
	Load(ctx context.Context) (domain.Credentials, error)
	Save(ctx context.Context, creds domain.Credentials) error
}

// TokenStore holds the optional chat session access token.
type TokenStore interface {
	Token(userID string) (string, error)
}

// StateSink observes every conversation state transition in order.
type StateSink interface {
	StateChanged(state domain.ConversationState)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioPlayer plays an encoded audio clip to completion or until ctx is cancelled.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Synthesizer converts text into an encoded audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// ConversationMetrics records conversation activity.
type ConversationMetrics interface {
	StateEntered(kind domain.StateKind)
	RecognitionFailed(code domain.RecognitionErrorCode)
	SendCompleted(err error)
}
