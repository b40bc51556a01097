package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"chatbot/internal/bootstrap"
	"chatbot/internal/domain"
)

const (
	eventState = "chatbot:state"
	eventInit  = "chatbot:init"
	eventError = "chatbot:error"
)

type errorCode string

const (
	errorCodeStartup      errorCode = "startup"
	errorCodeChat         errorCode = "chat"
	errorCodeConversation errorCode = "conversation"
)

var errNoConversation = errors.New("no conversation is open")

// App is the Wails application root. It is also the state sink of the open conversation.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	services *bootstrap.Services
	bootErr  error

	// openMu serializes replacing the open conversation.
	openMu       sync.Mutex
	mu           sync.Mutex
	conversation *bootstrap.Conversation
	stopInit     func()
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build()
	if err != nil {
		a.bootErr = err
		a.reportError(errorCodeStartup, err.Error())
		return
	}
	a.services = services
	a.stopInit = services.Initializer.Subscribe(a.initStateChanged)

	go func() {
		if err := services.Initializer.Initialize(ctx); err != nil {
			services.Logger.Warn().Err(err).Msg("chat initialization failed")
		}
	}()
}

func (a *App) shutdown(_ context.Context) {
	a.CloseConversation()
	if a.stopInit != nil {
		a.stopInit()
	}
	if a.services != nil {
		if err := a.services.Close(); err != nil {
			a.services.Logger.Warn().Err(err).Msg("shutdown incomplete")
		}
	}
}

// GetCredentials returns the stored chat credentials for the setup screen.
func (a *App) GetCredentials() (domain.Credentials, error) {
	if err := a.requireReady(); err != nil {
		return domain.Credentials{}, err
	}
	return a.services.Credentials.Load(a.ctx)
}

// SaveCredentials stores the credentials and reconnects the chat session with them.
func (a *App) SaveCredentials(appID, userID string) (map[string]string, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	creds := domain.Credentials{AppID: strings.TrimSpace(appID), UserID: strings.TrimSpace(userID)}
	if err := a.services.Credentials.Save(a.ctx, creds); err != nil {
		a.reportError(errorCodeChat, err.Error())
		return nil, err
	}

	return a.reconnect(), nil
}

// SaveAccessToken stores the session token of the saved user and reconnects with it.
// An empty token removes the stored one.
func (a *App) SaveAccessToken(token string) (map[string]string, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	creds, err := a.services.Credentials.Load(a.ctx)
	if err != nil {
		return nil, err
	}
	if creds.UserID == "" {
		return nil, domain.ErrMissingCredentials
	}
	if err := a.services.Tokens.SetToken(creds.UserID, strings.TrimSpace(token)); err != nil {
		a.reportError(errorCodeChat, err.Error())
		return nil, err
	}
	return a.reconnect(), nil
}

func (a *App) reconnect() map[string]string {
	a.openMu.Lock()
	a.CloseConversation()
	a.openMu.Unlock()

	if err := a.services.Initializer.Initialize(a.ctx); err != nil {
		a.reportError(errorCodeChat, err.Error())
	}
	return a.GetInitState()
}

// GetInitState returns the chat session bootstrap state.
func (a *App) GetInitState() map[string]string {
	if a.services == nil {
		if a.bootErr != nil {
			return initPayload(domain.InitStateFailed, a.bootErr)
		}
		return initPayload(domain.InitStateUninitialized, nil)
	}
	return initPayload(a.services.Initializer.State(), a.services.Initializer.Err())
}

// OpenConversation binds the voice screen to channelURL, disposing any previous conversation.
func (a *App) OpenConversation(channelURL string) (domain.ConversationState, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationState{}, err
	}

	a.openMu.Lock()
	defer a.openMu.Unlock()

	a.CloseConversation()
	conversation, err := a.services.NewConversation(channelURL, a)
	if err != nil {
		a.reportError(errorCodeConversation, err.Error())
		return domain.ConversationState{}, err
	}

	a.mu.Lock()
	displaced := a.conversation
	a.conversation = conversation
	a.mu.Unlock()
	if displaced != nil {
		displaced.Close()
	}
	return conversation.State(), nil
}

// RequestMicrophonePermission reports the outcome of the microphone permission prompt.
func (a *App) RequestMicrophonePermission(granted bool) error {
	conversation, err := a.current()
	if err != nil {
		return err
	}
	conversation.RequestMicrophonePermission(granted)
	return nil
}

func (a *App) StartListening() error {
	conversation, err := a.current()
	if err != nil {
		return err
	}
	conversation.StartListening()
	return nil
}

func (a *App) StopListening() error {
	conversation, err := a.current()
	if err != nil {
		return err
	}
	conversation.StopListening()
	return nil
}

func (a *App) StopSpeaking() error {
	conversation, err := a.current()
	if err != nil {
		return err
	}
	conversation.StopSpeaking()
	return nil
}

// HandleBack reports whether the back action was consumed by the conversation.
// When it returns false the screen should navigate away.
func (a *App) HandleBack() bool {
	conversation, err := a.current()
	if err != nil {
		return false
	}
	return conversation.HandleBackNavigation()
}

// CloseConversation disposes the open conversation, if any.
func (a *App) CloseConversation() {
	a.mu.Lock()
	conversation := a.conversation
	a.conversation = nil
	a.mu.Unlock()

	if conversation != nil {
		conversation.Close()
	}
}

// GetState returns the open conversation's state.
func (a *App) GetState() (domain.ConversationState, error) {
	conversation, err := a.current()
	if err != nil {
		return domain.ConversationState{}, err
	}
	return conversation.State(), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"provider":         "Deepgram",
		"model":            cfg.Deepgram.Model,
		"language":         cfg.Deepgram.Language,
		"tts":              strings.Join(a.services.TTSNames, ", "),
		"rulesFile":        cfg.Rules.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"configFile":       cfg.File,
		"metrics":          cfg.Metrics.Addr,
	}
	if conversation, err := a.current(); err == nil {
		info["channel"] = conversation.ChannelURL()
	}
	return info
}

// StateChanged emits every conversation state to the voice screen.
func (a *App) StateChanged(state domain.ConversationState) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventState, state)
}

func (a *App) initStateChanged(state domain.InitState) {
	if a.ctx == nil || a.services == nil {
		return
	}
	a.emit(a.ctx, eventInit, initPayload(state, a.services.Initializer.Err()))
}

func (a *App) reportError(code errorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) current() (*bootstrap.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conversation == nil {
		return nil, errNoConversation
	}
	return a.conversation, nil
}

func initPayload(state domain.InitState, err error) map[string]string {
	payload := map[string]string{"state": string(state)}
	if err != nil && state == domain.InitStateFailed {
		payload["error"] = err.Error()
	}
	return payload
}

func errorMessage(code errorCode, detail string) string {
	switch code {
	case errorCodeStartup:
		return "Startup failed"
	case errorCodeChat:
		return "Chat connection failed"
	case errorCodeConversation:
		return "Conversation unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
