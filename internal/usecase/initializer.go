package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

// ChatInitializer owns the chat session bootstrap and publishes its lifecycle.
type ChatInitializer struct {
	credentials ports.CredentialsStore
	tokens      ports.TokenStore
	connector   ports.ChatConnector
	logger      zerolog.Logger

	initMu    sync.Mutex
	connected bool

	mu          sync.Mutex
	state       domain.InitState
	lastErr     error
	nextID      uint64
	subscribers map[uint64]func(domain.InitState)
}

// NewChatInitializer returns an initializer in the uninitialized state. tokens may be nil.
func NewChatInitializer(credentials ports.CredentialsStore, tokens ports.TokenStore, connector ports.ChatConnector, logger zerolog.Logger) *ChatInitializer {
	return &ChatInitializer{
		credentials: credentials,
		tokens:      tokens,
		connector:   connector,
		logger:      logger.With().Str("component", "chat_init").Logger(),
		state:       domain.InitStateUninitialized,
		subscribers: make(map[uint64]func(domain.InitState)),
	}
}

func (i *ChatInitializer) State() domain.InitState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the cause of the last failed initialization.
func (i *ChatInitializer) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// Subscribe registers fn for every later state change. The returned func removes it.
func (i *ChatInitializer) Subscribe(fn func(domain.InitState)) (cancel func()) {
	i.mu.Lock()
	i.nextID++
	id := i.nextID
	i.subscribers[id] = fn
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.subscribers, id)
			i.mu.Unlock()
		})
	}
}

// Initialize connects the chat session with the stored credentials. Calling it again
// closes the previous session first.
func (i *ChatInitializer) Initialize(ctx context.Context) error {
	i.initMu.Lock()
	defer i.initMu.Unlock()

	if i.connected {
		if err := i.connector.Close(); err != nil {
			i.logger.Warn().Err(err).Msg("failed to close previous chat session")
		}
		i.connected = false
	}

	creds, err := i.credentials.Load(ctx)
	if err != nil {
		return i.fail(fmt.Errorf("load credentials: %w", err))
	}
	if !creds.Complete() {
		return i.fail(&domain.ConfigurationError{Field: "credentials", Err: domain.ErrMissingCredentials})
	}

	i.transition(domain.InitStateInitializing, nil)

	token := ""
	if i.tokens != nil {
		token, err = i.tokens.Token(creds.UserID)
		if err != nil {
			i.logger.Warn().Err(err).Msg("session token unavailable, connecting without it")
			token = ""
		}
	}

	if err := i.connector.Connect(ctx, creds, token); err != nil {
		return i.fail(fmt.Errorf("connect chat session: %w", err))
	}
	i.connected = true
	i.logger.Info().Str("user_id", creds.UserID).Msg("chat session ready")
	i.transition(domain.InitStateReady, nil)
	return nil
}

// Close tears down the chat session if one is open.
func (i *ChatInitializer) Close() error {
	i.initMu.Lock()
	defer i.initMu.Unlock()

	if !i.connected {
		return nil
	}
	i.connected = false
	i.transition(domain.InitStateUninitialized, nil)
	return i.connector.Close()
}

func (i *ChatInitializer) fail(err error) error {
	i.logger.Error().Err(err).Msg("chat initialization failed")
	i.transition(domain.InitStateFailed, err)
	return err
}

func (i *ChatInitializer) transition(next domain.InitState, err error) {
	i.mu.Lock()
	i.state = next
	i.lastErr = err
	subscribers := make([]func(domain.InitState), 0, len(i.subscribers))
	for _, fn := range i.subscribers {
		subscribers = append(subscribers, fn)
	}
	i.mu.Unlock()

	for _, fn := range subscribers {
		fn(next)
	}
}
