package prefs

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService names the keyring entry holding session tokens.
const DefaultKeyringService = "chatbot"

// TokenVault keeps per-user chat session tokens in the OS keyring.
type TokenVault struct {
	service string
}

func NewTokenVault(service string) *TokenVault {
	if service == "" {
		service = DefaultKeyringService
	}
	return &TokenVault{service: service}
}

// Token returns the stored token for userID, or "" when none has been stored.
func (v *TokenVault) Token(userID string) (string, error) {
	token, err := keyring.Get(v.service, userID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	return token, nil
}

func (v *TokenVault) SetToken(userID, token string) error {
	if token == "" {
		return v.DeleteToken(userID)
	}
	if err := keyring.Set(v.service, userID, token); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	return nil
}

func (v *TokenVault) DeleteToken(userID string) error {
	err := keyring.Delete(v.service, userID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}
