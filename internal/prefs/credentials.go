package prefs

import (
	"context"
	"fmt"
	"strings"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

const (
	KeyAppID  = "sendbird_app_id"
	KeyUserID = "sendbird_user_id"
)

// CredentialsRepository maps the chat credentials onto preference keys.
type CredentialsRepository struct {
	prefs ports.Preferences
}

func NewCredentialsRepository(prefs ports.Preferences) *CredentialsRepository {
	return &CredentialsRepository{prefs: prefs}
}

func (r *CredentialsRepository) Load(ctx context.Context) (domain.Credentials, error) {
	appID, err := r.prefs.Get(ctx, KeyAppID)
	if err != nil {
		return domain.Credentials{}, err
	}
	userID, err := r.prefs.Get(ctx, KeyUserID)
	if err != nil {
		return domain.Credentials{}, err
	}
	return domain.Credentials{AppID: strings.TrimSpace(appID), UserID: strings.TrimSpace(userID)}, nil
}

// Save stores both identifiers. Blank values are stored as entered so that the next
// initialization reports the missing field.
func (r *CredentialsRepository) Save(ctx context.Context, creds domain.Credentials) error {
	if err := r.prefs.Set(ctx, KeyAppID, strings.TrimSpace(creds.AppID)); err != nil {
		return fmt.Errorf("save app id: %w", err)
	}
	if err := r.prefs.Set(ctx, KeyUserID, strings.TrimSpace(creds.UserID)); err != nil {
		return fmt.Errorf("save user id: %w", err)
	}
	return nil
}
