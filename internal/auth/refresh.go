package auth

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Public OAuth client of the Gemini CLI; accounts are authorized against it
// during login, so refresh must use the same client.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

// ErrInvalidGrant tags refresh failures caused by a revoked or expired
// refresh token; the pool disables the account on it.
type ErrInvalidGrant struct {
	Underlying error
}

func (e *ErrInvalidGrant) Error() string {
	return "refresh token rejected: " + e.Underlying.Error()
}

func (e *ErrInvalidGrant) Unwrap() error { return e.Underlying }

// Refresher exchanges refresh tokens for fresh access tokens.
type Refresher interface {
	Refresh(ctx context.Context, account *Account) (*TokenBundle, error)
}

// OAuthRefresher refreshes against the Google OAuth token endpoint.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates the production refresher.
func NewOAuthRefresher() *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     oauthClientID,
			ClientSecret: oauthClientSecret,
			Endpoint:     google.Endpoint,
		},
	}
}

// Refresh exchanges the account's refresh token. An invalid_grant reply is
// wrapped in *ErrInvalidGrant so the caller can disable the account.
//
// Parameters:
//   - ctx: The request context
//   - account: The account whose token to refresh
//
// Returns:
//   - *TokenBundle: The fresh credentials
//   - error: The refresh failure, if any
func (r *OAuthRefresher) Refresh(ctx context.Context, account *Account) (*TokenBundle, error) {
	source := r.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: account.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	})
	token, err := source.Token()
	if err != nil {
		if strings.Contains(err.Error(), "invalid_grant") {
			return nil, &ErrInvalidGrant{Underlying: err}
		}
		return nil, err
	}

	bundle := &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = account.RefreshToken
	}
	log.Debugf("refreshed token for account %s, expires %s", account.Email, bundle.Expiry.Format(time.RFC3339))
	return bundle, nil
}
