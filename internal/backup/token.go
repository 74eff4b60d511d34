package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// expiryDelta matches the oauth2 package: treat a token as expired slightly early.
const expiryDelta = 10 * time.Second

// Refresher exchanges a refresh token for a new access token. A rejected
// grant is reported as a *RemoteError with KindInvalidGrant.
type Refresher interface {
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error)
}

// CredentialSaver persists a refreshed credential.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, credential string) error
}

// OAuthRefresher refreshes against a standard OAuth2 token endpoint.
type OAuthRefresher struct {
	Endpoint oauth2.Endpoint
	Scopes   []string
	Timeout  time.Duration
}

// NewGoogleRefresher returns a refresher for Google's token endpoint.
func NewGoogleRefresher(timeout time.Duration) *OAuthRefresher {
	return &OAuthRefresher{Endpoint: google.Endpoint, Scopes: DriveScopes, Timeout: timeout}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     r.Endpoint,
		Scopes:       r.Scopes,
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, refreshError(err)
	}
	return tok, nil
}

func refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &RemoteError{Kind: KindNetwork, Op: "refresh credential", Err: err}
		}
		return &RemoteError{Kind: KindInvalidGrant, Op: "refresh credential", Err: err}
	}
	if isTransient(err) {
		return &RemoteError{Kind: KindNetwork, Op: "refresh credential", Err: err}
	}
	return &RemoteError{Kind: KindInvalidGrant, Op: "refresh credential", Err: err}
}

// TokenManager decodes the stored credential and refreshes it when expired.
type TokenManager struct {
	refresher Refresher
	saver     CredentialSaver
	now       func() time.Time
	logger    *slog.Logger
}

func NewTokenManager(refresher Refresher, saver CredentialSaver, now func() time.Time, logger *slog.Logger) *TokenManager {
	if now == nil {
		now = time.Now
	}
	return &TokenManager{refresher: refresher, saver: saver, now: now, logger: logger}
}

// Resolve returns a usable credential for one attempt. A refreshed token is
// saved before Resolve returns, so a later attempt starts from it. Refresh
// failures are not retried.
func (m *TokenManager) Resolve(ctx context.Context, policy model.BackupPolicy) (Credential, error) {
	cred, err := ParseCredential(policy.Credential)
	if err != nil {
		return Credential{}, &RemoteError{Kind: KindInvalidGrant, Op: "load credential", Err: err}
	}
	if cred.Token == nil || !m.expired(cred.Token) || cred.Token.RefreshToken == "" {
		return cred, nil
	}

	if strings.TrimSpace(policy.ClientID) == "" || strings.TrimSpace(policy.ClientSecret) == "" {
		return Credential{}, fmt.Errorf("%w: oauth client id or secret missing", ErrNotConfigured)
	}

	tok, err := m.refresher.Refresh(ctx, policy.ClientID, policy.ClientSecret, cred.Token.RefreshToken)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Kind == KindNetwork {
			return Credential{}, err
		}
		if re == nil || re.Kind != KindInvalidGrant {
			err = &RemoteError{Kind: KindInvalidGrant, Op: "refresh credential", Err: err}
		}
		m.logger.Error("credential refresh failed", "error", err)
		return Credential{}, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = cred.Token.RefreshToken
	}
	cred.Token = tok

	blob, err := cred.Encode()
	if err != nil {
		return Credential{}, &LocalError{Op: "encode refreshed credential", Err: err}
	}
	if err := m.saver.SaveCredential(ctx, blob); err != nil {
		return Credential{}, &LocalError{Op: "save refreshed credential", Err: err}
	}
	m.logger.Info("credential refreshed", "expiry", tok.Expiry)
	return cred, nil
}

func (m *TokenManager) expired(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.Round(0).Add(-expiryDelta).After(m.now())
}
