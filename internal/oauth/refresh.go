package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/replyloop/mail-connect/internal/database"
)

// StalenessThreshold is the buffer before expiry at which a stored access
// token is refreshed proactively instead of being handed out
const StalenessThreshold = 300 * time.Second

var (
	// ErrNotConnected means no credential exists; the caller must run the
	// linking flow first
	ErrNotConnected = errors.New("mailbox not connected")

	// ErrRefreshFailed means the provider rejected the refresh; the stored
	// credential is kept since the failure may be transient
	ErrRefreshFailed = errors.New("failed to refresh access token")
)

// FreshToken is a currently-usable access token for a linked mailbox
type FreshToken struct {
	AccessToken  string
	TokenExpiry  time.Time
	Email        string
	WasRefreshed bool
}

// ExpiresIn returns the whole seconds until the token expires
func (t *FreshToken) ExpiresIn() int64 {
	return int64(time.Until(t.TokenExpiry).Seconds())
}

// Refresher produces valid access tokens for stored credentials,
// transparently renewing them near expiry
type Refresher struct {
	db        *database.DB
	providers Registry
	client    *http.Client
	now       func() time.Time
}

// NewRefresher creates a token refresher over the credential store
func NewRefresher(db *database.DB, providers Registry) *Refresher {
	return &Refresher{
		db:        db,
		providers: providers,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

// EnsureFreshToken returns a usable access token for (user, provider),
// calling the provider's token endpoint only when the stored token is within
// the staleness threshold of expiry. Safe to call concurrently for the same
// user: both callers may refresh, the last persisted token wins.
func (r *Refresher) EnsureFreshToken(ctx context.Context, userID, providerName string) (*FreshToken, error) {
	cred, err := r.db.GetCredential(userID, providerName)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: no %s credential for user", ErrNotConnected, providerName)
	}

	if r.now().Before(cred.TokenExpiry.Add(-StalenessThreshold)) {
		return &FreshToken{
			AccessToken: cred.AccessToken,
			TokenExpiry: cred.TokenExpiry,
			Email:       cred.Email,
		}, nil
	}

	log.Printf("Access token for %s/%s expiring soon, refreshing", userID, providerName)
	refreshed, err := r.refresh(ctx, cred)
	if err != nil {
		return nil, err
	}

	saved, err := r.db.UpsertCredential(refreshed)
	if err != nil {
		return nil, err
	}

	return &FreshToken{
		AccessToken:  saved.AccessToken,
		TokenExpiry:  saved.TokenExpiry,
		Email:        saved.Email,
		WasRefreshed: true,
	}, nil
}

// refresh performs a single refresh_token grant against the provider
func (r *Refresher) refresh(ctx context.Context, cred *database.Credential) (*database.Credential, error) {
	provider, err := r.providers.Get(cred.Provider)
	if err != nil {
		return nil, err
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed)
	}

	form := url.Values{
		"client_id":     {provider.Config.ClientID},
		"client_secret": {provider.Config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		provider.Config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		log.Printf("Refresh rejected by %s (status %d): %s", cred.Provider, resp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: provider returned status %d: %s", ErrRefreshFailed, resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid provider response: %v", ErrRefreshFailed, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider response missing access_token", ErrRefreshFailed)
	}
	if payload.ExpiresIn == 0 {
		payload.ExpiresIn = 3600
	}

	// RefreshToken stays empty when the provider omits it; the store keeps
	// the previous value in that case
	return &database.Credential{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenExpiry:  r.now().Add(time.Duration(payload.ExpiresIn) * time.Second).UTC(),
		Email:        cred.Email,
	}, nil
}
