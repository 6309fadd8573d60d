package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/replyloop/mail-connect/internal/database"
)

// ErrMissingParams is returned when the provider redirect lacks the code or
// state query parameter
var ErrMissingParams = errors.New("missing code or state parameter")

// LinkResult reports a completed handshake back to the HTTP layer
type LinkResult struct {
	Provider string
	Email    string
	// Origin the callback page may post its completion message to
	Origin string
}

// Flow drives the three-step authorization-code handshake that links a
// mailbox: init builds the consent URL, the provider handles consent, the
// callback exchanges the code and persists the credential
type Flow struct {
	db        *database.DB
	providers Registry
	state     *StateSigner
	client    *http.Client
}

// NewFlow creates the linking flow
func NewFlow(db *database.DB, providers Registry, state *StateSigner) *Flow {
	return &Flow{
		db:        db,
		providers: providers,
		state:     state,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Init returns the provider authorization URL for an authenticated user.
// The state parameter is a signed token carrying the user and the page the
// popup reports back to; nothing is persisted at this step.
func (f *Flow) Init(userID, providerName, redirectURL string) (string, error) {
	provider, err := f.providers.Get(providerName)
	if err != nil {
		return "", err
	}

	state, err := f.state.Sign(userID, redirectURL)
	if err != nil {
		return "", err
	}

	return provider.Config.AuthCodeURL(state, provider.AuthOptions...), nil
}

// VerifyState exposes state verification to the HTTP layer, which needs the
// redirect origin for error pages before the full callback runs
func (f *Flow) VerifyState(state string) (userID, redirectURL string, err error) {
	return f.state.Verify(state)
}

// HandleCallback completes the handshake: verifies state, exchanges the
// code, reads the mailbox address from the identity endpoint, and persists
// the credential together with its email configuration in one transaction.
func (f *Flow) HandleCallback(ctx context.Context, providerName, code, state string) (*LinkResult, error) {
	if code == "" || state == "" {
		return nil, ErrMissingParams
	}

	provider, err := f.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	userID, redirectURL, err := f.state.Verify(state)
	if err != nil {
		return nil, err
	}

	token, err := provider.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	address, err := f.fetchIdentity(ctx, provider, token.AccessToken)
	if err != nil {
		return nil, err
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	cred := &database.Credential{
		UserID:       userID,
		Provider:     provider.Name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  expiry.UTC(),
		Email:        address,
	}

	displayName := fmt.Sprintf("%s - %s", provider.DisplayName, address)
	if err := f.db.LinkMailbox(cred, displayName); err != nil {
		return nil, err
	}

	log.Printf("Linked %s mailbox %s for user %s (refresh token present: %v)",
		provider.Name, address, userID, token.RefreshToken != "")

	return &LinkResult{
		Provider: provider.Name,
		Email:    address,
		Origin:   Origin(redirectURL),
	}, nil
}

// fetchIdentity reads the canonical mailbox address for the granted token
func (f *Flow) fetchIdentity(ctx context.Context, provider *Provider, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.IdentityURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity endpoint returned status %d", resp.StatusCode)
	}

	// Google reports the address as "email", Microsoft Graph as "mail"
	// with "userPrincipalName" as fallback for accounts without a mailbox
	var info struct {
		Email             string `json:"email"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode identity response: %w", err)
	}

	switch {
	case info.Email != "":
		return info.Email, nil
	case info.Mail != "":
		return info.Mail, nil
	case info.UserPrincipalName != "":
		return info.UserPrincipalName, nil
	}
	return "", fmt.Errorf("identity response contained no address")
}
