package oauth

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/replyloop/mail-connect/internal/config"
	"github.com/replyloop/mail-connect/internal/database"
)

// Provider bundles everything needed to drive one OAuth provider: the
// authorization/token endpoints, the identity endpoint the linked address is
// read from, and the extra authorization parameters the provider wants.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	IdentityURL string
	AuthOptions []oauth2.AuthCodeOption
	DisplayName string
}

// Registry holds the configured providers keyed by name
type Registry map[string]*Provider

// NewRegistry builds the provider registry from configuration. Providers
// without client credentials are left out and fail lookup at request time.
func NewRegistry(cfg *config.Config) Registry {
	reg := Registry{}

	if cfg.Google.ClientID != "" {
		reg[database.ProviderGmail] = &Provider{
			Name: database.ProviderGmail,
			Config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Server.BaseURL + "/oauth/gmail/callback",
				Scopes: []string{
					"openid",
					"email",
					"profile",
					"https://mail.google.com/",
				},
				Endpoint: google.Endpoint,
			},
			IdentityURL: "https://www.googleapis.com/oauth2/v2/userinfo",
			// Offline access plus forced consent, otherwise Google only
			// returns a refresh token on the very first grant
			AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
			DisplayName: "Gmail",
		}
	}

	if cfg.Microsoft.ClientID != "" {
		reg[database.ProviderOutlook] = &Provider{
			Name: database.ProviderOutlook,
			Config: &oauth2.Config{
				ClientID:     cfg.Microsoft.ClientID,
				ClientSecret: cfg.Microsoft.ClientSecret,
				RedirectURL:  cfg.Server.BaseURL + "/oauth/outlook/callback",
				Scopes: []string{
					"openid",
					"profile",
					"email",
					"offline_access",
					"https://graph.microsoft.com/User.Read",
					"https://outlook.office.com/IMAP.AccessAsUser.All",
				},
				Endpoint: microsoft.AzureADEndpoint(cfg.Microsoft.Tenant),
			},
			IdentityURL: "https://graph.microsoft.com/v1.0/me",
			AuthOptions: []oauth2.AuthCodeOption{
				oauth2.SetAuthURLParam("response_mode", "query"),
				oauth2.SetAuthURLParam("prompt", "login"),
			},
			DisplayName: "Outlook",
		}
	}

	return reg
}

// Get returns the named provider or an error when it is not configured
func (r Registry) Get(name string) (*Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}
