package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateTTL bounds how long an authorization round-trip through the provider
// may take before the state is rejected
const stateTTL = 10 * time.Minute

// stateClaims carries the session-correlation data through the provider
// redirect. The token is HMAC-signed; a tampered or expired state fails
// verification instead of impersonating another user.
type stateClaims struct {
	RedirectURL string `json:"redirect_url"`
	jwt.RegisteredClaims
}

// ErrInvalidState means the state parameter failed signature or expiry
// checks; the callback carries no trustworthy session
var ErrInvalidState = errors.New("invalid state")

// StateSigner signs and verifies the opaque state parameter of the
// authorization-code handshake
type StateSigner struct {
	secret []byte
}

// NewStateSigner creates a signer with the given HMAC secret
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret)}
}

// Sign produces a short-lived state token binding the flow to the user who
// initiated it and the page the popup should report back to
func (s *StateSigner) Sign(userID, redirectURL string) (string, error) {
	now := time.Now()
	claims := stateClaims{
		RedirectURL: redirectURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify checks the state signature and expiry and recovers the user ID and
// redirect URL carried at init time
func (s *StateSigner) Verify(state string) (userID, redirectURL string, err error) {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", "", ErrInvalidState
	}
	return claims.Subject, claims.RedirectURL, nil
}

// Origin reduces a redirect URL to the origin the callback page is allowed
// to post its completion message to
func Origin(redirectURL string) string {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
