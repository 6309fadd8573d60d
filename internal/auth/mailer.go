package auth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/replyloop/mail-connect/internal/config"
)

// Mailer sends account emails via Mailgun
type Mailer struct {
	mg          mailgun.Mailgun
	domain      string
	fromAddress string
	siteDomain  string
}

// NewMailer creates a Mailgun-backed mailer. Returns (nil, nil) when no API
// key is configured so the caller can run without password-reset mail.
func NewMailer(cfg *config.Config) (*Mailer, error) {
	if cfg.Mailgun.APIKey == "" {
		return nil, nil // Mailgun not configured, return nil without error
	}

	if cfg.Mailgun.Domain == "" {
		return nil, fmt.Errorf("mailgun.domain is required when mailgun.apikey is set")
	}
	if cfg.Mailgun.SiteDomain == "" {
		return nil, fmt.Errorf("mailgun.sitedomain is required when mailgun.apikey is set")
	}
	if cfg.Mailgun.FromAddress == "" {
		return nil, fmt.Errorf("mailgun.fromaddress is required when mailgun.apikey is set")
	}

	// Validate that from address matches domain
	if !strings.HasSuffix(cfg.Mailgun.FromAddress, "@"+cfg.Mailgun.Domain) {
		return nil, fmt.Errorf("mailgun from address (%s) must use the mailgun domain (%s)",
			cfg.Mailgun.FromAddress, cfg.Mailgun.Domain)
	}

	log.Printf("Initializing Mailgun with domain: %s, from address: %s", cfg.Mailgun.Domain, cfg.Mailgun.FromAddress)
	mg := mailgun.NewMailgun(cfg.Mailgun.Domain, cfg.Mailgun.APIKey)

	// Test the API key by getting sending stats
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := mg.GetStats(ctx, []string{"accepted", "delivered"}, &mailgun.GetStatOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return nil, fmt.Errorf("authentication failed - please verify your API key and domain settings in the Mailgun dashboard")
		}
		return nil, fmt.Errorf("failed to validate Mailgun credentials: %w", err)
	}

	return &Mailer{
		mg:          mg,
		domain:      cfg.Mailgun.Domain,
		fromAddress: cfg.Mailgun.FromAddress,
		siteDomain:  cfg.Mailgun.SiteDomain,
	}, nil
}

// SendPasswordResetEmail sends a reset email with the provided token
func (m *Mailer) SendPasswordResetEmail(email, token string) error {
	subject := "Reset Your Password"
	body := fmt.Sprintf(`Hello!

A password reset was requested for your mail-connect account. To choose a new password, please click the link below:

https://%s/reset-password?token=%s

This link will expire in 24 hours and can be used once.

If you did not request a reset, please ignore this email.

Best regards,
mail-connect`, m.siteDomain, token)

	log.Printf("Attempting to send password reset email to %s using domain %s", email, m.domain)
	message := mailgun.NewMessage(m.fromAddress, subject, body, email)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, id, err := m.mg.Send(ctx, message)
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return fmt.Errorf("unauthorized: please verify your Mailgun API key and domain settings")
		}
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	log.Printf("Successfully sent password reset email to %s with message ID: %s", email, id)

	return nil
}
