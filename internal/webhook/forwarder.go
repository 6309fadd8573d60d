package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/replyloop/mail-connect/internal/database"
	"github.com/replyloop/mail-connect/internal/secrets"
)

// ErrNotConfigured means the user has no webhook endpoint or no mailbox
// configuration to forward
var ErrNotConfigured = errors.New("webhook delivery is not configured")

// Forwarder pushes a user's mailbox configuration to their automation
// endpoint
type Forwarder struct {
	db     *database.DB
	box    *secrets.Box
	config ForwarderConfig
	client *http.Client
}

// BackoffConfig holds configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Randomization float64
}

// ForwarderConfig holds configuration for the forwarder
type ForwarderConfig struct {
	RetryAttempts int
	Backoff       BackoffConfig
}

// New creates a new configuration forwarder
func New(db *database.DB, box *secrets.Box, config ForwarderConfig) *Forwarder {
	// Set default backoff values if not configured
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 5
	}
	if config.Backoff.InitialDelay == 0 {
		config.Backoff.InitialDelay = 1 * time.Second
	}
	if config.Backoff.MaxDelay == 0 {
		config.Backoff.MaxDelay = 30 * time.Second
	}
	if config.Backoff.Multiplier == 0 {
		config.Backoff.Multiplier = 2.0
	}
	if config.Backoff.Randomization == 0 {
		config.Backoff.Randomization = 0.2 // 20% randomization
	}

	return &Forwarder{
		db:     db,
		box:    box,
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// ConfigData is the configuration snapshot sent to the endpoint. The IMAP
// password travels unsealed; the receiver needs it to open the mailbox.
type ConfigData struct {
	Provider            string     `json:"provider"`
	Name                string     `json:"name,omitempty"`
	Email               string     `json:"email"`
	IMAPHost            string     `json:"imap_host,omitempty"`
	IMAPPort            int        `json:"imap_port,omitempty"`
	IMAPUsername        string     `json:"imap_username,omitempty"`
	IMAPPassword        string     `json:"imap_password,omitempty"`
	IsConnected         bool       `json:"is_connected"`
	CompanyName         string     `json:"company_name,omitempty"`
	ActivityDescription string     `json:"activity_description,omitempty"`
	ServicesOffered     string     `json:"services_offered,omitempty"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
}

// Payload is the JSON body POSTed to the automation endpoint
type Payload struct {
	Data   ConfigData `json:"data"`
	Source string     `json:"source"`
}

// Forward validates that the user has both a webhook and a configuration,
// then delivers the configuration asynchronously with retries
func (f *Forwarder) Forward(userID string) error {
	setting, cfg, err := f.load(userID)
	if err != nil {
		return err
	}

	go func() {
		if err := f.deliver(userID, setting.WebhookURL, cfg); err != nil {
			log.Printf("Webhook delivery failed for user %s: %v", userID, err)
		}
	}()

	return nil
}

// ForwardSync delivers the configuration and waits for the result
func (f *Forwarder) ForwardSync(userID string) error {
	setting, cfg, err := f.load(userID)
	if err != nil {
		return err
	}
	return f.deliver(userID, setting.WebhookURL, cfg)
}

func (f *Forwarder) load(userID string) (*database.WebhookSetting, *database.EmailConfiguration, error) {
	setting, err := f.db.GetWebhookSetting(userID)
	if err != nil {
		return nil, nil, err
	}
	if setting == nil {
		return nil, nil, fmt.Errorf("%w: no webhook endpoint set", ErrNotConfigured)
	}

	cfg, err := f.db.GetEmailConfiguration(userID)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: no email configuration", ErrNotConfigured)
	}

	return setting, cfg, nil
}

// deliver sends the payload with retries and exponential backoff, logging
// the outcome either way
func (f *Forwarder) deliver(userID, endpoint string, cfg *database.EmailConfiguration) error {
	payload, err := f.buildPayload(cfg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < f.config.RetryAttempts; attempt++ {
		log.Printf("Attempt %d/%d: Sending configuration to endpoint %q", attempt+1, f.config.RetryAttempts, endpoint)
		if err := f.send(endpoint, payload); err != nil {
			lastErr = err
			backoff := f.calculateBackoff(attempt)
			log.Printf("Attempt %d failed: %v. Retrying in %v...", attempt+1, err, backoff)
			time.Sleep(backoff)
			continue
		}

		log.Printf("Successfully forwarded configuration to endpoint %q", endpoint)
		if err := f.db.LogDelivery(userID, endpoint, "success", ""); err != nil {
			log.Printf("Warning: Failed to log successful delivery: %v", err)
		}
		return nil
	}

	if err := f.db.LogDelivery(userID, endpoint, "error", lastErr.Error()); err != nil {
		log.Printf("Warning: Failed to log delivery error: %v", err)
	}

	return fmt.Errorf("failed to deliver configuration after %d attempts: %w",
		f.config.RetryAttempts, lastErr)
}

func (f *Forwarder) buildPayload(cfg *database.EmailConfiguration) (*Payload, error) {
	password, err := f.box.Open(cfg.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal mailbox password: %w", err)
	}

	return &Payload{
		Data: ConfigData{
			Provider:            cfg.Provider,
			Name:                cfg.Name,
			Email:               cfg.Email,
			IMAPHost:            cfg.IMAPHost,
			IMAPPort:            cfg.IMAPPort,
			IMAPUsername:        cfg.IMAPUsername,
			IMAPPassword:        password,
			IsConnected:         cfg.IsConnected,
			CompanyName:         cfg.CompanyName,
			ActivityDescription: cfg.ActivityDescription,
			ServicesOffered:     cfg.ServicesOffered,
			LastSyncAt:          cfg.LastSyncAt,
		},
		Source: "mail-connect",
	}, nil
}

// calculateBackoff calculates the next backoff duration with jitter
func (f *Forwarder) calculateBackoff(attempt int) time.Duration {
	multiplier := math.Pow(f.config.Backoff.Multiplier, float64(attempt))
	delay := time.Duration(float64(f.config.Backoff.InitialDelay) * multiplier)

	// Apply maximum delay cap
	if delay > f.config.Backoff.MaxDelay {
		delay = f.config.Backoff.MaxDelay
	}

	// Add randomization/jitter
	jitterRange := float64(delay) * f.config.Backoff.Randomization
	jitter := time.Duration(rand.Float64() * jitterRange)
	return delay + jitter
}

// send posts the payload to the endpoint once
func (f *Forwarder) send(endpoint string, payload *Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status: %d, body: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
