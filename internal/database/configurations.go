package database

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetEmailConfiguration retrieves a user's configuration, or nil when none exists
func (db *DB) GetEmailConfiguration(userID string) (*EmailConfiguration, error) {
	var cfg EmailConfiguration
	err := db.Where("user_id = ?", userID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email configuration: %w", err)
	}
	return &cfg, nil
}

// SaveEmailConfiguration creates or updates the user's configuration row.
// For OAuth providers only the company profile fields are writable here;
// connection fields belong to the linking flow.
func (db *DB) SaveEmailConfiguration(cfg *EmailConfiguration) (*EmailConfiguration, error) {
	var existing EmailConfiguration
	err := db.Where("user_id = ?", cfg.UserID).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if OAuthProvider(cfg.Provider) {
			return nil, fmt.Errorf("%s configurations are created by the linking flow", cfg.Provider)
		}
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		if err := db.Create(cfg).Error; err != nil {
			return nil, fmt.Errorf("failed to create email configuration: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing email configuration: %w", err)
	}

	// Switching to an OAuth provider goes through the linking flow, never
	// through a plain save
	if OAuthProvider(cfg.Provider) && cfg.Provider != existing.Provider {
		return nil, fmt.Errorf("%s mailboxes are linked through the OAuth flow", cfg.Provider)
	}

	existing.CompanyName = cfg.CompanyName
	existing.ActivityDescription = cfg.ActivityDescription
	existing.ServicesOffered = cfg.ServicesOffered

	if !OAuthProvider(existing.Provider) {
		existing.Provider = ProviderIMAP
		existing.Name = cfg.Name
		existing.Email = cfg.Email
		existing.IMAPHost = cfg.IMAPHost
		existing.IMAPPort = cfg.IMAPPort
		existing.IMAPUsername = cfg.IMAPUsername
		// The sealed password is never returned to clients, so an edit
		// without one keeps the stored value
		if cfg.IMAPPassword != "" {
			existing.IMAPPassword = cfg.IMAPPassword
		}
		existing.IsConnected = cfg.IsConnected
	}

	if err := db.Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update email configuration: %w", err)
	}
	return &existing, nil
}

// DeleteEmailConfiguration removes the configuration row and, when the
// provider is OAuth-sourced, the credential that backs it. Destructive and
// non-reversible; callers confirm with the user first.
func (db *DB) DeleteEmailConfiguration(userID string) error {
	cfg, err := db.GetEmailConfiguration(userID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("no configuration found for user: %w", ErrNotFound)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if OAuthProvider(cfg.Provider) {
			if result := tx.Where("user_id = ? AND provider = ?", userID, cfg.Provider).Delete(&Credential{}); result.Error != nil {
				return fmt.Errorf("failed to delete credential: %w", result.Error)
			}
		}
		if result := tx.Delete(cfg); result.Error != nil {
			return fmt.Errorf("failed to delete email configuration: %w", result.Error)
		}
		return nil
	})
}

// GetWebhookSetting retrieves a user's automation endpoint, or nil when unset
func (db *DB) GetWebhookSetting(userID string) (*WebhookSetting, error) {
	var setting WebhookSetting
	err := db.Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook setting: %w", err)
	}
	return &setting, nil
}

// SaveWebhookSetting creates or replaces the user's automation endpoint
func (db *DB) SaveWebhookSetting(userID, url string) (*WebhookSetting, error) {
	var existing WebhookSetting
	err := db.Where("user_id = ?", userID).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting := &WebhookSetting{
			ID:         uuid.NewString(),
			UserID:     userID,
			WebhookURL: url,
		}
		if err := db.Create(setting).Error; err != nil {
			return nil, fmt.Errorf("failed to create webhook setting: %w", err)
		}
		return setting, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing webhook setting: %w", err)
	}

	existing.WebhookURL = url
	if err := db.Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update webhook setting: %w", err)
	}
	return &existing, nil
}

// LogDelivery records a webhook forwarding attempt
func (db *DB) LogDelivery(userID, endpoint, status, errorMsg string) error {
	entry := &DeliveryLog{
		UserID:       userID,
		EndpointURL:  endpoint,
		Status:       status,
		ErrorMessage: errorMsg,
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}
	return nil
}

// GetDeliveryLogs returns a user's recent forwarding attempts, newest first
func (db *DB) GetDeliveryLogs(userID string, limit int) ([]DeliveryLog, error) {
	var logs []DeliveryLog
	err := db.Where("user_id = ?", userID).Order("processed_at DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery logs: %w", err)
	}
	return logs, nil
}
