package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetCredential retrieves the stored token pair for a user and provider
func (db *DB) GetCredential(userID, provider string) (*Credential, error) {
	var cred Credential
	err := db.Where("user_id = ? AND provider = ?", userID, provider).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// UpsertCredential writes the token pair for (user, provider), creating the
// row on first link. An empty incoming refresh token never overwrites a
// stored one; providers routinely omit it on refresh responses.
func (db *DB) UpsertCredential(cred *Credential) (*Credential, error) {
	return db.upsertCredentialTx(db.DB, cred)
}

func (db *DB) upsertCredentialTx(tx *gorm.DB, cred *Credential) (*Credential, error) {
	var existing Credential
	err := tx.Where("user_id = ? AND provider = ?", cred.UserID, cred.Provider).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if cred.ID == "" {
			cred.ID = uuid.NewString()
		}
		if err := tx.Create(cred).Error; err != nil {
			return nil, fmt.Errorf("failed to create credential: %w", err)
		}
		return cred, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing credential: %w", err)
	}

	existing.AccessToken = cred.AccessToken
	existing.TokenExpiry = cred.TokenExpiry
	existing.Email = cred.Email
	if cred.RefreshToken != "" {
		existing.RefreshToken = cred.RefreshToken
	}
	if err := tx.Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}
	return &existing, nil
}

// DeleteCredential removes the stored token pair for a user and provider.
// Rows belonging to other users or providers are untouched.
func (db *DB) DeleteCredential(userID, provider string) error {
	result := db.Where("user_id = ? AND provider = ?", userID, provider).Delete(&Credential{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete credential: %w", result.Error)
	}
	return nil
}

// LinkMailbox records a completed OAuth handshake: the credential and the
// matching email configuration are written in one transaction so a crash
// between the two never leaves an inconsistent pair.
func (db *DB) LinkMailbox(cred *Credential, displayName string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		saved, err := db.upsertCredentialTx(tx, cred)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		cfg := &EmailConfiguration{
			Provider:    saved.Provider,
			Name:        displayName,
			Email:       saved.Email,
			IsConnected: true,
			LastSyncAt:  &now,
		}

		var existing EmailConfiguration
		err = tx.Where("user_id = ?", saved.UserID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cfg.ID = uuid.NewString()
			cfg.UserID = saved.UserID
			if err := tx.Create(cfg).Error; err != nil {
				return fmt.Errorf("failed to create email configuration: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check existing email configuration: %w", err)
		}

		// Switch the active configuration to the newly linked provider but
		// keep the company profile the user already wrote
		existing.Provider = cfg.Provider
		existing.Name = cfg.Name
		existing.Email = cfg.Email
		existing.IsConnected = true
		existing.LastSyncAt = cfg.LastSyncAt
		existing.IMAPHost = ""
		existing.IMAPPort = 0
		existing.IMAPUsername = ""
		existing.IMAPPassword = ""
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to update email configuration: %w", err)
		}
		return nil
	})
}
