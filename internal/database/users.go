package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CreateUser registers a new user with a bcrypt-hashed password
func (db *DB) CreateUser(email, password string) (*User, error) {
	email = strings.ToLower(email)

	var existingUser User
	err := db.Where("email = ?", email).First(&existingUser).Error
	if err == nil {
		return nil, fmt.Errorf("user already exists: %s", email)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}

	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves an active user by their email address
func (db *DB) GetUserByEmail(email string) (*User, error) {
	var user User
	err := db.Where("email = ? AND is_active = ?", strings.ToLower(email), true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves an active user by their ID
func (db *DB) GetUserByID(userID string) (*User, error) {
	var user User
	err := db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin updates a user's last login timestamp
func (db *DB) UpdateLastLogin(userID string) error {
	if err := db.Model(&User{}).Where("id = ?", userID).Update("last_login", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// CreatePasswordResetToken creates a new reset token for a user
func (db *DB) CreatePasswordResetToken(userID string) (*PasswordResetToken, error) {
	// Generate random token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	rt := &PasswordResetToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	if err := db.Create(rt).Error; err != nil {
		return nil, fmt.Errorf("failed to create reset token: %w", err)
	}

	return rt, nil
}

// ResetPassword sets a user's password using their reset token
func (db *DB) ResetPassword(token, password string) error {
	var rt PasswordResetToken
	if err := db.Where("token = ?", token).First(&rt).Error; err != nil {
		return fmt.Errorf("invalid token")
	}

	if rt.UsedAt != nil {
		return fmt.Errorf("token already used")
	}
	if time.Now().After(rt.ExpiresAt) {
		return fmt.Errorf("token expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Update the password and mark the token as used
	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&User{}).Where("id = ?", rt.UserID).Update("password_hash", string(hash)).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		if err := tx.Model(&rt).Update("used_at", now).Error; err != nil {
			return fmt.Errorf("failed to update token: %w", err)
		}

		return nil
	})
}
