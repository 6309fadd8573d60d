package database

import (
	"time"
)

// Mailbox providers understood by the service
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderIMAP    = "smtp_imap"
)

// User represents a user in the system
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
	LastLogin    *time.Time
}

// PasswordResetToken represents a single-use token for resetting a password
type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"uniqueIndex;not null"`
	UserID    string    `gorm:"size:36;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Credential holds the OAuth token pair for one linked mailbox.
// One row per user and provider; the refresh token survives refreshes
// where the provider omits it from the response.
type Credential struct {
	ID           string    `gorm:"primaryKey;size:36"`
	UserID       string    `gorm:"size:36;not null;uniqueIndex:idx_credentials_user_provider,priority:1"`
	Provider     string    `gorm:"size:20;not null;uniqueIndex:idx_credentials_user_provider,priority:2"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text"`
	TokenExpiry  time.Time `gorm:"not null"`
	Email        string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
	User         User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// EmailConfiguration is the single active mailbox record per user:
// which provider is connected, how to reach it, and the company profile
// text the external responder consumes
type EmailConfiguration struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:36;not null;uniqueIndex"`
	Provider     string `gorm:"size:20;not null"`
	Name         string
	Email        string `gorm:"not null"`
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	// Sealed with AES-GCM before storage, never written in clear
	IMAPPassword string `gorm:"type:text"`

	IsConnected bool `gorm:"not null;default:false"`

	CompanyName         string
	ActivityDescription string `gorm:"type:text"`
	ServicesOffered     string `gorm:"type:text"`

	LastSyncAt *time.Time
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
	User       User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// WebhookSetting holds the automation endpoint a user forwards their
// configuration to
type WebhookSetting struct {
	ID         string    `gorm:"primaryKey;size:36"`
	UserID     string    `gorm:"size:36;not null;uniqueIndex"`
	WebhookURL string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
	User       User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// DeliveryLog records one webhook forwarding attempt
type DeliveryLog struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"size:36;not null;index"`
	EndpointURL  string `gorm:"not null"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	ProcessedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// OAuthProvider reports whether the provider's tokens are managed by the
// linking flow rather than user-entered form data
func OAuthProvider(provider string) bool {
	return provider == ProviderGmail || provider == ProviderOutlook
}
