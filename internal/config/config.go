package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Database Configuration
	Database struct {
		Driver   string
		Path     string // For SQLite
		Host     string // For PostgreSQL
		Port     int    // For PostgreSQL
		User     string // For PostgreSQL
		Password string // For PostgreSQL
		Name     string // For PostgreSQL
		SSLMode  string // For PostgreSQL
	}

	// API Server Configuration
	Server struct {
		Host    string
		Port    int
		BaseURL string // Public URL the OAuth providers redirect back to
	}

	// Auth Configuration
	Auth struct {
		Secret        string // HMAC key for API tokens and OAuth state
		TokenTTLHours int
	}

	// Secrets Configuration
	Secrets struct {
		EncryptionKey string // 32-byte key for sealing stored mailbox passwords
	}

	// OAuth provider credentials
	Google struct {
		ClientID     string
		ClientSecret string
	}
	Microsoft struct {
		ClientID     string
		ClientSecret string
		Tenant       string
	}

	// Webhook forwarding
	Webhook struct {
		MaxRetries int
		RetryDelay int
	}

	// Mailgun Configuration (optional, for password reset mail)
	Mailgun struct {
		APIKey      string
		Domain      string
		FromAddress string
		SiteDomain  string
	}
}

// Load loads the configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetConfigName("config")             // name of config file (without extension)
	v.SetConfigType("yaml")               // type of config file
	v.AddConfigPath(".")                  // current directory
	v.AddConfigPath("$HOME/.mailconnect") // home directory
	v.AddConfigPath("/etc/mailconnect/")  // system directory

	// Read config file (if exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - that's ok, we'll use env vars and defaults
	}

	// Environment variables
	v.SetEnvPrefix("MAILCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map provider credential variables under their conventional names
	mapProviderEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.baseurl is required (public URL for OAuth redirects)")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Secrets.EncryptionKey) != 32 {
		return fmt.Errorf("secrets.encryptionkey must be exactly 32 bytes, got %d", len(c.Secrets.EncryptionKey))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "mailconnect.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "mailconnect")
	v.SetDefault("database.sslmode", "disable")

	// Server defaults. Keys without a meaningful default still need one so
	// environment-only values survive Unmarshal.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.baseurl", "")

	// Auth defaults
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.tokenttlhours", 24)
	v.SetDefault("secrets.encryptionkey", "")

	// Provider credentials
	v.SetDefault("google.clientid", "")
	v.SetDefault("google.clientsecret", "")
	v.SetDefault("microsoft.clientid", "")
	v.SetDefault("microsoft.clientsecret", "")

	// Mailgun defaults
	v.SetDefault("mailgun.apikey", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.fromaddress", "")
	v.SetDefault("mailgun.sitedomain", "")

	// Webhook defaults
	v.SetDefault("webhook.maxretries", 5)
	v.SetDefault("webhook.retrydelay", 5)

	// Microsoft defaults to the multi-tenant endpoint
	v.SetDefault("microsoft.tenant", "common")
}

// mapProviderEnvVars maps the credential variables the OAuth and Mailgun
// consoles document (GOOGLE_CLIENT_ID etc.) to configuration paths
func mapProviderEnvVars(v *viper.Viper) {
	if val := v.GetString("GOOGLE_CLIENT_ID"); val != "" {
		v.Set("google.clientid", val)
	}
	if val := v.GetString("GOOGLE_CLIENT_SECRET"); val != "" {
		v.Set("google.clientsecret", val)
	}
	if val := v.GetString("MICROSOFT_CLIENT_ID"); val != "" {
		v.Set("microsoft.clientid", val)
	}
	if val := v.GetString("MICROSOFT_CLIENT_SECRET"); val != "" {
		v.Set("microsoft.clientsecret", val)
	}
	if val := v.GetString("MICROSOFT_TENANT_ID"); val != "" {
		v.Set("microsoft.tenant", val)
	}
	if val := v.GetString("MAILGUN_API_KEY"); val != "" {
		v.Set("mailgun.apikey", val)
	}
	if val := v.GetString("MAILGUN_DOMAIN"); val != "" {
		v.Set("mailgun.domain", val)
	}
	if val := v.GetString("MAILGUN_FROM_ADDRESS"); val != "" {
		v.Set("mailgun.fromaddress", val)
	}
	if val := v.GetString("MAILGUN_SITE_DOMAIN"); val != "" {
		v.Set("mailgun.sitedomain", val)
	}
}
