package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/replyloop/mail-connect/internal/api"
	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/config"
	"github.com/replyloop/mail-connect/internal/database"
	"github.com/replyloop/mail-connect/internal/oauth"
	"github.com/replyloop/mail-connect/internal/secrets"
	"github.com/replyloop/mail-connect/internal/webhook"
)

func main() {
	// Configure logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetPrefix("[apiserver] ")

	// Create context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	dbConfig := &database.Config{
		Driver:     cfg.Database.Driver,
		DSN:        cfg.Database.Path,                              // For SQLite
		MigrateURL: fmt.Sprintf("sqlite3://%s", cfg.Database.Path), // Database URL for migrations
	}
	if cfg.Database.Driver == "postgres" {
		dbConfig.DSN = fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
			cfg.Database.Name, cfg.Database.Password, cfg.Database.SSLMode)
		dbConfig.MigrateURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.User, cfg.Database.Password, cfg.Database.Host,
			cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)
	}

	db, err := database.New(dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	box, err := secrets.NewBox(cfg.Secrets.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize secret storage: %v", err)
	}

	mailer, err := auth.NewMailer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize mailer: %v", err)
	}
	if mailer == nil {
		log.Println("Mailgun not configured, password reset mail disabled")
	}

	tokens := auth.NewTokens(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	accounts := auth.NewService(db, tokens, mailer)

	providers := oauth.NewRegistry(cfg)
	flow := oauth.NewFlow(db, providers, oauth.NewStateSigner(cfg.Auth.Secret))
	refresher := oauth.NewRefresher(db, providers)

	forwarder := webhook.New(db, box, webhook.ForwarderConfig{
		RetryAttempts: cfg.Webhook.MaxRetries,
		Backoff: webhook.BackoffConfig{
			InitialDelay: time.Duration(cfg.Webhook.RetryDelay) * time.Second,
		},
	})

	server := api.New(db, tokens, accounts, providers, flow, refresher, forwarder, box)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(addr); err != nil {
			log.Printf("API server error: %v", err)
			stop()
		}
	}()

	// Keep the application running until we receive an interrupt signal
	<-ctx.Done()
	log.Println("Shutting down API server...")
}
