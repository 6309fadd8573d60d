package auth

import (
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"github.com/replyloop/mail-connect/internal/database"
)

// ErrInvalidCredentials is returned for a wrong email/password pair
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service handles account registration, login, and password resets
type Service struct {
	db     *database.DB
	tokens *Tokens
	mailer *Mailer
}

// NewService creates the auth service. mailer may be nil when Mailgun is
// not configured; password resets are then disabled.
func NewService(db *database.DB, tokens *Tokens, mailer *Mailer) *Service {
	return &Service{db: db, tokens: tokens, mailer: mailer}
}

// Register creates an account and returns a signed bearer token
func (s *Service) Register(email, password string) (*database.User, string, error) {
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("password must be at least 8 characters")
	}

	user, err := s.db.CreateUser(email, password)
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login checks the password and returns a signed bearer token
func (s *Service) Login(email, password string) (*database.User, string, error) {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := s.db.UpdateLastLogin(user.ID); err != nil {
		log.Printf("Failed to update last login for %s: %v", user.Email, err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// RequestPasswordReset creates a single-use reset token and mails it.
// Unknown addresses return success so the endpoint cannot be used to probe
// which emails are registered.
func (s *Service) RequestPasswordReset(email string) error {
	if s.mailer == nil {
		return fmt.Errorf("password reset mail is not configured")
	}

	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		log.Printf("Password reset requested for unknown address")
		return nil
	}

	rt, err := s.db.CreatePasswordResetToken(user.ID)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordResetEmail(user.Email, rt.Token); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token
func (s *Service) ConfirmPasswordReset(token, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return s.db.ResetPassword(token, password)
}
