package auth

import (
	"testing"
	"time"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)

	signed, err := tokens.Issue("user-123")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	userID, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Failed to verify token: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("Expected user-123, got %s", userID)
	}
}

func TestTokens_RejectsWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret-a", time.Hour).Issue("user-123")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := NewTokens("secret-b", time.Hour).Verify(signed); err == nil {
		t.Error("Expected verification to fail with a different secret")
	}
}

func TestTokens_RejectsExpired(t *testing.T) {
	signed, err := NewTokens("test-secret", -time.Minute).Issue("user-123")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := NewTokens("test-secret", -time.Minute).Verify(signed); err == nil {
		t.Error("Expected verification to fail for an expired token")
	}
}

func TestTokens_RejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	if _, err := tokens.Verify("not-a-token"); err == nil {
		t.Error("Expected verification to fail for garbage input")
	}
}
