package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/database"
	"github.com/replyloop/mail-connect/internal/oauth"
	"github.com/replyloop/mail-connect/internal/secrets"
	"github.com/replyloop/mail-connect/internal/webhook"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testServer(t *testing.T) (*httptest.Server, *database.DB) {
	t.Helper()

	db, err := database.New(&database.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	box, err := secrets.NewBox(testKey)
	if err != nil {
		t.Fatalf("Failed to create secret box: %v", err)
	}

	providers := oauth.Registry{
		database.ProviderGmail: {
			Name: database.ProviderGmail,
			Config: &oauth2.Config{
				ClientID:     "test-client",
				ClientSecret: "test-secret",
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://auth.example.com/authorize",
					TokenURL: "https://auth.example.com/token",
				},
			},
			DisplayName: "Gmail",
		},
	}

	tokens := auth.NewTokens("test-secret", time.Hour)
	accounts := auth.NewService(db, tokens, nil)
	flow := oauth.NewFlow(db, providers, oauth.NewStateSigner("test-secret"))
	refresher := oauth.NewRefresher(db, providers)
	forwarder := webhook.New(db, box, webhook.ForwarderConfig{
		RetryAttempts: 1,
		Backoff:       webhook.BackoffConfig{InitialDelay: time.Millisecond},
	})

	srv := New(db, tokens, accounts, providers, flow, refresher, forwarder, box)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, db
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func registerUser(t *testing.T, ts *httptest.Server) (userID, token string) {
	t.Helper()

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 from register, got %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, resp, &session)
	return session.User.ID, session.Token
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	ts, _ := testServer(t)
	_, token := registerUser(t, ts)
	if token == "" {
		t.Fatal("Expected a bearer token from registration")
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password456",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate registration, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from login, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	ts, _ := testServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/token"},
		{http.MethodGet, "/api/configuration"},
		{http.MethodPost, "/oauth/gmail/init"},
		{http.MethodGet, "/api/webhook/logs"},
	} {
		resp := doJSON(t, route.method, ts.URL+route.path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without a token, got %d", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestAPI_OAuthInit(t *testing.T) {
	ts, _ := testServer(t)
	_, token := registerUser(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/oauth/gmail/init", token, map[string]string{
		"redirectUrl": "https://app.example.com/settings",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from init, got %d", resp.StatusCode)
	}

	var body struct {
		AuthURL string `json:"authUrl"`
	}
	decode(t, resp, &body)
	if body.AuthURL == "" {
		t.Error("Expected an authorization URL")
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/oauth/gmail/init", token, map[string]string{
		"redirectUrl": "/relative",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a relative redirect URL, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/oauth/yandex/init", token, map[string]string{
		"redirectUrl": "https://app.example.com",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unconfigured provider, got %d", resp.StatusCode)
	}
}

func TestAPI_TokenFetch(t *testing.T) {
	ts, db := testServer(t)
	userID, token := registerUser(t, ts)

	// No mailbox linked yet
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/token", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without a linked mailbox, got %d", resp.StatusCode)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if _, err := db.UpsertCredential(&database.Credential{
		UserID:       userID,
		Provider:     database.ProviderGmail,
		AccessToken:  "stored-token",
		RefreshToken: "stored-refresh",
		TokenExpiry:  expiry,
		Email:        "alice@gmail.com",
	}); err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/token", token, map[string]string{"provider": "gmail"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from token fetch, got %d", resp.StatusCode)
	}

	var body struct {
		AccessToken      string `json:"access_token"`
		Email            string `json:"email"`
		WasRefreshed     bool   `json:"was_refreshed"`
		ExpiresInSeconds int64  `json:"expires_in_seconds"`
	}
	decode(t, resp, &body)
	if body.AccessToken != "stored-token" {
		t.Errorf("Expected stored token, got '%s'", body.AccessToken)
	}
	if body.Email != "alice@gmail.com" {
		t.Errorf("Expected linked address, got '%s'", body.Email)
	}
	if body.WasRefreshed {
		t.Error("Expected was_refreshed to be false for a valid token")
	}
	if body.ExpiresInSeconds <= 0 || body.ExpiresInSeconds > 3600 {
		t.Errorf("Expected expires_in_seconds within the hour, got %d", body.ExpiresInSeconds)
	}
}

func TestAPI_ConfigurationLifecycle(t *testing.T) {
	ts, db := testServer(t)
	userID, token := registerUser(t, ts)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/configuration", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before any configuration exists, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":      "smtp_imap",
		"email":         "alice@corp.example.com",
		"imap_host":     "imap.corp.example.com",
		"imap_password": "imap-secret",
		"company_name":  "Acme Corp",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from save, got %d", resp.StatusCode)
	}

	var saved struct {
		Provider     string `json:"provider"`
		IMAPPort     int    `json:"imap_port"`
		IMAPUsername string `json:"imap_username"`
		HasPassword  bool   `json:"has_password"`
		IsConnected  bool   `json:"is_connected"`
	}
	decode(t, resp, &saved)
	if saved.Provider != database.ProviderIMAP {
		t.Errorf("Expected provider smtp_imap, got '%s'", saved.Provider)
	}
	if saved.IMAPPort != 993 {
		t.Errorf("Expected default port 993, got %d", saved.IMAPPort)
	}
	if saved.IMAPUsername != "alice@corp.example.com" {
		t.Errorf("Expected username to default to the address, got '%s'", saved.IMAPUsername)
	}
	if !saved.HasPassword || !saved.IsConnected {
		t.Error("Expected a connected configuration with a stored password")
	}

	// The password is sealed at rest and never echoed back
	stored, err := db.GetEmailConfiguration(userID)
	if err != nil {
		t.Fatalf("Failed to get configuration: %v", err)
	}
	if stored.IMAPPassword == "" || stored.IMAPPassword == "imap-secret" {
		t.Error("Expected the stored password to be sealed")
	}

	var raw map[string]interface{}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/configuration", token, nil)
	decode(t, resp, &raw)
	if _, ok := raw["imap_password"]; ok {
		t.Error("Expected the password to be absent from the response")
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/configuration", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from delete, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/configuration", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 deleting a missing configuration, got %d", resp.StatusCode)
	}
}

func TestAPI_ProfileEditKeepsPassword(t *testing.T) {
	ts, db := testServer(t)
	userID, token := registerUser(t, ts)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":      "smtp_imap",
		"email":         "alice@corp.example.com",
		"imap_host":     "imap.corp.example.com",
		"imap_password": "imap-secret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from save, got %d", resp.StatusCode)
	}

	before, err := db.GetEmailConfiguration(userID)
	if err != nil {
		t.Fatalf("Failed to get configuration: %v", err)
	}

	// Profile edits carry no password; clients only ever see has_password
	resp = doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":     "smtp_imap",
		"email":        "alice@corp.example.com",
		"imap_host":    "imap.corp.example.com",
		"company_name": "Acme Corp",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from edit, got %d", resp.StatusCode)
	}

	var edited struct {
		HasPassword bool   `json:"has_password"`
		CompanyName string `json:"company_name"`
	}
	decode(t, resp, &edited)
	if !edited.HasPassword {
		t.Error("Expected has_password to stay true after a profile edit")
	}
	if edited.CompanyName != "Acme Corp" {
		t.Errorf("Expected company profile to update, got '%s'", edited.CompanyName)
	}

	after, err := db.GetEmailConfiguration(userID)
	if err != nil {
		t.Fatalf("Failed to get configuration: %v", err)
	}
	if after.IMAPPassword != before.IMAPPassword {
		t.Error("Expected the sealed password to survive a profile edit")
	}
}

func TestAPI_SaveRejectsProviderSwitch(t *testing.T) {
	ts, db := testServer(t)
	userID, token := registerUser(t, ts)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":      "smtp_imap",
		"email":         "alice@corp.example.com",
		"imap_host":     "imap.corp.example.com",
		"imap_password": "imap-secret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from save, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider": "gmail",
		"email":    "alice@gmail.com",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 switching to gmail via save, got %d", resp.StatusCode)
	}

	cfg, err := db.GetEmailConfiguration(userID)
	if err != nil {
		t.Fatalf("Failed to get configuration: %v", err)
	}
	if cfg.Provider != database.ProviderIMAP || cfg.IMAPHost == "" {
		t.Error("Expected the IMAP configuration to survive the rejected save")
	}
}

func TestAPI_CallbackProviderError(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/oauth/gmail/callback?error=access_denied&error_description=user+cancelled")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a provider error, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Expected an HTML terminal page, got content type '%s'", ct)
	}
}

func TestAPI_CallbackMissingParams(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/oauth/gmail/callback")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without code and state, got %d", resp.StatusCode)
	}
}

func TestAPI_CallbackBadState(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/oauth/gmail/callback?code=test-code&state=forged-state")
	if err != nil {
		t.Fatalf("Callback request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unverifiable state, got %d", resp.StatusCode)
	}
}

func TestAPI_WebhookTriggerWait(t *testing.T) {
	var status int32 = http.StatusOK
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer hook.Close()

	ts, _ := testServer(t)
	_, token := registerUser(t, ts)

	// Not configured yet
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/webhook/trigger?wait=1", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 triggering before setup, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/webhook", token, map[string]string{
		"webhook_url": hook.URL,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 saving the webhook, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":      "smtp_imap",
		"email":         "alice@corp.example.com",
		"imap_host":     "imap.corp.example.com",
		"imap_password": "imap-secret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from save, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/webhook/trigger?wait=1", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from a waited delivery, got %d", resp.StatusCode)
	}

	// The waited variant surfaces endpoint failures to the caller
	atomic.StoreInt32(&status, http.StatusInternalServerError)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/webhook/trigger?wait=1", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 when the endpoint fails, got %d", resp.StatusCode)
	}
}

func TestAPI_WebhookLifecycle(t *testing.T) {
	received := make(chan struct{}, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ts, _ := testServer(t)
	_, token := registerUser(t, ts)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/webhook", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before a webhook is set, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/webhook", token, map[string]string{
		"webhook_url": "not a url",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid webhook URL, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/webhook", token, map[string]string{
		"webhook_url": hook.URL,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 saving the webhook, got %d", resp.StatusCode)
	}

	// Trigger fails until a configuration exists
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/webhook/trigger", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 triggering without a configuration, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/configuration", token, map[string]interface{}{
		"provider":      "smtp_imap",
		"email":         "alice@corp.example.com",
		"imap_host":     "imap.corp.example.com",
		"imap_password": "imap-secret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from save, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/webhook/trigger", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202 from trigger, got %d", resp.StatusCode)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the webhook endpoint to receive the configuration")
	}
}
