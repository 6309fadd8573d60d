package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/database"
	"github.com/replyloop/mail-connect/internal/oauth"
	"github.com/replyloop/mail-connect/internal/secrets"
	"github.com/replyloop/mail-connect/internal/webhook"
)

// Server is the HTTP API over the mailbox linking service
type Server struct {
	db        *database.DB
	tokens    *auth.Tokens
	accounts  *auth.Service
	providers oauth.Registry
	flow      *oauth.Flow
	refresher *oauth.Refresher
	forwarder *webhook.Forwarder
	box       *secrets.Box
}

// New creates a new API server
func New(db *database.DB, tokens *auth.Tokens, accounts *auth.Service,
	providers oauth.Registry, flow *oauth.Flow, refresher *oauth.Refresher,
	forwarder *webhook.Forwarder, box *secrets.Box) *Server {
	return &Server{
		db:        db,
		tokens:    tokens,
		accounts:  accounts,
		providers: providers,
		flow:      flow,
		refresher: refresher,
		forwarder: forwarder,
		box:       box,
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Account routes
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/reset-password", s.handleResetRequest)
	r.Post("/auth/reset-password/confirm", s.handleResetConfirm)

	// Provider redirect target; authenticated via the signed state, not a
	// bearer token, since the browser arrives here from the provider
	r.Get("/oauth/{provider}/callback", s.handleOAuthCallback)

	// Bearer-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.tokens.RequireAuth)

		r.Post("/oauth/{provider}/init", s.handleOAuthInit)
		r.Post("/api/token", s.handleTokenFetch)

		r.Get("/api/configuration", s.handleGetConfiguration)
		r.Put("/api/configuration", s.handleSaveConfiguration)
		r.Delete("/api/configuration", s.handleDeleteConfiguration)

		r.Get("/api/webhook", s.handleGetWebhook)
		r.Put("/api/webhook", s.handleSaveWebhook)
		r.Post("/api/webhook/trigger", s.handleTriggerWebhook)
		r.Get("/api/webhook/logs", s.handleWebhookLogs)
	})

	return r
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	log.Printf("Starting API server at %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError writes a JSON error body with the given status
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
