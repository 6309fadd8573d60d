package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/database"
)

// configurationResponse is the configuration as the dashboard sees it.
// The stored password never leaves the server, only whether one is set.
type configurationResponse struct {
	ID                  string     `json:"id"`
	Provider            string     `json:"provider"`
	Name                string     `json:"name,omitempty"`
	Email               string     `json:"email"`
	IMAPHost            string     `json:"imap_host,omitempty"`
	IMAPPort            int        `json:"imap_port,omitempty"`
	IMAPUsername        string     `json:"imap_username,omitempty"`
	HasPassword         bool       `json:"has_password"`
	IsConnected         bool       `json:"is_connected"`
	CompanyName         string     `json:"company_name,omitempty"`
	ActivityDescription string     `json:"activity_description,omitempty"`
	ServicesOffered     string     `json:"services_offered,omitempty"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
}

type configurationRequest struct {
	Provider            string `json:"provider"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	IMAPHost            string `json:"imap_host"`
	IMAPPort            int    `json:"imap_port"`
	IMAPUsername        string `json:"imap_username"`
	IMAPPassword        string `json:"imap_password"`
	CompanyName         string `json:"company_name"`
	ActivityDescription string `json:"activity_description"`
	ServicesOffered     string `json:"services_offered"`
}

func toConfigurationResponse(cfg *database.EmailConfiguration) *configurationResponse {
	return &configurationResponse{
		ID:                  cfg.ID,
		Provider:            cfg.Provider,
		Name:                cfg.Name,
		Email:               cfg.Email,
		IMAPHost:            cfg.IMAPHost,
		IMAPPort:            cfg.IMAPPort,
		IMAPUsername:        cfg.IMAPUsername,
		HasPassword:         cfg.IMAPPassword != "",
		IsConnected:         cfg.IsConnected,
		CompanyName:         cfg.CompanyName,
		ActivityDescription: cfg.ActivityDescription,
		ServicesOffered:     cfg.ServicesOffered,
		LastSyncAt:          cfg.LastSyncAt,
	}
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	cfg, err := s.db.GetEmailConfiguration(userID)
	if err != nil {
		log.Printf("Failed to get configuration for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get configuration")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "no configuration found")
		return
	}

	writeJSON(w, http.StatusOK, toConfigurationResponse(cfg))
}

func (s *Server) handleSaveConfiguration(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req configurationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider != database.ProviderIMAP && !database.OAuthProvider(req.Provider) {
		writeError(w, http.StatusBadRequest, "provider must be one of smtp_imap, gmail, outlook")
		return
	}

	cfg := &database.EmailConfiguration{
		UserID:              userID,
		Provider:            req.Provider,
		Name:                req.Name,
		Email:               req.Email,
		CompanyName:         req.CompanyName,
		ActivityDescription: req.ActivityDescription,
		ServicesOffered:     req.ServicesOffered,
	}

	if req.Provider == database.ProviderIMAP {
		if req.Email == "" || req.IMAPHost == "" {
			writeError(w, http.StatusBadRequest, "email and imap_host are required for IMAP configurations")
			return
		}
		if req.IMAPPort == 0 {
			req.IMAPPort = 993
		}
		if req.IMAPUsername == "" {
			req.IMAPUsername = req.Email
		}

		sealed, err := s.box.Seal(req.IMAPPassword)
		if err != nil {
			log.Printf("Failed to seal mailbox password: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to store configuration")
			return
		}

		cfg.IMAPHost = req.IMAPHost
		cfg.IMAPPort = req.IMAPPort
		cfg.IMAPUsername = req.IMAPUsername
		cfg.IMAPPassword = sealed
		cfg.IsConnected = true
	}

	saved, err := s.db.SaveEmailConfiguration(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toConfigurationResponse(saved))
}

func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := s.db.DeleteEmailConfiguration(userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no configuration found")
			return
		}
		log.Printf("Failed to delete configuration for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete configuration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
