package api

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/replyloop/mail-connect/internal/auth"
	"github.com/replyloop/mail-connect/internal/webhook"
)

type webhookResponse struct {
	WebhookURL string `json:"webhook_url"`
}

type deliveryLogResponse struct {
	EndpointURL  string    `json:"endpoint_url"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	setting, err := s.db.GetWebhookSetting(userID)
	if err != nil {
		log.Printf("Failed to get webhook setting for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get webhook setting")
		return
	}
	if setting == nil {
		writeError(w, http.StatusNotFound, "no webhook configured")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{WebhookURL: setting.WebhookURL})
}

func (s *Server) handleSaveWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req webhookResponse
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	parsed, err := url.Parse(req.WebhookURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "webhook_url must be an absolute URL")
		return
	}

	setting, err := s.db.SaveWebhookSetting(userID, req.WebhookURL)
	if err != nil {
		log.Printf("Failed to save webhook setting for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save webhook setting")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{WebhookURL: setting.WebhookURL})
}

func (s *Server) handleTriggerWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	// wait=1 delivers inline so the dashboard's test button can report the
	// real endpoint outcome instead of an acknowledgement
	if r.URL.Query().Get("wait") != "" {
		if err := s.forwarder.ForwardSync(userID); err != nil {
			if errors.Is(err, webhook.ErrNotConfigured) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
		return
	}

	if err := s.forwarder.Forward(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "delivery started"})
}

func (s *Server) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	logs, err := s.db.GetDeliveryLogs(userID, limit)
	if err != nil {
		log.Printf("Failed to get delivery logs for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get delivery logs")
		return
	}

	out := make([]deliveryLogResponse, 0, len(logs))
	for _, entry := range logs {
		out = append(out, deliveryLogResponse{
			EndpointURL:  entry.EndpointURL,
			Status:       entry.Status,
			ErrorMessage: entry.ErrorMessage,
			ProcessedAt:  entry.ProcessedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": out})
}
