package oauth

import (
	"embed"
	"html/template"
	"log"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type successPage struct {
	ProviderName string
	MessageType  string
	Email        string
	Origin       string
}

type errorPage struct {
	MessageType string
	Error       string
	Description string
	Origin      string
}

// WriteSuccessPage renders the terminal page of a completed handshake. It
// notifies the window that opened the popup with a {type, email} message,
// posted only to the origin recovered from the verified state, then closes.
func WriteSuccessPage(w http.ResponseWriter, result *LinkResult, providerDisplayName string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := successPage{
		ProviderName: providerDisplayName,
		MessageType:  result.Provider + "-connected",
		Email:        result.Email,
		Origin:       result.Origin,
	}
	if err := pageTemplates.ExecuteTemplate(w, "callback_success.html", page); err != nil {
		log.Printf("Error rendering success page: %v", err)
	}
}

// WriteErrorPage renders the terminal page of a failed handshake. origin may
// be empty when the state never verified; the message post is skipped then.
func WriteErrorPage(w http.ResponseWriter, status int, providerName, errMsg, description, origin string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := errorPage{
		MessageType: providerName + "-error",
		Error:       errMsg,
		Description: description,
		Origin:      origin,
	}
	if err := pageTemplates.ExecuteTemplate(w, "callback_error.html", page); err != nil {
		log.Printf("Error rendering error page: %v", err)
	}
}
