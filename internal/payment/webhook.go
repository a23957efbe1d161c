package payment

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"severok-bot/internal/utils"
)

// Confirmer is the settlement entry point the webhook feeds. The poll path
// goes through the same one.
type Confirmer interface {
	Confirm(ctx context.Context, providerPaymentID string) (bool, error)
}

// WebhookHandler adapts YooKassa push notifications to Confirm. It only
// trusts requests from the provider's published subnets.
type WebhookHandler struct {
	Confirmer  Confirmer
	AllowedIPs []string
}

func NewWebhookHandler(confirmer Confirmer, allowedIPs []string) *WebhookHandler {
	return &WebhookHandler{
		Confirmer:  confirmer,
		AllowedIPs: allowedIPs,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !utils.IsAllowedIP(ip, h.AllowedIPs) {
		log.Printf("Rejected webhook from %s", ip)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var notification WebhookNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		log.Printf("Failed to decode webhook: %v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if notification.Event != "payment.succeeded" {
		log.Printf("Ignored event: %s", notification.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Confirm is idempotent, so YooKassa re-delivering the notification
	// after a 500 here is safe.
	if _, err := h.Confirmer.Confirm(r.Context(), notification.Object.ID); err != nil {
		log.Printf("Failed to settle payment %s: %v", notification.Object.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
