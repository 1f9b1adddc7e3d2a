package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/heimdex/reelforge/internal/studio"
)

const maxWebhookBytes = 1 << 20

// webhookHandler receives provider callbacks. Every authenticated delivery is
// acknowledged with 200 so the provider stops retrying; the body reports what
// the reconciler did with it.
func webhookHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "webhook payload too large", "PAYLOAD_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "failed to read webhook body", "BAD_REQUEST")
			return
		}

		outcome, err := cfg.Service.HandleWebhook(r.Context(), r.Header, body, r.URL.Query().Get("job_id"))
		if errors.Is(err, studio.ErrWebhookAuth) {
			WriteError(w, http.StatusUnauthorized, "invalid webhook signature", "WEBHOOK_AUTH")
			return
		}
		if err != nil {
			cfg.Logger.Error("webhook handling failed", "error", err)
			outcome = studio.OutcomeError
		}

		WriteJSON(w, http.StatusOK, WebhookResponse{Outcome: outcome})
	}
}
