package web

import (
	"context"
	"io"
	"net/http"

	"github.com/mailflow/mailflow/internal/store"
)

// maxWebhookBody bounds how much of a webhook delivery is read.
const maxWebhookBody = 1 << 20

// handleGmailWebhook handles POST /webhooks/gmail, the Pub/Sub push
// endpoint. The delivery is acknowledged immediately and processed in the
// background so Pub/Sub never redelivers on slow dispatch.
func (s *Server) handleGmailWebhook(
	w http.ResponseWriter, r *http.Request,
) {

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	w.WriteHeader(http.StatusOK)

	go s.processWebhook(store.ProviderGmail, body)
}

// handleOutlookWebhook handles POST /webhooks/outlook. Graph's
// subscription validation handshake echoes the validation token; real
// notifications are acknowledged fast and processed in the background.
func (s *Server) handleOutlookWebhook(
	w http.ResponseWriter, r *http.Request,
) {

	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(token)); err != nil {
			s.log.Warn("Validation echo failed", "err", err)
		}

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	w.WriteHeader(http.StatusAccepted)

	go s.processWebhook(store.ProviderOutlook, body)
}

// processWebhook normalizes one acknowledged delivery and feeds the
// resulting events into the engine. Failures are logged; the delivery was
// already acknowledged.
func (s *Server) processWebhook(prov store.Provider, body []byte) {
	ctx, cancel := context.WithTimeout(
		context.Background(), webhookTimeout,
	)
	defer cancel()

	norm, ok := s.normalizers[prov]
	if !ok || norm == nil {
		s.log.Warn(
			"No normalizer for webhook provider",
			"provider", string(prov),
		)

		return
	}

	events, err := norm.Normalize(ctx, body)
	if err != nil {
		s.log.Warn(
			"Webhook normalization failed",
			"provider", string(prov), "err", err,
		)

		return
	}
	if len(events) == 0 {
		return
	}

	s.engine.HandleEvents(ctx, events)
}
