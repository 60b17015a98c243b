package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/metrics"
	"bezhas-entitlements/internal/notify"
	"bezhas-entitlements/internal/subscription"

	"github.com/stripe/stripe-go/v76/webhook"
)

// MaxWebhookBody caps the payload read from Stripe.
const MaxWebhookBody = 1 << 20

// EventApplier is satisfied by subscription.Service.
type EventApplier interface {
	ApplyBillingEvent(ctx context.Context, ev subscription.Event) (*subscription.Outcome, error)
}

type WebhookHandler struct {
	secret   string
	applier  EventApplier
	dedupe   Deduper
	notifier notify.Notifier
	logger   logger.Logger
}

func NewWebhookHandler(secret string, applier EventApplier, dedupe Deduper, notifier notify.Notifier, log logger.Logger) *WebhookHandler {
	if dedupe == nil {
		dedupe = NopDeduper{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &WebhookHandler{
		secret:   secret,
		applier:  applier,
		dedupe:   dedupe,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "stripe-webhook"}),
	}
}

type webhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Error     string `json:"error,omitempty"`
}

func writeAck(w http.ResponseWriter, ack webhookAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		apperrors.WriteHTTP(w, apperrors.NewBillingUnavailableError("stripe webhook secret not configured"))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		metrics.BillingEvents.WithLabelValues("unknown", "unreadable").Inc()
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("webhook body unreadable or too large"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.BillingEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		h.logger.Warn("stripe signature verification failed", map[string]interface{}{"error": err.Error()})
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("webhook signature verification failed"))
		return
	}

	eventType := string(event.Type)
	fields := map[string]interface{}{"eventId": event.ID, "type": eventType}

	ev, handled, err := Translate(event)
	if err != nil {
		metrics.BillingEvents.WithLabelValues(eventType, "malformed").Inc()
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if !handled {
		metrics.BillingEvents.WithLabelValues(eventType, "ignored").Inc()
		h.logger.Info("unhandled stripe event", fields)
		writeAck(w, webhookAck{Received: true, Ignored: true})
		return
	}

	claimed, err := h.dedupe.Begin(r.Context(), event.ID)
	if err != nil {
		// State mutations are idempotent per event; proceed unclaimed.
		h.logger.WithError(err).Warn("webhook dedupe unavailable", fields)
		claimed = true
	}
	if !claimed {
		metrics.BillingEvents.WithLabelValues(eventType, "duplicate").Inc()
		h.logger.Info("duplicate stripe event", fields)
		writeAck(w, webhookAck{Received: true, Duplicate: true})
		return
	}

	outcome, err := h.applier.ApplyBillingEvent(r.Context(), ev)
	if err != nil {
		h.fail(w, r, event.ID, eventType, fields, err)
		return
	}

	if err := h.dedupe.Done(r.Context(), event.ID); err != nil {
		h.logger.WithError(err).Warn("failed to mark stripe event done", fields)
	}

	result := "skipped"
	if outcome.Applied {
		result = "applied"
	}
	metrics.BillingEvents.WithLabelValues(eventType, result).Inc()

	if err := h.notifier.Notify(r.Context(), outcome); err != nil {
		h.logger.WithError(err).Warn("billing notification failed", fields)
	}

	h.logger.Info("stripe event processed", map[string]interface{}{
		"eventId":      event.ID,
		"type":         eventType,
		"userId":       outcome.UserID,
		"applied":      outcome.Applied,
		"previousTier": string(outcome.PreviousTier),
		"newTier":      string(outcome.NewTier),
	})
	writeAck(w, webhookAck{Received: true})
}

// fail answers a failed application. Retryable failures release the claim and
// ask Stripe to redeliver; permanent ones are acknowledged so they stop retrying.
func (h *WebhookHandler) fail(w http.ResponseWriter, r *http.Request, eventID, eventType string, fields map[string]interface{}, err error) {
	stdErr := apperrors.AsStandardError(err)
	h.logger.WithError(err).Error("failed to apply stripe event", fields)
	metrics.BillingEvents.WithLabelValues(eventType, "error").Inc()

	if stdErr.Retryable {
		if abortErr := h.dedupe.Abort(r.Context(), eventID); abortErr != nil {
			h.logger.WithError(abortErr).Warn("failed to release stripe event claim", fields)
		}
		apperrors.WriteHTTP(w, stdErr)
		return
	}

	if doneErr := h.dedupe.Done(r.Context(), eventID); doneErr != nil {
		h.logger.WithError(doneErr).Warn("failed to mark stripe event done", fields)
	}
	writeAck(w, webhookAck{Received: true, Error: string(stdErr.Code)})
}
