package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"pointledger/internal/model"
	"pointledger/internal/service"
)

const maxWebhookBody = 65536

// StripeWebhook credits the account on every paid invoice and links Stripe
// customers to users on completed checkouts. A non-2xx answer makes Stripe
// redeliver, so only failures worth retrying return one.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeSecret == "" {
		h.respondError(w, http.StatusServiceUnavailable, "webhook_disabled")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.stripeSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("stripe signature verification failed")
		h.respondError(w, http.StatusBadRequest, "invalid_signature")
		return
	}

	log := h.log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	log.Info().Msg("stripe webhook received")

	switch event.Type {
	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		userID, err := h.invoiceUser(r, &invoice)
		if errors.Is(err, service.ErrAccountNotFound) || errors.Is(err, service.ErrInvalidRequest) {
			log.Warn().Str("invoice_id", invoice.ID).Msg("invoice has no known user, ignoring")
			break
		}
		if err != nil {
			h.respondServiceError(w, err)
			return
		}

		acct, err := h.svc.Credit(r.Context(), model.CreditRequest{
			UserID:    userID,
			Amount:    h.creditAmount,
			Reference: event.ID,
		})
		switch {
		case errors.Is(err, service.ErrAlreadyProcessed):
			log.Info().Msg("duplicate delivery, already credited")
		case errors.Is(err, service.ErrAccountNotFound):
			log.Warn().Str("user_id", userID).Msg("invoice user has no account, ignoring")
		case err != nil:
			h.respondServiceError(w, err)
			return
		default:
			log.Info().Str("user_id", userID).Int64("balance", acct.Balance).Msg("subscription charge credited")
		}

	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		userID := cs.Metadata["user_id"]
		if userID == "" {
			userID = cs.ClientReferenceID
		}
		if userID == "" || cs.Customer == nil || cs.Customer.ID == "" {
			log.Warn().Str("session_id", cs.ID).Msg("checkout session without user or customer, ignoring")
			break
		}
		err := h.svc.LinkStripeCustomer(r.Context(), userID, cs.Customer.ID)
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			log.Warn().Str("user_id", userID).Msg("checkout user has no account, ignoring")
		case errors.Is(err, service.ErrAccountExists):
			log.Warn().Str("user_id", userID).Str("customer_id", cs.Customer.ID).
				Msg("stripe customer already linked to another user, ignoring")
		case err != nil:
			h.respondServiceError(w, err)
			return
		default:
			log.Info().Str("user_id", userID).Str("customer_id", cs.Customer.ID).Msg("stripe customer linked")
		}

	default:
		log.Debug().Msg("unhandled stripe event")
	}

	h.respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) invoiceUser(r *http.Request, invoice *stripe.Invoice) (string, error) {
	if id := invoice.Metadata["user_id"]; id != "" {
		return id, nil
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		return "", service.ErrInvalidRequest
	}
	acct, err := h.svc.FindByStripeCustomer(r.Context(), invoice.Customer.ID)
	if err != nil {
		return "", err
	}
	return acct.UserID, nil
}
