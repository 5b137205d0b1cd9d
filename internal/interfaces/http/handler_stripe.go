package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const maxStripeBodyBytes = int64(65536)

// StripeWebhook applies checkout.session.completed events. The session's
// client_reference_id carries the encoded account key set by the payment
// link.
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.stripeSecret == "" {
		h.log.Warn().Msg("stripe webhook secret missing")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxStripeBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		h.stripeSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		h.log.Warn().Err(err).Msg("stripe webhook signature failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	if event.Type != "checkout.session.completed" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.log.Warn().Err(err).Msg("stripe session unmarshal failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
		return
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.log.Info().Str("session", sess.ID).Str("status", string(sess.PaymentStatus)).Msg("checkout not paid yet")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var res usecases.PaymentResult
	ev, err := paymentFromCheckout(&sess, time.Unix(event.Created, 0).UTC())
	if err == nil {
		res, err = h.payments.Confirm(c.Request.Context(), ev)
	}
	switch {
	case errors.Is(err, entities.ErrInvalidPayment):
		// acknowledged so Stripe stops retrying a session that can never apply
		h.log.Warn().Err(err).Str("session", sess.ID).Msg("stripe payment rejected")
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply payment"})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "status": res.Status})
	}
}

// paymentFromCheckout decodes the account key from client_reference_id and
// prefers the payment intent id as the charge id so a session and its
// intent can never be counted twice.
func paymentFromCheckout(sess *stripe.CheckoutSession, at time.Time) (entities.PaymentEvent, error) {
	externalID, err := usecases.AccountFromReference(sess.ClientReferenceID)
	if err != nil {
		return entities.PaymentEvent{}, err
	}
	chargeID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		chargeID = sess.PaymentIntent.ID
	}
	return entities.PaymentEvent{
		ExternalID: externalID,
		Amount:     sess.AmountTotal,
		Currency:   string(sess.Currency),
		ChargeID:   chargeID,
		Provider:   "stripe",
		Timestamp:  at,
	}, nil
}
