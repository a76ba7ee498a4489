package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/middleware"
	"github.com/toricodesthings/ghostgate/internal/payments"
	"github.com/toricodesthings/ghostgate/internal/plans"
)

type checkoutSessionRequest struct {
	PriceID string `json:"priceId"`
}

// CreateCheckoutSession creates (or reuses) a Stripe customer for the
// caller, then opens a checkout session for the requested price.
func (s *State) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())

	body, err := decodeJSONBody[checkoutSessionRequest](r)
	if err != nil || strings.TrimSpace(body.PriceID) == "" {
		writeErr(w, http.StatusBadRequest, "Missing or invalid priceId")
		return
	}

	email, err := s.Directory.GetPrimaryEmail(r.Context(), clerkID)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch user email for checkout")
		writeErr(w, http.StatusInternalServerError, "Failed to look up user")
		return
	}

	customerID, err := s.getOrCreateStripeCustomer(r.Context(), clerkID, email)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve stripe customer")
		writeErr(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	frontend := strings.TrimSuffix(s.Config.FrontendURL, "/")
	session, err := s.Payments.CreateCheckoutSession(r.Context(), customerID, body.PriceID,
		frontend+"/billing?checkout=success", frontend+"/billing?checkout=cancelled")
	if err != nil {
		log.Error().Err(err).Msg("failed to create checkout session")
		writeErr(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"url": session.URL})
}

// getOrCreateStripeCustomer looks up a previously linked Stripe
// customer for clerkID, or creates one and records the link via the
// backend's stripe:linkCustomer action.
func (s *State) getOrCreateStripeCustomer(ctx context.Context, clerkID, email string) (string, error) {
	existing, err := s.lookupStripeCustomerID(ctx, clerkID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	customer, err := s.Payments.CreateCustomer(ctx, email, clerkID)
	if err != nil {
		return "", err
	}

	if _, err := s.Backend.Action(ctx, "stripe:linkCustomer", map[string]any{
		"clerkId":    clerkID,
		"customerId": customer.ID,
	}); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// lookupStripeCustomerID returns "" (no error) if the user has no
// linked Stripe customer yet.
func (s *State) lookupStripeCustomerID(ctx context.Context, clerkID string) (string, error) {
	raw, err := s.Backend.Query(ctx, "stripe:getCustomerIdForClerkUser", map[string]any{"clerkId": clerkID})
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var customerID string
	if err := json.Unmarshal(raw, &customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

// getClerkIDForCustomer is the inverse lookup, used when a webhook
// only carries a Stripe customer id.
func (s *State) getClerkIDForCustomer(ctx context.Context, customerID string) (string, error) {
	raw, err := s.Backend.Query(ctx, "stripe:getClerkIdForCustomer", map[string]any{"customerId": customerID})
	if err != nil {
		return "", err
	}
	var clerkID string
	if err := json.Unmarshal(raw, &clerkID); err != nil {
		return "", err
	}
	return clerkID, nil
}

// syncSubscriptionFromStripe writes a Stripe subscription's current
// plan/status/period back to the backend, resolving the plan from the
// subscription's first line item's price via the configured price map.
func (s *State) syncSubscriptionFromStripe(ctx context.Context, clerkID string, subscription payments.Subscription) error {
	planID := plans.Free
	if len(subscription.Items.Data) > 0 {
		if resolved, ok := s.PriceMap.GetPlanForPriceID(subscription.Items.Data[0].Price.ID); ok {
			planID = resolved
		}
	}

	var currentPeriodEnd any
	if subscription.CurrentPeriodEnd != nil {
		currentPeriodEnd = *subscription.CurrentPeriodEnd
	}

	_, err := s.Backend.Action(ctx, "subscriptions:upsertFromStripe", map[string]any{
		"clerkId":              clerkID,
		"stripeSubscriptionId": subscription.ID,
		"plan":                 string(planID),
		"status":               subscription.Status,
		"currentPeriodEnd":     currentPeriodEnd,
	})
	return err
}

type syncSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SyncStripeSession re-reads a completed checkout session and writes
// the resulting subscription state back to the backend.
func (s *State) SyncStripeSession(w http.ResponseWriter, r *http.Request) {
	body, err := decodeJSONBody[syncSessionRequest](r)
	if err != nil || strings.TrimSpace(body.SessionID) == "" {
		writeErr(w, http.StatusBadRequest, "Missing or invalid sessionId")
		return
	}

	session, err := s.Payments.RetrieveCheckoutSession(r.Context(), body.SessionID)
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve checkout session")
		writeErr(w, http.StatusNotFound, "Checkout session not found")
		return
	}
	if session.Status != "complete" || session.Subscription == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Checkout session not yet complete."})
		return
	}

	subscription, err := s.Payments.RetrieveSubscription(r.Context(), session.Subscription.ID())
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve subscription")
		writeErr(w, http.StatusInternalServerError, "Failed to sync subscription")
		return
	}

	clerkID, err := s.getClerkIDForCustomer(r.Context(), subscription.Customer.ID())
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve clerk id for customer")
		writeErr(w, http.StatusInternalServerError, "Failed to sync subscription")
		return
	}

	if err := s.syncSubscriptionFromStripe(r.Context(), clerkID, subscription); err != nil {
		log.Error().Err(err).Msg("failed to persist synced subscription")
		writeErr(w, http.StatusInternalServerError, "Failed to sync subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Subscription synced."})
}

// CreateCustomerPortalSession opens a Stripe billing-portal session for
// the caller's existing customer.
func (s *State) CreateCustomerPortalSession(w http.ResponseWriter, r *http.Request) {
	clerkID, _ := middleware.ClerkIDFromContext(r.Context())

	customerID, err := s.lookupStripeCustomerID(r.Context(), clerkID)
	if err != nil || customerID == "" {
		writeErr(w, http.StatusNotFound, "No billing account found for this user")
		return
	}

	frontend := strings.TrimSuffix(s.Config.FrontendURL, "/")
	session, err := s.Payments.CreateBillingPortalSession(r.Context(), customerID, frontend+"/billing")
	if err != nil {
		log.Error().Err(err).Msg("failed to create billing portal session")
		writeErr(w, http.StatusInternalServerError, "Failed to create billing portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"url": session.URL})
}

// HandleStripeWebhook verifies and dispatches incoming Stripe events.
// Unauthenticated by design; signature verification is the auth.
func (s *State) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "Failed to read webhook body")
		return
	}

	event, err := s.Payments.ParseEvent(payload, r.Header.Get("Stripe-Signature"), time.Now())
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSecretNotConfigured) {
			log.Error().Msg("stripe webhook secret is not configured")
			writeErr(w, http.StatusInternalServerError, "Webhook secret is not configured")
			return
		}
		log.Warn().Err(err).Msg("rejected stripe webhook")
		writeErr(w, http.StatusBadRequest, "Invalid signature.")
		return
	}

	ctx := r.Context()

	switch event.Type {
	case "checkout.session.completed":
		var session payments.CheckoutSession
		if jsonErr := json.Unmarshal(event.Data.Object, &session); jsonErr == nil && session.Subscription != nil {
			s.syncSubscriptionByID(ctx, session.Subscription.ID())
		}
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var subscription payments.Subscription
		if jsonErr := json.Unmarshal(event.Data.Object, &subscription); jsonErr == nil {
			s.applySubscriptionWebhook(ctx, subscription)
		}
	case "invoice.payment_succeeded", "invoice.payment_failed":
		var invoice payments.Invoice
		if jsonErr := json.Unmarshal(event.Data.Object, &invoice); jsonErr == nil && invoice.Subscription != nil {
			s.syncSubscriptionByID(ctx, invoice.Subscription.ID())
		}
	default:
		log.Debug().Str("type", event.Type).Msg("ignoring unhandled stripe event type")
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *State) syncSubscriptionByID(ctx context.Context, subscriptionID string) {
	subscription, err := s.Payments.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("failed to retrieve subscription for webhook sync")
		return
	}
	s.applySubscriptionWebhook(ctx, subscription)
}

func (s *State) applySubscriptionWebhook(ctx context.Context, subscription payments.Subscription) {
	clerkID, err := s.getClerkIDForCustomer(ctx, subscription.Customer.ID())
	if err != nil {
		log.Error().Err(err).Str("customer_id", subscription.Customer.ID()).Msg("failed to resolve clerk id for webhook subscription")
		return
	}
	if err := s.syncSubscriptionFromStripe(ctx, clerkID, subscription); err != nil {
		log.Error().Err(err).Msg("failed to persist webhook subscription sync")
	}
}
