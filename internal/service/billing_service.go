package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// BillingService is the ingestion boundary for payment events. It verifies
// Stripe webhook signatures and maps events onto engine operations; it never
// touches prices or money. Stripe event ids double as idempotency keys, so
// webhook redelivery is harmless.
type BillingService struct {
	credits       CreditService
	webhookSecret string
	logger        zerolog.Logger
}

// NewBillingService creates the webhook adapter with a scoped logger.
func NewBillingService(credits CreditService, webhookSecret string, logger zerolog.Logger) *BillingService {
	return &BillingService{
		credits:       credits,
		webhookSecret: webhookSecret,
		logger:        logger.With().Str("service", "BillingService").Logger(),
	}
}

// HandleWebhook processes Stripe webhook events.
func (s *BillingService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, s.webhookSecret)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			s.logger.Error().Err(err).Msg("Invalid checkout.session data")
			http.Error(w, "invalid checkout.session data", http.StatusBadRequest)
			return
		}
		accountID := cs.Metadata["account_id"]
		if accountID == "" {
			s.logger.Error().Str("session_id", cs.ID).Msg("Missing account_id in checkout session metadata")
			http.Error(w, "missing account_id in metadata", http.StatusBadRequest)
			return
		}
		credits, err := strconv.Atoi(cs.Metadata["credits"])
		if err != nil || credits <= 0 {
			// Subscription checkouts have no credits metadata; the
			// customer.subscription.* events carry the allowance instead.
			s.logger.Info().Str("session_id", cs.ID).Msg("Checkout session without addon credits, skipping")
			w.WriteHeader(http.StatusOK)
			return
		}
		if _, err := s.credits.Adjust(ctx, AdjustParams{
			AccountID:      accountID,
			Amount:         credits,
			Reason:         model.ReasonAddonPurchase,
			AdjustedBy:     "stripe",
			IdempotencyKey: "stripe_" + event.ID,
		}); err != nil {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to apply addon purchase")
			http.Error(w, "failed to apply purchase", http.StatusInternalServerError)
			return
		}

	case "customer.subscription.created", "customer.subscription.updated":
		state, ok := s.subscriptionState(w, event)
		if !ok {
			return
		}
		if err := s.applyState(ctx, *state); err != nil {
			s.logger.Error().Err(err).Str("account_id", state.AccountID).Msg("Failed to apply subscription state")
			http.Error(w, "failed to apply subscription state", http.StatusInternalServerError)
			return
		}

	case "customer.subscription.deleted":
		state, ok := s.subscriptionState(w, event)
		if !ok {
			return
		}
		state.Status = model.SubscriptionCanceled
		state.MonthlyLimit = 0
		state.PeriodStart = time.Time{} // keep the current period bounds
		if err := s.applyState(ctx, *state); err != nil {
			s.logger.Error().Err(err).Str("account_id", state.AccountID).Msg("Failed to cancel subscription state")
			http.Error(w, "failed to apply subscription state", http.StatusInternalServerError)
			return
		}

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			s.logger.Error().Err(err).Msg("Invalid invoice.payment_failed payload")
			http.Error(w, "invalid invoice data", http.StatusBadRequest)
			return
		}
		accountID := invoice.Metadata["account_id"]
		if accountID == "" {
			s.logger.Warn().Str("invoice_id", invoice.ID).Msg("Invoice without account_id metadata, skipping")
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := s.applyState(ctx, SubscriptionState{
			AccountID:    accountID,
			Status:       model.SubscriptionPastDue,
			MonthlyLimit: -1, // leave the allowance unchanged
			EventID:      event.ID,
		}); err != nil {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to mark account past_due")
			http.Error(w, "failed to mark past_due", http.StatusInternalServerError)
			return
		}

	default:
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
	}
	w.WriteHeader(http.StatusOK)
}

// subscriptionState extracts the engine-facing state from a subscription
// event. It writes the HTTP error response itself and reports ok=false when
// the payload is unusable.
func (s *BillingService) subscriptionState(w http.ResponseWriter, event stripe.Event) (*SubscriptionState, bool) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		s.logger.Error().Err(err).Msg("Invalid subscription payload")
		http.Error(w, "invalid subscription data", http.StatusBadRequest)
		return nil, false
	}
	accountID := sub.Metadata["account_id"]
	if accountID == "" {
		s.logger.Error().Str("subscription_id", sub.ID).Msg("Missing account_id in subscription metadata")
		http.Error(w, "missing account_id in metadata", http.StatusBadRequest)
		return nil, false
	}
	if len(sub.Items.Data) == 0 {
		s.logger.Error().Str("subscription_id", sub.ID).Msg("Subscription has no items")
		http.Error(w, "subscription has no items", http.StatusBadRequest)
		return nil, false
	}
	item := sub.Items.Data[0]

	planKey := sub.Metadata["plan_key"]
	if planKey == "" && item.Price != nil {
		planKey = item.Price.ID
	}
	// The monthly allowance rides on subscription metadata; pricing stays
	// entirely on the Stripe side.
	monthlyLimit := -1
	if v, err := strconv.Atoi(sub.Metadata["monthly_credits"]); err == nil && v >= 0 {
		monthlyLimit = v
	}

	return &SubscriptionState{
		AccountID:    accountID,
		PlanKey:      planKey,
		Status:       mapSubscriptionStatus(sub.Status),
		MonthlyLimit: monthlyLimit,
		PeriodStart:  time.Unix(item.CurrentPeriodStart, 0),
		PeriodEnd:    time.Unix(item.CurrentPeriodEnd, 0),
		EventID:      event.ID,
	}, true
}

// applyState initializes the balance on first contact, then projects the
// subscription state onto it.
func (s *BillingService) applyState(ctx context.Context, state SubscriptionState) error {
	err := s.credits.ApplySubscriptionState(ctx, state)
	if errors.Is(err, repository.ErrAccountNotFound) {
		if err := s.credits.InitializeAccount(ctx, state.AccountID, state.PlanKey); err != nil {
			return err
		}
		return s.credits.ApplySubscriptionState(ctx, state)
	}
	return err
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return model.SubscriptionTrialing
	case stripe.SubscriptionStatusActive:
		return model.SubscriptionActive
	case stripe.SubscriptionStatusPastDue:
		return model.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return model.SubscriptionCanceled
	case stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionUnpaid
	case stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionIncompleteExpired
	default:
		return model.SubscriptionNone
	}
}
