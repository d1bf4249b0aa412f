package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

func TestMapSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   stripe.SubscriptionStatus
		want model.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusTrialing, model.SubscriptionTrialing},
		{stripe.SubscriptionStatusActive, model.SubscriptionActive},
		{stripe.SubscriptionStatusPastDue, model.SubscriptionPastDue},
		{stripe.SubscriptionStatusCanceled, model.SubscriptionCanceled},
		{stripe.SubscriptionStatusUnpaid, model.SubscriptionUnpaid},
		{stripe.SubscriptionStatusIncompleteExpired, model.SubscriptionIncompleteExpired},
		{stripe.SubscriptionStatusIncomplete, model.SubscriptionNone},
	}
	for _, tt := range tests {
		if got := mapSubscriptionStatus(tt.in); got != tt.want {
			t.Errorf("mapSubscriptionStatus(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	billing := NewBillingService(svc, "whsec_test", zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	billing.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a forged signature", rec.Code)
	}
}

func TestApplyStateInitializesMissingAccount(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	billing := NewBillingService(svc, "whsec_test", zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	err := billing.applyState(ctx, SubscriptionState{
		AccountID:    "acct-new",
		PlanKey:      "pro",
		Status:       model.SubscriptionActive,
		MonthlyLimit: 20,
		PeriodStart:  start,
		PeriodEnd:    start.AddDate(0, 1, 0),
		EventID:      "evt_1",
	})
	if err != nil {
		t.Fatalf("applyState: %v", err)
	}

	b, err := svc.GetBalance(ctx, "acct-new")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.SubscriptionStatus != model.SubscriptionActive || b.MonthlyLimit != 20 {
		t.Fatalf("balance = %+v, subscription state not applied", b)
	}
	// First contact also seeds the free-tier grant.
	if b.AddonBalance != 25 {
		t.Fatalf("addon balance = %d, want the free-tier 25", b.AddonBalance)
	}
}
