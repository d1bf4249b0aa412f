package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const completionBody = `{
	"id": "cmpl-1",
	"object": "chat.completion",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "a red fox"}, "finish_reason": "stop"}]
}`

// newGenerationService points the provider client at a local test server.
func newGenerationService(credits CreditService, baseURL string) *GenerationService {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"
	return &GenerationService{
		credits: credits,
		client:  openai.NewClientWithConfig(cfg),
		model:   "gpt-4o-mini",
		logger:  zerolog.Nop(),
	}
}

func TestGenerateChargesOneCredit(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 5,
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected provider path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))
	defer srv.Close()

	gen := newGenerationService(svc, srv.URL)
	res, err := gen.Generate(context.Background(), "acct-1", "gen-1", "draw a fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "a red fox" {
		t.Fatalf("text = %q", res.Text)
	}
	if !res.Consume.Consumed || res.Consume.AlreadyConsumed {
		t.Fatalf("unexpected consume outcome %+v", res.Consume)
	}

	b, err := svc.GetBalance(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.AddonBalance != 4 {
		t.Fatalf("addon balance = %d, want 4 after one charge", b.AddonBalance)
	}
}

func TestGenerateRefundsOnProviderFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 5,
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	gen := newGenerationService(svc, srv.URL)
	if _, err := gen.Generate(context.Background(), "acct-1", "gen-1", "draw a fox"); err == nil {
		t.Fatal("expected provider failure to surface")
	}

	b, err := svc.GetBalance(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.AddonBalance != 5 {
		t.Fatalf("addon balance = %d, want 5 after refund", b.AddonBalance)
	}

	entries, err := store.ListLedger(context.Background(), "acct-1", 0, 0)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ledger has %d entries, want seed + usage + refund", len(entries))
	}
	if entries[0].Reason != model.ReasonRefund || entries[0].IdempotencyKey != "gen-1_refund" {
		t.Fatalf("newest entry = %+v, want the refund", entries[0])
	}
}

// A retry after a refunded failure replays the original charge while the
// refund stands, so the account ends up not paying for the generation. That
// is the accepted trade-off for never double-charging a retried key.
func TestGenerateRetryAfterRefundIsNetFree(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 5,
	})

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))
	defer srv.Close()

	gen := newGenerationService(svc, srv.URL)
	if _, err := gen.Generate(context.Background(), "acct-1", "gen-1", "draw a fox"); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	res, err := gen.Generate(context.Background(), "acct-1", "gen-1", "draw a fox")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Text != "a red fox" {
		t.Fatalf("retry text = %q", res.Text)
	}
	if !res.Consume.AlreadyConsumed {
		t.Fatal("retry should replay the original charge")
	}

	b, err := svc.GetBalance(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.AddonBalance != 5 {
		t.Fatalf("addon balance = %d, want 5: replayed charge plus standing refund", b.AddonBalance)
	}
}

func TestGenerateUnconfiguredProvider(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	gen := NewGenerationService(svc, "", "gpt-4o-mini", zerolog.Nop())

	if _, err := gen.Generate(context.Background(), "acct-1", "gen-1", "draw a fox"); err == nil {
		t.Fatal("expected error when no provider is configured")
	}
}
