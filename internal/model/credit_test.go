package model

import "testing"

func TestSplitDebit(t *testing.T) {
	tests := []struct {
		name             string
		monthlyRemaining int
		addonBalance     int
		amount           int
		wantMonthly      int
		wantAddon        int
		wantSource       CreditSource
	}{
		{"monthly covers all", 10, 5, 3, 3, 0, SourceMonthly},
		{"exact monthly", 3, 5, 3, 3, 0, SourceMonthly},
		{"spill into addon", 2, 5, 5, 2, 3, SourceMonthly},
		{"monthly exhausted", 0, 5, 2, 0, 2, SourceAddon},
		{"single credit from addon", 0, 1, 1, 0, 1, SourceAddon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := SplitDebit(tt.monthlyRemaining, tt.addonBalance, tt.amount)
			if split.FromMonthly != tt.wantMonthly || split.FromAddon != tt.wantAddon {
				t.Fatalf("SplitDebit = {%d, %d}, want {%d, %d}", split.FromMonthly, split.FromAddon, tt.wantMonthly, tt.wantAddon)
			}
			if split.Source() != tt.wantSource {
				t.Fatalf("Source = %s, want %s", split.Source(), tt.wantSource)
			}
		})
	}
}

func TestPickThreshold(t *testing.T) {
	tests := []struct {
		remaining int
		wantKey   string
	}{
		{0, "remaining_0"},
		{1, "remaining_1"},
		{2, "remaining_3"},
		{3, "remaining_3"},
		{4, ""},
		{100, ""},
	}
	for _, tt := range tests {
		got := PickThreshold(tt.remaining)
		if tt.wantKey == "" {
			if got != nil {
				t.Fatalf("PickThreshold(%d) = %s, want nil", tt.remaining, got.Key)
			}
			continue
		}
		if got == nil || got.Key != tt.wantKey {
			t.Fatalf("PickThreshold(%d) = %v, want %s", tt.remaining, got, tt.wantKey)
		}
	}
}

func TestSubscriptionStatusEligible(t *testing.T) {
	eligible := []SubscriptionStatus{SubscriptionNone, SubscriptionTrialing, SubscriptionActive}
	for _, s := range eligible {
		if !s.Eligible() {
			t.Errorf("status %s should be eligible", s)
		}
	}
	ineligible := []SubscriptionStatus{SubscriptionPastDue, SubscriptionCanceled, SubscriptionUnpaid, SubscriptionIncompleteExpired}
	for _, s := range ineligible {
		if s.Eligible() {
			t.Errorf("status %s should not be eligible", s)
		}
	}
}

func TestCreditBalanceDerived(t *testing.T) {
	b := &CreditBalance{
		SubscriptionStatus: SubscriptionActive,
		MonthlyLimit:       10,
		MonthlyUsed:        8,
		AddonBalance:       5,
	}
	if got := b.MonthlyRemaining(); got != 2 {
		t.Fatalf("MonthlyRemaining = %d, want 2", got)
	}
	if got := b.TotalRemaining(); got != 7 {
		t.Fatalf("TotalRemaining = %d, want 7", got)
	}
	if !b.CanGenerate() {
		t.Fatal("expected CanGenerate to be true")
	}

	// A lowered limit never produces a negative remainder.
	b.MonthlyLimit = 5
	if got := b.MonthlyRemaining(); got != 0 {
		t.Fatalf("MonthlyRemaining after limit cut = %d, want 0", got)
	}
	if got := b.TotalRemaining(); got != 5 {
		t.Fatalf("TotalRemaining after limit cut = %d, want 5", got)
	}

	b.SubscriptionStatus = SubscriptionPastDue
	if b.CanGenerate() {
		t.Fatal("past_due account with credits must not generate")
	}
}
