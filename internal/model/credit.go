package model

import "time"

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionNone              SubscriptionStatus = "none"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// Eligible reports whether the subscription state permits spending credits.
// Balance is irrelevant here: a past_due account with credits still may not spend.
func (s SubscriptionStatus) Eligible() bool {
	switch s {
	case SubscriptionPastDue, SubscriptionCanceled, SubscriptionUnpaid, SubscriptionIncompleteExpired:
		return false
	}
	return true
}

// LedgerReason classifies a balance-affecting operation.
type LedgerReason string

const (
	ReasonUsage            LedgerReason = "usage"
	ReasonManualAdjustment LedgerReason = "manual_adjustment"
	ReasonAddonPurchase    LedgerReason = "addon_purchase"
	ReasonMonthlyReset     LedgerReason = "monthly_reset"
	ReasonRefund           LedgerReason = "refund"
)

// CreditSource identifies which pool a debit was primarily drawn from.
type CreditSource string

const (
	SourceMonthly CreditSource = "monthly"
	SourceAddon   CreditSource = "addon"
)

// CreditBalance is the per-account balance record. Monthly credits are
// forfeited at period end; addon credits persist until spent.
type CreditBalance struct {
	AccountID          string             `db:"account_id" json:"account_id"`
	PlanKey            string             `db:"plan_key" json:"plan_key"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	MonthlyLimit       int                `db:"monthly_limit" json:"monthly_limit"`
	MonthlyUsed        int                `db:"monthly_used" json:"monthly_used"`
	AddonBalance       int                `db:"addon_balance" json:"addon_balance"`
	PeriodStart        time.Time          `db:"period_start" json:"period_start"`
	PeriodEnd          time.Time          `db:"period_end" json:"period_end"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// MonthlyRemaining is never negative, even if a rollover lowered the limit
// below what was already used this period.
func (b *CreditBalance) MonthlyRemaining() int {
	if r := b.MonthlyLimit - b.MonthlyUsed; r > 0 {
		return r
	}
	return 0
}

// TotalRemaining is the spendable credit count across both pools.
func (b *CreditBalance) TotalRemaining() int {
	return b.MonthlyRemaining() + b.AddonBalance
}

// CanGenerate reports whether a consume call could succeed right now.
func (b *CreditBalance) CanGenerate() bool {
	return b.SubscriptionStatus.Eligible() && b.TotalRemaining() > 0
}

// LedgerEntry is one immutable row of the audit trail. Amount is the signed
// change in total remaining credits, so summing entries reproduces any
// balance movement exactly. MonthlyUsed and AddonBalance snapshot the
// balance after the mutation.
type LedgerEntry struct {
	ID             string       `db:"id" json:"id"`
	AccountID      string       `db:"account_id" json:"account_id"`
	Amount         int          `db:"amount" json:"amount"`
	Reason         LedgerReason `db:"reason" json:"reason"`
	Source         CreditSource `db:"source" json:"source"`
	IdempotencyKey string       `db:"idempotency_key" json:"idempotency_key,omitempty"`
	MonthlyUsed    int          `db:"monthly_used" json:"monthly_used"`
	AddonBalance   int          `db:"addon_balance" json:"addon_balance"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// Notification records a delivered low-balance alert. The unique
// (account, threshold, period) constraint in storage enforces the
// once-per-period guarantee.
type Notification struct {
	ID           string    `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	ThresholdKey string    `db:"threshold_key" json:"threshold_key"`
	PeriodStart  time.Time `db:"period_start" json:"period_start"`
	Payload      []byte    `db:"payload" json:"payload"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ConsumeResult reports the outcome of a consumption attempt.
type ConsumeResult struct {
	Consumed        bool         `json:"consumed"`
	AlreadyConsumed bool         `json:"already_consumed"`
	Source          CreditSource `json:"source"`
	MonthlyUsed     int          `json:"monthly_used"`
	AddonBalance    int          `json:"addon_balance"`
}

// DebitSplit is the outcome of dividing one debit across the two pools.
type DebitSplit struct {
	FromMonthly int
	FromAddon   int
}

// Source is the primary pool the debit drew from. Monthly wins whenever it
// contributed anything, since it is exhausted first.
func (d DebitSplit) Source() CreditSource {
	if d.FromMonthly > 0 {
		return SourceMonthly
	}
	return SourceAddon
}

// SplitDebit draws from the monthly allowance first and spills the remainder
// into the addon pool. Monthly credits are use-it-or-lose-it, so spending
// them before purchased credits maximizes what the account keeps.
// The caller must have verified monthlyRemaining+addonBalance >= amount.
func SplitDebit(monthlyRemaining, addonBalance, amount int) DebitSplit {
	fromMonthly := amount
	if fromMonthly > monthlyRemaining {
		fromMonthly = monthlyRemaining
	}
	return DebitSplit{FromMonthly: fromMonthly, FromAddon: amount - fromMonthly}
}

// Threshold is one row of the fixed low-balance alert table.
type Threshold struct {
	Remaining int
	Key       string
	Template  string
}

// Thresholds is ordered most specific first; PickThreshold returns the first
// match so an account dropping straight to 0 gets "remaining_0", not all three.
var Thresholds = []Threshold{
	{Remaining: 0, Key: "remaining_0", Template: "You're out of credits. Buy more to keep generating."},
	{Remaining: 1, Key: "remaining_1", Template: "Only 1 credit left."},
	{Remaining: 3, Key: "remaining_3", Template: "You're running low: 3 or fewer credits left."},
}

// PickThreshold returns the first threshold that totalRemaining has crossed,
// or nil when the balance is still above all of them.
func PickThreshold(totalRemaining int) *Threshold {
	for i := range Thresholds {
		if totalRemaining <= Thresholds[i].Remaining {
			return &Thresholds[i]
		}
	}
	return nil
}
