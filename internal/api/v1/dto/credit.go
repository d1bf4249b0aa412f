package dto

import "time"

// ConsumeRequestDTO is the body of a consumption attempt. Amount defaults to
// 1 when omitted.
type ConsumeRequestDTO struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	Amount         int    `json:"amount,omitempty" validate:"omitempty,min=1,max=10"`
}

// ConsumeResponseDTO reports the outcome of a consumption attempt.
type ConsumeResponseDTO struct {
	Consumed        bool   `json:"consumed"`
	AlreadyConsumed bool   `json:"already_consumed"`
	Source          string `json:"source"`
	MonthlyUsed     int    `json:"monthly_used"`
	AddonBalance    int    `json:"addon_balance"`
}

// BalanceResponseDTO is the account's current credit standing.
type BalanceResponseDTO struct {
	AccountID          string    `json:"account_id"`
	PlanKey            string    `json:"plan_key"`
	SubscriptionStatus string    `json:"subscription_status"`
	MonthlyLimit       int       `json:"monthly_limit"`
	MonthlyUsed        int       `json:"monthly_used"`
	MonthlyRemaining   int       `json:"monthly_remaining"`
	AddonBalance       int       `json:"addon_balance"`
	AddonRemaining     int       `json:"addon_remaining"`
	TotalRemaining     int       `json:"total_remaining"`
	CanGenerate        bool      `json:"can_generate"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
}

// LedgerEntryDTO is one row of the audit trail.
type LedgerEntryDTO struct {
	ID             string    `json:"id"`
	Amount         int       `json:"amount"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	MonthlyUsed    int       `json:"monthly_used"`
	AddonBalance   int       `json:"addon_balance"`
	CreatedAt      time.Time `json:"created_at"`
}

// LedgerPageDTO is one page of ledger history, newest first.
type LedgerPageDTO struct {
	Entries []LedgerEntryDTO `json:"entries"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// InitAccountRequestDTO seeds a balance record at billing setup.
type InitAccountRequestDTO struct {
	PlanKey string `json:"plan_key,omitempty" validate:"omitempty,max=64"`
}

// AdjustRequestDTO is a privileged addon-balance adjustment.
type AdjustRequestDTO struct {
	AccountID      string `json:"account_id" validate:"required,max=128"`
	Amount         int    `json:"amount" validate:"required"`
	Reason         string `json:"reason,omitempty" validate:"omitempty,oneof=manual_adjustment addon_purchase refund"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// AdjustResponseDTO reports the adjustment outcome.
type AdjustResponseDTO struct {
	NewAddonBalance int    `json:"new_addon_balance"`
	AdjustedBy      string `json:"adjusted_by"`
	AdjustedByAdmin bool   `json:"adjusted_by_admin"`
	AlreadyApplied  bool   `json:"already_applied"`
}

// ExportRequestDTO asks for a full ledger export of one account.
type ExportRequestDTO struct {
	AccountID string `json:"account_id" validate:"required,max=128"`
}

// ExportResponseDTO points at the uploaded export object.
type ExportResponseDTO struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// GenerateRequestDTO is a credit-gated generation request.
type GenerateRequestDTO struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	Prompt         string `json:"prompt" validate:"required,max=4000"`
}

// GenerateResponseDTO carries the generated text and the charge outcome.
type GenerateResponseDTO struct {
	Text            string `json:"text"`
	Consumed        bool   `json:"consumed"`
	AlreadyConsumed bool   `json:"already_consumed"`
	Source          string `json:"source"`
}
