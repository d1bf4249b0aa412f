package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/metrics"
	"app/internal/model"
	"app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Closed error set of the consumption engine. Handlers map these to distinct
// HTTP responses; anything else is a storage failure and surfaces as a
// generic retryable error.
var (
	ErrInsufficientCredits    = errors.New("insufficient_credits")
	ErrSubscriptionIneligible = errors.New("subscription_ineligible")
	ErrInvalidRequest         = errors.New("invalid_request")
)

const (
	// Per-call amount bounds. A single generation costs 1; batch endpoints
	// may charge up to 10 in one attempt.
	minConsumeAmount = 1
	maxConsumeAmount = 10

	maxIdempotencyKeyLen = 128

	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 200
)

// ThresholdNotifier receives the post-debit balance after every successful
// consumption. Implementations must be best-effort: they log their own
// failures and never return them into the consumption path.
type ThresholdNotifier interface {
	BalanceChanged(ctx context.Context, balance *model.CreditBalance)
}

// AdjustParams describes a privileged addon-balance adjustment.
type AdjustParams struct {
	AccountID  string
	Amount     int // signed
	Reason     model.LedgerReason
	AdjustedBy string
	// IdempotencyKey is optional. Callers with a natural key (a payment
	// event id, a refund derived from a consume key) should pass it;
	// otherwise one is synthesized from AdjustedBy and the current time.
	IdempotencyKey string
}

// AdjustResult reports the outcome of an adjustment.
type AdjustResult struct {
	NewAddonBalance int
	AdjustedBy      string
	AlreadyApplied  bool
}

// SubscriptionState is the engine-facing projection of a payment-provider
// subscription event.
type SubscriptionState struct {
	AccountID    string
	PlanKey      string
	Status       model.SubscriptionStatus
	MonthlyLimit int
	PeriodStart  time.Time
	PeriodEnd    time.Time
	// EventID keys the resulting ledger entry so redelivered events are no-ops.
	EventID string
}

// CreditService is the credit ledger and consumption engine.
type CreditService interface {
	Consume(ctx context.Context, accountID, idempotencyKey string, amount int) (*model.ConsumeResult, error)
	Adjust(ctx context.Context, p AdjustParams) (*AdjustResult, error)
	InitializeAccount(ctx context.Context, accountID, planKey string) error
	ResetPeriod(ctx context.Context, accountID string, newLimit int, newStart, newEnd time.Time) error
	ApplySubscriptionState(ctx context.Context, p SubscriptionState) error
	GetBalance(ctx context.Context, accountID string) (*model.CreditBalance, error)
	ListLedger(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)
}

type creditService struct {
	store    repository.Store
	notifier ThresholdNotifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	freeTierCredits int
	now             func() time.Time
	newID           func() string
}

// NewCreditService creates the engine. notifier and m may be nil.
func NewCreditService(store repository.Store, notifier ThresholdNotifier, m *metrics.Metrics, logger zerolog.Logger, freeTierCredits int) CreditService {
	return &creditService{
		store:           store,
		notifier:        notifier,
		metrics:         m,
		logger:          logger.With().Str("service", "CreditService").Logger(),
		freeTierCredits: freeTierCredits,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Consume spends credits for one logical attempt, identified by its
// idempotency key. Replays of an already-honored key return the original
// outcome without touching the balance. The idempotency lookup, eligibility
// and sufficiency checks, debit, and ledger append all run inside one
// per-account atomic unit.
func (s *creditService) Consume(ctx context.Context, accountID, idempotencyKey string, amount int) (*model.ConsumeResult, error) {
	if amount == 0 {
		amount = minConsumeAmount
	}
	if amount < minConsumeAmount || amount > maxConsumeAmount {
		s.metrics.ConsumeAttempt("invalid")
		return nil, fmt.Errorf("%w: amount must be between %d and %d", ErrInvalidRequest, minConsumeAmount, maxConsumeAmount)
	}
	if idempotencyKey == "" || len(idempotencyKey) > maxIdempotencyKeyLen {
		s.metrics.ConsumeAttempt("invalid")
		return nil, fmt.Errorf("%w: idempotency key is required and at most %d bytes", ErrInvalidRequest, maxIdempotencyKeyLen)
	}

	var (
		result model.ConsumeResult
		after  model.CreditBalance
	)
	err := s.store.WithAccountTx(ctx, accountID, func(tx repository.AccountTx) error {
		// The replay check runs strictly before any balance read: a retried
		// request that already succeeded must never be re-judged against a
		// balance that has since changed.
		prior, err := tx.FindLedgerEntryByKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			result = model.ConsumeResult{
				Consumed:        true,
				AlreadyConsumed: true,
				Source:          prior.Source,
				MonthlyUsed:     prior.MonthlyUsed,
				AddonBalance:    prior.AddonBalance,
			}
			return nil
		}

		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		if !balance.SubscriptionStatus.Eligible() {
			return fmt.Errorf("account %s status %s: %w", accountID, balance.SubscriptionStatus, ErrSubscriptionIneligible)
		}
		if balance.TotalRemaining() < amount {
			return fmt.Errorf("account %s has %d remaining, needs %d: %w", accountID, balance.TotalRemaining(), amount, ErrInsufficientCredits)
		}

		split := model.SplitDebit(balance.MonthlyRemaining(), balance.AddonBalance, amount)
		balance.MonthlyUsed += split.FromMonthly
		balance.AddonBalance -= split.FromAddon

		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &model.LedgerEntry{
			ID:             s.newID(),
			AccountID:      accountID,
			Amount:         -amount,
			Reason:         model.ReasonUsage,
			Source:         split.Source(),
			IdempotencyKey: idempotencyKey,
			MonthlyUsed:    balance.MonthlyUsed,
			AddonBalance:   balance.AddonBalance,
			CreatedAt:      s.now(),
		}); err != nil {
			return err
		}

		result = model.ConsumeResult{
			Consumed:     true,
			Source:       split.Source(),
			MonthlyUsed:  balance.MonthlyUsed,
			AddonBalance: balance.AddonBalance,
		}
		after = *balance
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionIneligible):
			s.metrics.ConsumeAttempt("ineligible")
		case errors.Is(err, ErrInsufficientCredits):
			s.metrics.ConsumeAttempt("insufficient")
		case errors.Is(err, repository.ErrIdempotencyKeyConflict):
			s.metrics.ConsumeAttempt("conflict")
		default:
			s.metrics.ConsumeAttempt("error")
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Consume failed")
		}
		return nil, err
	}

	if result.AlreadyConsumed {
		s.metrics.ConsumeAttempt("already_consumed")
		return &result, nil
	}

	s.metrics.ConsumeAttempt("consumed")
	s.metrics.CreditsConsumed(string(result.Source), amount)

	// Threshold evaluation is best-effort and runs after the debit has
	// committed; a notifier failure never unwinds the consumption.
	if s.notifier != nil {
		s.notifier.BalanceChanged(ctx, &after)
	}
	return &result, nil
}

// Adjust credits or debits the addon balance directly, bypassing the monthly
// and eligibility logic. The balance floors at zero; the ledger records the
// effective delta so the audit trail still sums exactly.
func (s *creditService) Adjust(ctx context.Context, p AdjustParams) (*AdjustResult, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: adjustment amount must be non-zero", ErrInvalidRequest)
	}
	switch p.Reason {
	case model.ReasonManualAdjustment, model.ReasonAddonPurchase, model.ReasonRefund:
	case "":
		p.Reason = model.ReasonManualAdjustment
	default:
		return nil, fmt.Errorf("%w: reason %q is not an adjustment reason", ErrInvalidRequest, p.Reason)
	}
	if p.AdjustedBy == "" {
		return nil, fmt.Errorf("%w: adjusted_by is required", ErrInvalidRequest)
	}
	key := p.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("admin_%s_%d", p.AdjustedBy, s.now().UnixNano())
	}

	var result AdjustResult
	err := s.store.WithAccountTx(ctx, p.AccountID, func(tx repository.AccountTx) error {
		prior, err := tx.FindLedgerEntryByKey(ctx, key)
		if err != nil {
			return err
		}
		if prior != nil {
			result = AdjustResult{NewAddonBalance: prior.AddonBalance, AdjustedBy: p.AdjustedBy, AlreadyApplied: true}
			return nil
		}

		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		newAddon := balance.AddonBalance + p.Amount
		if newAddon < 0 {
			newAddon = 0
		}
		effective := newAddon - balance.AddonBalance
		balance.AddonBalance = newAddon

		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &model.LedgerEntry{
			ID:             s.newID(),
			AccountID:      p.AccountID,
			Amount:         effective,
			Reason:         p.Reason,
			Source:         model.SourceAddon,
			IdempotencyKey: key,
			MonthlyUsed:    balance.MonthlyUsed,
			AddonBalance:   balance.AddonBalance,
			CreatedAt:      s.now(),
		}); err != nil {
			return err
		}
		result = AdjustResult{NewAddonBalance: balance.AddonBalance, AdjustedBy: p.AdjustedBy}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", p.AccountID).Str("reason", string(p.Reason)).Msg("Adjustment failed")
		return nil, err
	}
	if !result.AlreadyApplied {
		s.metrics.Adjustment(string(p.Reason))
	}
	return &result, nil
}

// InitializeAccount creates the balance row at billing setup with the
// free-tier addon grant. The grant is keyed on free_tier_<accountID>, so
// repeated initialization never double-grants.
func (s *creditService) InitializeAccount(ctx context.Context, accountID, planKey string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	if planKey == "" {
		planKey = "free"
	}
	now := s.now()
	balance := &model.CreditBalance{
		AccountID:          accountID,
		PlanKey:            planKey,
		SubscriptionStatus: model.SubscriptionNone,
		MonthlyLimit:       0,
		MonthlyUsed:        0,
		AddonBalance:       s.freeTierCredits,
		PeriodStart:        now,
		PeriodEnd:          now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	grant := &model.LedgerEntry{
		ID:             s.newID(),
		AccountID:      accountID,
		Amount:         s.freeTierCredits,
		Reason:         model.ReasonManualAdjustment,
		Source:         model.SourceAddon,
		IdempotencyKey: "free_tier_" + accountID,
		MonthlyUsed:    0,
		AddonBalance:   s.freeTierCredits,
		CreatedAt:      now,
	}
	created, err := s.store.CreateBalance(ctx, balance, grant)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Account initialization failed")
		return err
	}
	if created {
		s.logger.Info().Str("account_id", accountID).Int("free_credits", s.freeTierCredits).Msg("Account balance initialized")
	}
	return nil
}

// ResetPeriod zeroes monthly usage at renewal. Unused monthly credits are
// forfeited; the addon balance is untouched. The reset is keyed on the new
// period start, so a re-triggered rollover is a no-op.
func (s *creditService) ResetPeriod(ctx context.Context, accountID string, newLimit int, newStart, newEnd time.Time) error {
	if newLimit < 0 {
		return fmt.Errorf("%w: monthly limit cannot be negative", ErrInvalidRequest)
	}
	if !newEnd.After(newStart) {
		return fmt.Errorf("%w: period end must be after period start", ErrInvalidRequest)
	}
	key := fmt.Sprintf("reset_%s_%d", accountID, newStart.Unix())

	err := s.store.WithAccountTx(ctx, accountID, func(tx repository.AccountTx) error {
		prior, err := tx.FindLedgerEntryByKey(ctx, key)
		if err != nil || prior != nil {
			return err
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		forfeited := balance.MonthlyRemaining()
		balance.MonthlyLimit = newLimit
		balance.MonthlyUsed = 0
		balance.PeriodStart = newStart
		balance.PeriodEnd = newEnd

		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, &model.LedgerEntry{
			ID:             s.newID(),
			AccountID:      accountID,
			Amount:         newLimit - forfeited,
			Reason:         model.ReasonMonthlyReset,
			Source:         model.SourceMonthly,
			IdempotencyKey: key,
			MonthlyUsed:    0,
			AddonBalance:   balance.AddonBalance,
			CreatedAt:      s.now(),
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Period reset failed")
		return err
	}
	s.metrics.Rollover()
	return nil
}

// ApplySubscriptionState projects a payment-provider subscription event onto
// the balance: status, plan, monthly allowance, and period bounds. A new
// period start resets monthly usage; any change to the monthly remainder is
// ledgered so conservation holds.
func (s *creditService) ApplySubscriptionState(ctx context.Context, p SubscriptionState) error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	key := ""
	if p.EventID != "" {
		key = "sub_state_" + p.EventID
	}
	return s.store.WithAccountTx(ctx, p.AccountID, func(tx repository.AccountTx) error {
		if key != "" {
			prior, err := tx.FindLedgerEntryByKey(ctx, key)
			if err != nil || prior != nil {
				return err
			}
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		oldRemaining := balance.MonthlyRemaining()

		balance.SubscriptionStatus = p.Status
		if p.PlanKey != "" {
			balance.PlanKey = p.PlanKey
		}
		if !p.PeriodStart.IsZero() && p.PeriodStart.After(balance.PeriodStart) {
			balance.PeriodStart = p.PeriodStart
			balance.PeriodEnd = p.PeriodEnd
			balance.MonthlyUsed = 0
		}
		if p.MonthlyLimit >= 0 {
			balance.MonthlyLimit = p.MonthlyLimit
		}

		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}
		if delta := balance.MonthlyRemaining() - oldRemaining; delta != 0 {
			return tx.AppendLedger(ctx, &model.LedgerEntry{
				ID:             s.newID(),
				AccountID:      p.AccountID,
				Amount:         delta,
				Reason:         model.ReasonMonthlyReset,
				Source:         model.SourceMonthly,
				IdempotencyKey: key,
				MonthlyUsed:    balance.MonthlyUsed,
				AddonBalance:   balance.AddonBalance,
				CreatedAt:      s.now(),
			})
		}
		return nil
	})
}

// GetBalance returns the account's balance record.
func (s *creditService) GetBalance(ctx context.Context, accountID string) (*model.CreditBalance, error) {
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch balance")
		}
		return nil, err
	}
	return balance, nil
}

// ListLedger returns a page of the account's audit trail, newest first.
func (s *creditService) ListLedger(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.ListLedger(ctx, accountID, limit, offset)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to list ledger")
		}
		return nil, err
	}
	return entries, nil
}
