package service

import (
	"context"
	"encoding/json"
	"time"

	"app/internal/metrics"
	"app/internal/model"
	"app/internal/pubsub"
	"app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// thresholdAlert is the payload delivered for a low-balance crossing.
type thresholdAlert struct {
	AccountID      string    `json:"account_id"`
	ThresholdKey   string    `json:"threshold_key"`
	TotalRemaining int       `json:"total_remaining"`
	Message        string    `json:"message"`
	PeriodStart    time.Time `json:"period_start"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier fires at most one alert per threshold per billing period. All of
// its failures are swallowed after logging: a missed alert is tolerable, a
// rolled-back consumption is not.
type Notifier struct {
	store     repository.NotificationStore
	publisher pubsub.Publisher
	topic     string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewNotifier creates a Notifier. publisher may be nil, in which case alerts
// are recorded but not delivered (local development).
func NewNotifier(store repository.NotificationStore, publisher pubsub.Publisher, topic string, m *metrics.Metrics, logger zerolog.Logger) *Notifier {
	return &Notifier{
		store:     store,
		publisher: publisher,
		topic:     topic,
		metrics:   m,
		logger:    logger.With().Str("service", "Notifier").Logger(),
	}
}

// BalanceChanged evaluates the threshold table against the post-debit
// balance. The notification row is the dedup record; only a fresh insert
// publishes.
func (n *Notifier) BalanceChanged(ctx context.Context, balance *model.CreditBalance) {
	threshold := model.PickThreshold(balance.TotalRemaining())
	if threshold == nil {
		return
	}

	now := time.Now()
	alert := thresholdAlert{
		AccountID:      balance.AccountID,
		ThresholdKey:   threshold.Key,
		TotalRemaining: balance.TotalRemaining(),
		Message:        threshold.Template,
		PeriodStart:    balance.PeriodStart,
		CreatedAt:      now,
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		n.logger.Error().Err(err).Str("account_id", balance.AccountID).Msg("Failed to encode threshold alert")
		return
	}

	inserted, err := n.store.InsertNotification(ctx, &model.Notification{
		ID:           uuid.NewString(),
		AccountID:    balance.AccountID,
		ThresholdKey: threshold.Key,
		PeriodStart:  balance.PeriodStart,
		Payload:      payload,
		CreatedAt:    now,
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("account_id", balance.AccountID).Str("threshold", threshold.Key).Msg("Failed to record threshold alert")
		return
	}
	if !inserted {
		// Already alerted for this threshold in this period.
		return
	}
	n.metrics.AlertSent(threshold.Key)

	if n.publisher == nil {
		return
	}
	attrs := map[string]string{"account_id": balance.AccountID, "threshold_key": threshold.Key}
	if _, err := n.publisher.Publish(ctx, n.topic, attrs, payload); err != nil {
		n.logger.Warn().Err(err).Str("account_id", balance.AccountID).Str("threshold", threshold.Key).Msg("Failed to publish threshold alert")
	}
}
