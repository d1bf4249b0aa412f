package service

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// generationCost is the credit price of one generation request.
const generationCost = 1

// GenerationResult carries the provider output together with the consume
// outcome that paid for it.
type GenerationResult struct {
	Text    string
	Consume *model.ConsumeResult
}

// GenerationService runs provider calls behind the credit gate. A credit is
// consumed before the call and refunded if the provider fails, so the ledger
// only charges for generations that produced output.
type GenerationService struct {
	credits CreditService
	client  *openai.Client
	model   string
	logger  zerolog.Logger
}

// NewGenerationService creates the gated generation service. An empty apiKey
// leaves the provider unconfigured and Generate will refuse requests.
func NewGenerationService(credits CreditService, apiKey, modelName string, logger zerolog.Logger) *GenerationService {
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return &GenerationService{
		credits: credits,
		client:  client,
		model:   modelName,
		logger:  logger.With().Str("service", "GenerationService").Logger(),
	}
}

// Generate consumes one credit for the account and runs the prompt through
// the provider. Retries with the same idempotency key do not double-charge.
func (s *GenerationService) Generate(ctx context.Context, accountID, idempotencyKey, prompt string) (*GenerationResult, error) {
	if s.client == nil {
		return nil, errors.New("generation provider is not configured")
	}

	res, err := s.credits.Consume(ctx, accountID, idempotencyKey, generationCost)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		s.refund(ctx, accountID, idempotencyKey)
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		s.refund(ctx, accountID, idempotencyKey)
		return nil, errors.New("generation request returned no choices")
	}

	return &GenerationResult{
		Text:    resp.Choices[0].Message.Content,
		Consume: res,
	}, nil
}

// refund returns the consumed credit after a provider failure. The refund key
// is derived from the consume key, so a retried request that fails again will
// not refund twice. Refunds always land in the addon pool.
func (s *GenerationService) refund(ctx context.Context, accountID, consumeKey string) {
	_, err := s.credits.Adjust(ctx, AdjustParams{
		AccountID:      accountID,
		Amount:         generationCost,
		Reason:         model.ReasonRefund,
		AdjustedBy:     "system:generation",
		IdempotencyKey: consumeKey + "_refund",
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("idempotency_key", consumeKey).
			Msg("Failed to refund credit after provider failure")
	}
}
