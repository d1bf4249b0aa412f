package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"app/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const exportPageSize = 200

// ExportService writes an account's full ledger history to object storage as
// CSV, for support and reconciliation workflows.
type ExportService struct {
	store    repository.Store
	s3Client *s3.Client
	bucket   string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewExportService creates the export service. The S3 client may point at any
// S3-compatible endpoint.
func NewExportService(store repository.Store, s3Client *s3.Client, bucket string, logger zerolog.Logger) *ExportService {
	return &ExportService{
		store:    store,
		s3Client: s3Client,
		bucket:   bucket,
		logger:   logger.With().Str("service", "ExportService").Logger(),
		now:      time.Now,
	}
}

// ExportLedger streams every ledger entry for the account into a CSV object
// and returns the object key.
func (s *ExportService) ExportLedger(ctx context.Context, accountID string) (string, error) {
	if s.s3Client == nil || s.bucket == "" {
		return "", fmt.Errorf("ledger export storage is not configured")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "account_id", "amount", "reason", "source", "idempotency_key", "monthly_used_after", "addon_balance_after", "created_at"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	offset := 0
	total := 0
	for {
		entries, err := s.store.ListLedger(ctx, accountID, exportPageSize, offset)
		if err != nil {
			return "", fmt.Errorf("failed to list ledger page at offset %d: %w", offset, err)
		}
		for _, e := range entries {
			record := []string{
				e.ID,
				e.AccountID,
				strconv.Itoa(e.Amount),
				string(e.Reason),
				string(e.Source),
				e.IdempotencyKey,
				strconv.Itoa(e.MonthlyUsed),
				strconv.Itoa(e.AddonBalance),
				e.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := w.Write(record); err != nil {
				return "", fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		total += len(entries)
		if len(entries) < exportPageSize {
			break
		}
		offset += exportPageSize
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}

	key := fmt.Sprintf("ledger-exports/%s/%s.csv", accountID, s.now().UTC().Format("20060102T150405Z"))
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload ledger export: %w", err)
	}

	s.logger.Info().
		Str("account_id", accountID).
		Str("object_key", key).
		Int("entries", total).
		Msg("Ledger export uploaded")
	return key, nil
}
