package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/store"
)

// RecordWebhookEvent appends one inbound notification to the audit log.
// A conflict on dedupe_hash or provider_event_id means the delivery was
// already logged; that is reported as duplicate=true, never as an error,
// so retried deliveries stay idempotent.
func (s *Service) RecordWebhookEvent(ctx context.Context, params store.RecordWebhookParams) (bool, error) {
	if params.DedupeHash == "" {
		return false, fmt.Errorf("dedupe hash cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, queryInsertWebhookEvent,
		uuid.New().String(), nullable(params.ProviderEventId), params.DedupeHash,
		params.NotificationType, nullable(params.ProviderTransactionId),
		params.RawPayload, nullable(params.MappedStatus), params.SignatureValid)
	if err != nil {
		if isUniqueViolation(err) {
			zap.L().Debug("Webhook delivery already logged",
				zap.String("provider_event_id", params.ProviderEventId),
				zap.String("dedupe_hash", params.DedupeHash))
			return true, nil
		}
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	return false, nil
}
