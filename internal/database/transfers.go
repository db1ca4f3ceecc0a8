package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
	"bridge-wallet-go/internal/store"
)

// CreateTransfer inserts a new ledger row, or returns the existing row when
// any of its unique keys (idempotency key, provider transaction id, linked
// step id) is already present. The bool result is true only when a new row
// was created. A constraint conflict is successful dedup, never an error.
func (s *Service) CreateTransfer(ctx context.Context, params store.CreateTransferParams) (*models.TransferRecord, bool, error) {
	if params.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("idempotency key is required")
	}
	if params.Kind == "" {
		return nil, false, fmt.Errorf("transfer kind is required")
	}

	// Fast path: the caller retried an already-recorded request.
	if existing, err := s.GetTransferByIdempotencyKey(ctx, params.IdempotencyKey); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrTransferNotFound) {
		return nil, false, err
	}

	metadataJSON := "{}"
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertTransfer,
		id, string(params.Kind), nullable(params.ProviderTransactionId),
		params.SourceAccount, params.DestinationAddress,
		int64(params.ChainID), params.AmountAtomic, params.Asset, params.FeeAtomic,
		string(status.Pending), params.IdempotencyKey, nullable(params.LinkedStepId),
		metadataJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return s.resolveExistingTransfer(ctx, params)
		}
		return nil, false, fmt.Errorf("failed to insert transfer: %w", err)
	}

	// Initial transition: NULL -> PENDING, logged like every other one.
	_, err = tx.ExecContext(ctx, queryInsertStatusEvent,
		uuid.New().String(), id, nil, string(status.Pending))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert initial status event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return s.resolveExistingTransfer(ctx, params)
		}
		return nil, false, fmt.Errorf("failed to commit transfer: %w", err)
	}

	record, err := s.GetTransfer(ctx, id)
	if err != nil {
		return nil, false, err
	}

	zap.L().Info("Transfer recorded",
		zap.String("transfer_id", id),
		zap.String("kind", string(params.Kind)),
		zap.Uint64("chain_id", uint64(params.ChainID)),
		zap.Int64("amount_atomic", params.AmountAtomic))

	return record, true, nil
}

// resolveExistingTransfer finds which unique key collided and hands the
// caller the row that holds it.
func (s *Service) resolveExistingTransfer(ctx context.Context, params store.CreateTransferParams) (*models.TransferRecord, bool, error) {
	if existing, err := s.GetTransferByIdempotencyKey(ctx, params.IdempotencyKey); err == nil {
		return existing, false, nil
	}
	if params.LinkedStepId != "" {
		if existing, err := s.GetTransferByLinkedStepId(ctx, params.LinkedStepId); err == nil {
			return existing, false, nil
		}
	}
	if params.ProviderTransactionId != "" {
		if existing, err := s.GetTransferByProviderTransactionId(ctx, params.ProviderTransactionId); err == nil {
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("transfer insert conflicted but no existing row found")
}

func (s *Service) GetTransfer(ctx context.Context, id string) (*models.TransferRecord, error) {
	return s.queryTransfer(ctx, queryGetTransferById, id)
}

func (s *Service) GetTransferByProviderTransactionId(ctx context.Context, providerTxId string) (*models.TransferRecord, error) {
	return s.queryTransfer(ctx, queryGetTransferByProviderTxId, providerTxId)
}

func (s *Service) GetTransferByIdempotencyKey(ctx context.Context, key string) (*models.TransferRecord, error) {
	return s.queryTransfer(ctx, queryGetTransferByIdempotencyKey, key)
}

func (s *Service) GetTransferByLinkedStepId(ctx context.Context, linkedStepId string) (*models.TransferRecord, error) {
	return s.queryTransfer(ctx, queryGetTransferByLinkedStepId, linkedStepId)
}

func (s *Service) queryTransfer(ctx context.Context, query, arg string) (*models.TransferRecord, error) {
	record, err := scanTransfer(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, store.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer: %w", err)
	}
	return record, nil
}

func (s *Service) ListTransfersByAccount(ctx context.Context, account string, limit, offset int) ([]models.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListTransfersByAccount, account, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var records []models.TransferRecord
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return records, nil
}

// AttachProviderTransactionId binds a provider transaction id to a row
// created before the provider assigned one. No-op if already bound to the
// same id; conflict if bound elsewhere.
func (s *Service) AttachProviderTransactionId(ctx context.Context, transferId, providerTxId string) error {
	if providerTxId == "" {
		return fmt.Errorf("provider transaction id cannot be empty")
	}

	result, err := s.db.ExecContext(ctx, queryAttachProviderTxId, providerTxId, transferId)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("provider transaction id %s already bound: %w", providerTxId, store.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to attach provider transaction id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		existing, err := s.GetTransfer(ctx, transferId)
		if err != nil {
			return err
		}
		if existing.ProviderTransactionId == providerTxId {
			return nil
		}
		return fmt.Errorf("transfer %s already bound to provider transaction %s", transferId, existing.ProviderTransactionId)
	}
	return nil
}

// AdvanceTransfer performs one conditional status transition. The priority
// comparison runs inside the UPDATE itself, so concurrent webhook and
// poller deliveries cannot double-apply a transition: the loser's UPDATE
// matches zero rows. When params.Credit is set, the balance credit lands in
// the same database transaction and only on the first flip from a
// non-success into a success status.
func (s *Service) AdvanceTransfer(ctx context.Context, params store.AdvanceParams) (*store.AdvanceResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentStr string
	err = tx.QueryRowContext(ctx, queryGetTransferStatus, params.TransferId).Scan(&currentStr)
	if err == sql.ErrNoRows {
		return nil, store.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current status: %w", err)
	}
	current := status.Status(currentStr)

	if !status.Supersedes(current, params.NewStatus) {
		// Stale or regressed notification: business no-op.
		return &store.AdvanceResult{Advanced: false, OldStatus: current, NewStatus: current}, nil
	}

	result, err := tx.ExecContext(ctx, queryAdvanceTransferStatus, string(params.NewStatus), params.TransferId)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &store.AdvanceResult{Advanced: false, OldStatus: current, NewStatus: current}, nil
	}

	_, err = tx.ExecContext(ctx, queryInsertStatusEvent,
		uuid.New().String(), params.TransferId, string(current), string(params.NewStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to insert status event: %w", err)
	}

	credited := false
	if params.Credit != nil && !current.Success() && params.NewStatus.Success() {
		credited, err = s.applyCredit(ctx, tx, params.TransferId, *params.Credit)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status transition: %w", err)
	}

	zap.L().Info("Transfer status advanced",
		zap.String("transfer_id", params.TransferId),
		zap.String("old_status", string(current)),
		zap.String("new_status", string(params.NewStatus)),
		zap.Bool("credited", credited))

	return &store.AdvanceResult{
		Advanced:  true,
		Credited:  credited,
		OldStatus: current,
		NewStatus: params.NewStatus,
	}, nil
}

func (s *Service) ListStatusEvents(ctx context.Context, transferId string) ([]models.StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListStatusEvents, transferId)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var events []models.StatusEvent
	for rows.Next() {
		var event models.StatusEvent
		var oldStatus sql.NullString
		if err := rows.Scan(&event.Id, &event.TransferId, &oldStatus, &event.NewStatus, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		if oldStatus.Valid {
			event.OldStatus = status.Status(oldStatus.String)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status event rows: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.TransferRecord, error) {
	var record models.TransferRecord
	var providerTxId, linkedStepId sql.NullString
	var chainID int64
	var metadataJSON string

	err := row.Scan(&record.Id, &record.Kind, &providerTxId, &record.SourceAccount,
		&record.DestinationAddress, &chainID, &record.AmountAtomic, &record.Asset,
		&record.FeeAtomic, &record.Status, &record.IdempotencyKey, &linkedStepId,
		&metadataJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.ProviderTransactionId = providerTxId.String
	record.LinkedStepId = linkedStepId.String
	record.ChainID = chains.ChainID(chainID)
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &record, nil
}
