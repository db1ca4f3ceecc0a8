package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/store"
)

// applyCredit credits an account inside an existing transfer-advance
// transaction. The unique constraint on account_entries.transfer_id is the
// backstop against double crediting: a conflict means the credit already
// landed, reported as credited=false rather than an error.
func (s *Service) applyCredit(ctx context.Context, tx *sql.Tx, transferId string, params store.CreditParams) (bool, error) {
	var accountBalanceId, currentBalanceStr string
	var version int64

	err := tx.QueryRowContext(ctx, queryGetAccountBalance, params.AccountId, params.Asset).
		Scan(&accountBalanceId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if err == sql.ErrNoRows {
		accountBalanceId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1
		if _, err := tx.ExecContext(ctx, queryInsertAccountBalance,
			accountBalanceId, params.AccountId, params.Asset, "0", 1); err != nil {
			return false, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return false, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return false, fmt.Errorf("failed to parse current balance %q: %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Amount)
	entryId := uuid.New().String()

	_, err = tx.ExecContext(ctx, queryInsertAccountEntry,
		entryId, params.AccountId, params.Asset, "credit",
		params.Amount.String(), currentBalance.String(), newBalance.String(),
		transferId, params.Reference)
	if err != nil {
		if isUniqueViolation(err) {
			zap.L().Warn("Credit already applied for transfer, skipping",
				zap.String("transfer_id", transferId),
				zap.String("account_id", params.AccountId))
			return false, nil
		}
		return false, fmt.Errorf("failed to insert account entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		newBalance.String(), entryId, params.AccountId, params.Asset, version)
	if err != nil {
		return false, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Info("Account credited",
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("new_balance", newBalance.String()),
		zap.String("transfer_id", transferId))

	return true, nil
}

func (s *Service) GetAccountBalance(ctx context.Context, accountId, asset string) (decimal.Decimal, error) {
	var id, balanceStr string
	var version int64
	err := s.db.QueryRowContext(ctx, queryGetAccountBalance, accountId, asset).Scan(&id, &balanceStr, &version)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
	}
	return balance, nil
}

func (s *Service) ListAccountEntries(ctx context.Context, accountId, asset string, limit, offset int) ([]models.AccountEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountEntries, accountId, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list account entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var entries []models.AccountEntry
	for rows.Next() {
		var entry models.AccountEntry
		var amountStr, beforeStr, afterStr string
		var transferId sql.NullString
		err := rows.Scan(&entry.Id, &entry.AccountId, &entry.Asset, &entry.EntryType,
			&amountStr, &beforeStr, &afterStr, &transferId, &entry.Reference, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account entry: %w", err)
		}

		entry.TransferId = transferId.String
		if entry.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
		}
		if entry.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance_before %q: %w", beforeStr, err)
		}
		if entry.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance_after %q: %w", afterStr, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account entry rows: %w", err)
	}
	return entries, nil
}

// EnsureAccount is the idempotent startup upsert. The primary key makes
// repeated invocation safe; no in-memory initialized flag is kept.
func (s *Service) EnsureAccount(ctx context.Context, accountId, name string) error {
	if accountId == "" {
		return fmt.Errorf("account id cannot be empty")
	}
	if _, err := s.db.ExecContext(ctx, queryInsertAccount, accountId, name); err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// RegisterAccountAddress records a chain address as internal. chainID 0
// registers the address for every chain.
func (s *Service) RegisterAccountAddress(ctx context.Context, accountId, address string, chainID chains.ChainID) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, queryInsertAccountAddress,
		uuid.New().String(), accountId, address, int64(chainID))
	if err != nil {
		return fmt.Errorf("failed to register account address: %w", err)
	}
	return nil
}

// FindAccountByAddress resolves a chain address to an internal account via
// the address registry. An exact chain match wins over an all-chains entry.
func (s *Service) FindAccountByAddress(ctx context.Context, address string, chainID chains.ChainID) (string, error) {
	var accountId string
	err := s.db.QueryRowContext(ctx, queryFindAccountByAddress, address, int64(chainID)).Scan(&accountId)
	if err == sql.ErrNoRows {
		return "", store.ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find account by address: %w", err)
	}
	return accountId, nil
}
