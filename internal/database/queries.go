/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	transferColumns = `id, kind, provider_transaction_id, source_account, destination_address,
		       chain_id, amount_atomic, asset, fee_atomic, status, idempotency_key,
		       linked_step_id, metadata, created_at, updated_at`

	queryInsertTransfer = `
		INSERT INTO transfers (
			id, kind, provider_transaction_id, source_account, destination_address,
			chain_id, amount_atomic, asset, fee_atomic, status, idempotency_key,
			linked_step_id, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransferById = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE id = ?`

	queryGetTransferByProviderTxId = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE provider_transaction_id = ?`

	queryGetTransferByIdempotencyKey = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE idempotency_key = ?`

	queryGetTransferByLinkedStepId = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE linked_step_id = ?`

	queryListTransfersByAccount = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE source_account = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryGetTransferStatus = `
		SELECT status FROM transfers WHERE id = ?`

	// The WHERE clause re-encodes the priority order so the transition is
	// decided by the row store, not by in-process state: a new status only
	// lands when its priority is strictly higher than the stored one, or
	// when it is FAILED and the row is not already FAILED.
	queryAdvanceTransferStatus = `
		UPDATE transfers
		SET status = ?1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?2
		  AND status != 'FAILED'
		  AND (?1 = 'FAILED' OR
		       (CASE status WHEN 'PENDING' THEN 1 WHEN 'CONFIRMED' THEN 2 WHEN 'COMPLETE' THEN 3 ELSE 0 END) <
		       (CASE ?1     WHEN 'PENDING' THEN 1 WHEN 'CONFIRMED' THEN 2 WHEN 'COMPLETE' THEN 3 ELSE 0 END))`

	queryAttachProviderTxId = `
		UPDATE transfers
		SET provider_transaction_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND provider_transaction_id IS NULL`

	// Status event queries
	queryInsertStatusEvent = `
		INSERT INTO status_events (id, transfer_id, old_status, new_status)
		VALUES (?, ?, ?, ?)`

	queryListStatusEvents = `
		SELECT id, transfer_id, old_status, new_status, created_at
		FROM status_events
		WHERE transfer_id = ?
		ORDER BY created_at, rowid`

	// Webhook event queries
	queryInsertWebhookEvent = `
		INSERT INTO webhook_events (
			id, provider_event_id, dedupe_hash, notification_type,
			provider_transaction_id, raw_payload, mapped_status, signature_valid
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	// Account queries
	queryInsertAccount = `
		INSERT OR IGNORE INTO accounts (id, name) VALUES (?, ?)`

	queryInsertAccountAddress = `
		INSERT OR IGNORE INTO account_addresses (id, account_id, address, chain_id)
		VALUES (?, ?, ?, ?)`

	queryFindAccountByAddress = `
		SELECT account_id
		FROM account_addresses
		WHERE LOWER(address) = LOWER(?) AND chain_id IN (?, 0)
		ORDER BY chain_id DESC
		LIMIT 1`

	// Balance queries
	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE account_id = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, account_id, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_entry_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND asset = ? AND version = ?`

	queryInsertAccountEntry = `
		INSERT INTO account_entries (
			id, account_id, asset, entry_type, amount, balance_before, balance_after,
			transfer_id, reference
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListAccountEntries = `
		SELECT id, account_id, asset, entry_type, amount, balance_before, balance_after,
		       transfer_id, reference, created_at
		FROM account_entries
		WHERE account_id = ? AND asset = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
)
