package models

import (
	"time"

	"github.com/shopspring/decimal"

	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/status"
)

// TransferKind identifies which step graph a transfer record belongs to.
type TransferKind string

const (
	KindUserTopUp      TransferKind = "USER_TOPUP"
	KindAdminTransfer  TransferKind = "ADMIN_TRANSFER"
	KindBridgeApproval TransferKind = "BRIDGE_APPROVAL"
	KindBridgeBurn     TransferKind = "BRIDGE_BURN"
	KindBridgeMint     TransferKind = "BRIDGE_MINT"
)

// USDC carries six decimal places; amounts are stored and computed in
// atomic units and only rendered as decimals at the edges.
const USDCDecimals = 6

// AtomicToDecimal renders an atomic amount as a human decimal.
func AtomicToDecimal(atomic int64) decimal.Decimal {
	return decimal.New(atomic, -USDCDecimals)
}

// DecimalToAtomic converts a human decimal amount to atomic units.
// Fractions beyond the asset's precision are truncated.
func DecimalToAtomic(d decimal.Decimal) int64 {
	return d.Shift(USDCDecimals).IntPart()
}

// TransferRecord is one row of the transfer ledger: a single on-chain step.
// A simple transfer is one record; a bridged transfer is a chain of
// approval, burn and mint records linked through LinkedStepId.
type TransferRecord struct {
	Id                    string            `db:"id"`
	Kind                  TransferKind      `db:"kind"`
	ProviderTransactionId string            `db:"provider_transaction_id"`
	SourceAccount         string            `db:"source_account"`
	DestinationAddress    string            `db:"destination_address"`
	ChainID               chains.ChainID    `db:"chain_id"`
	AmountAtomic          int64             `db:"amount_atomic"`
	Asset                 string            `db:"asset"`
	FeeAtomic             int64             `db:"fee_atomic"`
	Status                status.Status     `db:"status"`
	IdempotencyKey        string            `db:"idempotency_key"`
	LinkedStepId          string            `db:"linked_step_id"`
	Metadata              map[string]string `db:"metadata"`
	CreatedAt             time.Time         `db:"created_at"`
	UpdatedAt             time.Time         `db:"updated_at"`
}

// Amount renders the record's atomic amount as a decimal.
func (t *TransferRecord) Amount() decimal.Decimal {
	return AtomicToDecimal(t.AmountAtomic)
}

// StatusEvent is one observed status transition of a transfer record.
// Append-only; never mutated or deleted.
type StatusEvent struct {
	Id         string        `db:"id"`
	TransferId string        `db:"transfer_id"`
	OldStatus  status.Status `db:"old_status"` // empty for the initial transition
	NewStatus  status.Status `db:"new_status"`
	CreatedAt  time.Time     `db:"created_at"`
}

// WebhookEvent is one inbound provider notification, logged whether or not
// it mapped to a known transfer record. Append-only replay/audit log.
type WebhookEvent struct {
	Id                    string    `db:"id"`
	ProviderEventId       string    `db:"provider_event_id"`
	DedupeHash            string    `db:"dedupe_hash"`
	NotificationType      string    `db:"notification_type"`
	ProviderTransactionId string    `db:"provider_transaction_id"`
	RawPayload            string    `db:"raw_payload"`
	MappedStatus          string    `db:"mapped_status"`
	SignatureValid        bool      `db:"signature_valid"`
	CreatedAt             time.Time `db:"created_at"`
}

// AccountBalance is the current off-chain balance of an account (hot data).
type AccountBalance struct {
	Id          string          `db:"id"`
	AccountId   string          `db:"account_id"`
	Asset       string          `db:"asset"`
	Balance     decimal.Decimal `db:"balance"`
	LastEntryId string          `db:"last_entry_id"`
	Version     int64           `db:"version"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// AccountEntry is one immutable credit or debit against an account balance.
type AccountEntry struct {
	Id            string          `db:"id"`
	AccountId     string          `db:"account_id"`
	Asset         string          `db:"asset"`
	EntryType     string          `db:"entry_type"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	TransferId    string          `db:"transfer_id"`
	Reference     string          `db:"reference"`
	CreatedAt     time.Time       `db:"created_at"`
}

// AccountAddress registers a chain address as belonging to an internal
// account. A zero ChainID means the address is internal on every chain.
type AccountAddress struct {
	Id        string         `db:"id"`
	AccountId string         `db:"account_id"`
	Address   string         `db:"address"`
	ChainID   chains.ChainID `db:"chain_id"`
	CreatedAt time.Time      `db:"created_at"`
}
