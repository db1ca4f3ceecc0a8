package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
)

// Sentinel errors shared across the ledger implementations.
var (
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrAccountNotFound        = errors.New("no account found for address")
	ErrDuplicateEntry         = errors.New("duplicate ledger entry")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// CreateTransferParams contains the parameters for inserting a ledger row.
// IdempotencyKey is mandatory; ProviderTransactionId and LinkedStepId are
// optional and unique-constrained when present.
type CreateTransferParams struct {
	Kind                  models.TransferKind
	ProviderTransactionId string
	SourceAccount         string
	DestinationAddress    string
	ChainID               chains.ChainID
	AmountAtomic          int64
	Asset                 string
	FeeAtomic             int64
	IdempotencyKey        string
	LinkedStepId          string
	Metadata              map[string]string
}

// CreditParams describes the one-time balance credit applied when a
// transfer first reaches a success status.
type CreditParams struct {
	AccountId string
	Asset     string
	Amount    decimal.Decimal
	Reference string
}

// AdvanceParams drives one conditional status transition. Credit, when
// set, is applied in the same database transaction and only when the
// record flips from a non-success into a success status.
type AdvanceParams struct {
	TransferId string
	NewStatus  status.Status
	Credit     *CreditParams
}

// AdvanceResult reports the outcome of a conditional status transition.
type AdvanceResult struct {
	Advanced  bool
	Credited  bool
	OldStatus status.Status
	NewStatus status.Status
}

// RecordWebhookParams logs one inbound provider notification.
type RecordWebhookParams struct {
	ProviderEventId       string
	DedupeHash            string
	NotificationType      string
	ProviderTransactionId string
	RawPayload            string
	MappedStatus          string
	SignatureValid        bool
}

// TransferStore is the contract the orchestration layer depends on. The
// SQLite service is the single implementation; the store is the arbiter of
// truth for all read-decide-write sequences.
type TransferStore interface {
	// --- Transfer ledger ---
	CreateTransfer(ctx context.Context, params CreateTransferParams) (*models.TransferRecord, bool, error)
	GetTransfer(ctx context.Context, id string) (*models.TransferRecord, error)
	GetTransferByProviderTransactionId(ctx context.Context, providerTxId string) (*models.TransferRecord, error)
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*models.TransferRecord, error)
	GetTransferByLinkedStepId(ctx context.Context, linkedStepId string) (*models.TransferRecord, error)
	ListTransfersByAccount(ctx context.Context, account string, limit, offset int) ([]models.TransferRecord, error)
	AttachProviderTransactionId(ctx context.Context, transferId, providerTxId string) error
	AdvanceTransfer(ctx context.Context, params AdvanceParams) (*AdvanceResult, error)
	ListStatusEvents(ctx context.Context, transferId string) ([]models.StatusEvent, error)

	// --- Webhook audit log ---
	RecordWebhookEvent(ctx context.Context, params RecordWebhookParams) (duplicate bool, err error)

	// --- Accounts ---
	FindAccountByAddress(ctx context.Context, address string, chainID chains.ChainID) (string, error)
	RegisterAccountAddress(ctx context.Context, accountId, address string, chainID chains.ChainID) error
	EnsureAccount(ctx context.Context, accountId, name string) error
	GetAccountBalance(ctx context.Context, accountId, asset string) (decimal.Decimal, error)
	ListAccountEntries(ctx context.Context, accountId, asset string, limit, offset int) ([]models.AccountEntry, error)

	// --- Lifecycle ---
	Close()
}
