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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/attestation"
	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/circle"
	"bridge-wallet-go/internal/gas"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
	"bridge-wallet-go/internal/store"
	"bridge-wallet-go/internal/webhook"
)

const AssetUSDC = "USDC"

var _ webhook.Orchestrator = (*Orchestrator)(nil)

// Provider is the slice of the wallet-provider client the orchestrator
// drives: plain wallet transfers, contract calls, and transaction detail.
type Provider interface {
	CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.TransactionReference, error)
	CreateContractExecution(ctx context.Context, req circle.ContractExecutionRequest) (*circle.TransactionReference, error)
	GetTransaction(ctx context.Context, id string) (*circle.Transaction, error)
}

// AttestationWaiter blocks until the bridge attests a burn message.
type AttestationWaiter interface {
	Await(ctx context.Context, domain uint32, txHash string) (*attestation.Attestation, error)
	AwaitBounded(ctx context.Context, domain uint32, txHash string) (*attestation.Attestation, error)
}

// GasChecker reports whether a signer address holds native gas on a chain.
type GasChecker interface {
	Check(ctx context.Context, address string, chainID chains.ChainID) (*gas.Report, error)
}

// Orchestrator drives the transfer ledger: it creates records for inbound
// requests, advances them from provider notifications, and chains the
// approve/burn/mint steps of a bridged transfer. All step issuance is
// idempotent; the store's unique constraints are the final arbiter.
type Orchestrator struct {
	store           store.TransferStore
	provider        Provider
	attestations    AttestationWaiter
	gas             GasChecker
	registry        *chains.Registry
	signers         models.SignerConfig
	operatorAccount string

	// In-flight background mint relays.
	relays sync.WaitGroup

	// Provider transaction polling on the synchronous client path.
	pollInterval time.Duration
	pollAttempts int
}

func New(st store.TransferStore, provider Provider, attestations AttestationWaiter,
	gasChecker GasChecker, registry *chains.Registry, signers models.SignerConfig,
	operatorAccount string) *Orchestrator {
	return &Orchestrator{
		store:           st,
		provider:        provider,
		attestations:    attestations,
		gas:             gasChecker,
		registry:        registry,
		signers:         signers,
		operatorAccount: operatorAccount,
		pollInterval:    2 * time.Second,
		pollAttempts:    90,
	}
}

// WithPolling overrides the synchronous-path polling cadence. Test hook.
func (o *Orchestrator) WithPolling(interval time.Duration, attempts int) *Orchestrator {
	o.pollInterval = interval
	o.pollAttempts = attempts
	return o
}

// Wait blocks until background mint relays drain. Called on shutdown.
func (o *Orchestrator) Wait() {
	o.relays.Wait()
}

// TopUpIdempotencyKey is deterministic over the user's on-chain send, so a
// retried registration resolves to the same ledger row.
func TopUpIdempotencyKey(chainID chains.ChainID, txHash string) string {
	return fmt.Sprintf("topup:%d:%s", chainID, txHash)
}

// InitiateTopUp records a user's inbound on-chain send. The resulting row
// stays PENDING until the provider's deposit notification confirms it.
func (o *Orchestrator) InitiateTopUp(ctx context.Context, req models.TopUpRequest) (*models.TransferRecord, bool, error) {
	if req.Account == "" {
		return nil, false, fmt.Errorf("account cannot be empty")
	}
	if req.TxHash == "" {
		return nil, false, fmt.Errorf("transaction hash cannot be empty")
	}
	chainID := chains.ChainID(req.Chain)
	if _, err := o.registry.Get(chainID); err != nil {
		return nil, false, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, false, fmt.Errorf("invalid amount: %q", req.Amount)
	}

	record, created, err := o.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:               models.KindUserTopUp,
		SourceAccount:      req.Account,
		DestinationAddress: req.Address,
		ChainID:            chainID,
		AmountAtomic:       models.DecimalToAtomic(amount),
		Asset:              AssetUSDC,
		IdempotencyKey:     TopUpIdempotencyKey(chainID, req.TxHash),
		Metadata:           map[string]string{"txHash": req.TxHash},
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		zap.L().Info("Top-up registered",
			zap.String("transfer_id", record.Id),
			zap.String("account", req.Account),
			zap.Uint64("chain", uint64(chainID)),
			zap.String("tx_hash", req.TxHash))
	}
	return record, created, nil
}

// InitiateAdminTransfer submits a custodial USDC transfer to an arbitrary
// address and records it as a single-step ledger row.
func (o *Orchestrator) InitiateAdminTransfer(ctx context.Context, req models.AdminTransferRequest) (*models.TransferRecord, error) {
	if req.DestinationAddress == "" {
		return nil, fmt.Errorf("destination address cannot be empty")
	}
	chainID := chains.ChainID(req.Chain)
	chain, err := o.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount: %q", req.Amount)
	}

	record, created, err := o.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:               models.KindAdminTransfer,
		SourceAccount:      o.operatorAccount,
		DestinationAddress: req.DestinationAddress,
		ChainID:            chainID,
		AmountAtomic:       models.DecimalToAtomic(amount),
		Asset:              AssetUSDC,
		IdempotencyKey:     "admin:" + uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return record, nil
	}

	ref, err := o.provider.CreateTransfer(ctx, circle.TransferRequest{
		IdempotencyKey:     providerIdempotencyKey("admin-transfer:" + record.Id),
		WalletId:           o.signers.DepositorWalletId,
		DestinationAddress: req.DestinationAddress,
		Blockchain:         chain.ProviderName,
		TokenAddress:       chain.USDCAddress,
		Amount:             amount.String(),
	})
	if err != nil {
		o.failTransfer(ctx, record.Id, "provider rejected admin transfer", err)
		return nil, err
	}
	if err := o.store.AttachProviderTransactionId(ctx, record.Id, ref.Id); err != nil {
		return nil, err
	}
	record.ProviderTransactionId = ref.Id
	return record, nil
}

// HandleTransferNotification advances single-step ledger rows (top-ups and
// admin transfers) from a verified provider notification. Unknown
// transactions and regressive states are silent no-ops; the first entry
// into a success status credits the off-chain account in the same store
// transaction.
func (o *Orchestrator) HandleTransferNotification(ctx context.Context, env models.WebhookEnvelope) error {
	mapped, ok := status.FromProviderState(env.Notification.State)
	if !ok {
		zap.L().Debug("Ignoring unrecognized provider state",
			zap.String("state", env.Notification.State),
			zap.String("provider_transaction_id", env.Notification.Id))
		return nil
	}

	record, err := o.resolveNotificationTransfer(ctx, env)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	if record.Kind != models.KindUserTopUp && record.Kind != models.KindAdminTransfer {
		return nil
	}

	params := store.AdvanceParams{TransferId: record.Id, NewStatus: mapped}
	if mapped.Success() {
		if credit := o.creditTarget(ctx, record); credit != nil {
			params.Credit = credit
		}
	}

	result, err := o.store.AdvanceTransfer(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to advance transfer %s: %w", record.Id, err)
	}
	if result.Advanced {
		zap.L().Info("Transfer status advanced",
			zap.String("transfer_id", record.Id),
			zap.String("kind", string(record.Kind)),
			zap.String("old_status", string(result.OldStatus)),
			zap.String("new_status", string(result.NewStatus)),
			zap.Bool("credited", result.Credited))
	}
	return nil
}

// resolveNotificationTransfer locates the ledger row a notification
// belongs to. Top-ups are registered before the provider assigns a
// transaction id, so the fallback matches the deposit by chain and
// on-chain hash and binds the provider id on first contact.
func (o *Orchestrator) resolveNotificationTransfer(ctx context.Context, env models.WebhookEnvelope) (*models.TransferRecord, error) {
	record, err := o.store.GetTransferByProviderTransactionId(ctx, env.Notification.Id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, store.ErrTransferNotFound) {
		return nil, err
	}

	if env.Notification.TxHash == "" || env.Notification.Blockchain == "" {
		return nil, nil
	}
	chainID, err := o.registry.FromProviderName(env.Notification.Blockchain)
	if err != nil {
		return nil, nil
	}
	record, err = o.store.GetTransferByIdempotencyKey(ctx, TopUpIdempotencyKey(chainID, env.Notification.TxHash))
	if errors.Is(err, store.ErrTransferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.ProviderTransactionId == "" {
		if err := o.store.AttachProviderTransactionId(ctx, record.Id, env.Notification.Id); err != nil {
			return nil, err
		}
		record.ProviderTransactionId = env.Notification.Id
	}
	return record, nil
}

// creditTarget decides which off-chain account a succeeding transfer
// credits. Only transfers landing on a registered internal address credit
// anything; the registry lookup is the sole test for "internal".
func (o *Orchestrator) creditTarget(ctx context.Context, record *models.TransferRecord) *store.CreditParams {
	destAccount, err := o.store.FindAccountByAddress(ctx, record.DestinationAddress, record.ChainID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		zap.L().Error("Account address lookup failed",
			zap.String("address", record.DestinationAddress),
			zap.Error(err))
		return nil
	}

	// A user top-up lands on a custodial address; the credit belongs to
	// the user who sent it, not the custody account itself.
	account := destAccount
	if record.Kind == models.KindUserTopUp && record.SourceAccount != "" {
		account = record.SourceAccount
	}
	return &store.CreditParams{
		AccountId: account,
		Asset:     record.Asset,
		Amount:    record.Amount(),
		Reference: record.ProviderTransactionId,
	}
}

func (o *Orchestrator) failTransfer(ctx context.Context, transferId, reason string, cause error) {
	zap.L().Error(reason,
		zap.String("transfer_id", transferId),
		zap.Error(cause))
	if _, err := o.store.AdvanceTransfer(ctx, store.AdvanceParams{
		TransferId: transferId,
		NewStatus:  status.Failed,
	}); err != nil {
		zap.L().Error("Failed to mark transfer FAILED",
			zap.String("transfer_id", transferId),
			zap.Error(err))
	}
}

// providerIdempotencyKey derives the UUID the provider API requires from a
// deterministic step key, so retried submissions dedup upstream as well.
func providerIdempotencyKey(stepKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(stepKey)).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
