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
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/attestation"
	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/circle"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
	"bridge-wallet-go/internal/store"
)

// Metadata keys persisted on bridge step rows so the step machine can
// recover routing without a separate table.
const (
	metaDestinationChain = "destinationChain"
	metaRecipient        = "recipient"
	metaAttestation      = "attestation"
)

const (
	abiApprove        = "approve(address,uint256)"
	abiDepositForBurn = "depositForBurn(uint256,uint32,bytes32,address,bytes32,uint256,uint32)"
	abiReceiveMessage = "receiveMessage(bytes,bytes)"

	// Fast-transfer finality threshold for depositForBurn.
	minFinalityThreshold = 1000
)

// InitiateBridgeTransfer runs the client-initiated bridge path end to end:
// idempotency dedup, destination gas preflight, approval, burn, bounded
// attestation wait, and mint relay. Every ledger write it performs is the
// same write the webhook-driven path would perform, so the two paths dedup
// against each other through the store's unique constraints.
func (o *Orchestrator) InitiateBridgeTransfer(ctx context.Context, req models.BridgeTransferRequest) (*models.BridgeTransferResponse, error) {
	sourceChain := chains.ChainID(req.SourceChain)
	destChain := chains.ChainID(req.DestinationChain)
	source, err := o.registry.Get(sourceChain)
	if err != nil {
		return nil, err
	}
	if _, err := o.registry.Get(destChain); err != nil {
		return nil, err
	}
	if sourceChain == destChain {
		return nil, fmt.Errorf("source and destination chain must differ")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount: %q", req.Amount)
	}
	recipient := req.RecipientAddress
	if recipient == "" {
		recipient = o.signers.MinterAddress
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address: %q", recipient)
	}

	// Without a caller-supplied key each request is a distinct intent;
	// sending the same amount to the same recipient twice is legitimate.
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = "bridge:" + uuid.New().String()
	}
	if existing, err := o.store.GetTransferByIdempotencyKey(ctx, idempotencyKey); err == nil {
		zap.L().Info("Bridge transfer deduplicated on idempotency key",
			zap.String("transfer_id", existing.Id),
			zap.String("idempotency_key", idempotencyKey))
		return o.assembleBridgeResult(ctx, existing)
	} else if !errors.Is(err, store.ErrTransferNotFound) {
		return nil, err
	}

	// The mint relay executes on the destination chain; refuse up front if
	// the minter cannot pay for it.
	report, err := o.gas.Check(ctx, o.signers.MinterAddress, destChain)
	if err != nil {
		return nil, fmt.Errorf("gas preflight failed: %w", err)
	}
	if !report.HasGas {
		return nil, &InsufficientGasError{
			Address: report.Address,
			ChainID: report.ChainID,
			Balance: report.Balance,
		}
	}

	approval, created, err := o.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:               models.KindBridgeApproval,
		SourceAccount:      o.operatorAccount,
		DestinationAddress: recipient,
		ChainID:            sourceChain,
		AmountAtomic:       models.DecimalToAtomic(amount),
		Asset:              AssetUSDC,
		IdempotencyKey:     idempotencyKey,
		Metadata: map[string]string{
			metaDestinationChain: strconv.FormatUint(uint64(destChain), 10),
			metaRecipient:        recipient,
		},
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return o.assembleBridgeResult(ctx, approval)
	}

	zap.L().Info("Bridge transfer initiated",
		zap.String("approval_id", approval.Id),
		zap.Uint64("source_chain", uint64(sourceChain)),
		zap.Uint64("destination_chain", uint64(destChain)),
		zap.String("amount", amount.String()),
		zap.String("recipient", recipient))

	// Step 1: approve the TokenMessenger to spend the burn amount.
	ref, err := o.provider.CreateContractExecution(ctx, circle.ContractExecutionRequest{
		IdempotencyKey:       providerIdempotencyKey("bridge-approve:" + approval.Id),
		WalletId:             o.signers.BurnSignerWalletId,
		Blockchain:           source.ProviderName,
		ContractAddress:      source.USDCAddress,
		ABIFunctionSignature: abiApprove,
		ABIParameters:        []any{source.TokenMessenger, strconv.FormatInt(approval.AmountAtomic, 10)},
	})
	if err != nil {
		o.failTransfer(ctx, approval.Id, "provider rejected approval", err)
		return nil, o.translateProviderError(err, sourceChain, o.signers.BurnSignerAddress)
	}
	if err := o.store.AttachProviderTransactionId(ctx, approval.Id, ref.Id); err != nil {
		return nil, err
	}
	approval.ProviderTransactionId = ref.Id

	if _, err := o.awaitProviderSuccess(ctx, approval); err != nil {
		return nil, err
	}

	// Step 2: burn on the source chain.
	burn, err := o.issueBurn(ctx, approval)
	if err != nil {
		return nil, err
	}
	burnTx, err := o.awaitProviderSuccess(ctx, burn)
	if err != nil {
		return nil, err
	}
	if burnTx.TxHash == "" {
		return nil, fmt.Errorf("burn transaction %s confirmed without hash", burn.ProviderTransactionId)
	}

	// Step 3: wait (bounded) for the bridge to attest the burn message.
	sourceDomain, err := o.registry.Domain(sourceChain)
	if err != nil {
		return nil, err
	}
	att, err := o.attestations.AwaitBounded(ctx, sourceDomain, burnTx.TxHash)
	if err != nil {
		if errors.Is(err, attestation.ErrAttestationFailed) {
			o.failTransfer(ctx, burn.Id, "bridge reported attestation failure", err)
		}
		return nil, err
	}

	// Step 4: relay the mint on the destination chain.
	mint, err := o.issueMint(ctx, burn, att)
	if err != nil {
		return nil, err
	}
	mintTx, err := o.awaitProviderSuccess(ctx, mint)
	if err != nil {
		return nil, err
	}

	return &models.BridgeTransferResponse{
		TransferId:       approval.Id,
		Attestation:      att.Attestation,
		MintTxHash:       mintTx.TxHash,
		SourceChain:      uint64(sourceChain),
		DestinationChain: uint64(destChain),
		Amount:           amount.String(),
		Recipient:        recipient,
	}, nil
}

// HandleBridgeNotification advances bridge step rows from a verified
// provider notification and issues the next step of the chain when the
// current one succeeds. Each issuance dedups on the previous step's id, so
// concurrent deliveries and the synchronous client path cannot double-burn
// or double-mint.
func (o *Orchestrator) HandleBridgeNotification(ctx context.Context, env models.WebhookEnvelope) error {
	mapped, ok := status.FromProviderState(env.Notification.State)
	if !ok {
		return nil
	}

	record, err := o.store.GetTransferByProviderTransactionId(ctx, env.Notification.Id)
	if errors.Is(err, store.ErrTransferNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch record.Kind {
	case models.KindBridgeApproval, models.KindBridgeBurn, models.KindBridgeMint:
	default:
		return nil
	}

	result, err := o.store.AdvanceTransfer(ctx, store.AdvanceParams{
		TransferId: record.Id,
		NewStatus:  mapped,
	})
	if err != nil {
		return fmt.Errorf("failed to advance bridge step %s: %w", record.Id, err)
	}
	if result.Advanced {
		zap.L().Info("Bridge step advanced",
			zap.String("transfer_id", record.Id),
			zap.String("kind", string(record.Kind)),
			zap.String("old_status", string(result.OldStatus)),
			zap.String("new_status", string(result.NewStatus)))
	}
	if !mapped.Success() {
		return nil
	}

	switch record.Kind {
	case models.KindBridgeApproval:
		_, err = o.issueBurn(ctx, record)
		return err
	case models.KindBridgeBurn:
		o.spawnMintRelay(record, env.Notification.TxHash)
		return nil
	default:
		// Mint success completes the chain; nothing left to issue.
		return nil
	}
}

// spawnMintRelay runs the attestation wait and mint issuance detached from
// the webhook request: the delivery is acknowledged once the burn row has
// advanced, and the provider's delivery timeout cannot cancel the wait.
// A relay lost to process death resumes on the next burn redelivery.
func (o *Orchestrator) spawnMintRelay(burn *models.TransferRecord, txHash string) {
	o.relays.Add(1)
	go func() {
		defer o.relays.Done()
		if err := o.relayMint(context.Background(), burn, txHash); err != nil {
			zap.L().Error("Mint relay failed",
				zap.String("burn_id", burn.Id),
				zap.Error(err))
		}
	}()
}

// issueBurn inserts the BRIDGE_BURN step for a confirmed approval and
// submits depositForBurn. Safe to call from both paths concurrently: the
// linked-step unique constraint makes the second caller a no-op.
func (o *Orchestrator) issueBurn(ctx context.Context, approval *models.TransferRecord) (*models.TransferRecord, error) {
	destChain, recipient, err := bridgeRouting(approval)
	if err != nil {
		return nil, err
	}
	source, err := o.registry.Get(approval.ChainID)
	if err != nil {
		return nil, err
	}
	destDomain, err := o.registry.Domain(destChain)
	if err != nil {
		return nil, err
	}

	burn, created, err := o.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:               models.KindBridgeBurn,
		SourceAccount:      approval.SourceAccount,
		DestinationAddress: recipient,
		ChainID:            approval.ChainID,
		AmountAtomic:       approval.AmountAtomic,
		Asset:              approval.Asset,
		IdempotencyKey:     "bridge-burn:" + approval.Id,
		LinkedStepId:       approval.Id,
		Metadata: map[string]string{
			metaDestinationChain: strconv.FormatUint(uint64(destChain), 10),
			metaRecipient:        recipient,
		},
	})
	if err != nil {
		return nil, err
	}
	if !created && burn.ProviderTransactionId != "" {
		// Already issued by the other path.
		return burn, nil
	}

	// Fast burns carry a relayer fee allowance; one atomic unit under the
	// amount, never negative.
	maxFee := approval.AmountAtomic - 1
	if maxFee < 0 {
		maxFee = 0
	}

	ref, err := o.provider.CreateContractExecution(ctx, circle.ContractExecutionRequest{
		IdempotencyKey:       providerIdempotencyKey("bridge-burn:" + approval.Id),
		WalletId:             o.signers.BurnSignerWalletId,
		Blockchain:           source.ProviderName,
		ContractAddress:      source.TokenMessenger,
		ABIFunctionSignature: abiDepositForBurn,
		ABIParameters: []any{
			strconv.FormatInt(approval.AmountAtomic, 10),
			destDomain,
			addressToBytes32(recipient),
			source.USDCAddress,
			zeroBytes32,
			strconv.FormatInt(maxFee, 10),
			minFinalityThreshold,
		},
	})
	if err != nil {
		o.failTransfer(ctx, burn.Id, "provider rejected burn", err)
		return nil, o.translateProviderError(err, approval.ChainID, o.signers.BurnSignerAddress)
	}
	if err := o.store.AttachProviderTransactionId(ctx, burn.Id, ref.Id); err != nil {
		return nil, err
	}
	burn.ProviderTransactionId = ref.Id

	zap.L().Info("Burn submitted",
		zap.String("burn_id", burn.Id),
		zap.String("approval_id", approval.Id),
		zap.String("provider_transaction_id", ref.Id))
	return burn, nil
}

// relayMint is the continuation after a burn confirms: wait for the
// attestation (unbounded) and issue the mint.
func (o *Orchestrator) relayMint(ctx context.Context, burn *models.TransferRecord, txHash string) error {
	// Double dedup before the expensive attestation wait.
	if existing, err := o.store.GetTransferByLinkedStepId(ctx, burn.Id); err == nil {
		zap.L().Debug("Mint already issued for burn",
			zap.String("burn_id", burn.Id),
			zap.String("mint_id", existing.Id))
		return nil
	} else if !errors.Is(err, store.ErrTransferNotFound) {
		return err
	}

	if txHash == "" {
		tx, err := o.provider.GetTransaction(ctx, burn.ProviderTransactionId)
		if err != nil {
			return fmt.Errorf("failed to fetch burn transaction detail: %w", err)
		}
		txHash = tx.TxHash
	}
	if txHash == "" {
		return fmt.Errorf("burn %s has no on-chain hash yet", burn.Id)
	}

	sourceDomain, err := o.registry.Domain(burn.ChainID)
	if err != nil {
		return err
	}
	att, err := o.attestations.Await(ctx, sourceDomain, txHash)
	if err != nil {
		if errors.Is(err, attestation.ErrAttestationFailed) {
			o.failTransfer(ctx, burn.Id, "bridge reported attestation failure", err)
			return nil
		}
		return err
	}

	_, err = o.issueMint(ctx, burn, att)
	return err
}

// issueMint inserts the BRIDGE_MINT step for an attested burn and submits
// receiveMessage on the destination chain. At most one mint exists per
// burn; the linked-step constraint absorbs races.
func (o *Orchestrator) issueMint(ctx context.Context, burn *models.TransferRecord, att *attestation.Attestation) (*models.TransferRecord, error) {
	destChain, recipient, err := bridgeRouting(burn)
	if err != nil {
		return nil, err
	}
	dest, err := o.registry.Get(destChain)
	if err != nil {
		return nil, err
	}

	mint, created, err := o.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:               models.KindBridgeMint,
		SourceAccount:      burn.SourceAccount,
		DestinationAddress: recipient,
		ChainID:            destChain,
		AmountAtomic:       burn.AmountAtomic,
		Asset:              burn.Asset,
		IdempotencyKey:     "bridge-mint:" + burn.Id,
		LinkedStepId:       burn.Id,
		Metadata: map[string]string{
			metaRecipient:   recipient,
			metaAttestation: att.Attestation,
		},
	})
	if err != nil {
		return nil, err
	}
	if !created && mint.ProviderTransactionId != "" {
		return mint, nil
	}

	ref, err := o.provider.CreateContractExecution(ctx, circle.ContractExecutionRequest{
		IdempotencyKey:       providerIdempotencyKey("bridge-mint:" + burn.Id),
		WalletId:             o.signers.MinterWalletId,
		Blockchain:           dest.ProviderName,
		ContractAddress:      dest.MessageTransmitter,
		ABIFunctionSignature: abiReceiveMessage,
		ABIParameters:        []any{att.Message, att.Attestation},
	})
	if err != nil {
		o.failTransfer(ctx, mint.Id, "provider rejected mint relay", err)
		return nil, o.translateProviderError(err, destChain, o.signers.MinterAddress)
	}
	if err := o.store.AttachProviderTransactionId(ctx, mint.Id, ref.Id); err != nil {
		return nil, err
	}
	mint.ProviderTransactionId = ref.Id

	zap.L().Info("Mint relay submitted",
		zap.String("mint_id", mint.Id),
		zap.String("burn_id", burn.Id),
		zap.String("provider_transaction_id", ref.Id))
	return mint, nil
}

// awaitProviderSuccess polls transaction detail until the provider reports
// a success state, advancing the ledger on every observed change. Used
// only on the synchronous client path; the webhook path never polls.
func (o *Orchestrator) awaitProviderSuccess(ctx context.Context, record *models.TransferRecord) (*circle.Transaction, error) {
	for attempt := 0; attempt < o.pollAttempts; attempt++ {
		tx, err := o.provider.GetTransaction(ctx, record.ProviderTransactionId)
		if err != nil {
			if circle.IsTransport(err) {
				if sleepErr := sleepCtx(ctx, o.pollInterval); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, err
		}

		if mapped, ok := status.FromProviderState(tx.State); ok {
			if _, err := o.store.AdvanceTransfer(ctx, store.AdvanceParams{
				TransferId: record.Id,
				NewStatus:  mapped,
			}); err != nil {
				return nil, err
			}
			if mapped == status.Failed {
				return nil, fmt.Errorf("transaction %s failed: %s", tx.Id, tx.ErrorReason)
			}
			if mapped.Success() {
				return tx, nil
			}
		}
		if err := sleepCtx(ctx, o.pollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transaction %s did not confirm within %d attempts",
		record.ProviderTransactionId, o.pollAttempts)
}

// assembleBridgeResult rebuilds the response for a deduplicated request
// from whatever the stored step chain has reached so far.
func (o *Orchestrator) assembleBridgeResult(ctx context.Context, approval *models.TransferRecord) (*models.BridgeTransferResponse, error) {
	destChain, recipient, err := bridgeRouting(approval)
	if err != nil {
		return nil, err
	}
	resp := &models.BridgeTransferResponse{
		TransferId:       approval.Id,
		SourceChain:      uint64(approval.ChainID),
		DestinationChain: uint64(destChain),
		Amount:           approval.Amount().String(),
		Recipient:        recipient,
	}

	burn, err := o.store.GetTransferByLinkedStepId(ctx, approval.Id)
	if errors.Is(err, store.ErrTransferNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	mint, err := o.store.GetTransferByLinkedStepId(ctx, burn.Id)
	if errors.Is(err, store.ErrTransferNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.Attestation = mint.Metadata[metaAttestation]
	if mint.ProviderTransactionId != "" {
		if tx, err := o.provider.GetTransaction(ctx, mint.ProviderTransactionId); err == nil {
			resp.MintTxHash = tx.TxHash
		}
	}
	return resp, nil
}

// translateProviderError turns the provider's insufficient-native-balance
// rejection into the typed gas error; everything else passes through.
func (o *Orchestrator) translateProviderError(err error, chainID chains.ChainID, signer string) error {
	var apiErr *circle.APIError
	if errors.As(err, &apiErr) && apiErr.GasRelated() {
		return &InsufficientGasError{Address: signer, ChainID: chainID}
	}
	return err
}

// bridgeRouting extracts the destination chain and recipient persisted on
// a bridge step row.
func bridgeRouting(record *models.TransferRecord) (chains.ChainID, string, error) {
	recipient := record.Metadata[metaRecipient]
	if recipient == "" {
		recipient = record.DestinationAddress
	}
	raw, ok := record.Metadata[metaDestinationChain]
	if !ok {
		// Mint rows live on the destination chain already.
		return record.ChainID, recipient, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("corrupt destination chain on transfer %s: %w", record.Id, err)
	}
	return chains.ChainID(id), recipient, nil
}

var zeroBytes32 = hexutil.Encode(make([]byte, 32))

// addressToBytes32 left-pads a 20-byte EVM address into the bridge's
// 32-byte recipient encoding.
func addressToBytes32(addr string) string {
	return hexutil.Encode(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
}
