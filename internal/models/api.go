package models

// BridgeTransferRequest is a client-initiated cross-chain transfer.
type BridgeTransferRequest struct {
	SourceChain      uint64 `json:"sourceChain"`
	DestinationChain uint64 `json:"destinationChain"`
	Amount           string `json:"amount"` // human decimal string
	RecipientAddress string `json:"recipientAddress,omitempty"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`
}

// BridgeTransferResponse is returned when a client-initiated bridge
// transfer completes through the bounded path.
type BridgeTransferResponse struct {
	TransferId       string `json:"transferId"`
	Attestation      string `json:"attestation"`
	MintTxHash       string `json:"mintTxHash"`
	SourceChain      uint64 `json:"sourceChain"`
	DestinationChain uint64 `json:"destinationChain"`
	Amount           string `json:"amount"`
	Recipient        string `json:"recipient"`
}

// TopUpRequest records a user's inbound on-chain send so the resulting
// provider notification can be matched and credited.
type TopUpRequest struct {
	Account string `json:"account"`
	Chain   uint64 `json:"chain"`
	TxHash  string `json:"txHash"`
	Amount  string `json:"amount"`
	Address string `json:"address"`
}

// AdminTransferRequest moves USDC from the custodial wallet to an
// arbitrary address on one chain.
type AdminTransferRequest struct {
	Chain              uint64 `json:"chain"`
	DestinationAddress string `json:"destinationAddress"`
	Amount             string `json:"amount"`
}

// TransferResponse is the API view of a ledger row.
type TransferResponse struct {
	Id                    string            `json:"id"`
	Kind                  string            `json:"kind"`
	ProviderTransactionId string            `json:"providerTransactionId,omitempty"`
	SourceAccount         string            `json:"sourceAccount,omitempty"`
	DestinationAddress    string            `json:"destinationAddress,omitempty"`
	Chain                 uint64            `json:"chain"`
	Amount                string            `json:"amount"`
	Asset                 string            `json:"asset"`
	Status                string            `json:"status"`
	LinkedStepId          string            `json:"linkedStepId,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             string            `json:"createdAt"`
	UpdatedAt             string            `json:"updatedAt"`
}

// StatusEventResponse is one entry of a transfer's status timeline.
type StatusEventResponse struct {
	OldStatus string `json:"oldStatus,omitempty"`
	NewStatus string `json:"newStatus"`
	CreatedAt string `json:"createdAt"`
}

// TransferDetailResponse is a ledger row plus its ordered status history.
type TransferDetailResponse struct {
	Transfer TransferResponse      `json:"transfer"`
	History  []StatusEventResponse `json:"history"`
}

// ErrorResponse is the structured error body for client calls. Code is a
// machine-readable discriminator; the gas case carries signer and chain so
// the UI can drive its funding remediation flow.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error detail.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
	Chain   uint64 `json:"chain,omitempty"`
}

// Machine-readable error codes returned by the transfer API.
const (
	ErrCodeInsufficientGas = "INSUFFICIENT_GAS"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeUpstream        = "UPSTREAM_ERROR"
	ErrCodeTimeout         = "ATTESTATION_TIMEOUT"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
)
