package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bridge-wallet-go/internal/attestation"
	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/circle"
	"bridge-wallet-go/internal/database"
	"bridge-wallet-go/internal/gas"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
	"bridge-wallet-go/internal/store"
)

type fakeProvider struct {
	mu         sync.Mutex
	transfers  []circle.TransferRequest
	executions []circle.ContractExecutionRequest
	execRefs   map[string]*circle.TransactionReference
	nextId     int
	txState    string
	txHash     string
	execErr    error
}

func (f *fakeProvider) CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.TransactionReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	f.nextId++
	return &circle.TransactionReference{Id: fmt.Sprintf("ptx-%d", f.nextId), State: "INITIATED"}, nil
}

func (f *fakeProvider) CreateContractExecution(ctx context.Context, req circle.ContractExecutionRequest) (*circle.TransactionReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	// The provider dedups on idempotency key; a resubmitted request gets
	// the original transaction back.
	if ref, ok := f.execRefs[req.IdempotencyKey]; ok {
		return ref, nil
	}
	f.executions = append(f.executions, req)
	f.nextId++
	ref := &circle.TransactionReference{Id: fmt.Sprintf("ptx-%d", f.nextId), State: "INITIATED"}
	if f.execRefs == nil {
		f.execRefs = make(map[string]*circle.TransactionReference)
	}
	f.execRefs[req.IdempotencyKey] = ref
	return ref, nil
}

func (f *fakeProvider) GetTransaction(ctx context.Context, id string) (*circle.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &circle.Transaction{Id: id, State: f.txState, TxHash: f.txHash}, nil
}

func (f *fakeProvider) executionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executions)
}

type fakeAttestations struct {
	mu    sync.Mutex
	att   *attestation.Attestation
	err   error
	calls int
}

func (f *fakeAttestations) Await(ctx context.Context, domain uint32, txHash string) (*attestation.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.att, f.err
}

func (f *fakeAttestations) AwaitBounded(ctx context.Context, domain uint32, txHash string) (*attestation.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.att, f.err
}

func (f *fakeAttestations) awaitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGas struct {
	hasGas bool
	calls  int
}

func (f *fakeGas) Check(ctx context.Context, address string, chainID chains.ChainID) (*gas.Report, error) {
	f.calls++
	return &gas.Report{HasGas: f.hasGas, Address: address, ChainID: chainID}, nil
}

type fixture struct {
	orch         *Orchestrator
	store        *database.Service
	provider     *fakeProvider
	attestations *fakeAttestations
	gas          *fakeGas
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	svc := database.NewServiceWithDB(db)
	if err := svc.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return newFixtureWithStore(t, svc)
}

// newFileFixture backs the fixture with a file database so tests can hit
// the store from multiple goroutines at once.
func newFileFixture(t *testing.T) *fixture {
	t.Helper()

	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to open file-backed database: %v", err)
	}
	return newFixtureWithStore(t, svc)
}

func newFixtureWithStore(t *testing.T, svc *database.Service) *fixture {
	t.Helper()
	t.Cleanup(svc.Close)

	if err := svc.EnsureAccount(context.Background(), "operator", "Operator"); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{txState: "COMPLETE", txHash: "0xburnhash"}
	attestations := &fakeAttestations{att: &attestation.Attestation{
		Message:     "0xdeadbeef",
		Attestation: "0xa77e57",
		Status:      attestation.StatusComplete,
	}}
	gasChecker := &fakeGas{hasGas: true}

	orch := New(svc, provider, attestations, gasChecker, chains.NewRegistry(), models.SignerConfig{
		DepositorWalletId:  "wallet-depositor",
		BurnSignerWalletId: "wallet-burner",
		BurnSignerAddress:  "0x2222222222222222222222222222222222222222",
		MinterWalletId:     "wallet-minter",
		MinterAddress:      "0x3333333333333333333333333333333333333333",
	}, "operator").WithPolling(time.Millisecond, 10)

	return &fixture{orch: orch, store: svc, provider: provider, attestations: attestations, gas: gasChecker}
}

func notification(providerTxId, state, blockchain, txHash string) models.WebhookEnvelope {
	return models.WebhookEnvelope{
		NotificationId:   "n-" + providerTxId + "-" + state,
		NotificationType: "transactions.outbound",
		Notification: models.TransactionNotification{
			Id:         providerTxId,
			State:      state,
			Blockchain: blockchain,
			TxHash:     txHash,
		},
	}
}

func TestInitiateTopUpIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := models.TopUpRequest{
		Account: "alice",
		Chain:   11155111,
		TxHash:  "0xdeposit",
		Amount:  "25",
		Address: "0xCUSTODY",
	}
	first, created, err := f.orch.InitiateTopUp(ctx, req)
	if err != nil || !created {
		t.Fatalf("first top-up: created=%v err=%v", created, err)
	}
	second, created, err := f.orch.InitiateTopUp(ctx, req)
	if err != nil {
		t.Fatalf("retried top-up errored: %v", err)
	}
	if created || second.Id != first.Id {
		t.Errorf("retry must return the original row: created=%v ids %s/%s", created, first.Id, second.Id)
	}
}

func TestHandleTransferNotificationCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.EnsureAccount(ctx, "alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	// The custody deposit address is internal on every chain.
	if err := f.store.RegisterAccountAddress(ctx, "operator", "0xCUSTODY", 0); err != nil {
		t.Fatal(err)
	}

	record, _, err := f.orch.InitiateTopUp(ctx, models.TopUpRequest{
		Account: "alice",
		Chain:   11155111,
		TxHash:  "0xdeposit",
		Amount:  "25",
		Address: "0xCUSTODY",
	})
	if err != nil {
		t.Fatal(err)
	}

	// First delivery matches on (chain, txHash) and binds the provider id.
	env := notification("ptx-topup", "CONFIRMED", "ETH-SEPOLIA", "0xdeposit")
	if err := f.orch.HandleTransferNotification(ctx, env); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	// Redelivery plus the later COMPLETE must not credit again.
	if err := f.orch.HandleTransferNotification(ctx, env); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if err := f.orch.HandleTransferNotification(ctx, notification("ptx-topup", "COMPLETE", "ETH-SEPOLIA", "0xdeposit")); err != nil {
		t.Fatalf("COMPLETE delivery failed: %v", err)
	}

	balance, err := f.store.GetAccountBalance(ctx, "alice", "USDC")
	if err != nil {
		t.Fatal(err)
	}
	if want := decimal.RequireFromString("25"); !balance.Equal(want) {
		t.Errorf("balance = %s, want %s", balance, want)
	}

	loaded, err := f.store.GetTransfer(ctx, record.Id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != status.Complete {
		t.Errorf("status = %s, want COMPLETE", loaded.Status)
	}
	if loaded.ProviderTransactionId != "ptx-topup" {
		t.Errorf("provider transaction id not bound: %q", loaded.ProviderTransactionId)
	}
}

func TestHandleTransferNotificationSuppressesRegression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, _, err := f.orch.InitiateTopUp(ctx, models.TopUpRequest{
		Account: "alice", Chain: 11155111, TxHash: "0xd2", Amount: "5", Address: "0xCUSTODY",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.HandleTransferNotification(ctx, notification("ptx-r", "COMPLETE", "ETH-SEPOLIA", "0xd2")); err != nil {
		t.Fatal(err)
	}
	// Out-of-order CONFIRMED after COMPLETE.
	if err := f.orch.HandleTransferNotification(ctx, notification("ptx-r", "CONFIRMED", "ETH-SEPOLIA", "0xd2")); err != nil {
		t.Fatal(err)
	}

	loaded, err := f.store.GetTransfer(ctx, record.Id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != status.Complete {
		t.Errorf("status regressed to %s", loaded.Status)
	}
}

func TestHandleTransferNotificationUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	err := f.orch.HandleTransferNotification(context.Background(),
		notification("ptx-stranger", "CONFIRMED", "ETH-SEPOLIA", "0xunknown"))
	if err != nil {
		t.Errorf("unknown transaction must be a silent no-op, got %v", err)
	}
}

func TestInitiateBridgeTransferGasShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.gas.hasGas = false

	_, err := f.orch.InitiateBridgeTransfer(context.Background(), models.BridgeTransferRequest{
		SourceChain:      11155111,
		DestinationChain: 84532,
		Amount:           "10",
	})

	gasErr, ok := err.(*InsufficientGasError)
	if !ok {
		t.Fatalf("expected *InsufficientGasError, got %T: %v", err, err)
	}
	if gasErr.ChainID != 84532 {
		t.Errorf("gas error chain = %d, want destination 84532", gasErr.ChainID)
	}
	if f.provider.executionCount() != 0 {
		t.Error("no provider call may happen before the gas preflight passes")
	}
}

func TestInitiateBridgeTransferFullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.orch.InitiateBridgeTransfer(ctx, models.BridgeTransferRequest{
		SourceChain:      11155111,
		DestinationChain: 84532,
		Amount:           "10",
		RecipientAddress: "0x4444444444444444444444444444444444444444",
		IdempotencyKey:   "client-key-1",
	})
	if err != nil {
		t.Fatalf("bridge transfer failed: %v", err)
	}
	if resp.Attestation != "0xa77e57" {
		t.Errorf("attestation = %q", resp.Attestation)
	}
	if resp.MintTxHash == "" {
		t.Error("mint tx hash missing from response")
	}

	// approve, depositForBurn, receiveMessage.
	if got := f.provider.executionCount(); got != 3 {
		t.Fatalf("expected 3 contract executions, got %d", got)
	}
	if sig := f.provider.executions[0].ABIFunctionSignature; sig != abiApprove {
		t.Errorf("first call = %s, want approve", sig)
	}
	if sig := f.provider.executions[1].ABIFunctionSignature; sig != abiDepositForBurn {
		t.Errorf("second call = %s, want depositForBurn", sig)
	}
	if sig := f.provider.executions[2].ABIFunctionSignature; sig != abiReceiveMessage {
		t.Errorf("third call = %s, want receiveMessage", sig)
	}
	// The mint relays on the destination chain with the minter wallet.
	if f.provider.executions[2].Blockchain != "BASE-SEPOLIA" || f.provider.executions[2].WalletId != "wallet-minter" {
		t.Errorf("mint misrouted: %+v", f.provider.executions[2])
	}

	// Ledger chain: approval -> burn -> mint via linked step ids.
	approval, err := f.store.GetTransferByIdempotencyKey(ctx, "client-key-1")
	if err != nil {
		t.Fatal(err)
	}
	burn, err := f.store.GetTransferByLinkedStepId(ctx, approval.Id)
	if err != nil {
		t.Fatalf("burn row missing: %v", err)
	}
	mint, err := f.store.GetTransferByLinkedStepId(ctx, burn.Id)
	if err != nil {
		t.Fatalf("mint row missing: %v", err)
	}
	if mint.Kind != models.KindBridgeMint || mint.ChainID != 84532 {
		t.Errorf("mint row wrong: kind=%s chain=%d", mint.Kind, mint.ChainID)
	}
}

func TestInitiateBridgeTransferDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := models.BridgeTransferRequest{
		SourceChain:      11155111,
		DestinationChain: 43113,
		Amount:           "10",
		RecipientAddress: "0x4444444444444444444444444444444444444444",
		IdempotencyKey:   "client-key-dup",
	}
	first, err := f.orch.InitiateBridgeTransfer(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := f.provider.executionCount()

	second, err := f.orch.InitiateBridgeTransfer(ctx, req)
	if err != nil {
		t.Fatalf("retried bridge transfer errored: %v", err)
	}
	if second.TransferId != first.TransferId {
		t.Errorf("retry created a new chain: %s vs %s", second.TransferId, first.TransferId)
	}
	if f.provider.executionCount() != callsAfterFirst {
		t.Error("retry must not submit any new provider call")
	}
}

func TestBridgeWebhookChainAtMostOneMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Approval row as the client path would have written it.
	approval, _, err := f.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:                  models.KindBridgeApproval,
		ProviderTransactionId: "ptx-approve",
		SourceAccount:         "operator",
		DestinationAddress:    "0x4444444444444444444444444444444444444444",
		ChainID:               11155111,
		AmountAtomic:          10_000_000,
		Asset:                 "USDC",
		IdempotencyKey:        "wh-key-1",
		Metadata: map[string]string{
			"destinationChain": "84532",
			"recipient":        "0x4444444444444444444444444444444444444444",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Approval confirms: the burn must be issued.
	if err := f.orch.HandleBridgeNotification(ctx, notification("ptx-approve", "CONFIRMED", "ETH-SEPOLIA", "0xapprovehash")); err != nil {
		t.Fatalf("approval notification failed: %v", err)
	}
	burn, err := f.store.GetTransferByLinkedStepId(ctx, approval.Id)
	if err != nil {
		t.Fatalf("burn not issued: %v", err)
	}
	if burn.Kind != models.KindBridgeBurn || burn.ProviderTransactionId == "" {
		t.Fatalf("burn row incomplete: %+v", burn)
	}

	// Approval redelivery must not issue a second burn.
	if err := f.orch.HandleBridgeNotification(ctx, notification("ptx-approve", "CONFIRMED", "ETH-SEPOLIA", "0xapprovehash")); err != nil {
		t.Fatal(err)
	}
	if got := f.provider.executionCount(); got != 1 {
		t.Fatalf("expected exactly 1 burn submission, got %d executions", got)
	}

	// Burn confirms twice (redelivery): exactly one mint. The relay runs
	// detached from the notification; drain it before asserting.
	burnEnv := notification(burn.ProviderTransactionId, "CONFIRMED", "ETH-SEPOLIA", "0xburnhash")
	if err := f.orch.HandleBridgeNotification(ctx, burnEnv); err != nil {
		t.Fatalf("burn notification failed: %v", err)
	}
	f.orch.Wait()
	if err := f.orch.HandleBridgeNotification(ctx, burnEnv); err != nil {
		t.Fatalf("burn redelivery failed: %v", err)
	}
	f.orch.Wait()

	mint, err := f.store.GetTransferByLinkedStepId(ctx, burn.Id)
	if err != nil {
		t.Fatalf("mint not issued: %v", err)
	}
	if got := f.attestations.awaitCount(); got != 1 {
		t.Errorf("attestation awaited %d times, want 1", got)
	}
	if got := f.provider.executionCount(); got != 2 {
		t.Errorf("expected 2 executions (burn, mint), got %d", got)
	}

	// Mint completes: chain done, no further issuance.
	if err := f.orch.HandleBridgeNotification(ctx, notification(mint.ProviderTransactionId, "COMPLETE", "BASE-SEPOLIA", "0xminthash")); err != nil {
		t.Fatal(err)
	}
	loaded, err := f.store.GetTransfer(ctx, mint.Id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != status.Complete {
		t.Errorf("mint status = %s, want COMPLETE", loaded.Status)
	}
	if got := f.provider.executionCount(); got != 2 {
		t.Errorf("mint completion issued an extra call: %d executions", got)
	}
}

func TestInitiateBridgeTransferWithoutKeyDistinctIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No idempotency key: sending the same amount to the same recipient
	// twice is two intents, two full chains.
	req := models.BridgeTransferRequest{
		SourceChain:      11155111,
		DestinationChain: 43113,
		Amount:           "10",
		RecipientAddress: "0x4444444444444444444444444444444444444444",
	}
	first, err := f.orch.InitiateBridgeTransfer(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.InitiateBridgeTransfer(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if second.TransferId == first.TransferId {
		t.Errorf("repeated request without a key collapsed into one chain: %s", first.TransferId)
	}
	if got := f.provider.executionCount(); got != 6 {
		t.Errorf("expected 6 executions (two approve/burn/mint chains), got %d", got)
	}
}

func TestBridgeConcurrentBurnConfirmationsSingleMint(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	approval, _, err := f.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:                  models.KindBridgeApproval,
		ProviderTransactionId: "ptx-approve-c",
		SourceAccount:         "operator",
		DestinationAddress:    "0x4444444444444444444444444444444444444444",
		ChainID:               11155111,
		AmountAtomic:          10_000_000,
		Asset:                 "USDC",
		IdempotencyKey:        "wh-key-c",
		Metadata: map[string]string{
			"destinationChain": "84532",
			"recipient":        "0x4444444444444444444444444444444444444444",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.orch.HandleBridgeNotification(ctx, notification("ptx-approve-c", "CONFIRMED", "ETH-SEPOLIA", "0xapprovehash")); err != nil {
		t.Fatalf("approval notification failed: %v", err)
	}
	burn, err := f.store.GetTransferByLinkedStepId(ctx, approval.Id)
	if err != nil {
		t.Fatalf("burn not issued: %v", err)
	}

	// Two deliveries of the burn confirmation land at the same time.
	burnEnv := notification(burn.ProviderTransactionId, "CONFIRMED", "ETH-SEPOLIA", "0xburnhash")
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.orch.HandleBridgeNotification(ctx, burnEnv); err != nil {
				t.Errorf("concurrent burn notification failed: %v", err)
			}
		}()
	}
	wg.Wait()
	f.orch.Wait()

	mint, err := f.store.GetTransferByLinkedStepId(ctx, burn.Id)
	if err != nil {
		t.Fatalf("mint not issued: %v", err)
	}
	if mint.Kind != models.KindBridgeMint || mint.ProviderTransactionId == "" {
		t.Fatalf("mint row incomplete: %+v", mint)
	}
	if got := f.provider.executionCount(); got != 2 {
		t.Errorf("expected 2 submissions (one burn, one mint), got %d", got)
	}
}

func TestBridgeFailureStopsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	approval, _, err := f.store.CreateTransfer(ctx, store.CreateTransferParams{
		Kind:                  models.KindBridgeApproval,
		ProviderTransactionId: "ptx-approve-f",
		ChainID:               11155111,
		AmountAtomic:          10_000_000,
		Asset:                 "USDC",
		IdempotencyKey:        "wh-key-f",
		Metadata:              map[string]string{"destinationChain": "84532", "recipient": "0x4444444444444444444444444444444444444444"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.HandleBridgeNotification(ctx, notification("ptx-approve-f", "FAILED", "ETH-SEPOLIA", "")); err != nil {
		t.Fatal(err)
	}

	loaded, err := f.store.GetTransfer(ctx, approval.Id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != status.Failed {
		t.Errorf("approval status = %s, want FAILED", loaded.Status)
	}
	if f.provider.executionCount() != 0 {
		t.Error("a failed approval must not issue a burn")
	}
}

func TestProviderGasRejectionSurfacesTypedError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.execErr = &circle.APIError{StatusCode: 400, Code: 155704, Message: "insufficient native token balance"}

	_, err := f.orch.InitiateBridgeTransfer(ctx, models.BridgeTransferRequest{
		SourceChain:      11155111,
		DestinationChain: 84532,
		Amount:           "10",
		RecipientAddress: "0x4444444444444444444444444444444444444444",
		IdempotencyKey:   "client-key-gas",
	})
	if _, ok := err.(*InsufficientGasError); !ok {
		t.Fatalf("expected *InsufficientGasError, got %T: %v", err, err)
	}

	approval, err := f.store.GetTransferByIdempotencyKey(ctx, "client-key-gas")
	if err != nil {
		t.Fatal(err)
	}
	if approval.Status != status.Failed {
		t.Errorf("rejected approval status = %s, want FAILED", approval.Status)
	}
}
