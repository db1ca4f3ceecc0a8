package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/chains"
)

// Report is the result of a native-balance preflight. Best effort only:
// the balance can change between preflight and execution, so the
// authoritative gas failure is still the provider error on the actual
// call.
type Report struct {
	HasGas  bool
	Address string
	ChainID chains.ChainID
	Balance *big.Int
}

// balanceReader is the slice of the chain RPC client the checker needs.
type balanceReader interface {
	BalanceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (*big.Int, error)
}

// Checker reads native-token balances over chain RPC, one lazily-dialed
// client per chain id.
type Checker struct {
	registry *chains.Registry

	mu      sync.Mutex
	clients map[chains.ChainID]balanceReader
}

func NewChecker(registry *chains.Registry) *Checker {
	return &Checker{
		registry: registry,
		clients:  make(map[chains.ChainID]balanceReader),
	}
}

// Check reads the signer's native balance on the given chain and reports
// whether it can pay for gas at all.
func (c *Checker) Check(ctx context.Context, address string, chainID chains.ChainID) (*Report, error) {
	if !ethcommon.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid signer address %q", address)
	}

	client, err := c.clientFor(chainID)
	if err != nil {
		return nil, err
	}

	balance, err := client.BalanceAt(ctx, ethcommon.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read native balance on chain %d: %w", chainID, err)
	}

	report := &Report{
		HasGas:  balance.Sign() > 0,
		Address: address,
		ChainID: chainID,
		Balance: balance,
	}

	zap.L().Debug("Gas preflight",
		zap.String("address", address),
		zap.Uint64("chain_id", uint64(chainID)),
		zap.String("balance_wei", balance.String()),
		zap.Bool("has_gas", report.HasGas))

	return report, nil
}

func (c *Checker) clientFor(chainID chains.ChainID) (balanceReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}

	chain, err := c.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	if chain.RPCEndpoint == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}

	client, err := ethclient.Dial(chain.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC for chain %d: %w", chainID, err)
	}
	c.clients[chainID] = client
	return client, nil
}

// WithClient preinstalls a balance reader for a chain. Used by tests.
func (c *Checker) WithClient(chainID chains.ChainID, client balanceReader) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[chainID] = client
	return c
}
