package orchestrator

import (
	"fmt"
	"math/big"

	"bridge-wallet-go/internal/chains"
)

// InsufficientGasError reports that a signer wallet lacks native gas on
// the chain where the next step would execute. Callers surface Address and
// ChainID so the operator knows exactly which wallet to fund.
type InsufficientGasError struct {
	Address string
	ChainID chains.ChainID
	Balance *big.Int
}

func (e *InsufficientGasError) Error() string {
	return fmt.Sprintf("insufficient native gas for %s on chain %d (balance %s)",
		e.Address, e.ChainID, e.balanceString())
}

func (e *InsufficientGasError) balanceString() string {
	if e.Balance == nil {
		return "unknown"
	}
	return e.Balance.String()
}
