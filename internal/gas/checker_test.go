package gas

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"bridge-wallet-go/internal/chains"
)

type fakeBalanceReader struct {
	balance *big.Int
	err     error
}

func (f *fakeBalanceReader) BalanceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func TestCheckReportsGasPresence(t *testing.T) {
	checker := NewChecker(chains.NewRegistry()).
		WithClient(84532, &fakeBalanceReader{balance: big.NewInt(1_000_000)})

	report, err := checker.Check(context.Background(), "0x3333333333333333333333333333333333333333", 84532)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !report.HasGas {
		t.Error("positive balance should report HasGas")
	}
	if report.Balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("balance = %s", report.Balance)
	}
}

func TestCheckZeroBalance(t *testing.T) {
	checker := NewChecker(chains.NewRegistry()).
		WithClient(84532, &fakeBalanceReader{balance: big.NewInt(0)})

	report, err := checker.Check(context.Background(), "0x3333333333333333333333333333333333333333", 84532)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if report.HasGas {
		t.Error("zero balance must not report HasGas")
	}
}

func TestCheckRejectsInvalidAddress(t *testing.T) {
	checker := NewChecker(chains.NewRegistry())

	if _, err := checker.Check(context.Background(), "not-an-address", 84532); err == nil {
		t.Error("invalid address should be rejected before any RPC call")
	}
}
