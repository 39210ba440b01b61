package cycle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

type BalanceSource interface {
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Funding is one account's native balance against the gas one cycle needs.
type Funding struct {
	Address  common.Address
	Balance  *big.Int
	Required *big.Int
	Err      error
}

func (f Funding) Short() bool {
	return f.Err == nil && f.Balance.Cmp(f.Required) < 0
}

// CycleGasCost is the worst-case fee of one cycle: an open and a close at
// gasLimit and gasPrice.
func CycleGasCost(gasPrice *big.Int, gasLimit uint64) *big.Int {
	cost := new(big.Int).SetUint64(gasLimit)
	cost.Mul(cost, gasPrice)
	return cost.Mul(cost, big.NewInt(2))
}

// Preflight reads every account's balance, in input order.
func Preflight(ctx context.Context, src BalanceSource, addrs []common.Address, gasPrice *big.Int, gasLimit uint64) []Funding {
	required := CycleGasCost(gasPrice, gasLimit)
	out := make([]Funding, len(addrs))

	var g errgroup.Group
	g.SetLimit(8)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			b, err := src.BalanceOf(ctx, addr)
			out[i] = Funding{Address: addr, Balance: b, Required: required, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
