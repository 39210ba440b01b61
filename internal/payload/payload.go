package payload

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

var (
	ErrMissingPositionID = errors.New("missing position id")
	ErrInvalidParams     = errors.New("invalid order params")
)

const DefaultSlippage = 250

type Encoder interface {
	EncodeCall(name string, args ...any) ([]byte, error)
}

// Builder produces call data for the open and close legs. Size is the
// collateral in USD; the opened position is Size*Leverage.
type Builder struct {
	Contract   Encoder
	IndexToken common.Address
	Size       decimal.Decimal
	Leverage   decimal.Decimal
	Slippage   uint64
	Referrer   common.Address
}

func (b Builder) validate() error {
	if b.Contract == nil {
		return fmt.Errorf("%w: contract encoder required", ErrInvalidParams)
	}
	if (b.IndexToken == common.Address{}) {
		return fmt.Errorf("%w: index token required", ErrInvalidParams)
	}
	if !b.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidParams, b.Size)
	}
	if !b.Leverage.IsPositive() {
		return fmt.Errorf("%w: leverage must be positive, got %s", ErrInvalidParams, b.Leverage)
	}
	return nil
}

// BuildOpen encodes a market newPositionOrder for group at referencePrice.
// Every account of a group receives the same bytes.
func (b Builder) BuildOpen(group worker.Group, referencePrice decimal.Decimal) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if !referencePrice.IsPositive() {
		return nil, fmt.Errorf("%w: reference price must be positive, got %s", ErrInvalidParams, referencePrice)
	}

	collateral := ScaleUSD(b.Size)
	params := []*big.Int{
		ScaleUSD(referencePrice),
		new(big.Int).SetUint64(b.slippage()),
		collateral,
		ScaleUSD(b.Size.Mul(b.Leverage)),
	}
	return b.Contract.EncodeCall(vela.FuncNewPositionOrder, b.IndexToken, group.IsLong(), vela.OrderTypeMarket, params, b.Referrer)
}

// BuildClose encodes decreasePosition for the worker's resolved position.
func (b Builder) BuildClose(w worker.Worker) ([]byte, error) {
	if w.PositionID == nil {
		return nil, fmt.Errorf("%w: account %s", ErrMissingPositionID, w.Address.Hex())
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b.Contract.EncodeCall(vela.FuncDecreasePosition, b.IndexToken, ScaleUSD(b.Size), w.Group.IsLong(), new(big.Int).Set(w.PositionID))
}

func (b Builder) slippage() uint64 {
	if b.Slippage == 0 {
		return DefaultSlippage
	}
	return b.Slippage
}

// ScaleUSD converts d to the contract's 30-decimal fixed point, truncating
// any precision below 1e-30.
func ScaleUSD(d decimal.Decimal) *big.Int {
	return d.Shift(vela.PriceDecimals).BigInt()
}
