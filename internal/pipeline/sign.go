package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vela-cycler/internal/worker"
)

const DefaultGasLimit = 2_200_000

type Keyring interface {
	SignTx(addr common.Address, tx *types.Transaction, signer types.Signer) (*types.Transaction, error)
}

type NonceSource interface {
	NonceFor(ctx context.Context, addr common.Address) (uint64, error)
}

// Signer fetches a nonce and signs one transaction per ready account.
type Signer struct {
	Keys     Keyring
	Nonces   NonceSource
	ChainID  *big.Int
	Contract common.Address
	GasLimit uint64

	Concurrency int
	TaskTimeout time.Duration
}

// SignAll signs every account in DataReady or ClosingDataReady. An account
// that fails is reported and left out of the returned snapshot; the others
// are unaffected.
func (s *Signer) SignAll(ctx context.Context, snap worker.Snapshot, gasPrice *big.Int) (worker.Snapshot, []Failure) {
	if err := s.check(gasPrice); err != nil {
		return nil, failAll(snap, StageSign, err)
	}
	signer := types.LatestSignerForChainID(s.ChainID)

	return runBatch(ctx, snap, StageSign, s.Concurrency, s.TaskTimeout, func(ctx context.Context, w worker.Worker) (worker.Worker, error) {
		if w.State != worker.DataReady && w.State != worker.ClosingDataReady {
			return w, fmt.Errorf("%w: %w", ErrSigningFailure, fmt.Errorf("%w: account %s is %s", worker.ErrInvalidTransition, w.Address.Hex(), w.State))
		}
		nonce, err := s.Nonces.NonceFor(ctx, w.Address)
		if err != nil {
			return w, fmt.Errorf("%w: nonce: %v", ErrSigningFailure, err)
		}
		tx := NewTransaction(nonce, s.Contract, s.gasLimit(), gasPrice, w.CallData)
		signed, err := s.Keys.SignTx(w.Address, tx, signer)
		if err != nil {
			return w, fmt.Errorf("%w: sign: %v", ErrSigningFailure, err)
		}
		return w.SetSigned(signed)
	})
}

func (s *Signer) check(gasPrice *big.Int) error {
	switch {
	case s.Keys == nil:
		return fmt.Errorf("%w: keyring required", ErrSigningFailure)
	case s.Nonces == nil:
		return fmt.Errorf("%w: nonce source required", ErrSigningFailure)
	case s.ChainID == nil || s.ChainID.Sign() <= 0:
		return fmt.Errorf("%w: chain id required", ErrSigningFailure)
	case gasPrice == nil || gasPrice.Sign() <= 0:
		return fmt.Errorf("%w: gas price required", ErrSigningFailure)
	}
	return nil
}

func (s *Signer) gasLimit() uint64 {
	if s.GasLimit == 0 {
		return DefaultGasLimit
	}
	return s.GasLimit
}

// NewTransaction builds the unsigned legacy envelope used for both legs:
// zero value, fixed gas limit, caller-supplied gas price.
func NewTransaction(nonce uint64, to common.Address, gasLimit uint64, gasPrice *big.Int, data []byte) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: new(big.Int).Set(gasPrice),
		Data:     append([]byte(nil), data...),
	})
}

func failAll(snap worker.Snapshot, stage Stage, err error) []Failure {
	out := make([]Failure, 0, len(snap))
	for _, w := range snap {
		out = append(out, Failure{Worker: w, Stage: stage, Err: err})
	}
	return out
}
