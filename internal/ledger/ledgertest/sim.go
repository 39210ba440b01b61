// Package ledgertest provides an in-memory chain backend for exercising the
// cycle without a node.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFunc returns the logs a mined transaction emits.
type LogFunc func(tx *types.Transaction, from common.Address) []*types.Log

// Sim implements ledger.Backend. Transactions queue on send and are mined into
// one block by Mine. With AutoMine every BlockNumber call first mines a block,
// so the head always advances between polls.
type Sim struct {
	Chain    *big.Int
	GasPrice *big.Int
	Logs     LogFunc
	// Reject refuses a transaction at send time when it returns an error.
	Reject func(tx *types.Transaction, from common.Address) error
	// HiddenPolls is how many receipt lookups per mined tx report NotFound
	// before the receipt becomes visible.
	HiddenPolls int
	AutoMine    bool
	// Balances overrides the native balance per address; others report
	// DefaultBalance.
	Balances map[common.Address]*big.Int

	mu       sync.Mutex
	head     uint64
	nonces   map[common.Address]uint64
	queue    []*types.Transaction
	seen     map[common.Hash]struct{}
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	sent     []*types.Transaction
}

// DefaultBalance is 1 ETH.
var DefaultBalance = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func New(head uint64) *Sim {
	return &Sim{
		Chain:    big.NewInt(42161),
		GasPrice: big.NewInt(100_000_000),
		head:     head,
		nonces:   make(map[common.Address]uint64),
		seen:     make(map[common.Hash]struct{}),
		receipts: make(map[common.Hash]*types.Receipt),
		polls:    make(map[common.Hash]int),
	}
}

func (s *Sim) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.Chain), nil
}

func (s *Sim) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AutoMine {
		s.mineLocked()
	}
	return s.head, nil
}

func (s *Sim) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[addr], nil
}

func (s *Sim) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.GasPrice), nil
}

func (s *Sim) BalanceAt(_ context.Context, addr common.Address, _ *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int).Set(DefaultBalance), nil
}

func (s *Sim) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(s.Chain), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[tx.Hash()]; ok {
		return errors.New("already known")
	}
	if s.Reject != nil {
		if err := s.Reject(tx, from); err != nil {
			return err
		}
	}
	switch want := s.nonces[from]; {
	case tx.Nonce() < want:
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), want)
	case tx.Nonce() > want:
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), want)
	}
	s.nonces[from]++
	s.seen[tx.Hash()] = struct{}{}
	s.queue = append(s.queue, tx)
	s.sent = append(s.sent, tx)
	return nil
}

func (s *Sim) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	if s.polls[h] < s.HiddenPolls {
		s.polls[h]++
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (s *Sim) Close() {}

// Mine includes every queued transaction in a new block and returns its height.
func (s *Sim) Mine() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mineLocked()
}

func (s *Sim) mineLocked() uint64 {
	s.head++
	signer := types.LatestSignerForChainID(s.Chain)
	var logIndex uint
	for i, tx := range s.queue {
		from, _ := types.Sender(signer, tx)
		r := &types.Receipt{
			Type:             tx.Type(),
			Status:           types.ReceiptStatusSuccessful,
			TxHash:           tx.Hash(),
			GasUsed:          tx.Gas() / 2,
			BlockNumber:      new(big.Int).SetUint64(s.head),
			TransactionIndex: uint(i),
		}
		if s.Logs != nil {
			for _, lg := range s.Logs(tx, from) {
				if lg == nil {
					continue
				}
				cp := *lg
				cp.TxHash = tx.Hash()
				cp.BlockNumber = s.head
				cp.TxIndex = uint(i)
				cp.Index = logIndex
				logIndex++
				r.Logs = append(r.Logs, &cp)
			}
		}
		s.receipts[tx.Hash()] = r
	}
	s.queue = nil
	return s.head
}

func (s *Sim) Head() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Sent returns every accepted transaction in send order.
func (s *Sim) Sent() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Transaction(nil), s.sent...)
}
