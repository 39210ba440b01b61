package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrReceiptNotFound   = errors.New("receipt not found")
	ErrBroadcastRejected = errors.New("broadcast rejected")
)

// Backend is the subset of *ethclient.Client the ledger client needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Client is safe for concurrent use; one instance is shared by every
// pipeline task.
type Client struct {
	backend Backend

	mu         sync.Mutex
	nonceLocks map[common.Address]*sync.Mutex
}

func NewClient(backend Backend) *Client {
	return &Client{backend: backend, nonceLocks: make(map[common.Address]*sync.Mutex)}
}

func (c *Client) Close() {
	if c == nil || c.backend == nil {
		return
	}
	c.backend.Close()
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// NonceFor returns the pending nonce for addr. Calls for the same address are
// serialized; calls for different addresses run in parallel.
func (c *Client) NonceFor(ctx context.Context, addr common.Address) (uint64, error) {
	lock := c.nonceLock(addr)
	lock.Lock()
	defer lock.Unlock()

	n, err := c.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("nonce %s: %w", addr.Hex(), err)
	}
	return n, nil
}

func (c *Client) nonceLock(addr common.Address) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.nonceLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		c.nonceLocks[addr] = l
	}
	return l
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("gas price: node returned %v", p)
	}
	return p, nil
}

// BalanceOf returns the native balance of addr at the latest block.
func (c *Client) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	b, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance %s: %w", addr.Hex(), err)
	}
	return b, nil
}

// Broadcast sends a signed transaction. A node that already holds the same
// signed transaction is not an error: the ledger deduplicates by hash, so the
// original hash is returned.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if tx == nil {
		return common.Hash{}, fmt.Errorf("%w: nil transaction", ErrBroadcastRejected)
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		if IsAlreadyKnown(err) {
			return tx.Hash(), nil
		}
		return common.Hash{}, fmt.Errorf("%w: tx=%s: %v", ErrBroadcastRejected, tx.Hash().Hex(), err)
	}
	return tx.Hash(), nil
}

// ReceiptFor returns ErrReceiptNotFound while the node has not indexed hash.
func (c *Client) ReceiptFor(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: tx=%s", ErrReceiptNotFound, hash.Hex())
		}
		return nil, fmt.Errorf("receipt tx=%s: %w", hash.Hex(), err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: tx=%s", ErrReceiptNotFound, hash.Hex())
	}
	return r, nil
}

// IsAlreadyKnown matches the duplicate-submission errors returned by geth
// ("already known"), older geth/erigon ("known transaction") and nethermind
// ("AlreadyKnown").
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "alreadyknown") ||
		strings.Contains(msg, "known transaction")
}
