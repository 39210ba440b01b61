package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vela-cycler/internal/ledger"
	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

type ReceiptSource interface {
	ReceiptFor(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Resolver reads the position id assigned to each confirmed open order out of
// the order's receipt.
type Resolver struct {
	Receipts ReceiptSource
	Schema   vela.EventSchema
	// PositionField is the index (in declaration order) of the field holding
	// the position id.
	PositionField int
	// Emitter, when set, restricts the scan to logs emitted by that address.
	Emitter common.Address

	Concurrency int
	TaskTimeout time.Duration
}

// Resolve moves one Confirmed worker to PositionResolved.
func (r *Resolver) Resolve(ctx context.Context, w worker.Worker) (worker.Worker, error) {
	if w.State != worker.Confirmed {
		return w, fmt.Errorf("%w: account %s is %s, need %s", worker.ErrInvalidTransition, w.Address.Hex(), w.State, worker.Confirmed)
	}
	if r.Receipts == nil {
		return w, fmt.Errorf("receipt source required")
	}
	receipt, err := r.Receipts.ReceiptFor(ctx, w.TxHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ledger.ErrReceiptNotFound) {
			return w, fmt.Errorf("%w: receipt %s: %v", ErrTimeout, w.TxHash.Hex(), err)
		}
		return w, err
	}
	id, err := r.PositionID(receipt)
	if err != nil {
		return w, fmt.Errorf("tx=%s: %w", w.TxHash.Hex(), err)
	}
	return w.SetPosition(id)
}

// PositionID scans the receipt's logs in order and decodes the first one
// whose first topic is the schema's event id. Later matches are ignored.
func (r *Resolver) PositionID(receipt *types.Receipt) (*big.Int, error) {
	if receipt == nil {
		return nil, fmt.Errorf("%w: nil receipt", ErrEventNotEmitted)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: transaction reverted", ErrEventNotEmitted)
	}
	lg := r.firstMatch(receipt.Logs)
	if lg == nil {
		return nil, fmt.Errorf("%w: no %s log among %d", ErrEventNotEmitted, r.Schema.Name, len(receipt.Logs))
	}

	dec, err := vela.DecodeLog(r.Schema, *lg)
	if err != nil {
		return nil, err
	}
	v, ok := dec.Value(r.PositionField)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %d", vela.ErrSchemaMismatch, r.Schema.Name, r.PositionField)
	}
	id, ok := v.(*big.Int)
	if !ok || id == nil {
		return nil, fmt.Errorf("%w: %s field %d is %T, want integer", vela.ErrSchemaMismatch, r.Schema.Name, r.PositionField, v)
	}
	return new(big.Int).Set(id), nil
}

func (r *Resolver) firstMatch(logs []*types.Log) *types.Log {
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		if lg.Topics[0] != r.Schema.ID {
			continue
		}
		if r.Emitter != (common.Address{}) && lg.Address != r.Emitter {
			continue
		}
		return lg
	}
	return nil
}

// ResolveAll resolves every worker in snap. Workers whose receipt is not yet
// indexed come back in pending, unchanged, so the caller can retry them; every
// other error is a failure.
func (r *Resolver) ResolveAll(ctx context.Context, snap worker.Snapshot) (resolved, pending worker.Snapshot, failures []Failure) {
	resolved, all := runBatch(ctx, snap, StageResolve, r.Concurrency, r.TaskTimeout, r.Resolve)
	for _, f := range all {
		if errors.Is(f.Err, ledger.ErrReceiptNotFound) {
			pending = append(pending, f.Worker)
			continue
		}
		failures = append(failures, f)
	}
	return resolved, pending, failures
}
