package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vela-cycler/internal/ledger"
	"vela-cycler/internal/worker"
)

type Broadcaster interface {
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

type Submitter struct {
	Ledger Broadcaster

	Concurrency int
	TaskTimeout time.Duration
}

// SubmitAll broadcasts every signed transaction and records its hash.
func (s *Submitter) SubmitAll(ctx context.Context, snap worker.Snapshot) (worker.Snapshot, []Failure) {
	if s.Ledger == nil {
		return nil, failAll(snap, StageSubmit, fmt.Errorf("%w: broadcaster required", ledger.ErrBroadcastRejected))
	}
	return runBatch(ctx, snap, StageSubmit, s.Concurrency, s.TaskTimeout, func(ctx context.Context, w worker.Worker) (worker.Worker, error) {
		if w.SignedTx == nil {
			return w, fmt.Errorf("%w: account %s has no signed transaction", worker.ErrInvalidTransition, w.Address.Hex())
		}
		hash, err := s.Ledger.Broadcast(ctx, w.SignedTx)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrBroadcastRejected):
			case errors.Is(err, context.DeadlineExceeded):
				err = fmt.Errorf("%w: broadcast: %v", ErrTimeout, err)
			default:
				err = fmt.Errorf("%w: %v", ledger.ErrBroadcastRejected, err)
			}
			return w, err
		}
		if want := w.SignedTx.Hash(); hash != want {
			log.Printf("[warn] [submit] account=%s node returned hash %s, signed %s", w.Address.Hex(), hash.Hex(), want.Hex())
		}
		return w.SetSubmitted(hash)
	})
}
