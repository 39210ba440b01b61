package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"vela-cycler/internal/ledger"
	"vela-cycler/internal/worker"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultConfirmAttempts = 150
)

type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Waiter blocks until the chain head moves past a baseline height. It is the
// barrier between submitting a batch and reading that batch's receipts.
type Waiter struct {
	Heights HeightSource

	Interval     time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
}

// AwaitNextBlock polls the head until it is strictly greater than baseline
// and returns the new height. It never returns on an equal height; after
// MaxAttempts polls it fails with ErrTimeout.
func (w *Waiter) AwaitNextBlock(ctx context.Context, baseline uint64) (uint64, error) {
	if w.Heights == nil {
		return 0, fmt.Errorf("height source required")
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := w.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultConfirmAttempts
	}

	if w.InitialDelay > 0 {
		if err := ledger.SleepWithContext(ctx, w.InitialDelay); err != nil {
			return 0, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		h, err := w.Heights.BlockNumber(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			log.Printf("[warn] [confirm] head poll %d/%d failed: %v", attempt, attempts, err)
		case h > baseline:
			return h, nil
		}
		if attempt == attempts {
			break
		}
		if err := ledger.SleepWithContext(ctx, interval); err != nil {
			return 0, err
		}
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: head did not pass %d after %d polls (last error: %v)", ErrTimeout, baseline, attempts, lastErr)
	}
	return 0, fmt.Errorf("%w: head did not pass %d after %d polls", ErrTimeout, baseline, attempts)
}

// MarkConfirmed advances every Submitted worker to Confirmed once the
// confirming block has been observed.
func MarkConfirmed(snap worker.Snapshot) (worker.Snapshot, []Failure) {
	out := make(worker.Snapshot, 0, len(snap))
	var failures []Failure
	for _, w := range snap {
		next, err := w.Confirm()
		if err != nil {
			failures = append(failures, Failure{Worker: w, Stage: StageConfirm, Err: err})
			continue
		}
		out = append(out, next)
	}
	return out, failures
}
