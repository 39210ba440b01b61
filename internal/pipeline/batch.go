package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"vela-cycler/internal/worker"
)

type Stage string

const (
	StageBuild   Stage = "build"
	StageSign    Stage = "sign"
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
	StageResolve Stage = "resolve"
)

// Failure is one account dropped from the rest of the cycle. Worker is the
// account as it entered the failing stage.
type Failure struct {
	Worker worker.Worker
	Stage  Stage
	Err    error
}

func (f Failure) Kind() string { return Kind(f.Err) }

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s %s: %v", f.Stage, f.Worker.Address.Hex(), f.Kind(), f.Err)
}

type task func(ctx context.Context, w worker.Worker) (worker.Worker, error)

// runBatch applies fn to every worker concurrently and returns the advanced
// workers and the failures, both in input order. Each goroutine owns exactly
// one result slot; Wait is the stage barrier.
func runBatch(ctx context.Context, snap worker.Snapshot, stage Stage, limit int, timeout time.Duration, fn task) (worker.Snapshot, []Failure) {
	results := make([]worker.Worker, len(snap))
	errs := make([]error, len(snap))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range snap {
		i, w := i, snap[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s task panic: %v", stage, r)
				}
			}()

			taskCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			results[i], errs[i] = fn(taskCtx, w)
			return nil
		})
	}
	_ = g.Wait()

	advanced := make(worker.Snapshot, 0, len(snap))
	var failures []Failure
	for i := range snap {
		if errs[i] != nil {
			failures = append(failures, Failure{Worker: snap[i], Stage: stage, Err: errs[i]})
			continue
		}
		advanced = append(advanced, results[i])
	}
	return advanced, failures
}
