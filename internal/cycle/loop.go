// Package cycle drives the open → confirm → resolve → close cycle over every
// managed account.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vela-cycler/internal/ethutil"
	"vela-cycler/internal/ledger"
	"vela-cycler/internal/metrics"
	"vela-cycler/internal/payload"
	"vela-cycler/internal/pipeline"
	"vela-cycler/internal/pricefeed"
	"vela-cycler/internal/report"
	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

const (
	DefaultSettleDelay     = 300 * time.Second
	DefaultReceiptAttempts = 3
	DefaultCycleDelay      = 5 * time.Second
)

// Ledger is everything the loop needs from the chain.
type Ledger interface {
	pipeline.NonceSource
	pipeline.Broadcaster
	pipeline.HeightSource
	pipeline.ReceiptSource
	GasPrice(ctx context.Context) (*big.Int, error)
}

type Options struct {
	Registry *worker.Registry
	Ledger   Ledger
	Prices   pricefeed.Source
	Contract *vela.Contract
	ChainID  *big.Int

	IndexToken common.Address
	Size       decimal.Decimal
	Leverage   decimal.Decimal
	Slippage   uint64
	GasLimit   uint64

	PollInterval    time.Duration
	ConfirmAttempts int
	// SettleDelay is slept once after each batch submission before the
	// chain head is polled.
	SettleDelay     time.Duration
	ReceiptAttempts int
	TaskTimeout     time.Duration
	Concurrency     int
	CycleDelay      time.Duration
	// MaxCycles stops Run after that many cycles; 0 runs until cancelled.
	MaxCycles int

	Events  *report.Writer
	Metrics *metrics.Metrics
}

type Loop struct {
	opts Options

	builder   payload.Builder
	signer    *pipeline.Signer
	submitter *pipeline.Submitter
	settle    *pipeline.Waiter
	retry     *pipeline.Waiter
	resolver  *pipeline.Resolver

	newID func() string
}

func New(opts Options) (*Loop, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("cycle: registry required")
	case opts.Ledger == nil:
		return nil, errors.New("cycle: ledger required")
	case opts.Prices == nil:
		return nil, errors.New("cycle: price source required")
	case opts.Contract == nil:
		return nil, errors.New("cycle: contract required")
	case opts.ChainID == nil || opts.ChainID.Sign() <= 0:
		return nil, errors.New("cycle: chain id required")
	}
	if opts.ReceiptAttempts <= 0 {
		opts.ReceiptAttempts = DefaultReceiptAttempts
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}

	schema, err := opts.Contract.EventSchema(vela.EventNewOrder)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		opts: opts,
		builder: payload.Builder{
			Contract:   opts.Contract,
			IndexToken: opts.IndexToken,
			Size:       opts.Size,
			Leverage:   opts.Leverage,
			Slippage:   opts.Slippage,
		},
		signer: &pipeline.Signer{
			Keys:        opts.Registry,
			Nonces:      opts.Ledger,
			ChainID:     opts.ChainID,
			Contract:    opts.Contract.Address,
			GasLimit:    opts.GasLimit,
			Concurrency: opts.Concurrency,
			TaskTimeout: opts.TaskTimeout,
		},
		submitter: &pipeline.Submitter{
			Ledger:      opts.Ledger,
			Concurrency: opts.Concurrency,
			TaskTimeout: opts.TaskTimeout,
		},
		settle: &pipeline.Waiter{
			Heights:      opts.Ledger,
			Interval:     opts.PollInterval,
			MaxAttempts:  opts.ConfirmAttempts,
			InitialDelay: opts.SettleDelay,
		},
		retry: &pipeline.Waiter{
			Heights:     opts.Ledger,
			Interval:    opts.PollInterval,
			MaxAttempts: opts.ConfirmAttempts,
		},
		resolver: &pipeline.Resolver{
			Receipts:      opts.Ledger,
			Schema:        schema,
			PositionField: vela.NewOrderPositionField,
			Emitter:       opts.Contract.Address,
			Concurrency:   opts.Concurrency,
			TaskTimeout:   opts.TaskTimeout,
		},
		newID: func() string { return uuid.NewString() },
	}
	return l, nil
}

// Run executes cycles back to back, CycleDelay apart, until ctx ends,
// MaxCycles is reached, or a cycle hits a process-fatal error.
func (l *Loop) Run(ctx context.Context) error {
	for n := 1; ; n++ {
		rep, err := l.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if pipeline.IsFatal(err) {
				return fmt.Errorf("cycle %s: %w", rep.CycleID, err)
			}
			log.Printf("[warn] [cycle] %s aborted: %v", rep.CycleID, err)
		}
		if l.opts.MaxCycles > 0 && n >= l.opts.MaxCycles {
			return nil
		}
		if err := ledger.SleepWithContext(ctx, l.opts.CycleDelay); err != nil {
			return nil
		}
	}
}

// RunCycle performs one full cycle. Per-account problems land in
// Report.Failures; the returned error is reserved for problems that stop the
// whole cycle (no price, no gas price, no head height) or that are
// process-fatal.
func (l *Loop) RunCycle(ctx context.Context) (rep Report, err error) {
	rep = Report{CycleID: l.newID(), StartedAt: time.Now()}
	defer func() { l.finish(&rep, err) }()

	snap := l.opts.Registry.Snapshot()
	log.Printf("[cycle] %s start accounts=%d", rep.CycleID, len(snap))

	price, err := l.opts.Prices.Price(ctx)
	if err != nil {
		return rep, fmt.Errorf("reference price: %w", err)
	}
	rep.Price = price
	gasPrice, err := l.opts.Ledger.GasPrice(ctx)
	if err != nil {
		return rep, fmt.Errorf("gas price: %w", err)
	}

	// Open leg.
	built, err := l.buildOpen(&rep, snap, price)
	if err != nil {
		return rep, err
	}
	signed, failures := l.signer.SignAll(ctx, built, gasPrice)
	if err := l.record(&rep, failures); err != nil {
		return rep, err
	}
	if len(signed) == 0 {
		return rep, nil
	}
	baseline, err := l.opts.Ledger.BlockNumber(ctx)
	if err != nil {
		return rep, fmt.Errorf("baseline height: %w", err)
	}
	submitted, failures := l.submitter.SubmitAll(ctx, signed)
	if err := l.record(&rep, failures); err != nil {
		return rep, err
	}
	rep.Opened = len(submitted)
	l.submitted(&rep, submitted, "open", report.EventOpenSubmitted)
	if len(submitted) == 0 {
		return rep, nil
	}

	head, err := l.settle.AwaitNextBlock(ctx, baseline)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return rep, l.record(&rep, failAll(submitted, pipeline.StageConfirm, err))
	}
	l.opts.Metrics.Block(head)
	confirmed, failures := pipeline.MarkConfirmed(submitted)
	if err := l.record(&rep, failures); err != nil {
		return rep, err
	}

	resolved, err := l.resolve(ctx, &rep, confirmed, head)
	if err != nil {
		return rep, err
	}
	rep.Resolved = len(resolved)
	if len(resolved) == 0 {
		return rep, nil
	}

	// Close leg. Accounts whose open failed never reach here.
	built, err = l.buildClose(&rep, resolved)
	if err != nil {
		return rep, err
	}
	closeGas, err := l.opts.Ledger.GasPrice(ctx)
	if err != nil {
		log.Printf("[warn] [cycle] %s close gas price unavailable, reusing open price: %v", rep.CycleID, err)
		closeGas = gasPrice
	}
	signed, failures = l.signer.SignAll(ctx, built, closeGas)
	if err := l.record(&rep, failures); err != nil {
		return rep, err
	}
	if len(signed) == 0 {
		return rep, nil
	}
	baseline, err = l.opts.Ledger.BlockNumber(ctx)
	if err != nil {
		log.Printf("[warn] [cycle] %s close baseline unavailable, using %d: %v", rep.CycleID, head, err)
		baseline = head
	}
	submitted, failures = l.submitter.SubmitAll(ctx, signed)
	if err := l.record(&rep, failures); err != nil {
		return rep, err
	}
	l.submitted(&rep, submitted, "close", report.EventCloseSubmitted)
	if len(submitted) == 0 {
		return rep, nil
	}

	head, err = l.settle.AwaitNextBlock(ctx, baseline)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return rep, l.record(&rep, failAll(submitted, pipeline.StageConfirm, err))
	}
	l.opts.Metrics.Block(head)
	rep.Closed = len(submitted)
	rep.Closes = submitted
	return rep, nil
}

func (l *Loop) buildOpen(rep *Report, snap worker.Snapshot, price decimal.Decimal) (worker.Snapshot, error) {
	data := make(map[worker.Group][]byte, 2)
	errs := make(map[worker.Group]error, 2)
	for _, g := range []worker.Group{worker.GroupLong, worker.GroupShort} {
		data[g], errs[g] = l.builder.BuildOpen(g, price)
	}

	out := make(worker.Snapshot, 0, len(snap))
	var failures []pipeline.Failure
	for _, w := range snap {
		if err := errs[w.Group]; err != nil {
			failures = append(failures, pipeline.Failure{Worker: w, Stage: pipeline.StageBuild, Err: err})
			continue
		}
		next, err := w.SetCallData(data[w.Group])
		if err != nil {
			failures = append(failures, pipeline.Failure{Worker: w, Stage: pipeline.StageBuild, Err: err})
			continue
		}
		out = append(out, next)
	}
	return out, l.record(rep, failures)
}

func (l *Loop) buildClose(rep *Report, snap worker.Snapshot) (worker.Snapshot, error) {
	out := make(worker.Snapshot, 0, len(snap))
	var failures []pipeline.Failure
	for _, w := range snap {
		data, err := l.builder.BuildClose(w)
		if err == nil {
			w, err = w.SetCallData(data)
		}
		if err != nil {
			failures = append(failures, pipeline.Failure{Worker: w, Stage: pipeline.StageBuild, Err: err})
			continue
		}
		out = append(out, w)
	}
	return out, l.record(rep, failures)
}

// resolve reads position ids, retrying accounts whose receipt is not yet
// indexed after one more block, up to ReceiptAttempts lookups in total.
func (l *Loop) resolve(ctx context.Context, rep *Report, confirmed worker.Snapshot, head uint64) (worker.Snapshot, error) {
	var resolved worker.Snapshot
	pending := confirmed
	for attempt := 1; len(pending) > 0; attempt++ {
		done, again, failures := l.resolver.ResolveAll(ctx, pending)
		resolved = append(resolved, done...)
		if err := l.record(rep, failures); err != nil {
			return resolved, err
		}
		pending = again
		if len(pending) == 0 {
			break
		}
		if attempt >= l.opts.ReceiptAttempts {
			err := fmt.Errorf("%w: %w after %d lookups", pipeline.ErrTimeout, ledger.ErrReceiptNotFound, attempt)
			return resolved, l.record(rep, failAll(pending, pipeline.StageResolve, err))
		}
		log.Printf("[resolve] %s %d receipt(s) not indexed yet, waiting for block > %d", rep.CycleID, len(pending), head)
		next, err := l.retry.AwaitNextBlock(ctx, head)
		if err != nil {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			return resolved, l.record(rep, failAll(pending, pipeline.StageResolve, err))
		}
		head = next
	}

	slices.SortFunc(resolved, func(a, b worker.Worker) int { return a.Index - b.Index })
	for _, w := range resolved {
		log.Printf("[resolve] %s %s %s position=%s", rep.CycleID, ethutil.ShortHex(w.Address), w.Group, w.PositionID)
		l.emit(report.Event{
			Event:      report.EventResolved,
			CycleID:    rep.CycleID,
			Address:    w.Address.Hex(),
			Group:      w.Group.String(),
			TxHash:     w.TxHash.Hex(),
			PositionID: w.PositionID.String(),
		})
	}
	l.opts.Metrics.PositionsResolved(len(resolved))
	return resolved, nil
}

func (l *Loop) submitted(rep *Report, snap worker.Snapshot, phase, event string) {
	for _, w := range snap {
		log.Printf("[submit] %s %s %s %s tx=%s", rep.CycleID, phase, ethutil.ShortHex(w.Address), w.Group, w.TxHash.Hex())
		ev := report.Event{
			Event:   event,
			CycleID: rep.CycleID,
			Address: w.Address.Hex(),
			Group:   w.Group.String(),
			TxHash:  w.TxHash.Hex(),
		}
		if w.PositionID != nil {
			ev.PositionID = w.PositionID.String()
		}
		if phase == "open" {
			ev.Price = rep.Price.String()
		}
		l.emit(ev)
	}
	l.opts.Metrics.TxSubmitted(phase, len(snap))
}

// record logs, emits and counts failures and appends them to the report. It
// returns the first process-fatal error among them.
func (l *Loop) record(rep *Report, failures []pipeline.Failure) error {
	var fatal error
	for _, f := range failures {
		rep.Failures = append(rep.Failures, f)
		log.Printf("[warn] [cycle] %s %s", rep.CycleID, f.Error())
		l.emit(report.Event{
			Event:   report.EventFailure,
			CycleID: rep.CycleID,
			Address: f.Worker.Address.Hex(),
			Group:   f.Worker.Group.String(),
			Stage:   string(f.Stage),
			Kind:    f.Kind(),
			Err:     f.Err.Error(),
		})
		l.opts.Metrics.Failure(string(f.Stage), f.Kind())
		if fatal == nil && pipeline.IsFatal(f.Err) {
			fatal = f.Err
		}
	}
	return fatal
}

func (l *Loop) finish(rep *Report, err error) {
	d := time.Since(rep.StartedAt)
	result := rep.Result(err)
	ev := report.Event{
		Event:      report.EventCycleDone,
		CycleID:    rep.CycleID,
		Counts:     &report.Counts{Opened: rep.Opened, Resolved: rep.Resolved, Closed: rep.Closed, Failed: len(rep.Failures)},
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		ev.Kind = pipeline.Kind(err)
		ev.Err = err.Error()
	}
	l.emit(ev)
	l.opts.Metrics.CycleDone(result, d)
	log.Printf("[cycle] %s %s opened=%d resolved=%d closed=%d failed=%d in %s",
		rep.CycleID, result, rep.Opened, rep.Resolved, rep.Closed, len(rep.Failures), d.Truncate(time.Millisecond))
}

func (l *Loop) emit(ev report.Event) {
	if err := l.opts.Events.Emit(ev); err != nil {
		log.Printf("[warn] [cycle] event log write failed: %v", err)
	}
}

func failAll(snap worker.Snapshot, stage pipeline.Stage, err error) []pipeline.Failure {
	out := make([]pipeline.Failure, 0, len(snap))
	for _, w := range snap {
		out = append(out, pipeline.Failure{Worker: w, Stage: stage, Err: err})
	}
	return out
}
