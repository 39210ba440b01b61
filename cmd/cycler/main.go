package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vela-cycler/internal/cycle"
	"vela-cycler/internal/dotenv"
	"vela-cycler/internal/ethutil"
	"vela-cycler/internal/ledger"
	"vela-cycler/internal/metrics"
	"vela-cycler/internal/pricefeed"
	"vela-cycler/internal/report"
	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := loadConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	closeLog := setupLogging(cfg.logFile)
	defer closeLog()

	if err := run(cfg); err != nil {
		log.Printf("[fatal] %v", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config) error {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	long, short := registry.Groups()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	client, head, err := ledger.DialWithBackoff(ctx, cfg.rpcURL, 0, time.Second, 30*time.Second)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return err
	}
	contract, err := vela.New(cfg.contract)
	if err != nil {
		return err
	}
	prices, err := newPriceSource(ctx, cfg)
	if err != nil {
		return err
	}

	log.Printf("Vela cycler → %s (chain %s)", contract.Address.Hex(), chainID)
	log.Printf("Current block: %d", head)
	log.Printf("Accounts: %d (long=%d short=%d)", registry.Len(), long, short)
	log.Printf("Position: %s USD x%s, slippage %d", cfg.size, cfg.leverage, cfg.slippage)

	if gasPrice, err := client.GasPrice(ctx); err != nil {
		log.Printf("[warn] funding preflight skipped: %v", err)
	} else {
		for _, f := range cycle.Preflight(ctx, client, registry.Addresses(), gasPrice, cfg.gasLimit) {
			switch {
			case f.Err != nil:
				log.Printf("[warn] balance %s: %v", ethutil.ShortHex(f.Address), f.Err)
			case f.Short():
				log.Printf("[warn] %s holds %s wei, one cycle may cost %s wei", f.Address.Hex(), f.Balance, f.Required)
			}
		}
	}

	m := metrics.New()
	m.Block(head)
	if cfg.metricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.metricsAddr); err != nil {
				log.Printf("[warn] metrics server: %v", err)
			}
		}()
	}

	events := report.New(cfg.outFile)
	if events != nil {
		log.Printf("Event log: %s (JSONL)", cfg.outFile)
	}
	defer func() {
		if err := events.Close(); err != nil {
			log.Printf("[warn] event log close: %v", err)
		}
	}()
	startedAt := time.Now()
	emit(events, report.Event{Event: report.EventStart, ChainID: chainID.String(), Block: head, Accounts: registry.Len()})

	loop, err := cycle.New(cycle.Options{
		Registry:        registry,
		Ledger:          client,
		Prices:          prices,
		Contract:        contract,
		ChainID:         chainID,
		IndexToken:      cfg.indexToken,
		Size:            cfg.size,
		Leverage:        cfg.leverage,
		Slippage:        cfg.slippage,
		GasLimit:        cfg.gasLimit,
		PollInterval:    cfg.pollInterval,
		ConfirmAttempts: cfg.confirmAttempts,
		SettleDelay:     cfg.settleDelay,
		ReceiptAttempts: cfg.receiptAttempts,
		TaskTimeout:     cfg.taskTimeout,
		Concurrency:     cfg.concurrency,
		CycleDelay:      cfg.cycleDelay,
		MaxCycles:       cfg.maxCycles,
		Events:          events,
		Metrics:         m,
	})
	if err != nil {
		return err
	}

	runErr := loop.Run(ctx)
	reason := "signal"
	switch {
	case runErr != nil:
		reason = runErr.Error()
	case ctx.Err() == nil:
		reason = "max cycles reached"
	}
	emit(events, report.Event{Event: report.EventShutdown, Reason: reason, DurationMs: time.Since(startedAt).Milliseconds()})
	return runErr
}

// loadRegistry reads both account files and pairs them. Key material stays
// inside the registry.
func loadRegistry(cfg config) (*worker.Registry, error) {
	addrs, err := ethutil.ReadAddressFile(cfg.addressesFile)
	if err != nil {
		return nil, err
	}
	keys, err := ethutil.ReadKeyFile(cfg.keysFile)
	if err != nil {
		return nil, err
	}
	return worker.NewRegistry(keys, addrs)
}

func newPriceSource(ctx context.Context, cfg config) (pricefeed.Source, error) {
	httpSrc, err := pricefeed.NewHTTPSource(cfg.priceURL, cfg.pricePair)
	if err != nil {
		return nil, err
	}
	if cfg.priceWSURL == "" {
		return httpSrc, nil
	}
	stream, err := pricefeed.StartStream(ctx, cfg.priceWSURL, pricefeed.StreamOptions{Pair: cfg.pricePair})
	if err != nil {
		return nil, err
	}
	log.Printf("Price stream: %s (fallback %s)", cfg.priceWSURL, cfg.priceURL)
	return pricefeed.Fallback{Primary: stream, Secondary: httpSrc}, nil
}

func emit(w *report.Writer, ev report.Event) {
	if err := w.Emit(ev); err != nil {
		log.Printf("[warn] event log write failed: %v", err)
	}
}
