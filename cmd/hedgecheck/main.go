package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"opt-hedge-bot/internal/config"
	"opt-hedge-bot/internal/hedge"
	"opt-hedge-bot/internal/holdings"
	"opt-hedge-bot/internal/ledger"
	"opt-hedge-bot/internal/logging"
	"opt-hedge-bot/internal/state/sqlite"
	"opt-hedge-bot/internal/venue/lighter"
	"opt-hedge-bot/internal/venue/paradex"
)

// hedgecheck runs a single read-only reconcile pass and prints what the
// engine would do, without placing any orders.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	ledg := ledger.New(store, log)
	if err := ledg.Load(ctx); err != nil {
		fatal(err)
	}
	positions := ledg.List()
	if len(positions) == 0 {
		fmt.Println("ledger is empty, nothing to check")
	}
	for _, pos := range positions {
		fmt.Printf("position: %s qty=%g\n", pos.ContractID, pos.Quantity)
	}

	deltas := paradex.New(cfg.Paradex.BaseURL, cfg.Paradex.Timeout, log)
	rest := lighter.NewClient(cfg.Lighter.BaseURL, cfg.Lighter.AccountIndex, cfg.Lighter.Timeout, log)
	if err := rest.RefreshMeta(ctx); err != nil {
		fatal(err)
	}
	tracker := holdings.NewTracker(rest, cfg.Lighter.ResyncInterval, log)

	thresholds := func(underlying string) hedge.Threshold {
		th := cfg.Hedge.ThresholdFor(underlying)
		return hedge.Threshold{Tolerance: th.Tolerance, MinOrderSize: th.MinOrderSize}
	}
	engine := hedge.NewEngine(ledg, deltas, tracker, nil, rest, store, nil, hedge.EngineConfig{
		MaxQuoteAge: cfg.Paradex.MaxQuoteAge,
		SlippagePct: cfg.Hedge.SlippagePct,
		Thresholds:  thresholds,
		DryRun:      true,
	}, log)
	if err := engine.Restore(ctx); err != nil {
		fatal(err)
	}

	report := engine.RunCycle(ctx)
	if report.Degraded {
		fatal(fmt.Errorf("cycle %d degraded: option venue unavailable", report.Cycle))
	}
	for _, check := range report.Checks {
		fmt.Printf("%s: target_delta=%g target_hedge=%g held=%g gap=%g state=%s",
			check.Underlying, check.TargetDelta, check.TargetHedge, check.Held, check.Gap, check.State)
		if check.Reason != "" {
			fmt.Printf(" reason=%q", check.Reason)
		}
		if check.Intent != nil {
			fmt.Printf(" would=%s size=%g worst_price=%g",
				check.Intent.Side, check.Intent.Size, check.Intent.WorstPrice)
		}
		fmt.Println()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
