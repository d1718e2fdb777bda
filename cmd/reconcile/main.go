package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgermatch/recon-backend/internal/adapters/ledger"
	"github.com/ledgermatch/recon-backend/internal/adapters/providers"
	"github.com/ledgermatch/recon-backend/internal/application/recon"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/config"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/logging"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

func main() {
	var (
		configFile    = flag.String("config", "", "Configuration file path")
		dryRun        = flag.Bool("dry-run", true, "Preview changes without applying")
		lookbackDays  = flag.Int("days", 30, "Number of days of source records to pull")
		force         = flag.Bool("force", false, "Reprocess already-matched records")
		accountFilter = flag.String("account", "", "Restrict to one ledger account id")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg := config.LoadOrEnv()
	if *configFile != "" {
		cfg = config.LoadOrEnvWithPath(*configFile)
	}
	if *verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "reconcile")

	repo, err := storage.NewStorage(cfg.Storage.DatabasePath, logger)
	if err != nil {
		// A broken state store degrades the run rather than blocking it.
		logger.Warn("state store unavailable, running stateless", slog.String("error", err.Error()))
		repo = nil
	} else {
		defer repo.Close()
	}

	policy := retry.DefaultPolicy()
	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.AccountTypes, policy, logger)

	registry := providers.NewRegistry(logger)
	registerProviders(cfg, policy, registry, logger)

	// The orchestrator checks repo against nil; a typed nil would defeat that.
	var repoIface storage.Repository
	if repo != nil {
		repoIface = repo
	}

	orchestrator, err := recon.New(cfg, registry, ledgerClient, repoIface, logger)
	if err != nil {
		logger.Error("Failed to initialize orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orchestrator.Run(ctx, recon.Options{
		DryRun:        *dryRun,
		Force:         *force,
		LookbackDays:  *lookbackDays,
		AccountFilter: *accountFilter,
	})
	if err != nil {
		logger.Error("Reconciliation run failed", slog.String("error", err.Error()))
		if result != nil {
			printSummary(result)
		}
		os.Exit(1)
	}

	printSummary(result)
}

func registerProviders(cfg *config.Config, policy retry.Policy, registry *providers.Registry, logger *slog.Logger) {
	if cfg.Providers.Folder.Enabled {
		p := providers.NewFolderProvider(cfg.Providers.Folder.Path, cfg.Providers.Folder.AllowEmpty, logger)
		if err := registry.Register(p); err != nil {
			logger.Error("Failed to register folder provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if cfg.Providers.Manual.Enabled {
		p := providers.NewManualProvider(cfg.Providers.Manual.Path, logger)
		if err := registry.Register(p); err != nil {
			logger.Error("Failed to register manual provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if cfg.Providers.Remote.Enabled {
		p := providers.NewRemoteProvider(cfg.Providers.Remote.BaseURL, cfg.Providers.Remote.APIKey,
			cfg.Providers.Remote.AllowEmpty, policy, logger)
		if err := registry.Register(p); err != nil {
			logger.Error("Failed to register remote provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func printSummary(result *recon.Result) {
	fmt.Printf("\nRun %s", result.RunUID)
	if result.DryRun {
		fmt.Print(" (dry run)")
	}
	if result.Degraded {
		fmt.Print(" [degraded: state store unavailable]")
	}
	fmt.Println()
	fmt.Printf("  entries seen:       %d\n", result.Counts.EntriesSeen)
	fmt.Printf("  sources seen:       %d\n", result.Counts.SourcesSeen)
	fmt.Printf("  matched:            %d\n", result.Counts.Matched)
	fmt.Printf("  suggested:          %d\n", result.Counts.Suggested)
	fmt.Printf("  splits proposed:    %d\n", result.Counts.SplitProposed)
	fmt.Printf("  skipped (low conf): %d\n", result.Counts.SkippedLowConfidence)
	fmt.Printf("  errored:            %d\n", result.Counts.Errored)

	for _, m := range result.Matched {
		fmt.Printf("  match: %s -> %s (score %d, %s)\n", m.Source.ID, m.Entry.ID, m.Score.Value, m.Score.Tier)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  suggest: %s -> %s (%d%%) %s\n", s.LedgerID, s.CategoryID, s.Confidence, s.Rationale)
	}
	for _, p := range result.Splits {
		fmt.Printf("  split: %s into %d parts (%s)\n", p.LedgerID, len(p.Parts), p.TriggerReason)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
