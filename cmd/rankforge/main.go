package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"rankforge/internal/config"
	"rankforge/internal/engine"
	"rankforge/internal/genclient"
	"rankforge/internal/llm"
	"rankforge/internal/metrics"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configPath  string
	query       string
	count       int
	seedFlag    int64
	seedCount   int
	metricsAddr string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rankforge",
		Short: "Rankforge - unique candidate list generation for tier ranking",
		Long: `Rankforge drives a generative model through repeated calls to produce a
list of semantically distinct items for a query, guaranteeing no duplicates
and making a best-effort attempt to reach the requested count.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a unique list for a query",
		RunE:  runGenerate,
	}
	generateCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when omitted)")
	generateCmd.Flags().StringVarP(&query, "query", "q", "", "Natural-language query (required)")
	generateCmd.Flags().IntVarP(&count, "count", "n", 25, "Target item count")
	generateCmd.Flags().Int64Var(&seedFlag, "seed", -1, "Decoding seed (-1 for non-deterministic)")
	generateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :2112)")
	generateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	_ = generateCmd.MarkFlagRequired("query")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the engine across a seed range and report aggregate rates",
		Long: `Run one generation per seed in [0, seeds) and report how often the engine
reached the full target, the mean duplicate rate, and circuit-breaker
frequency. Useful for validating tuning knobs against a real model.`,
		RunE: runSweep,
	}
	sweepCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when omitted)")
	sweepCmd.Flags().StringVarP(&query, "query", "q", "", "Natural-language query (required)")
	sweepCmd.Flags().IntVarP(&count, "count", "n", 25, "Target item count")
	sweepCmd.Flags().IntVar(&seedCount, "seeds", 10, "Number of seeds to run")
	sweepCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	_ = sweepCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*engine.Coordinator, *slog.Logger, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var cfg *config.Config
	var secrets *config.Secrets
	if configPath != "" {
		var err error
		cfg, secrets, err = config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	} else {
		cfg = config.Default()
		secrets = config.LoadSecrets()
	}

	sessionCfg := cfg.SessionConfig(secrets.GetAPIKey(cfg.Model.BaseURL))
	pool := llm.NewLimiterPool()
	factory := llm.HTTPFactory(sessionCfg, pool, logger)
	session, err := factory()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model session: %w", err)
	}

	collector := metrics.NewCollector(logger)
	client := genclient.New(session, factory, cfg.AttemptTimeout(), collector, logger)

	coord, err := engine.New(cfg.EngineConfig(), client, collector, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Rankforge starting",
		"version", Version,
		"model", cfg.Model.ModelName,
		"endpoint", cfg.Model.BaseURL)
	return coord, logger, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	coord, logger, err := setup()
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("Metrics listener failed", "addr", metricsAddr, "error", err)
			}
		}()
		logger.Info("Serving metrics", "addr", metricsAddr)
	}

	var seed *uint64
	if seedFlag >= 0 {
		s := uint64(seedFlag)
		seed = &s
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items, diag, err := coord.GenerateUniqueListDiagnostics(ctx, query, count, seed)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	for i, item := range items {
		fmt.Printf("%3d. %s\n", i+1, item)
	}

	logger.Info("Run summary",
		"returned", diag.ReturnedCount,
		"target", diag.TargetCount,
		"reached_target", diag.ReachedTarget(),
		"duplicate_rate", fmt.Sprintf("%.1f%%", diag.DuplicateRate*100),
		"backfill_rounds", diag.BackfillRounds,
		"circuit_breaker", diag.CircuitBreakerTriggered,
		"elapsed", diag.Elapsed)
	if diag.LastFailure != "" {
		logger.Warn("Run recovered from failures", "last_failure", diag.LastFailure)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	coord, logger, err := setup()
	if err != nil {
		return err
	}
	if seedCount < 1 {
		return fmt.Errorf("--seeds must be at least 1 (got %d)", seedCount)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := progressbar.Default(int64(seedCount), "Sweeping seeds")

	var reached, breakerTrips, failures int
	var dupRateSum float64

	for s := 0; s < seedCount; s++ {
		seed := uint64(s)
		_, diag, err := coord.GenerateUniqueListDiagnostics(ctx, query, count, &seed)
		_ = bar.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			logger.Warn("Seed run failed", "seed", s, "error", err)
			continue
		}
		if diag.ReachedTarget() {
			reached++
		}
		if diag.CircuitBreakerTriggered {
			breakerTrips++
		}
		dupRateSum += diag.DuplicateRate
	}

	completed := seedCount - failures
	fmt.Printf("\nSweep results for %q (target %d, %d seeds)\n", query, count, seedCount)
	fmt.Printf("  reached target:   %d/%d (%.1f%%)\n", reached, seedCount, pct(reached, seedCount))
	fmt.Printf("  circuit breaker:  %d/%d (%.1f%%)\n", breakerTrips, seedCount, pct(breakerTrips, seedCount))
	fmt.Printf("  hard failures:    %d/%d (%.1f%%)\n", failures, seedCount, pct(failures, seedCount))
	if completed > 0 {
		fmt.Printf("  mean dup rate:    %.1f%%\n", dupRateSum/float64(completed)*100)
	}
	return nil
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
