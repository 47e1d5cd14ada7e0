package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/qepting91/termfreq/internal/batch"
	"github.com/qepting91/termfreq/internal/classify"
	"github.com/qepting91/termfreq/internal/collector"
	"github.com/qepting91/termfreq/internal/config"
	"github.com/qepting91/termfreq/internal/dashboard"
	"github.com/qepting91/termfreq/internal/estimate"
	"github.com/qepting91/termfreq/internal/ingest"
	"github.com/qepting91/termfreq/internal/retrieval"
	"github.com/qepting91/termfreq/internal/sampling"
	"github.com/qepting91/termfreq/internal/storage"
)

const usage = `usage: termfreq <command> [flags]

commands:
  fetch                      exhaustive retrieval for every term
  sample                     sampled retrieval for high-frequency terms
  count [--raw] [--by-forum] [--save]
                             print counts as CSV
  import-ngrams FILE         store n-gram totals in the results database
  serve                      run the dashboard
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// stdout carries CSV; all diagnostics go to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Interrupted; cached progress is resumable")
		} else {
			logger.Error("Command failed", "command", os.Args[1], "err", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "fetch":
		d, err := newDriver(cfg, logger)
		if err != nil {
			return err
		}
		return d.Fetch(ctx)

	case "sample":
		d, err := newDriver(cfg, logger)
		if err != nil {
			return err
		}
		plan, err := sampling.Intervals(cfg.Seed, cfg.FirstYear, cfg.LastYear, cfg.DaysPerYear)
		if err != nil {
			return err
		}
		terms, err := d.Sample(ctx, plan, cfg.SampleThreshold)
		logger.Info("Sampling finished", "sampled", len(terms))
		return err

	case "count":
		fs := flag.NewFlagSet("count", flag.ContinueOnError)
		raw := fs.Bool("raw", false, "count every retrieved comment, unfiltered and unscaled")
		byForum := fs.Bool("by-forum", false, "break counts down by forum")
		save := fs.Bool("save", false, "record the counts in the results database")
		if err := fs.Parse(args); err != nil {
			return err
		}
		d, err := newCounter(cfg, logger)
		if err != nil {
			return err
		}
		opts := batch.CountOptions{Raw: *raw, ByForum: *byForum}
		if *save {
			results, err := storage.OpenResults(cfg.DBPath)
			if err != nil {
				return err
			}
			defer results.Close()
			opts.Results = results
		}
		return d.Count(ctx, os.Stdout, opts)

	case "import-ngrams":
		if len(args) != 1 {
			return errors.New("import-ngrams needs exactly one file")
		}
		vocab, err := ingest.LoadVocabulary(cfg.VocabularyPath)
		if err != nil {
			return err
		}
		results, err := storage.OpenResults(cfg.DBPath)
		if err != nil {
			return err
		}
		defer results.Close()
		_, err = batch.ImportNgrams(ctx, args[0], vocab, results, logger)
		return err

	case "serve":
		results, err := storage.OpenResults(cfg.DBPath)
		if err != nil {
			return err
		}
		defer results.Close()
		return dashboard.StartServer(ctx, results, cfg.Port, logger)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newCounter reads only the comment caches and never builds a collector
func newCounter(cfg *config.Config, logger *slog.Logger) (*batch.Driver, error) {
	vocab, err := ingest.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	cache := &storage.Cache{ExhaustiveDir: cfg.ExhaustiveDir, SampledDir: cfg.SampledDir}
	return &batch.Driver{
		Terms:     vocab.Terms(),
		Cache:     cache,
		Estimator: estimate.New(cache, classify.Default()),
		Workers:   cfg.Workers,
		Logger:    logger,
	}, nil
}

func newDriver(cfg *config.Config, logger *slog.Logger) (*batch.Driver, error) {
	d, err := newCounter(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := collector.NewCollector(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize collector: %w", err)
	}
	logger.Info("Collector initialized", "mode", cfg.CollectorMode)

	cutoff, err := cfg.CutoffUnix()
	if err != nil {
		return nil, err
	}
	d.Paginator = retrieval.NewPaginator(client, d.Cache, retrieval.Settings{
		Cutoff:      cutoff,
		Floor:       cfg.Floor,
		PageSize:    cfg.PageSize,
		MaxRequests: cfg.MaxRequestsPerTerm,
	}, logger)
	return d, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
