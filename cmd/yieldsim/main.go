package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sugarbeet-lab/yieldsim/internal/engine"
	"github.com/sugarbeet-lab/yieldsim/internal/history"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// exitCancelled is returned when the run was interrupted and checkpointed.
const exitCancelled = 3

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("yieldsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath     string
		checkpointPath string
		resume         bool
		workers        int
		logLevel       string
		historyDB      string
		asJSON         bool
	)
	fs.StringVar(&configPath, "config", "config/simulation.yaml", "simulation config YAML")
	fs.StringVar(&checkpointPath, "checkpoint", "", "file the checkpoint is written to on interrupt")
	fs.BoolVar(&resume, "resume", false, "continue from -checkpoint")
	fs.IntVar(&workers, "workers", -1, "parallel trials per batch (overrides the config)")
	fs.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.StringVar(&historyDB, "history-db", "", "append the result to this sqlite history")
	fs.BoolVar(&asJSON, "json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.SetDefault(logger.Open(logLevel, logger.FormatText, stderr))

	cfg, err := config.LoadSimulation(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if workers >= 0 {
		cfg.Workers = workers
	}

	var cp *models.Checkpoint
	if resume {
		if checkpointPath == "" {
			fmt.Fprintln(stderr, "-resume requires -checkpoint")
			return 2
		}
		if cp, err = readCheckpoint(checkpointPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	outcome, err := engine.Simulate(ctx, *cfg, cp, engine.WithProgress(progressPrinter(stderr, cfg.Trials)))
	if err != nil {
		fmt.Fprintf(stderr, "\nsimulation failed (%s): %v\n", engine.Classify(err), err)
		return 1
	}
	fmt.Fprintln(stderr)

	if outcome.Cancelled() {
		if checkpointPath == "" {
			fmt.Fprintf(stderr, "interrupted at trial %d; pass -checkpoint to keep progress\n", outcome.Checkpoint.NextTrial)
			return exitCancelled
		}
		if err := writeCheckpoint(checkpointPath, outcome.Checkpoint); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stderr, "interrupted at trial %d; checkpoint written to %s\n", outcome.Checkpoint.NextTrial, checkpointPath)
		return exitCancelled
	}

	fmt.Fprintf(stderr, "finished in %s\n", utils.FormatDuration(time.Since(started)))

	if historyDB != "" {
		if err := appendHistory(historyDB, *cfg, *outcome.Result); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if resume && checkpointPath != "" {
		_ = os.Remove(checkpointPath)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}
	printResult(stdout, outcome)
	return 0
}

func progressPrinter(w io.Writer, total int) engine.ProgressFunc {
	return func(done int) {
		fmt.Fprintf(w, "\r%d/%d trials", done, total)
	}
}

func printResult(w io.Writer, o *models.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "strategy\tmean loss %%\tp50\tp95\n")
	for _, s := range models.SortedStrategies(o.Result.MeanLoss) {
		spread := o.Result.Spread[s]
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\n", s, o.Result.MeanLoss[s], spread.P50, spread.P95)
	}
	_ = tw.Flush()
	if best, ok := o.Result.Best(); ok {
		fmt.Fprintf(w, "\nrecommended strategy: %s\n", best)
	}
	fmt.Fprintf(w, "\ntrials counted: %d  degenerate: %d  seed: %d\n", o.Result.Trials, o.Degenerate, o.Seed)
}

func readCheckpoint(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

func writeCheckpoint(path string, cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	return nil
}

func appendHistory(path string, cfg config.Simulation, result models.AggregateResult) error {
	ctx := context.Background()
	store, err := history.Open(ctx, path, history.DefaultRetention)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Add(ctx, "cli", cfg, result)
	return err
}
