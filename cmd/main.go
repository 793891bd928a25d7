package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bucketfiller/internal/app"
	"bucketfiller/internal/checksum"
	"bucketfiller/internal/config"
	"bucketfiller/internal/logger"
	"bucketfiller/internal/results"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const exitInterrupted = 130

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bucketfiller",
	Short: "Fill an S3 compatible bucket with synthetic objects",
	Long: `Generates objects of a fixed size under random keys and uploads them concurrently,
optionally writing extra versions of every object. Useful for populating test buckets
and for measuring object store write throughput.`,
	RunE:          runFill,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML or JSON)")

	// Target flags
	rootCmd.Flags().String("bucket", "", "Bucket name (required)")
	rootCmd.Flags().String("endpoint", "", "S3 endpoint URL including http:// or https://")
	rootCmd.Flags().String("access-key", "", "Access key ID")
	rootCmd.Flags().String("secret-key", "", "Secret access key")
	rootCmd.Flags().String("region", "us-east-1", "Region")
	rootCmd.Flags().String("backend", "minio", "Client backend (minio/s3)")
	rootCmd.Flags().Bool("path-style", false, "Force path style addressing")

	// Load flags
	rootCmd.Flags().String("object-size", "1KiB", "Size of each object (e.g. 512, 10KiB, 4MB)")
	rootCmd.Flags().Int("versions", 0, "Extra versions to write per object")
	rootCmd.Flags().Int("objects", 1000, "Number of objects to create")
	rootCmd.Flags().String("prefix", "", "Key prefix")
	rootCmd.Flags().String("checksum", checksum.Default.String(), "Checksum algorithm (none/md5/sha1/sha256/crc32/crc32c)")
	rootCmd.Flags().Bool("simple-data", false, "Reuse one random buffer for every object")

	// Run flags
	rootCmd.Flags().Int("threads", config.DefaultThreads(), "Number of upload workers")
	rootCmd.Flags().Int("queue-capacity", 0, "Work queue capacity (default max(1000, 4*threads))")
	rootCmd.Flags().Int("log-batch-size", 100, "Event log lines buffered per flush")
	rootCmd.Flags().Int("report-every", 100, "Objects between progress log lines")
	rootCmd.Flags().Duration("generator-timeout", config.Default().Run.GeneratorTimeout, "Time to wait for the generator when draining")
	rootCmd.Flags().Duration("drain-timeout", config.Default().Run.DrainTimeout, "Time to wait for in-flight uploads when draining")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().Bool("debug", false, "Shortcut for --log-level=debug")
	rootCmd.Flags().String("log-file", "bucketfiller.log", "Per-object event log file (empty to disable)")
	rootCmd.Flags().String("process-log", "", "Also write the process log to this file as JSON")
	rootCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address (e.g. :8080)")
	rootCmd.Flags().String("results-db", results.MemoryPath, "SQLite file recording every outcome")
	rootCmd.Flags().Bool("print-table", true, "Print a table of every outcome at the end (--print-table=false to skip)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display")
	rootCmd.Flags().Bool("interactive", false, "Prompt for missing required values")
}

func runFill(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags(), os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.Run.ProcessLog)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	for _, w := range cfg.Warnings {
		log.Warn("Configuration warning", zap.String("warning", w))
	}

	// Create application
	runner, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	// Setup graceful shutdown. The first signal drains, the second aborts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, waiting for in-flight uploads (interrupt again to abort)...")
		cancel()
		<-sigChan
		log.Warn("Received second shutdown signal, aborting")
		_ = log.Sync()
		os.Exit(exitInterrupted)
	}()

	// Run fill
	summary, err := runner.Run(ctx)
	if err == nil || errors.Is(err, app.ErrInterrupted) {
		summary.Print(os.Stdout)
		if cfg.Run.PrintTable {
			printTable(runner, log)
		}
	}

	// Close runner resources after the run completes or is cancelled
	if closeErr := runner.Close(); closeErr != nil {
		log.Error("Error closing runner", zap.Error(closeErr))
	}

	return err
}

func printTable(runner *app.Runner, log *zap.Logger) {
	records, err := runner.Results()
	if err != nil {
		log.Error("Failed to read results", zap.Error(err))
		return
	}
	fmt.Fprintln(os.Stdout)
	if err := results.RenderTable(os.Stdout, records); err != nil {
		log.Error("Failed to print results table", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, app.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
