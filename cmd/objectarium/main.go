// objectarium is a content-addressed object store over a local data directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/objectarium/internal/boltstore"
	"github.com/tunnelmesh/objectarium/internal/config"
	"github.com/tunnelmesh/objectarium/internal/ledger"
	"github.com/tunnelmesh/objectarium/internal/logging/audit"
	"github.com/tunnelmesh/objectarium/internal/metrics"
	"github.com/tunnelmesh/objectarium/internal/objectarium"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	cfgFile     string
	logLevel    string
	dataDir     string
	actor       string
	metricsFile string
	noSync      bool
	jsonOut     bool
}

// app carries what one command invocation needs.
type app struct {
	flags globalFlags
	cfg   *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes refused requests from failures.
func exitCode(err error) int {
	switch {
	case objectarium.IsDenied(err):
		return 3
	case errors.Is(err, objectarium.ErrBucketNotFound), errors.Is(err, objectarium.ErrObjectNotFound):
		return 4
	default:
		return 1
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "objectarium",
		Short: "Objectarium - content-addressed object store",
		Long: `Objectarium stores immutable blobs in buckets under the digest of their
content. Identical content is stored once. Objects can be pinned by actors;
pinned objects cannot be forgotten, except by the bucket owner with --force.

QUICK START:

  # Create a bucket (owned by the acting identity)
  objectarium --actor alice bucket create photos

  # Store a file, compressed with zstd, and pin it
  objectarium --actor alice store photos ./cat.jpg --compression zstd --pin

  # List, read and forget
  objectarium ls photos
  objectarium cat photos <id> > cat.jpg
  objectarium --actor alice unpin photos <id>
  objectarium --actor alice forget photos <id>

For more help on any command, use: objectarium <command> --help`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.flags.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&a.flags.logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&a.flags.dataDir, "data-dir", "d", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&a.flags.actor, "actor", "a", "", "acting identity (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.flags.metricsFile, "metrics-file", "", "write a Prometheus text snapshot here after the command")
	rootCmd.PersistentFlags().BoolVar(&a.flags.noSync, "no-sync", false, "skip fsync after commits (testing only)")
	rootCmd.PersistentFlags().BoolVar(&a.flags.jsonOut, "json", false, "print JSON instead of tables")
	_ = rootCmd.PersistentFlags().MarkHidden("no-sync")

	rootCmd.AddCommand(newBucketCmd(a))
	rootCmd.AddCommand(newObjectCmds(a)...)
	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))

	return rootCmd
}

func (a *app) setup() error {
	var err error
	if a.flags.cfgFile != "" {
		a.cfg, err = config.Load(a.flags.cfgFile)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Default()
	}

	if a.flags.logLevel != "" {
		a.cfg.LogLevel = a.flags.logLevel
	}
	if a.flags.dataDir != "" {
		a.cfg.DataDir = a.flags.dataDir
	}
	if a.flags.actor != "" {
		a.cfg.Actor = a.flags.actor
	}
	if a.flags.metricsFile != "" {
		a.cfg.MetricsFile = a.flags.metricsFile
	}
	if a.flags.noSync {
		a.cfg.NoSync = true
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	setupLogging(a.cfg.LogLevel)
	return nil
}

// withLedger opens the ledger over the configured data directory, runs fn
// and closes the ledger again, writing the metrics snapshot if configured.
func (a *app) withLedger(ctx context.Context, fn func(*ledger.Ledger) error) (err error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := log.Logger.With().Str("component", "objectarium").Logger()
	store, err := boltstore.Open(a.cfg.DatabasePath(),
		boltstore.WithLogger(logger),
		boltstore.WithNoSync(a.cfg.NoSync),
		boltstore.WithJournal(a.cfg.JournalEnabled()),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	l, err := ledger.Open(ctx, store,
		ledger.WithLogger(logger),
		ledger.WithAudit(audit.NewLogger(log.Logger)),
		ledger.WithMetrics(metrics.NewObjectariumMetrics(registry)),
	)
	if err != nil {
		_ = store.Close()
		return err
	}

	defer func() {
		var errs []error
		if a.cfg.MetricsFile != "" {
			if werr := metrics.WriteTextfile(a.cfg.MetricsFile, registry); werr != nil {
				errs = append(errs, fmt.Errorf("write metrics: %w", werr))
			}
		}
		if cerr := l.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close store: %w", cerr))
		}
		if len(errs) > 0 {
			err = errors.Join(append([]error{err}, errs...)...)
		}
	}()

	return fn(l)
}

// actor returns the acting identity, which every mutation requires.
func (a *app) actor() (objectarium.Actor, error) {
	if a.cfg.Actor == "" {
		return "", fmt.Errorf("no actor: pass --actor or set actor in the config file")
	}
	return objectarium.Actor(a.cfg.Actor), nil
}

func setupLogging(logLevel string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			if a.flags.jsonOut {
				_ = printJSON(cmd.OutOrStdout(), map[string]string{
					"version":    Version,
					"commit":     Commit,
					"build_time": BuildTime,
				})
				return
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "objectarium %s\n", Version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Build Time: %s\n", BuildTime)
		},
	}
}
