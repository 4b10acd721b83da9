package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"foliage/internal/config"
	"foliage/internal/dispatch"
	"foliage/internal/instances"
	"foliage/internal/journal"
	"foliage/internal/ledger"
	"foliage/internal/placement"
	"foliage/internal/server"
	"foliage/internal/terrain"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the placement server",
		Long: `Run the HTTP server and the owner loop that applies paint strokes.

Flags and FOLIAGE_* environment variables override the configuration file:
  --listen      FOLIAGE_LISTEN
  --seed        FOLIAGE_SEED
  --journal     FOLIAGE_JOURNAL
  --terrain     FOLIAGE_TERRAIN
  --log-prefix  FOLIAGE_LOG_PREFIX`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			logger := log.New(os.Stdout, cfg.Log.Prefix, log.LstdFlags|log.Lmicroseconds)
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address (default from config)")
	cmd.Flags().Int64("seed", 0, "placement seed, 0 picks one from the clock")
	cmd.Flags().String("journal", "", "SQLite journal path, empty disables persistence")
	cmd.Flags().String("terrain", "", "ground kind: noise, plane or void")
	cmd.Flags().String("log-prefix", "", "log line prefix")
	for _, name := range []string{"listen", "seed", "journal", "terrain", "log-prefix"} {
		_ = opts.v.BindPFlag(name, cmd.Flags().Lookup(name))
	}

	return cmd
}

// runServe wires the server from cfg and blocks until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	var (
		j        instances.Journal
		restored []instances.Batch
	)
	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		j = db

		if restored, err = db.Load(ctx); err != nil {
			return fmt.Errorf("load journal: %w", err)
		}
	}

	store := instances.NewStore(j)
	if err := store.Restore(restored); err != nil {
		return fmt.Errorf("restore journal: %w", err)
	}
	if len(restored) > 0 {
		logger.Printf("restored %d instances from %d batches in %s", store.Len(), len(restored), cfg.Journal.Path)
	}

	ground, err := terrain.New(cfg.Terrain)
	if err != nil {
		return err
	}

	seed := cfg.Placement.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Printf("placement seed %d, terrain %s", seed, cfg.Terrain.Kind)

	l := ledger.New()
	d := dispatch.New(store, placement.NewSampler(seed), ground, l, logger, cfg.Placement.ScratchBytes)
	recorder := ledger.NewRecorder(l, cfg.Ledger.SampleInterval.Duration(), cfg.Ledger.HistoryLen)
	srv := server.New(cfg, d, store, l, recorder, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorder.Start(runCtx)
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- d.Run(runCtx) }()

	err = srv.Run(runCtx)
	cancel()
	if derr := <-dispatchDone; derr != nil && !errors.Is(derr, context.Canceled) {
		logger.Printf("dispatcher: %v", derr)
	}
	recorder.Wait()
	return err
}
