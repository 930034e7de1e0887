package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/parley/internal/loadgen"
	"github.com/okian/parley/pkg/logger"
)

// Default configuration constants.
const (
	defaultEvents   = 10000
	defaultUsers    = 200
	defaultTargets  = 8
	defaultWorkers  = 2 // multiplier for runtime.NumCPU()
	defaultTimeout  = 30 * time.Second
	defaultCommands = 0.1
	defaultReplays  = 0.02
	defaultLookups  = 20
	defaultRunLimit = 10 * time.Minute
)

func newRootCmd() *cobra.Command {
	cfg := &loadgen.Config{}
	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Post a synthetic chat stream to a running bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWithWriter(os.Stderr, logger.FormatText); err != nil {
				return err
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunLimit)
			defer cancel()
			_, err := loadgen.Run(ctx, cfg)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "Base URL of the bot's HTTP API")
	f.IntVar(&cfg.Events, "events", defaultEvents, "Number of events to generate and submit")
	f.IntVar(&cfg.Users, "users", defaultUsers, "Distinct nicks in the stream")
	f.IntVar(&cfg.Targets, "targets", defaultTargets, "Distinct channels in the stream")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.Float64Var(&cfg.Commands, "commands", defaultCommands, "Share of messages that invoke a command")
	f.Float64Var(&cfg.Replays, "replays", defaultReplays, "Share of events re-posted with an earlier id")
	f.IntVar(&cfg.Lookups, "lookups", defaultLookups, "Entities to read back after the run")
	f.Uint64Var(&cfg.Seed, "seed", 1, "Generator seed")
	f.StringVar(&cfg.Prefix, "prefix", "!", "Command prefix of the bot")
	f.DurationVar(&cfg.Wait, "wait", time.Second, "Pause before reading back state")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
