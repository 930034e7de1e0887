package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/parley/internal/config"
	"github.com/okian/parley/internal/plugins/builtin"
	"github.com/okian/parley/pkg/logger"
)

// flags are the persistent command line overrides.
type flags struct {
	config    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	run := func(cmd *cobra.Command, _ []string) error {
		cfg, err := f.load(cmd.Context())
		if err != nil {
			return err
		}
		b, err := assemble(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return b.run(cmd.Context())
	}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Chat bot event dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "YAML config file (defaults to PARLEY_CONFIG)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides log_level)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "Log format: text|json (overrides log_format)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect the transport and dispatch events (default)",
		RunE:  run,
	})
	root.AddCommand(&cobra.Command{
		Use:   "plugins",
		Short: "List the plugins the configuration enables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := buildService(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCAPABILITY\tPRIORITY\tCONCURRENCY\tAUTH\tENABLED")
			for _, p := range svc.Plugins() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\n", p.Name, p.Capability, p.Priority, p.Concurrency, p.Auth, p.Enabled)
			}
			return tw.Flush()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: nick=%s transport=%s plugins=%d scripts=%d schedule=%d\n",
				cfg.Nick, cfg.Transport.Kind, enabledCount(cfg.Plugins), len(cfg.Scripts), len(cfg.Schedule))
			return nil
		},
	})
	return root
}

// load reads the configuration, applies flag overrides and initializes
// logging. Logs go to stderr: stdout carries replies on the stdio transport.
func (f *flags) load(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, f.config)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := logger.InitWithWriter(os.Stderr, strings.ToLower(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func enabledCount(names []string) int {
	if len(names) == 0 {
		return len(builtin.All())
	}
	return len(names)
}
