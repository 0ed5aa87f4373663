package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/config"
	"github.com/yairfalse/cheapskate/internal/logging"
)

var version = "0.1.0"

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "cheapskate.toml"

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg  *config.Config
	deps deps
}

// Execute runs the root command
func Execute(ctx context.Context) {
	if err := newRootCmd(defaultDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(d deps) *cobra.Command {
	opts := &rootOptions{deps: d}

	cmd := &cobra.Command{
		Use:   "cheapskate",
		Short: "Tag-driven start/stop scheduling for EC2 instances",
		Long: `Cheapskate - stop paying for idle instances

Every instance carries its schedule in a single tag. Cheapskate stops
instances whose deadline has passed, starts business-hours instances in the
morning, and caps user extensions by projected cost.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	cmd.SetVersionTemplate(`Cheapskate {{.Version}}
`)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default cheapskate.toml if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newListCmd(opts),
		newDueCmd(opts),
		newShutdownCmd(opts),
		newStartBusinessHoursCmd(opts),
		newExtendCmd(opts),
		newGroupCmd(opts),
		newSaveAllCmd(opts),
		newPropagateTagCmd(opts),
		newRunCmd(opts),
		newDaemonCmd(opts),
		newCatalogCmd(opts),
		newJournalCmd(opts),
	)
	return cmd
}

// load reads the config file and sets up logging.
func (o *rootOptions) load() error {
	cfg, err := o.readConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logging.SetupWriter(o.deps.logOutput, level, cfg.Log.Format)

	o.cfg = cfg
	return nil
}

func (o *rootOptions) readConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", defaultConfigPath, err)
	}
	return config.Default(), nil
}
