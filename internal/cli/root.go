// Package cli implements widgetctl: deliver lifecycle events, configure
// instances and inspect the store without a running host.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/config"
	"github.com/sensorsp/widget-engine/internal/engine"
	"github.com/sensorsp/widget-engine/internal/host"
	"github.com/sensorsp/widget-engine/internal/validation"
)

type globalFlags struct {
	configPath string
	storePath  string
	sensorURL  string
}

// NewRootCmd builds the widgetctl command tree. Host calls are written to
// the command's stdout as JSON lines; logs go to logger.
func NewRootCmd(logger *zap.Logger) *cobra.Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "widgetctl",
		Short: "Drive the SensorSP widget engine from the command line",
		Long: `widgetctl delivers widget lifecycle events to the engine with a host that
prints every render, schedule and navigation call as a JSON line.

It uses the same configuration as widgetd: config/{ENV_NAME}.yaml from the
working directory, or --config. Without a config file the built-in defaults
apply (sqlite store at widget.db, provider at http://localhost:3000/api).`,
		Example: `  # Add instance 5 as a medium widget
  widgetctl event 5 WIDGET_ADDED --variant SensorSPMediumWidget

  # Point instance 5 at a sensor
  widgetctl configure 5 --sensor 665f1c2b --theme dark

  # Inspect what the instance would show offline
  widgetctl snapshot 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: config/{ENV_NAME}.yaml)")
	root.PersistentFlags().StringVar(&flags.storePath, "db", "", "sqlite store path (overrides config)")
	root.PersistentFlags().StringVar(&flags.sensorURL, "sensor-url", "", "sensor data provider base URL (overrides config)")
	root.SuggestionsMinimumDistance = 2

	root.AddCommand(
		newEventCmd(flags, logger),
		newConfigureCmd(flags, logger),
		newSnapshotCmd(flags, logger),
		newIntervalCmd(flags, logger),
	)
	return root
}

// loadConfig resolves the configuration for one invocation.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
		if err != nil && strings.Contains(err.Error(), "config file not found") {
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if flags.storePath != "" {
		cfg.StoreBackend = "sqlite"
		cfg.StorePath = flags.storePath
	}
	if flags.sensorURL != "" {
		cfg.SensorAPIURL = flags.sensorURL
	}
	if cfg.StoreBackend == "memory" {
		return nil, errors.New("memory store does not persist between widgetctl runs; use sqlite or memcached")
	}
	return cfg, nil
}

// openEngine wires an engine whose host output goes to out.
func openEngine(flags *globalFlags, out io.Writer, logger *zap.Logger) (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(cfg, host.NewWriterHost(out), nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func parseInstance(arg string) (int64, error) {
	id, err := validation.ParseInstanceID(arg)
	if err != nil {
		return 0, fmt.Errorf("instance %q: %w", arg, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs widgetctl with the process arguments.
func Execute(logger *zap.Logger) error {
	root := NewRootCmd(logger)
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	return root.Execute()
}
