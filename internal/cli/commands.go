package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/interval"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/validation"
	"github.com/sensorsp/widget-engine/internal/widget"
)

func newEventCmd(flags *globalFlags, logger *zap.Logger) *cobra.Command {
	var (
		variant   string
		subAction string
		dark      bool
	)
	cmd := &cobra.Command{
		Use:   "event <instance-id> <event-type>",
		Short: "Deliver one lifecycle event to an instance",
		Long: `Deliver one lifecycle event. Event types are WIDGET_ADDED, WIDGET_UPDATE,
WIDGET_RESIZED, WIDGET_DELETED and WIDGET_CLICK; short forms (added, update,
resized, removed, tapped) are accepted. The outcome is printed last.`,
		Example: `  widgetctl event 5 update
  widgetctl event 5 tapped --sub-action refresh
  widgetctl event 5 removed`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstance(args[0])
			if err != nil {
				return err
			}
			eng, _, err := openEngine(flags, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			out := eng.Dispatcher.Handle(cmd.Context(), models.Event{
				InstanceID:  id,
				VariantName: variant,
				Type:        models.ParseEventType(args[1]),
				SubAction:   models.SubAction(subAction),
				DarkMode:    dark,
			})
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "host widget name or compact|extended|full")
	cmd.Flags().StringVar(&subAction, "sub-action", "", "tap sub-action: refresh|open_app|open_alerts")
	cmd.Flags().BoolVar(&dark, "dark", false, "host reports dark mode")
	return cmd
}

func newConfigureCmd(flags *globalFlags, logger *zap.Logger) *cobra.Command {
	var (
		variant    string
		sensorID   string
		sensorName string
		userID     string
		theme      string
		dark       bool
	)
	cmd := &cobra.Command{
		Use:   "configure <instance-id>",
		Short: "Store an instance configuration and refresh it",
		Example: `  widgetctl configure 5 --sensor 665f1c2b --sensor-name Greenhouse --theme dark
  widgetctl configure 5 --sensor 665f1c2b --user 42   # alert badge for user 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstance(args[0])
			if err != nil {
				return err
			}
			sensor, err := validation.ValidateID(sensorID)
			if err != nil {
				return fmt.Errorf("--sensor: %w", err)
			}
			user, err := validation.ValidateOptionalID(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			eng, _, err := openEngine(flags, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			result := eng.Dispatcher.Configure(cmd.Context(), id, variant, models.WidgetConfig{
				SensorID:   sensor,
				SensorName: sensorName,
				UserID:     user,
				Theme:      models.Theme(theme),
			}, dark)
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"result": string(result)}); err != nil {
				return err
			}
			if result != widget.ConfigOK {
				return fmt.Errorf("configuration of instance %d cancelled", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "host widget name or compact|extended|full")
	cmd.Flags().StringVar(&sensorID, "sensor", "", "sensor id to display (required)")
	cmd.Flags().StringVar(&sensorName, "sensor-name", "", "display name of the sensor")
	cmd.Flags().StringVar(&userID, "user", "", "user id for the active alert count")
	cmd.Flags().StringVar(&theme, "theme", "auto", "light|dark|auto")
	cmd.Flags().BoolVar(&dark, "dark", false, "host reports dark mode")
	_ = cmd.MarkFlagRequired("sensor")
	return cmd
}

func newSnapshotCmd(flags *globalFlags, logger *zap.Logger) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot <instance-id>",
		Short: "Show the cached snapshot and configuration of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstance(args[0])
			if err != nil {
				return err
			}
			eng, _, err := openEngine(flags, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			snap, ok := eng.Cache.GetAnySnapshot(cmd.Context(), id)
			cfg, hasCfg := eng.Cache.GetConfig(cmd.Context(), id)
			now := eng.Clock.Now()
			if asJSON {
				resp := map[string]interface{}{"instanceId": id}
				if ok {
					resp["snapshot"] = snap
					resp["fresh"] = eng.Cache.IsFresh(snap, now)
				}
				if hasCfg {
					resp["config"] = cfg
				}
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Instance %d\n", id)
			if hasCfg {
				fmt.Fprintf(w, "  Sensor:      %s %s\n", cfg.SensorID, cfg.SensorName)
				fmt.Fprintf(w, "  Theme:       %s\n", cfg.Theme)
			} else {
				fmt.Fprintln(w, "  Sensor:      (not configured, latest overall reading)")
			}
			if !ok {
				fmt.Fprintln(w, "  Snapshot:    none")
				return nil
			}
			freshness := "stale"
			if eng.Cache.IsFresh(snap, now) {
				freshness = "fresh"
			}
			fmt.Fprintf(w, "  Snapshot:    %s, captured %s\n", freshness, humanize.RelTime(snap.CapturedAt, now, "ago", "from now"))
			fmt.Fprintf(w, "  Temperature: %s\n", snap.Temperature)
			fmt.Fprintf(w, "  Humidity:    %s\n", snap.Humidity)
			fmt.Fprintf(w, "  Status:      %s\n", snap.Status)
			fmt.Fprintf(w, "  Location:    %s\n", snap.Location)
			if snap.Alerts > 0 {
				fmt.Fprintf(w, "  Alerts:      %d\n", snap.Alerts)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newIntervalCmd(flags *globalFlags, logger *zap.Logger) *cobra.Command {
	var (
		powerSave bool
		battery   float64
		charging  bool
	)
	cmd := &cobra.Command{
		Use:   "interval",
		Short: "Resolve the requested update interval",
		Long: `Resolve the update interval the engine would request. With a host power
source, --power-save or --battery simulate a host report first.`,
		Example: `  widgetctl interval
  widgetctl interval --battery 12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(flags, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if eng.Power != nil {
				var state interval.PowerState
				reported := false
				if cmd.Flags().Changed("power-save") {
					state.PowerSave = &powerSave
					reported = true
				}
				if cmd.Flags().Changed("battery") {
					state.BatteryLevel = &battery
					state.Charging = charging
					reported = true
				}
				if reported {
					eng.Power.Set(state)
				}
			}
			iv := eng.Policy.Resolve(cmd.Context())
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"intervalSeconds": iv.Seconds(),
				"interval":        iv.Round(time.Second).String(),
				"powerSaving":     iv != eng.Policy.Normal(),
			})
		},
	}
	cmd.Flags().BoolVar(&powerSave, "power-save", false, "report power save mode")
	cmd.Flags().Float64Var(&battery, "battery", 0, "report battery level percent")
	cmd.Flags().BoolVar(&charging, "charging", false, "report the battery as charging")
	return cmd
}
