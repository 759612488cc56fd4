package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/radio"
	"github.com/itohio/gasnode/pkg/sensor"
	"github.com/itohio/gasnode/pkg/telemetry"
)

func newProbeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <channel>",
		Short: "Read one channel once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel %q: %w", args[0], err)
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			hw, err := openHardware(cfg, flags.mock)
			if err != nil {
				return err
			}
			defer hw.Close()

			v, err := probe(cfg, hw, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d: %s\n", id, telemetry.FormatValue(v))
			return nil
		},
	}
}

// probe selects a configured channel, builds its driver and reads it once.
func probe(cfg *config.Config, hw *hardware, id int) (telemetry.Value, error) {
	registry, err := channel.New(cfg.Channels, 0)
	if err != nil {
		return nil, err
	}
	ch, ok := registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("channel %d is not configured: %w", id, telemetry.ErrDomain)
	}

	if err := hw.mux.Select(id); err != nil {
		return nil, err
	}
	defer hw.mux.Disable()

	drv := sensor.NewFactory(sensor.OptionsFromConfig(cfg))(ch.Kind, hw.bus)
	if !drv.Healthy() {
		return nil, fmt.Errorf("channel %d (%s): %w", id, ch.Kind, telemetry.ErrDeviceNotResponding)
	}
	return drv.Read()
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports usable by the radio module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := radio.Ports()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p.Name)
			}
			return nil
		},
	}
}
