package main

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/sensor"
	"github.com/itohio/gasnode/pkg/telemetry"
)

func newCalibrateCmd(flags *globalFlags) *cobra.Command {
	var (
		vol float32
		mv  float32
	)

	cmd := &cobra.Command{
		Use:   "calibrate <channel>",
		Short: "Store an oxygen sensor calibration",
		Long: "Store an oxygen sensor calibration. With --mv 0 the sensor is calibrated\n" +
			"at a single point of --vol percent; otherwise the --vol/--mv ratio is stored.",
		Args: cobra.ExactArgs(1),
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

			if err := calibrate(cfg, hw, id, vol, mv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d calibrated\n", id)
			return nil
		},
	}

	cmd.Flags().Float32Var(&vol, "vol", 20.9, "Oxygen concentration in percent")
	cmd.Flags().Float32Var(&mv, "mv", 0, "Sensor output in mV at --vol (0 for single point)")

	return cmd
}

func calibrate(cfg *config.Config, hw *hardware, id int, vol, mv float32) error {
	registry, err := channel.New(cfg.Channels, 0)
	if err != nil {
		return err
	}
	ch, ok := registry.Get(id)
	if !ok || ch.Kind != channel.DissolvedOxygen {
		return fmt.Errorf("channel %d has no oxygen sensor: %w", id, telemetry.ErrDomain)
	}

	if err := hw.mux.Select(id); err != nil {
		return err
	}
	defer hw.mux.Disable()

	o2 := sensor.NewOxygen(hw.bus, cfg.Oxygen, nil)
	if !o2.Healthy() {
		return fmt.Errorf("channel %d: %w", id, telemetry.ErrDeviceNotResponding)
	}
	if err := o2.Calibrate(vol, mv); err != nil {
		return err
	}
	log.Info().Int("channel", id).Float32("vol", vol).Float32("mv", mv).Msg("oxygen sensor calibrated")
	return nil
}
