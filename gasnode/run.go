package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/logsink"
	"github.com/itohio/gasnode/pkg/metrics"
	"github.com/itohio/gasnode/pkg/radio"
	"github.com/itohio/gasnode/pkg/scheduler"
	"github.com/itohio/gasnode/pkg/sensor"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start acquisition, logging and radio delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, cfg, flags.mock)
		},
	}
}

// runNode wires the acquisition pipeline and runs it until ctx is cancelled.
func runNode(ctx context.Context, cfg *config.Config, mock bool) error {
	hw, err := openHardware(cfg, mock)
	if err != nil {
		return err
	}
	defer hw.Close()

	clock := scheduler.NewSystemClock()
	registry, err := channel.New(cfg.Channels, clock.NowMs())
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	logSink := logsink.New(
		logsink.NewDir(cfg.Log.Dir, mock),
		cfg.Log.File,
		cfg.Device.Name,
		logsink.WithTickUnit(cfg.Log.TickUnit),
		logsink.WithMetrics(collector),
	)

	radioSink := radio.NewSink(
		newTransport(cfg, mock),
		cfg.Device.Name,
		radio.WithFrameDelay(cfg.Radio.FrameDelay),
		radio.WithAdvertiseInterval(cfg.Radio.AdvertiseInterval),
		radio.WithMetrics(collector),
	)
	defer func() {
		if err := radioSink.Disable(); err != nil {
			log.Warn().Err(err).Msg("failed to power off radio")
		}
	}()

	sched := scheduler.New(
		registry,
		hw.mux,
		hw.bus,
		sensor.NewFactory(sensor.OptionsFromConfig(cfg)),
		clock,
		scheduler.WithTick(cfg.Scheduler.Tick),
		scheduler.WithFlushInterval(cfg.Scheduler.FlushInterval),
		scheduler.WithVisitSettle(cfg.Scheduler.VisitSettle),
		scheduler.WithSinks(logSink, radioSink),
		scheduler.WithMetrics(collector),
	)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, promReg); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	log.Info().Str("device", cfg.Device.Name).Str("log", cfg.Log.Dir).Bool("mock", mock).Msg("node started")
	return sched.Run(ctx)
}

func newTransport(cfg *config.Config, mock bool) radio.Transport {
	if mock {
		return radio.NewMock(radio.WithAutoConnect(cfg.Mock.AutoConnect))
	}
	return radio.NewSerial(cfg.Radio.Port, cfg.Radio.BaudRate)
}
