package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/gasnode/pkg/config"
)

type globalFlags struct {
	configFile string
	envFile    string
	mock       bool
	port       string
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("gasnode failed")
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "gasnode",
		Short:         "Multiplexed gas sensing node",
		Long:          "Polls CO2 and dissolved oxygen sensors behind a 16-line multiplexer,\nlogs readings to storage and forwards them over BLE.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "config.yaml", "Configuration file path")
	root.PersistentFlags().StringVar(&flags.envFile, "env", ".env", "Environment override file")
	root.PersistentFlags().BoolVar(&flags.mock, "mock", false, "Use the simulated board and radio")
	root.PersistentFlags().StringVarP(&flags.port, "port", "p", "", "Radio serial port override (e.g. /dev/ttyUSB0)")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newProbeCmd(flags))
	root.AddCommand(newCalibrateCmd(flags))
	root.AddCommand(newDumpCmd(flags))
	root.AddCommand(newPortsCmd())

	return root
}

// loadConfig reads the configuration file, applies environment overrides and
// command line flags, and sets the log level.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(flags.envFile); err != nil {
		return nil, err
	}
	if flags.port != "" {
		cfg.Radio.Port = flags.port
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return cfg, nil
}
