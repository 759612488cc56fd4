package main

import (
	"github.com/spf13/cobra"

	"github.com/itohio/gasnode/pkg/logsink"
)

func newDumpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the sensor log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			sink := logsink.New(logsink.NewDir(cfg.Log.Dir, false), cfg.Log.File, cfg.Device.Name)
			data, err := sink.ReadAll()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
