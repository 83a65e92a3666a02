package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var sessionFlag string
	var debugFlag bool

	app := newAppContext(&configFlag, &debugFlag)

	rootCmd := &cobra.Command{
		Use:           "curator",
		Short:         "Classify a media library and match torrents against it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.yml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "cli", "Session the command works on")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCommand(app))
	rootCmd.AddCommand(newScanCommand(app, &sessionFlag))
	rootCmd.AddCommand(newProcessCommand(app, &sessionFlag))
	rootCmd.AddCommand(newMatchCommand(app, &sessionFlag))
	rootCmd.AddCommand(newDispatchCommand(app, &sessionFlag))
	rootCmd.AddCommand(newResetCommand(app))

	return rootCmd
}
