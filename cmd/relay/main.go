package main

import (
	"fmt"
	"os"

	"github.com/joripage/order-relay/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Webhook order relay",
		Long:          "Receives trade signals over HTTP and routes them to the brokerage gateway with bracket orders.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "Specify config file path (defaults to $CONFIG_FILE)")

	load := func() (*config.AppConfig, error) {
		return config.Load(configFile)
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newMigrateCmd(load))
	rootCmd.AddCommand(newJournalCmd(load))
	rootCmd.AddCommand(newTailCmd(load))
	return rootCmd
}

type configLoader func() (*config.AppConfig, error)
