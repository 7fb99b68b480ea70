package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/fleetwatch/client"
)

var (
	fwClient *client.Client

	cmdTimeout = time.Second * 10

	rootCmd = &cobra.Command{
		Use:               "fleetctl",
		Short:             "A client for the fleetwatch daemon",
		Long:              `A client for the fleetwatch daemon: query fleet health, inspect and reset active faults, fetch the audit log.`,
		DisableAutoGenTag: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			err := viper.BindPFlag("gateway", cmd.Root().PersistentFlags().Lookup("gateway"))
			checkErr(err)
			fwClient = client.NewClient(viper.GetString("gateway"))
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("gateway", "http://127.0.0.1:4000", "base URL of the fleetd gateway")
}

func initConfig() {
	viper.SetEnvPrefix("FLEETCTL")
	viper.AutomaticEnv()
}
