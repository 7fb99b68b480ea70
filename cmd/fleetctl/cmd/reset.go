package cmd

import (
	"context"

	"github.com/caarlos0/spin"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every active fault and the audit log",
	Long:  `Clear every active fault, drop their escalations without retracting them, and truncate the audit log`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		s := spin.New("%s Resetting faults...")
		s.Start()
		err := fwClient.Reset(ctx)
		s.Stop()
		checkErr(err)

		Success("Error codes reset")
	},
}
