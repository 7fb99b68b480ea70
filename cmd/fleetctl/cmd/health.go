package cmd

import (
	"context"

	"github.com/caarlos0/spin"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Display the fleet health status",
	Long:  `Display the fleet health status. The fleet is unhealthy while any fault is active for longer than the escalation age.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		s := spin.New("%s Checking fleet health...")
		s.Start()
		healthy, err := fwClient.Health(ctx)
		s.Stop()
		checkErr(err)

		if healthy {
			Success("Fleet is %v", aurora.Green("healthy").Bold())
			return
		}
		Warn("Fleet is %v, run `fleetctl faults` for details", aurora.Red("not healthy").Bold())
	},
}
