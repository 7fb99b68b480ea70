package cmd

import (
	"context"

	"github.com/caarlos0/spin"
	"github.com/spf13/cobra"
	"github.com/textileio/fleetwatch/buildinfo"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information for fleetctl and the connected daemon",
	Long:  `Display version information for fleetctl and the connected daemon`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		Message("fleetctl build info:\n%s", buildinfo.Summary())

		s := spin.New("%s Getting fleetd build info...")
		s.Start()
		info, err := fwClient.Version(ctx)
		s.Stop()
		checkErr(err)

		Message("fleetd build info:\n\tversion:\t%s\n\tbuild date:\t%s\n\tgit commit:\t%s\n\tgo version:\t%s",
			info.Version, info.BuildDate, info.GitCommit, info.GoVersion)
	},
}
