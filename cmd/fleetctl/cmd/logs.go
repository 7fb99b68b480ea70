package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	logsCmd.Flags().StringP("output", "o", "", "write the audit log to this file instead of stdout")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:     "logs",
	Aliases: []string{"log"},
	Short:   "Print the audit log",
	Long:    `Print the audit log of fault assertions, restorations and notifications`,
	PreRun: func(cmd *cobra.Command, args []string) {
		err := viper.BindPFlags(cmd.Flags())
		checkErr(err)
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		var w io.Writer = os.Stdout
		if path := viper.GetString("output"); path != "" {
			f, err := os.Create(path)
			checkErr(err)
			defer func() { checkErr(f.Close()) }()
			w = f
		}
		checkErr(fwClient.Logs(ctx, w))
		if w != os.Stdout {
			Success("%s", fmt.Sprintf("Audit log written to %s", viper.GetString("output")))
		}
	},
}
