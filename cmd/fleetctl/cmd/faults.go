package cmd

import (
	"context"
	"strconv"

	"github.com/caarlos0/spin"
	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(faultsCmd)
}

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "List the active faults",
	Long:  `List the active faults in the order they were first observed`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		s := spin.New("%s Getting active faults...")
		s.Start()
		faults, err := fwClient.Faults(ctx)
		s.Stop()
		checkErr(err)

		if len(faults) == 0 {
			Success("No active faults")
			return
		}
		var overdue int
		data := make([][]string, len(faults))
		for i, f := range faults {
			if f.Overdue {
				overdue++
			}
			data[i] = []string{
				f.Kind.String(),
				f.Detail,
				humanize.Time(f.FirstObservedAt),
				strconv.FormatBool(f.Overdue),
				strconv.FormatBool(f.Escalated),
			}
		}
		RenderTable(out, []string{"kind", "detail", "since", "overdue", "escalated"}, data)
		Message("Found %d active faults", aurora.White(len(faults)).Bold())
		if overdue > 0 {
			Warn("%d of them outlived the escalation age", aurora.Red(overdue).Bold())
		}
	},
}
