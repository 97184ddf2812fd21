package main

import (
	"fmt"
	"time"

	"github.com/calcurse/calsync/internal/history"
	"github.com/calcurse/calsync/internal/utils"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent synchronization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		flagPath, _ := cmd.Flags().GetString("history")
		limit, _ := cmd.Flags().GetInt("limit")

		path, err := utils.ResolvePath(flagPath)
		if err != nil {
			return err
		}

		journal, err := history.Open(path)
		if err != nil {
			return err
		}
		defer journal.Close()

		records, err := journal.Recent(limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}

		for _, rec := range records {
			line := fmt.Sprintf("%s  %-11s  pulled=%d removed_local=%d pushed=%d removed_remote=%d  %s",
				rec.StartedAt.Format(time.RFC3339), rec.Mode,
				rec.Pulled, rec.RemovedLocal, rec.Pushed, rec.RemovedRemote,
				rec.Status)
			if rec.DryRun {
				line += " (dry-run)"
			}
			if rec.Error != "" {
				line += "  " + rec.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
