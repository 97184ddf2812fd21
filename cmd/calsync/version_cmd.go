package main

import (
	"fmt"

	"github.com/calcurse/calsync/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.AppName, version.Detailed())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
