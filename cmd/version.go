package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.2.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the isagen version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("isagen", version)
	},
}
