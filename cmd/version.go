package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version preenchida em build time via -ldflags
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Exibir versão da aplicação",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("userscale-bench versão %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
