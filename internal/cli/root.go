// Package cli implements the fusiond command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fusiond",
	Short: "Fusion alert correlation engine",
	Long: `fusiond ingests security alerts from heterogeneous sources, correlates
them into cross-tenant groups, enriches closed groups through the
rate-limited provider gateway, scores the evidence deterministically and
routes the result to escalation, automated action or informational close.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
}
