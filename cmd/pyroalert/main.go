package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

var (
	configPath string
	envFile    string
	webPort    int
	natsPort   int
)

// rootCmd runs the sensor node when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "pyroalert",
	Short: "Fire and smoke alert node",
	Long: `Consumes per-frame detections from the local detection bus, deduplicates
fire and smoke alerts, and delivers them to the monitoring backend.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "PyroAlert v%s (built %s)\n", version, buildTime)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default ./.env if present)")
	rootCmd.Flags().IntVar(&webPort, "port", 0, "Status API port (overrides config)")
	rootCmd.Flags().IntVar(&natsPort, "nats-port", 0, "Detection bus port (overrides config)")

	rootCmd.AddCommand(versionCmd, installCmd, uninstallCmd)
}
