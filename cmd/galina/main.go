// galina: voice legal consultation in a single process.
//
// Usage:
//
//	galina run                  # start a consultation and serve the UI API
//	galina devices              # list audio backends on this platform
//	galina detect --ua "..."    # print the device profile for a user agent
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teslashibe/go-galina/internal/config"
	"github.com/teslashibe/go-galina/internal/log"
)

var version = "0.1.0"

var envFile string

var rootCmd = &cobra.Command{
	Use:          "galina",
	Short:        "Galina voice legal assistant",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file to load")
	rootCmd.AddCommand(runCmd, devicesCmd, detectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
