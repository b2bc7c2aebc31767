package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clacktrack",
	Short: "Content daemon for a networked split-flap display",
	Long: `clacktrack keeps a split-flap display showing fresh content: AI-written
headlines, weather, countdowns, and generated art, composed into 6x22
character frames and pushed to the display over HTTP. Home Assistant
events and cron schedules decide when the board updates.

Get started:
  clacktrack config init   Write a starter config file
  clacktrack doctor        Verify database, display, and providers
  clacktrack refresh       Generate and push one frame (one-shot)
  clacktrack serve         Start the daemon with REST API and triggers
  clacktrack ui            Launch the terminal dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.clacktrack/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		serveCmd,
		refreshCmd,
		uiCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
