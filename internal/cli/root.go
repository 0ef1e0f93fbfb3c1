package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kgrsutos/botsentry/internal/config"
)

var (
	configPath string
	debug      bool
	noColor    bool

	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "botsentry",
	Short: "Web access log bot and DDoS analyzer",
	Long: `botsentry is a CLI tool that analyzes web server access logs for automated traffic.
It scores every client IP for bot likelihood, assigns a risk level and a recommended action,
and flags time windows whose volume and error profile look like a volumetric attack.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logLevel.Set(slog.LevelDebug)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// LogLevel returns the level the default logger should be built with; --debug lowers it
func LogLevel() *slog.LevelVar {
	return logLevel
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored text output")
}

// loadConfig loads the --config file, or the first one found in the standard locations
func loadConfig() (*config.Config, error) {
	return config.LoadWithSearch(configPath)
}
