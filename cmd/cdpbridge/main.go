// Command cdpbridge drives a headless Chromium over the DevTools protocol,
// either as an MCP tool server on stdio or through one-shot subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cdpbridge/internal/browser"
	"cdpbridge/internal/config"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cdpbridge",
	Short: "Headless Chromium automation over the DevTools protocol",
	Long: `cdpbridge launches and supervises a headless Chromium, attaches to a page
over the Chrome DevTools Protocol and exposes navigation, input, evaluation,
screenshots, console/network logs and page audits.

Run "cdpbridge serve" to expose these as MCP tools on stdin/stdout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Init(logging.Options{
			Level:   level,
			Format:  cfg.Logging.Format,
			Output:  cfg.Logging.File,
			Enabled: cfg.Logging.IsCategoryEnabled,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.BootDebug("config loaded from %q", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	// Overrides the root hook: printing the version needs no config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "cdpbridge", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cdpbridge.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, evalCmd, contentCmd, screenshotCmd, auditCmd, versionCmd)
}

// browserConfig maps the file configuration onto the bridge.
func browserConfig(c *config.Config) browser.Config {
	return browser.Config{
		Binary:            c.Browser.Binary,
		Port:              c.Browser.Port,
		UserDataDir:       c.Browser.UserDataDir,
		ExtraArgs:         c.Browser.ExtraArgs,
		TerminateGrace:    c.GetTerminateGrace(),
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		UserAgent:         c.Browser.UserAgent,
		NavigationTimeout: c.GetNavigationTimeout(),
		CommandTimeout:    c.GetCommandTimeout(),
		DiscoveryInterval: c.GetPollInterval(),
		DiscoveryAttempts: c.Discovery.MaxAttempts,
		LogCapacity:       c.Logs.Capacity,
		ArtifactDir:       c.Artifacts.Dir,
	}
}

func newBridge(rec *metrics.Recorder) *browser.Bridge {
	b := browser.New(browserConfig(cfg), browser.WithMetrics(rec))
	logging.Boot("bridge %s configured for port %d", b.ID(), cfg.Browser.Port)
	return b
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("cdpbridge: %v", err)
		os.Exit(1)
	}
}
