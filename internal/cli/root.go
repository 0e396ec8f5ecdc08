// Package cli provides the command-line interface for comic-utils.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allaboutduncan/comic-utils-sub000/internal/api"
	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
	"github.com/allaboutduncan/comic-utils-sub000/internal/version"
)

var (
	// Global flags
	baseURL string
	verbose bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comic-utils",
		Short: "Comic library utilities - batch moves, scripts, and thumbnails",
		Long: `Comic library utilities ` + version.Version + ` - Built: ` + version.BuildTime + `
Client for a comic/media library server: batch file and directory moves
with live progress, long-running library scripts, and thumbnail
readiness polling.

Configuration comes from the environment (or a .env file); see
CLU_BASE_URL and friends. The --base-url flag overrides the environment.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultLogger()
			if verbose {
				logging.SetGlobalLevel(-1) // zerolog.DebugLevel
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Library server address (overrides CLU_BASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newMoveCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newThumbsCmd())
	rootCmd.AddCommand(newFilesCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig loads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	if baseURL != "" {
		// Flag wins over environment; Load validates the final value.
		os.Setenv("CLU_BASE_URL", baseURL)
	}
	return config.Load()
}

// newAPIClient builds the library client from config.
func newAPIClient() (*api.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return api.NewClient(cfg, GetLogger()), cfg, nil
}
