// Command cardsnap scans ID cards from a camera and extracts the holder's face.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/cardsnap/internal/config"
	"github.com/ayusman/cardsnap/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded once by the root command before any subcommand runs.
	cfg config.Config

	envFile   string
	flagDebug bool
	flagAddr  string
	flagVideo string
)

var rootCmd = &cobra.Command{
	Use:          "cardsnap",
	Short:        "ID card scanner with face extraction",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &loaded); err != nil {
			return err
		}
		cfg = loaded
		return logger.Init(cfg.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to an env file with CARDSNAP_* settings")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Human-readable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Preview server address (overrides CARDSNAP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&flagVideo, "source", "", "Video file or stream URL to read instead of the camera")
}

// applyFlags overlays explicitly set flags and revalidates.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("debug") {
		c.Debug = flagDebug
	}
	if flags.Changed("addr") {
		c.Addr = flagAddr
	}
	if flags.Changed("source") {
		c.Camera.Source = flagVideo
	}
	return c.Validate()
}

func main() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
