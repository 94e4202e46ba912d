// Package cli provides the hdrp command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	devMode    bool

	cfg       *config.PipelineConfig
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "hdrp",
	Short: "Hassaniya data refinery pipeline",
	Long: `hdrp turns raw Hassaniya Arabic chat data, web pages and documents into
scored, deduplicated episodes and exports the training corpora built from them:
continued-pretraining text, instruction-tuning chats and an evaluation set.

Stages can be run one at a time (convert, collect, refine, export, publish)
or all together with run.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or pretty")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use the development defaults when no config file is given")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(finetuneCmd)
}

// initConfig loads the pipeline config and applies the logging flags
func initConfig() error {
	var err error
	if configPath == "" && devMode {
		cfg = config.DevelopmentPipelineConfig()
	} else {
		cfg, err = config.LoadPipelineConfig(configPath)
		if err != nil {
			return err
		}
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logCloser, err = logging.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	return nil
}

// commandContext is cancelled on SIGINT or SIGTERM
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}
