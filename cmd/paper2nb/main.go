package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"paper2nb/internal/config"
	"paper2nb/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// errRunFailed signals a completed command whose outcome was a failure.
// The reason has already been printed.
var errRunFailed = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:   "paper2nb",
	Short: "Turn a research paper into a runnable, self-repairing Jupyter notebook",
	Long: `paper2nb reads an academic paper (PDF or text file, URL or arXiv id),
extracts its experiments, writes a notebook that reproduces one of them and
executes it in a sandbox, patching failing cells until the notebook runs or
the iteration budget is spent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Logging.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Initialize(logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSON(),
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize category logs: %w", err)
		}
		logger.Debug("Configuration loaded", zap.String("path", configPath), zap.String("provider", cfg.LLM.Provider))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "paper2nb.yaml", "Config file (missing file = defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
