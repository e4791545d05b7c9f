package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/limbic-flow/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "limbic",
		Short: "Limbic - a companion whose replies are shaped by a simulated mood",
		Long: `Limbic runs each conversational turn through an affect model, an
episodic memory with mood-dependent recall distortion, a language model and
an articulation stage that paces the reply like a person typing.`,
		SilenceUsage: true,
	}

	defaultPath := os.Getenv("LIMBIC_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/limbic.json"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "config file path (empty for built-in defaults)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(), newChatCmd(), newHistoryCmd(), newMemoriesCmd())
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", configPath, err)
	}
	return cfg, nil
}

// newLogger builds a production logger at level. Interactive commands pass
// console=true to get the development encoder on stderr.
func newLogger(level string, console bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if console {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
