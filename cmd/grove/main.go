// Package main is the grove command line: it drives the engagement engine
// from the shell, a line-oriented chat loop or the interactive terminal UI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grove/internal/config"
	"grove/internal/engine"
	"grove/internal/logging"
)

var (
	verbose      bool
	workspace    string
	configPath   string
	storeBackend string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "grove - engagement state and context targeting",
	Long: `grove tracks how a visitor engages with an exploratory chat, decides
which reveals and moments to surface, detects conversational drift and ranks
the next prompts to suggest.

Run without arguments to start the interactive terminal UI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Sync()
	},
	RunE: runTUI,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the workspace",
	RunE:  runConfigInit,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest .grove or go.mod)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.grove/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "Override the storage backend (memory, file, sqlite)")

	configCmd.AddCommand(configInitCmd)
	triggersCmd.AddCommand(triggersListCmd, triggersEvalCmd, triggersValidateCmd)
	metricsCmd.AddCommand(metricsServeCmd)

	rootCmd.AddCommand(
		configCmd,
		statusCmd,
		emitCmd,
		historyCmd,
		triggersCmd,
		entropyCmd,
		rankCmd,
		momentsCmd,
		lensCmd,
		resetCmd,
		chatCmd,
		tuiCmd,
		metricsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// SETUP
// =============================================================================

// setup resolves the workspace, loads .env and the config file, and installs
// the process logger.
func setup() error {
	root, err := resolveWorkspace()
	if err != nil {
		return err
	}
	workspace = root

	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath(root)
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if storeBackend != "" {
		loaded.Storage.Backend = storeBackend
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	return setupLogging()
}

// setupLogging builds the zap logger. A configured log file or format goes
// through logging.Initialize; otherwise the production config is used, as
// for any other zap program.
func setupLogging() error {
	if cfg.Logging.File != "" || cfg.Logging.Format == "console" {
		if err := logging.Initialize(cfg.Logging.ToLogging()); err != nil {
			return err
		}
		return nil
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	var err error
	logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetLogger(logger)
	return nil
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return config.FindWorkspaceRoot()
}

// bootEngine opens the engine for the current workspace. Callers must Close it.
func bootEngine(hooks engine.Hooks) (*engine.Engine, error) {
	if cfg == nil {
		if err := setup(); err != nil {
			return nil, err
		}
	}
	return engine.Boot(cfg, workspace, hooks)
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := yamlString(cfg)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
