package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/app"
	"github.com/manydesigns/portofino/internal/config"
	"github.com/manydesigns/portofino/internal/logging"
)

var (
	configPath string
	pagesRoot  string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to portofino.yaml (default $"+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVarP(&pagesRoot, "pages", "p", "", "Page directory root, overrides pages.root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides log.level")
}

var rootCmd = &cobra.Command{
	Use:           "portofino",
	Short:         "Portofino: page dispatch and definition caching",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if pagesRoot != "" {
		cfg.Pages.Root = pagesRoot
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp builds the application for one command. The caller closes it.
func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Log.Warn("shutdown", zap.Error(err))
	}
	_ = a.Log.Sync()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
