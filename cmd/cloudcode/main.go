package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/cloudcode/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cloudcode",
		Short: "Cloud code functions and jobs for a Parse-compatible backend",
		Long:  "Serve webhook functions, triggers and batch jobs against a Parse-compatible REST API",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML or JSON config file")

	rootCmd.AddCommand(
		serveCmd(),
		invokeCmd(),
		jobCmd(),
		functionsCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file (if any), applies env overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
