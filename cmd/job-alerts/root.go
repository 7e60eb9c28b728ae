package main

import (
	"github.com/bissquit/job-alerts/internal/app"
	"github.com/bissquit/job-alerts/internal/config"
	"github.com/spf13/cobra"
)

const appName = "job-alerts"

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           appName,
		Short:         "job-alerts matches approved jobs against candidate subscriptions and publishes digests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"a YAML config file; environment variables with the "+config.EnvPrefix+" prefix override it")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newApp builds the application without starting its workers or servers.
func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
