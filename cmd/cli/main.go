package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cuongdev/billgate/pkg/config"
)

var (
	dbPath     string
	configPath string
	rootCmd    *cobra.Command
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "billgate",
		Short: "Bank account payment gateway",
		Long:  `Monitors bank accounts over the vendor push channel, syncs their transactions into SQLite and forwards them to configured webhooks.`,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(newServeCmd(), newAccountsCmd(), newConfigCmd())

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig resolves the configuration, honoring the --db override.
func loadConfig() (*config.Config, error) {
	if err := config.InitGlobalConfig(configPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load configuration, using defaults")
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}
