package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuongdev/billgate/db"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List monitored accounts",
		Long:  `List the monitored accounts stored in the database with their status and last sync time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Initialize(); err != nil {
				return err
			}

			sessions, err := database.ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No accounts registered.")
				return nil
			}

			fmt.Printf("%-14s %-20s %-8s %s\n", "ACCOUNT", "NAME", "STATUS", "LAST SYNC")
			for _, s := range sessions {
				lastSync := "never"
				if s.LastSyncAt != nil {
					lastSync = s.LastSyncAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-14s %-20s %-8s %s\n", s.AccountNumber, s.Name, s.Status, lastSync)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the current configuration",
		Long:  `Show the effective configuration after defaults and overrides are applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}
