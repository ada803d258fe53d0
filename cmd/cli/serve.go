package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/api"
	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/orchestrator"
	"github.com/cuongdev/billgate/pkg/push"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway service",
		Long:  `Restore account orchestrators from the database, connect their push listeners and serve the management API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
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

	host := orchestrator.NewHost(
		database,
		bank.NewHTTPClient(cfg.BankBaseURL),
		push.NewGatewayTransport(cfg.PushGatewayURL),
		cfg,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Start(ctx); err != nil {
		return err
	}
	defer host.Stop()

	server := api.NewServer(host, database)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Run(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	}
}
