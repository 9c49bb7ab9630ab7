package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the chat gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, paths, log, appOptions{durable: true, limit: true})
			if err != nil {
				return err
			}
			defer a.close()
			a.runBackground(ctx)

			// Warm the cache so the first visitor does not pay for the fetch.
			go a.cache.Get(ctx, false)

			srv := gateway.New(cfg, a.services(), log, a.gatewayOptions()...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
