package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/gateway"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat gateway (POST /chat, /health, /metrics, /ws)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			// The configured logger replaces the bootstrap one unless
			// --log-level was given.
			runLog := log
			if logLevel == "" {
				l, closer, err := logging.Open(logging.Options{
					Level:        cfg.Logging.Level,
					ConsoleStyle: cfg.Logging.ConsoleStyle,
					File:         cfg.Logging.File,
				})
				if err != nil {
					return err
				}
				defer closer.Close()
				runLog = l
			}

			// Raw config backs the config.get RPC.
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			s, err := buildStack(ctx, cfg, runLog, m)
			if err != nil {
				return err
			}
			defer s.Close()

			statuses := make([]gateway.ServiceStatus, len(s.managers))
			for i, mgr := range s.managers {
				statuses[i] = mgr
			}

			srv := gateway.New(cfg.Gateway, runLog,
				gateway.WithChat(s.runner),
				gateway.WithServices(statuses...),
				gateway.WithHooks(s.hooks),
				gateway.WithMetrics(m),
				gateway.WithConfigRaw(raw),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
