// Command mcp-shop serves a demonstration store catalog as MCP tools
// (product search, product detail, cart add/get, order list).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/shopdemo"
	"github.com/soyeahso/shopassist/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		stdio    bool
		sse      bool
		catalog  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "mcp-shop",
		Short:         "Demo store tool service over MCP (streamable HTTP, SSE or stdio)",
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol in stdio mode, so logs go to stderr.
			log := logging.New(nil, logLevel)

			cat := shopdemo.SampleCatalog()
			if catalog != "" {
				var err error
				if cat, err = shopdemo.LoadCatalog(catalog); err != nil {
					return err
				}
			}
			srv := shopdemo.NewServer(cat, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if stdio {
				log.Info().Int("products", len(cat.Products)).Msg("serving on stdio")
				return srv.ServeStdio(ctx)
			}
			if sse {
				return serveHTTP(ctx, addr, srv.SSEHandler(), "SSE", log)
			}
			return serveHTTP(ctx, addr, srv.Handler(), "streamable HTTP", log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3333", "listen address for streamable HTTP")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve on stdin/stdout instead of HTTP")
	cmd.Flags().BoolVar(&sse, "sse", false, "serve HTTP+SSE instead of streamable HTTP")
	cmd.Flags().StringVar(&catalog, "catalog", "", "YAML or JSON catalog file (default: built-in sample)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, transport string, log *logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("serving " + transport)
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
