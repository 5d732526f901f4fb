package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flamegiraffe/internal/service"
	"github.com/flamegiraffe/internal/webui"
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the profile API over HTTP",
		Long: `Start an HTTP server that aggregates uploaded folded profiles and returns
trees and flame graph layouts as JSON.

Routes:
  POST   /api/profiles                 upload folded text, or ?ref=cos://key, cos://prefix/ or a path
  GET    /api/profiles                 list cached profiles
  GET    /api/profiles/{id}            profile summary
  GET    /api/profiles/{id}/tree       tree as json, gzip, zstd or folded (?format=)
  GET    /api/profiles/{id}/layout     rectangles (?width=&focus=&rowHeight=&orientation=)
  GET    /api/profiles/{id}/top        heaviest frames (?n=&sort=self|total&focus=&stacks=)
  DELETE /api/profiles/{id}            drop a profile
  GET    /healthz                      health and cache statistics
  GET    /debug/pprof/                 runtime profiles, when server.pprof is set

A focus path in a query string must encode ';' as %3B.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}

	binName := BinName()
	cmd.Example = `  # Start with default settings
  ` + binName + ` serve

  # Listen on another port with verbose request logging
  ` + binName + ` serve --addr :9090 -v`

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// runServe serves until ctx is cancelled or the listener fails.
func (a *app) runServe(ctx context.Context) error {
	log := a.logger

	svc, err := service.New(a.cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	log.Info("Storage: %s, cache size: %d", a.cfg.Storage.Type, a.cfg.Server.CacheSize)
	server := webui.NewServer(a.cfg.Server, svc, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
