package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miguel-bm/slidechat/internal/agent"
	"github.com/miguel-bm/slidechat/internal/api"
	"github.com/miguel-bm/slidechat/internal/db"
	"github.com/miguel-bm/slidechat/internal/storage"
	"github.com/miguel-bm/slidechat/internal/tunnel"
)

var (
	serveHost   string
	servePort   int
	serveTunnel bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the slidechat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("tunnel") {
			cfg.Server.Tunnel = serveTunnel
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		store, err := storage.NewFSStore(cfg.Storage.Dir)
		if err != nil {
			return err
		}

		querier, err := newQuerier(cfg.Agent)
		if err != nil {
			return err
		}
		if cli, ok := querier.(*agent.CLIQuerier); ok && !cli.Available() {
			slog.Warn("claude CLI not found, chat requests will fail", "path", cfg.Agent.CLIPath)
		}

		if cfg.Server.Tunnel {
			if !tunnel.Available(cfg.Server.CloudflaredPath) {
				return errors.New("--tunnel needs cloudflared on PATH (or server.cloudflared_path)")
			}
			tun, err := tunnel.Start(ctx, tunnel.Options{Binary: cfg.Server.CloudflaredPath, Port: cfg.Server.Port})
			if err != nil {
				return fmt.Errorf("start tunnel: %w", err)
			}
			defer tun.Stop()
			cfg.Server.PublicURL = tun.URL
		}

		server, err := api.NewServer(cfg, path, database, store, newAdapter(querier, cfg.Agent))
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("starting slidechat server", "addr", cfg.Addr(), "backend", cfg.Agent.Backend, "public_url", cfg.Server.PublicURL)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			slog.Info("shutting down slidechat server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveTunnel, "tunnel", false, "Expose the server through a cloudflared quick tunnel (overrides server.tunnel)")
}
