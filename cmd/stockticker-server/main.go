// Command stockticker-server runs the authoritative Stock Ticker game
// server: a TCP listener speaking the length-prefixed JSON protocol, one
// game created at startup, and an optional admin HTTP endpoint.
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

	"github.com/jweaver-ca/stock-ticker/internal/admin"
	"github.com/jweaver-ca/stock-ticker/internal/config"
	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/server"
)

func main() {
	cfg := config.LoadServerFromEnv()
	var timerSec int
	var gameLenMin float64

	root := &cobra.Command{
		Use:          "stockticker-server",
		Short:        "Authoritative Stock Ticker game server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("timersec") {
				cfg.TickEvery = time.Duration(timerSec) * time.Second
			}
			if cmd.Flags().Changed("gamelen") {
				cfg.GameLen = time.Duration(gameLenMin * float64(time.Minute))
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP/IP port to listen for connections")
	root.Flags().IntVarP(&timerSec, "timersec", "t", int(cfg.TickEvery/time.Second), "seconds between die rolls")
	root.Flags().Float64VarP(&gameLenMin, "gamelen", "l", cfg.GameLen.Minutes(), "length of game in minutes")
	root.Flags().StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin HTTP listen address (empty disables)")
	root.Flags().StringVar(&cfg.GameName, "game-name", cfg.GameName, "name of the game created at startup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	srv := server.New(logger)
	var g *game.Game
	g = game.New(cfg.GameName, game.Options{
		TickEvery: cfg.TickEvery,
		GameLen:   cfg.GameLen,
	}, logger, func(n game.Notice) {
		srv.Deliver(g, n)
	})
	srv.AddGame(g)
	defer g.Stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Serve(ctx, cfg.ListenAddr())
	})

	if cfg.AdminAddr != "" {
		adminSrv := admin.New(logger, g, srv)
		httpServer := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           adminSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		group.Go(func() error {
			logger.Info("admin http listening", "addr", cfg.AdminAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	logger.Info("stock ticker server starting",
		"port", cfg.Port, "tick_every", cfg.TickEvery.String(), "game_len", cfg.GameLen.String())

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
