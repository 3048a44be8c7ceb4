package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsettle/internal/scheduler"
	"github.com/alanyoungcy/marketsettle/internal/server"
	"github.com/alanyoungcy/marketsettle/internal/server/handler"
	"github.com/alanyoungcy/marketsettle/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// APIMode serves the HTTP and WebSocket API.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the finalization sweep, journal archival and audit
// pruning on their cron schedules.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps); err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the API and the worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startScheduler adds the cron runner to g.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Sweep == nil {
		return errors.New("scheduler needs an operator key")
	}
	runner := scheduler.New(a.logger, a.cfg.Scheduler.JobTimeout.Duration)
	schedules := scheduler.Schedules{
		Finalize: a.cfg.Scheduler.FinalizeCron,
		Archive:  a.cfg.Scheduler.ArchiveCron,
		Prune:    a.cfg.Scheduler.PruneCron,
	}
	if deps.Archiver == nil {
		schedules.Archive = ""
	}
	if err := scheduler.Register(runner, schedules, deps.Sweep, deps.Prune); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "scheduler ready",
		slog.Int("jobs", runner.Entries()),
		slog.String("authority", deps.Operator.Address().Hex()),
	)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the HTTP server and the WebSocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	svc := deps.Settlement
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Health, a.logger),
		Config:  handler.NewConfigHandler(svc, a.logger),
		Markets: handler.NewMarketHandler(svc, a.logger),
		Votes:   handler.NewVoteHandler(svc, a.logger),
		Trades:  handler.NewTradeHandler(svc, a.logger),
		Ledger:  handler.NewLedgerHandler(svc, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		WalletSkew:   a.cfg.Server.WalletSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; X-Caller is trusted without credentials")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
