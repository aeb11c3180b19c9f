package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/engine"
	"github.com/alanyoungcy/marketledger/internal/server"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/server/ws"
	"github.com/alanyoungcy/marketledger/internal/service"
)

// archiveLockKey guards against overlapping archive sweeps when multiple
// instances share a Redis.
const archiveLockKey = "lock:archive"

// archiveLockTTL bounds how long a crashed sweeper can hold the lock.
const archiveLockTTL = 10 * time.Minute

// buildLedger assembles the engine and the service layer from the wired
// dependencies.
func (a *App) buildLedger(deps *Dependencies) *service.LedgerService {
	eng := engine.New(
		engine.Config{
			MinBet:            a.cfg.Engine.MinBet,
			MaxBet:            a.cfg.Engine.MaxBet,
			EmergencyTimelock: a.cfg.Engine.EmergencyTimelock.Duration,
		},
		deps.MarketStore,
		deps.BetStore,
		deps.Treasury,
		domain.SystemClock(),
		a.logger,
	)

	var alerter service.Alerter
	if deps.Notifier != nil {
		alerter = deps.Notifier
	}

	return service.NewLedgerService(
		eng,
		deps.MarketCache,
		deps.SignalBus,
		deps.AuditStore,
		alerter,
		a.logger,
	)
}

// ServerMode runs the HTTP + WebSocket API server until the context is
// cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	ledger := a.buildLedger(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, ledger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: server mode: %w", err)
	}
	return nil
}

// ArchiveMode runs only the periodic settled-market archival sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3 configuration")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: archive mode: %w", err)
	}
	return nil
}

// FullMode runs the API server and, when enabled, the archive sweep in the
// same process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	ledger := a.buildLedger(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, ledger)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: full mode: %w", err)
	}
	return nil
}

// startHTTPServer launches the API server plus the WebSocket hub (when a
// signal bus is available) and a shutdown watcher on the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledger *service.LedgerService) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(ledger, a.logger),
		Bets:    handler.NewBetHandler(ledger, a.logger),
		Audit:   handler.NewAuditHandler(ledger, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		handlers,
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server starting",
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiveLoop launches the periodic archive sweep on the errgroup. Each
// tick archives markets resolved more than the retention window ago. When a
// lock manager is available the sweep is serialized across instances.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		a.logger.InfoContext(ctx, "archive loop starting",
			slog.Duration("interval", interval),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchiveSweep(ctx, deps, retention)
			}
		}
	})
}

// runArchiveSweep performs one archive pass. Sweep failures are logged, not
// fatal; the next tick retries.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies, retention time.Duration) {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			a.logger.DebugContext(ctx, "archive sweep skipped, lock held elsewhere",
				slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-retention)
	count, err := deps.Archiver.ArchiveResolved(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive sweep failed",
			slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		a.logger.InfoContext(ctx, "archive sweep complete",
			slog.Int64("markets_archived", count),
			slog.Time("cutoff", cutoff))
	}
}
