package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/dbpool"
	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/http/ginserver"
	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/http/ginserver/middlewares"
	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/metrics/prom"
	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/source/adminapi"
	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/source/postgres"
	"github.com/vshulcz/synapse-stats-exporter/internal/config"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/ports"
	"github.com/vshulcz/synapse-stats-exporter/internal/services/poller"
	"github.com/vshulcz/synapse-stats-exporter/internal/services/status"
	"github.com/vshulcz/synapse-stats-exporter/pkg/observer"
	"github.com/vshulcz/synapse-stats-exporter/pkg/util"
)

const product = "synapse-stats-exporter"

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// run wires the exporter and blocks until ctx is done. Errors returned before
// the poll loop starts are startup failures.
func run(ctx context.Context, args []string, info util.BuildInfo) (retErr error) {
	cfg, err := config.LoadExporterConfig(args, os.Stderr)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	defer func() {
		if retErr != nil {
			logger.Error("exporter failed", zap.Error(retErr))
		}
	}()

	logger.Info("exporter starting",
		zap.String("version", info.Version),
		zap.String("source", string(cfg.Source)),
		zap.Duration("interval", cfg.Poll.Interval),
		zap.Duration("fetch_timeout", cfg.Poll.FetchTimeout),
		zap.Int("port", cfg.Poll.ExporterPort),
	)

	reg := prom.NewRegistry()
	tracker := status.NewTracker(cfg.Source)
	events := observer.NewSubject[poller.TickOutcome](tracker)
	events.SetErrorHandler(func(err error) {
		logger.Warn("tick observer failed", zap.Error(err))
	})

	gin.SetMode(gin.ReleaseMode)
	router := ginserver.NewRouter(
		ginserver.NewHandler(reg.Handler(zap.NewStdLog(logger)), tracker),
		middlewares.ZapLogger(logger.Named("http")),
	)
	srv, err := ginserver.Listen(cfg.Poll.ListenAddr(), router, logger)
	if err != nil {
		return err
	}

	src, err := buildSource(ctx, cfg, info, logger)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("data source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("close data source", zap.Error(err))
		}
	}()

	loop := poller.New(cfg.Poll, src, reg.Sink(), logger.Named("poller"), events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("exporter stopped")
	return nil
}

func buildSource(ctx context.Context, cfg config.ExporterConfig, info util.BuildInfo, logger *zap.Logger) (ports.DataSource, error) {
	switch cfg.Source {
	case domain.SourceDB:
		pool, err := dbpool.Open(ctx, cfg.DB, logger.Named("dbpool"))
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil
	case domain.SourceAPI:
		adminapi.UserAgent = info.UserAgent(product)
		hc := &http.Client{Timeout: cfg.Poll.FetchTimeout}
		return adminapi.Connect(ctx, cfg.API, hc, logger.Named("adminapi"))
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
}
