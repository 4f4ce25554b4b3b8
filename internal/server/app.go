// Package server wires the fleetkeeper registry together: it opens the
// database, runs migrations, connects payload storage and starts the HTTP
// and gRPC servers with graceful shutdown on SIGINT, SIGTERM or SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/config"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/services"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus"

	gs "github.com/dmitrijs2005/fleetkeeper/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	http   runner
	grpc   runner
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := storage.NewS3Store(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	met := metrics.New(prometheus.DefaultRegisterer)
	registry := services.NewRegistry(m)
	payloads := services.NewPayloadService(db, m, registry, blobs, c.MaxUploadSize, logger)
	deps := services.Deps{
		DB:          db,
		Repomanager: m,
		Registry:    registry,
		Payloads:    payloads,
		Log:         logger,
		Metrics:     met,
	}

	h := httpapi.NewHandler(
		services.NewUserService(db, m, c),
		services.NewDeviceService(deps),
		services.NewGroupService(deps),
		payloads,
		logger,
		c.MaxUploadSize,
	)

	g, err := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, db, c.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		config: c,
		logger: logger,
		db:     db,
		http:   httpapi.NewHTTPServer(c.EndpointAddrHTTP, httpapi.NewRouter(h, met, prometheus.DefaultGatherer), logger),
		grpc:   g,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

type runner interface {
	Run(ctx context.Context) error
}

// serve runs s and cancels the whole app if it fails, so the other server
// stops too.
func (app *App) serve(ctx context.Context, cancelFunc context.CancelFunc, name string, s runner) {
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "server failed", "server", name, "error", err)
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.serve(ctx, cancelFunc, "http", app.http)
	}()
	go func() {
		defer wg.Done()
		app.serve(ctx, cancelFunc, "grpc", app.grpc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}
