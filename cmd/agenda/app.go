package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/schoolagenda/internal/db"
	"github.com/nkiryanov/schoolagenda/internal/handlers"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/repository/postgres"
	"github.com/nkiryanov/schoolagenda/internal/service/auth"
	"github.com/nkiryanov/schoolagenda/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/schoolagenda/internal/service/cleanup"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	pool    *pgxpool.Pool
	sweeper *cleanup.Sweeper
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	var opts []logger.Option
	if c.LogFile != "" {
		opts = append(opts, logger.WithFile(c.LogFile))
	}
	logger, err := logger.New(c.Environment, c.LogLevel, opts...)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	hasher, err := auth.NewBcryptHasher(c.BcryptCost)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessions, err := auth.NewService(auth.Config{
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		Hasher:     hasher,
		Logger:     logger,
	}, tokenManager, storage)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating session service. Err: %w", err)
	}

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(sessions, logger),
		logger:     logger,
		pool:       pool,
		sweeper:    cleanup.NewSweeper(storage.Refresh(), c.CleanupInterval, nil, logger),
	}, nil
}

// Run starts http server and cleanup sweeper. Both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "addr", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(timeoutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
			return httpServer.Close()
		}
		s.logger.Info("HTTP server stopped")
		return err
	})

	g.Go(func() error {
		s.sweeper.Run(gCtx)
		return nil
	})

	return g.Wait()
}
