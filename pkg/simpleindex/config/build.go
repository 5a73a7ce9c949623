package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/api"
	"github.com/tendant/simple-index/pkg/simpleindex/distutils"
	"github.com/tendant/simple-index/pkg/simpleindex/identity"
	"github.com/tendant/simple-index/pkg/simpleindex/objectkey"
	"github.com/tendant/simple-index/pkg/simpleindex/repo/memory"
	repopg "github.com/tendant/simple-index/pkg/simpleindex/repo/postgres"
	fsstorage "github.com/tendant/simple-index/pkg/simpleindex/storage/fs"
	memorystorage "github.com/tendant/simple-index/pkg/simpleindex/storage/memory"
	s3storage "github.com/tendant/simple-index/pkg/simpleindex/storage/s3"
)

// Server holds the wired components of an index server.
type Server struct {
	Registry   simpleindex.Registry
	Controller *distutils.Controller
	Handler    *api.Handler
	Metrics    *api.Metrics

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Server) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Build wires repository, artifact store, verifier, registry, controller
// and HTTP handler from the configuration.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{}

	repo, verifiers, err := c.buildRepository(ctx, logger, srv)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, storeName, err := c.buildBlobStore()
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	keys, err := objectkey.FromName(c.ObjectKeyStrategy)
	if err != nil {
		srv.Close()
		return nil, err
	}

	srv.Registry, err = simpleindex.New(
		simpleindex.WithRepository(repo),
		simpleindex.WithBlobStore(storeName, store),
		simpleindex.WithDefaultBlobStore(storeName),
		simpleindex.WithObjectKeyGenerator(keys),
		simpleindex.WithEventSink(simpleindex.NewLogEventSink(logger)),
		simpleindex.WithLogger(logger),
	)
	if err != nil {
		srv.Close()
		return nil, err
	}

	if c.Users != "" {
		static, err := identity.ParseStatic(c.Users)
		if err != nil {
			srv.Close()
			return nil, err
		}
		// static users are checked before the database
		verifiers = append(identity.Chain{static}, verifiers...)
	}
	if len(verifiers) == 0 {
		logger.Warn("no users configured; every register/upload will be rejected")
	}

	srv.Controller, err = distutils.New(srv.Registry, verifiers, distutils.WithLogger(logger))
	if err != nil {
		srv.Close()
		return nil, err
	}

	srv.Metrics = api.NewMetrics()
	srv.Handler = api.NewHandler(srv.Controller, srv.Registry,
		api.WithRealm(c.AuthRealm),
		api.WithMaxBodyBytes(c.MaxBodyBytes),
		api.WithMetrics(srv.Metrics),
		api.WithLogger(logger),
	)
	return srv, nil
}

func (c *ServerConfig) buildRepository(ctx context.Context, logger *slog.Logger, srv *Server) (simpleindex.Repository, identity.Chain, error) {
	if c.DatabaseType() != "postgres" {
		return memory.New(), nil, nil
	}

	pool, err := ConnectPostgres(ctx, c.DatabaseURL, c.DBConnectTimeout, logger)
	if err != nil {
		return nil, nil, err
	}
	srv.pool = pool

	if c.AutoMigrate {
		if err := repopg.Migrate(c.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}
	return repopg.NewWithPool(pool), identity.Chain{repopg.NewUserStore(pool)}, nil
}

func (c *ServerConfig) buildBlobStore() (simpleindex.BlobStore, string, error) {
	sc, err := c.Storage()
	if err != nil {
		return nil, "", err
	}

	switch sc.Type {
	case "memory":
		return memorystorage.New(), sc.Name, nil
	case "fs":
		store, err := fsstorage.New(fsstorage.Config{BaseDir: sc.BaseDir, URLPrefix: sc.URLPrefix})
		return store, sc.Name, err
	case "s3":
		store, err := s3storage.New(s3storage.Config{
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			Prefix:                 sc.Prefix,
			AccessKeyID:            c.AWSAccessKeyID,
			SecretAccessKey:        c.AWSSecretAccessKey,
			Endpoint:               sc.Endpoint,
			UsePathStyle:           sc.UsePathStyle,
			PresignDuration:        sc.PresignDuration,
			EnableSSE:              sc.SSEAlgorithm != "",
			SSEAlgorithm:           sc.SSEAlgorithm,
			SSEKMSKeyID:            sc.SSEKMSKeyID,
			CreateBucketIfNotExist: sc.CreateBucket,
		})
		return store, sc.Name, err
	}
	return nil, "", fmt.Errorf("unsupported storage type: %s", sc.Type)
}

// ConnectPostgres opens a pool and retries the first ping with exponential
// backoff until timeout, so the server can start alongside its database.
func ConnectPostgres(ctx context.Context, databaseURL string, timeout time.Duration, logger *slog.Logger) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}

	connect := func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create pgx pool: %w", err))
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}

	pool, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database not ready, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}
