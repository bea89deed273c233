package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/catalog"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/database"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/objectstore"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/services"
)

// app holds the wired services shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	syncService   services.SchemaSyncService
	relationships services.RelationshipService
	planner       services.SyncJobPlanner

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath, Version)
	} else {
		cfg, err = config.Load(Version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("graph_store_postgres", cfg.Database.Enabled()),
		zap.String("redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)),
		zap.Int("datasources", len(cfg.Datasources)))

	repo, err := a.graphStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.syncLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var objects objectstore.Store
	if cfg.ObjectStore.Enabled() {
		store, err := objectstore.NewMinioStore(&cfg.ObjectStore, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		objects = store
	}

	sources := catalog.NewSourceFactory(datasource.NewDatasourceAdapterFactory(logger), objects, logger)

	a.syncService = services.NewSchemaSyncService(repo, locker, cfg.Sync, logger)
	a.relationships = services.NewRelationshipService(repo, locker, logger)
	a.planner = services.NewSyncJobPlanner(cfg, sources, logger)
	return a, nil
}

func (a *app) graphStore(ctx context.Context) (repositories.SchemaGraphRepository, error) {
	if !a.cfg.Database.Enabled() {
		a.logger.Info("No graph store database configured, keeping the graph in memory")
		return repositories.NewMemorySchemaGraphRepository(), nil
	}

	if err := database.MigrateURL(a.cfg.Database.URL(), a.logger); err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            a.cfg.Database.URL(),
		MaxConnections: a.cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to graph store: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	return repositories.NewPostgresSchemaGraphRepository(db), nil
}

func (a *app) syncLocker(ctx context.Context) (database.SyncLocker, error) {
	client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return database.NewLocalSyncLocker(), nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return database.NewRedisSyncLocker(client, a.cfg.Redis.KeyPrefix), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("service", "ekaya-schemagraph")), nil
}
