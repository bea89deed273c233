package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/catalog"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/database"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/retry"
)

// SyncJob pairs a database with the catalog source it is synchronized from.
type SyncJob struct {
	Database *models.Database
	Source   catalog.Source
}

// SyncOutcome is the result of one job of SyncAll.
type SyncOutcome struct {
	DatabaseID uuid.UUID
	Name       string
	Result     *models.SyncResult
	Err        error
}

// SchemaSyncService runs synchronizations end to end: per-database locking,
// catalog fetching with timeout and retry, and the sync itself.
type SchemaSyncService interface {
	// SyncDatabase synchronizes one database from source. It fails with
	// apperrors.ErrSyncInProgress while another sync of the database runs and
	// with apperrors.ErrCatalogUnavailable, without touching the graph, when
	// no snapshot could be fetched.
	SyncDatabase(ctx context.Context, db *models.Database, source catalog.Source) (*models.SyncResult, error)

	// SyncAll synchronizes independent databases concurrently and returns one
	// outcome per job, in job order. One failing job does not stop the others.
	SyncAll(ctx context.Context, jobs []SyncJob) []SyncOutcome

	// InferRelationships runs relationship inference alone on a stored database.
	InferRelationships(ctx context.Context, databaseID uuid.UUID) (*InferenceResult, error)

	// ResolvePrimaryKey returns the logical primary key of one active table.
	ResolvePrimaryKey(ctx context.Context, databaseID uuid.UUID, tableName string) (*PrimaryKeyResolution, error)

	// ListTables returns the tables of a database, optionally with soft-deleted ones.
	ListTables(ctx context.Context, databaseID uuid.UUID, includeDeleted bool) ([]*models.Table, error)
}

type schemaSyncService struct {
	repo         repositories.SchemaGraphRepository
	locker       database.SyncLocker
	synchronizer *SchemaSynchronizer
	resolver     *PrimaryKeyResolver
	cfg          config.SyncConfig
	retryCfg     *retry.Config
	logger       *zap.Logger
	now          func() time.Time
}

// NewSchemaSyncService creates a SchemaSyncService.
func NewSchemaSyncService(
	repo repositories.SchemaGraphRepository,
	locker database.SyncLocker,
	cfg config.SyncConfig,
	logger *zap.Logger,
) SchemaSyncService {
	if cfg.MaxConcurrentSyncs < 1 {
		cfg.MaxConcurrentSyncs = 1
	}
	svcLogger := logger.Named("sync-service")

	retryCfg := retry.WithMaxRetries(cfg.CatalogRetries)
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		svcLogger.Warn("Catalog fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)))
	}

	return &schemaSyncService{
		repo:         repo,
		locker:       locker,
		synchronizer: NewSchemaSynchronizer(repo, logger),
		resolver:     NewPrimaryKeyResolver(logger),
		cfg:          cfg,
		retryCfg:     retryCfg,
		logger:       svcLogger,
		now:          time.Now,
	}
}

var _ SchemaSyncService = (*schemaSyncService)(nil)

func (s *schemaSyncService) SyncDatabase(ctx context.Context, db *models.Database, source catalog.Source) (*models.SyncResult, error) {
	if db == nil || db.ID == uuid.Nil {
		return nil, fmt.Errorf("database is required")
	}
	if source == nil {
		return nil, fmt.Errorf("database %s: no catalog source: %w", db.Name, apperrors.ErrCatalogUnavailable)
	}

	release, err := s.locker.TryLock(ctx, db.ID.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release sync lock",
				zap.String("database_id", db.ID.String()),
				zap.Error(err))
		}
	}()

	if err := s.mergeStored(ctx, db); err != nil {
		return s.failed(db), err
	}

	snapshot, err := s.fetch(ctx, db, source)
	if err != nil {
		s.logger.Error("Catalog unavailable, graph left untouched",
			zap.String("database_id", db.ID.String()),
			zap.String("database", db.Name),
			zap.String("error", logging.SanitizeError(err)))
		return s.failed(db), fmt.Errorf("database %s: %w: %w", db.Name, apperrors.ErrCatalogUnavailable, err)
	}

	return s.synchronizer.Synchronize(ctx, db, snapshot)
}

// mergeStored carries the stored lifecycle fields over to db.
func (s *schemaSyncService) mergeStored(ctx context.Context, db *models.Database) error {
	stored, err := s.repo.GetDatabase(ctx, db.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	if stored.IsDeleted {
		return fmt.Errorf("database %s: %w", db.Name, apperrors.ErrDatabaseDeleted)
	}
	db.CreatedAt = stored.CreatedAt
	if db.LastSyncedAt == nil {
		db.LastSyncedAt = stored.LastSyncedAt
	}
	return nil
}

// fetch reads a snapshot within the catalog timeout, retrying transient failures.
func (s *schemaSyncService) fetch(ctx context.Context, db *models.Database, source catalog.Source) (*models.CatalogSnapshot, error) {
	fetchCtx := ctx
	if s.cfg.CatalogTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.CatalogTimeout)
		defer cancel()
	}

	var snapshot *models.CatalogSnapshot
	err := retry.DoIfRetryable(fetchCtx, s.retryCfg, func() error {
		snap, err := source.Snapshot(fetchCtx)
		if err != nil {
			return err
		}
		snapshot = snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snapshot == nil || snapshot.Tables == nil {
		return nil, fmt.Errorf("source returned an empty snapshot")
	}

	s.logger.Debug("Fetched catalog snapshot",
		zap.String("database_id", db.ID.String()),
		zap.Int("tables", len(snapshot.Tables)),
		zap.Time("captured_at", snapshot.CapturedAt))
	return snapshot, nil
}

func (s *schemaSyncService) failed(db *models.Database) *models.SyncResult {
	now := s.now()
	return &models.SyncResult{
		DatabaseID:  db.ID,
		State:       models.SyncStateFailed,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func (s *schemaSyncService) SyncAll(ctx context.Context, jobs []SyncJob) []SyncOutcome {
	outcomes := make([]SyncOutcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentSyncs)
	for i, job := range jobs {
		outcomes[i] = SyncOutcome{Name: databaseName(job.Database)}
		if job.Database != nil {
			outcomes[i].DatabaseID = job.Database.ID
		}
		g.Go(func() error {
			outcomes[i].Result, outcomes[i].Err = s.SyncDatabase(ctx, job.Database, job.Source)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	s.logger.Info("Synchronized databases",
		zap.Int("databases", len(jobs)),
		zap.Int("failed", failed))
	return outcomes
}

func databaseName(db *models.Database) string {
	if db == nil {
		return ""
	}
	return db.Name
}

func (s *schemaSyncService) InferRelationships(ctx context.Context, databaseID uuid.UUID) (*InferenceResult, error) {
	db, err := s.activeDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.TryLock(ctx, databaseID.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release sync lock", zap.String("database_id", databaseID.String()), zap.Error(err))
		}
	}()

	return s.synchronizer.inference.Infer(ctx, db)
}

func (s *schemaSyncService) ResolvePrimaryKey(ctx context.Context, databaseID uuid.UUID, tableName string) (*PrimaryKeyResolution, error) {
	table, err := s.repo.GetTableByName(ctx, databaseID, tableName)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(table), nil
}

func (s *schemaSyncService) ListTables(ctx context.Context, databaseID uuid.UUID, includeDeleted bool) ([]*models.Table, error) {
	if _, err := s.repo.GetDatabase(ctx, databaseID); err != nil {
		return nil, err
	}
	return s.repo.ListTables(ctx, databaseID, includeDeleted)
}

func (s *schemaSyncService) activeDatabase(ctx context.Context, databaseID uuid.UUID) (*models.Database, error) {
	db, err := s.repo.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	if db.IsDeleted {
		return nil, fmt.Errorf("database %s: %w", db.Name, apperrors.ErrDatabaseDeleted)
	}
	return db, nil
}
