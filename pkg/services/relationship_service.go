package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/database"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

// editLockTTL bounds how long a manual edit may hold the database lock.
const editLockTTL = time.Minute

// AddRelationshipRequest declares one relationship by hand.
type AddRelationshipRequest struct {
	FromTable  string           `json:"from_table"`
	FromColumn string           `json:"from_column"`
	ToTable    string           `json:"to_table"`
	ToColumn   string           `json:"to_column"`
	Type       string           `json:"type"`
	Junction   *models.Junction `json:"junction,omitempty"`
}

// RelationshipService edits relationships outside of a sync. Manual edges are
// preserved across later syncs like any other outgoing relationship.
type RelationshipService interface {
	// AddRelationship creates a manual relationship. If an edge with the same
	// key exists it is returned unchanged and no error is reported.
	AddRelationship(ctx context.Context, databaseID uuid.UUID, req AddRelationshipRequest) (*models.Relationship, error)

	// RemoveRelationship removes every edge from fromTable to toTable and
	// clears the foreign-key markers those relationships set.
	RemoveRelationship(ctx context.Context, databaseID uuid.UUID, fromTable, toTable string) error
}

type relationshipService struct {
	repo   repositories.SchemaGraphRepository
	locker database.SyncLocker
	edges  *edgeWriter
	logger *zap.Logger
}

// NewRelationshipService creates a RelationshipService. Edits take the same
// per-database lock as syncs, so they fail with apperrors.ErrSyncInProgress
// while a sync runs.
func NewRelationshipService(repo repositories.SchemaGraphRepository, locker database.SyncLocker, logger *zap.Logger) RelationshipService {
	logger = logger.Named("relationships")
	return &relationshipService{
		repo:   repo,
		locker: locker,
		edges:  &edgeWriter{store: repo, logger: logger},
		logger: logger,
	}
}

var _ RelationshipService = (*relationshipService)(nil)

func (s *relationshipService) AddRelationship(ctx context.Context, databaseID uuid.UUID, req AddRelationshipRequest) (*models.Relationship, error) {
	relType, ok := models.ParseRelationshipType(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidRelationshipType, req.Type)
	}
	if err := requireJunction(relType, req.Junction); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	defer release()

	tables, err := s.repo.AllTables(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	byName := make(map[string]*models.Table, len(tables))
	for _, t := range tables {
		byName[t.TableName] = t
	}

	source, ok := byName[req.FromTable]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.FromTable, apperrors.ErrTableNotFound)
	}
	target, ok := byName[req.ToTable]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.ToTable, apperrors.ErrTableNotFound)
	}
	fromCol := source.Column(req.FromColumn)
	if fromCol == nil {
		return nil, fmt.Errorf("%s.%s: %w", req.FromTable, req.FromColumn, apperrors.ErrColumnNotFound)
	}
	if target.Column(req.ToColumn) == nil {
		return nil, fmt.Errorf("%s.%s: %w", req.ToTable, req.ToColumn, apperrors.ErrColumnNotFound)
	}
	if err := validateJunction(relType, req.Junction, byName); err != nil {
		return nil, err
	}

	key := models.RelationshipKey{
		FromTable:  req.FromTable,
		ToTable:    req.ToTable,
		FromColumn: req.FromColumn,
		ToColumn:   req.ToColumn,
	}

	attrs := models.RelationshipEdgeAttributes(relType, req.FromColumn, req.ToColumn, models.OriginManual)
	if relType == models.RelationshipManyToMany {
		attrs.Junction = req.Junction
	}
	err = s.edges.link(ctx, source, fromCol, target, attrs)
	switch {
	case errors.Is(err, apperrors.ErrDuplicateRelationship):
		s.logger.Debug("Relationship already exists",
			zap.String("from", req.FromTable+"."+req.FromColumn),
			zap.String("to", req.ToTable+"."+req.ToColumn))
	case err != nil:
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	default:
		s.logger.Info("Added relationship",
			zap.String("database_id", databaseID.String()),
			zap.String("type", string(relType)),
			zap.String("from", req.FromTable+"."+req.FromColumn),
			zap.String("to", req.ToTable+"."+req.ToColumn))
	}

	return s.findRelationship(ctx, databaseID, key)
}

func (s *relationshipService) findRelationship(ctx context.Context, databaseID uuid.UUID, key models.RelationshipKey) (*models.Relationship, error) {
	table, err := s.repo.GetTableByName(ctx, databaseID, key.FromTable)
	if err != nil {
		return nil, err
	}
	for _, rel := range table.Relationships {
		if rel.Key() == key {
			return rel, nil
		}
	}
	return nil, fmt.Errorf("relationship %s.%s -> %s.%s: %w", key.FromTable, key.FromColumn, key.ToTable, key.ToColumn, apperrors.ErrNotFound)
}

func (s *relationshipService) RemoveRelationship(ctx context.Context, databaseID uuid.UUID, fromTable, toTable string) error {
	release, err := s.lock(ctx, databaseID)
	if err != nil {
		return err
	}
	defer release()

	source, err := s.repo.GetTableByName(ctx, databaseID, fromTable)
	if err != nil {
		return err
	}
	target, err := s.repo.GetTableByName(ctx, databaseID, toTable)
	if err != nil {
		return err
	}

	found := false
	for _, rel := range source.Relationships {
		if rel.ToTable == toTable {
			found = true
			break
		}
	}
	for _, edge := range source.RelatedTo {
		if edge.ToTable == toTable {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("relationship %s -> %s: %w", fromTable, toTable, apperrors.ErrNotFound)
	}

	if err := s.repo.Disconnect(ctx, source, target); err != nil {
		return fmt.Errorf("failed to remove relationship: %w", err)
	}
	for _, c := range source.Columns {
		if c.ReferencesTable == nil || *c.ReferencesTable != toTable {
			continue
		}
		if err := s.edges.clearForeignKey(ctx, source, c); err != nil {
			s.logger.Warn("Failed to clear foreign key marker",
				zap.String("table", fromTable),
				zap.String("column", c.ColumnName),
				zap.Error(err))
		}
	}

	s.logger.Info("Removed relationship",
		zap.String("database_id", databaseID.String()),
		zap.String("from", fromTable),
		zap.String("to", toTable))
	return nil
}

func (s *relationshipService) lock(ctx context.Context, databaseID uuid.UUID) (func(), error) {
	db, err := s.repo.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	if db.IsDeleted {
		return nil, fmt.Errorf("database %s: %w", db.Name, apperrors.ErrDatabaseDeleted)
	}

	release, err := s.locker.TryLock(ctx, databaseID.String(), editLockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release sync lock", zap.String("database_id", databaseID.String()), zap.Error(err))
		}
	}, nil
}
