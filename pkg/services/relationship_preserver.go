package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

// RelationshipSnapshot is the transient record of one outgoing relationship,
// taken before a table's edges are torn down for a resync.
type RelationshipSnapshot struct {
	TargetTableName string
	TargetTableID   uuid.UUID
	FromColumn      string
	ToColumn        string
	Type            models.RelationshipType
	Junction        *models.Junction
	Origin          models.RelationshipOrigin
	InferenceMethod *string
	Confidence      float64
}

// RestoreResult reports what Restore re-created. Restored counts every edge;
// Inferred is the part of it that came from naming inference.
type RestoreResult struct {
	Restored   int
	Inferred   int
	ManyToMany int
	Skipped    []models.SkippedOperation
}

// Declared is the number of restored edges declared by a catalog or a user.
func (r *RestoreResult) Declared() int {
	return r.Restored - r.Inferred
}

func (r *RestoreResult) merge(other *RestoreResult) {
	r.Restored += other.Restored
	r.Inferred += other.Inferred
	r.ManyToMany += other.ManyToMany
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// RelationshipPreserver captures outgoing relationships before a resync and
// re-creates them afterwards against the reconciled tables. Snapshots live on
// the preserver instance, so use one preserver per sync run.
type RelationshipPreserver struct {
	store     repositories.SchemaGraphRepository
	edges     *edgeWriter
	snapshots map[uuid.UUID][]RelationshipSnapshot
	logger    *zap.Logger
}

// NewRelationshipPreserver creates a RelationshipPreserver with empty snapshot state.
func NewRelationshipPreserver(store repositories.SchemaGraphRepository, logger *zap.Logger) *RelationshipPreserver {
	logger = logger.Named("relationship-preserver")
	return &RelationshipPreserver{
		store:     store,
		edges:     &edgeWriter{store: store, logger: logger},
		snapshots: make(map[uuid.UUID][]RelationshipSnapshot),
		logger:    logger,
	}
}

// Preserve snapshots every outgoing relationship of table, marks the
// originating columns as foreign keys, then removes all outgoing edges.
func (p *RelationshipPreserver) Preserve(ctx context.Context, table *models.Table) ([]RelationshipSnapshot, error) {
	snaps := make([]RelationshipSnapshot, 0, len(table.Relationships))
	targets := make(map[uuid.UUID]*models.Table)

	for _, rel := range table.Relationships {
		snaps = append(snaps, RelationshipSnapshot{
			TargetTableName: rel.ToTable,
			TargetTableID:   rel.ToTableID,
			FromColumn:      rel.FromColumn,
			ToColumn:        rel.ToColumn,
			Type:            rel.Type,
			Junction:        rel.Junction,
			Origin:          rel.Origin,
			InferenceMethod: rel.InferenceMethod,
			Confidence:      rel.Confidence,
		})
		targets[rel.ToTableID] = &models.Table{ID: rel.ToTableID, TableName: rel.ToTable}

		if rel.Type == models.RelationshipManyToMany {
			continue
		}
		if col := table.Column(rel.FromColumn); col != nil {
			p.edges.markForeignKey(ctx, table, col, rel.ToTable, rel.ToColumn)
		}
	}
	for _, edge := range table.RelatedTo {
		if _, ok := targets[edge.ToTableID]; !ok {
			targets[edge.ToTableID] = &models.Table{ID: edge.ToTableID, TableName: edge.ToTable}
		}
	}

	// Keep whatever was captured even if teardown fails half way; restore
	// treats already-present edges as no-ops.
	p.snapshots[table.ID] = snaps

	for _, target := range targets {
		if err := p.store.Disconnect(ctx, table, target); err != nil {
			return snaps, fmt.Errorf("failed to disconnect %s from %s: %w", table.TableName, target.TableName, err)
		}
	}

	p.logger.Debug("Preserved relationships",
		zap.String("table", table.TableName),
		zap.Int("relationships", len(snaps)))
	return snaps, nil
}

// Preserved returns the pending snapshot of the edge from tableID.fromColumn
// to toTable.toColumn, if one was taken and not yet restored.
func (p *RelationshipPreserver) Preserved(tableID uuid.UUID, fromColumn, toTable, toColumn string) (RelationshipSnapshot, bool) {
	for _, snap := range p.snapshots[tableID] {
		if snap.FromColumn == fromColumn && snap.TargetTableName == toTable && snap.ToColumn == toColumn {
			return snap, true
		}
	}
	return RelationshipSnapshot{}, false
}

// Restore re-creates the preserved relationships of table, resolving targets by
// name among the live tables of database. See RestoreAll.
func (p *RelationshipPreserver) Restore(ctx context.Context, table *models.Table, database *models.Database) (*RestoreResult, error) {
	return p.RestoreAll(ctx, []*models.Table{table}, database)
}

// RestoreAll restores every given table from one read of the live graph.
// Snapshots whose target table or columns no longer exist are skipped and not
// counted; the dangling FK marker is cleared. Only failing to read the live
// graph is returned as an error.
func (p *RelationshipPreserver) RestoreAll(ctx context.Context, tables []*models.Table, database *models.Database) (*RestoreResult, error) {
	live, err := p.store.AllTables(ctx, database.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables for restore: %w", err)
	}
	byName := make(map[string]*models.Table, len(live))
	byID := make(map[uuid.UUID]*models.Table, len(live))
	for _, t := range live {
		byName[t.TableName] = t
		byID[t.ID] = t
	}

	result := &RestoreResult{}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		snaps, ok := p.snapshots[table.ID]
		if !ok {
			continue
		}
		delete(p.snapshots, table.ID)

		source, ok := byID[table.ID]
		if !ok {
			p.logger.Debug("Table no longer live, dropping preserved relationships",
				zap.String("table", table.TableName),
				zap.Int("relationships", len(snaps)))
			continue
		}

		result.merge(p.restoreTable(ctx, source, snaps, byName))
	}

	return result, nil
}

func (p *RelationshipPreserver) restoreTable(ctx context.Context, source *models.Table, snaps []RelationshipSnapshot, byName map[string]*models.Table) *RestoreResult {
	result := &RestoreResult{}

	skip := func(snap RelationshipSnapshot, err error) {
		p.logger.Info("Skipping preserved relationship",
			zap.String("table", source.TableName),
			zap.String("from_column", snap.FromColumn),
			zap.String("target", snap.TargetTableName+"."+snap.ToColumn),
			zap.Error(err))
		result.Skipped = append(result.Skipped,
			skippedOperation(opRestore, source.TableName, snap.FromColumn, snap.TargetTableName, err))
	}

	for _, snap := range snaps {
		fromCol := source.Column(snap.FromColumn)
		target, ok := byName[snap.TargetTableName]
		if !ok {
			skip(snap, fmt.Errorf("%s: %w", snap.TargetTableName, apperrors.ErrTableNotFound))
			p.clearDangling(ctx, source, fromCol, snap)
			continue
		}
		if fromCol == nil {
			skip(snap, fmt.Errorf("%s.%s: %w", source.TableName, snap.FromColumn, apperrors.ErrColumnNotFound))
			continue
		}
		if target.Column(snap.ToColumn) == nil {
			skip(snap, fmt.Errorf("%s.%s: %w", target.TableName, snap.ToColumn, apperrors.ErrColumnNotFound))
			p.clearDangling(ctx, source, fromCol, snap)
			continue
		}

		attrs := models.EdgeAttributes{
			Kind:            models.EdgeKindRelationship,
			Type:            snap.Type,
			FromColumn:      snap.FromColumn,
			ToColumn:        snap.ToColumn,
			Origin:          snap.Origin,
			InferenceMethod: snap.InferenceMethod,
			Confidence:      snap.Confidence,
		}
		if snap.Type == models.RelationshipManyToMany {
			attrs.Junction = snap.Junction
		}

		err := p.edges.link(ctx, source, fromCol, target, attrs)
		switch {
		case err == nil:
			result.Restored++
			if snap.Origin == models.OriginInferred {
				result.Inferred++
			}
			if snap.Type == models.RelationshipManyToMany {
				result.ManyToMany++
			}
		case errors.Is(err, apperrors.ErrDuplicateRelationship):
			// Already present, nothing to do.
		default:
			skip(snap, err)
		}
	}

	return result
}

// clearDangling drops the FK marker Preserve pushed onto a column whose target vanished.
func (p *RelationshipPreserver) clearDangling(ctx context.Context, source *models.Table, col *models.Column, snap RelationshipSnapshot) {
	if col == nil || col.ReferencesTable == nil || *col.ReferencesTable != snap.TargetTableName {
		return
	}
	if err := p.edges.clearForeignKey(ctx, source, col); err != nil {
		p.logger.Warn("Failed to clear dangling foreign key marker",
			zap.String("table", source.TableName),
			zap.String("column", col.ColumnName),
			zap.Error(err))
	}
}
