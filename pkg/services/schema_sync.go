package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

// SchemaSynchronizer reconciles the stored schema graph of a database with a
// catalog snapshot. It takes no locks: callers must not run two syncs of the
// same database concurrently.
type SchemaSynchronizer struct {
	repo      repositories.SchemaGraphRepository
	inference *RelationshipInferenceEngine
	edges     *edgeWriter
	logger    *zap.Logger
	now       func() time.Time
}

// NewSchemaSynchronizer creates a SchemaSynchronizer.
func NewSchemaSynchronizer(repo repositories.SchemaGraphRepository, logger *zap.Logger) *SchemaSynchronizer {
	logger = logger.Named("schema-sync")
	return &SchemaSynchronizer{
		repo:      repo,
		inference: NewRelationshipInferenceEngine(repo, logger),
		edges:     &edgeWriter{store: repo, logger: logger},
		logger:    logger,
		now:       time.Now,
	}
}

// tableWork pairs a stored table with the catalog entry it is reconciled against.
type tableWork struct {
	table   *models.Table
	catalog *models.CatalogTable
}

// Synchronize brings the graph of database in line with snapshot:
//  1. preserve the outgoing relationships of every stored table
//  2. create, restore, update and soft-delete tables
//  3. upsert and hard-delete columns
//  4. apply relationships declared by the catalog
//  5. restore preserved relationships the catalog did not redeclare
//  6. clear stale foreign-key markers
//  7. infer relationships from naming
//
// A nil snapshot fails with apperrors.ErrCatalogUnavailable before anything is
// mutated. Failures of individual tables, columns or edges are recorded in
// SyncResult.Skipped and do not stop the sync.
func (s *SchemaSynchronizer) Synchronize(ctx context.Context, database *models.Database, snapshot *models.CatalogSnapshot) (*models.SyncResult, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	result := &models.SyncResult{
		DatabaseID: database.ID,
		State:      models.SyncStateIdle,
		StartedAt:  s.now(),
	}

	if snapshot == nil || snapshot.Tables == nil {
		result.State = models.SyncStateFailed
		return result, fmt.Errorf("no snapshot for database %s: %w", database.Name, apperrors.ErrCatalogUnavailable)
	}
	if database.IsDeleted {
		result.State = models.SyncStateFailed
		return result, fmt.Errorf("database %s: %w", database.Name, apperrors.ErrDatabaseDeleted)
	}

	stored, err := s.repo.AllTables(ctx, database.ID)
	if err != nil {
		result.State = models.SyncStateFailed
		return result, fmt.Errorf("failed to load stored tables: %w", err)
	}

	result.State = models.SyncStateSyncing
	s.logger.Info("Schema sync started",
		zap.String("database_id", database.ID.String()),
		zap.String("database", database.Name),
		zap.Int("stored_tables", len(stored)),
		zap.Int("catalog_tables", len(snapshot.Tables)))

	if err := s.run(ctx, database, snapshot, stored, result); err != nil {
		result.State = models.SyncStateFailed
		result.CompletedAt = s.now()
		s.logger.Error("Schema sync failed",
			zap.String("database_id", database.ID.String()),
			zap.Error(err))
		return result, err
	}

	result.State = models.SyncStateCompleted
	result.CompletedAt = s.now()

	s.logger.Info("Schema sync completed",
		zap.String("database_id", database.ID.String()),
		zap.Int("tables_added", result.TablesAdded),
		zap.Int("tables_updated", result.TablesUpdated),
		zap.Int("tables_removed", result.TablesRemoved),
		zap.Int("tables_restored", result.TablesRestored),
		zap.Int("columns_added", result.ColumnsAdded),
		zap.Int("columns_updated", result.ColumnsUpdated),
		zap.Int("columns_removed", result.ColumnsRemoved),
		zap.Int("relationships_restored", result.ExplicitRelationshipsRestored),
		zap.Int("inferred_restored", result.InferredRelationshipsRestored),
		zap.Int("relationships_declared", result.ExplicitRelationshipsAdded),
		zap.Int("relationships_inferred", result.InferredRelationshipsAdded),
		zap.Int("many_to_many", result.ManyToManyRelationships),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("duration", result.CompletedAt.Sub(result.StartedAt)))

	return result, nil
}

// InferRelationships runs relationship inference alone and returns the number of edges created.
func (s *SchemaSynchronizer) InferRelationships(ctx context.Context, database *models.Database) (int, error) {
	return s.inference.InferRelationships(ctx, database)
}

func (s *SchemaSynchronizer) run(ctx context.Context, database *models.Database, snapshot *models.CatalogSnapshot, stored []*models.Table, result *models.SyncResult) error {
	syncedAt := s.now()
	database.LastSyncedAt = &syncedAt
	if err := s.repo.UpsertDatabase(ctx, database); err != nil {
		return fmt.Errorf("failed to record database: %w", err)
	}

	preserver := NewRelationshipPreserver(s.repo, s.logger)
	for _, t := range stored {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := preserver.Preserve(ctx, t); err != nil {
			s.skip(result, skippedOperation(opPreserve, t.TableName, "", "", err), err)
		}
	}

	work, err := s.reconcileTables(ctx, database, snapshot, result)
	if err != nil {
		return err
	}

	for _, w := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.reconcileColumns(ctx, w, result)
	}

	// Declarations go first so the catalog wins over a preserved edge with the
	// same key; restoring that edge is then a duplicate no-op.
	if err := s.applyCatalogRelationships(ctx, database, work, preserver, result); err != nil {
		return err
	}

	tables := make([]*models.Table, 0, len(work))
	for _, w := range work {
		tables = append(tables, w.table)
	}
	restored, err := preserver.RestoreAll(ctx, tables, database)
	if err != nil {
		return err
	}
	result.ExplicitRelationshipsRestored += restored.Declared()
	result.InferredRelationshipsRestored = restored.Inferred
	result.Skipped = append(result.Skipped, restored.Skipped...)

	if err := s.clearStaleForeignKeys(ctx, database, result); err != nil {
		return err
	}

	inferred, err := s.inference.Infer(ctx, database)
	if err != nil {
		return fmt.Errorf("relationship inference failed: %w", err)
	}
	result.InferredRelationshipsAdded = inferred.Added
	result.Skipped = append(result.Skipped, inferred.Skipped...)

	final, err := s.repo.AllTables(ctx, database.ID)
	if err != nil {
		return fmt.Errorf("failed to load tables after sync: %w", err)
	}
	for _, t := range final {
		for _, rel := range t.Relationships {
			if rel.Type == models.RelationshipManyToMany {
				result.ManyToManyRelationships++
			}
		}
	}

	return nil
}

// reconcileTables diffs tables by name and returns the tables present in the snapshot.
func (s *SchemaSynchronizer) reconcileTables(ctx context.Context, database *models.Database, snapshot *models.CatalogSnapshot, result *models.SyncResult) ([]tableWork, error) {
	all, err := s.repo.ListTables(ctx, database.ID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	active := make(map[string]*models.Table)
	deleted := make(map[string]*models.Table)
	for _, t := range all {
		if !t.IsDeleted {
			active[t.TableName] = t
			continue
		}
		if prev, ok := deleted[t.TableName]; !ok || laterDeleted(t, prev) {
			deleted[t.TableName] = t
		}
	}

	work := make([]tableWork, 0, len(snapshot.Tables))
	for _, name := range snapshot.TableNames() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ct := snapshot.Tables[name]
		if ct == nil {
			ct = &models.CatalogTable{}
		}

		if t, ok := active[name]; ok {
			applyCatalogTable(t, ct)
			if err := s.repo.UpdateTable(ctx, t); err != nil {
				s.skip(result, skippedOperation(opSyncTable, name, "", "", err), err)
			} else {
				result.TablesUpdated++
			}
			work = append(work, tableWork{table: t, catalog: ct})
			continue
		}

		if t, ok := deleted[name]; ok {
			if err := s.repo.RestoreTable(ctx, t.ID); err == nil {
				applyCatalogTable(t, ct)
				t.IsDeleted = false
				t.DeletedAt = nil
				if err := s.repo.UpdateTable(ctx, t); err != nil {
					s.skip(result, skippedOperation(opSyncTable, name, "", "", err), err)
				}
				result.TablesRestored++
				work = append(work, tableWork{table: t, catalog: ct})
				continue
			} else {
				s.logger.Warn("Could not restore soft-deleted table, creating a new one",
					zap.String("table", name),
					zap.Error(err))
			}
		}

		t := &models.Table{DatabaseID: database.ID, TableName: name}
		applyCatalogTable(t, ct)
		if err := s.repo.CreateTable(ctx, t); err != nil {
			s.skip(result, skippedOperation(opSyncTable, name, "", "", err), err)
			continue
		}
		result.TablesAdded++
		result.AddedTableNames = append(result.AddedTableNames, name)
		work = append(work, tableWork{table: t, catalog: ct})
	}

	for _, t := range all {
		if t.IsDeleted {
			continue
		}
		if _, ok := snapshot.Tables[t.TableName]; ok {
			continue
		}
		if err := s.repo.SoftDeleteTable(ctx, t.ID); err != nil {
			s.skip(result, skippedOperation(opRemoveTable, t.TableName, "", "", err), err)
			continue
		}
		result.TablesRemoved++
		result.RemovedTableNames = append(result.RemovedTableNames, t.TableName)
	}

	return work, nil
}

// reconcileColumns upserts the catalog columns of w and hard-deletes the rest.
// Existing FK markers are carried over; restore and inference re-derive them.
func (s *SchemaSynchronizer) reconcileColumns(ctx context.Context, w tableWork, result *models.SyncResult) {
	existing := make(map[string]*models.Column, len(w.table.Columns))
	for _, c := range w.table.Columns {
		existing[c.ColumnName] = c
	}

	columns := make([]*models.Column, 0, len(w.catalog.Columns))
	seen := make(map[string]bool, len(w.catalog.Columns))
	for i, cc := range w.catalog.Columns {
		if cc == nil || cc.Name == "" || seen[cc.Name] {
			continue
		}
		seen[cc.Name] = true

		col := &models.Column{
			TableID:         w.table.ID,
			ColumnName:      cc.Name,
			DataType:        cc.DataType,
			IsNullable:      cc.IsNullable,
			IsPrimaryKey:    cc.IsPrimaryKey,
			DefaultValue:    cc.Default,
			OrdinalPosition: i + 1,
		}
		prev, had := existing[cc.Name]
		if had {
			col.ID = prev.ID
			col.IsForeignKey = prev.IsForeignKey
			col.ReferencesTable = prev.ReferencesTable
			col.ReferencesColumn = prev.ReferencesColumn
		}

		if err := s.repo.UpsertColumn(ctx, col); err != nil {
			s.skip(result, skippedOperation(opSyncColumn, w.table.TableName, cc.Name, "", err), err)
			if had {
				columns = append(columns, prev)
			}
			continue
		}
		if had {
			result.ColumnsUpdated++
		} else {
			result.ColumnsAdded++
		}
		columns = append(columns, col)
	}

	for _, c := range w.table.Columns {
		if seen[c.ColumnName] {
			continue
		}
		if err := s.repo.DeleteColumn(ctx, c.ID); err != nil {
			s.skip(result, skippedOperation(opRemoveColumn, w.table.TableName, c.ColumnName, "", err), err)
			columns = append(columns, c)
			continue
		}
		result.ColumnsRemoved++
	}

	w.table.Columns = columns
}

// applyCatalogRelationships creates the relationships the catalog declares. A
// declaration matching a preserved explicit edge counts as restored.
func (s *SchemaSynchronizer) applyCatalogRelationships(ctx context.Context, database *models.Database, work []tableWork, preserver *RelationshipPreserver, result *models.SyncResult) error {
	declared := false
	for _, w := range work {
		if len(w.catalog.ExplicitRelationships) > 0 {
			declared = true
			break
		}
	}
	if !declared {
		return nil
	}

	live, err := s.repo.AllTables(ctx, database.ID)
	if err != nil {
		return fmt.Errorf("failed to load tables for declared relationships: %w", err)
	}
	byName := make(map[string]*models.Table, len(live))
	for _, t := range live {
		byName[t.TableName] = t
	}

	for _, w := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		source, ok := byName[w.table.TableName]
		if !ok {
			continue
		}
		for _, cr := range w.catalog.ExplicitRelationships {
			attrs, err := s.applyCatalogRelationship(ctx, source, cr, byName)
			switch {
			case err == nil:
				if prev, ok := preserver.Preserved(source.ID, cr.FromColumn, cr.ToTable, cr.ToColumn); ok && sameDeclaration(prev, attrs) {
					result.ExplicitRelationshipsRestored++
				} else {
					result.ExplicitRelationshipsAdded++
				}
			case errors.Is(err, apperrors.ErrDuplicateRelationship):
			default:
				s.skip(result, skippedOperation(opApplyExplicit, source.TableName, cr.FromColumn, cr.ToTable, err), err)
			}
		}
	}
	return nil
}

func (s *SchemaSynchronizer) applyCatalogRelationship(ctx context.Context, source *models.Table, cr models.CatalogRelationship, byName map[string]*models.Table) (models.EdgeAttributes, error) {
	var attrs models.EdgeAttributes
	relType, ok := models.ParseRelationshipType(cr.Type)
	if !ok {
		return attrs, fmt.Errorf("%w: %q", apperrors.ErrInvalidRelationshipType, cr.Type)
	}
	target, ok := byName[cr.ToTable]
	if !ok {
		return attrs, fmt.Errorf("%s: %w", cr.ToTable, apperrors.ErrTableNotFound)
	}
	fromCol := source.Column(cr.FromColumn)
	if fromCol == nil {
		return attrs, fmt.Errorf("%s.%s: %w", source.TableName, cr.FromColumn, apperrors.ErrColumnNotFound)
	}
	if target.Column(cr.ToColumn) == nil {
		return attrs, fmt.Errorf("%s.%s: %w", target.TableName, cr.ToColumn, apperrors.ErrColumnNotFound)
	}
	if err := validateJunction(relType, cr.Junction, byName); err != nil {
		return attrs, err
	}

	attrs = models.RelationshipEdgeAttributes(relType, cr.FromColumn, cr.ToColumn, models.OriginExplicit)
	if relType == models.RelationshipManyToMany {
		attrs.Junction = cr.Junction
	}
	return attrs, s.edges.link(ctx, source, fromCol, target, attrs)
}

// sameDeclaration reports whether a preserved edge is the catalog declaration attrs, unchanged.
func sameDeclaration(prev RelationshipSnapshot, attrs models.EdgeAttributes) bool {
	if prev.Origin != models.OriginExplicit || prev.Type != attrs.Type {
		return false
	}
	if prev.Junction == nil || attrs.Junction == nil {
		return prev.Junction == nil && attrs.Junction == nil
	}
	return *prev.Junction == *attrs.Junction
}

// clearStaleForeignKeys drops FK markers of columns that no longer start a relationship.
func (s *SchemaSynchronizer) clearStaleForeignKeys(ctx context.Context, database *models.Database, result *models.SyncResult) error {
	live, err := s.repo.AllTables(ctx, database.ID)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}
	for _, t := range live {
		for _, c := range t.Columns {
			if !c.IsForeignKey || t.OutgoingRelationship(c.ColumnName) != nil {
				continue
			}
			if err := s.edges.clearForeignKey(ctx, t, c); err != nil {
				s.skip(result, skippedOperation(opClearForeignKeys, t.TableName, c.ColumnName, "", err), err)
			}
		}
	}
	return nil
}

func (s *SchemaSynchronizer) skip(result *models.SyncResult, op models.SkippedOperation, err error) {
	s.logger.Warn("Skipping sync operation",
		zap.String("operation", op.Operation),
		zap.String("table", op.Table),
		zap.String("column", op.Column),
		zap.String("target", op.Target),
		zap.Error(err))
	result.Skipped = append(result.Skipped, op)
}

func applyCatalogTable(t *models.Table, ct *models.CatalogTable) {
	t.SchemaName = ct.Schema
	t.Description = ct.Description
	t.RowCount = ct.RowCount
}

func laterDeleted(a, b *models.Table) bool {
	if a.DeletedAt == nil || b.DeletedAt == nil {
		return a.DeletedAt != nil
	}
	return a.DeletedAt.After(*b.DeletedAt)
}

// requireJunction rejects a MANY_TO_MANY relationship without a junction table.
func requireJunction(relType models.RelationshipType, j *models.Junction) error {
	if relType == models.RelationshipManyToMany && (j == nil || j.Table == "") {
		return fmt.Errorf("%w: MANY_TO_MANY requires a junction table", apperrors.ErrInvalidRelationshipType)
	}
	return nil
}

// validateJunction checks the junction descriptor of a MANY_TO_MANY relationship
// against the live tables.
func validateJunction(relType models.RelationshipType, j *models.Junction, byName map[string]*models.Table) error {
	if err := requireJunction(relType, j); err != nil {
		return err
	}
	if relType != models.RelationshipManyToMany {
		return nil
	}
	jt, ok := byName[j.Table]
	if !ok {
		return fmt.Errorf("junction %s: %w", j.Table, apperrors.ErrTableNotFound)
	}
	for _, name := range []string{j.SourceColumn, j.TargetColumn} {
		if name != "" && jt.Column(name) == nil {
			return fmt.Errorf("junction %s.%s: %w", j.Table, name, apperrors.ErrColumnNotFound)
		}
	}
	return nil
}
