package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// memorySchemaGraphRepository keeps the graph in process memory. Every read and
// write copies, so callers never share mutable state with the store.
type memorySchemaGraphRepository struct {
	mu sync.RWMutex

	databases     map[uuid.UUID]*models.Database
	tables        map[uuid.UUID]*models.Table
	columns       map[uuid.UUID]map[string]*models.Column // table ID -> column name
	columnTables  map[uuid.UUID]uuid.UUID                 // column ID -> table ID
	relationships map[uuid.UUID][]*models.Relationship    // from table ID
	relatedEdges  map[uuid.UUID][]*models.RelatedEdge     // from table ID

	now func() time.Time
}

// NewMemorySchemaGraphRepository creates an empty in-memory SchemaGraphRepository.
func NewMemorySchemaGraphRepository() SchemaGraphRepository {
	return &memorySchemaGraphRepository{
		databases:     make(map[uuid.UUID]*models.Database),
		tables:        make(map[uuid.UUID]*models.Table),
		columns:       make(map[uuid.UUID]map[string]*models.Column),
		columnTables:  make(map[uuid.UUID]uuid.UUID),
		relationships: make(map[uuid.UUID][]*models.Relationship),
		relatedEdges:  make(map[uuid.UUID][]*models.RelatedEdge),
		now:           time.Now,
	}
}

var _ SchemaGraphRepository = (*memorySchemaGraphRepository)(nil)

// ============================================================================
// Database Methods
// ============================================================================

func (r *memorySchemaGraphRepository) GetDatabase(ctx context.Context, databaseID uuid.UUID) (*models.Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	db, ok := r.databases[databaseID]
	if !ok {
		return nil, fmt.Errorf("database %s: %w", databaseID, apperrors.ErrNotFound)
	}
	c := *db
	return &c, nil
}

func (r *memorySchemaGraphRepository) UpsertDatabase(ctx context.Context, db *models.Database) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	if existing, ok := r.databases[db.ID]; ok {
		db.CreatedAt = existing.CreatedAt
		db.IsDeleted = existing.IsDeleted
		db.DeletedAt = existing.DeletedAt
	} else {
		db.CreatedAt = now
	}
	db.UpdatedAt = now

	c := *db
	r.databases[db.ID] = &c
	return nil
}

func (r *memorySchemaGraphRepository) SoftDeleteDatabase(ctx context.Context, databaseID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.databases[databaseID]
	if !ok {
		return fmt.Errorf("database %s: %w", databaseID, apperrors.ErrNotFound)
	}
	now := r.now()
	db.IsDeleted = true
	db.DeletedAt = &now
	db.UpdatedAt = now
	return nil
}

// ============================================================================
// Table Methods
// ============================================================================

func (r *memorySchemaGraphRepository) AllTables(ctx context.Context, databaseID uuid.UUID) ([]*models.Table, error) {
	return r.ListTables(ctx, databaseID, false)
}

func (r *memorySchemaGraphRepository) ListTables(ctx context.Context, databaseID uuid.UUID, includeDeleted bool) ([]*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]*models.Table, 0)
	for _, t := range r.tables {
		if t.DatabaseID != databaseID {
			continue
		}
		if t.IsDeleted && !includeDeleted {
			continue
		}
		tables = append(tables, r.hydrate(t))
	}

	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].TableName != tables[j].TableName {
			return tables[i].TableName < tables[j].TableName
		}
		if tables[i].IsDeleted != tables[j].IsDeleted {
			return !tables[i].IsDeleted
		}
		return tables[i].CreatedAt.Before(tables[j].CreatedAt)
	})
	return tables, nil
}

func (r *memorySchemaGraphRepository) GetTableByName(ctx context.Context, databaseID uuid.UUID, tableName string) (*models.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t := r.activeTableByName(databaseID, tableName); t != nil {
		return r.hydrate(t), nil
	}
	return nil, fmt.Errorf("table %q: %w", tableName, apperrors.ErrTableNotFound)
}

func (r *memorySchemaGraphRepository) CreateTable(ctx context.Context, table *models.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeTableByName(table.DatabaseID, table.TableName) != nil {
		return fmt.Errorf("table %q already exists: %w", table.TableName, apperrors.ErrConflict)
	}

	now := r.now()
	if table.ID == uuid.Nil {
		table.ID = uuid.New()
	}
	table.CreatedAt = now
	table.UpdatedAt = now
	table.IsDeleted = false
	table.DeletedAt = nil

	r.tables[table.ID] = cloneTableRow(table)
	r.columns[table.ID] = make(map[string]*models.Column)
	return nil
}

func (r *memorySchemaGraphRepository) UpdateTable(ctx context.Context, table *models.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tables[table.ID]
	if !ok {
		return fmt.Errorf("table %s: %w", table.ID, apperrors.ErrTableNotFound)
	}
	existing.SchemaName = table.SchemaName
	existing.Description = copyString(table.Description)
	existing.RowCount = copyInt64(table.RowCount)
	existing.UpdatedAt = r.now()
	table.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *memorySchemaGraphRepository) SoftDeleteTable(ctx context.Context, tableID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[tableID]
	if !ok {
		return fmt.Errorf("table %s: %w", tableID, apperrors.ErrTableNotFound)
	}
	if t.IsDeleted {
		return nil
	}

	now := r.now()
	t.IsDeleted = true
	t.DeletedAt = &now
	t.UpdatedAt = now

	// Edges never point at or out of a deleted table.
	delete(r.relationships, tableID)
	delete(r.relatedEdges, tableID)
	for from, rels := range r.relationships {
		r.relationships[from] = removeRelationshipsTo(rels, tableID)
	}
	for from, edges := range r.relatedEdges {
		r.relatedEdges[from] = removeRelatedEdgesTo(edges, tableID)
	}
	return nil
}

func (r *memorySchemaGraphRepository) RestoreTable(ctx context.Context, tableID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[tableID]
	if !ok {
		return fmt.Errorf("table %s: %w", tableID, apperrors.ErrTableNotFound)
	}
	if !t.IsDeleted {
		return nil
	}
	if r.activeTableByName(t.DatabaseID, t.TableName) != nil {
		return fmt.Errorf("cannot restore %q, an active table has the same name: %w", t.TableName, apperrors.ErrConflict)
	}

	t.IsDeleted = false
	t.DeletedAt = nil
	t.UpdatedAt = r.now()
	return nil
}

// ============================================================================
// Column Methods
// ============================================================================

func (r *memorySchemaGraphRepository) UpsertColumn(ctx context.Context, column *models.Column) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.columns[column.TableID]
	if !ok {
		return fmt.Errorf("table %s: %w", column.TableID, apperrors.ErrTableNotFound)
	}

	now := r.now()
	if existing, ok := byName[column.ColumnName]; ok {
		column.ID = existing.ID
		column.CreatedAt = existing.CreatedAt
	} else {
		if column.ID == uuid.Nil {
			column.ID = uuid.New()
		}
		column.CreatedAt = now
	}
	column.UpdatedAt = now

	byName[column.ColumnName] = cloneColumn(column)
	r.columnTables[column.ID] = column.TableID
	return nil
}

func (r *memorySchemaGraphRepository) UpdateColumnForeignKey(ctx context.Context, column *models.Column) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.columnByID(column.ID)
	if existing == nil {
		return fmt.Errorf("column %q: %w", column.ColumnName, apperrors.ErrColumnNotFound)
	}
	existing.IsForeignKey = column.IsForeignKey
	existing.ReferencesTable = copyString(column.ReferencesTable)
	existing.ReferencesColumn = copyString(column.ReferencesColumn)
	existing.UpdatedAt = r.now()
	return nil
}

func (r *memorySchemaGraphRepository) DeleteColumn(ctx context.Context, columnID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.columnByID(columnID)
	if existing == nil {
		return fmt.Errorf("column %s: %w", columnID, apperrors.ErrColumnNotFound)
	}
	delete(r.columns[existing.TableID], existing.ColumnName)
	delete(r.columnTables, columnID)
	return nil
}

// ============================================================================
// Edge Methods
// ============================================================================

func (r *memorySchemaGraphRepository) Connect(ctx context.Context, from, to *models.Table, attrs models.EdgeAttributes) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, ok := r.tables[from.ID]
	if !ok || source.IsDeleted {
		return fmt.Errorf("source table %q: %w", from.TableName, apperrors.ErrTableNotFound)
	}
	target, ok := r.tables[to.ID]
	if !ok || target.IsDeleted {
		return fmt.Errorf("target table %q: %w", to.TableName, apperrors.ErrTableNotFound)
	}

	switch attrs.Kind {
	case models.EdgeKindRelatedTo:
		for _, e := range r.relatedEdges[source.ID] {
			if e.ToTableID == target.ID && e.Via == attrs.Via {
				return nil
			}
		}
		r.relatedEdges[source.ID] = append(r.relatedEdges[source.ID], &models.RelatedEdge{
			FromTableID: source.ID,
			ToTableID:   target.ID,
			ToTable:     target.TableName,
			Via:         attrs.Via,
		})
		return nil

	case models.EdgeKindRelationship:
		if !attrs.Type.IsValid() {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidRelationshipType, attrs.Type)
		}
		for _, rel := range r.relationships[source.ID] {
			if rel.ToTable == target.TableName && rel.FromColumn == attrs.FromColumn && rel.ToColumn == attrs.ToColumn {
				return fmt.Errorf("%s.%s -> %s.%s: %w",
					source.TableName, attrs.FromColumn, target.TableName, attrs.ToColumn, apperrors.ErrDuplicateRelationship)
			}
		}
		r.relationships[source.ID] = append(r.relationships[source.ID], &models.Relationship{
			ID:              uuid.New(),
			Type:            attrs.Type,
			FromTableID:     source.ID,
			FromTable:       source.TableName,
			FromColumn:      attrs.FromColumn,
			ToTableID:       target.ID,
			ToTable:         target.TableName,
			ToColumn:        attrs.ToColumn,
			Junction:        copyJunction(attrs.Junction),
			Origin:          attrs.Origin,
			InferenceMethod: copyString(attrs.InferenceMethod),
			Confidence:      attrs.Confidence,
			CreatedAt:       r.now(),
		})
		return nil

	default:
		return fmt.Errorf("unknown edge kind %q", attrs.Kind)
	}
}

func (r *memorySchemaGraphRepository) Disconnect(ctx context.Context, from, to *models.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rels, ok := r.relationships[from.ID]; ok {
		r.relationships[from.ID] = removeRelationshipsTo(rels, to.ID)
	}
	if edges, ok := r.relatedEdges[from.ID]; ok {
		r.relatedEdges[from.ID] = removeRelatedEdgesTo(edges, to.ID)
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func (r *memorySchemaGraphRepository) activeTableByName(databaseID uuid.UUID, name string) *models.Table {
	for _, t := range r.tables {
		if t.DatabaseID == databaseID && !t.IsDeleted && t.TableName == name {
			return t
		}
	}
	return nil
}

func (r *memorySchemaGraphRepository) columnByID(columnID uuid.UUID) *models.Column {
	tableID, ok := r.columnTables[columnID]
	if !ok {
		return nil
	}
	for _, c := range r.columns[tableID] {
		if c.ID == columnID {
			return c
		}
	}
	return nil
}

// hydrate returns a deep copy of t with columns and outgoing edges attached.
func (r *memorySchemaGraphRepository) hydrate(t *models.Table) *models.Table {
	out := cloneTableRow(t)

	out.Columns = make([]*models.Column, 0, len(r.columns[t.ID]))
	for _, c := range r.columns[t.ID] {
		out.Columns = append(out.Columns, cloneColumn(c))
	}
	sortColumns(out.Columns)

	for _, rel := range r.relationships[t.ID] {
		c := *rel
		c.Junction = copyJunction(rel.Junction)
		c.InferenceMethod = copyString(rel.InferenceMethod)
		out.Relationships = append(out.Relationships, &c)
	}
	for _, e := range r.relatedEdges[t.ID] {
		c := *e
		out.RelatedTo = append(out.RelatedTo, &c)
	}
	return out
}

func removeRelationshipsTo(rels []*models.Relationship, toTableID uuid.UUID) []*models.Relationship {
	kept := rels[:0]
	for _, rel := range rels {
		if rel.ToTableID != toTableID {
			kept = append(kept, rel)
		}
	}
	return kept
}

func removeRelatedEdgesTo(edges []*models.RelatedEdge, toTableID uuid.UUID) []*models.RelatedEdge {
	kept := edges[:0]
	for _, e := range edges {
		if e.ToTableID != toTableID {
			kept = append(kept, e)
		}
	}
	return kept
}

func sortColumns(columns []*models.Column) {
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i].OrdinalPosition != columns[j].OrdinalPosition {
			return columns[i].OrdinalPosition < columns[j].OrdinalPosition
		}
		return columns[i].ColumnName < columns[j].ColumnName
	})
}

func cloneTableRow(t *models.Table) *models.Table {
	c := *t
	c.Description = copyString(t.Description)
	c.RowCount = copyInt64(t.RowCount)
	c.Columns = nil
	c.Relationships = nil
	c.RelatedTo = nil
	return &c
}

func cloneColumn(c *models.Column) *models.Column {
	out := *c
	out.ReferencesTable = copyString(c.ReferencesTable)
	out.ReferencesColumn = copyString(c.ReferencesColumn)
	out.DefaultValue = copyString(c.DefaultValue)
	return &out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt64(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyJunction(j *models.Junction) *models.Junction {
	if j == nil {
		return nil
	}
	v := *j
	return &v
}
