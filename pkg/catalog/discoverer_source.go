package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// discoveryConcurrency matches the connection limit adapters open.
const discoveryConcurrency = 2

// DiscovererSource snapshots a live database through a SchemaDiscoverer.
// Every Snapshot opens a fresh discoverer and closes it before returning.
type DiscovererSource struct {
	open   func(ctx context.Context) (datasource.SchemaDiscoverer, error)
	logger *zap.Logger
	now    func() time.Time
}

// NewDiscovererSource creates a DiscovererSource that connects through open.
func NewDiscovererSource(open func(ctx context.Context) (datasource.SchemaDiscoverer, error), logger *zap.Logger) *DiscovererSource {
	return &DiscovererSource{open: open, logger: logger, now: time.Now}
}

var _ Source = (*DiscovererSource)(nil)

func (s *DiscovererSource) Close() error { return nil }

// Snapshot discovers tables, columns and foreign keys. Foreign keys become
// explicit ONE_TO_MANY relationships and recognised junction tables add an
// explicit MANY_TO_MANY between the two tables they link.
func (s *DiscovererSource) Snapshot(ctx context.Context) (*models.CatalogSnapshot, error) {
	discoverer, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %s", logging.SanitizeError(err))
	}
	defer func() {
		if err := discoverer.Close(); err != nil {
			s.logger.Warn("Failed to close schema discoverer", zap.Error(err))
		}
	}()

	if err := discoverer.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("connection test failed: %s", logging.SanitizeError(err))
	}

	tables, err := discoverer.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tables: %w", err)
	}

	columns := make([][]datasource.ColumnMetadata, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for i, t := range tables {
		g.Go(func() error {
			cols, err := discoverer.DiscoverColumns(gctx, t.SchemaName, t.TableName)
			if err != nil {
				return fmt.Errorf("failed to discover columns of %s.%s: %w", t.SchemaName, t.TableName, err)
			}
			columns[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fks []datasource.ForeignKeyMetadata
	if discoverer.SupportsForeignKeys() {
		fks, err = discoverer.DiscoverForeignKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to discover foreign keys: %w", err)
		}
	}

	snapshot := buildSnapshot(tables, columns, fks)
	snapshot.CapturedAt = s.now()

	s.logger.Info("Discovered catalog",
		zap.Int("tables", len(snapshot.Tables)),
		zap.Int("foreign_keys", len(fks)))
	return snapshot, nil
}

// tableNamer keys tables by bare name, qualifying with the schema only when
// the same name exists in more than one schema.
type tableNamer map[string]int

func newTableNamer(tables []datasource.TableMetadata) tableNamer {
	n := make(tableNamer, len(tables))
	for _, t := range tables {
		n[t.TableName]++
	}
	return n
}

func (n tableNamer) name(schema, table string) string {
	if n[table] > 1 && schema != "" {
		return schema + "." + table
	}
	return table
}

func buildSnapshot(tables []datasource.TableMetadata, columns [][]datasource.ColumnMetadata, fks []datasource.ForeignKeyMetadata) *models.CatalogSnapshot {
	namer := newTableNamer(tables)
	snapshot := &models.CatalogSnapshot{Tables: make(map[string]*models.CatalogTable, len(tables))}

	for i, t := range tables {
		rowCount := t.RowCount
		ct := &models.CatalogTable{
			Schema:   t.SchemaName,
			RowCount: &rowCount,
			Columns:  make([]*models.CatalogColumn, 0, len(columns[i])),
		}
		for _, c := range columns[i] {
			ct.Columns = append(ct.Columns, &models.CatalogColumn{
				Name:         c.ColumnName,
				DataType:     c.DataType,
				IsNullable:   c.IsNullable,
				IsPrimaryKey: c.IsPrimaryKey,
				Default:      c.DefaultValue,
			})
		}
		snapshot.Tables[namer.name(t.SchemaName, t.TableName)] = ct
	}

	bySource := make(map[string][]datasource.ForeignKeyMetadata)
	for _, fk := range fks {
		source := namer.name(fk.SourceSchema, fk.SourceTable)
		ct, ok := snapshot.Tables[source]
		if !ok {
			continue
		}
		ct.ExplicitRelationships = append(ct.ExplicitRelationships, models.CatalogRelationship{
			FromColumn: fk.SourceColumn,
			ToTable:    namer.name(fk.TargetSchema, fk.TargetTable),
			ToColumn:   fk.TargetColumn,
			Type:       string(models.RelationshipOneToMany),
		})
		bySource[source] = append(bySource[source], fk)
	}

	for _, name := range snapshot.TableNames() {
		ct := snapshot.Tables[name]
		first, second, ok := junctionKeys(ct, bySource[name])
		if !ok {
			continue
		}
		owner, ok := snapshot.Tables[namer.name(first.TargetSchema, first.TargetTable)]
		if !ok {
			continue
		}
		owner.ExplicitRelationships = append(owner.ExplicitRelationships, models.CatalogRelationship{
			FromColumn: first.TargetColumn,
			ToTable:    namer.name(second.TargetSchema, second.TargetTable),
			ToColumn:   second.TargetColumn,
			Type:       string(models.RelationshipManyToMany),
			Junction: &models.Junction{
				Table:        name,
				SourceColumn: first.SourceColumn,
				TargetColumn: second.SourceColumn,
			},
		})
	}

	return snapshot
}

// junctionKeys recognises a junction table: exactly two single-column foreign
// keys and nothing else but a surrogate key or timestamps. Both keys may point
// at the same table (a self many-to-many such as followers) as long as they are
// separate constraints. The keys come back in column order.
func junctionKeys(ct *models.CatalogTable, fks []datasource.ForeignKeyMetadata) (first, second datasource.ForeignKeyMetadata, ok bool) {
	if len(fks) != 2 || fks[0].SourceColumn == fks[1].SourceColumn || sameConstraint(fks[0], fks[1]) {
		return first, second, false
	}

	position := make(map[string]int, len(ct.Columns))
	for i, c := range ct.Columns {
		position[c.Name] = i
	}
	first, second = fks[0], fks[1]
	if position[second.SourceColumn] < position[first.SourceColumn] {
		first, second = second, first
	}

	for _, c := range ct.Columns {
		if c.Name == first.SourceColumn || c.Name == second.SourceColumn {
			continue
		}
		if !isJunctionFiller(c) {
			return first, second, false
		}
	}
	return first, second, true
}

// sameConstraint reports whether a and b are two columns of one composite
// foreign key. Without constraint names, keys to the same table are assumed to be one.
func sameConstraint(a, b datasource.ForeignKeyMetadata) bool {
	if a.ConstraintName != "" || b.ConstraintName != "" {
		return a.ConstraintName == b.ConstraintName
	}
	return a.TargetSchema == b.TargetSchema && a.TargetTable == b.TargetTable
}

var auditColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

func isJunctionFiller(c *models.CatalogColumn) bool {
	if c.IsPrimaryKey || strings.EqualFold(c.Name, "id") || auditColumns[strings.ToLower(c.Name)] {
		return true
	}
	dataType := strings.ToLower(c.DataType)
	return strings.Contains(dataType, "timestamp") || strings.Contains(dataType, "date")
}
