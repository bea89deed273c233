package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

type testColumn struct {
	name string
	pk   bool
}

func pk(name string) testColumn  { return testColumn{name: name, pk: true} }
func col(name string) testColumn { return testColumn{name: name} }

func newTestGraph(t *testing.T) (repositories.SchemaGraphRepository, *models.Database) {
	t.Helper()
	repo := repositories.NewMemorySchemaGraphRepository()
	db := &models.Database{ID: uuid.New(), Name: "shop", SourceType: models.SourceTypeRelational}
	require.NoError(t, repo.UpsertDatabase(context.Background(), db))
	return repo, db
}

func addTable(t *testing.T, repo repositories.SchemaGraphRepository, databaseID uuid.UUID, name string, columns ...testColumn) *models.Table {
	t.Helper()
	ctx := context.Background()

	table := &models.Table{DatabaseID: databaseID, SchemaName: "public", TableName: name}
	require.NoError(t, repo.CreateTable(ctx, table))
	for i, c := range columns {
		column := &models.Column{
			TableID:         table.ID,
			ColumnName:      c.name,
			DataType:        "bigint",
			IsNullable:      !c.pk,
			IsPrimaryKey:    c.pk,
			OrdinalPosition: i + 1,
		}
		require.NoError(t, repo.UpsertColumn(ctx, column))
		table.Columns = append(table.Columns, column)
	}
	return table
}

func reload(t *testing.T, repo repositories.SchemaGraphRepository, databaseID uuid.UUID, name string) *models.Table {
	t.Helper()
	table, err := repo.GetTableByName(context.Background(), databaseID, name)
	require.NoError(t, err)
	return table
}

func catalogTable(columns ...testColumn) *models.CatalogTable {
	ct := &models.CatalogTable{Schema: "public"}
	for _, c := range columns {
		ct.Columns = append(ct.Columns, &models.CatalogColumn{
			Name:         c.name,
			DataType:     "bigint",
			IsNullable:   !c.pk,
			IsPrimaryKey: c.pk,
		})
	}
	return ct
}

func declare(ct *models.CatalogTable, rels ...models.CatalogRelationship) *models.CatalogTable {
	ct.ExplicitRelationships = append(ct.ExplicitRelationships, rels...)
	return ct
}

// shopSnapshot: orders.customer_id is declared; order_items and employees
// only follow naming conventions.
func shopSnapshot() *models.CatalogSnapshot {
	return &models.CatalogSnapshot{Tables: map[string]*models.CatalogTable{
		"customers": catalogTable(pk("id"), col("name")),
		"orders": declare(catalogTable(pk("id"), col("customer_id"), col("total")),
			models.CatalogRelationship{FromColumn: "customer_id", ToTable: "customers", ToColumn: "id", Type: "ONE_TO_MANY"}),
		"order_items": catalogTable(pk("id"), col("order_id"), col("product_id")),
		"products":    catalogTable(pk("id"), col("sku")),
		"employees":   catalogTable(pk("id"), col("manager_id")),
	}}
}

func without(s *models.CatalogSnapshot, names ...string) *models.CatalogSnapshot {
	out := &models.CatalogSnapshot{Tables: make(map[string]*models.CatalogTable, len(s.Tables))}
	for k, v := range s.Tables {
		out.Tables[k] = v
	}
	for _, n := range names {
		delete(out.Tables, n)
	}
	return out
}

// relationshipIndex flattens every outgoing relationship by key.
func relationshipIndex(t *testing.T, repo repositories.SchemaGraphRepository, databaseID uuid.UUID) map[models.RelationshipKey]*models.Relationship {
	t.Helper()
	tables, err := repo.AllTables(context.Background(), databaseID)
	require.NoError(t, err)
	out := make(map[models.RelationshipKey]*models.Relationship)
	for _, tbl := range tables {
		for _, rel := range tbl.Relationships {
			out[rel.Key()] = rel
		}
	}
	return out
}

func relKey(fromTable, fromColumn, toTable, toColumn string) models.RelationshipKey {
	return models.RelationshipKey{FromTable: fromTable, FromColumn: fromColumn, ToTable: toTable, ToColumn: toColumn}
}

func newTestSynchronizer(repo repositories.SchemaGraphRepository) *SchemaSynchronizer {
	return NewSchemaSynchronizer(repo, zap.NewNop())
}
