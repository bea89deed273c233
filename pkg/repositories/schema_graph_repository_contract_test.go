package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// runSchemaGraphRepositoryContract exercises behaviour every SchemaGraphRepository must share.
func runSchemaGraphRepositoryContract(t *testing.T, newRepo func(t *testing.T) SchemaGraphRepository) {
	t.Run("tables and columns round trip", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)

		orders := createTestTable(t, repo, db.ID, "orders", "id", "customer_id", "total")
		require.NotEqual(t, uuid.Nil, orders.ID)

		tables, err := repo.AllTables(ctx, db.ID)
		require.NoError(t, err)
		require.Len(t, tables, 1)
		require.Len(t, tables[0].Columns, 3)
		assert.Equal(t, "id", tables[0].Columns[0].ColumnName)
		assert.Equal(t, "total", tables[0].Columns[2].ColumnName)

		got, err := repo.GetTableByName(ctx, db.ID, "orders")
		require.NoError(t, err)
		assert.Equal(t, orders.ID, got.ID)

		_, err = repo.GetTableByName(ctx, db.ID, "missing")
		assert.ErrorIs(t, err, apperrors.ErrTableNotFound)
	})

	t.Run("duplicate active table name conflicts", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		createTestTable(t, repo, db.ID, "orders", "id")

		err := repo.CreateTable(ctx, &models.Table{DatabaseID: db.ID, TableName: "orders"})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("upsert column keeps identity", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		orders := createTestTable(t, repo, db.ID, "orders", "id")

		first := orders.Columns[0]
		updated := &models.Column{TableID: orders.ID, ColumnName: "id", DataType: "bigint", OrdinalPosition: 1}
		require.NoError(t, repo.UpsertColumn(ctx, updated))
		assert.Equal(t, first.ID, updated.ID)

		got, err := repo.GetTableByName(ctx, db.ID, "orders")
		require.NoError(t, err)
		require.Len(t, got.Columns, 1)
		assert.Equal(t, "bigint", got.Columns[0].DataType)

		require.NoError(t, repo.DeleteColumn(ctx, first.ID))
		assert.ErrorIs(t, repo.DeleteColumn(ctx, first.ID), apperrors.ErrColumnNotFound)
	})

	t.Run("connect rejects duplicates and disconnect removes both edge kinds", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		customers := createTestTable(t, repo, db.ID, "customers", "id")
		orders := createTestTable(t, repo, db.ID, "orders", "id", "customer_id")

		attrs := models.RelationshipEdgeAttributes(models.RelationshipOneToMany, "customer_id", "id", models.OriginExplicit)
		require.NoError(t, repo.Connect(ctx, orders, customers, attrs))
		require.NoError(t, repo.Connect(ctx, orders, customers, models.RelatedToEdgeAttributes("customer_id")))
		require.NoError(t, repo.Connect(ctx, orders, customers, models.RelatedToEdgeAttributes("customer_id")))

		err := repo.Connect(ctx, orders, customers, attrs)
		assert.ErrorIs(t, err, apperrors.ErrDuplicateRelationship)

		bad := attrs
		bad.FromColumn = "other"
		bad.Type = "SIDEWAYS"
		assert.ErrorIs(t, repo.Connect(ctx, orders, customers, bad), apperrors.ErrInvalidRelationshipType)

		got, err := repo.GetTableByName(ctx, db.ID, "orders")
		require.NoError(t, err)
		require.Len(t, got.Relationships, 1)
		require.Len(t, got.RelatedTo, 1)
		rel := got.Relationships[0]
		assert.Equal(t, "orders", rel.FromTable)
		assert.Equal(t, "customers", rel.ToTable)
		assert.Equal(t, customers.ID, rel.ToTableID)
		assert.Equal(t, models.OriginExplicit, rel.Origin)
		assert.Equal(t, "customer_id", got.RelatedTo[0].Via)

		require.NoError(t, repo.Disconnect(ctx, orders, customers))
		got, err = repo.GetTableByName(ctx, db.ID, "orders")
		require.NoError(t, err)
		assert.Empty(t, got.Relationships)
		assert.Empty(t, got.RelatedTo)
	})

	t.Run("junction survives the store", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		students := createTestTable(t, repo, db.ID, "students", "id")
		courses := createTestTable(t, repo, db.ID, "courses", "id")
		createTestTable(t, repo, db.ID, "enrollments", "student_id", "course_id")

		attrs := models.RelationshipEdgeAttributes(models.RelationshipManyToMany, "id", "id", models.OriginExplicit)
		attrs.Junction = &models.Junction{Table: "enrollments", SourceColumn: "student_id", TargetColumn: "course_id"}
		require.NoError(t, repo.Connect(ctx, students, courses, attrs))

		got, err := repo.GetTableByName(ctx, db.ID, "students")
		require.NoError(t, err)
		require.Len(t, got.Relationships, 1)
		require.NotNil(t, got.Relationships[0].Junction)
		assert.Equal(t, *attrs.Junction, *got.Relationships[0].Junction)
	})

	t.Run("soft delete hides table and drops its edges", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		customers := createTestTable(t, repo, db.ID, "customers", "id")
		orders := createTestTable(t, repo, db.ID, "orders", "id", "customer_id")

		attrs := models.RelationshipEdgeAttributes(models.RelationshipOneToMany, "customer_id", "id", models.OriginInferred)
		require.NoError(t, repo.Connect(ctx, orders, customers, attrs))

		require.NoError(t, repo.SoftDeleteTable(ctx, customers.ID))

		active, err := repo.AllTables(ctx, db.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "orders", active[0].TableName)
		assert.Empty(t, active[0].Relationships)

		all, err := repo.ListTables(ctx, db.ID, true)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[0].IsDeleted)
		assert.Equal(t, "customers", all[0].TableName)
		assert.NotNil(t, all[0].DeletedAt)

		err = repo.Connect(ctx, orders, customers, attrs)
		assert.ErrorIs(t, err, apperrors.ErrTableNotFound)
	})

	t.Run("restore conflicts with active table of the same name", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		old := createTestTable(t, repo, db.ID, "customers", "id")
		require.NoError(t, repo.SoftDeleteTable(ctx, old.ID))

		replacement := createTestTable(t, repo, db.ID, "customers", "id")
		assert.ErrorIs(t, repo.RestoreTable(ctx, old.ID), apperrors.ErrConflict)

		require.NoError(t, repo.SoftDeleteTable(ctx, replacement.ID))
		require.NoError(t, repo.RestoreTable(ctx, old.ID))

		got, err := repo.GetTableByName(ctx, db.ID, "customers")
		require.NoError(t, err)
		assert.Equal(t, old.ID, got.ID)
		assert.False(t, got.IsDeleted)
	})

	t.Run("foreign key markers", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)
		orders := createTestTable(t, repo, db.ID, "orders", "id", "customer_id")

		col := orders.Columns[1]
		col.SetForeignKey("customers", "id")
		require.NoError(t, repo.UpdateColumnForeignKey(ctx, col))

		got, err := repo.GetTableByName(ctx, db.ID, "orders")
		require.NoError(t, err)
		fk := got.Column("customer_id")
		require.NotNil(t, fk)
		assert.True(t, fk.IsForeignKey)
		require.NotNil(t, fk.ReferencesTable)
		assert.Equal(t, "customers", *fk.ReferencesTable)

		missing := &models.Column{ID: uuid.New(), ColumnName: "ghost"}
		assert.ErrorIs(t, repo.UpdateColumnForeignKey(ctx, missing), apperrors.ErrColumnNotFound)
	})

	t.Run("database lifecycle", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		db := createTestDatabase(t, repo)

		got, err := repo.GetDatabase(ctx, db.ID)
		require.NoError(t, err)
		assert.Equal(t, db.Name, got.Name)
		assert.False(t, got.IsDeleted)

		require.NoError(t, repo.SoftDeleteDatabase(ctx, db.ID))
		got, err = repo.GetDatabase(ctx, db.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)

		_, err = repo.GetDatabase(ctx, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func createTestDatabase(t *testing.T, repo SchemaGraphRepository) *models.Database {
	t.Helper()
	db := &models.Database{ID: uuid.New(), Name: "shop", SourceType: models.SourceTypeRelational}
	require.NoError(t, repo.UpsertDatabase(context.Background(), db))
	return db
}

func createTestTable(t *testing.T, repo SchemaGraphRepository, databaseID uuid.UUID, name string, columns ...string) *models.Table {
	t.Helper()
	ctx := context.Background()

	table := &models.Table{DatabaseID: databaseID, SchemaName: "public", TableName: name}
	require.NoError(t, repo.CreateTable(ctx, table))

	for i, colName := range columns {
		col := &models.Column{
			TableID:         table.ID,
			ColumnName:      colName,
			DataType:        "integer",
			IsNullable:      colName != "id",
			OrdinalPosition: i + 1,
		}
		require.NoError(t, repo.UpsertColumn(ctx, col))
		table.Columns = append(table.Columns, col)
	}
	return table
}
