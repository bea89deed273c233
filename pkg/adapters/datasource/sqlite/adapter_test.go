package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func createFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL UNIQUE
		);
		CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER NOT NULL REFERENCES customers,
			status TEXT DEFAULT 'new'
		);
		CREATE TABLE order_tags (
			order_id INTEGER NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (order_id, tag),
			FOREIGN KEY (order_id) REFERENCES orders(id)
		);
		INSERT INTO customers (id, email) VALUES (1, 'a@example.com'), (2, 'b@example.com');
	`)
	require.NoError(t, err)
	return path
}

func newTestDiscoverer(t *testing.T) *SchemaDiscoverer {
	t.Helper()
	d, err := NewSchemaDiscoverer(context.Background(), &Config{Path: createFixture(t)}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{"path": "/data/app.db"})
	require.NoError(t, err)
	assert.Equal(t, "/data/app.db", cfg.Path)
	assert.Contains(t, cfg.DSN(), "mode=ro")

	_, err = FromMap(map[string]any{})
	assert.EqualError(t, err, "path is required")
}

func TestSchemaDiscoverer_DiscoverTables(t *testing.T) {
	d := newTestDiscoverer(t)
	require.NoError(t, d.TestConnection(context.Background()))

	tables, err := d.DiscoverTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 3)

	assert.Equal(t, "customers", tables[0].TableName)
	assert.Equal(t, int64(2), tables[0].RowCount)
	assert.Equal(t, "order_tags", tables[1].TableName)
	assert.Equal(t, "orders", tables[2].TableName)
	assert.Equal(t, mainSchema, tables[2].SchemaName)
}

func TestSchemaDiscoverer_DiscoverColumns(t *testing.T) {
	d := newTestDiscoverer(t)

	columns, err := d.DiscoverColumns(context.Background(), mainSchema, "customers")
	require.NoError(t, err)
	require.Len(t, columns, 2)

	assert.Equal(t, "id", columns[0].ColumnName)
	assert.True(t, columns[0].IsPrimaryKey)
	assert.False(t, columns[0].IsNullable)
	assert.Equal(t, 1, columns[0].OrdinalPosition)
	assert.Equal(t, "integer", columns[0].DataType)

	assert.Equal(t, "email", columns[1].ColumnName)
	assert.True(t, columns[1].IsUnique)
	assert.False(t, columns[1].IsPrimaryKey)

	orders, err := d.DiscoverColumns(context.Background(), mainSchema, "orders")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	require.NotNil(t, orders[2].DefaultValue)
	assert.Equal(t, "'new'", *orders[2].DefaultValue)
	assert.True(t, orders[2].IsNullable)
}

func TestSchemaDiscoverer_CompositePrimaryKeyNotFlagged(t *testing.T) {
	d := newTestDiscoverer(t)

	columns, err := d.DiscoverColumns(context.Background(), mainSchema, "order_tags")
	require.NoError(t, err)
	for _, c := range columns {
		assert.False(t, c.IsPrimaryKey, c.ColumnName)
	}
}

func TestSchemaDiscoverer_DiscoverForeignKeys(t *testing.T) {
	d := newTestDiscoverer(t)

	fks, err := d.DiscoverForeignKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, fks, 2)

	byTable := map[string]int{}
	for i, fk := range fks {
		byTable[fk.SourceTable] = i
	}

	implicit := fks[byTable["orders"]]
	assert.Equal(t, "customer_id", implicit.SourceColumn)
	assert.Equal(t, "customers", implicit.TargetTable)
	assert.Equal(t, "id", implicit.TargetColumn, "implicit reference resolves to the target primary key")

	explicit := fks[byTable["order_tags"]]
	assert.Equal(t, "order_id", explicit.SourceColumn)
	assert.Equal(t, "orders", explicit.TargetTable)
	assert.Equal(t, "id", explicit.TargetColumn)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"order ""items"""`, quoteIdentifier(`order "items"`))
}
