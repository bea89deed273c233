package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
)

// mainSchema is the name SQLite gives the primary attached database.
const mainSchema = "main"

// SchemaDiscoverer reads the catalog of a SQLite file through pragma table functions.
type SchemaDiscoverer struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewSchemaDiscoverer opens cfg.Path read-only. If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SchemaDiscoverer{config: cfg, db: db, logger: logger}, nil
}

// TestConnection verifies the file is a readable SQLite database.
func (s *SchemaDiscoverer) TestConnection(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&n); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SchemaDiscoverer) Close() error {
	return s.db.Close()
}

// SupportsForeignKeys returns true; SQLite reports declared foreign keys even when enforcement is off.
func (s *SchemaDiscoverer) SupportsForeignKeys() bool {
	return true
}

// DiscoverTables returns every user table with an exact row count.
func (s *SchemaDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]datasource.TableMetadata, 0, len(names))
	for _, name := range names {
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(name))
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", name, err)
		}
		tables = append(tables, datasource.TableMetadata{
			SchemaName: mainSchema,
			TableName:  name,
			RowCount:   count,
		})
	}

	s.logger.Debug("Discovered tables", zap.Int("count", len(tables)))
	return tables, nil
}

func (s *SchemaDiscoverer) tableNames(ctx context.Context) ([]string, error) {
	const query = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DiscoverColumns returns columns for a specific table. Only single-column
// primary keys set IsPrimaryKey.
func (s *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`

	rows, err := s.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	pkColumns := 0
	pkIndex := -1
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}

		col := datasource.ColumnMetadata{
			ColumnName:      name,
			DataType:        strings.ToLower(colType),
			IsNullable:      notNull == 0 && pk == 0,
			OrdinalPosition: cid + 1,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		if pk > 0 {
			pkColumns++
			pkIndex = len(columns)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if pkColumns == 1 {
		columns[pkIndex].IsPrimaryKey = true
	}

	unique, err := s.uniqueColumns(ctx, tableName)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		columns[i].IsUnique = !columns[i].IsPrimaryKey && unique[columns[i].ColumnName]
	}

	return columns, nil
}

// uniqueColumns returns the columns covered by a single-column unique index.
func (s *SchemaDiscoverer) uniqueColumns(ctx context.Context, tableName string) (map[string]bool, error) {
	const query = `
		SELECT ii.name
		FROM pragma_index_list(?) il
		JOIN pragma_index_info(il.name) ii
		WHERE il."unique" = 1
		  AND (SELECT COUNT(*) FROM pragma_index_info(il.name)) = 1
	`

	rows, err := s.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("query unique indexes: %w", err)
	}
	defer rows.Close()

	unique := make(map[string]bool)
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan unique index: %w", err)
		}
		if name.Valid {
			unique[name.String] = true
		}
	}
	return unique, rows.Err()
}

// DiscoverForeignKeys returns the single-column foreign keys of every table.
// A reference without a target column points at the target's primary key.
func (s *SchemaDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT fk.id, fk."table", fk."from", fk."to"
		FROM pragma_foreign_key_list(?) fk
		WHERE (SELECT COUNT(*) FROM pragma_foreign_key_list(?) x WHERE x.id = fk.id) = 1
		ORDER BY fk.id
	`

	var fks []datasource.ForeignKeyMetadata
	for _, table := range names {
		rows, err := s.db.QueryContext(ctx, query, table, table)
		if err != nil {
			return nil, fmt.Errorf("query foreign keys of %s: %w", table, err)
		}

		for rows.Next() {
			var id int
			var target, from string
			var to sql.NullString
			if err := rows.Scan(&id, &target, &from, &to); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan foreign key: %w", err)
			}
			fks = append(fks, datasource.ForeignKeyMetadata{
				ConstraintName: fmt.Sprintf("%s_fk_%d", table, id),
				SourceSchema:   mainSchema,
				SourceTable:    table,
				SourceColumn:   from,
				TargetSchema:   mainSchema,
				TargetTable:    target,
				TargetColumn:   to.String,
			})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate foreign keys of %s: %w", table, err)
		}
	}

	for i := range fks {
		if fks[i].TargetColumn != "" {
			continue
		}
		pk, err := s.primaryKeyColumn(ctx, fks[i].TargetTable)
		if err != nil {
			return nil, err
		}
		fks[i].TargetColumn = pk
	}

	return fks, nil
}

func (s *SchemaDiscoverer) primaryKeyColumn(ctx context.Context, table string) (string, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT name FROM pragma_table_info(?) WHERE pk = 1`, table).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("query primary key of %s: %w", table, err)
	}
	return name.String, nil
}

// quoteIdentifier double-quotes a SQLite identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Ensure SchemaDiscoverer implements datasource.SchemaDiscoverer at compile time.
var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
