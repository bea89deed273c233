package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
)

// MySQL error numbers that mean the credentials or target database are wrong.
const (
	errAccessDenied    = 1045
	errDBAccessDenied  = 1044
	errUnknownDatabase = 1049
)

// SchemaDiscoverer provides MySQL schema discovery. In MySQL a schema is a
// database, so discovery is scoped to the configured database.
type SchemaDiscoverer struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewSchemaDiscoverer opens a connection for cfg and verifies it with a ping.
// If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, describeError(err, "connection test failed")
	}

	return &SchemaDiscoverer{
		config: cfg,
		db:     db,
		logger: logger,
	}, nil
}

// describeError adds a readable prefix for server errors that point at bad configuration.
func describeError(err error, msg string) error {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errAccessDenied, errDBAccessDenied:
			return fmt.Errorf("%s: access denied: %w", msg, err)
		case errUnknownDatabase:
			return fmt.Errorf("%s: unknown database: %w", msg, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// TestConnection verifies the database is reachable and that the session
// landed on the configured database.
func (s *SchemaDiscoverer) TestConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return describeError(err, "ping failed")
	}

	var currentDB sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	if !strings.EqualFold(currentDB.String, s.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", s.config.Database, currentDB.String)
	}

	return nil
}

// Close releases the connection.
func (s *SchemaDiscoverer) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SupportsForeignKeys returns true; InnoDB enforces and reports foreign keys.
func (s *SchemaDiscoverer) SupportsForeignKeys() bool {
	return true
}

// DiscoverTables returns the base tables of the configured database.
func (s *SchemaDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT table_schema, table_name, COALESCE(table_rows, 0)
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := s.db.QueryContext(ctx, query, s.config.Database)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	s.logger.Debug("Discovered tables", zap.Int("count", len(tables)))
	return tables, nil
}

// DiscoverColumns returns columns for a specific table.
func (s *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES'  AS is_nullable,
			c.column_key = 'PRI'   AS is_primary_key,
			c.column_key = 'UNI'   AS is_unique,
			c.ordinal_position,
			c.column_default
		FROM information_schema.columns c
		WHERE c.table_schema = ?
		  AND c.table_name   = ?
		ORDER BY c.ordinal_position`

	rows, err := s.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		var defaultValue sql.NullString
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.IsUnique, &c.OrdinalPosition, &defaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if defaultValue.Valid {
			c.DefaultValue = &defaultValue.String
		}
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

// DiscoverForeignKeys returns all single-column foreign keys of the configured database.
func (s *SchemaDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			kcu.constraint_name,
			kcu.table_schema,
			kcu.table_name,
			kcu.column_name,
			kcu.referenced_table_schema,
			kcu.referenced_table_name,
			kcu.referenced_column_name
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_name = kcu.constraint_name
			AND rc.constraint_schema = kcu.table_schema
		WHERE kcu.table_schema = ?
		  AND kcu.referenced_table_name IS NOT NULL
		  AND (SELECT COUNT(*) FROM information_schema.key_column_usage x
		       WHERE x.constraint_schema = kcu.constraint_schema
		         AND x.table_name = kcu.table_name
		         AND x.constraint_name = kcu.constraint_name) = 1
		ORDER BY kcu.table_name, kcu.constraint_name`

	rows, err := s.db.QueryContext(ctx, query, s.config.Database)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return fks, nil
}

// Ensure SchemaDiscoverer implements datasource.SchemaDiscoverer at compile time.
var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
