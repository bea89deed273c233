package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/database"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type postgresSchemaGraphRepository struct {
	db *database.DB
}

// NewPostgresSchemaGraphRepository creates a SchemaGraphRepository backed by PostgreSQL.
// The schema is created by database.RunMigrations.
func NewPostgresSchemaGraphRepository(db *database.DB) SchemaGraphRepository {
	return &postgresSchemaGraphRepository{db: db}
}

var _ SchemaGraphRepository = (*postgresSchemaGraphRepository)(nil)

// ============================================================================
// Database Methods
// ============================================================================

func (r *postgresSchemaGraphRepository) GetDatabase(ctx context.Context, databaseID uuid.UUID) (*models.Database, error) {
	query := `
		SELECT id, name, source_type, last_synced_at, created_at, updated_at, deleted_at
		FROM graph_databases
		WHERE id = $1`

	var db models.Database
	err := r.db.QueryRow(ctx, query, databaseID).Scan(
		&db.ID, &db.Name, &db.SourceType, &db.LastSyncedAt, &db.CreatedAt, &db.UpdatedAt, &db.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("database %s: %w", databaseID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	db.IsDeleted = db.DeletedAt != nil
	return &db, nil
}

func (r *postgresSchemaGraphRepository) UpsertDatabase(ctx context.Context, db *models.Database) error {
	now := time.Now()
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	db.UpdatedAt = now

	query := `
		INSERT INTO graph_databases (id, name, source_type, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			source_type = EXCLUDED.source_type,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, deleted_at`

	err := r.db.QueryRow(ctx, query, db.ID, db.Name, db.SourceType, db.LastSyncedAt, now).
		Scan(&db.CreatedAt, &db.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert database: %w", err)
	}
	db.IsDeleted = db.DeletedAt != nil
	return nil
}

func (r *postgresSchemaGraphRepository) SoftDeleteDatabase(ctx context.Context, databaseID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE graph_databases SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, databaseID)
	if err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetDatabase(ctx, databaseID); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Table Methods
// ============================================================================

func (r *postgresSchemaGraphRepository) AllTables(ctx context.Context, databaseID uuid.UUID) ([]*models.Table, error) {
	return r.ListTables(ctx, databaseID, false)
}

func (r *postgresSchemaGraphRepository) ListTables(ctx context.Context, databaseID uuid.UUID, includeDeleted bool) ([]*models.Table, error) {
	query := `
		SELECT id, database_id, schema_name, table_name, description, row_count,
		       created_at, updated_at, deleted_at
		FROM graph_tables
		WHERE database_id = $1`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY table_name, deleted_at NULLS FIRST, created_at"

	rows, err := r.db.Query(ctx, query, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := make([]*models.Table, 0)
	byID := make(map[uuid.UUID]*models.Table)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	if err := r.attachColumns(ctx, databaseID, byID); err != nil {
		return nil, err
	}
	if err := r.attachRelationships(ctx, databaseID, byID); err != nil {
		return nil, err
	}
	if err := r.attachRelatedEdges(ctx, databaseID, byID); err != nil {
		return nil, err
	}

	return tables, nil
}

func (r *postgresSchemaGraphRepository) GetTableByName(ctx context.Context, databaseID uuid.UUID, tableName string) (*models.Table, error) {
	tables, err := r.AllTables(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.TableName == tableName {
			return t, nil
		}
	}
	return nil, fmt.Errorf("table %q: %w", tableName, apperrors.ErrTableNotFound)
}

func (r *postgresSchemaGraphRepository) CreateTable(ctx context.Context, table *models.Table) error {
	now := time.Now()
	if table.ID == uuid.Nil {
		table.ID = uuid.New()
	}
	table.CreatedAt = now
	table.UpdatedAt = now
	table.IsDeleted = false
	table.DeletedAt = nil

	_, err := r.db.Exec(ctx, `
		INSERT INTO graph_tables (
			id, database_id, schema_name, table_name, description, row_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		table.ID, table.DatabaseID, table.SchemaName, table.TableName, table.Description, table.RowCount, now,
	)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("table %q already exists: %w", table.TableName, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) UpdateTable(ctx context.Context, table *models.Table) error {
	table.UpdatedAt = time.Now()
	tag, err := r.db.Exec(ctx, `
		UPDATE graph_tables
		SET schema_name = $2, description = $3, row_count = $4, updated_at = $5
		WHERE id = $1`,
		table.ID, table.SchemaName, table.Description, table.RowCount, table.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: %w", table.ID, apperrors.ErrTableNotFound)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) SoftDeleteTable(ctx context.Context, tableID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE graph_tables SET deleted_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL`, tableID)
		if err != nil {
			return fmt.Errorf("failed to soft-delete table: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM graph_tables WHERE id = $1)`, tableID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check table: %w", err)
			}
			if !exists {
				return fmt.Errorf("table %s: %w", tableID, apperrors.ErrTableNotFound)
			}
			return nil
		}

		// Edges never point at or out of a deleted table.
		if _, err := tx.Exec(ctx, `
			DELETE FROM graph_relationships WHERE from_table_id = $1 OR to_table_id = $1`, tableID); err != nil {
			return fmt.Errorf("failed to drop relationships of deleted table: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM graph_related_edges WHERE from_table_id = $1 OR to_table_id = $1`, tableID); err != nil {
			return fmt.Errorf("failed to drop related edges of deleted table: %w", err)
		}
		return nil
	})
}

func (r *postgresSchemaGraphRepository) RestoreTable(ctx context.Context, tableID uuid.UUID) error {
	var name string
	var deletedAt *time.Time
	err := r.db.QueryRow(ctx, `SELECT table_name, deleted_at FROM graph_tables WHERE id = $1`, tableID).
		Scan(&name, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("table %s: %w", tableID, apperrors.ErrTableNotFound)
		}
		return fmt.Errorf("failed to get table: %w", err)
	}
	if deletedAt == nil {
		return nil
	}

	_, err = r.db.Exec(ctx, `
		UPDATE graph_tables SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1`, tableID)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("cannot restore %q, an active table has the same name: %w", name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to restore table: %w", err)
	}
	return nil
}

// ============================================================================
// Column Methods
// ============================================================================

func (r *postgresSchemaGraphRepository) UpsertColumn(ctx context.Context, column *models.Column) error {
	now := time.Now()
	if column.ID == uuid.Nil {
		column.ID = uuid.New()
	}
	column.UpdatedAt = now

	query := `
		INSERT INTO graph_columns (
			id, table_id, column_name, data_type, is_nullable, is_primary_key,
			is_foreign_key, references_table, references_column, default_value,
			ordinal_position, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (table_id, column_name) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			is_nullable = EXCLUDED.is_nullable,
			is_primary_key = EXCLUDED.is_primary_key,
			is_foreign_key = EXCLUDED.is_foreign_key,
			references_table = EXCLUDED.references_table,
			references_column = EXCLUDED.references_column,
			default_value = EXCLUDED.default_value,
			ordinal_position = EXCLUDED.ordinal_position,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		column.ID, column.TableID, column.ColumnName, column.DataType, column.IsNullable, column.IsPrimaryKey,
		column.IsForeignKey, column.ReferencesTable, column.ReferencesColumn, column.DefaultValue,
		column.OrdinalPosition, now,
	).Scan(&column.ID, &column.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("table %s: %w", column.TableID, apperrors.ErrTableNotFound)
		}
		return fmt.Errorf("failed to upsert column: %w", err)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) UpdateColumnForeignKey(ctx context.Context, column *models.Column) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE graph_columns
		SET is_foreign_key = $2, references_table = $3, references_column = $4, updated_at = NOW()
		WHERE id = $1`,
		column.ID, column.IsForeignKey, column.ReferencesTable, column.ReferencesColumn,
	)
	if err != nil {
		return fmt.Errorf("failed to update column foreign key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("column %q: %w", column.ColumnName, apperrors.ErrColumnNotFound)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) DeleteColumn(ctx context.Context, columnID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM graph_columns WHERE id = $1`, columnID)
	if err != nil {
		return fmt.Errorf("failed to delete column: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("column %s: %w", columnID, apperrors.ErrColumnNotFound)
	}
	return nil
}

// ============================================================================
// Edge Methods
// ============================================================================

func (r *postgresSchemaGraphRepository) Connect(ctx context.Context, from, to *models.Table, attrs models.EdgeAttributes) error {
	names, err := r.activeTableNames(ctx, from.ID, to.ID)
	if err != nil {
		return err
	}
	fromName, ok := names[from.ID]
	if !ok {
		return fmt.Errorf("source table %q: %w", from.TableName, apperrors.ErrTableNotFound)
	}
	toName, ok := names[to.ID]
	if !ok {
		return fmt.Errorf("target table %q: %w", to.TableName, apperrors.ErrTableNotFound)
	}

	switch attrs.Kind {
	case models.EdgeKindRelatedTo:
		_, err := r.db.Exec(ctx, `
			INSERT INTO graph_related_edges (from_table_id, to_table_id, to_table, via)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			from.ID, to.ID, toName, attrs.Via,
		)
		if err != nil {
			return fmt.Errorf("failed to insert related edge: %w", err)
		}
		return nil

	case models.EdgeKindRelationship:
		if !attrs.Type.IsValid() {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidRelationshipType, attrs.Type)
		}

		var jTable, jSource, jTarget *string
		if attrs.Junction != nil {
			jTable, jSource, jTarget = &attrs.Junction.Table, &attrs.Junction.SourceColumn, &attrs.Junction.TargetColumn
		}

		tag, err := r.db.Exec(ctx, `
			INSERT INTO graph_relationships (
				id, relationship_type, from_table_id, from_table, from_column,
				to_table_id, to_table, to_column, junction_table, junction_source_column,
				junction_target_column, origin, inference_method, confidence
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (from_table_id, to_table, from_column, to_column) DO NOTHING`,
			uuid.New(), attrs.Type, from.ID, fromName, attrs.FromColumn,
			to.ID, toName, attrs.ToColumn, jTable, jSource,
			jTarget, attrs.Origin, attrs.InferenceMethod, attrs.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s.%s -> %s.%s: %w",
				fromName, attrs.FromColumn, toName, attrs.ToColumn, apperrors.ErrDuplicateRelationship)
		}
		return nil

	default:
		return fmt.Errorf("unknown edge kind %q", attrs.Kind)
	}
}

func (r *postgresSchemaGraphRepository) Disconnect(ctx context.Context, from, to *models.Table) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM graph_relationships WHERE from_table_id = $1 AND to_table_id = $2`, from.ID, to.ID); err != nil {
			return fmt.Errorf("failed to delete relationships: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM graph_related_edges WHERE from_table_id = $1 AND to_table_id = $2`, from.ID, to.ID); err != nil {
			return fmt.Errorf("failed to delete related edges: %w", err)
		}
		return nil
	})
}

// ============================================================================
// Helper Functions
// ============================================================================

func (r *postgresSchemaGraphRepository) activeTableNames(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, table_name FROM graph_tables
		WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tables: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table names: %w", err)
	}
	return names, nil
}

func (r *postgresSchemaGraphRepository) attachColumns(ctx context.Context, databaseID uuid.UUID, byID map[uuid.UUID]*models.Table) error {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.table_id, c.column_name, c.data_type, c.is_nullable, c.is_primary_key,
		       c.is_foreign_key, c.references_table, c.references_column, c.default_value,
		       c.ordinal_position, c.created_at, c.updated_at
		FROM graph_columns c
		JOIN graph_tables t ON t.id = c.table_id
		WHERE t.database_id = $1
		ORDER BY c.ordinal_position, c.column_name`, databaseID)
	if err != nil {
		return fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Column
		if err := rows.Scan(
			&c.ID, &c.TableID, &c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey,
			&c.IsForeignKey, &c.ReferencesTable, &c.ReferencesColumn, &c.DefaultValue,
			&c.OrdinalPosition, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		if t, ok := byID[c.TableID]; ok {
			t.Columns = append(t.Columns, &c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) attachRelationships(ctx context.Context, databaseID uuid.UUID, byID map[uuid.UUID]*models.Table) error {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.relationship_type, r.from_table_id, r.from_table, r.from_column,
		       r.to_table_id, r.to_table, r.to_column, r.junction_table, r.junction_source_column,
		       r.junction_target_column, r.origin, r.inference_method, r.confidence, r.created_at
		FROM graph_relationships r
		JOIN graph_tables t ON t.id = r.from_table_id
		WHERE t.database_id = $1
		ORDER BY r.created_at, r.from_column`, databaseID)
	if err != nil {
		return fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return err
		}
		if t, ok := byID[rel.FromTableID]; ok {
			t.Relationships = append(t.Relationships, rel)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating relationships: %w", err)
	}
	return nil
}

func (r *postgresSchemaGraphRepository) attachRelatedEdges(ctx context.Context, databaseID uuid.UUID, byID map[uuid.UUID]*models.Table) error {
	rows, err := r.db.Query(ctx, `
		SELECT e.from_table_id, e.to_table_id, e.to_table, e.via
		FROM graph_related_edges e
		JOIN graph_tables t ON t.id = e.from_table_id
		WHERE t.database_id = $1
		ORDER BY e.created_at, e.via`, databaseID)
	if err != nil {
		return fmt.Errorf("failed to list related edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.RelatedEdge
		if err := rows.Scan(&e.FromTableID, &e.ToTableID, &e.ToTable, &e.Via); err != nil {
			return fmt.Errorf("failed to scan related edge: %w", err)
		}
		if t, ok := byID[e.FromTableID]; ok {
			t.RelatedTo = append(t.RelatedTo, &e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating related edges: %w", err)
	}
	return nil
}

func scanTable(rows pgx.Rows) (*models.Table, error) {
	var t models.Table
	err := rows.Scan(
		&t.ID, &t.DatabaseID, &t.SchemaName, &t.TableName, &t.Description, &t.RowCount,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan table: %w", err)
	}
	t.IsDeleted = t.DeletedAt != nil
	return &t, nil
}

func scanRelationship(rows pgx.Rows) (*models.Relationship, error) {
	var rel models.Relationship
	var jTable, jSource, jTarget *string
	err := rows.Scan(
		&rel.ID, &rel.Type, &rel.FromTableID, &rel.FromTable, &rel.FromColumn,
		&rel.ToTableID, &rel.ToTable, &rel.ToColumn, &jTable, &jSource,
		&jTarget, &rel.Origin, &rel.InferenceMethod, &rel.Confidence, &rel.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}
	if jTable != nil {
		rel.Junction = &models.Junction{Table: *jTable}
		if jSource != nil {
			rel.Junction.SourceColumn = *jSource
		}
		if jTarget != nil {
			rel.Junction.TargetColumn = *jTarget
		}
	}
	return &rel, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
