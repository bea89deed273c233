package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// TableStore is the minimal graph contract relationship code works against.
type TableStore interface {
	// AllTables returns the active tables of a database ordered by name, with
	// columns, outgoing relationships and related-to edges populated.
	AllTables(ctx context.Context, databaseID uuid.UUID) ([]*models.Table, error)
	// Connect adds an edge from -> to. A relationship edge whose key already
	// exists fails with apperrors.ErrDuplicateRelationship; a repeated related-to
	// edge is a no-op.
	Connect(ctx context.Context, from, to *models.Table, attrs models.EdgeAttributes) error
	// Disconnect removes every edge of either kind from -> to.
	Disconnect(ctx context.Context, from, to *models.Table) error
}

// SchemaGraphRepository provides data access for the schema graph.
type SchemaGraphRepository interface {
	TableStore

	// Databases
	GetDatabase(ctx context.Context, databaseID uuid.UUID) (*models.Database, error)
	// UpsertDatabase creates the database on first sync and refreshes name,
	// source type and last_synced_at afterwards.
	UpsertDatabase(ctx context.Context, db *models.Database) error
	SoftDeleteDatabase(ctx context.Context, databaseID uuid.UUID) error

	// Tables
	// ListTables is AllTables with optional soft-deleted tables included.
	ListTables(ctx context.Context, databaseID uuid.UUID, includeDeleted bool) ([]*models.Table, error)
	// GetTableByName returns the active table with the given name or apperrors.ErrTableNotFound.
	GetTableByName(ctx context.Context, databaseID uuid.UUID, tableName string) (*models.Table, error)
	// CreateTable fails with apperrors.ErrConflict when an active table has the same name.
	CreateTable(ctx context.Context, table *models.Table) error
	UpdateTable(ctx context.Context, table *models.Table) error
	SoftDeleteTable(ctx context.Context, tableID uuid.UUID) error
	// RestoreTable reactivates a soft-deleted table. It fails with
	// apperrors.ErrConflict when an active table already has its name.
	RestoreTable(ctx context.Context, tableID uuid.UUID) error

	// Columns
	// UpsertColumn writes every column field, keyed by (table_id, column_name).
	UpsertColumn(ctx context.Context, column *models.Column) error
	// UpdateColumnForeignKey writes only the FK role of the column.
	UpdateColumnForeignKey(ctx context.Context, column *models.Column) error
	DeleteColumn(ctx context.Context, columnID uuid.UUID) error
}
