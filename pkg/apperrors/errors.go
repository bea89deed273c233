package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrCatalogUnavailable is fatal for a sync: nothing is mutated.
	ErrCatalogUnavailable      = errors.New("catalog unavailable")
	ErrTableNotFound           = errors.New("table not found")
	ErrColumnNotFound          = errors.New("column not found")
	ErrDuplicateRelationship   = errors.New("relationship already exists")
	ErrInvalidRelationshipType = errors.New("invalid relationship type")
	ErrDatabaseDeleted         = errors.New("database is deleted")
	ErrSyncInProgress          = errors.New("sync already in progress")
)

// Reason maps an error to a stable machine-readable code for skip reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTableNotFound):
		return "table_not_found"
	case errors.Is(err, ErrColumnNotFound):
		return "column_not_found"
	case errors.Is(err, ErrDuplicateRelationship):
		return "duplicate_relationship"
	case errors.Is(err, ErrInvalidRelationshipType):
		return "invalid_relationship_type"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	default:
		return "store_error"
	}
}
