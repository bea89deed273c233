package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/logging"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

// Operation names recorded on skipped operations.
const (
	opPreserve         = "preserve_relationships"
	opRestore          = "restore_relationship"
	opApplyExplicit    = "apply_explicit_relationship"
	opInfer            = "infer_relationship"
	opSyncTable        = "sync_table"
	opSyncColumn       = "sync_column"
	opRemoveTable      = "remove_table"
	opRemoveColumn     = "remove_column"
	opClearForeignKeys = "clear_foreign_key"
)

// edgeWriter creates a relationship edge together with its related-to edge and
// the foreign-key marker on the originating column.
type edgeWriter struct {
	store  repositories.SchemaGraphRepository
	logger *zap.Logger
}

// link returns the Connect error unchanged, apperrors.ErrDuplicateRelationship included.
// Failures while adding the related-to edge or the FK marker are only logged.
func (w *edgeWriter) link(ctx context.Context, from *models.Table, fromCol *models.Column, to *models.Table, attrs models.EdgeAttributes) error {
	if err := w.store.Connect(ctx, from, to, attrs); err != nil {
		return err
	}

	if err := w.store.Connect(ctx, from, to, models.RelatedToEdgeAttributes(attrs.FromColumn)); err != nil {
		w.logger.Warn("Failed to add related-to edge",
			zap.String("from_table", from.TableName),
			zap.String("to_table", to.TableName),
			zap.String("via", attrs.FromColumn),
			zap.Error(err))
	}

	// The source side of a MANY_TO_MANY edge is a key, not a foreign key.
	if attrs.Type != models.RelationshipManyToMany && fromCol != nil {
		w.markForeignKey(ctx, from, fromCol, to.TableName, attrs.ToColumn)
	}
	return nil
}

func (w *edgeWriter) markForeignKey(ctx context.Context, table *models.Table, col *models.Column, toTable, toColumn string) {
	if !col.SetForeignKey(toTable, toColumn) {
		return
	}
	if err := w.store.UpdateColumnForeignKey(ctx, col); err != nil {
		w.logger.Warn("Failed to mark foreign key column",
			zap.String("table", table.TableName),
			zap.String("column", col.ColumnName),
			zap.Error(err))
	}
}

func (w *edgeWriter) clearForeignKey(ctx context.Context, table *models.Table, col *models.Column) error {
	if !col.ClearForeignKey() {
		return nil
	}
	return w.store.UpdateColumnForeignKey(ctx, col)
}

func skippedOperation(op, table, column, target string, err error) models.SkippedOperation {
	return models.SkippedOperation{
		Operation: op,
		Table:     table,
		Column:    column,
		Target:    target,
		Reason:    apperrors.Reason(err),
		Error:     logging.SanitizeError(err),
	}
}
