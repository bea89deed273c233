package services

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// PrimaryKeyRule names the rule that produced a primary key.
type PrimaryKeyRule string

const (
	PrimaryKeyRuleNone        PrimaryKeyRule = "none"
	PrimaryKeyRuleCatalog     PrimaryKeyRule = "catalog"
	PrimaryKeyRuleIDColumn    PrimaryKeyRule = "id_column"
	PrimaryKeyRuleTableID     PrimaryKeyRule = "table_id_column"
	PrimaryKeyRuleIDSuffix    PrimaryKeyRule = "id_suffix_column"
	PrimaryKeyRuleFirstColumn PrimaryKeyRule = "first_column"
)

// PrimaryKeyResolution is the resolved key of one table.
type PrimaryKeyResolution struct {
	Columns []*models.Column
	Rule    PrimaryKeyRule
	// LowConfidence is set when the key is only the table's first column.
	LowConfidence bool
}

// Column returns the first key column, or nil.
func (r *PrimaryKeyResolution) Column() *models.Column {
	if len(r.Columns) == 0 {
		return nil
	}
	return r.Columns[0]
}

// PrimaryKeyResolver determines the logical primary key of tables.
type PrimaryKeyResolver struct {
	logger *zap.Logger
}

// NewPrimaryKeyResolver creates a PrimaryKeyResolver.
func NewPrimaryKeyResolver(logger *zap.Logger) *PrimaryKeyResolver {
	return &PrimaryKeyResolver{logger: logger.Named("primary-key")}
}

// Resolve applies ResolvePrimaryKey's rules and logs low-confidence guesses.
func (r *PrimaryKeyResolver) Resolve(table *models.Table) *PrimaryKeyResolution {
	res := resolvePrimaryKey(table)
	if res.LowConfidence {
		r.logger.Warn("No primary key candidate, falling back to first column",
			zap.String("table", table.TableName),
			zap.String("column", res.Columns[0].ColumnName))
	}
	return res
}

// ResolvePrimaryKey returns the primary-key columns of table. Rules, first non-empty wins:
//  1. columns the catalog flags as primary key
//  2. a column named "id"
//  3. a column named "{table}_id"
//  4. columns containing "_id", preferring "{singular(table)}_id"
//  5. the first column
//
// Names compare case-insensitively. The result is empty only for a table without columns.
func ResolvePrimaryKey(table *models.Table) []*models.Column {
	return resolvePrimaryKey(table).Columns
}

func resolvePrimaryKey(table *models.Table) *PrimaryKeyResolution {
	columns := orderedColumns(table)
	if len(columns) == 0 {
		return &PrimaryKeyResolution{Rule: PrimaryKeyRuleNone}
	}

	var flagged []*models.Column
	for _, c := range columns {
		if c.IsPrimaryKey {
			flagged = append(flagged, c)
		}
	}
	if len(flagged) > 0 {
		return &PrimaryKeyResolution{Columns: flagged, Rule: PrimaryKeyRuleCatalog}
	}

	if c := findColumnFold(columns, "id"); c != nil {
		return &PrimaryKeyResolution{Columns: []*models.Column{c}, Rule: PrimaryKeyRuleIDColumn}
	}

	if c := findColumnFold(columns, table.TableName+foreignKeySuffix); c != nil {
		return &PrimaryKeyResolution{Columns: []*models.Column{c}, Rule: PrimaryKeyRuleTableID}
	}

	var idLike []*models.Column
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c.ColumnName), foreignKeySuffix) {
			idLike = append(idLike, c)
		}
	}
	if len(idLike) > 0 {
		pick := idLike[0]
		if c := findColumnFold(idLike, singularName(table.TableName)+foreignKeySuffix); c != nil {
			pick = c
		}
		return &PrimaryKeyResolution{Columns: []*models.Column{pick}, Rule: PrimaryKeyRuleIDSuffix}
	}

	return &PrimaryKeyResolution{
		Columns:       []*models.Column{columns[0]},
		Rule:          PrimaryKeyRuleFirstColumn,
		LowConfidence: true,
	}
}

// orderedColumns returns the table's columns in catalog order without mutating the table.
func orderedColumns(table *models.Table) []*models.Column {
	columns := make([]*models.Column, len(table.Columns))
	copy(columns, table.Columns)
	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i].OrdinalPosition < columns[j].OrdinalPosition
	})
	return columns
}

func findColumnFold(columns []*models.Column, name string) *models.Column {
	for _, c := range columns {
		if strings.EqualFold(c.ColumnName, name) {
			return c
		}
	}
	return nil
}
