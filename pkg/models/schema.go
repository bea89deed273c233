package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType describes where a database's catalog comes from.
type SourceType string

const (
	SourceTypeRelational SourceType = "relational" // live database introspection
	SourceTypeTabular    SourceType = "tabular"    // uploaded CSV or spreadsheet files
)

// Database is the root of a schema graph. It is created on first sync and only
// soft-deleted by explicit user action.
type Database struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	SourceType   SourceType `json:"source_type"`
	IsDeleted    bool       `json:"is_deleted"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Table is a node in the schema graph.
type Table struct {
	ID          uuid.UUID  `json:"id"`
	DatabaseID  uuid.UUID  `json:"database_id"`
	SchemaName  string     `json:"schema_name"`
	TableName   string     `json:"table_name"`
	Description *string    `json:"description,omitempty"`
	RowCount    *int64     `json:"row_count,omitempty"`
	IsDeleted   bool       `json:"is_deleted"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Populated on demand by the store.
	Columns       []*Column       `json:"columns,omitempty"`
	Relationships []*Relationship `json:"relationships,omitempty"` // outgoing only
	RelatedTo     []*RelatedEdge  `json:"related_to,omitempty"`    // outgoing only
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.ColumnName == name {
			return c
		}
	}
	return nil
}

// QualifiedName returns schema.table, or just the table name when no schema is known.
func (t *Table) QualifiedName() string {
	if t.SchemaName == "" {
		return t.TableName
	}
	return t.SchemaName + "." + t.TableName
}

// OutgoingRelationship returns the outgoing relationship that starts at fromColumn, or nil.
func (t *Table) OutgoingRelationship(fromColumn string) *Relationship {
	for _, r := range t.Relationships {
		if r.FromColumn == fromColumn {
			return r
		}
	}
	return nil
}

// Column is a table attribute.
type Column struct {
	ID               uuid.UUID `json:"id"`
	TableID          uuid.UUID `json:"table_id"`
	ColumnName       string    `json:"column_name"`
	DataType         string    `json:"data_type"`
	IsNullable       bool      `json:"is_nullable"`
	IsPrimaryKey     bool      `json:"is_primary_key"`
	IsForeignKey     bool      `json:"is_foreign_key"`
	ReferencesTable  *string   `json:"references_table,omitempty"`
	ReferencesColumn *string   `json:"references_column,omitempty"`
	DefaultValue     *string   `json:"default_value,omitempty"`
	OrdinalPosition  int       `json:"ordinal_position"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SetForeignKey marks the column as referencing table.column. It reports whether anything changed.
func (c *Column) SetForeignKey(table, column string) bool {
	if c.IsForeignKey && c.ReferencesTable != nil && *c.ReferencesTable == table &&
		c.ReferencesColumn != nil && *c.ReferencesColumn == column {
		return false
	}
	c.IsForeignKey = true
	c.ReferencesTable = &table
	c.ReferencesColumn = &column
	return true
}

// ClearForeignKey drops the FK role. It reports whether anything changed.
func (c *Column) ClearForeignKey() bool {
	if !c.IsForeignKey && c.ReferencesTable == nil && c.ReferencesColumn == nil {
		return false
	}
	c.IsForeignKey = false
	c.ReferencesTable = nil
	c.ReferencesColumn = nil
	return true
}

// RelationshipType is the cardinality of a relationship edge.
type RelationshipType string

const (
	RelationshipOneToOne   RelationshipType = "ONE_TO_ONE"
	RelationshipOneToMany  RelationshipType = "ONE_TO_MANY"
	RelationshipManyToMany RelationshipType = "MANY_TO_MANY"
)

// ValidRelationshipTypes contains all valid relationship type values.
var ValidRelationshipTypes = []RelationshipType{
	RelationshipOneToOne,
	RelationshipOneToMany,
	RelationshipManyToMany,
}

// IsValid checks if the relationship type is one of the known values.
func (t RelationshipType) IsValid() bool {
	for _, v := range ValidRelationshipTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseRelationshipType accepts the canonical names case-insensitively.
// An empty string means ONE_TO_MANY.
func ParseRelationshipType(s string) (RelationshipType, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RelationshipOneToMany, true
	}
	t := RelationshipType(strings.ToUpper(s))
	return t, t.IsValid()
}

// RelationshipOrigin records who created an edge.
type RelationshipOrigin string

const (
	OriginExplicit RelationshipOrigin = "explicit" // declared by the catalog
	OriginManual   RelationshipOrigin = "manual"   // added by a user
	OriginInferred RelationshipOrigin = "inferred" // naming heuristics
)

// Junction describes the intermediate table of a MANY_TO_MANY relationship.
type Junction struct {
	Table        string `json:"junction_table" yaml:"junction_table"`
	SourceColumn string `json:"junction_source_column" yaml:"junction_source_column"`
	TargetColumn string `json:"junction_target_column" yaml:"junction_target_column"`
}

// Relationship is a directed edge owned by its source table. The target is
// referenced by name, plus the ID it had when the edge was written.
type Relationship struct {
	ID              uuid.UUID          `json:"id"`
	Type            RelationshipType   `json:"type"`
	FromTableID     uuid.UUID          `json:"from_table_id"`
	FromTable       string             `json:"from_table"`
	FromColumn      string             `json:"from_column"`
	ToTableID       uuid.UUID          `json:"to_table_id"`
	ToTable         string             `json:"to_table"`
	ToColumn        string             `json:"to_column"`
	Junction        *Junction          `json:"junction,omitempty"`
	Origin          RelationshipOrigin `json:"origin"`
	InferenceMethod *string            `json:"inference_method,omitempty"`
	Confidence      float64            `json:"confidence"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Key returns the uniqueness tuple of the relationship.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{
		FromTable:  r.FromTable,
		ToTable:    r.ToTable,
		FromColumn: r.FromColumn,
		ToColumn:   r.ToColumn,
	}
}

// RelationshipKey identifies a relationship edge: at most one edge per key.
type RelationshipKey struct {
	FromTable  string
	ToTable    string
	FromColumn string
	ToColumn   string
}

// RelatedEdge is a secondary visualization edge between tables.
type RelatedEdge struct {
	FromTableID uuid.UUID `json:"from_table_id"`
	ToTableID   uuid.UUID `json:"to_table_id"`
	ToTable     string    `json:"to_table"`
	Via         string    `json:"via"`
}

// EdgeKind distinguishes the two kinds of graph edges.
type EdgeKind string

const (
	EdgeKindRelationship EdgeKind = "relationship"
	EdgeKindRelatedTo    EdgeKind = "related_to"
)

// EdgeAttributes carries everything a store needs to create an edge.
type EdgeAttributes struct {
	Kind            EdgeKind
	Type            RelationshipType
	FromColumn      string
	ToColumn        string
	Junction        *Junction
	Origin          RelationshipOrigin
	InferenceMethod *string
	Confidence      float64
	Via             string // related_to only
}

// RelationshipEdgeAttributes builds the attributes of a relationship edge.
func RelationshipEdgeAttributes(relType RelationshipType, fromColumn, toColumn string, origin RelationshipOrigin) EdgeAttributes {
	return EdgeAttributes{
		Kind:       EdgeKindRelationship,
		Type:       relType,
		FromColumn: fromColumn,
		ToColumn:   toColumn,
		Origin:     origin,
		Confidence: 1.0,
	}
}

// RelatedToEdgeAttributes builds the attributes of a related-to edge through via.
func RelatedToEdgeAttributes(via string) EdgeAttributes {
	return EdgeAttributes{Kind: EdgeKindRelatedTo, Via: via}
}
