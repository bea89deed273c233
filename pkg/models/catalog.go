package models

import (
	"sort"
	"time"
)

// CatalogSnapshot is an externally supplied description of a data source's schema.
// It is the only input a sync diffs the stored graph against.
type CatalogSnapshot struct {
	Tables     map[string]*CatalogTable `json:"tables" yaml:"tables"`
	CapturedAt time.Time                `json:"captured_at" yaml:"captured_at"`
}

// TableNames returns the snapshot's table names in a stable order.
func (s *CatalogSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogTable describes one table of a snapshot. Columns keep catalog order.
type CatalogTable struct {
	Schema                string                `json:"schema" yaml:"schema"`
	Description           *string               `json:"description,omitempty" yaml:"description"`
	RowCount              *int64                `json:"row_count,omitempty" yaml:"row_count"`
	Columns               []*CatalogColumn      `json:"columns" yaml:"columns"`
	ExplicitRelationships []CatalogRelationship `json:"explicit_relationships,omitempty" yaml:"explicit_relationships"`
}

// Column returns the catalog column with the given name, or nil.
func (t *CatalogTable) Column(name string) *CatalogColumn {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// CatalogColumn describes one column of a catalog table.
type CatalogColumn struct {
	Name         string  `json:"name" yaml:"name"`
	DataType     string  `json:"data_type" yaml:"data_type"`
	IsNullable   bool    `json:"is_nullable" yaml:"is_nullable"`
	IsPrimaryKey bool    `json:"is_primary_key" yaml:"is_primary_key"`
	Default      *string `json:"default,omitempty" yaml:"default"`
}

// CatalogRelationship is a relationship declared by the source itself,
// typically a foreign-key constraint.
type CatalogRelationship struct {
	FromColumn string    `json:"from_column" yaml:"from_column"`
	ToTable    string    `json:"to_table" yaml:"to_table"`
	ToColumn   string    `json:"to_column" yaml:"to_column"`
	Type       string    `json:"type" yaml:"type"`
	Junction   *Junction `json:"junction,omitempty" yaml:"junction"`
}
