package catalog

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// maxSnapshotBytes bounds how much of a snapshot file is read.
const maxSnapshotBytes = 64 << 20

// FileSource reads a snapshot from a YAML or JSON document.
//
// Tables may be given as a mapping keyed by table name or as a sequence of
// entries with a name field. Columns accept the same two shapes; a mapping
// keeps document order.
//
//	tables:
//	  orders:
//	    schema: public
//	    columns:
//	      id: {data_type: bigint, is_primary_key: true}
//	      customer_id: {data_type: bigint}
//	    explicit_relationships:
//	      - {from_column: customer_id, to_table: customers, to_column: id}
type FileSource struct {
	path   string
	open   func(ctx context.Context) (io.ReadCloser, error)
	logger *zap.Logger
	now    func() time.Time
}

// NewFileSource creates a FileSource reading path through open.
func NewFileSource(path string, open func(ctx context.Context) (io.ReadCloser, error), logger *zap.Logger) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	return &FileSource{path: path, open: open, logger: logger, now: time.Now}, nil
}

var _ Source = (*FileSource)(nil)

func (s *FileSource) Close() error { return nil }

func (s *FileSource) Snapshot(ctx context.Context) (*models.CatalogSnapshot, error) {
	r, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	snapshot, err := ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = s.now()
	}

	s.logger.Info("Loaded catalog file",
		zap.String("path", s.path),
		zap.Int("tables", len(snapshot.Tables)))
	return snapshot, nil
}

// ParseSnapshot decodes a YAML or JSON snapshot document.
func ParseSnapshot(data []byte) (*models.CatalogSnapshot, error) {
	var doc fileSnapshot
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if doc.Tables == nil {
		return nil, fmt.Errorf("invalid snapshot: tables are required")
	}

	snapshot := &models.CatalogSnapshot{Tables: make(map[string]*models.CatalogTable, len(doc.Tables))}
	if doc.CapturedAt != nil {
		snapshot.CapturedAt = *doc.CapturedAt
	}

	for _, t := range doc.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("invalid snapshot: table without a name")
		}
		if _, dup := snapshot.Tables[t.Name]; dup {
			return nil, fmt.Errorf("invalid snapshot: table %q is defined more than once", t.Name)
		}

		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return nil, fmt.Errorf("invalid snapshot: table %q has a column without a name", t.Name)
			}
			if seen[c.Name] {
				return nil, fmt.Errorf("invalid snapshot: column %s.%s is defined more than once", t.Name, c.Name)
			}
			seen[c.Name] = true
		}

		snapshot.Tables[t.Name] = &models.CatalogTable{
			Schema:                t.Schema,
			Description:           t.Description,
			RowCount:              t.RowCount,
			Columns:               t.Columns,
			ExplicitRelationships: t.ExplicitRelationships,
		}
	}
	return snapshot, nil
}

type fileSnapshot struct {
	CapturedAt *time.Time `yaml:"captured_at"`
	Tables     fileTables `yaml:"tables"`
}

type fileTable struct {
	Name                  string                       `yaml:"name"`
	Schema                string                       `yaml:"schema"`
	Description           *string                      `yaml:"description"`
	RowCount              *int64                       `yaml:"row_count"`
	Columns               fileColumns                  `yaml:"columns"`
	ExplicitRelationships []models.CatalogRelationship `yaml:"explicit_relationships"`
}

type fileTables []fileTable

func (t *fileTables) UnmarshalYAML(node *yaml.Node) error {
	*t = fileTables{}
	if node.Kind == yaml.SequenceNode {
		var tables []fileTable
		if err := node.Decode(&tables); err != nil {
			return err
		}
		*t = append(*t, tables...)
		return nil
	}

	return decodeOrderedMapping(node, "tables", func(name string, value *yaml.Node) error {
		var table fileTable
		if err := value.Decode(&table); err != nil {
			return err
		}
		table.Name = name
		*t = append(*t, table)
		return nil
	})
}

type fileColumns []*models.CatalogColumn

func (c *fileColumns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var columns []*models.CatalogColumn
		if err := node.Decode(&columns); err != nil {
			return err
		}
		*c = columns
		return nil
	}

	return decodeOrderedMapping(node, "columns", func(name string, value *yaml.Node) error {
		col := &models.CatalogColumn{}
		if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
			// Shorthand: "name: type".
			col.DataType = value.Value
		} else if err := value.Decode(col); err != nil {
			return err
		}
		col.Name = name
		*c = append(*c, col)
		return nil
	})
}

// decodeOrderedMapping walks a mapping node in document order.
func decodeOrderedMapping(node *yaml.Node, field string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping or a sequence", node.Line, field)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if err := fn(key.Value, value); err != nil {
			return fmt.Errorf("line %d: %s.%s: %w", key.Line, field, key.Value, err)
		}
	}
	return nil
}
