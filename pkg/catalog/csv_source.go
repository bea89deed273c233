package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/objectstore"
)

// csvSampleRows is how many data rows feed column type inference.
const csvSampleRows = 100

// Inferred CSV column types.
const (
	CSVTypeInteger   = "integer"
	CSVTypeNumeric   = "numeric"
	CSVTypeBoolean   = "boolean"
	CSVTypeTimestamp = "timestamp"
	CSVTypeDate      = "date"
	CSVTypeText      = "text"
)

// CSVSource snapshots a directory (or s3:// prefix) of uploaded CSV files.
// Each .csv file is one table named after the file; the header row names
// the columns.
type CSVSource struct {
	location string
	objects  objectstore.Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewCSVSource creates a CSVSource over location. objects is only used for
// s3:// locations.
func NewCSVSource(location string, objects objectstore.Store, logger *zap.Logger) (*CSVSource, error) {
	if location == "" {
		return nil, fmt.Errorf("csv location is required")
	}
	if objectstore.IsURI(location) && objects == nil {
		return nil, fmt.Errorf("no object store configured for %s", location)
	}
	return &CSVSource{location: location, objects: objects, logger: logger, now: time.Now}, nil
}

var _ Source = (*CSVSource)(nil)

func (s *CSVSource) Close() error { return nil }

type csvFile struct {
	table string
	name  string
	open  func(ctx context.Context) (io.ReadCloser, error)
}

func (s *CSVSource) Snapshot(ctx context.Context) (*models.CatalogSnapshot, error) {
	files, err := s.listFiles(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CatalogSnapshot{
		Tables:     make(map[string]*models.CatalogTable, len(files)),
		CapturedAt: s.now(),
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dup := snapshot.Tables[f.table]; dup {
			return nil, fmt.Errorf("more than one file maps to table %q", f.table)
		}
		table, err := s.readTable(ctx, f)
		if err != nil {
			return nil, err
		}
		snapshot.Tables[f.table] = table
	}

	s.logger.Info("Scanned CSV files",
		zap.String("location", s.location),
		zap.Int("tables", len(snapshot.Tables)))
	return snapshot, nil
}

func (s *CSVSource) listFiles(ctx context.Context) ([]csvFile, error) {
	var files []csvFile

	if objectstore.IsURI(s.location) {
		bucket, prefix, err := objectstore.ParseURI(s.location)
		if err != nil {
			return nil, err
		}
		objects, err := s.objects.List(ctx, bucket, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", s.location, err)
		}
		for _, obj := range objects {
			if !isCSV(obj.Key) {
				continue
			}
			key := obj.Key
			files = append(files, csvFile{
				table: tableNameFromFile(path.Base(key)),
				name:  objectstore.Scheme + bucket + "/" + key,
				open: func(ctx context.Context) (io.ReadCloser, error) {
					return s.objects.Get(ctx, bucket, key)
				},
			})
		}
		return files, nil
	}

	entries, err := os.ReadDir(s.location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.location, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isCSV(e.Name()) {
			continue
		}
		full := filepath.Join(s.location, e.Name())
		files = append(files, csvFile{
			table: tableNameFromFile(e.Name()),
			name:  full,
			open: func(context.Context) (io.ReadCloser, error) {
				return os.Open(full)
			},
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func (s *CSVSource) readTable(ctx context.Context, f csvFile) (*models.CatalogTable, error) {
	r, err := f.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.name, err)
	}
	defer r.Close()

	table, err := ScanCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	s.logger.Debug("Scanned CSV file",
		zap.String("file", f.name),
		zap.String("table", f.table),
		zap.Int("columns", len(table.Columns)),
		zap.Int64("rows", *table.RowCount))
	return table, nil
}

// ScanCSV reads a CSV document into a catalog table. Column types are
// inferred from the first rows; a column is nullable when any of its cells
// is empty.
func ScanCSV(r io.Reader) (*models.CatalogTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: a header row is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	names := headerNames(header)
	inferers := make([]typeInferer, len(names))
	nullable := make([]bool, len(names))

	var rows int64
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rows+1, err)
		}
		rows++

		for i := range names {
			value := ""
			if i < len(record) {
				value = strings.TrimSpace(record[i])
			}
			if value == "" {
				nullable[i] = true
				continue
			}
			if rows <= csvSampleRows {
				inferers[i].observe(value)
			}
		}
	}

	table := &models.CatalogTable{
		RowCount: &rows,
		Columns:  make([]*models.CatalogColumn, len(names)),
	}
	for i, name := range names {
		table.Columns[i] = &models.CatalogColumn{
			Name:       name,
			DataType:   inferers[i].result(),
			IsNullable: nullable[i],
		}
	}
	return table, nil
}

// headerNames cleans header cells: a byte order mark is dropped, blank names
// become column_N and repeated names get a numeric suffix.
func headerNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		names[i] = name
	}
	return names
}

var (
	timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"}
	dateLayouts      = []string{"2006-01-02", "01/02/2006", "2006/01/02"}
)

// typeInferer narrows a column's type as values are observed. A value rules
// out every type it does not parse as; integers also count as numeric.
type typeInferer struct {
	observed bool
	ruledOut [5]bool // integer, numeric, boolean, timestamp, date
}

var inferredTypes = [5]string{CSVTypeInteger, CSVTypeNumeric, CSVTypeBoolean, CSVTypeTimestamp, CSVTypeDate}

func (t *typeInferer) observe(value string) {
	t.observed = true
	if _, err := strconv.ParseInt(value, 10, 64); err != nil {
		t.ruledOut[0] = true
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		t.ruledOut[1] = true
	}
	if !isBoolean(value) {
		t.ruledOut[2] = true
	}
	if !parsesAs(value, timestampLayouts) {
		t.ruledOut[3] = true
	}
	if !parsesAs(value, dateLayouts) {
		t.ruledOut[4] = true
	}
}

func (t *typeInferer) result() string {
	if !t.observed {
		return CSVTypeText
	}
	for i, out := range t.ruledOut {
		if !out {
			return inferredTypes[i]
		}
	}
	return CSVTypeText
}

func isBoolean(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false":
		return true
	}
	return false
}

func parsesAs(value string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

func tableNameFromFile(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
