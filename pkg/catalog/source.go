// Package catalog turns configured datasources into catalog snapshots, the
// only input a schema sync diffs the stored graph against.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/objectstore"
)

// Source produces catalog snapshots of one datasource.
type Source interface {
	// Snapshot reads the current catalog. Each call reflects the source at
	// that moment, so a failed call may simply be retried.
	Snapshot(ctx context.Context) (*models.CatalogSnapshot, error)
	Close() error
}

// SourceFactory builds a Source for a configured datasource.
type SourceFactory struct {
	adapters datasource.DatasourceAdapterFactory
	objects  objectstore.Store
	logger   *zap.Logger
}

// NewSourceFactory creates a SourceFactory. objects may be nil when no
// datasource reads from object storage.
func NewSourceFactory(adapters datasource.DatasourceAdapterFactory, objects objectstore.Store, logger *zap.Logger) *SourceFactory {
	return &SourceFactory{
		adapters: adapters,
		objects:  objects,
		logger:   logger.Named("catalog"),
	}
}

// Open returns the Source for ds. It does not connect to anything.
func (f *SourceFactory) Open(ds *config.DatasourceConfig) (Source, error) {
	logger := f.logger.With(zap.String("datasource", ds.Name))

	switch ds.Type {
	case config.DatasourceTypeCatalogFile:
		src, err := NewFileSource(ds.Path, f.opener(ds.Path), logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.DatasourceTypeCSV:
		src, err := NewCSVSource(ds.Path, f.objects, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		adapterType, connConfig := ds.Type, ds.ConnectionConfig()
		open := func(ctx context.Context) (datasource.SchemaDiscoverer, error) {
			return f.adapters.NewSchemaDiscoverer(ctx, adapterType, connConfig)
		}
		return NewDiscovererSource(open, logger), nil
	}
}

// SourceTypeOf returns the kind of catalog a datasource type yields.
func SourceTypeOf(dsType string) models.SourceType {
	if dsType == config.DatasourceTypeCSV {
		return models.SourceTypeTabular
	}
	return models.SourceTypeRelational
}

// opener reads path from the filesystem, or from object storage for s3:// paths.
func (f *SourceFactory) opener(path string) func(ctx context.Context) (io.ReadCloser, error) {
	if objectstore.IsURI(path) {
		return func(ctx context.Context) (io.ReadCloser, error) {
			if f.objects == nil {
				return nil, fmt.Errorf("no object store configured for %s", path)
			}
			bucket, key, err := objectstore.ParseURI(path)
			if err != nil {
				return nil, err
			}
			return f.objects.Get(ctx, bucket, key)
		}
	}
	return func(context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
}
