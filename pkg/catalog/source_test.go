package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/objectstore"
)

type fakeObjectStore struct {
	objects map[string]string // "bucket/key" -> content
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	content, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, apperrors.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeObjectStore) List(ctx context.Context, bucket, prefix string) ([]objectstore.ObjectInfo, error) {
	var out []objectstore.ObjectInfo
	for k, v := range f.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			out = append(out, objectstore.ObjectInfo{Key: key, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type fakeAdapterFactory struct {
	discoverer *mockDiscoverer
	gotType    string
	gotConfig  map[string]any
}

func (f *fakeAdapterFactory) NewSchemaDiscoverer(ctx context.Context, dsType string, cfg map[string]any) (datasource.SchemaDiscoverer, error) {
	f.gotType = dsType
	f.gotConfig = cfg
	return f.discoverer, nil
}

func (f *fakeAdapterFactory) ListTypes() []datasource.DatasourceAdapterInfo { return nil }

func TestSourceFactory_Open(t *testing.T) {
	objects := &fakeObjectStore{objects: map[string]string{
		"catalogs/shop.yaml":          "tables:\n  orders:\n    columns:\n      id: bigint\n",
		"uploads/shop/customers.csv":  "id,name\n1,Ada\n",
		"uploads/shop/orders.csv":     "id,customer_id\n1,1\n",
		"uploads/shop/notes.txt":      "ignored",
		"uploads/other/inventory.csv": "sku\nA1\n",
	}}
	adapters := &fakeAdapterFactory{discoverer: schoolDiscoverer()}
	factory := NewSourceFactory(adapters, objects, zap.NewNop())
	ctx := context.Background()

	t.Run("catalog file from object store", func(t *testing.T) {
		src, err := factory.Open(&config.DatasourceConfig{Name: "shop", Type: config.DatasourceTypeCatalogFile, Path: "s3://catalogs/shop.yaml"})
		require.NoError(t, err)
		snap, err := src.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"orders"}, snap.TableNames())
	})

	t.Run("missing object", func(t *testing.T) {
		src, err := factory.Open(&config.DatasourceConfig{Name: "gone", Type: config.DatasourceTypeCatalogFile, Path: "s3://catalogs/gone.yaml"})
		require.NoError(t, err)
		_, err = src.Snapshot(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("csv prefix in object store", func(t *testing.T) {
		src, err := factory.Open(&config.DatasourceConfig{Name: "uploads", Type: config.DatasourceTypeCSV, Path: "s3://uploads/shop/"})
		require.NoError(t, err)
		snap, err := src.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"customers", "orders"}, snap.TableNames())
	})

	t.Run("database adapters get the resolved connection config", func(t *testing.T) {
		t.Setenv("SCHOOL_PASSWORD", "s3cret")
		src, err := factory.Open(&config.DatasourceConfig{
			Name:        "school",
			Type:        config.DatasourceTypePostgres,
			PasswordEnv: "SCHOOL_PASSWORD",
			Config:      map[string]any{"host": "db", "user": "reader", "database": "school"},
		})
		require.NoError(t, err)
		snap, err := src.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Tables, 4)
		assert.Equal(t, config.DatasourceTypePostgres, adapters.gotType)
		assert.Equal(t, "s3cret", adapters.gotConfig["password"])
	})
}

func TestSourceFactory_ObjectPathWithoutStore(t *testing.T) {
	factory := NewSourceFactory(&fakeAdapterFactory{}, nil, zap.NewNop())

	src, err := factory.Open(&config.DatasourceConfig{Name: "shop", Type: config.DatasourceTypeCatalogFile, Path: "s3://catalogs/shop.yaml"})
	require.NoError(t, err)
	_, err = src.Snapshot(context.Background())
	assert.ErrorContains(t, err, "no object store configured")

	_, err = factory.Open(&config.DatasourceConfig{Name: "uploads", Type: config.DatasourceTypeCSV, Path: "s3://uploads/"})
	assert.ErrorContains(t, err, "no object store configured")
}

func TestSourceTypeOf(t *testing.T) {
	assert.Equal(t, models.SourceTypeTabular, SourceTypeOf(config.DatasourceTypeCSV))
	assert.Equal(t, models.SourceTypeRelational, SourceTypeOf(config.DatasourceTypeMySQL))
	assert.Equal(t, models.SourceTypeRelational, SourceTypeOf(config.DatasourceTypeCatalogFile))
}
