package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/catalog"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/database"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource struct {
	snapshot *models.CatalogSnapshot
	err      error
}

func (s *stubSource) Snapshot(context.Context) (*models.CatalogSnapshot, error) {
	return s.snapshot, s.err
}

func (s *stubSource) Close() error { return nil }

type stubOpener struct {
	source *stubSource
}

func (o *stubOpener) Open(*config.DatasourceConfig) (catalog.Source, error) {
	return o.source, nil
}

func storeSnapshot() *models.CatalogSnapshot {
	return &models.CatalogSnapshot{Tables: map[string]*models.CatalogTable{
		"customers": {Schema: "public", Columns: []*models.CatalogColumn{
			{Name: "id", DataType: "bigint", IsPrimaryKey: true},
			{Name: "name", DataType: "text", IsNullable: true},
		}},
		"orders": {Schema: "public", Columns: []*models.CatalogColumn{
			{Name: "id", DataType: "bigint", IsPrimaryKey: true},
			{Name: "customer_id", DataType: "bigint"},
			{Name: "billing_contact", DataType: "bigint", IsNullable: true},
		}},
	}}
}

type testServer struct {
	router     *gin.Engine
	repo       repositories.SchemaGraphRepository
	locker     *database.LocalSyncLocker
	source     *stubSource
	databaseID uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Version: "test-version",
		Env:     "test",
		Sync: config.SyncConfig{
			CatalogTimeout:     5 * time.Second,
			CatalogRetries:     0,
			LockTTL:            time.Minute,
			MaxConcurrentSyncs: 1,
		},
		Server:      config.ServerConfig{CORSOrigins: []string{"https://console.example.com"}},
		Datasources: []config.DatasourceConfig{{Name: "store", Type: config.DatasourceTypePostgres}},
	}
	databaseID, err := cfg.Datasources[0].DatabaseID()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := repositories.NewMemorySchemaGraphRepository()
	locker := database.NewLocalSyncLocker()
	source := &stubSource{snapshot: storeSnapshot()}

	graph := NewGraphHandler(
		services.NewSchemaSyncService(repo, locker, cfg.Sync, logger),
		services.NewRelationshipService(repo, locker, logger),
		services.NewSyncJobPlanner(cfg, &stubOpener{source: source}, logger),
		logger,
	)
	return &testServer{
		router:     NewRouter(cfg, graph, logger),
		repo:       repo,
		locker:     locker,
		source:     source,
		databaseID: databaseID,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) dbPath(suffix string) string {
	return "/api/databases/" + s.databaseID.String() + suffix
}

// decodeData unmarshals the data field of an ApiResponse into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var errCatalogDown = errors.New("permission denied for schema public")
