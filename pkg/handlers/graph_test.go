package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/services"
)

func (s *testServer) sync(t *testing.T) *models.SyncResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, s.dbPath("/sync"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.SyncResult
	decodeData(t, rec, &result)
	return &result
}

func (s *testServer) tables(t *testing.T, query string) TablesResponse {
	t.Helper()
	rec := s.do(t, http.MethodGet, s.dbPath("/tables"+query), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TablesResponse
	decodeData(t, rec, &resp)
	return resp
}

func findTable(resp TablesResponse, name string) *models.Table {
	for _, tbl := range resp.Tables {
		if tbl.TableName == name {
			return tbl
		}
	}
	return nil
}

func TestGraphHandler_SyncAndListTables(t *testing.T) {
	srv := newTestServer(t)

	result := srv.sync(t)
	assert.Equal(t, models.SyncStateCompleted, result.State)
	assert.Equal(t, 2, result.TablesAdded)
	assert.Equal(t, 1, result.InferredRelationshipsAdded)
	assert.Equal(t, srv.databaseID, result.DatabaseID)

	resp := srv.tables(t, "")
	assert.Equal(t, 2, resp.TotalTables)
	orders := findTable(resp, "orders")
	require.NotNil(t, orders)
	require.Len(t, orders.Relationships, 1)
	assert.Equal(t, "customers", orders.Relationships[0].ToTable)

	srv.source.snapshot = &models.CatalogSnapshot{Tables: map[string]*models.CatalogTable{
		"customers": storeSnapshot().Tables["customers"],
	}}
	srv.sync(t)

	assert.Equal(t, 1, srv.tables(t, "").TotalTables)
	all := srv.tables(t, "?include_deleted=true")
	assert.Equal(t, 2, all.TotalTables)
	assert.True(t, findTable(all, "orders").IsDeleted)

	rec := srv.do(t, http.MethodGet, srv.dbPath("/tables?include_deleted=maybe"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphHandler_SyncErrors(t *testing.T) {
	t.Run("invalid database id", func(t *testing.T) {
		srv := newTestServer(t)
		rec := srv.do(t, http.MethodPost, "/api/databases/not-a-uuid/sync", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_database_id", decodeError(t, rec)["error"])
	})

	t.Run("no datasource for database", func(t *testing.T) {
		srv := newTestServer(t)
		rec := srv.do(t, http.MethodPost, "/api/databases/"+uuid.NewString()+"/sync", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("sync in progress", func(t *testing.T) {
		srv := newTestServer(t)
		release, err := srv.locker.TryLock(context.Background(), srv.databaseID.String(), time.Minute)
		require.NoError(t, err)
		defer func() { _ = release(context.Background()) }()

		rec := srv.do(t, http.MethodPost, srv.dbPath("/sync"), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "sync_in_progress", decodeError(t, rec)["error"])
	})

	t.Run("catalog unavailable", func(t *testing.T) {
		srv := newTestServer(t)
		srv.source.err = errCatalogDown

		rec := srv.do(t, http.MethodPost, srv.dbPath("/sync"), nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "catalog_unavailable", decodeError(t, rec)["error"])

		rec = srv.do(t, http.MethodGet, srv.dbPath("/tables"), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGraphHandler_PrimaryKey(t *testing.T) {
	srv := newTestServer(t)
	srv.sync(t)

	rec := srv.do(t, http.MethodGet, srv.dbPath("/tables/customers/primary-key"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PrimaryKeyResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "customers", resp.Table)
	assert.Equal(t, []string{"id"}, resp.Columns)
	assert.Equal(t, string(services.PrimaryKeyRuleCatalog), resp.Rule)
	assert.False(t, resp.LowConfidence)

	rec = srv.do(t, http.MethodGet, srv.dbPath("/tables/ghosts/primary-key"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "table_not_found", decodeError(t, rec)["error"])
}

func TestGraphHandler_Relationships(t *testing.T) {
	srv := newTestServer(t)
	srv.sync(t)

	rec := srv.do(t, http.MethodPost, srv.dbPath("/relationships"), "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec)["error"])

	rec = srv.do(t, http.MethodPost, srv.dbPath("/relationships"), services.AddRelationshipRequest{FromTable: "orders"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_fields", decodeError(t, rec)["error"])

	req := services.AddRelationshipRequest{
		FromTable:  "orders",
		FromColumn: "billing_contact",
		ToTable:    "customers",
		ToColumn:   "id",
		Type:       "ONE_TO_MANY",
	}

	bad := req
	bad.ToTable = "contacts"
	rec = srv.do(t, http.MethodPost, srv.dbPath("/relationships"), bad)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "table_not_found", decodeError(t, rec)["error"])

	bad = req
	bad.Type = "SIDEWAYS"
	rec = srv.do(t, http.MethodPost, srv.dbPath("/relationships"), bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, srv.dbPath("/relationships"), req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rel models.Relationship
	decodeData(t, rec, &rel)
	assert.Equal(t, models.OriginManual, rel.Origin)
	assert.Equal(t, "billing_contact", rel.FromColumn)

	orders := findTable(srv.tables(t, ""), "orders")
	assert.Len(t, orders.Relationships, 2)

	rec = srv.do(t, http.MethodDelete, srv.dbPath("/relationships?from_table=orders"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodDelete, srv.dbPath("/relationships?from_table=orders&to_table=customers"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	orders = findTable(srv.tables(t, ""), "orders")
	assert.Empty(t, orders.Relationships)
	assert.False(t, orders.Column("customer_id").IsForeignKey)

	rec = srv.do(t, http.MethodDelete, srv.dbPath("/relationships?from_table=orders&to_table=customers"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraphHandler_Infer(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, srv.dbPath("/infer"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv.sync(t)
	rec = srv.do(t, http.MethodDelete, srv.dbPath("/relationships?from_table=orders&to_table=customers"), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodPost, srv.dbPath("/infer"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp InferResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, 1, resp.Added)
	assert.Equal(t, 1, resp.AddedByPass[string(services.PassTableNameForm)])
}

func TestGraphHandler_ListAdapters(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/adapters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AdaptersResponse
	decodeData(t, rec, &resp)
	assert.NotNil(t, resp.Adapters)
}

func TestRouter_CORS(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/adapters", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
