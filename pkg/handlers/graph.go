package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/services"
)

// --- Response Types ---

// AdaptersResponse lists the registered datasource adapters.
type AdaptersResponse struct {
	Adapters []datasource.DatasourceAdapterInfo `json:"adapters"`
}

// TablesResponse lists the tables of a database.
type TablesResponse struct {
	Tables      []*models.Table `json:"tables"`
	TotalTables int             `json:"total_tables"`
}

// PrimaryKeyResponse is the resolved logical primary key of a table.
type PrimaryKeyResponse struct {
	Table         string   `json:"table"`
	Columns       []string `json:"columns"`
	Rule          string   `json:"rule"`
	LowConfidence bool     `json:"low_confidence"`
}

// InferResponse summarizes a standalone inference run.
type InferResponse struct {
	Added         int                       `json:"added"`
	AddedByPass   map[string]int            `json:"added_by_pass"`
	LowConfidence int                       `json:"low_confidence"`
	Skipped       []models.SkippedOperation `json:"skipped,omitempty"`
}

// --- Handler ---

// GraphHandler serves the schema graph: syncs, inference, tables and manual relationships.
type GraphHandler struct {
	syncService   services.SchemaSyncService
	relationships services.RelationshipService
	planner       services.SyncJobPlanner
	logger        *zap.Logger
}

// NewGraphHandler creates a new GraphHandler.
func NewGraphHandler(
	syncService services.SchemaSyncService,
	relationships services.RelationshipService,
	planner services.SyncJobPlanner,
	logger *zap.Logger,
) *GraphHandler {
	return &GraphHandler{
		syncService:   syncService,
		relationships: relationships,
		planner:       planner,
		logger:        logger,
	}
}

// RegisterRoutes registers the graph routes under api.
func (h *GraphHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/adapters", h.ListAdapters)

	db := api.Group("/databases/:id")
	db.GET("/tables", h.ListTables)
	db.GET("/tables/:table/primary-key", h.GetPrimaryKey)
	db.POST("/sync", h.Sync)
	db.POST("/infer", h.Infer)
	db.POST("/relationships", h.AddRelationship)
	db.DELETE("/relationships", h.RemoveRelationship)
}

// ListAdapters handles GET /api/adapters
func (h *GraphHandler) ListAdapters(c *gin.Context) {
	WriteJSON(c, http.StatusOK, AdaptersResponse{Adapters: datasource.RegisteredAdapters()})
}

// ListTables handles GET /api/databases/:id/tables
// include_deleted=true adds soft-deleted tables.
func (h *GraphHandler) ListTables(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}

	includeDeleted := false
	if raw := c.Query("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "invalid_parameter", "include_deleted must be a boolean")
			return
		}
		includeDeleted = v
	}

	tables, err := h.syncService.ListTables(c.Request.Context(), databaseID, includeDeleted)
	if err != nil {
		ServiceError(c, h.logger, "list tables", err)
		return
	}
	WriteJSON(c, http.StatusOK, TablesResponse{Tables: tables, TotalTables: len(tables)})
}

// GetPrimaryKey handles GET /api/databases/:id/tables/:table/primary-key
func (h *GraphHandler) GetPrimaryKey(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}
	tableName := c.Param("table")

	res, err := h.syncService.ResolvePrimaryKey(c.Request.Context(), databaseID, tableName)
	if err != nil {
		ServiceError(c, h.logger, "resolve primary key", err)
		return
	}

	columns := make([]string, 0, len(res.Columns))
	for _, col := range res.Columns {
		columns = append(columns, col.ColumnName)
	}
	WriteJSON(c, http.StatusOK, PrimaryKeyResponse{
		Table:         tableName,
		Columns:       columns,
		Rule:          string(res.Rule),
		LowConfidence: res.LowConfidence,
	})
}

// Sync handles POST /api/databases/:id/sync
// Runs a sync of the configured datasource backing the database.
func (h *GraphHandler) Sync(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}

	job, err := h.planner.PlanDatabase(databaseID)
	if err != nil {
		ServiceError(c, h.logger, "plan sync", err)
		return
	}
	defer services.CloseJobs([]services.SyncJob{job}, h.logger)

	result, err := h.syncService.SyncDatabase(c.Request.Context(), job.Database, job.Source)
	if err != nil {
		ServiceError(c, h.logger, "sync database", err)
		return
	}
	WriteJSON(c, http.StatusOK, result)
}

// Infer handles POST /api/databases/:id/infer
func (h *GraphHandler) Infer(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}

	res, err := h.syncService.InferRelationships(c.Request.Context(), databaseID)
	if err != nil {
		ServiceError(c, h.logger, "infer relationships", err)
		return
	}

	byPass := make(map[string]int, len(res.AddedByPass))
	for pass, n := range res.AddedByPass {
		byPass[string(pass)] = n
	}
	WriteJSON(c, http.StatusOK, InferResponse{
		Added:         res.Added,
		AddedByPass:   byPass,
		LowConfidence: res.LowConfidence,
		Skipped:       res.Skipped,
	})
}

// AddRelationship handles POST /api/databases/:id/relationships
func (h *GraphHandler) AddRelationship(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}

	var req services.AddRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.FromTable == "" || req.FromColumn == "" || req.ToTable == "" || req.ToColumn == "" {
		ErrorResponse(c, http.StatusBadRequest, "missing_fields", "All relationship fields are required")
		return
	}

	rel, err := h.relationships.AddRelationship(c.Request.Context(), databaseID, req)
	if err != nil {
		ServiceError(c, h.logger, "add relationship", err)
		return
	}
	WriteJSON(c, http.StatusCreated, rel)
}

// RemoveRelationship handles DELETE /api/databases/:id/relationships?from_table=..&to_table=..
func (h *GraphHandler) RemoveRelationship(c *gin.Context) {
	databaseID, ok := ParseDatabaseID(c)
	if !ok {
		return
	}

	fromTable, toTable := c.Query("from_table"), c.Query("to_table")
	if fromTable == "" || toTable == "" {
		ErrorResponse(c, http.StatusBadRequest, "missing_fields", "from_table and to_table are required")
		return
	}

	if err := h.relationships.RemoveRelationship(c.Request.Context(), databaseID, fromTable, toTable); err != nil {
		ServiceError(c, h.logger, "remove relationship", err)
		return
	}
	c.Status(http.StatusNoContent)
}
