package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/repositories"
)

// InferencePass names one naming heuristic. Passes run in declaration order.
type InferencePass string

const (
	PassExactTableName      InferencePass = "exact_table_name"
	PassTableNameForm       InferencePass = "table_name_form"
	PassNormalizedTableName InferencePass = "normalized_table_name"
	PassPrimaryKeyName      InferencePass = "primary_key_name"
	PassSelfReference       InferencePass = "self_reference"
)

// InferencePasses lists the passes in execution order.
var InferencePasses = []InferencePass{
	PassExactTableName,
	PassTableNameForm,
	PassNormalizedTableName,
	PassPrimaryKeyName,
	PassSelfReference,
}

var passConfidence = map[InferencePass]float64{
	PassExactTableName:      1.0,
	PassTableNameForm:       0.9,
	PassNormalizedTableName: 0.85,
	PassPrimaryKeyName:      0.75,
	PassSelfReference:       0.8,
}

// InferenceResult reports what one inference run created.
type InferenceResult struct {
	Added       int
	AddedByPass map[InferencePass]int
	// LowConfidence counts edges whose target key came from the first-column fallback.
	LowConfidence int
	Skipped       []models.SkippedOperation
}

// RelationshipInferenceEngine derives foreign-key relationships from column
// naming conventions. Every inferred edge is ONE_TO_MANY from the referencing
// column to the target table's primary key.
type RelationshipInferenceEngine struct {
	store    repositories.SchemaGraphRepository
	resolver *PrimaryKeyResolver
	edges    *edgeWriter
	logger   *zap.Logger
}

// NewRelationshipInferenceEngine creates a RelationshipInferenceEngine.
func NewRelationshipInferenceEngine(store repositories.SchemaGraphRepository, logger *zap.Logger) *RelationshipInferenceEngine {
	logger = logger.Named("relationship-inference")
	return &RelationshipInferenceEngine{
		store:    store,
		resolver: NewPrimaryKeyResolver(logger),
		edges:    &edgeWriter{store: store, logger: logger},
		logger:   logger,
	}
}

// InferRelationships runs Infer and returns the number of edges created.
func (e *RelationshipInferenceEngine) InferRelationships(ctx context.Context, database *models.Database) (int, error) {
	res, err := e.Infer(ctx, database)
	if err != nil {
		return 0, err
	}
	return res.Added, nil
}

// Infer runs all passes over the active tables of database. It is idempotent:
// existing edges seed the visited set and are never duplicated. Columns that
// are primary keys (flagged or resolved) or already foreign keys are never
// considered, so a column matched by an earlier pass is skipped by later ones.
func (e *RelationshipInferenceEngine) Infer(ctx context.Context, database *models.Database) (*InferenceResult, error) {
	tables, err := e.store.AllTables(ctx, database.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables for inference: %w", err)
	}
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].TableName < tables[j].TableName })

	run := &inferenceRun{
		ctx:           ctx,
		engine:        e,
		tables:        tables,
		columns:       make(map[uuid.UUID][]*models.Column, len(tables)),
		primaryKeys:   make(map[uuid.UUID]*models.Column, len(tables)),
		lowConfidence: make(map[uuid.UUID]bool),
		visited:       make(map[models.RelationshipKey]bool),
		result:        &InferenceResult{AddedByPass: make(map[InferencePass]int)},
	}

	for _, t := range tables {
		run.columns[t.ID] = orderedColumns(t)
		res := e.resolver.Resolve(t)
		if pk := res.Column(); pk != nil {
			run.primaryKeys[t.ID] = pk
			run.lowConfidence[t.ID] = res.LowConfidence
		}
		for _, rel := range t.Relationships {
			run.visited[rel.Key()] = true
		}
	}

	passes := map[InferencePass]func(){
		PassExactTableName:      run.exactTableNamePass,
		PassTableNameForm:       run.tableNameFormPass,
		PassNormalizedTableName: run.normalizedTableNamePass,
		PassPrimaryKeyName:      run.primaryKeyNamePass,
		PassSelfReference:       run.selfReferencePass,
	}
	for _, pass := range InferencePasses {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}
		passes[pass]()
	}

	e.logger.Info("Relationship inference completed",
		zap.String("database_id", database.ID.String()),
		zap.Int("tables", len(tables)),
		zap.Int("added", run.result.Added),
		zap.Int("low_confidence", run.result.LowConfidence),
		zap.Int("skipped", len(run.result.Skipped)))

	return run.result, nil
}

type inferenceRun struct {
	ctx    context.Context
	engine *RelationshipInferenceEngine
	tables []*models.Table

	columns       map[uuid.UUID][]*models.Column
	primaryKeys   map[uuid.UUID]*models.Column
	lowConfidence map[uuid.UUID]bool
	visited       map[models.RelationshipKey]bool

	result *InferenceResult
}

// candidates yields every (table, column) pair still eligible as a foreign key.
func (r *inferenceRun) candidates(fn func(t *models.Table, c *models.Column)) {
	for _, t := range r.tables {
		for _, c := range r.columns[t.ID] {
			if r.excluded(t, c) {
				continue
			}
			fn(t, c)
		}
	}
}

func (r *inferenceRun) excluded(t *models.Table, c *models.Column) bool {
	if c.IsPrimaryKey || c.IsForeignKey {
		return true
	}
	pk := r.primaryKeys[t.ID]
	return pk != nil && pk.ID == c.ID
}

// Pass 1: {X}_id where X is another table's exact name.
func (r *inferenceRun) exactTableNamePass() {
	r.candidates(func(t *models.Table, c *models.Column) {
		stem, ok := foreignKeyStem(c.ColumnName)
		if !ok {
			return
		}
		for _, u := range r.tables {
			if u.ID != t.ID && strings.EqualFold(u.TableName, stem) {
				r.link(PassExactTableName, t, c, u)
				return
			}
		}
	})
}

// Pass 2: {X}_id where X is the singular or plural form of another table's name.
func (r *inferenceRun) tableNameFormPass() {
	r.candidates(func(t *models.Table, c *models.Column) {
		stem, ok := foreignKeyStem(c.ColumnName)
		if !ok {
			return
		}
		for _, u := range r.tables {
			if u.ID == t.ID {
				continue
			}
			if stem == singularName(u.TableName) || stem == pluralName(u.TableName) {
				r.link(PassTableNameForm, t, c, u)
				return
			}
		}
	})
}

// Pass 3: compare every column against {singular(norm(U))}_id and {norm(U)}_id
// for each target table U, so "Order Items" is found through order_item_id.
func (r *inferenceRun) normalizedTableNamePass() {
	for _, u := range r.tables {
		norm := normalizeName(u.TableName)
		if norm == "" {
			continue
		}
		wanted := map[string]bool{
			singularName(norm) + foreignKeySuffix: true,
			norm + foreignKeySuffix:               true,
		}
		r.candidates(func(t *models.Table, c *models.Column) {
			if t.ID != u.ID && wanted[normalizeName(c.ColumnName)] {
				r.link(PassNormalizedTableName, t, c, u)
			}
		})
	}
}

// Pass 4: a column ending in _id whose name equals another table's primary key column name.
func (r *inferenceRun) primaryKeyNamePass() {
	byKeyName := make(map[string][]*models.Table)
	for _, u := range r.tables {
		if pk := r.primaryKeys[u.ID]; pk != nil {
			name := strings.ToLower(pk.ColumnName)
			if strings.HasSuffix(name, foreignKeySuffix) {
				byKeyName[name] = append(byKeyName[name], u)
			}
		}
	}

	r.candidates(func(t *models.Table, c *models.Column) {
		name := strings.ToLower(c.ColumnName)
		if !strings.HasSuffix(name, foreignKeySuffix) {
			return
		}
		for _, u := range byKeyName[name] {
			if u.ID != t.ID {
				r.link(PassPrimaryKeyName, t, c, u)
				return
			}
		}
	})
}

// Pass 5: hierarchy columns such as parent_id or manager_id point at the table itself.
func (r *inferenceRun) selfReferencePass() {
	r.candidates(func(t *models.Table, c *models.Column) {
		if selfReferenceColumns[strings.ToLower(c.ColumnName)] {
			r.link(PassSelfReference, t, c, t)
		}
	})
}

// link creates the inferred edge from t.c to u's primary key. It reports whether an edge was created.
func (r *inferenceRun) link(pass InferencePass, t *models.Table, c *models.Column, u *models.Table) bool {
	pk := r.primaryKeys[u.ID]
	if pk == nil {
		return false
	}

	key := models.RelationshipKey{
		FromTable:  t.TableName,
		ToTable:    u.TableName,
		FromColumn: c.ColumnName,
		ToColumn:   pk.ColumnName,
	}
	if r.visited[key] {
		return false
	}

	method := string(pass)
	confidence := passConfidence[pass]
	lowConfidence := r.lowConfidence[u.ID]
	if lowConfidence {
		confidence /= 2
	}

	attrs := models.RelationshipEdgeAttributes(models.RelationshipOneToMany, c.ColumnName, pk.ColumnName, models.OriginInferred)
	attrs.InferenceMethod = &method
	attrs.Confidence = confidence

	err := r.engine.edges.link(r.ctx, t, c, u, attrs)
	if errors.Is(err, apperrors.ErrDuplicateRelationship) {
		r.visited[key] = true
		return false
	}
	if err != nil {
		r.engine.logger.Warn("Failed to create inferred relationship",
			zap.String("pass", method),
			zap.String("from", t.TableName+"."+c.ColumnName),
			zap.String("to", u.TableName+"."+pk.ColumnName),
			zap.Error(err))
		r.result.Skipped = append(r.result.Skipped,
			skippedOperation(opInfer, t.TableName, c.ColumnName, u.TableName, err))
		return false
	}

	r.visited[key] = true
	r.result.Added++
	r.result.AddedByPass[pass]++
	if lowConfidence {
		r.result.LowConfidence++
	}

	r.engine.logger.Debug("Inferred relationship",
		zap.String("pass", method),
		zap.String("from", t.TableName+"."+c.ColumnName),
		zap.String("to", u.TableName+"."+pk.ColumnName),
		zap.Float64("confidence", confidence))
	return true
}
