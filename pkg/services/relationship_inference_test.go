package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

func TestRelationshipInference_Passes(t *testing.T) {
	tests := []struct {
		name       string
		seed       func(t *testing.T, add func(name string, columns ...testColumn))
		key        models.RelationshipKey
		pass       InferencePass
		confidence float64
	}{
		{
			name: "exact table name",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("customer", pk("id"))
				add("orders", pk("id"), col("customer_id"))
			},
			key:        relKey("orders", "customer_id", "customer", "id"),
			pass:       PassExactTableName,
			confidence: 1.0,
		},
		{
			name: "singular form of table name",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("customers", pk("id"))
				add("orders", pk("id"), col("customer_id"))
			},
			key:        relKey("orders", "customer_id", "customers", "id"),
			pass:       PassTableNameForm,
			confidence: 0.9,
		},
		{
			name: "normalized table name",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("Order Items", pk("id"))
				add("shipments", pk("id"), col("order_item_id"))
			},
			key:        relKey("shipments", "order_item_id", "Order Items", "id"),
			pass:       PassNormalizedTableName,
			confidence: 0.85,
		},
		{
			name: "primary key column name",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("accounts", pk("acct_id"), col("name"))
				add("invoices", pk("id"), col("acct_id"))
			},
			key:        relKey("invoices", "acct_id", "accounts", "acct_id"),
			pass:       PassPrimaryKeyName,
			confidence: 0.75,
		},
		{
			name: "self reference",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("employees", pk("id"), col("manager_id"))
			},
			key:        relKey("employees", "manager_id", "employees", "id"),
			pass:       PassSelfReference,
			confidence: 0.8,
		},
		{
			name: "first column target halves confidence",
			seed: func(t *testing.T, add func(string, ...testColumn)) {
				add("tags", col("label"), col("color"))
				add("posts", pk("id"), col("tags_id"))
			},
			key:        relKey("posts", "tags_id", "tags", "label"),
			pass:       PassExactTableName,
			confidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo, db := newTestGraph(t)
			tt.seed(t, func(name string, columns ...testColumn) {
				addTable(t, repo, db.ID, name, columns...)
			})

			engine := NewRelationshipInferenceEngine(repo, zap.NewNop())
			res, err := engine.Infer(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Added)
			assert.Equal(t, 1, res.AddedByPass[tt.pass])
			assert.Empty(t, res.Skipped)

			rels := relationshipIndex(t, repo, db.ID)
			require.Len(t, rels, 1)
			rel, ok := rels[tt.key]
			require.True(t, ok, "expected relationship %+v", tt.key)
			assert.Equal(t, models.RelationshipOneToMany, rel.Type)
			assert.Equal(t, models.OriginInferred, rel.Origin)
			require.NotNil(t, rel.InferenceMethod)
			assert.Equal(t, string(tt.pass), *rel.InferenceMethod)
			assert.InDelta(t, tt.confidence, rel.Confidence, 0.0001)

			source := reload(t, repo, db.ID, tt.key.FromTable)
			fk := source.Column(tt.key.FromColumn)
			require.NotNil(t, fk)
			assert.True(t, fk.IsForeignKey)
			require.NotNil(t, fk.ReferencesTable)
			assert.Equal(t, tt.key.ToTable, *fk.ReferencesTable)
			require.Len(t, source.RelatedTo, 1)
			assert.Equal(t, tt.key.FromColumn, source.RelatedTo[0].Via)
		})
	}
}

func TestRelationshipInference_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestGraph(t)
	addTable(t, repo, db.ID, "customers", pk("id"))
	addTable(t, repo, db.ID, "orders", pk("id"), col("customer_id"))
	addTable(t, repo, db.ID, "employees", pk("id"), col("manager_id"))

	engine := NewRelationshipInferenceEngine(repo, zap.NewNop())
	first, err := engine.Infer(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Added)

	second, err := engine.InferRelationships(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Len(t, relationshipIndex(t, repo, db.ID), 2)
}

func TestRelationshipInference_SkipsKeysAndForeignKeys(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestGraph(t)
	// customer_id is the table's own key, not a reference to itself.
	addTable(t, repo, db.ID, "customers", pk("customer_id"), col("name"))
	orders := addTable(t, repo, db.ID, "orders", pk("id"), col("customer_id"))

	// An already-marked FK column is left alone.
	fk := orders.Column("customer_id")
	fk.SetForeignKey("legacy_customers", "id")
	require.NoError(t, repo.UpdateColumnForeignKey(ctx, fk))

	res, err := NewRelationshipInferenceEngine(repo, zap.NewNop()).Infer(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Empty(t, relationshipIndex(t, repo, db.ID))
}

func TestRelationshipInference_EarlierPassWins(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestGraph(t)
	// parent_id matches table "parent" exactly in pass 1 and is never
	// reconsidered as a self reference.
	addTable(t, repo, db.ID, "parent", pk("id"))
	addTable(t, repo, db.ID, "categories", pk("id"), col("parent_id"))

	res, err := NewRelationshipInferenceEngine(repo, zap.NewNop()).Infer(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.AddedByPass[PassExactTableName])
	assert.Zero(t, res.AddedByPass[PassSelfReference])

	rels := relationshipIndex(t, repo, db.ID)
	assert.Contains(t, rels, relKey("categories", "parent_id", "parent", "id"))
}

func TestRelationshipInference_CancelledContext(t *testing.T) {
	repo, db := newTestGraph(t)
	addTable(t, repo, db.ID, "customers", pk("id"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRelationshipInferenceEngine(repo, zap.NewNop()).Infer(ctx, db)
	assert.ErrorIs(t, err, context.Canceled)
}
