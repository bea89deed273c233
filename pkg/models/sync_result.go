package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState is the lifecycle of one synchronization run.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateFailed    SyncState = "failed"
)

// SkippedOperation is a per-entity failure that did not abort the sync.
type SkippedOperation struct {
	Operation string `json:"operation"`
	Table     string `json:"table"`
	Column    string `json:"column,omitempty"`
	Target    string `json:"target,omitempty"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
}

// SyncResult summarizes what a synchronization changed.
type SyncResult struct {
	DatabaseID uuid.UUID `json:"database_id"`
	State      SyncState `json:"state"`

	TablesAdded    int `json:"tables_added"`
	TablesUpdated  int `json:"tables_updated"`
	TablesRemoved  int `json:"tables_removed"`
	TablesRestored int `json:"tables_restored"`

	ColumnsAdded   int `json:"columns_added"`
	ColumnsUpdated int `json:"columns_updated"`
	ColumnsRemoved int `json:"columns_removed"`

	// ExplicitRelationshipsRestored counts catalog-declared and manual edges that
	// existed before the sync and were carried over unchanged.
	ExplicitRelationshipsRestored int `json:"explicit_relationships_restored"`
	// ExplicitRelationshipsAdded counts catalog declarations that were new or
	// replaced a stored edge of a different type, junction or origin.
	ExplicitRelationshipsAdded    int `json:"explicit_relationships_added"`
	InferredRelationshipsRestored int `json:"inferred_relationships_restored"`
	InferredRelationshipsAdded    int `json:"inferred_relationships_added"`
	ManyToManyRelationships       int `json:"many_to_many_relationships"`

	AddedTableNames   []string           `json:"added_table_names,omitempty"`
	RemovedTableNames []string           `json:"removed_table_names,omitempty"`
	Skipped           []SkippedOperation `json:"skipped,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
