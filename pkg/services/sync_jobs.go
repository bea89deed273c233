package services

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/catalog"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/models"
)

// SourceOpener opens the catalog source of a configured datasource.
type SourceOpener interface {
	Open(ds *config.DatasourceConfig) (catalog.Source, error)
}

// SyncJobPlanner turns configured datasources into sync jobs.
type SyncJobPlanner interface {
	// Plan returns one job per named datasource (name or database ID), or for
	// every datasource when no name is given. Unknown names fail with apperrors.ErrNotFound.
	Plan(names ...string) ([]SyncJob, error)

	// PlanDatabase returns the job of the datasource backing databaseID.
	PlanDatabase(databaseID uuid.UUID) (SyncJob, error)
}

type syncJobPlanner struct {
	datasources []config.DatasourceConfig
	sources     SourceOpener
	logger      *zap.Logger
}

// NewSyncJobPlanner creates a SyncJobPlanner over the datasources of cfg.
func NewSyncJobPlanner(cfg *config.Config, sources SourceOpener, logger *zap.Logger) SyncJobPlanner {
	return &syncJobPlanner{
		datasources: cfg.Datasources,
		sources:     sources,
		logger:      logger.Named("sync-jobs"),
	}
}

var _ SyncJobPlanner = (*syncJobPlanner)(nil)

func (p *syncJobPlanner) Plan(names ...string) ([]SyncJob, error) {
	var selected []*config.DatasourceConfig
	if len(names) == 0 {
		for i := range p.datasources {
			selected = append(selected, &p.datasources[i])
		}
	} else {
		lookup := &config.Config{Datasources: p.datasources}
		for _, name := range names {
			ds, ok := lookup.Datasource(name)
			if !ok {
				return nil, fmt.Errorf("datasource %q: %w", name, apperrors.ErrNotFound)
			}
			selected = append(selected, ds)
		}
	}

	jobs := make([]SyncJob, 0, len(selected))
	for _, ds := range selected {
		job, err := p.job(ds)
		if err != nil {
			CloseJobs(jobs, p.logger)
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (p *syncJobPlanner) PlanDatabase(databaseID uuid.UUID) (SyncJob, error) {
	jobs, err := p.Plan(databaseID.String())
	if err != nil {
		return SyncJob{}, err
	}
	return jobs[0], nil
}

func (p *syncJobPlanner) job(ds *config.DatasourceConfig) (SyncJob, error) {
	id, err := ds.DatabaseID()
	if err != nil {
		return SyncJob{}, err
	}
	source, err := p.sources.Open(ds)
	if err != nil {
		return SyncJob{}, fmt.Errorf("datasource %q: %w", ds.Name, err)
	}
	return SyncJob{
		Database: &models.Database{
			ID:         id,
			Name:       ds.Name,
			SourceType: catalog.SourceTypeOf(ds.Type),
		},
		Source: source,
	}, nil
}

// CloseJobs closes the sources of jobs, logging failures.
func CloseJobs(jobs []SyncJob, logger *zap.Logger) {
	for _, job := range jobs {
		if job.Source == nil {
			continue
		}
		if err := job.Source.Close(); err != nil {
			logger.Warn("Failed to close catalog source",
				zap.String("database", databaseName(job.Database)),
				zap.Error(err))
		}
	}
}
