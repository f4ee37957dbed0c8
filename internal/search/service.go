package search

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *logrus.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *logrus.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// allowedProjects is the caller's permission set; Meilisearch hits outside it
// are dropped since the index carries no per-user data. The FTS path enforces
// this in SQL.
func (s *Service) Search(ctx context.Context, q Query, allowedProjects map[string]bool) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			filtered := filterByProjects(nonNil(results), allowedProjects)
			return Response{Results: filtered, Total: total, Query: q.Text}
		}
		s.logger.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(t); err != nil {
			s.logger.WithError(err).WithField("task_id", t.ID).Warn("index task failed")
		}
	}()
}

// IndexProject indexes a project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(p ProjectRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProject(p); err != nil {
			s.logger.WithError(err).WithField("project_id", p.ID).Warn("index project failed")
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			s.logger.WithError(err).WithField("task_id", id).Warn("delete task from index failed")
		}
	}()
}

// DeleteProject removes a project from the search index (fire-and-forget).
func (s *Service) DeleteProject(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(id); err != nil {
			s.logger.WithError(err).WithField("project_id", id).Warn("delete project from index failed")
		}
	}()
}

// ReindexAllFromPG reads all searchable rows from PostgreSQL and pushes them
// to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	tasks, projects, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.WithError(err).Error("reindex load failed")
		return
	}
	if err := s.meili.IndexTasks(tasks); err != nil {
		s.logger.WithError(err).Error("reindex tasks failed")
	}
	if err := s.meili.IndexProjects(projects); err != nil {
		s.logger.WithError(err).Error("reindex projects failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func filterByProjects(results []Result, allowed map[string]bool) []Result {
	if allowed == nil {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if allowed[result.ProjectID] {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
