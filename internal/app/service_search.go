package app

import (
	"context"
	"fmt"
	"strings"

	"taskboard/api/internal/search"
)

// Search runs a full-text query scoped to the projects the actor can read.
func (s *Service) Search(ctx context.Context, actor Identity, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, errDependencyUnavailable("search is not configured")
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, errValidation("q is required", map[string]any{"field": "q"})
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.UserID = actor.UserID

	projects, err := s.store.ListProjectsForUser(ctx, actor.UserID)
	if err != nil {
		return search.Response{}, fmt.Errorf("list projects: %w", err)
	}
	allowed := make(map[string]bool, len(projects))
	for _, project := range projects {
		allowed[project.ID] = true
	}
	if q.FilterProjectID != "" && !allowed[q.FilterProjectID] {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q, allowed), nil
}
