package app

import (
	"context"
	"errors"
	"fmt"

	"taskmanager/internal/config"
	"taskmanager/internal/repo"
)

// ResolveProjectAndConfig picks the active project and its stored config. It prefers
// the override, then the only project in the workspace. A project without a stored
// config gets the workspace taskmanager.yml, or defaults, seeded on first use.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no project yet; create one with tm project create")
			}
			return "", nil, fmt.Errorf("project not specified; use --project: %w", err)
		}
		projectID = p.ID
	}
	if _, err := r.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("project %s not found", projectID)
		}
		return "", nil, err
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err == nil {
		return projectID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	if seed == nil {
		seed = config.Default(projectID)
	}
	seed.Project.ID = projectID
	if err := r.UpsertProjectConfig(ctx, projectID, seed); err != nil {
		return "", nil, fmt.Errorf("seed project config: %w", err)
	}
	return projectID, seed, nil
}
