package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/nkiryanov/agentmon/internal/models"
)

type ProjectAPI struct {
	doer Doer
}

func (a *ProjectAPI) List(ctx context.Context, params models.ProjectListParams) (models.ProjectList, error) {
	if err := validateStruct(params); err != nil {
		return models.ProjectList{}, err
	}
	return call[models.ProjectList](ctx, a.doer, get("/projects/", params.Values()))
}

func (a *ProjectAPI) Get(ctx context.Context, id string) (models.Project, error) {
	if id == "" {
		return models.Project{}, errors.New("project id is required")
	}
	return call[models.Project](ctx, a.doer, get("/projects/"+url.PathEscape(id), nil))
}

func (a *ProjectAPI) Create(ctx context.Context, project models.ProjectCreate) (models.Project, error) {
	if err := validateStruct(project); err != nil {
		return models.Project{}, err
	}
	return call[models.Project](ctx, a.doer, withBody(http.MethodPost, "/projects/", project))
}

func (a *ProjectAPI) Update(ctx context.Context, id string, update models.ProjectUpdate) (models.Project, error) {
	if id == "" {
		return models.Project{}, errors.New("project id is required")
	}
	if err := validateStruct(update); err != nil {
		return models.Project{}, err
	}
	return call[models.Project](ctx, a.doer, withBody(http.MethodPut, "/projects/"+url.PathEscape(id), update))
}

func (a *ProjectAPI) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("project id is required")
	}
	return exec(ctx, a.doer, withBody(http.MethodDelete, "/projects/"+url.PathEscape(id), nil))
}

func (a *ProjectAPI) Stats(ctx context.Context, id string) (models.ProjectStats, error) {
	if id == "" {
		return models.ProjectStats{}, errors.New("project id is required")
	}
	return call[models.ProjectStats](ctx, a.doer, get("/projects/"+url.PathEscape(id)+"/stats", nil))
}
