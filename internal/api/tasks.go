package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/agentmon/internal/models"
)

type TaskAPI struct {
	doer Doer
}

func taskPath(id uuid.UUID) string {
	return "/tasks/" + id.String()
}

func (a *TaskAPI) List(ctx context.Context, params models.TaskListParams) ([]models.Task, error) {
	if err := validateStruct(params); err != nil {
		return nil, err
	}
	return call[[]models.Task](ctx, a.doer, get("/tasks/", params.Values()))
}

func (a *TaskAPI) Get(ctx context.Context, id uuid.UUID) (models.Task, error) {
	return call[models.Task](ctx, a.doer, get(taskPath(id), nil))
}

func (a *TaskAPI) Create(ctx context.Context, task models.TaskCreate) (models.Task, error) {
	if err := validateStruct(task); err != nil {
		return models.Task{}, err
	}
	return call[models.Task](ctx, a.doer, withBody(http.MethodPost, "/tasks/", task))
}

func (a *TaskAPI) Update(ctx context.Context, id uuid.UUID, update models.TaskUpdate) (models.Task, error) {
	if err := validateStruct(update); err != nil {
		return models.Task{}, err
	}
	return call[models.Task](ctx, a.doer, withBody(http.MethodPut, taskPath(id), update))
}

func (a *TaskAPI) Delete(ctx context.Context, id uuid.UUID) error {
	return exec(ctx, a.doer, withBody(http.MethodDelete, taskPath(id), nil))
}

// Steps returns task steps ordered by step number
func (a *TaskAPI) Steps(ctx context.Context, id uuid.UUID) ([]models.TaskStep, error) {
	return call[[]models.TaskStep](ctx, a.doer, get(taskPath(id)+"/steps", nil))
}

// Files returns file operations made by the task
func (a *TaskAPI) Files(ctx context.Context, id uuid.UUID) ([]models.FileOperation, error) {
	return call[[]models.FileOperation](ctx, a.doer, get(taskPath(id)+"/files", nil))
}

func (a *TaskAPI) Logs(ctx context.Context, id uuid.UUID) (models.TaskLogs, error) {
	return call[models.TaskLogs](ctx, a.doer, get(taskPath(id)+"/logs", nil))
}
