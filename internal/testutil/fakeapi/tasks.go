package fakeapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/agentmon/internal/models"
)

// AddTask stores task, filling id, totals and timestamps if missing
func (s *Server) AddTask(t models.Task) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.SessionID == "" {
		t.SessionID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}
		t.UpdatedAt = t.CreatedAt
	}
	t.TotalTokens = t.InputTokens + t.OutputTokens
	t.TotalFilesAffected = t.FilesCreated + t.FilesModified + t.FilesDeleted

	// Newest first, like the API
	s.tasks = append([]models.Task{t}, s.tasks...)
	return t
}

// SetTaskDetails sets steps, file operations and logs returned for the task
func (s *Server) SetTaskDetails(id uuid.UUID, steps []models.TaskStep, files []models.FileOperation, logs []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[id] = steps
	s.files[id] = files
	s.logs[id] = logs
}

// findTask must be called with mu held
func (s *Server) findTask(raw string) int {
	id, err := uuid.Parse(raw)
	if err != nil {
		return -1
	}
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip := queryInt(q.Get("skip"), 0)
	limit := queryInt(q.Get("limit"), 100)
	if skip < 0 || limit < 1 || limit > 1000 {
		renderDetail(w, "Invalid pagination", http.StatusUnprocessableEntity)
		return
	}
	search := strings.ToLower(q.Get("search"))

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if projectID := q.Get("project_id"); projectID != "" && t.ProjectID.String() != projectID {
			continue
		}
		if status := q.Get("status"); status != "" && t.Status != status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) {
			continue
		}
		items = append(items, t)
	}

	start := min(skip, len(items))
	end := min(start+limit, len(items))
	renderJSON(w, items[start:end])
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.TaskCreate](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	projectExists := s.findProject(req.ProjectID.String()) >= 0
	s.mu.Unlock()
	if !projectExists {
		renderDetail(w, "Project not found", http.StatusNotFound)
		return
	}

	cost := decimal.Zero
	if req.CostUSD != nil {
		cost = *req.CostUSD
	}

	renderJSON(w, s.AddTask(models.Task{
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		Description:  req.Description,
		JiraTaskLink: req.JiraTaskLink,
		SessionID:    req.SessionID,
		AgentType:    req.AgentType,
		AgentVersion: req.AgentVersion,
		Status:       req.Status,
		Priority:     req.Priority,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CostUSD:      cost,
	}))
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}
	renderJSON(w, s.tasks[i])
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.TaskUpdate](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}

	t := &s.tasks[i]
	setIf(&t.Name, req.Name)
	setIf(&t.Description, req.Description)
	setIf(&t.Status, req.Status)
	setIf(&t.Priority, req.Priority)
	setIf(&t.ErrorMessage, req.ErrorMessage)
	if req.StartTime != nil {
		t.StartTime = req.StartTime
	}
	if req.EndTime != nil {
		t.EndTime = req.EndTime
	}
	if req.DurationSeconds != nil {
		t.DurationSeconds = req.DurationSeconds
	}
	if req.InputTokens != nil {
		t.InputTokens = *req.InputTokens
	}
	if req.OutputTokens != nil {
		t.OutputTokens = *req.OutputTokens
	}
	if req.CostUSD != nil {
		t.CostUSD = *req.CostUSD
	}
	t.TotalTokens = t.InputTokens + t.OutputTokens
	t.UpdatedAt = models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}

	renderJSON(w, *t)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)

	renderJSON(w, map[string]string{"message": "Task deleted successfully"})
}

func (s *Server) handleTaskSteps(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}

	steps := s.steps[s.tasks[i].ID]
	if steps == nil {
		steps = []models.TaskStep{}
	}
	renderJSON(w, steps)
}

func (s *Server) handleTaskFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}

	files := s.files[s.tasks[i].ID]
	if files == nil {
		files = []models.FileOperation{}
	}
	renderJSON(w, files)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTask(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Task not found", http.StatusNotFound)
		return
	}

	logs := s.logs[s.tasks[i].ID]
	if logs == nil {
		logs = []map[string]any{}
	}
	renderJSON(w, models.TaskLogs{Logs: logs})
}
