package fakeapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/agentmon/internal/models"
)

// AddProject stores project as is, filling id and timestamps if missing
func (s *Server) AddProject(p models.Project) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}
		p.UpdatedAt = p.CreatedAt
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}
	s.projects = append(s.projects, p)
	return p
}

// findProject must be called with mu held
func (s *Server) findProject(id string) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), 10)
	if page < 1 || pageSize < 1 || pageSize > 100 {
		renderDetail(w, "Invalid pagination", http.StatusUnprocessableEntity)
		return
	}
	search := strings.ToLower(q.Get("search"))

	s.mu.Lock()
	items := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Code), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if status := q.Get("status"); status != "" && p.Status != status {
			continue
		}
		if priority := q.Get("priority"); priority != "" && p.Priority != priority {
			continue
		}
		items = append(items, p)
	}
	s.mu.Unlock()

	desc := !strings.EqualFold(q.Get("sort_order"), "asc")
	sortBy := q.Get("sort_by")
	less := func(a, b models.Project) bool {
		switch sortBy {
		case "name":
			return a.Name < b.Name
		case "code":
			return a.Code < b.Code
		default:
			return a.CreatedAt.Before(b.CreatedAt.Time)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})

	total := len(items)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	totalPages := (total + pageSize - 1) / pageSize

	renderJSON(w, models.ProjectList{
		Items:      items[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	})
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.ProjectCreate](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	for _, p := range s.projects {
		if p.Code == req.Code {
			s.mu.Unlock()
			renderDetail(w, "Project code already exists", http.StatusBadRequest)
			return
		}
	}
	s.mu.Unlock()

	renderJSON(w, s.AddProject(models.Project{
		Name:           req.Name,
		Code:           req.Code,
		Description:    req.Description,
		JiraLink:       req.JiraLink,
		RepositoryURL:  req.RepositoryURL,
		Status:         req.Status,
		Priority:       req.Priority,
		OwnerID:        req.OwnerID,
		TeamMembers:    req.TeamMembers,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Budget:         req.Budget,
		EstimatedHours: req.EstimatedHours,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
	}))
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findProject(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Project not found", http.StatusNotFound)
		return
	}
	renderJSON(w, s.projects[i])
}

func (s *Server) handleProjectUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.ProjectUpdate](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findProject(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Project not found", http.StatusNotFound)
		return
	}

	p := &s.projects[i]
	setIf(&p.Name, req.Name)
	setIf(&p.Code, req.Code)
	setIf(&p.Description, req.Description)
	setIf(&p.JiraLink, req.JiraLink)
	setIf(&p.RepositoryURL, req.RepositoryURL)
	setIf(&p.Status, req.Status)
	setIf(&p.Priority, req.Priority)
	setIf(&p.OwnerID, req.OwnerID)
	if req.TeamMembers != nil {
		p.TeamMembers = req.TeamMembers
	}
	if req.StartDate != nil {
		p.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		p.EndDate = req.EndDate
	}
	if req.Budget != nil {
		p.Budget = req.Budget
	}
	if req.EstimatedHours != nil {
		p.EstimatedHours = req.EstimatedHours
	}
	if req.ActualHours != nil {
		p.ActualHours = req.ActualHours
	}
	if req.Tags != nil {
		p.Tags = req.Tags
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}
	p.UpdatedAt = models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}

	renderJSON(w, *p)
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findProject(r.PathValue("id"))
	if i < 0 {
		renderDetail(w, "Project not found", http.StatusNotFound)
		return
	}
	s.projects = append(s.projects[:i], s.projects[i+1:]...)

	renderJSON(w, map[string]string{"message": "Project deleted successfully"})
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	if s.findProject(id) < 0 {
		renderDetail(w, "Project not found", http.StatusNotFound)
		return
	}

	stats := models.ProjectStats{TotalCost: decimal.Zero}
	for _, t := range s.tasks {
		if t.ProjectID.String() != id {
			continue
		}
		stats.TotalTasks++
		switch t.Status {
		case models.TaskStatusCompleted:
			stats.CompletedTasks++
		case models.TaskStatusFailed:
			stats.FailedTasks++
		case models.TaskStatusPending:
			stats.PendingTasks++
		}
		stats.TotalCost = stats.TotalCost.Add(t.CostUSD)
		stats.TotalTokens += t.TotalTokens
		stats.TotalFilesAffected += t.TotalFilesAffected
	}

	renderJSON(w, stats)
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
