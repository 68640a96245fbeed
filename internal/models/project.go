package models

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	ProjectStatusActive    = "active"
	ProjectStatusInactive  = "inactive"
	ProjectStatusCompleted = "completed"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

type Project struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Code           string           `json:"code"`
	Description    string           `json:"description,omitempty"`
	JiraLink       string           `json:"jira_link,omitempty"`
	RepositoryURL  string           `json:"repository_url,omitempty"`
	Status         string           `json:"status"`
	Priority       string           `json:"priority"`
	OwnerID        string           `json:"owner_id,omitempty"`
	TeamMembers    []string         `json:"team_members"`
	StartDate      *Date            `json:"start_date,omitempty"`
	EndDate        *Date            `json:"end_date,omitempty"`
	Budget         *decimal.Decimal `json:"budget,omitempty"`
	EstimatedHours *int             `json:"estimated_hours,omitempty"`
	ActualHours    *int             `json:"actual_hours,omitempty"`
	Tags           []string         `json:"tags"`
	Metadata       map[string]any   `json:"project_metadata"`
	CreatedAt      Timestamp        `json:"created_at"`
	UpdatedAt      Timestamp        `json:"updated_at"`
}

type ProjectCreate struct {
	Name           string           `json:"name" validate:"required,max=255"`
	Code           string           `json:"code" validate:"required,max=50"`
	Description    string           `json:"description,omitempty"`
	JiraLink       string           `json:"jira_link,omitempty" validate:"omitempty,url"`
	RepositoryURL  string           `json:"repository_url,omitempty" validate:"omitempty,url"`
	Status         string           `json:"status,omitempty" validate:"omitempty,oneof=active inactive completed"`
	Priority       string           `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	OwnerID        string           `json:"owner_id,omitempty"`
	TeamMembers    []string         `json:"team_members,omitempty"`
	StartDate      *Date            `json:"start_date,omitempty"`
	EndDate        *Date            `json:"end_date,omitempty"`
	Budget         *decimal.Decimal `json:"budget,omitempty"`
	EstimatedHours *int             `json:"estimated_hours,omitempty" validate:"omitempty,min=0"`
	Tags           []string         `json:"tags,omitempty"`
	Metadata       map[string]any   `json:"project_metadata,omitempty"`
}

// ProjectUpdate is a partial update: nil fields are left untouched by the API
type ProjectUpdate struct {
	Name           *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Code           *string          `json:"code,omitempty" validate:"omitempty,min=1,max=50"`
	Description    *string          `json:"description,omitempty"`
	JiraLink       *string          `json:"jira_link,omitempty" validate:"omitempty,url"`
	RepositoryURL  *string          `json:"repository_url,omitempty" validate:"omitempty,url"`
	Status         *string          `json:"status,omitempty" validate:"omitempty,oneof=active inactive completed"`
	Priority       *string          `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	OwnerID        *string          `json:"owner_id,omitempty"`
	TeamMembers    []string         `json:"team_members,omitempty"`
	StartDate      *Date            `json:"start_date,omitempty"`
	EndDate        *Date            `json:"end_date,omitempty"`
	Budget         *decimal.Decimal `json:"budget,omitempty"`
	EstimatedHours *int             `json:"estimated_hours,omitempty" validate:"omitempty,min=0"`
	ActualHours    *int             `json:"actual_hours,omitempty" validate:"omitempty,min=0"`
	Tags           []string         `json:"tags,omitempty"`
	Metadata       map[string]any   `json:"project_metadata,omitempty"`
}

type ProjectStats struct {
	TotalTasks         int             `json:"total_tasks"`
	CompletedTasks     int             `json:"completed_tasks"`
	FailedTasks        int             `json:"failed_tasks"`
	PendingTasks       int             `json:"pending_tasks"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	TotalTokens        int64           `json:"total_tokens"`
	TotalFilesAffected int             `json:"total_files_affected"`
}

// One page of projects
type ProjectList struct {
	Items      []Project `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
	HasNext    bool      `json:"has_next"`
	HasPrev    bool      `json:"has_prev"`
}

// Filters, sorting and pagination for project listing.
// Zero values are not sent, so the API defaults apply
type ProjectListParams struct {
	Page      int    `validate:"omitempty,min=1"`
	PageSize  int    `validate:"omitempty,min=1,max=100"`
	Search    string `validate:"omitempty"`
	Status    string `validate:"omitempty,oneof=active inactive completed"`
	Priority  string `validate:"omitempty,oneof=low medium high critical"`
	SortBy    string `validate:"omitempty"`
	SortOrder string `validate:"omitempty,oneof=asc desc"`
}

func (p ProjectListParams) Values() url.Values {
	v := url.Values{}
	setInt(v, "page", p.Page)
	setInt(v, "page_size", p.PageSize)
	setString(v, "search", p.Search)
	setString(v, "status", p.Status)
	setString(v, "priority", p.Priority)
	setString(v, "sort_by", p.SortBy)
	setString(v, "sort_order", p.SortOrder)
	return v
}

func setString(v url.Values, key string, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func setInt(v url.Values, key string, value int) {
	if value != 0 {
		v.Set(key, strconv.Itoa(value))
	}
}
