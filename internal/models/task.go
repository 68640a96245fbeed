package models

import (
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

type Task struct {
	ID                 uuid.UUID       `json:"id"`
	ProjectID          uuid.UUID       `json:"project_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	JiraTaskLink       string          `json:"jira_task_link,omitempty"`
	SessionID          string          `json:"session_id"`
	AgentType          string          `json:"agent_type,omitempty"`
	AgentVersion       string          `json:"agent_version,omitempty"`
	Status             string          `json:"status"`
	Priority           string          `json:"priority"`
	StartTime          *Timestamp      `json:"start_time,omitempty"`
	EndTime            *Timestamp      `json:"end_time,omitempty"`
	DurationSeconds    *int            `json:"duration_seconds,omitempty"`
	InputTokens        int64           `json:"input_tokens"`
	OutputTokens       int64           `json:"output_tokens"`
	TotalTokens        int64           `json:"total_tokens"`
	CostUSD            decimal.Decimal `json:"cost_usd"`
	CostBreakdown      map[string]any  `json:"cost_breakdown,omitempty"`
	TotalSteps         int             `json:"total_steps"`
	CompletedSteps     int             `json:"completed_steps"`
	FailedSteps        int             `json:"failed_steps"`
	FilesCreated       int             `json:"files_created"`
	FilesModified      int             `json:"files_modified"`
	FilesDeleted       int             `json:"files_deleted"`
	TotalFilesAffected int             `json:"total_files_affected"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          Timestamp       `json:"created_at"`
	UpdatedAt          Timestamp       `json:"updated_at"`
}

type TaskCreate struct {
	ProjectID    uuid.UUID        `json:"project_id" validate:"required"`
	Name         string           `json:"name" validate:"required,max=255"`
	Description  string           `json:"description,omitempty"`
	JiraTaskLink string           `json:"jira_task_link,omitempty" validate:"omitempty,url"`
	SessionID    string           `json:"session_id" validate:"required"`
	AgentType    string           `json:"agent_type,omitempty"`
	AgentVersion string           `json:"agent_version,omitempty"`
	Status       string           `json:"status,omitempty" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Priority     string           `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	InputTokens  int64            `json:"input_tokens,omitempty" validate:"min=0"`
	OutputTokens int64            `json:"output_tokens,omitempty" validate:"min=0"`
	CostUSD      *decimal.Decimal `json:"cost_usd,omitempty"`
}

// TaskUpdate is a partial update: nil fields are left untouched by the API
type TaskUpdate struct {
	Name            *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description     *string          `json:"description,omitempty"`
	Status          *string          `json:"status,omitempty" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Priority        *string          `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	StartTime       *Timestamp       `json:"start_time,omitempty"`
	EndTime         *Timestamp       `json:"end_time,omitempty"`
	DurationSeconds *int             `json:"duration_seconds,omitempty" validate:"omitempty,min=0"`
	InputTokens     *int64           `json:"input_tokens,omitempty" validate:"omitempty,min=0"`
	OutputTokens    *int64           `json:"output_tokens,omitempty" validate:"omitempty,min=0"`
	CostUSD         *decimal.Decimal `json:"cost_usd,omitempty"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
}

type TaskListParams struct {
	Skip      int       `validate:"min=0"`
	Limit     int       `validate:"omitempty,min=1,max=1000"`
	ProjectID uuid.UUID `validate:"-"`
	Status    string    `validate:"omitempty,oneof=pending running completed failed cancelled"`
	Search    string    `validate:"omitempty"`
}

func (p TaskListParams) Values() url.Values {
	v := url.Values{}
	setInt(v, "skip", p.Skip)
	setInt(v, "limit", p.Limit)
	if p.ProjectID != uuid.Nil {
		v.Set("project_id", p.ProjectID.String())
	}
	setString(v, "status", p.Status)
	setString(v, "search", p.Search)
	return v
}

type TaskStep struct {
	ID              uuid.UUID       `json:"id"`
	TaskID          uuid.UUID       `json:"task_id"`
	StepNumber      int             `json:"step_number"`
	StepName        string          `json:"step_name,omitempty"`
	StepDescription string          `json:"step_description,omitempty"`
	StepType        string          `json:"step_type,omitempty"`
	Status          string          `json:"status"`
	StartTime       *Timestamp      `json:"start_time,omitempty"`
	EndTime         *Timestamp      `json:"end_time,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	InputTokens     int64           `json:"input_tokens"`
	OutputTokens    int64           `json:"output_tokens"`
	StepCostUSD     decimal.Decimal `json:"step_cost_usd"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       Timestamp       `json:"created_at"`
	UpdatedAt       Timestamp       `json:"updated_at"`
}

const (
	FileOperationCreate = "create"
	FileOperationModify = "modify"
	FileOperationDelete = "delete"
)

type FileOperation struct {
	ID                 uuid.UUID  `json:"id"`
	TaskID             uuid.UUID  `json:"task_id"`
	OperationType      string     `json:"operation_type"`
	FilePath           string     `json:"file_path"`
	FileName           string     `json:"file_name,omitempty"`
	FileExtension      string     `json:"file_extension,omitempty"`
	FileSizeBytes      *int64     `json:"file_size_bytes,omitempty"`
	LinesAdded         int        `json:"lines_added"`
	LinesRemoved       int        `json:"lines_removed"`
	LinesModified      int        `json:"lines_modified"`
	DiffContent        string     `json:"diff_content,omitempty"`
	MimeType           string     `json:"mime_type,omitempty"`
	OperationTimestamp *Timestamp `json:"operation_timestamp,omitempty"`
	StepNumber         *int       `json:"step_number,omitempty"`
}

type TaskLogs struct {
	Logs []map[string]any `json:"logs"`
}
