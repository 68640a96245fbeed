package models

import (
	"github.com/shopspring/decimal"
)

// Default look-back windows used by the API when days is not sent
const (
	DefaultAnalyticsDays   = 30
	DefaultUsageTrendsDays = 90
)

type Dashboard struct {
	Tasks struct {
		Total       int     `json:"total"`
		Recent      int     `json:"recent"`
		Completed   int     `json:"completed"`
		Failed      int     `json:"failed"`
		SuccessRate float64 `json:"success_rate"`
	} `json:"tasks"`
	Costs struct {
		TotalCost         decimal.Decimal `json:"total_cost"`
		TotalInputTokens  int64           `json:"total_input_tokens"`
		TotalOutputTokens int64           `json:"total_output_tokens"`
		TotalTokens       int64           `json:"total_tokens"`
	} `json:"costs"`
	Files struct {
		Created  int `json:"created"`
		Modified int `json:"modified"`
		Deleted  int `json:"deleted"`
		Total    int `json:"total"`
	} `json:"files"`
	Projects struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"projects"`
}

type DailyTaskStats struct {
	Date           string  `json:"date"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	FailedTasks    int     `json:"failed_tasks"`
	AvgDuration    float64 `json:"avg_duration"`
}

type TaskPerformance struct {
	DailyStats []DailyTaskStats `json:"daily_stats"`
	Averages   struct {
		DurationSeconds float64 `json:"duration_seconds"`
		Steps           float64 `json:"steps"`
		CostUSD         float64 `json:"cost_usd"`
		Tokens          float64 `json:"tokens"`
	} `json:"averages"`
}

type DailyCost struct {
	Date         string          `json:"date"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
}

type ProjectCost struct {
	ProjectName string          `json:"project_name"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	TaskCount   int             `json:"task_count"`
}

type CostAnalysis struct {
	DailyCosts   []DailyCost   `json:"daily_costs"`
	ProjectCosts []ProjectCost `json:"project_costs"`
}

type WeeklyTrend struct {
	Week        *Timestamp      `json:"week"`
	TaskCount   int             `json:"task_count"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	TotalTokens int64           `json:"total_tokens"`
	AvgDuration float64         `json:"avg_duration"`
}

type ProjectActivity struct {
	ProjectName  string     `json:"project_name"`
	TaskCount    int        `json:"task_count"`
	LastActivity *Timestamp `json:"last_activity"`
}

type UsageTrends struct {
	WeeklyTrends   []WeeklyTrend     `json:"weekly_trends"`
	ActiveProjects []ProjectActivity `json:"active_projects"`
}
