package fakeapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/agentmon/internal/models"
)

// window returns tasks created during the last days, days taken from query with default def
func (s *Server) window(w http.ResponseWriter, r *http.Request, def int) ([]models.Task, bool) {
	days := queryInt(r.URL.Query().Get("days"), def)
	if days < 1 {
		renderDetail(w, "Invalid days", http.StatusUnprocessableEntity)
		return nil, false
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.CreatedAt.Before(since) {
			tasks = append(tasks, t)
		}
	}
	return tasks, true
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	recent, ok := s.window(w, r, models.DefaultAnalyticsDays)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var d models.Dashboard
	d.Tasks.Total = len(s.tasks)
	d.Tasks.Recent = len(recent)
	d.Costs.TotalCost = decimal.Zero
	for _, t := range recent {
		switch t.Status {
		case models.TaskStatusCompleted:
			d.Tasks.Completed++
		case models.TaskStatusFailed:
			d.Tasks.Failed++
		}
		d.Costs.TotalCost = d.Costs.TotalCost.Add(t.CostUSD)
		d.Costs.TotalInputTokens += t.InputTokens
		d.Costs.TotalOutputTokens += t.OutputTokens
		d.Costs.TotalTokens += t.TotalTokens
		d.Files.Created += t.FilesCreated
		d.Files.Modified += t.FilesModified
		d.Files.Deleted += t.FilesDeleted
		d.Files.Total += t.TotalFilesAffected
	}
	if d.Tasks.Recent > 0 {
		d.Tasks.SuccessRate = float64(d.Tasks.Completed) / float64(d.Tasks.Recent) * 100
	}

	d.Projects.Total = len(s.projects)
	for _, p := range s.projects {
		if p.Status == models.ProjectStatusActive {
			d.Projects.Active++
		}
	}

	renderJSON(w, d)
}

func (s *Server) handleTaskPerformance(w http.ResponseWriter, r *http.Request) {
	tasks, ok := s.window(w, r, models.DefaultAnalyticsDays)
	if !ok {
		return
	}

	byDate := make(map[string]*models.DailyTaskStats)
	var perf models.TaskPerformance
	for _, t := range tasks {
		date := t.CreatedAt.Format(time.DateOnly)
		stats, found := byDate[date]
		if !found {
			stats = &models.DailyTaskStats{Date: date}
			byDate[date] = stats
		}
		stats.TotalTasks++
		switch t.Status {
		case models.TaskStatusCompleted:
			stats.CompletedTasks++
		case models.TaskStatusFailed:
			stats.FailedTasks++
		}

		cost, _ := t.CostUSD.Float64()
		perf.Averages.CostUSD += cost
		perf.Averages.Steps += float64(t.TotalSteps)
		perf.Averages.Tokens += float64(t.TotalTokens)
		if t.DurationSeconds != nil {
			perf.Averages.DurationSeconds += float64(*t.DurationSeconds)
		}
	}

	if n := float64(len(tasks)); n > 0 {
		perf.Averages.CostUSD /= n
		perf.Averages.Steps /= n
		perf.Averages.Tokens /= n
		perf.Averages.DurationSeconds /= n
	}

	perf.DailyStats = make([]models.DailyTaskStats, 0, len(byDate))
	for _, stats := range byDate {
		perf.DailyStats = append(perf.DailyStats, *stats)
	}
	sort.Slice(perf.DailyStats, func(i, j int) bool { return perf.DailyStats[i].Date < perf.DailyStats[j].Date })

	renderJSON(w, perf)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	tasks, ok := s.window(w, r, models.DefaultAnalyticsDays)
	if !ok {
		return
	}

	s.mu.Lock()
	projectNames := make(map[string]string, len(s.projects))
	for _, p := range s.projects {
		projectNames[p.ID] = p.Name
	}
	s.mu.Unlock()

	byDate := make(map[string]*models.DailyCost)
	byProject := make(map[string]*models.ProjectCost)
	for _, t := range tasks {
		date := t.CreatedAt.Format(time.DateOnly)
		daily, found := byDate[date]
		if !found {
			daily = &models.DailyCost{Date: date, TotalCost: decimal.Zero}
			byDate[date] = daily
		}
		daily.TotalCost = daily.TotalCost.Add(t.CostUSD)
		daily.InputTokens += t.InputTokens
		daily.OutputTokens += t.OutputTokens

		name := projectNames[t.ProjectID.String()]
		project, found := byProject[name]
		if !found {
			project = &models.ProjectCost{ProjectName: name, TotalCost: decimal.Zero}
			byProject[name] = project
		}
		project.TotalCost = project.TotalCost.Add(t.CostUSD)
		project.TaskCount++
	}

	res := models.CostAnalysis{
		DailyCosts:   make([]models.DailyCost, 0, len(byDate)),
		ProjectCosts: make([]models.ProjectCost, 0, len(byProject)),
	}
	for _, daily := range byDate {
		res.DailyCosts = append(res.DailyCosts, *daily)
	}
	for _, project := range byProject {
		res.ProjectCosts = append(res.ProjectCosts, *project)
	}
	sort.Slice(res.DailyCosts, func(i, j int) bool { return res.DailyCosts[i].Date < res.DailyCosts[j].Date })
	sort.Slice(res.ProjectCosts, func(i, j int) bool {
		return res.ProjectCosts[i].TotalCost.GreaterThan(res.ProjectCosts[j].TotalCost)
	})

	renderJSON(w, res)
}

func (s *Server) handleUsageTrends(w http.ResponseWriter, r *http.Request) {
	tasks, ok := s.window(w, r, models.DefaultUsageTrendsDays)
	if !ok {
		return
	}

	s.mu.Lock()
	projectNames := make(map[string]string, len(s.projects))
	for _, p := range s.projects {
		projectNames[p.ID] = p.Name
	}
	s.mu.Unlock()

	byWeek := make(map[time.Time]*models.WeeklyTrend)
	byProject := make(map[string]*models.ProjectActivity)
	durations := make(map[time.Time][]int)
	for _, t := range tasks {
		week := weekStart(t.CreatedAt.Time)
		trend, found := byWeek[week]
		if !found {
			trend = &models.WeeklyTrend{Week: &models.Timestamp{Time: week}, TotalCost: decimal.Zero}
			byWeek[week] = trend
		}
		trend.TaskCount++
		trend.TotalCost = trend.TotalCost.Add(t.CostUSD)
		trend.TotalTokens += t.TotalTokens
		if t.DurationSeconds != nil {
			durations[week] = append(durations[week], *t.DurationSeconds)
		}

		name := projectNames[t.ProjectID.String()]
		activity, found := byProject[name]
		if !found {
			activity = &models.ProjectActivity{ProjectName: name}
			byProject[name] = activity
		}
		activity.TaskCount++
		if activity.LastActivity == nil || t.CreatedAt.After(activity.LastActivity.Time) {
			last := t.CreatedAt
			activity.LastActivity = &last
		}
	}

	res := models.UsageTrends{
		WeeklyTrends:   make([]models.WeeklyTrend, 0, len(byWeek)),
		ActiveProjects: make([]models.ProjectActivity, 0, len(byProject)),
	}
	for week, trend := range byWeek {
		if ds := durations[week]; len(ds) > 0 {
			total := 0
			for _, d := range ds {
				total += d
			}
			trend.AvgDuration = float64(total) / float64(len(ds))
		}
		res.WeeklyTrends = append(res.WeeklyTrends, *trend)
	}
	for _, activity := range byProject {
		res.ActiveProjects = append(res.ActiveProjects, *activity)
	}
	sort.Slice(res.WeeklyTrends, func(i, j int) bool {
		return res.WeeklyTrends[i].Week.Before(res.WeeklyTrends[j].Week.Time)
	})
	sort.Slice(res.ActiveProjects, func(i, j int) bool {
		return res.ActiveProjects[i].TaskCount > res.ActiveProjects[j].TaskCount
	})

	renderJSON(w, res)
}

// weekStart truncates time to Monday midnight UTC
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}
