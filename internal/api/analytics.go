package api

import (
	"context"

	"github.com/nkiryanov/agentmon/internal/models"
)

// AnalyticsAPI reads aggregated statistics. Every call looks back the given number of days;
// zero or negative days means the API default
type AnalyticsAPI struct {
	doer Doer
}

func (a *AnalyticsAPI) Dashboard(ctx context.Context, days int) (models.Dashboard, error) {
	return call[models.Dashboard](ctx, a.doer, get("/analytics/dashboard", daysQuery(days, models.DefaultAnalyticsDays)))
}

func (a *AnalyticsAPI) TaskPerformance(ctx context.Context, days int) (models.TaskPerformance, error) {
	return call[models.TaskPerformance](ctx, a.doer, get("/analytics/tasks/performance", daysQuery(days, models.DefaultAnalyticsDays)))
}

func (a *AnalyticsAPI) Costs(ctx context.Context, days int) (models.CostAnalysis, error) {
	return call[models.CostAnalysis](ctx, a.doer, get("/analytics/costs", daysQuery(days, models.DefaultAnalyticsDays)))
}

func (a *AnalyticsAPI) UsageTrends(ctx context.Context, days int) (models.UsageTrends, error) {
	return call[models.UsageTrends](ctx, a.doer, get("/analytics/usage-trends", daysQuery(days, models.DefaultUsageTrendsDays)))
}
