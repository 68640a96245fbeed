package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/service/monitor"
)

// oneID returns the only positional argument
func oneID(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: %s needs exactly one ID", errUsage, cmd)
	}
	return args[0], nil
}

func oneTaskID(cmd string, args []string) (uuid.UUID, error) {
	raw, err := oneID(cmd, args)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid task ID %q", errUsage, raw)
	}
	return id, nil
}

func cmdProjects(ctx context.Context, a *App, args []string) error {
	sub, args := subcommand(args, "list")
	fs := newFlagSet("projects " + sub)

	switch sub {
	case "list":
		var params models.ProjectListParams
		fs.IntVar(&params.Page, "page", 0, "Page number")
		fs.IntVar(&params.PageSize, "page-size", 0, "Page size")
		fs.StringVar(&params.Search, "search", "", "Search in name, code and description")
		fs.StringVar(&params.Status, "status", "", "Status (active, inactive, completed)")
		fs.StringVar(&params.Priority, "priority", "", "Priority (low, medium, high, critical)")
		fs.StringVar(&params.SortBy, "sort-by", "", "Sort field")
		fs.StringVar(&params.SortOrder, "sort-order", "", "Sort order (asc, desc)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		list, err := a.client.Projects.List(ctx, params)
		if err != nil {
			return err
		}
		return a.print(list, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ID\tCODE\tNAME\tSTATUS\tPRIORITY")
			for _, p := range list.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Code, p.Name, p.Status, p.Priority)
			}
			fmt.Fprintf(w, "Page %d of %d, %d projects\n", list.Page, list.TotalPages, list.Total)
		})

	case "get":
		id, err := oneID("projects get", args)
		if err != nil {
			return err
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		p, err := a.client.Projects.Get(ctx, id)
		if err != nil {
			return err
		}
		return a.print(p, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID:\t%s\n", p.ID)
			fmt.Fprintf(w, "Name:\t%s\n", p.Name)
			fmt.Fprintf(w, "Code:\t%s\n", p.Code)
			fmt.Fprintf(w, "Status:\t%s\n", p.Status)
			fmt.Fprintf(w, "Priority:\t%s\n", p.Priority)
			if p.Budget != nil {
				fmt.Fprintf(w, "Budget:\t%s\n", p.Budget.StringFixed(2))
			}
			if p.Description != "" {
				fmt.Fprintf(w, "Description:\t%s\n", p.Description)
			}
		})

	case "stats":
		id, err := oneID("projects stats", args)
		if err != nil {
			return err
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		s, err := a.client.Projects.Stats(ctx, id)
		if err != nil {
			return err
		}
		return a.print(s, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Tasks:\t%d (completed %d, failed %d, pending %d)\n", s.TotalTasks, s.CompletedTasks, s.FailedTasks, s.PendingTasks)
			fmt.Fprintf(w, "Cost:\t$%s\n", s.TotalCost.StringFixed(4))
			fmt.Fprintf(w, "Tokens:\t%d\n", s.TotalTokens)
			fmt.Fprintf(w, "Files:\t%d\n", s.TotalFilesAffected)
		})

	case "create":
		var req models.ProjectCreate
		var budget string
		fs.StringVar(&req.Name, "name", "", "Project name")
		fs.StringVar(&req.Code, "code", "", "Project code")
		fs.StringVar(&req.Description, "description", "", "Description")
		fs.StringVar(&req.Priority, "priority", "", "Priority (low, medium, high, critical)")
		fs.StringVar(&req.RepositoryURL, "repository", "", "Repository URL")
		fs.StringSliceVar(&req.Tags, "tag", nil, "Tag, may be repeated")
		fs.StringVar(&budget, "budget", "", "Budget")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if budget != "" {
			b, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("%w: invalid budget %q", errUsage, budget)
			}
			req.Budget = &b
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		p, err := a.client.Projects.Create(ctx, req)
		if err != nil {
			return err
		}
		return a.print(p, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Created project %s (%s)\n", p.Name, p.ID)
		})

	case "update":
		var name, code, description, status, priority, repository, budget string
		fs.StringVar(&name, "name", "", "Project name")
		fs.StringVar(&code, "code", "", "Project code")
		fs.StringVar(&description, "description", "", "Description")
		fs.StringVar(&status, "status", "", "Status (active, inactive, completed)")
		fs.StringVar(&priority, "priority", "", "Priority (low, medium, high, critical)")
		fs.StringVar(&repository, "repository", "", "Repository URL")
		fs.StringVar(&budget, "budget", "", "Budget")
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := oneID("projects update", fs.Args())
		if err != nil {
			return err
		}

		// Only flags given on the command line are sent
		var req models.ProjectUpdate
		changed := false
		setIf := func(flag string, dst **string, value string) {
			if fs.Changed(flag) {
				*dst = &value
				changed = true
			}
		}
		setIf("name", &req.Name, name)
		setIf("code", &req.Code, code)
		setIf("description", &req.Description, description)
		setIf("status", &req.Status, status)
		setIf("priority", &req.Priority, priority)
		setIf("repository", &req.RepositoryURL, repository)
		if fs.Changed("budget") {
			b, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("%w: invalid budget %q", errUsage, budget)
			}
			req.Budget = &b
			changed = true
		}
		if !changed {
			return fmt.Errorf("%w: projects update needs at least one field to change", errUsage)
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		p, err := a.client.Projects.Update(ctx, id, req)
		if err != nil {
			return err
		}
		return a.print(p, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Updated project %s (%s)\n", p.Name, p.ID)
		})

	case "delete":
		id, err := oneID("projects delete", args)
		if err != nil {
			return err
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		if err := a.client.Projects.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted project %s\n", id)
		return nil

	default:
		return fmt.Errorf("%w: unknown projects command %q", errUsage, sub)
	}
}

func cmdTasks(ctx context.Context, a *App, args []string) error {
	sub, args := subcommand(args, "list")

	if sub == "list" {
		fs := newFlagSet("tasks list")
		var params models.TaskListParams
		var projectID string
		fs.IntVar(&params.Skip, "skip", 0, "Tasks to skip")
		fs.IntVar(&params.Limit, "limit", 0, "Max tasks")
		fs.StringVar(&projectID, "project", "", "Project ID")
		fs.StringVar(&params.Status, "status", "", "Status (pending, running, completed, failed, cancelled)")
		fs.StringVar(&params.Search, "search", "", "Search in name and description")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if projectID != "" {
			id, err := uuid.Parse(projectID)
			if err != nil {
				return fmt.Errorf("%w: invalid project ID %q", errUsage, projectID)
			}
			params.ProjectID = id
		}
		if err := a.requireSession(ctx); err != nil {
			return err
		}

		tasks, err := a.client.Tasks.List(ctx, params)
		if err != nil {
			return err
		}
		return a.print(tasks, func(w *tabwriter.Writer) { taskTable(w, tasks) })
	}

	id, err := oneTaskID("tasks "+sub, args)
	if err != nil {
		return err
	}

	switch sub {
	case "get", "steps", "files", "logs":
	default:
		return fmt.Errorf("%w: unknown tasks command %q", errUsage, sub)
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	switch sub {
	case "get":
		t, err := a.client.Tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		return a.print(t, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID:\t%s\n", t.ID)
			fmt.Fprintf(w, "Name:\t%s\n", t.Name)
			fmt.Fprintf(w, "Status:\t%s\n", t.Status)
			fmt.Fprintf(w, "Agent:\t%s %s\n", t.AgentType, t.AgentVersion)
			fmt.Fprintf(w, "Steps:\t%d/%d (failed %d)\n", t.CompletedSteps, t.TotalSteps, t.FailedSteps)
			fmt.Fprintf(w, "Tokens:\t%d\n", t.TotalTokens)
			fmt.Fprintf(w, "Cost:\t$%s\n", t.CostUSD.StringFixed(4))
			if t.ErrorMessage != "" {
				fmt.Fprintf(w, "Error:\t%s\n", t.ErrorMessage)
			}
		})

	case "steps":
		steps, err := a.client.Tasks.Steps(ctx, id)
		if err != nil {
			return err
		}
		return a.print(steps, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "#\tNAME\tSTATUS\tTOKENS\tCOST")
			for _, s := range steps {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t$%s\n", s.StepNumber, s.StepName, s.Status, s.InputTokens+s.OutputTokens, s.StepCostUSD.StringFixed(4))
			}
		})

	case "files":
		files, err := a.client.Tasks.Files(ctx, id)
		if err != nil {
			return err
		}
		return a.print(files, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "OPERATION\tPATH\t+\t-")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", f.OperationType, f.FilePath, f.LinesAdded, f.LinesRemoved)
			}
		})

	default:
		logs, err := a.client.Tasks.Logs(ctx, id)
		if err != nil {
			return err
		}
		return a.print(logs, func(w *tabwriter.Writer) {
			for _, l := range logs.Logs {
				fmt.Fprintf(w, "%v\t%v\n", l["level"], l["message"])
			}
		})
	}
}

func taskTable(w *tabwriter.Writer, tasks []models.Task) {
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOKENS\tCOST")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%s\n", t.ID, t.Name, t.Status, t.TotalTokens, t.CostUSD.StringFixed(4))
	}
}

func cmdAnalytics(ctx context.Context, a *App, args []string) error {
	sub, args := subcommand(args, "performance")
	fs := newFlagSet("analytics " + sub)
	days := fs.Int("days", 0, "Days to look back, API default if zero")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch sub {
	case "performance", "costs", "trends":
	default:
		return fmt.Errorf("%w: unknown analytics command %q", errUsage, sub)
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	switch sub {
	case "performance":
		perf, err := a.client.Analytics.TaskPerformance(ctx, *days)
		if err != nil {
			return err
		}
		return a.print(perf, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "DATE\tTOTAL\tCOMPLETED\tFAILED\tAVG DURATION")
			for _, d := range perf.DailyStats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1fs\n", d.Date, d.TotalTasks, d.CompletedTasks, d.FailedTasks, d.AvgDuration)
			}
		})

	case "costs":
		costs, err := a.client.Analytics.Costs(ctx, *days)
		if err != nil {
			return err
		}
		return a.print(costs, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "PROJECT\tTASKS\tCOST")
			for _, p := range costs.ProjectCosts {
				fmt.Fprintf(w, "%s\t%d\t$%s\n", p.ProjectName, p.TaskCount, p.TotalCost.StringFixed(4))
			}
		})

	default:
		trends, err := a.client.Analytics.UsageTrends(ctx, *days)
		if err != nil {
			return err
		}
		return a.print(trends, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "WEEK\tTASKS\tTOKENS\tCOST")
			for _, t := range trends.WeeklyTrends {
				week := "-"
				if t.Week != nil {
					week = t.Week.Format(time.DateOnly)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t$%s\n", week, t.TaskCount, t.TotalTokens, t.TotalCost.StringFixed(4))
			}
		})
	}
}

func cmdDashboard(ctx context.Context, a *App, args []string) error {
	fs := newFlagSet("dashboard")
	var cfg monitor.Config
	watch := fs.BoolP("watch", "w", false, "Keep refreshing")
	fs.IntVar(&cfg.Days, "days", 0, "Days to look back, API default if zero")
	fs.DurationVar(&cfg.Interval, "interval", 30*time.Second, "Refresh interval in watch mode")
	fs.IntVar(&cfg.RecentTasks, "recent", 10, "Recent tasks to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	m, err := monitor.NewService(cfg, a.client.Analytics, a.client.Tasks, a.logger)
	if err != nil {
		return err
	}

	if !*watch {
		snap, err := m.Snapshot(ctx)
		if err != nil {
			return err
		}
		return a.printSnapshot(snap)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(watchCtx)
	if a.config.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx, a.config.MetricsAddr)
		})
	}

	var lastErr error
	stopped := m.Watch(gctx, func(snap monitor.Snapshot, err error) {
		lastErr = err
		if err != nil {
			fmt.Fprintf(a.out, "Update failed: %v\n", err)
			return
		}
		if err := a.printSnapshot(snap); err != nil {
			a.logger.Error("Failed to print snapshot", "error", err)
		}
	})
	g.Go(func() error {
		<-stopped
		// Metrics server goes down with the watch
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() == nil && lastErr != nil {
		return lastErr
	}
	return nil
}

func (a *App) printSnapshot(snap monitor.Snapshot) error {
	return a.print(snap, func(w *tabwriter.Writer) {
		d := snap.Dashboard
		fmt.Fprintf(w, "Updated:\t%s\n", snap.FetchedAt.Local().Format(time.DateTime))
		fmt.Fprintf(w, "Tasks:\t%d (recent %d, completed %d, failed %d, success %.1f%%)\n",
			d.Tasks.Total, d.Tasks.Recent, d.Tasks.Completed, d.Tasks.Failed, d.Tasks.SuccessRate)
		fmt.Fprintf(w, "Cost:\t$%s\n", d.Costs.TotalCost.StringFixed(4))
		fmt.Fprintf(w, "Tokens:\t%d (in %d, out %d)\n", d.Costs.TotalTokens, d.Costs.TotalInputTokens, d.Costs.TotalOutputTokens)
		fmt.Fprintf(w, "Files:\t%d (created %d, modified %d, deleted %d)\n", d.Files.Total, d.Files.Created, d.Files.Modified, d.Files.Deleted)
		fmt.Fprintf(w, "Projects:\t%d (active %d)\n\n", d.Projects.Total, d.Projects.Active)
		taskTable(w, snap.RecentTasks)
	})
}
