package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/service"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/watch"
)

const (
	defaultJobPage  = 20
	defaultItemPage = 50
	maxPage         = 200
)

// handleCreateJob handles the create_job tool
func (s *Server) handleCreateJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, err := optionalTime(request, "since")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	until, err := optionalTime(request, "until")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := s.svc.CreateJob(service.JobRequest{
		Mode:           models.SelectorKind(request.GetString("mode", "")),
		Value:          request.GetString("value", ""),
		Limit:          request.GetInt("limit", 0),
		NoWatermark:    boolArg(request, "no_watermark", true),
		FolderOverride: request.GetString("folder_override", ""),
		Since:          since,
		Until:          until,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"status":  "queued",
		"message": "Job queued; poll get_job for progress",
		"job":     job,
	})), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.svc.ListJobs(storage.JobFilter{
		Status: models.JobStatus(request.GetString("status", "")),
		Mode:   models.SelectorKind(request.GetString("mode", "")),
		Limit:  pageSize(request.GetInt("limit", defaultJobPage), defaultJobPage),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summaries := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary(job))
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"jobs":  summaries,
		"total": len(summaries),
	})), nil
}

// handleGetJob handles the get_job tool
func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	detail, err := s.svc.GetJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := jobSummary(detail.Job)
	items := make([]map[string]any, 0, len(detail.Items))
	for _, item := range detail.Items {
		entry := map[string]any{
			"item_id": item.ID,
			"status":  item.Status,
		}
		if item.ExternalLink != "" {
			entry["external_link"] = item.ExternalLink
		}
		if item.Error != "" {
			entry["error"] = item.Error
		}
		items = append(items, entry)
	}
	result["items"] = items
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	job, err := s.svc.CancelJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(jobSummary(job))), nil
}

// handleDeleteJob handles the delete_job tool
func (s *Server) handleDeleteJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	n, err := s.svc.DeleteJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"deleted":       jobID,
		"items_deleted": n,
	})), nil
}

// handleListItems handles the list_items tool
func (s *Server) handleListItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListItems(storage.ItemFilter{
		JobID:  request.GetString("job_id", ""),
		Status: models.ItemStatus(request.GetString("status", "")),
		Limit:  pageSize(request.GetInt("limit", defaultItemPage), defaultItemPage),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"items": items,
		"total": len(items),
	})), nil
}

// handleRetryItem handles the retry_item tool
func (s *Server) handleRetryItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemID := request.GetString("item_id", "")
	if itemID == "" {
		return mcp.NewToolResultError("item_id parameter is required"), nil
	}
	if _, err := s.svc.RetryItem(itemID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"item_id": itemID,
		"status":  "queued",
	})), nil
}

// handleAddSource handles the add_source tool
func (s *Server) handleAddSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := 0
	if raw := request.GetString("interval", ""); raw != "" {
		m, err := watch.IntervalMinutes(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid interval: %v", err)), nil
		}
		minutes = m
	}
	src, err := s.svc.AddSource(ctx, service.SourceRequest{
		Mode:            models.SelectorKind(request.GetString("mode", "")),
		Value:           request.GetString("value", ""),
		IntervalMinutes: minutes,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(sourceSummary(src))), nil
}

// handleRemoveSource handles the remove_source tool
func (s *Server) handleRemoveSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := s.svc.RemoveSource(request.GetString("value", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(sourceSummary(src))), nil
}

// handleListSources handles the list_sources tool
func (s *Server) handleListSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcs, err := s.svc.ListSources()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := make([]map[string]any, 0, len(srcs))
	for _, src := range srcs {
		summaries = append(summaries, sourceSummary(src))
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"sources": summaries,
		"total":   len(summaries),
		"monitor": s.svc.MonitorStatus(),
	})), nil
}

// handleCheckSources handles the check_sources tool
func (s *Server) handleCheckSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"status":  "triggered",
		"monitor": s.svc.CheckSources(),
	})), nil
}

// handleCreateTemplate handles the create_template tool
func (s *Server) handleCreateTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes, err := watch.IntervalMinutes(request.GetString("interval", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid interval: %v", err)), nil
	}
	tmpl, err := s.svc.CreateTemplate(service.TemplateRequest{
		Name:            request.GetString("name", ""),
		Mode:            models.SelectorKind(request.GetString("mode", "")),
		Value:           request.GetString("value", ""),
		Limit:           request.GetInt("limit", 0),
		NoWatermark:     boolArg(request, "no_watermark", true),
		FolderOverride:  request.GetString("folder_override", ""),
		IntervalMinutes: minutes,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(templateSummary(tmpl))), nil
}

// handleListTemplates handles the list_templates tool
func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts, err := s.svc.ListTemplates()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := make([]map[string]any, 0, len(ts))
	for _, t := range ts {
		summaries = append(summaries, templateSummary(t))
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"templates": summaries,
		"total":     len(summaries),
	})), nil
}

// handleToggleTemplate handles the toggle_template tool
func (s *Server) handleToggleTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("template_id", "")
	if id == "" {
		return mcp.NewToolResultError("template_id parameter is required"), nil
	}
	tmpl, err := s.svc.ToggleTemplate(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(templateSummary(tmpl))), nil
}

// handleDeleteTemplate handles the delete_template tool
func (s *Server) handleDeleteTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("template_id", "")
	if id == "" {
		return mcp.NewToolResultError("template_id parameter is required"), nil
	}
	if err := s.svc.DeleteTemplate(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{"deleted": id})), nil
}

// handleGetStats handles the get_stats tool
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Stats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

// handleRunCleanup handles the run_cleanup tool
func (s *Server) handleRunCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.RunCleanup(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(report)), nil
}

func jobSummary(job *models.Job) map[string]any {
	result := map[string]any{
		"job_id":     job.ID,
		"mode":       job.Mode,
		"value":      job.Value,
		"status":     job.Status,
		"origin":     job.Origin,
		"progress":   job.Progress,
		"discovered": job.Discovered,
		"succeeded":  job.Succeeded,
		"failed":     job.Failed,
		"created_at": job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		if job.StartedAt != nil {
			result["duration_seconds"] = job.CompletedAt.Sub(*job.StartedAt).Seconds()
		}
	}
	if job.Error != "" {
		result["error_message"] = job.Error
	}
	return result
}

func sourceSummary(src *models.WatchedSource) map[string]any {
	result := map[string]any{
		"value":      src.Value,
		"mode":       src.Mode,
		"enabled":    src.Enabled,
		"interval":   watch.FormatInterval(src.Interval()),
		"polls":      src.PollCount,
		"new_items":  src.NewItemCount,
		"last_seen":  src.LastSeenID,
		"last_error": src.LastError,
	}
	if src.LastPollAt != nil {
		result["last_poll_at"] = src.LastPollAt.Format(time.RFC3339)
	}
	return result
}

func templateSummary(t *models.RecurrenceTemplate) map[string]any {
	result := map[string]any{
		"template_id":     t.ID,
		"name":            t.Name,
		"mode":            t.Mode,
		"value":           t.Value,
		"limit":           t.Limit,
		"interval":        watch.FormatInterval(t.Interval()),
		"enabled":         t.Enabled,
		"total_runs":      t.TotalRuns,
		"successful_runs": t.SuccessfulRuns,
		"failed_runs":     t.FailedRuns,
	}
	if t.NextRunAt != nil {
		result["next_run_at"] = t.NextRunAt.Format(time.RFC3339)
	}
	return result
}

// optionalTime parses an RFC3339 argument; absent means nil
func optionalTime(request mcp.CallToolRequest, key string) (*time.Time, error) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 time: %v", key, err)
	}
	return &t, nil
}

// pageSize clamps a requested page size into 1..maxPage
func pageSize(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxPage {
		return maxPage
	}
	return n
}

// formatJSON formats data as indented JSON
func formatJSON(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}

// boolArg returns a pointer so the service can tell "unset" from false
func boolArg(request mcp.CallToolRequest, name string, def bool) *bool {
	v := request.GetBool(name, def)
	return &v
}
