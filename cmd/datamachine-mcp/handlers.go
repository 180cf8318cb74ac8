package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/saraichinwag/data-machine-sub002/internal/app"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/recovery"
)

func requireID(request mcp.CallToolRequest, key string) (int64, *mcp.CallToolResult) {
	id, err := request.RequireInt(key)
	if err != nil || id <= 0 {
		return 0, mcp.NewToolResultError(fmt.Sprintf("Error: %s parameter is required", key))
	}
	return int64(id), nil
}

// handleListJobs implements the list_jobs tool
func handleListJobs(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		if limit <= 0 || limit > 200 {
			limit = 200
		}
		opts := &interfaces.JobListOptions{
			BaseStatus: models.JobStatus(request.GetString("status", "")),
			Limit:      limit,
			Offset:     request.GetInt("offset", 0),
		}
		if flowID := request.GetInt("flow_id", 0); flowID > 0 {
			opts.FlowRef = models.FormatRef(int64(flowID))
		}

		jobs, err := a.StorageManager.JobStorage().ListJobs(ctx, opts)
		if err != nil {
			a.Logger.Error().Err(err).Msg("List jobs failed")
			return mcp.NewToolResultError(fmt.Sprintf("List error: %v", err)), nil
		}
		total, err := a.StorageManager.JobStorage().CountJobs(ctx, opts)
		if err != nil {
			total = len(jobs)
		}
		return mcp.NewToolResultText(formatJobList(jobs, total)), nil
	}
}

// handleGetJob implements the get_job tool
func handleGetJob(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireID(request, "job_id")
		if errResult != nil {
			return errResult, nil
		}

		job, err := a.StorageManager.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Job not found: %v", err)), nil
		}
		packets, err := a.PacketService.Retrieve(ctx, jobID)
		if err != nil {
			a.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to load staged packets")
		}
		return mcp.NewToolResultText(formatJob(job, packets)), nil
	}
}

// handleDeleteJob implements the delete_job tool
func handleDeleteJob(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireID(request, "job_id")
		if errResult != nil {
			return errResult, nil
		}

		if err := a.StorageManager.JobStorage().DeleteJob(ctx, jobID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Delete error: %v", err)), nil
		}
		if err := a.PacketService.Cleanup(ctx, jobID); err != nil {
			a.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to clean up staged packets")
		}

		forgotten := 0
		if request.GetBool("cleanup_processed", false) {
			n, err := a.StorageManager.ProcessedItemStorage().DeleteByJob(ctx, jobID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Job deleted, processed item cleanup failed: %v", err)), nil
			}
			forgotten = n
		}

		a.Logger.Info().Int64("job_id", jobID).Int("processed_items_removed", forgotten).Msg("Job deleted via MCP")
		return mcp.NewToolResultText(fmt.Sprintf("Deleted job %d (processed items removed: %d)", jobID, forgotten)), nil
	}
}

// handleFailJob implements the fail_job tool
func handleFailJob(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireID(request, "job_id")
		if errResult != nil {
			return errResult, nil
		}

		if err := a.RecoveryService.FailJob(ctx, jobID, request.GetString("reason", "")); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Fail error: %v", err)), nil
		}
		job, err := a.StorageManager.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Job %d is now %s", jobID, job.Status)), nil
	}
}

// handleRetryJob implements the retry_job tool
func handleRetryJob(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireID(request, "job_id")
		if errResult != nil {
			return errResult, nil
		}

		result, err := a.RecoveryService.RetryJob(ctx, jobID, request.GetBool("force", false))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Retry error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Job %d: %s -> %s (prompt requeued: %t)",
			result.JobID, result.PreviousStatus, result.Status, result.PromptRequeued)), nil
	}
}

// handleRecoverStuckJobs implements the recover_stuck_jobs tool
func handleRecoverStuckJobs(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := a.RecoveryService.Recover(ctx, recovery.Options{
			DryRun:       request.GetBool("dry_run", false),
			FlowID:       int64(request.GetInt("flow_id", 0)),
			TimeoutHours: request.GetFloat("timeout_hours", 0),
		})
		if err != nil {
			a.Logger.Error().Err(err).Msg("Recovery failed")
			return mcp.NewToolResultError(fmt.Sprintf("Recovery error: %v", err)), nil
		}
		return mcp.NewToolResultText(formatRecoveryReport(report)), nil
	}
}

// handleListFlows implements the list_flows tool
func handleListFlows(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		opts := &interfaces.FlowListOptions{PipelineID: int64(request.GetInt("pipeline_id", 0))}
		flows, err := a.StorageManager.FlowStorage().ListFlows(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("List error: %v", err)), nil
		}
		return mcp.NewToolResultText(formatFlowList(flows)), nil
	}
}

// handleGetFlow implements the get_flow tool
func handleGetFlow(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		flowID, errResult := requireID(request, "flow_id")
		if errResult != nil {
			return errResult, nil
		}

		flow, err := a.StorageManager.FlowStorage().GetFlow(ctx, flowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Flow not found: %v", err)), nil
		}
		return mcp.NewToolResultText(formatFlow(flow)), nil
	}
}

// handleDeleteFlow implements the delete_flow tool
func handleDeleteFlow(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		flowID, errResult := requireID(request, "flow_id")
		if errResult != nil {
			return errResult, nil
		}

		// Drop recurring and pending triggers before the record goes
		if err := a.Controller.Schedule(ctx, flowID, models.SchedulingConfig{Interval: models.IntervalManual}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Unschedule error: %v", err)), nil
		}
		if err := a.StorageManager.FlowStorage().DeleteFlow(ctx, flowID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Delete error: %v", err)), nil
		}

		a.Logger.Info().Int64("flow_id", flowID).Msg("Flow deleted via MCP")
		return mcp.NewToolResultText(fmt.Sprintf("Deleted flow %d", flowID)), nil
	}
}

// handleRunNow implements the run_now tool
func handleRunNow(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		flowID, errResult := requireID(request, "flow_id")
		if errResult != nil {
			return errResult, nil
		}

		job, err := a.Controller.RunNow(ctx, flowID, models.JobSourceAPI)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Run error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Started job %d for flow %d (%s)", job.ID, flowID, job.Status)), nil
	}
}

// handleRunLater implements the run_later tool
func handleRunLater(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		flowID, errResult := requireID(request, "flow_id")
		if errResult != nil {
			return errResult, nil
		}
		raw, err := request.RequireString("at")
		if err != nil || raw == "" {
			return mcp.NewToolResultError("Error: at parameter is required"), nil
		}

		at, err := parseRunAt(raw, time.Now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Controller.RunLater(ctx, flowID, at); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Schedule error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Flow %d scheduled to run at %s", flowID, at.Format(time.RFC3339))), nil
	}
}

// parseRunAt accepts an RFC3339 timestamp or a duration relative to now
func parseRunAt(raw string, now time.Time) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return now.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("invalid at %q: want RFC3339 timestamp or duration", raw)
}
