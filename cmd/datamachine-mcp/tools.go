package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createListJobsTool returns the list_jobs tool definition
func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List jobs newest first, optionally filtered by status or flow"),
		mcp.WithString("status",
			mcp.Description("Base status filter: pending, processing, completed, completed_no_items, failed, agent_skipped"),
		),
		mcp.WithNumber("flow_id",
			mcp.Description("Only jobs of this flow"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20, max: 200)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Results to skip"),
		),
	)
}

// createGetJobTool returns the get_job tool definition
func createGetJobTool() mcp.Tool {
	return mcp.NewTool("get_job",
		mcp.WithDescription("Show a job with its engine data and staged data packets"),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
	)
}

// createDeleteJobTool returns the delete_job tool definition
func createDeleteJobTool() mcp.Tool {
	return mcp.NewTool("delete_job",
		mcp.WithDescription("Delete a job and its staged data packets"),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
		mcp.WithBoolean("cleanup_processed",
			mcp.Description("Also forget the items this job processed so they are fetched again"),
		),
	)
}

// createFailJobTool returns the fail_job tool definition
func createFailJobTool() mcp.Tool {
	return mcp.NewTool("fail_job",
		mcp.WithDescription("Manually fail a processing job; its queued prompt is requeued"),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
		mcp.WithString("reason",
			mcp.Description("Failure reason (default: manual)"),
		),
	)
}

// createRetryJobTool returns the retry_job tool definition
func createRetryJobTool() mcp.Tool {
	return mcp.NewTool("retry_job",
		mcp.WithDescription("Mark a failed or processing job as failed - retry and requeue its prompt for the next run"),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Retry a job in any status"),
		),
	)
}

// createRecoverStuckJobsTool returns the recover_stuck_jobs tool definition
func createRecoverStuckJobsTool() mcp.Tool {
	return mcp.NewTool("recover_stuck_jobs",
		mcp.WithDescription("Apply pending status overrides and fail processing jobs past the timeout"),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report what would change without changing anything"),
		),
		mcp.WithNumber("flow_id",
			mcp.Description("Only jobs of this flow"),
		),
		mcp.WithNumber("timeout_hours",
			mcp.Description("Override the configured timeout"),
		),
	)
}

// createListFlowsTool returns the list_flows tool definition
func createListFlowsTool() mcp.Tool {
	return mcp.NewTool("list_flows",
		mcp.WithDescription("List flows with their schedule and health"),
		mcp.WithNumber("pipeline_id",
			mcp.Description("Only flows of this pipeline"),
		),
	)
}

// createGetFlowTool returns the get_flow tool definition
func createGetFlowTool() mcp.Tool {
	return mcp.NewTool("get_flow",
		mcp.WithDescription("Show a flow with its step configuration"),
		mcp.WithNumber("flow_id",
			mcp.Required(),
			mcp.Description("Flow id"),
		),
	)
}

// createDeleteFlowTool returns the delete_flow tool definition
func createDeleteFlowTool() mcp.Tool {
	return mcp.NewTool("delete_flow",
		mcp.WithDescription("Cancel a flow's schedule and delete it"),
		mcp.WithNumber("flow_id",
			mcp.Required(),
			mcp.Description("Flow id"),
		),
	)
}

// createRunNowTool returns the run_now tool definition
func createRunNowTool() mcp.Tool {
	return mcp.NewTool("run_now",
		mcp.WithDescription("Create a job for the flow and start it immediately"),
		mcp.WithNumber("flow_id",
			mcp.Required(),
			mcp.Description("Flow id"),
		),
	)
}

// createRunLaterTool returns the run_later tool definition
func createRunLaterTool() mcp.Tool {
	return mcp.NewTool("run_later",
		mcp.WithDescription("Schedule a single run of the flow; replaces its current schedule"),
		mcp.WithNumber("flow_id",
			mcp.Required(),
			mcp.Description("Flow id"),
		),
		mcp.WithString("at",
			mcp.Required(),
			mcp.Description("RFC3339 timestamp, or a duration from now such as 30m"),
		),
	)
}
