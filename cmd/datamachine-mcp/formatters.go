package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/recovery"
)

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// formatJobList formats a page of jobs as a markdown table
func formatJobList(jobs []*models.Job, total int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Jobs (%d of %d)\n\n", len(jobs), total))

	if len(jobs) == 0 {
		sb.WriteString("No jobs found.\n")
		return sb.String()
	}

	sb.WriteString("| ID | Flow | Pipeline | Source | Status | Created | Completed |\n")
	sb.WriteString("|----|------|----------|--------|--------|---------|-----------|\n")
	for _, job := range jobs {
		created := job.CreatedAt
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |\n",
			job.ID, job.FlowRef, job.PipelineRef, job.Source, job.Status,
			formatTime(&created), formatTime(job.CompletedAt)))
	}
	return sb.String()
}

// formatJob formats one job with its engine data and staged packets
func formatJob(job *models.Job, packets []models.DataPacket) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Job %d\n\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	sb.WriteString(fmt.Sprintf("**Flow:** %s\n", job.FlowRef))
	sb.WriteString(fmt.Sprintf("**Pipeline:** %s\n", job.PipelineRef))
	sb.WriteString(fmt.Sprintf("**Source:** %s\n", job.Source))
	if job.Label != "" {
		sb.WriteString(fmt.Sprintf("**Label:** %s\n", job.Label))
	}
	created := job.CreatedAt
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", formatTime(&created)))
	sb.WriteString(fmt.Sprintf("**Started:** %s\n", formatTime(job.StartedAt)))
	sb.WriteString(fmt.Sprintf("**Completed:** %s\n\n", formatTime(job.CompletedAt)))

	if len(job.EngineData) > 0 {
		engineJSON, _ := json.MarshalIndent(job.EngineData, "", "  ")
		sb.WriteString("## Engine Data\n\n```json\n")
		sb.WriteString(string(engineJSON))
		sb.WriteString("\n```\n\n")
	}

	if len(packets) > 0 {
		sb.WriteString(fmt.Sprintf("## Packets (%d)\n\n", len(packets)))
		for i, packet := range packets {
			sb.WriteString(fmt.Sprintf("### %d. %s", i+1, packet.Type))
			if packet.Content.Title != "" {
				sb.WriteString(fmt.Sprintf(": %s", packet.Content.Title))
			}
			sb.WriteString("\n")
			body := packet.Content.Body
			if len(body) > 300 {
				body = body[:300] + "..."
			}
			if body != "" {
				sb.WriteString(body)
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// formatFlowList formats flows with their schedule and health
func formatFlowList(flows []*models.Flow) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Flows (%d)\n\n", len(flows)))

	if len(flows) == 0 {
		sb.WriteString("No flows found.\n")
		return sb.String()
	}

	sb.WriteString("| ID | Name | Pipeline | Interval | Last Run | Last Status | Failures | No Items |\n")
	sb.WriteString("|----|------|----------|----------|----------|-------------|----------|----------|\n")
	for _, flow := range flows {
		interval := flow.SchedulingConfig.Interval
		if interval == "" {
			interval = models.IntervalManual
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %d | %s | %s | %s | %d | %d |\n",
			flow.ID, flow.Name, flow.PipelineID, interval, formatTime(flow.LastRunAt),
			flow.LastRunStatus, flow.ConsecutiveFailures, flow.ConsecutiveNoItems))
	}
	return sb.String()
}

// formatFlow formats one flow and its ordered steps
func formatFlow(flow *models.Flow) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", flow.Name))
	sb.WriteString(fmt.Sprintf("**ID:** %d\n", flow.ID))
	sb.WriteString(fmt.Sprintf("**Pipeline:** %d\n", flow.PipelineID))
	sb.WriteString(fmt.Sprintf("**Interval:** %s\n", flow.SchedulingConfig.Interval))
	if flow.SchedulingConfig.Timestamp != nil {
		sb.WriteString(fmt.Sprintf("**Run At:** %s\n", formatTime(flow.SchedulingConfig.Timestamp)))
	}
	sb.WriteString(fmt.Sprintf("**Last Run:** %s (%s)\n", formatTime(flow.LastRunAt), flow.LastRunStatus))
	sb.WriteString(fmt.Sprintf("**Consecutive Failures:** %d\n", flow.ConsecutiveFailures))
	sb.WriteString(fmt.Sprintf("**Consecutive No Items:** %d\n\n", flow.ConsecutiveNoItems))

	sb.WriteString("## Steps\n\n")
	for _, step := range flow.FlowConfig.Ordered() {
		sb.WriteString(fmt.Sprintf("%d. **%s** `%s`", step.ExecutionOrder, step.StepType, step.FlowStepID))
		if step.HandlerSlug != "" {
			sb.WriteString(fmt.Sprintf(" handler=%s", step.HandlerSlug))
		}
		if len(step.PromptQueue) > 0 {
			sb.WriteString(fmt.Sprintf(" queued_prompts=%d", len(step.PromptQueue)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatRecoveryReport formats the jobs a recovery run touched
func formatRecoveryReport(report *recovery.Report) string {
	var sb strings.Builder
	if report.DryRun {
		sb.WriteString("## Stuck Job Recovery (dry run)\n\n")
	} else {
		sb.WriteString("## Stuck Job Recovery\n\n")
	}
	sb.WriteString(fmt.Sprintf("**Changed:** %d\n\n", report.Changed()))

	writeSection := func(title string, results []recovery.JobResult) {
		sb.WriteString(fmt.Sprintf("### %s (%d)\n\n", title, len(results)))
		if len(results) == 0 {
			sb.WriteString("None.\n\n")
			return
		}
		for _, r := range results {
			sb.WriteString(fmt.Sprintf("- job %d (flow %s): %s", r.JobID, r.FlowRef, r.Status))
			if r.NewStatus != "" {
				sb.WriteString(fmt.Sprintf(" -> %s", r.NewStatus))
			}
			sb.WriteString(fmt.Sprintf(" [%s]", r.Action))
			if r.AgeHours > 0 {
				sb.WriteString(fmt.Sprintf(" age=%.1fh", r.AgeHours))
			}
			if r.PromptBackup {
				sb.WriteString(" prompt requeued")
			}
			if r.Reason != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", r.Reason))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	writeSection("Status Overrides", report.Overrides)
	writeSection("Timed Out", report.Timeouts)
	return sb.String()
}
