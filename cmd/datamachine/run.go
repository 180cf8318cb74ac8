package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/saraichinwag/data-machine-sub002/internal/app"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <flow-id|flow-name>",
	Short: "Run one flow to completion in the foreground",
	Long: `Creates a job for the flow and executes all of its steps in this process,
without the durable queue. Exits non-zero when the job does not complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlow,
}

func runFlow(cmd *cobra.Command, args []string) error {
	application, err := app.NewInline(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flowID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		flow, err := application.StorageManager.FlowStorage().GetFlowByName(ctx, args[0])
		if err != nil {
			return err
		}
		flowID = flow.ID
	}

	job, err := application.RunFlowOnce(ctx, flowID)
	if job == nil {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Flow run reported errors")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "job %d: %s\n", job.ID, job.Status)
	if job.Status.IsFailed() || !job.Status.IsTerminal() {
		return fmt.Errorf("job %d finished with status %s", job.ID, job.Status)
	}
	return nil
}
