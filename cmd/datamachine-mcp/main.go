package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/saraichinwag/data-machine-sub002/internal/app"
	"github.com/saraichinwag/data-machine-sub002/internal/common"
)

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	// Comma-separated list, later files override earlier ones
	configPaths := []string{"datamachine.toml"}
	if env := os.Getenv("DATAMACHINE_CONFIG"); env != "" {
		configPaths = strings.Split(env, ",")
	} else if _, err := os.Stat(configPaths[0]); err != nil {
		configPaths = nil
	}

	config, err := common.LoadFromFiles(configPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol, so logs only go to file
	config.Logging.Output = []string{"file"}
	if os.Getenv("DATAMACHINE_LOG_LEVEL") == "" {
		config.Logging.Level = "warn"
	}
	logger := common.InitLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	// Jobs started through the admin tools execute while the server is attached
	if err := application.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(1)
	}

	mcpServer := server.NewMCPServer(
		"datamachine",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Jobs
	mcpServer.AddTool(createListJobsTool(), handleListJobs(application))
	mcpServer.AddTool(createGetJobTool(), handleGetJob(application))
	mcpServer.AddTool(createDeleteJobTool(), handleDeleteJob(application))
	mcpServer.AddTool(createFailJobTool(), handleFailJob(application))
	mcpServer.AddTool(createRetryJobTool(), handleRetryJob(application))
	mcpServer.AddTool(createRecoverStuckJobsTool(), handleRecoverStuckJobs(application))

	// Flows
	mcpServer.AddTool(createListFlowsTool(), handleListFlows(application))
	mcpServer.AddTool(createGetFlowTool(), handleGetFlow(application))
	mcpServer.AddTool(createDeleteFlowTool(), handleDeleteFlow(application))
	mcpServer.AddTool(createRunNowTool(), handleRunNow(application))
	mcpServer.AddTool(createRunLaterTool(), handleRunLater(application))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error().Err(err).Msg("MCP server failed")
	}
}
