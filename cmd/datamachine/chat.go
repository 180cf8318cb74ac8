package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/saraichinwag/data-machine-sub002/internal/app"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/spf13/cobra"
)

var (
	chatSessionID  string
	chatSingleTurn bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the chat agent",
	Long: `Sends a message to the chat agent, which can list and run flows and queue
prompts. Pass --session to continue an existing conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "Session id to continue")
	chatCmd.Flags().BoolVar(&chatSingleTurn, "single-turn", false, "Stop after one agent turn")
}

func runChat(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	// Flows started by the agent run while the conversation is active
	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		return err
	}

	session, err := application.ChatService.Send(ctx, chatSessionID, strings.Join(args, " "), chatSingleTurn)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i := len(session.Messages) - 1; i >= 0; i-- {
		msg := session.Messages[i]
		if msg.Role == models.RoleAssistant && msg.Content != "" {
			fmt.Fprintln(out, msg.Content)
			break
		}
	}
	fmt.Fprintf(out, "\nsession: %s (turns: %d, completed: %t)\n", session.ID, session.TurnCount, session.Completed)
	return nil
}
