package chat

import (
	"sort"
	"strings"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

const pipelineDirective = `You are an automated content pipeline agent. You are not talking to a person.

- Work only with the data packets and instructions you are given.
- Use the available tools to gather what you need.
- When the content is ready, finish by calling the publish or update handler tool exactly once.
- If the item is a duplicate, off-topic or unusable, call skip_item with a short reason instead.
- Do not ask questions. Nobody will answer them.`

const chatDirective = `You are the Data Machine assistant. You help the operator inspect and run content flows.

- Use list_flows to discover flows before referring to them by id.
- Only start a flow run when the operator asks for it.
- Report tool failures plainly and suggest the next step.
- Format answers in concise Markdown.`

const systemDirective = `You are performing an internal maintenance task for Data Machine.
Complete the task with the available tools and reply with a one-paragraph summary.`

// Directive returns the system instructions for an agent type
func Directive(agentType models.AgentType) string {
	switch agentType {
	case models.AgentTypePipeline:
		return pipelineDirective
	case models.AgentTypeChat:
		return chatDirective
	case models.AgentTypeSystem:
		return systemDirective
	default:
		return ""
	}
}

// directiveMessages builds the system messages sent ahead of the history.
// They are never recorded in the conversation itself.
func directiveMessages(agentType models.AgentType, tools map[string]models.ToolDefinition) []models.ConversationMessage {
	directive := Directive(agentType)
	if directive == "" {
		return nil
	}
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		directive += "\n\nAvailable tools: " + strings.Join(names, ", ")
	}
	return []models.ConversationMessage{{Role: models.RoleSystem, Content: directive}}
}
