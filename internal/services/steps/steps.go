// Package steps provides the built-in step types: fetch, ai, publish and update.
package steps

import (
	"fmt"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/chat"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/saraichinwag/data-machine-sub002/internal/services/webfetch"
	"github.com/ternarybob/arbor"
)

// Dependencies are the services the built-in step types use
type Dependencies struct {
	Processed       interfaces.ProcessedItemStorage
	Engine          interfaces.EngineDataService
	Prompts         *prompts.Queue
	Loop            *chat.ConversationLoop
	Tools           *tools.Registry
	Fetcher         *webfetch.Fetcher
	DefaultMaxTurns int
	Logger          arbor.ILogger
}

// RegisterBuiltins registers fetch, ai, publish and update on the step type registry
func RegisterBuiltins(registry *flows.StepTypeRegistry, deps Dependencies) error {
	fetch := NewFetchStep(deps.Processed, deps.Engine, deps.Logger)
	fetch.RegisterHandler(HandlerStatic, StaticHandler{})
	if deps.Fetcher != nil {
		fetch.RegisterHandler(HandlerWebPage, NewWebPageHandler(deps.Fetcher))
	}

	stepTypes := map[string]interfaces.StepType{
		models.StepTypeFetch:   fetch,
		models.StepTypeAI:      NewAIStep(deps.Loop, deps.Tools, deps.Prompts, deps.DefaultMaxTurns, deps.Logger),
		models.StepTypePublish: NewHandlerResultStep(models.PacketTypePublish, deps.Logger),
		models.StepTypeUpdate:  NewHandlerResultStep(models.PacketTypeUpdate, deps.Logger),
	}
	for name, stepType := range stepTypes {
		if err := registry.Register(name, stepType); err != nil {
			return fmt.Errorf("failed to register step type %s: %w", name, err)
		}
	}
	return nil
}

// stepConfig reads the step's configuration from the request's engine data
func stepConfig(request *interfaces.StepRequest) (*models.StepConfig, error) {
	step, ok := request.Engine.StepConfig(request.FlowStepID)
	if !ok {
		return nil, fmt.Errorf("no configuration for step %s", request.FlowStepID)
	}
	return step, nil
}
