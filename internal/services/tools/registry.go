package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// Scope says which agents can see a tool
type Scope string

const (
	ScopeHandler Scope = "handler" // visible when an adjacent step uses the handler slug
	ScopeGlobal  Scope = "global"  // visible to every agent, subject to enablement
	ScopeAgent   Scope = "agent"   // visible to a single agent type
)

// ToolNotFoundError is returned when no tool or implementation matches a name
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ConfigCheck reports whether a requires_config tool has what it needs
type ConfigCheck func() bool

type registeredTool struct {
	definition models.ToolDefinition
	scope      Scope
	agentType  models.AgentType
	configured ConfigCheck
}

// Registry holds tool definitions and the implementations they bind to.
// Definitions name their implementation by class and method, resolved here.
type Registry struct {
	mu              sync.RWMutex
	implementations map[string]interfaces.ToolHandler
	tools           map[string]*registeredTool
	validate        *validator.Validate
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		implementations: make(map[string]interfaces.ToolHandler),
		tools:           make(map[string]*registeredTool),
		validate:        validator.New(),
	}
}

func implementationKey(classRef, method string) string {
	return classRef + "::" + method
}

// RegisterImplementation binds a class/method identifier to a handler
func (r *Registry) RegisterImplementation(classRef, method string, handler interfaces.ToolHandler) error {
	if classRef == "" || method == "" {
		return fmt.Errorf("class and method are required")
	}
	if handler == nil {
		return fmt.Errorf("implementation %s has no handler", implementationKey(classRef, method))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := implementationKey(classRef, method)
	if _, exists := r.implementations[key]; exists {
		return fmt.Errorf("implementation %s already registered", key)
	}
	r.implementations[key] = handler
	return nil
}

// Implementation resolves the handler behind a definition
func (r *Registry) Implementation(definition *models.ToolDefinition) (interfaces.ToolHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.implementations[implementationKey(definition.ClassRef, definition.Method)]
	if !ok {
		return nil, &ToolNotFoundError{Name: definition.Name}
	}
	return handler, nil
}

// RegisterHandlerTool adds a tool scoped to definition.Handler
func (r *Registry) RegisterHandlerTool(definition models.ToolDefinition) error {
	if definition.Handler == "" {
		return fmt.Errorf("handler tool %s requires a handler slug", definition.Name)
	}
	return r.register(&registeredTool{definition: definition, scope: ScopeHandler})
}

// RegisterGlobalTool adds a tool visible to every agent. configured is
// consulted when the definition sets requires_config.
func (r *Registry) RegisterGlobalTool(definition models.ToolDefinition, configured ConfigCheck) error {
	return r.register(&registeredTool{definition: definition, scope: ScopeGlobal, configured: configured})
}

// RegisterAgentTool adds a tool visible only to agentType
func (r *Registry) RegisterAgentTool(agentType models.AgentType, definition models.ToolDefinition, configured ConfigCheck) error {
	if agentType == "" {
		return fmt.Errorf("agent tool %s requires an agent type", definition.Name)
	}
	return r.register(&registeredTool{definition: definition, scope: ScopeAgent, agentType: agentType, configured: configured})
}

func (r *Registry) register(tool *registeredTool) error {
	if err := r.validate.Struct(&tool.definition); err != nil {
		return fmt.Errorf("invalid tool definition %s: %w", tool.definition.Name, err)
	}
	if _, err := r.Implementation(&tool.definition); err != nil {
		return fmt.Errorf("tool %s: no implementation %s", tool.definition.Name,
			implementationKey(tool.definition.ClassRef, tool.definition.Method))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.definition.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.definition.Name)
	}
	r.tools[tool.definition.Name] = tool
	return nil
}

// Definition returns a registered tool definition by name
func (r *Registry) Definition(name string) (models.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return models.ToolDefinition{}, &ToolNotFoundError{Name: name}
	}
	return tool.definition, nil
}

// Names lists registered tool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DiscoveryContext describes who is asking for tools
type DiscoveryContext struct {
	AgentType models.AgentType

	// Handlers maps the handler slugs of adjacent steps to their handler config
	Handlers map[string]map[string]interface{}

	// Allow is the per-context check for global and agent tools; nil allows all
	Allow func(name string) bool
}

// Discover returns the enabled tools for ctx, keyed by name. Handler tools are
// enabled by a handler match alone; global and agent tools must pass Allow and,
// when they declare requires_config, their configuration check.
func (r *Registry) Discover(dc DiscoveryContext) map[string]models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make(map[string]models.ToolDefinition)
	for name, tool := range r.tools {
		switch tool.scope {
		case ScopeHandler:
			config, ok := dc.Handlers[tool.definition.Handler]
			if !ok {
				continue
			}
			definition := tool.definition
			if config != nil {
				definition.HandlerConfig = config
			}
			available[name] = definition
			continue
		case ScopeAgent:
			if tool.agentType != dc.AgentType {
				continue
			}
		}

		if dc.Allow != nil && !dc.Allow(name) {
			continue
		}
		if tool.definition.RequiresConfig && (tool.configured == nil || !tool.configured()) {
			continue
		}
		available[name] = tool.definition
	}
	return available
}
