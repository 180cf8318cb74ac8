package models

// ToolParameter describes one parameter of a tool
type ToolParameter struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ToolDefinition is a named, schema-described callable an agent may invoke.
// ClassRef and Method identify the implementation in the tool registry.
type ToolDefinition struct {
	Name           string                   `json:"name" validate:"required"`
	ClassRef       string                   `json:"class" validate:"required"`
	Method         string                   `json:"method" validate:"required"`
	Description    string                   `json:"description"`
	Parameters     map[string]ToolParameter `json:"parameters"`
	Handler        string                   `json:"handler,omitempty"`
	RequiresConfig bool                     `json:"requires_config,omitempty"`
	HandlerConfig  map[string]interface{}   `json:"handler_config,omitempty"`
}

// HasParameter reports whether the tool declares the named parameter
func (d *ToolDefinition) HasParameter(name string) bool {
	_, ok := d.Parameters[name]
	return ok
}

// RequiredParameters lists the names of required parameters
func (d *ToolDefinition) RequiredParameters() []string {
	var required []string
	for name, p := range d.Parameters {
		if p.Required {
			required = append(required, name)
		}
	}
	return required
}

// ToolResult is the structured outcome of a tool execution. Tool failures are
// always reported here, never as a Go error.
type ToolResult struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	ToolName string      `json:"tool_name"`
}
