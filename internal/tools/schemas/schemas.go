// Package schemas provides JSON Schema definitions for provider tool calling.
package schemas

import "github.com/praxis-ai/praxis/pkg/protocol"

// SchemaBuilder provides a fluent interface for building tool definitions.
type SchemaBuilder struct {
	def protocol.ToolDefinition
}

// NewSchema creates a new schema builder with the given name and description.
func NewSchema(name, description string) *SchemaBuilder {
	return &SchemaBuilder{
		def: protocol.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters: protocol.ToolParameters{
				Type:       "object",
				Properties: make(map[string]any),
				Required:   make([]string, 0),
			},
		},
	}
}

// AddParam adds a parameter to the schema.
func (b *SchemaBuilder) AddParam(name, paramType, description string, required bool) *SchemaBuilder {
	b.def.Parameters.Properties[name] = map[string]any{
		"type":        paramType,
		"description": description,
	}
	if required {
		b.def.Parameters.Required = append(b.def.Parameters.Required, name)
	}
	return b
}

// AddParamWithEnum adds a parameter with an enum constraint.
func (b *SchemaBuilder) AddParamWithEnum(name, paramType, description string, enum []string, required bool) *SchemaBuilder {
	paramDef := map[string]any{
		"type":        paramType,
		"description": description,
	}
	if len(enum) > 0 {
		paramDef["enum"] = enum
	}
	b.def.Parameters.Properties[name] = paramDef
	if required {
		b.def.Parameters.Required = append(b.def.Parameters.Required, name)
	}
	return b
}

// AddArrayParam adds an array parameter whose items follow the given schema.
func (b *SchemaBuilder) AddArrayParam(name, description string, items map[string]any, required bool) *SchemaBuilder {
	b.def.Parameters.Properties[name] = map[string]any{
		"type":        "array",
		"description": description,
		"items":       items,
	}
	if required {
		b.def.Parameters.Required = append(b.def.Parameters.Required, name)
	}
	return b
}

// Build returns the constructed definition.
func (b *SchemaBuilder) Build() protocol.ToolDefinition {
	return b.def
}

// Registry holds tool definitions keyed by name.
type Registry struct {
	defs  map[string]protocol.ToolDefinition
	order []string
}

// NewRegistry creates a new empty schema registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]protocol.ToolDefinition)}
}

// Register adds a definition to the registry.
func (r *Registry) Register(def protocol.ToolDefinition) {
	if _, exists := r.defs[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (protocol.ToolDefinition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Definitions returns all registered definitions in registration order.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	result := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.defs[name])
	}
	return result
}
