// Package config provides configuration types for Praxis.
package config

import "github.com/praxis-ai/praxis/pkg/protocol"

// Config represents the main Praxis configuration.
type Config struct {
	Agent      AgentConfig      `toml:"agent"`
	Subagents  SubagentConfig   `toml:"subagents"`
	Capability CapabilityConfig `toml:"capability"`
	Paths      PathsConfig      `toml:"paths"`
}

// AgentConfig contains top-level agent loop settings.
type AgentConfig struct {
	Provider string `toml:"provider"` // anthropic, openai, gemini
	Model    string `toml:"model"`

	// MaxRateLimitRetries bounds the countdown-retry cycle before the turn
	// terminates with an error.
	MaxRateLimitRetries int `toml:"max_rate_limit_retries"`

	// MaxIterations bounds provider rounds within one turn.
	MaxIterations int `toml:"max_iterations"`

	MaxOutputTokens int `toml:"max_output_tokens"`
}

// SubagentConfig contains orchestrator settings.
type SubagentConfig struct {
	// Policy gates subagent launches: always, never, multiple-only.
	Policy string `toml:"policy"`

	MaxConcurrent int `toml:"max_concurrent"`

	// ConfirmTimeoutSecs is how long a pending confirmation waits before it
	// resolves to rejection.
	ConfirmTimeoutSecs int `toml:"confirm_timeout_secs"`

	// DefaultTimeoutSecs is the per-task timeout when a role does not
	// override it.
	DefaultTimeoutSecs int `toml:"default_timeout_secs"`

	Roles map[string]RoleConfig `toml:"roles"`
}

// RoleConfig specializes provider, model, and budgets per subagent role.
type RoleConfig struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	MaxIterations int    `toml:"max_iterations"`
	TimeoutSecs   int    `toml:"timeout_secs"`
}

// CapabilityConfig contains capability server settings.
type CapabilityConfig struct {
	// Prefix is the reserved tool-name prefix for capability-routed tools.
	Prefix string `toml:"prefix"`

	// ServersFile is the JSON document holding the server list.
	ServersFile string `toml:"servers_file"`
}

// PathsConfig contains file path settings.
type PathsConfig struct {
	DataDir    string `toml:"data_dir"`
	RunStoreDB string `toml:"runstore_db"`
}

// ConfirmPolicy values accepted by SubagentConfig.Policy.
const (
	ConfirmAlways       = "always"
	ConfirmNever        = "never"
	ConfirmMultipleOnly = "multiple-only"
)

// RoleFor returns the role configuration for a subagent role, falling back
// to the top-level agent provider/model when the role is not configured.
func (c *Config) RoleFor(role protocol.SubagentRole) RoleConfig {
	if rc, ok := c.Subagents.Roles[string(role)]; ok {
		if rc.Provider == "" {
			rc.Provider = c.Agent.Provider
		}
		if rc.Model == "" {
			rc.Model = c.Agent.Model
		}
		if rc.TimeoutSecs <= 0 {
			rc.TimeoutSecs = c.Subagents.DefaultTimeoutSecs
		}
		return rc
	}
	return RoleConfig{
		Provider:      c.Agent.Provider,
		Model:         c.Agent.Model,
		MaxIterations: c.Agent.MaxIterations,
		TimeoutSecs:   c.Subagents.DefaultTimeoutSecs,
	}
}
