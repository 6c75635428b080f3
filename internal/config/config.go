// Package config handles Praxis configuration loading and management.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".praxis")

	return &Config{
		Agent: AgentConfig{
			Provider:            "anthropic",
			Model:               "claude-sonnet-4-5",
			MaxRateLimitRetries: 3,
			MaxIterations:       24,
			MaxOutputTokens:     4096,
		},
		Subagents: SubagentConfig{
			Policy:             ConfirmMultipleOnly,
			MaxConcurrent:      3,
			ConfirmTimeoutSecs: 300,
			DefaultTimeoutSecs: 600,
			Roles: map[string]RoleConfig{
				"simple": {
					MaxIterations: 8,
					TimeoutSecs:   300,
				},
				"complex": {
					MaxIterations: 24,
					TimeoutSecs:   900,
				},
				"researcher": {
					MaxIterations: 12,
					TimeoutSecs:   600,
				},
			},
		},
		Capability: CapabilityConfig{
			Prefix:      "mcp_",
			ServersFile: filepath.Join(dataDir, "servers.json"),
		},
		Paths: PathsConfig{
			DataDir:    dataDir,
			RunStoreDB: filepath.Join(dataDir, "runs.db"),
		},
	}
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file doesn't exist, return defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(c)
}
