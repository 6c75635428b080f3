package model

import (
	"context"
	"fmt"
	"os"

	"github.com/praxis-ai/praxis/internal/errors"
)

// Environment variables holding vendor credentials. API keys never
// appear in configuration files.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
)

// ForProvider returns the provider for the configured vendor name.
func ForProvider(ctx context.Context, name string) (Provider, error) {
	switch name {
	case "anthropic":
		key, err := credential(EnvAnthropicKey, name)
		if err != nil {
			return nil, err
		}
		return NewAnthropic(key), nil
	case "openai":
		key, err := credential(EnvOpenAIKey, name)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(key), nil
	case "gemini":
		key, err := credential(EnvGeminiKey, name)
		if err != nil {
			return nil, err
		}
		return NewGemini(ctx, key)
	default:
		return nil, errors.User(errors.CodeConfigInvalid,
			fmt.Sprintf("unknown provider %q (want anthropic, openai, or gemini)", name))
	}
}

func credential(envVar, provider string) (string, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return "", errors.User(errors.CodeProviderUnavailable,
			fmt.Sprintf("%s is not set; provider %q needs it", envVar, provider))
	}
	return key, nil
}
