package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/toolexecutor"
)

// DeltaFunc receives streamed text as it arrives.
type DeltaFunc func(text string)

// LLMRequest is one completion call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Turns        []session.Turn
	Tools        []toolexecutor.ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// LLMProvider is an interface for completion API providers
type LLMProvider interface {
	// Stream runs a completion, calling onDelta with text as it arrives,
	// and returns the finished model turn with its tool calls.
	Stream(ctx context.Context, request LLMRequest, onDelta DeltaFunc) (*session.Turn, error)

	// Generate returns a plain-text completion for a single prompt.
	Generate(ctx context.Context, model, prompt string) (string, error)

	// Provider returns the provider name
	Provider() string
}

// AuthProfile holds the credentials for one provider.
type AuthProfile struct {
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"-" mapstructure:"api_key"`
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(ctx context.Context, profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(ctx context.Context, profile AuthProfile) (LLMProvider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("api key for provider %q is empty", profile.Provider)
	}
	switch strings.ToLower(profile.Provider) {
	case "", "gemini", "google":
		return NewGeminiProvider(ctx, profile.APIKey)
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// toolInputSchema returns the JSON Schema object for a tool's arguments.
func toolInputSchema(def toolexecutor.ToolDefinition) map[string]interface{} {
	schema := toolexecutor.JSONSchema(def)
	delete(schema, "additionalProperties")
	return schema
}

// responseText renders a tool result the way text-only providers expect it.
func responseText(result *session.ToolResult) string {
	if result.Error != "" {
		return "Error: " + result.Error
	}
	return result.Result
}
