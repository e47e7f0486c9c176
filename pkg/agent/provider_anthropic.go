package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/closedai/pkg/session"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Stream makes a single non-streaming call and delivers the whole text as one delta.
func (p *AnthropicProvider) Stream(ctx context.Context, request LLMRequest, onDelta DeltaFunc) (*session.Turn, error) {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  toAnthropicMessages(request.Turns),
		MaxTokens: int64(maxTokens),
	}
	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}
	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, def := range request.Tools {
			schema := toolInputSchema(def)
			toolParam := anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = tools
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var (
		text  strings.Builder
		calls []session.ToolCall
	)
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			calls = append(calls, session.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}

	if text.Len() > 0 && onDelta != nil {
		onDelta(text.String())
	}
	return buildModelTurn(text.String(), calls), nil
}

// Generate returns a plain-text completion.
func (p *AnthropicProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}
	return text.String(), nil
}

func toAnthropicMessages(turns []session.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			switch {
			case part.ToolCall != nil:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Args, part.ToolCall.Name))
			case part.ToolResult != nil:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					part.ToolResult.ID, responseText(part.ToolResult), part.ToolResult.Error != "",
				))
			case part.InlineMedia != nil:
				if strings.HasPrefix(part.InlineMedia.MIMEType, "image/") {
					blocks = append(blocks, anthropic.NewImageBlockBase64(
						part.InlineMedia.MIMEType, base64.StdEncoding.EncodeToString(part.InlineMedia.Data),
					))
				} else {
					blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[attachment: %s]", part.InlineMedia.MIMEType)))
				}
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if turn.Role == session.RoleModel {
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newStatusError("anthropic", apiErr.StatusCode, err)
	}
	return classifyTransport("anthropic", err)
}
