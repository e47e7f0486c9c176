package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/closedai/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Stream makes a single non-streaming call and delivers the whole text as one delta.
func (p *OpenAIProvider) Stream(ctx context.Context, request LLMRequest, onDelta DeltaFunc) (*session.Turn, error) {
	messages, err := toOpenAIMessages(request.SystemPrompt, request.Turns)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, def := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(toolInputSchema(def)),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(response.Choices) == 0 {
		return nil, &LLMError{Provider: "openai", Type: ErrorTypeUnknown, Message: "no response choices returned"}
	}

	choice := response.Choices[0]
	var calls []session.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		calls = append(calls, session.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	if choice.Message.Content != "" && onDelta != nil {
		onDelta(choice.Message.Content)
	}
	return buildModelTurn(choice.Message.Content, calls), nil
}

// Generate returns a plain-text completion.
func (p *OpenAIProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(response.Choices) == 0 {
		return "", &LLMError{Provider: "openai", Type: ErrorTypeUnknown, Message: "no response choices returned"}
	}
	return response.Choices[0].Message.Content, nil
}

func toOpenAIMessages(systemPrompt string, turns []session.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}

	for _, turn := range turns {
		switch turn.Role {
		case session.RoleModel:
			calls := turn.ToolCalls()
			if len(calls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(calls))
			for _, call := range calls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   turn.Text(),
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())

		case session.RoleTool:
			for _, part := range turn.Parts {
				if part.ToolResult != nil {
					messages = append(messages, openai.ToolMessage(responseText(part.ToolResult), part.ToolResult.ID))
				}
			}

		default:
			text := turn.Text()
			for _, part := range turn.Parts {
				if part.InlineMedia != nil {
					text += fmt.Sprintf("\n[attachment: %s]", part.InlineMedia.MIMEType)
				}
			}
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newStatusError("openai", apiErr.StatusCode, err)
	}
	return classifyTransport("openai", err)
}
