package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/toolexecutor"
	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Stream runs a streaming completion. Thought signatures on function call
// parts are kept as the calls' continuation tokens.
func (p *GeminiProvider) Stream(ctx context.Context, request LLMRequest, onDelta DeltaFunc) (*session.Turn, error) {
	contents := toGeminiContents(request.Turns)
	config := geminiConfig(request)

	var (
		text  strings.Builder
		calls []session.ToolCall
	)
	for resp, err := range p.client.Models.GenerateContentStream(ctx, request.Model, contents, config) {
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part == nil || part.Thought:
				continue
			case part.FunctionCall != nil:
				calls = append(calls, session.ToolCall{
					ID:                part.FunctionCall.ID,
					Name:              part.FunctionCall.Name,
					Args:              part.FunctionCall.Args,
					ContinuationToken: part.ThoughtSignature,
				})
			case part.Text != "":
				text.WriteString(part.Text)
				if onDelta != nil {
					onDelta(part.Text)
				}
			}
		}
	}

	return buildModelTurn(text.String(), calls), nil
}

// Generate returns a plain-text completion.
func (p *GeminiProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil {
		return "", &LLMError{Provider: "gemini", Type: ErrorTypeUnknown, Message: "empty response"}
	}
	return resp.Text(), nil
}

func geminiConfig(request LLMRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}
	if request.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, def := range request.Tools {
			decls = append(decls, geminiDeclaration(def))
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// toGeminiContents maps stored turns onto Gemini contents. Tool turns are
// sent with the user role carrying function responses.
func toGeminiContents(turns []session.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := string(genai.RoleUser)
		if turn.Role == session.RoleModel {
			role = string(genai.RoleModel)
		}

		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			switch {
			case part.ToolCall != nil:
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   part.ToolCall.ID,
						Name: part.ToolCall.Name,
						Args: part.ToolCall.Args,
					},
					ThoughtSignature: part.ToolCall.ContinuationToken,
				})
			case part.ToolResult != nil:
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       part.ToolResult.ID,
						Name:     part.ToolResult.Name,
						Response: part.ToolResult.Response(),
					},
				})
			case part.InlineMedia != nil:
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{
						MIMEType: part.InlineMedia.MIMEType,
						Data:     part.InlineMedia.Data,
					},
				})
			case part.Text != "":
				parts = append(parts, &genai.Part{Text: part.Text})
			}
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents
}

func geminiDeclaration(def toolexecutor.ToolDefinition) *genai.FunctionDeclaration {
	properties := make(map[string]*genai.Schema, len(def.Parameters))
	var required []string
	for _, param := range def.Parameters {
		schema := &genai.Schema{
			Type:        geminiType(param.Type),
			Description: param.Description,
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			schema.Items = &genai.Schema{Type: geminiType(items)}
		}
		properties[param.Name] = schema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	return &genai.FunctionDeclaration{
		Name:        def.Name,
		Description: def.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: properties,
			Required:   required,
		},
	}
}

func geminiType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &LLMError{Err: err, Provider: "gemini", Type: TypeForStatus(apiErr.Code), StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return classifyTransport("gemini", err)
}

// classifyTransport wraps errors that carry no HTTP status.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &LLMError{Err: err, Provider: provider, Type: ErrorTypeTransient}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &LLMError{Err: err, Provider: provider, Type: ErrorTypeUnknown}
}

func buildModelTurn(text string, calls []session.ToolCall) *session.Turn {
	turn := &session.Turn{Role: session.RoleModel, Timestamp: time.Now()}
	if text != "" {
		turn.Parts = append(turn.Parts, session.Part{Text: text})
	}
	for i := range calls {
		call := calls[i]
		turn.Parts = append(turn.Parts, session.Part{ToolCall: &call})
	}
	return turn
}
