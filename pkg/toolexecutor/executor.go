package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/sandbox"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single tool call when the caller sets none
const DefaultTimeout = 30 * time.Second

// abandonAfter is how long a timed-out handler may keep running before
// Execute returns without it.
const abandonAfter = 10 * time.Second

// MaxOutputSize is the largest tool output handed back to the model
const MaxOutputSize = 10 * 1024

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`

	// Items is the element type when Type is "array"
	Items string `json:"items,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`

	// KeyArg names the parameter shown in progress notices and logs
	KeyArg string `json:"key_arg,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	audit   *observability.AuditLogger
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()

	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		audit:   observability.NopAuditLogger(),
	}

	log.Info().Msg("Tool executor initialized")

	return te
}

// SetAuditLogger sets the instruction log every invocation is written to
func (te *ToolExecutor) SetAuditLogger(audit *observability.AuditLogger) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if audit == nil {
		audit = observability.NopAuditLogger()
	}
	te.audit = audit
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns copies of all tool definitions sorted by name
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	if execCtx == nil {
		execCtx = &ExecutionContext{}
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	ctx, span := tracing.StartSpan(ctx, "closedai.tools", "tool.execute",
		attribute.String("tool", toolName),
		attribute.String("conversation_id", execCtx.ConversationID),
	)
	defer span.End()

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	audit := te.audit
	te.mu.RUnlock()

	category := ToolCategory("unknown")
	if tool != nil {
		category = tool.Category
	}
	summary := SummarizeArgs(tool, params)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("conversation_id", execCtx.ConversationID).
		Str("tool", toolName).
		Str("category", string(category)).
		Bool("mutating", category.Mutating()).
		Str("args", summary).
		Logger()

	finish := func(result ToolResult) ToolResult {
		duration := time.Since(startTime)
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["duration"] = duration.Milliseconds()

		status := "success"
		if !result.Success {
			status = "error"
			span.SetAttributes(attribute.String("tool.error", result.Error))
		}
		observability.RecordToolExecution(toolName, duration, result.Success)
		audit.RecordTool(ctx, execCtx.ConversationID, toolName, string(category), summary, status)

		event := logger.Info()
		if !result.Success {
			event = logger.Warn().Str("error", result.Error)
		}
		event.Dur("duration", duration).Bool("truncated", result.Truncated).Msg("Tool executed")
		return result
	}

	if !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		return finish(ToolResult{
			Error:    fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
			Metadata: map[string]interface{}{"policy_violation": true},
		})
	}

	if tool == nil {
		return finish(ToolResult{Error: fmt.Sprintf("tool not found: %s", toolName)})
	}

	if err := te.validateParameters(schema, params); err != nil {
		return finish(ToolResult{Error: fmt.Sprintf("parameter validation failed: %v", err)})
	}

	timeout := DefaultTimeout
	if execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	timeoutCtx = ContextWithExecContext(timeoutCtx, execCtx)

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Tool handler panicked")
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		output, truncated := truncateOutput(stringify(result))
		return finish(ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
		})

	case err := <-errChan:
		if isPolicyDenial(err) {
			observability.RecordToolDenied(toolName)
		}
		tracing.RecordError(span, err)
		return finish(ToolResult{Error: err.Error()})

	case <-timeoutCtx.Done():
		// Calls run strictly in order: the next one starts only after this
		// handler has returned or been abandoned.
		select {
		case <-done:
		case <-time.After(abandonAfter):
			logger.Warn().Dur("grace", abandonAfter).Msg("Tool handler ignored cancellation, abandoning it")
		}
		err := fmt.Errorf("tool execution timeout after %v", timeout)
		tracing.RecordError(span, err)
		return finish(ToolResult{Error: err.Error()})
	}
}

func isPolicyDenial(err error) bool {
	return errors.Is(err, sandbox.ErrPathEscape) ||
		errors.Is(err, sandbox.ErrProtectedPath) ||
		errors.Is(err, sandbox.ErrCommandDenied)
}

// SummarizeArgs renders a short, single-line view of the call arguments.
// When the tool declares a KeyArg only that value is shown.
func SummarizeArgs(tool *ToolDefinition, params map[string]interface{}) string {
	const maxLen = 80

	if tool != nil && tool.KeyArg != "" {
		if v, ok := params[tool.KeyArg]; ok {
			return clip(fmt.Sprintf("%v", v), maxLen)
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return clip(strings.Join(parts, " "), maxLen)
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %s", def.Category)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	known := map[string]bool{}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Type == "array" && param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %s for %s", param.Items, param.Name)
		}
		known[param.Name] = true
	}

	if def.KeyArg != "" && !known[def.KeyArg] {
		return fmt.Errorf("key argument %s is not a parameter", def.KeyArg)
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaLoader := gojsonschema.NewGoLoader(JSONSchema(def))
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

// JSONSchema returns the JSON Schema object describing def's parameters
func JSONSchema(def ToolDefinition) map[string]interface{} {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]interface{}{"type": items}
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

// truncateOutput truncates output if it exceeds MaxOutputSize
func truncateOutput(output string) (string, bool) {
	if len(output) <= MaxOutputSize {
		return output, false
	}

	log.Warn().
		Int("original", len(output)).
		Int("truncated", MaxOutputSize).
		Msg("Output truncated")

	return output[:MaxOutputSize] + "\n... [output truncated]", true
}
