// Package toolexecutor registers and executes the agent's named tools.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Execute never panics or returns an error across the dispatch boundary;
//   every failure is reported in ToolResult.Error.
// - Every invocation is logged and audited with conversation ID, category
//   and an argument summary.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Category:    toolexecutor.CategoryRead,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	res := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, &toolexecutor.ExecutionContext{ConversationID: "1"})
package toolexecutor
