package coretools

import (
	"context"
	"fmt"

	"github.com/harun/closedai/pkg/toolexecutor"
)

func replyTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "reply",
		Description: "Send a message to the user right away, before the task finishes.",
		Category:    toolexecutor.CategoryChat,
		KeyArg:      "text",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "The message text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			text, err := requiredString(params, "text")
			if err != nil {
				return nil, err
			}
			id := conversationID(ctx)
			if id == "" {
				return nil, fmt.Errorf("no conversation to reply to")
			}
			if err := opts.Replier.Reply(ctx, id, text); err != nil {
				return nil, err
			}
			return "Sent.", nil
		},
	}
}
