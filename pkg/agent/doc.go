// Package agent runs the turn loop: it loads a conversation's history,
// streams completions to the chat channel, dispatches the model's tool calls
// and persists every turn, then hands the workspace to the commit
// reconciler.
//
// Invariants:
// - Runs of one conversation are serialized through a commandqueue lane.
// - The user turn is persisted before the first completion call and every
//   model turn is persisted as soon as it is complete.
// - Tool calls run one at a time, in the order the model emitted them, and
//   each produces exactly one result in a single aggregated tool turn.
// - At most Settings.MaxTurns completion calls are made per run.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, err := runner.Run(ctx, agent.RunParams{
//		ConversationID: "42",
//		SenderID:       "1001",
//		Text:           "list files",
//	})
package agent
