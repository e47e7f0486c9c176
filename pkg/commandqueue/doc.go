// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in arrival order.
// - Tasks in different lanes may execute concurrently.
// - A task submitted again with the same request ID while its result is
//   cached returns the cached result without running.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.ConversationLane("42"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
