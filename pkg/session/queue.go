package session

import "time"

// QueueStatus is the lifecycle state of a retry queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
)

// QueueItem is a deferred request waiting to be retried after a transient
// upstream failure.
type QueueItem struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id,omitempty"`
	UserMessage    string        `json:"user_message"`
	Media          []InlineMedia `json:"media,omitempty"`
	Status         QueueStatus   `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAttempt    time.Time     `json:"last_attempt,omitempty"`
	Attempts       int           `json:"attempts"`
}
