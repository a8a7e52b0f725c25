package domain

import "time"

// WebhookEvent is the append-only record of one inbound webhook delivery.
// RawPayload is stored verbatim; only the processing state fields change.
//
// Dead marks a delivery whose failures can never succeed on replay (unknown
// account, unsupported event); it stays in the audit log but leaves the
// replay sweep. Attempts counts failed processing runs.
type WebhookEvent struct {
	ID           int64      `db:"id" json:"id"`
	Platform     Platform   `db:"platform" json:"platform"`
	EventType    string     `db:"event_type" json:"eventType"`
	RawPayload   string     `db:"raw_payload" json:"rawPayload"`
	Processed    bool       `db:"processed" json:"processed"`
	Dead         bool       `db:"dead" json:"dead"`
	Attempts     int        `db:"attempts" json:"attempts"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	AccountID    *int64     `db:"account_id" json:"accountId,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	ProcessedAt  *time.Time `db:"processed_at" json:"processedAt,omitempty"`
}

// MessageNotification is a per-user read marker for one message.
type MessageNotification struct {
	ID             int64      `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"userId"`
	MessageID      int64      `db:"message_id" json:"messageId"`
	ConversationID int64      `db:"conversation_id" json:"conversationId"`
	Read           bool       `db:"is_read" json:"read"`
	ReadAt         *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}
