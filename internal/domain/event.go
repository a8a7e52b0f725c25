package domain

import "time"

// EventType names a real-time event pushed to staff clients.
type EventType string

const (
	EventNewMessage          EventType = "NEW_MESSAGE"
	EventConversationUpdate  EventType = "CONVERSATION_UPDATE"
	EventUnreadCountUpdate   EventType = "UNREAD_COUNT_UPDATE"
	EventMessageStatusUpdate EventType = "MESSAGE_STATUS_UPDATE"
	EventAccountStatusUpdate EventType = "ACCOUNT_STATUS_UPDATE"
	EventConnectionStatus    EventType = "CONNECTION_STATUS"
)

// Event is the payload shape of the staff event stream.
type Event struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"userId"`
	AccountID      int64     `json:"accountId,omitempty"`
	ConversationID int64     `json:"conversationId,omitempty"`
	MessageID      *int64    `json:"messageId,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// InboundKind classifies one discrete event extracted from a platform envelope.
type InboundKind string

const (
	InboundMessage  InboundKind = "message"
	InboundEcho     InboundKind = "echo"
	InboundDelivery InboundKind = "delivery"
	InboundRead     InboundKind = "read"
	InboundStatus   InboundKind = "status"
)

// InboundEvent is the platform-agnostic form of one messaging event.
type InboundEvent struct {
	Kind     InboundKind
	Platform Platform
	// RoutingID addresses the account: page id or phone number id.
	RoutingID string
	// CustomerID is the platform-scoped id of the end-user.
	CustomerID    string
	CustomerName  string
	CustomerPhone string

	PlatformMessageID string
	Type              MessageType
	Content           string
	Attachments       []InboundAttachment
	Timestamp         time.Time

	// Receipt fields (delivery, read, status).
	ReceiptMessageIDs []string
	Watermark         time.Time
	ReceiptStatus     MessageStatus
	ReceiptError      string
}

type InboundAttachment struct {
	Type     MessageType
	URL      string
	MediaID  string
	MimeType string
	FileName string
}
