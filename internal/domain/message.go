package domain

import (
	"fmt"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeDocument MessageType = "DOCUMENT"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeTemplate MessageType = "TEMPLATE"
	MessageTypeLocation MessageType = "LOCATION"
	MessageTypeContact  MessageType = "CONTACT"
)

func ParseMessageType(value string) (MessageType, error) {
	t := MessageType(strings.ToUpper(strings.TrimSpace(value)))
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeDocument, MessageTypeAudio,
		MessageTypeVideo, MessageTypeTemplate, MessageTypeLocation, MessageTypeContact:
		return t, nil
	}
	return "", fmt.Errorf("unknown message type %q", value)
}

// IsMedia reports whether the type is carried by an attachment.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeDocument, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanTransition enforces SENT -> DELIVERED -> READ with FAILED terminal.
// Skipping forward (SENT -> READ) is allowed; moving backward is not.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusSent
	}
	return from.rank() > 0 && to.rank() > from.rank()
}

// Predecessors lists the statuses that may move to s.
func (s MessageStatus) Predecessors() []MessageStatus {
	var out []MessageStatus
	for _, from := range []MessageStatus{StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if CanTransition(from, s) {
			out = append(out, from)
		}
	}
	return out
}

// Message is one inbound or outbound unit within a conversation.
// PlatformMessageID is nil until the platform has acknowledged the message.
type Message struct {
	ID                int64               `db:"id" json:"id"`
	ConversationID    int64               `db:"conversation_id" json:"conversationId"`
	PlatformMessageID *string             `db:"platform_message_id" json:"platformMessageId,omitempty"`
	SenderID          string              `db:"sender_id" json:"senderId"`
	RecipientID       string              `db:"recipient_id" json:"recipientId"`
	Type              MessageType         `db:"type" json:"type"`
	Content           *string             `db:"content" json:"content,omitempty"`
	IsInbound         bool                `db:"is_inbound" json:"isInbound"`
	Status            MessageStatus       `db:"status" json:"status"`
	ErrorMessage      *string             `db:"error_message" json:"errorMessage,omitempty"`
	Timestamp         time.Time           `db:"timestamp" json:"timestamp"`
	CreatedAt         time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updatedAt"`
	Attachments       []MessageAttachment `db:"-" json:"attachments,omitempty"`
}

// DuplicateOf reports whether m and other share a platform message id.
// Messages without a platform id never duplicate each other.
func (m *Message) DuplicateOf(other *Message) bool {
	if m.PlatformMessageID == nil || other.PlatformMessageID == nil {
		return false
	}
	return *m.PlatformMessageID == *other.PlatformMessageID
}

// MessageAttachment is either a remote URL or a locally stored file.
// PlatformMediaID is set for media the platform hosts behind its own API (WhatsApp).
type MessageAttachment struct {
	ID              int64       `db:"id" json:"id"`
	MessageID       int64       `db:"message_id" json:"messageId"`
	Type            MessageType `db:"type" json:"type"`
	URL             *string     `db:"url" json:"url,omitempty"`
	LocalPath       *string     `db:"local_path" json:"localPath,omitempty"`
	PlatformMediaID *string     `db:"platform_media_id" json:"platformMediaId,omitempty"`
	Size            *int64      `db:"size" json:"size,omitempty"`
	MimeType        *string     `db:"mime_type" json:"mimeType,omitempty"`
	FileName        *string     `db:"file_name" json:"fileName,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
}
