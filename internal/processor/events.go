package processor

import (
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/repository"
)

func (p *Processor) publishMessage(
	account *domain.Account,
	customer *domain.Customer,
	conversation *domain.Conversation,
	created bool,
	result *repository.PersistResult,
) {
	msg := result.Message
	messageID := msg.ID

	for _, userID := range notification.Recipients(account) {
		p.Events.Publish(domain.Event{
			Type:           domain.EventNewMessage,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: conversation.ID,
			MessageID:      &messageID,
			Payload: map[string]any{
				"message":      msg,
				"customerId":   customer.ID,
				"customerName": customer.BestDisplayName(),
				"platform":     account.Platform,
			},
		})

		p.Events.Publish(domain.Event{
			Type:           domain.EventConversationUpdate,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: conversation.ID,
			MessageID:      &messageID,
			Payload: map[string]any{
				"created":       created,
				"lastMessageAt": msg.Timestamp,
				"unreadCount":   result.UnreadCount,
			},
		})

		if msg.IsInbound {
			p.Events.Publish(domain.Event{
				Type:           domain.EventUnreadCountUpdate,
				UserID:         userID,
				AccountID:      account.ID,
				ConversationID: conversation.ID,
				MessageID:      &messageID,
				Payload:        map[string]any{"unreadCount": result.UnreadCount},
			})
		}
	}
}

func (p *Processor) publishStatus(account *domain.Account, msg *domain.Message) {
	messageID := msg.ID

	for _, userID := range notification.Recipients(account) {
		p.Events.Publish(domain.Event{
			Type:           domain.EventMessageStatusUpdate,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: msg.ConversationID,
			MessageID:      &messageID,
			Payload: map[string]any{
				"status":            msg.Status,
				"platformMessageId": msg.PlatformMessageID,
				"errorMessage":      msg.ErrorMessage,
			},
		})
	}
}
