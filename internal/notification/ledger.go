package notification

import (
	"context"
	"fmt"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/keylock"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type ledgerRepository interface {
	ListUnread(ctx context.Context, userID string, limit int) ([]domain.MessageNotification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkConversationRead(ctx context.Context, userID string, conversationID int64) (int64, error)
	MarkMessageUnread(ctx context.Context, userID string, messageID int64) (*domain.MessageNotification, bool, error)
	UnreadCount(ctx context.Context, conversationID int64) (int, error)
}

type conversationLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
}

type messageLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
}

type accountLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
}

type publisher interface {
	Publish(event domain.Event)
}

// Ledger tracks per-user read state. Mutations of a conversation's unread
// count run under the conversation's key lock.
type Ledger struct {
	repo          ledgerRepository
	conversations conversationLookup
	messages      messageLookup
	accounts      accountLookup
	locks         *keylock.Locker
	events        publisher
}

func NewLedger(
	repo ledgerRepository,
	conversations conversationLookup,
	messages messageLookup,
	accounts accountLookup,
	locks *keylock.Locker,
	events publisher,
) *Ledger {
	return &Ledger{
		repo:          repo,
		conversations: conversations,
		messages:      messages,
		accounts:      accounts,
		locks:         locks,
		events:        events,
	}
}

// Recipients lists the users who get a notification for inbound messages on account.
func Recipients(account *domain.Account) []string {
	if account == nil || account.OwnerUserID == "" {
		return nil
	}
	return []string{account.OwnerUserID}
}

// visibleConversation loads the conversation and checks userID can see it.
// Conversations the user cannot see are reported as not found.
func (l *Ledger) visibleConversation(ctx context.Context, userID string, conversationID int64) (*domain.Conversation, error) {
	conversation, err := l.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}

	account, err := l.accounts.GetByID(ctx, conversation.AccountID)
	if err != nil {
		return nil, err
	}
	for _, recipient := range Recipients(account) {
		if recipient == userID {
			return conversation, nil
		}
	}

	return nil, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
}

// MarkConversationRead marks every unread notification of userID in the
// conversation as read and resets its unread count to zero.
func (l *Ledger) MarkConversationRead(ctx context.Context, userID string, conversationID int64) (int64, error) {
	conversation, err := l.visibleConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}

	unlock := l.locks.Lock(conversation.Key().String())
	changed, err := l.repo.MarkConversationRead(ctx, userID, conversationID)
	unlock()
	if err != nil {
		return 0, err
	}

	logger.WithFields(logger.Fields{
		"user_id":         userID,
		"conversation_id": conversationID,
		"marked":          changed,
	}).Debug("Conversation marked read")

	l.publishUnread(userID, conversation, nil, 0)

	return changed, nil
}

// MarkMessageUnread flips one message back to unread for userID.
func (l *Ledger) MarkMessageUnread(ctx context.Context, userID string, messageID int64) (*domain.MessageNotification, error) {
	message, err := l.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}

	conversation, err := l.visibleConversation(ctx, userID, message.ConversationID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(conversation.Key().String())
	notification, changed, err := l.repo.MarkMessageUnread(ctx, userID, messageID)
	var count int
	if err == nil {
		count, err = l.repo.UnreadCount(ctx, conversation.ID)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	if changed {
		l.publishUnread(userID, conversation, &messageID, count)
	}

	return notification, nil
}

func (l *Ledger) ListUnread(ctx context.Context, userID string, limit int) ([]domain.MessageNotification, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	notifications, err := l.repo.ListUnread(ctx, userID, limit)
	if err != nil {
		return nil, 0, err
	}

	total, err := l.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

func (l *Ledger) publishUnread(userID string, conversation *domain.Conversation, messageID *int64, count int) {
	l.events.Publish(domain.Event{
		Type:           domain.EventUnreadCountUpdate,
		UserID:         userID,
		AccountID:      conversation.AccountID,
		ConversationID: conversation.ID,
		MessageID:      messageID,
		Payload:        map[string]any{"unreadCount": count},
	})
}
