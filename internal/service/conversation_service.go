package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/outbound"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

const (
	defaultRecentLimit = 5
	maxRecentLimit     = 50
)

type conversationRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
	ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]domain.ConversationSummary, int64, error)
}

type customerRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
}

type messageRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID int64, page, pageSize int) ([]domain.Message, int64, error)
	ListRecent(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
}

type messageSender interface {
	Send(ctx context.Context, account *domain.Account, conversation *domain.Conversation, customer *domain.Customer, in outbound.SendInput) (*domain.Message, error)
}

// SendMessageInput is an operator reply. MediaURL is required for media types.
type SendMessageInput struct {
	Type     domain.MessageType
	Content  string
	MediaURL string
	FileName string
}

type ConversationService struct {
	accounts      accountRepository
	conversations conversationRepository
	customers     customerRepository
	messages      messageRepository
	sender        messageSender
	config        environments.OutboundConfig
}

func NewConversationService(
	accounts accountRepository,
	conversations conversationRepository,
	customers customerRepository,
	messages messageRepository,
	sender messageSender,
	config environments.OutboundConfig,
) *ConversationService {
	return &ConversationService{
		accounts:      accounts,
		conversations: conversations,
		customers:     customers,
		messages:      messages,
		sender:        sender,
		config:        config,
	}
}

// ListConversations pages the conversations of an account userID can see,
// most recently active first.
func (s *ConversationService) ListConversations(ctx context.Context, userID string, accountID int64, page, pageSize int) ([]domain.ConversationSummary, int64, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	if !visible(account, userID) {
		return nil, 0, fmt.Errorf("account %d: %w", accountID, domain.ErrNotFound)
	}

	return s.conversations.ListByAccount(ctx, accountID, page, pageSize)
}

func (s *ConversationService) ListMessages(ctx context.Context, userID string, conversationID int64, page, pageSize int) ([]domain.Message, int64, error) {
	if _, _, err := s.visibleConversation(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}

	return s.messages.ListByConversation(ctx, conversationID, page, pageSize)
}

// RecentMessages returns the last few messages of a conversation in
// chronological order.
func (s *ConversationService) RecentMessages(ctx context.Context, userID string, conversationID int64, limit int) ([]domain.Message, error) {
	if _, _, err := s.visibleConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	return s.messages.ListRecent(ctx, conversationID, limit)
}

// SendMessage delivers an operator reply on a conversation. When delivery
// fails the FAILED message is returned together with the error.
func (s *ConversationService) SendMessage(ctx context.Context, userID string, conversationID int64, in SendMessageInput) (*domain.Message, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	conversation, account, err := s.visibleConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.GetByID(ctx, conversation.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("customer %d: %w", conversation.CustomerID, domain.ErrNotFound)
	}

	return s.sender.Send(ctx, account, conversation, customer, outbound.SendInput{
		Type:     in.Type,
		Content:  in.Content,
		MediaURL: in.MediaURL,
		FileName: in.FileName,
	})
}

// ResendMessage sends a copy of a FAILED outbound message as a new message.
// The failed row keeps its status.
func (s *ConversationService) ResendMessage(ctx context.Context, userID string, messageID int64) (*domain.Message, error) {
	failed, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if failed == nil {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if _, _, err := s.visibleConversation(ctx, userID, failed.ConversationID); err != nil {
		return nil, err
	}
	if failed.IsInbound || failed.Status != domain.StatusFailed {
		return nil, fmt.Errorf("message %d is %s, only failed outbound messages can be resent: %w",
			messageID, failed.Status, domain.ErrInvalidTransition)
	}

	in := SendMessageInput{Type: failed.Type}
	if failed.Content != nil {
		in.Content = *failed.Content
	}
	for _, att := range failed.Attachments {
		if att.URL != nil {
			in.MediaURL = *att.URL
			if att.FileName != nil {
				in.FileName = *att.FileName
			}
			break
		}
	}

	logger.Infof("Resending failed message %d", messageID)

	return s.SendMessage(ctx, userID, failed.ConversationID, in)
}

func (s *ConversationService) validate(in *SendMessageInput) error {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	in.Content = strings.TrimSpace(in.Content)
	in.MediaURL = strings.TrimSpace(in.MediaURL)

	switch {
	case in.Type.IsMedia():
		if in.MediaURL == "" {
			return fmt.Errorf("%s message requires a media url: %w", in.Type, domain.ErrInvalidMessage)
		}
	case in.Type == domain.MessageTypeText:
		if in.Content == "" {
			return fmt.Errorf("text message requires content: %w", domain.ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%s messages cannot be sent by operators: %w", in.Type, domain.ErrInvalidMessage)
	}

	if limit := s.config.MaxContentLength; limit > 0 && utf8.RuneCountInString(in.Content) > limit {
		return fmt.Errorf("content exceeds %d characters: %w", limit, domain.ErrInvalidMessage)
	}

	return nil
}

// visibleConversation loads a conversation and its account, reporting
// conversations userID cannot see as not found.
func (s *ConversationService) visibleConversation(ctx context.Context, userID string, conversationID int64) (*domain.Conversation, *domain.Account, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conversation == nil {
		return nil, nil, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}

	account, err := s.accounts.GetByID(ctx, conversation.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if !visible(account, userID) {
		return nil, nil, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}

	return conversation, account, nil
}

func visible(account *domain.Account, userID string) bool {
	for _, recipient := range notification.Recipients(account) {
		if recipient == userID {
			return true
		}
	}
	return false
}
