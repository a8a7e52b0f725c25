// Package outbound delivers operator-authored messages to the platforms.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/keylock"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/repository"
	"github.com/onurcolak/messaging-bridge/pkg/graphapi"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

const maxRetryDelay = 30 * time.Second

// Sender is a platform messaging API client.
type Sender interface {
	SendMessage(ctx context.Context, account *domain.Account, req graphapi.SendRequest) (string, error)
}

type messageStore interface {
	Persist(ctx context.Context, in repository.NewMessage) (*repository.PersistResult, error)
	GetByPlatformMessageID(ctx context.Context, platformMessageID string) (*domain.Message, error)
	AttachPlatformID(ctx context.Context, id int64, platformMessageID string) error
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type publisher interface {
	Publish(event domain.Event)
}

// SendInput is the operator-authored part of an outbound message.
type SendInput struct {
	Type     domain.MessageType
	Content  string
	MediaURL string
	FileName string
}

type Gateway struct {
	senders  map[domain.Platform]Sender
	messages messageStore
	limiter  *Limiter
	locks    *keylock.Locker
	events   publisher
	config   environments.OutboundConfig
}

func NewGateway(
	senders map[domain.Platform]Sender,
	messages messageStore,
	limiter *Limiter,
	locks *keylock.Locker,
	events publisher,
	config environments.OutboundConfig,
) *Gateway {
	return &Gateway{
		senders:  senders,
		messages: messages,
		limiter:  limiter,
		locks:    locks,
		events:   events,
		config:   config,
	}
}

// Send records an outbound message and delivers it. The caller must pass the
// conversation's own account and customer.
//
// A throttled account fails with domain.ErrThrottled before anything is
// stored. Transient platform errors are retried up to MaxRetryAttempts times;
// when delivery gives up the message is FAILED and a *domain.MessagingAPIError
// is returned together with it.
func (g *Gateway) Send(
	ctx context.Context,
	account *domain.Account,
	conversation *domain.Conversation,
	customer *domain.Customer,
	in SendInput,
) (*domain.Message, error) {
	if !account.Active {
		return nil, fmt.Errorf("account %d: %w", account.ID, domain.ErrInactiveAccount)
	}

	sender, ok := g.senders[account.Platform]
	if !ok {
		return nil, fmt.Errorf("no sender configured for %s", account.Platform)
	}

	if err := g.limiter.Wait(ctx, account.ID); err != nil {
		return nil, err
	}

	msg, err := g.record(ctx, account, conversation, customer, in)
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(logger.Fields{
		"account_id":      account.ID,
		"conversation_id": conversation.ID,
		"message_id":      msg.ID,
	})

	req := graphapi.SendRequest{
		RecipientID: customer.PlatformCustomerID,
		Type:        msg.Type,
		Content:     in.Content,
		MediaURL:    in.MediaURL,
		FileName:    in.FileName,
	}

	platformMessageID, attempts, sendErr := g.deliver(ctx, sender, account, req)
	if sendErr != nil {
		log.WithError(sendErr).WithFields(logger.Fields{
			"attempts":  attempts,
			"permanent": graphapi.IsPermanent(sendErr),
		}).Warn("Outbound message failed")
		return g.fail(ctx, account, msg, sendErr, attempts)
	}

	if err := g.messages.AttachPlatformID(ctx, msg.ID, platformMessageID); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}

		// The platform's echo of this message was stored first; keep that row.
		existing, getErr := g.messages.GetByPlatformMessageID(ctx, platformMessageID)
		if getErr != nil {
			return nil, getErr
		}
		if delErr := g.messages.Delete(ctx, msg.ID); delErr != nil {
			log.WithError(delErr).Error("Failed to remove local copy of echoed message")
		}
		log.WithField("platform_message_id", platformMessageID).Info("Outbound message matched stored echo")
		g.publishReplacement(account, existing, msg.ID)
		return existing, nil
	}

	msg.PlatformMessageID = &platformMessageID
	log.WithFields(logger.Fields{
		"platform_message_id": platformMessageID,
		"attempts":            attempts,
	}).Info("Outbound message sent")

	g.publishStatus(account, msg)
	return msg, nil
}

func (g *Gateway) record(
	ctx context.Context,
	account *domain.Account,
	conversation *domain.Conversation,
	customer *domain.Customer,
	in SendInput,
) (*domain.Message, error) {
	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	var attachments []domain.MessageAttachment
	if url := strings.TrimSpace(in.MediaURL); url != "" {
		attachments = append(attachments, domain.MessageAttachment{
			Type:     msgType,
			URL:      &url,
			FileName: domain.StringPtr(in.FileName),
		})
	}

	unlock := g.locks.Lock(conversation.Key().String())
	result, err := g.messages.Persist(ctx, repository.NewMessage{
		Message: &domain.Message{
			ConversationID: conversation.ID,
			SenderID:       account.RoutingID(),
			RecipientID:    customer.PlatformCustomerID,
			Type:           msgType,
			Content:        domain.StringPtr(in.Content),
			IsInbound:      false,
			Status:         domain.StatusSent,
			Timestamp:      time.Now().UTC(),
		},
		Attachments: attachments,
	})
	unlock()
	if err != nil {
		return nil, err
	}

	msg := result.Message
	messageID := msg.ID
	for _, userID := range notification.Recipients(account) {
		g.events.Publish(domain.Event{
			Type:           domain.EventNewMessage,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: conversation.ID,
			MessageID:      &messageID,
			Payload:        map[string]any{"message": msg, "customerName": customer.BestDisplayName()},
		})
		g.events.Publish(domain.Event{
			Type:           domain.EventConversationUpdate,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: conversation.ID,
			MessageID:      &messageID,
			Payload:        map[string]any{"lastMessageAt": msg.Timestamp, "unreadCount": result.UnreadCount},
		})
	}

	return msg, nil
}

// deliver calls the platform until it succeeds, fails permanently, or the
// retry budget is spent. It returns the number of calls made.
func (g *Gateway) deliver(ctx context.Context, sender Sender, account *domain.Account, req graphapi.SendRequest) (string, int, error) {
	attempts := 0

	for {
		attempts++

		platformMessageID, err := sender.SendMessage(ctx, account, req)
		if err == nil {
			return platformMessageID, attempts, nil
		}

		if !domain.IsTransient(err) || attempts > g.config.MaxRetryAttempts {
			return "", attempts, err
		}

		delay := g.retryDelay(attempts)
		logger.Debugf("Transient send failure for account %d (attempt %d), retrying in %v: %v",
			account.ID, attempts, delay, err)

		if err := sleep(ctx, delay); err != nil {
			return "", attempts, err
		}
		if err := g.limiter.Wait(ctx, account.ID); err != nil {
			return "", attempts, err
		}
	}
}

func (g *Gateway) retryDelay(attempt int) time.Duration {
	delay := g.config.RetryDelay
	if !g.config.ExponentialBackoff {
		return delay
	}

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail marks msg FAILED and returns it with the delivery error as a
// *domain.MessagingAPIError carrying the attempt count.
func (g *Gateway) fail(ctx context.Context, account *domain.Account, msg *domain.Message, cause error, attempts int) (*domain.Message, error) {
	var apiErr *domain.MessagingAPIError
	if !errors.As(cause, &apiErr) {
		apiErr = &domain.MessagingAPIError{Message: cause.Error(), Transient: errors.Is(cause, domain.ErrThrottled)}
	}
	failure := *apiErr
	failure.Attempts = attempts

	// The request may have been canceled; the FAILED mark must still land.
	changed, err := g.messages.MarkFailed(context.WithoutCancel(ctx), msg.ID, failure.Error())
	if err != nil {
		return nil, err
	}

	if changed {
		reason := failure.Error()
		msg.Status = domain.StatusFailed
		msg.ErrorMessage = &reason
		g.publishStatus(account, msg)
	}

	return msg, &failure
}

func (g *Gateway) publishStatus(account *domain.Account, msg *domain.Message) {
	g.publishStatusPayload(account, msg, statusPayload(msg))
}

// publishReplacement tells clients that the NEW_MESSAGE they got for
// replacedID is now msg, so the removed local row can be swapped out.
func (g *Gateway) publishReplacement(account *domain.Account, msg *domain.Message, replacedID int64) {
	payload := statusPayload(msg)
	payload["replacesMessageId"] = replacedID
	g.publishStatusPayload(account, msg, payload)
}

func (g *Gateway) publishStatusPayload(account *domain.Account, msg *domain.Message, payload map[string]any) {
	messageID := msg.ID
	for _, userID := range notification.Recipients(account) {
		g.events.Publish(domain.Event{
			Type:           domain.EventMessageStatusUpdate,
			UserID:         userID,
			AccountID:      account.ID,
			ConversationID: msg.ConversationID,
			MessageID:      &messageID,
			Payload:        payload,
		})
	}
}

func statusPayload(msg *domain.Message) map[string]any {
	return map[string]any{
		"status":            msg.Status,
		"platformMessageId": msg.PlatformMessageID,
		"errorMessage":      msg.ErrorMessage,
	}
}
