// Package processor turns recorded webhook deliveries into conversation state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/enrichment"
	"github.com/onurcolak/messaging-bridge/internal/keylock"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/repository"
	"github.com/onurcolak/messaging-bridge/internal/webhook"
	"github.com/onurcolak/messaging-bridge/internal/worker"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type webhookStore interface {
	Get(ctx context.Context, id int64) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	MarkDead(ctx context.Context, id int64, errorMessage string) error
	LinkAccount(ctx context.Context, id, accountID int64) error
	Pending(ctx context.Context, grace time.Duration, limit int) ([]domain.WebhookEvent, error)
}

type accountStore interface {
	GetByRoutingID(ctx context.Context, platform domain.Platform, routingID string) (*domain.Account, error)
}

type customerStore interface {
	GetByKey(ctx context.Context, key domain.CustomerKey) (*domain.Customer, error)
	GetOrCreate(ctx context.Context, key domain.CustomerKey, displayName, phone *string) (*domain.Customer, bool, error)
	UpdateContact(ctx context.Context, id int64, displayName, phone *string) error
}

type conversationStore interface {
	GetByKey(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)
	GetOrCreate(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, bool, error)
}

type messageStore interface {
	Persist(ctx context.Context, in repository.NewMessage) (*repository.PersistResult, error)
	GetByPlatformMessageID(ctx context.Context, platformMessageID string) (*domain.Message, error)
	AdvanceStatus(ctx context.Context, platformMessageID string, to domain.MessageStatus, reason *string) (*domain.Message, bool, error)
	MarkOutboundReadUpTo(ctx context.Context, conversationID int64, watermark time.Time) ([]domain.Message, error)
}

// SeenCache is the optional fast path for redelivered platform message ids.
type SeenCache interface {
	MarkMessageSeen(ctx context.Context, platform domain.Platform, platformMessageID string) error
	IsMessageSeen(ctx context.Context, platform domain.Platform, platformMessageID string) (bool, error)
}

type profileEnricher interface {
	MaybeRefresh(ctx context.Context, customer *domain.Customer, account *domain.Account) enrichment.Outcome
}

type backgroundRunner interface {
	TrySubmit(task worker.Task) error
}

type publisher interface {
	Publish(event domain.Event)
}

type Deps struct {
	Webhooks      webhookStore
	Accounts      accountStore
	Customers     customerStore
	Conversations conversationStore
	Messages      messageStore
	// Seen may be nil when no delivery cache is configured.
	Seen     SeenCache
	Enricher profileEnricher
	// Background runs enrichment off the ingestion path; nil runs none.
	Background backgroundRunner
	Events     publisher
	Locks      *keylock.Locker
}

type Processor struct {
	Deps
}

func New(deps Deps) *Processor {
	if deps.Locks == nil {
		deps.Locks = keylock.New()
	}
	return &Processor{Deps: deps}
}

// Process interprets one recorded delivery. Each discrete event succeeds or
// fails on its own; the webhook event is marked failed with every failure
// joined, or processed when all events succeeded.
func (p *Processor) Process(ctx context.Context, webhookEventID int64, platform domain.Platform, raw []byte) error {
	log := logger.WithFields(logger.Fields{
		"webhook_event_id": webhookEventID,
		"platform":         platform,
	})

	envelope, err := webhook.Parse(platform, raw)
	if err != nil {
		// The stored payload never changes, so parsing it again cannot succeed.
		p.markFailed(ctx, webhookEventID, err, true)
		return err
	}

	failures := append([]error(nil), envelope.Failures...)
	linked := false

	for _, event := range envelope.Events {
		accountID, err := p.handle(ctx, event)
		if accountID != 0 && !linked {
			if linkErr := p.Webhooks.LinkAccount(ctx, webhookEventID, accountID); linkErr != nil {
				log.WithError(linkErr).Warn("Failed to link webhook event to account")
			} else {
				linked = true
			}
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("%s event %s: %w", event.Kind, eventRef(event), err))
		}
	}

	if len(failures) > 0 {
		joined := errors.Join(failures...)
		dead := allPermanent(failures)
		log.WithFields(logger.Fields{
			"failures": len(failures),
			"dead":     dead,
		}).WithError(joined).Warn("Webhook processed with failures")
		p.markFailed(ctx, webhookEventID, joined, dead)
		return joined
	}

	if err := p.Webhooks.MarkProcessed(ctx, webhookEventID); err != nil {
		return err
	}

	log.WithField("events", len(envelope.Events)).Debug("Webhook processed")
	return nil
}

func (p *Processor) markFailed(ctx context.Context, id int64, cause error, dead bool) {
	mark := p.Webhooks.MarkFailed
	if dead {
		mark = p.Webhooks.MarkDead
	}
	if err := mark(ctx, id, cause.Error()); err != nil {
		logger.Errorf("Failed to mark webhook event %d as failed: %v", id, err)
	}
}

// allPermanent reports whether every failure is one a replay of the same
// payload would hit again: a missing or inactive account, or an event the
// parser does not support. Storage and platform errors stay retryable.
func allPermanent(failures []error) bool {
	for _, err := range failures {
		var configErr *domain.AccountConfigurationError
		if errors.As(err, &configErr) || errors.Is(err, domain.ErrUnsupportedEvent) {
			continue
		}
		return false
	}
	return len(failures) > 0
}

func eventRef(event domain.InboundEvent) string {
	switch {
	case event.PlatformMessageID != "":
		return event.PlatformMessageID
	case len(event.ReceiptMessageIDs) > 0:
		return event.ReceiptMessageIDs[0]
	}
	return event.RoutingID + "/" + event.CustomerID
}

// handle returns the resolved account id (0 when unresolved) and the event's error.
func (p *Processor) handle(ctx context.Context, event domain.InboundEvent) (int64, error) {
	account, err := p.resolveAccount(ctx, event)
	if err != nil {
		return 0, err
	}

	switch event.Kind {
	case domain.InboundMessage, domain.InboundEcho:
		return account.ID, p.handleMessage(ctx, account, event)
	case domain.InboundDelivery, domain.InboundStatus:
		return account.ID, p.handleStatus(ctx, account, event)
	case domain.InboundRead:
		return account.ID, p.handleRead(ctx, account, event)
	}

	return account.ID, fmt.Errorf("event kind %q: %w", event.Kind, domain.ErrUnsupportedEvent)
}

func (p *Processor) resolveAccount(ctx context.Context, event domain.InboundEvent) (*domain.Account, error) {
	account, err := p.Accounts.GetByRoutingID(ctx, event.Platform, event.RoutingID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &domain.AccountConfigurationError{
			Platform:  event.Platform,
			RoutingID: event.RoutingID,
			Reason:    "no account configured",
		}
	}
	if !account.Active {
		return nil, &domain.AccountConfigurationError{
			Platform:  event.Platform,
			RoutingID: event.RoutingID,
			Reason:    domain.ErrInactiveAccount.Error(),
		}
	}
	return account, nil
}

func (p *Processor) seen(ctx context.Context, platform domain.Platform, platformMessageID string) bool {
	if p.Seen == nil {
		return false
	}
	ok, err := p.Seen.IsMessageSeen(ctx, platform, platformMessageID)
	if err != nil {
		logger.Debugf("Delivery cache lookup failed, falling back to database: %v", err)
		return false
	}
	return ok
}

func (p *Processor) markSeen(ctx context.Context, platform domain.Platform, platformMessageID string) {
	if p.Seen == nil {
		return
	}
	if err := p.Seen.MarkMessageSeen(ctx, platform, platformMessageID); err != nil {
		logger.Debugf("Failed to mark %s message %s as seen: %v", platform, platformMessageID, err)
	}
}

// handleMessage stores an inbound message or a page echo. Redelivery of a
// platform message id that is already stored has no effect.
func (p *Processor) handleMessage(ctx context.Context, account *domain.Account, event domain.InboundEvent) error {
	if p.seen(ctx, event.Platform, event.PlatformMessageID) {
		return nil
	}

	existing, err := p.Messages.GetByPlatformMessageID(ctx, event.PlatformMessageID)
	if err != nil {
		return err
	}
	if existing != nil {
		p.markSeen(ctx, event.Platform, event.PlatformMessageID)
		return nil
	}

	customer, err := p.resolveCustomer(ctx, event)
	if err != nil {
		return err
	}

	inbound := event.Kind == domain.InboundMessage
	key := domain.ConversationKey{AccountID: account.ID, CustomerID: customer.ID}

	var recipients []string
	if inbound {
		recipients = notification.Recipients(account)
	}

	unlock := p.Locks.Lock(key.String())
	conversation, created, err := p.Conversations.GetOrCreate(ctx, key)
	if err != nil {
		unlock()
		return err
	}

	result, err := p.Messages.Persist(ctx, repository.NewMessage{
		Message:       buildMessage(account, conversation, event),
		Attachments:   buildAttachments(event),
		NotifyUserIDs: recipients,
	})
	unlock()

	if errors.Is(err, domain.ErrDuplicate) {
		p.markSeen(ctx, event.Platform, event.PlatformMessageID)
		return nil
	}
	if err != nil {
		return err
	}

	p.markSeen(ctx, event.Platform, event.PlatformMessageID)

	logger.WithFields(logger.Fields{
		"account_id":      account.ID,
		"conversation_id": conversation.ID,
		"message_id":      result.Message.ID,
		"inbound":         inbound,
	}).Info("Message stored")

	p.publishMessage(account, customer, conversation, created, result)

	if inbound {
		p.scheduleEnrichment(customer, account)
	}

	return nil
}

func (p *Processor) resolveCustomer(ctx context.Context, event domain.InboundEvent) (*domain.Customer, error) {
	key := domain.CustomerKey{Platform: event.Platform, PlatformCustomerID: event.CustomerID}
	name := domain.StringPtr(event.CustomerName)
	phone := domain.StringPtr(event.CustomerPhone)

	customer, created, err := p.Customers.GetOrCreate(ctx, key, name, phone)
	if err != nil {
		return nil, err
	}

	if !created && (changed(customer.DisplayName, name) || changed(customer.Phone, phone)) {
		if err := p.Customers.UpdateContact(ctx, customer.ID, name, phone); err != nil {
			return nil, err
		}
		if name != nil {
			customer.DisplayName = name
		}
		if phone != nil {
			customer.Phone = phone
		}
	}

	return customer, nil
}

func changed(current, incoming *string) bool {
	return incoming != nil && (current == nil || *current != *incoming)
}

func buildMessage(account *domain.Account, conversation *domain.Conversation, event domain.InboundEvent) *domain.Message {
	platformMessageID := event.PlatformMessageID
	msgType := event.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	msg := &domain.Message{
		ConversationID:    conversation.ID,
		PlatformMessageID: &platformMessageID,
		SenderID:          event.CustomerID,
		RecipientID:       account.RoutingID(),
		Type:              msgType,
		Content:           domain.StringPtr(event.Content),
		IsInbound:         true,
		Status:            domain.StatusSent,
		Timestamp:         event.Timestamp,
	}

	if event.Kind == domain.InboundEcho {
		msg.IsInbound = false
		msg.SenderID, msg.RecipientID = account.RoutingID(), event.CustomerID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	return msg
}

func buildAttachments(event domain.InboundEvent) []domain.MessageAttachment {
	if len(event.Attachments) == 0 {
		return nil
	}

	out := make([]domain.MessageAttachment, 0, len(event.Attachments))
	for _, att := range event.Attachments {
		out = append(out, domain.MessageAttachment{
			Type:            att.Type,
			URL:             domain.StringPtr(att.URL),
			PlatformMediaID: domain.StringPtr(att.MediaID),
			MimeType:        domain.StringPtr(att.MimeType),
			FileName:        domain.StringPtr(att.FileName),
		})
	}
	return out
}

func (p *Processor) scheduleEnrichment(customer *domain.Customer, account *domain.Account) {
	if p.Enricher == nil || p.Background == nil || !customer.NeedsProfileFetch(time.Now().UTC()) {
		return
	}

	snapshot := *customer
	err := p.Background.TrySubmit(func(ctx context.Context) {
		p.Enricher.MaybeRefresh(ctx, &snapshot, account)
	})
	if err != nil {
		logger.Debugf("Enrichment for customer %d deferred to sweep: %v", customer.ID, err)
	}
}
