package processor

import (
	"context"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// handleStatus applies delivery receipts and WhatsApp statuses to the outbound
// messages they name. Unknown ids and backward transitions are ignored.
func (p *Processor) handleStatus(ctx context.Context, account *domain.Account, event domain.InboundEvent) error {
	// Outbound messages are created SENT; a "sent" status carries nothing new.
	if event.ReceiptStatus == domain.StatusSent {
		return nil
	}

	var reason *string
	if event.ReceiptStatus == domain.StatusFailed {
		reason = domain.StringPtr(event.ReceiptError)
		if reason == nil {
			reason = domain.StringPtr("platform reported delivery failure")
		}
	}

	for _, platformMessageID := range event.ReceiptMessageIDs {
		message, changed, err := p.Messages.AdvanceStatus(ctx, platformMessageID, event.ReceiptStatus, reason)
		if err != nil {
			return err
		}
		if message == nil {
			logger.WithFields(logger.Fields{
				"platform":            event.Platform,
				"platform_message_id": platformMessageID,
			}).Debug("Receipt for unknown message ignored")
			continue
		}
		if changed {
			p.publishStatus(account, message)
		}
	}

	return nil
}

// handleRead marks every outbound message the customer has read up to the
// watermark as READ.
func (p *Processor) handleRead(ctx context.Context, account *domain.Account, event domain.InboundEvent) error {
	customer, err := p.Customers.GetByKey(ctx, domain.CustomerKey{Platform: event.Platform, PlatformCustomerID: event.CustomerID})
	if err != nil || customer == nil {
		return err
	}

	conversation, err := p.Conversations.GetByKey(ctx, domain.ConversationKey{AccountID: account.ID, CustomerID: customer.ID})
	if err != nil || conversation == nil {
		return err
	}

	messages, err := p.Messages.MarkOutboundReadUpTo(ctx, conversation.ID, event.Watermark)
	if err != nil {
		return err
	}

	for i := range messages {
		p.publishStatus(account, &messages[i])
	}

	return nil
}
