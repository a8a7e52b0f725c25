package domain

import (
	"fmt"
	"time"
)

// Conversation is the unique thread between one Account and one Customer.
type Conversation struct {
	ID            int64      `db:"id" json:"id"`
	AccountID     int64      `db:"account_id" json:"accountId"`
	CustomerID    int64      `db:"customer_id" json:"customerId"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unreadCount"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// ConversationKey is the (account, customer) pair that identifies a conversation.
type ConversationKey struct {
	AccountID  int64
	CustomerID int64
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("conversation:%d:%d", k.AccountID, k.CustomerID)
}

func (c *Conversation) Key() ConversationKey {
	return ConversationKey{AccountID: c.AccountID, CustomerID: c.CustomerID}
}

// SameConversation compares by (id, customer, account); unread count and
// timestamps do not participate.
func SameConversation(a, b *Conversation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.CustomerID == b.CustomerID && a.AccountID == b.AccountID
}

// ConversationSummary is a conversation joined with its customer for list views.
type ConversationSummary struct {
	Conversation
	CustomerName       string  `json:"customerName"`
	CustomerPictureURL *string `json:"customerPictureUrl,omitempty"`
}
