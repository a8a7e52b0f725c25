package domain

import (
	"strings"
	"time"
)

// ProfileRefetchInterval is the backoff between directory lookups for a customer
// whose profile has not been fetched yet.
const ProfileRefetchInterval = 24 * time.Hour

// Customer is an end-user identified within one platform's namespace.
// The same Customer is shared across conversations with different accounts.
type Customer struct {
	ID                      int64      `db:"id" json:"id"`
	Platform                Platform   `db:"platform" json:"platform"`
	PlatformCustomerID      string     `db:"platform_customer_id" json:"platformCustomerId"`
	DisplayName             *string    `db:"display_name" json:"displayName,omitempty"`
	FirstName               *string    `db:"first_name" json:"firstName,omitempty"`
	LastName                *string    `db:"last_name" json:"lastName,omitempty"`
	ProfilePictureURL       *string    `db:"profile_picture_url" json:"profilePictureUrl,omitempty"`
	Phone                   *string    `db:"phone" json:"phone,omitempty"`
	Email                   *string    `db:"email" json:"email,omitempty"`
	Address                 *string    `db:"address" json:"address,omitempty"`
	ProfileFetched          bool       `db:"profile_fetched" json:"profileFetched"`
	ProfileFetchAttemptedAt *time.Time `db:"profile_fetch_attempted_at" json:"profileFetchAttemptedAt,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updatedAt"`
}

// CustomerKey is the natural identity of a customer.
type CustomerKey struct {
	Platform           Platform
	PlatformCustomerID string
}

func (c *Customer) Key() CustomerKey {
	return CustomerKey{Platform: c.Platform, PlatformCustomerID: c.PlatformCustomerID}
}

// SameCustomer compares customers by natural key, ignoring mutable profile fields.
func SameCustomer(a, b *Customer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}

// BestDisplayName resolves: display name, first+last, first, last, "{Platform} User".
func (c *Customer) BestDisplayName() string {
	if name := trimmed(c.DisplayName); name != "" {
		return name
	}

	first := trimmed(c.FirstName)
	last := trimmed(c.LastName)

	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}

	return c.Platform.DisplayName() + " User"
}

// NeedsProfileFetch reports whether a directory lookup is due at now.
func (c *Customer) NeedsProfileFetch(now time.Time) bool {
	if c.ProfileFetched {
		return false
	}
	if c.ProfileFetchAttemptedAt == nil {
		return true
	}
	return now.Sub(*c.ProfileFetchAttemptedAt) > ProfileRefetchInterval
}

// CustomerProfile is what a platform directory returns for a customer.
type CustomerProfile struct {
	FirstName         string
	LastName          string
	DisplayName       string
	ProfilePictureURL string
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// StringPtr returns nil for blank input.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
