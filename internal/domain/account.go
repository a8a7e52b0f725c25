package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Account is one connected page (Facebook) or phone number (WhatsApp).
// Shared identity lives on the envelope; platform fields live in Details.
type Account struct {
	ID            int64          `json:"id"`
	Platform      Platform       `json:"platform"`
	OwnerUserID   string         `json:"ownerUserId"`
	Name          string         `json:"name"`
	AccessToken   string         `json:"-"`
	WebhookSecret *string        `json:"-"`
	VerifyToken   *string        `json:"-"`
	Active        bool           `json:"active"`
	Details       AccountDetails `json:"details"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// AccountDetails is the platform-specific half of an Account.
// Implementations are FacebookAccountDetails and WhatsAppAccountDetails.
type AccountDetails interface {
	Platform() Platform
	// RoutingID is the id webhooks carry to address this account.
	RoutingID() string
	validate() error
}

type FacebookAccountDetails struct {
	PageID   string `json:"pageId"`
	PageName string `json:"pageName,omitempty"`
}

func (FacebookAccountDetails) Platform() Platform { return PlatformFacebook }

func (d FacebookAccountDetails) RoutingID() string { return d.PageID }

func (d FacebookAccountDetails) validate() error {
	if strings.TrimSpace(d.PageID) == "" {
		return fmt.Errorf("facebook account requires a page id")
	}
	return nil
}

type WhatsAppAccountDetails struct {
	PhoneNumberID      string `json:"phoneNumberId"`
	BusinessAccountID  string `json:"businessAccountId,omitempty"`
	DisplayPhoneNumber string `json:"displayPhoneNumber,omitempty"`
}

func (WhatsAppAccountDetails) Platform() Platform { return PlatformWhatsApp }

func (d WhatsAppAccountDetails) RoutingID() string {
	if d.PhoneNumberID != "" {
		return d.PhoneNumberID
	}
	return d.BusinessAccountID
}

func (d WhatsAppAccountDetails) validate() error {
	if strings.TrimSpace(d.PhoneNumberID) == "" && strings.TrimSpace(d.BusinessAccountID) == "" {
		return fmt.Errorf("whatsapp account requires a phone number id or business account id")
	}
	return nil
}

func (a *Account) RoutingID() string {
	if a.Details == nil {
		return ""
	}
	return a.Details.RoutingID()
}

func (a *Account) Validate() error {
	if !a.Platform.Valid() {
		return fmt.Errorf("invalid platform %q", a.Platform)
	}
	if strings.TrimSpace(a.OwnerUserID) == "" {
		return fmt.Errorf("account requires an owner")
	}
	if strings.TrimSpace(a.AccessToken) == "" {
		return fmt.Errorf("account requires an access token")
	}
	if a.Details == nil {
		return fmt.Errorf("account requires platform details")
	}
	if a.Details.Platform() != a.Platform {
		return fmt.Errorf("details for %s attached to %s account", a.Details.Platform(), a.Platform)
	}
	return a.Details.validate()
}

// SigningSecret returns the account-level webhook secret, or fallback when none is set.
func (a *Account) SigningSecret(fallback string) string {
	if a.WebhookSecret != nil && *a.WebhookSecret != "" {
		return *a.WebhookSecret
	}
	return fallback
}

func EncodeAccountDetails(details AccountDetails) (string, error) {
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode account details: %w", err)
	}
	return string(data), nil
}

func DecodeAccountDetails(platform Platform, raw string) (AccountDetails, error) {
	switch platform {
	case PlatformFacebook:
		var d FacebookAccountDetails
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to decode facebook account details: %w", err)
		}
		return d, nil
	case PlatformWhatsApp:
		var d WhatsAppAccountDetails
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to decode whatsapp account details: %w", err)
		}
		return d, nil
	}

	return nil, fmt.Errorf("invalid platform %q", platform)
}
