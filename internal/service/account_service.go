package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// Small internal interfaces so we can test without a real database or broadcaster.
type accountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Account, error)
	SetActive(ctx context.Context, id int64, active bool) (bool, error)
}

type publisher interface {
	Publish(event domain.Event)
}

// CreateAccountInput describes a new platform integration. PageID applies to
// Facebook; PhoneNumberID and BusinessAccountID to WhatsApp.
type CreateAccountInput struct {
	Platform           domain.Platform
	Name               string
	AccessToken        string
	WebhookSecret      string
	VerifyToken        string
	PageID             string
	PageName           string
	PhoneNumberID      string
	BusinessAccountID  string
	DisplayPhoneNumber string
}

type AccountService struct {
	accounts accountRepository
	events   publisher
}

func NewAccountService(accounts accountRepository, events publisher) *AccountService {
	return &AccountService{
		accounts: accounts,
		events:   events,
	}
}

// CreateAccount connects a page or phone number for ownerUserID. A second
// account with the same routing id fails with domain.ErrDuplicate.
func (s *AccountService) CreateAccount(ctx context.Context, ownerUserID string, in CreateAccountInput) (*domain.Account, error) {
	account := &domain.Account{
		Platform:      in.Platform,
		OwnerUserID:   ownerUserID,
		Name:          strings.TrimSpace(in.Name),
		AccessToken:   in.AccessToken,
		WebhookSecret: optional(in.WebhookSecret),
		VerifyToken:   optional(in.VerifyToken),
		Active:        true,
	}

	switch in.Platform {
	case domain.PlatformFacebook:
		account.Details = domain.FacebookAccountDetails{PageID: in.PageID, PageName: in.PageName}
	case domain.PlatformWhatsApp:
		account.Details = domain.WhatsAppAccountDetails{
			PhoneNumberID:      in.PhoneNumberID,
			BusinessAccountID:  in.BusinessAccountID,
			DisplayPhoneNumber: in.DisplayPhoneNumber,
		}
	default:
		return nil, fmt.Errorf("platform %q: %w", in.Platform, domain.ErrInvalidAccount)
	}

	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAccount, err)
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"account_id": account.ID,
		"platform":   account.Platform,
		"routing_id": account.RoutingID(),
	}).Info("Account created")

	return account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, ownerUserID string) ([]domain.Account, error) {
	return s.accounts.ListByOwner(ctx, ownerUserID)
}

// SetActive activates or deactivates an account owned by ownerUserID.
// Accounts are never hard-deleted; deactivation stops inbound processing
// and outbound sends. The owner is told when the flag actually changes.
func (s *AccountService) SetActive(ctx context.Context, ownerUserID string, accountID int64, active bool) (*domain.Account, error) {
	account, err := s.ownedAccount(ctx, ownerUserID, accountID)
	if err != nil {
		return nil, err
	}

	changed, err := s.accounts.SetActive(ctx, accountID, active)
	if err != nil {
		return nil, err
	}
	account.Active = active

	if changed {
		logger.Infof("Account %d active=%t", accountID, active)
		s.events.Publish(domain.Event{
			Type:      domain.EventAccountStatusUpdate,
			UserID:    account.OwnerUserID,
			AccountID: account.ID,
			Payload:   map[string]any{"active": active, "platform": account.Platform},
		})
	}

	return account, nil
}

func (s *AccountService) ownedAccount(ctx context.Context, ownerUserID string, accountID int64) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.OwnerUserID != ownerUserID {
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrNotFound)
	}
	return account, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
