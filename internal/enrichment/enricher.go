// Package enrichment fills in customer display data from platform directories.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type customerStore interface {
	ListNeedingProfile(ctx context.Context, attemptedBefore time.Time, limit int) ([]domain.Customer, error)
	MarkProfileFetched(ctx context.Context, id int64, profile *domain.CustomerProfile, at time.Time) error
	MarkProfileAttempted(ctx context.Context, id int64, at time.Time) error
}

type accountLookup interface {
	GetLatestForCustomer(ctx context.Context, customerID int64) (*domain.Account, error)
}

// ProfileFetcher is a platform directory client.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, account *domain.Account, customerID string) (*domain.CustomerProfile, error)
}

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeFetched Outcome = "fetched"
	OutcomeFailed  Outcome = "failed"
)

type Enricher struct {
	customers customerStore
	accounts  accountLookup
	fetchers  map[domain.Platform]ProfileFetcher
	timeout   time.Duration
	now       func() time.Time
}

func NewEnricher(customers customerStore, accounts accountLookup, fetchers map[domain.Platform]ProfileFetcher, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Enricher{
		customers: customers,
		accounts:  accounts,
		fetchers:  fetchers,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MaybeRefresh fetches the customer's profile when one is due. account is the
// account whose credentials to use; when nil the customer's latest active
// account is looked up. Failures are recorded as an attempt and never returned.
func (e *Enricher) MaybeRefresh(ctx context.Context, customer *domain.Customer, account *domain.Account) Outcome {
	now := e.now()
	if !customer.NeedsProfileFetch(now) {
		return OutcomeSkipped
	}

	log := logger.WithFields(logger.Fields{
		"customer_id": customer.ID,
		"platform":    customer.Platform,
	})

	profile, err := e.fetch(ctx, customer, account)
	if err != nil {
		if errors.Is(err, domain.ErrProfileUnavailable) {
			log.Debug("Platform has no profile directory, recording attempt")
		} else {
			log.WithError(err).Warn("Profile fetch failed")
		}

		if markErr := e.customers.MarkProfileAttempted(ctx, customer.ID, now); markErr != nil {
			log.WithError(markErr).Error("Failed to record profile attempt")
		}
		customer.ProfileFetchAttemptedAt = &now
		return OutcomeFailed
	}

	if profile.DisplayName == "" {
		profile.DisplayName = strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	}

	if err := e.customers.MarkProfileFetched(ctx, customer.ID, profile, now); err != nil {
		log.WithError(err).Error("Failed to store customer profile")
		return OutcomeFailed
	}

	customer.FirstName = domain.StringPtr(profile.FirstName)
	customer.LastName = domain.StringPtr(profile.LastName)
	customer.ProfilePictureURL = domain.StringPtr(profile.ProfilePictureURL)
	if name := domain.StringPtr(profile.DisplayName); name != nil {
		customer.DisplayName = name
	}
	customer.ProfileFetched = true
	customer.ProfileFetchAttemptedAt = &now

	log.Info("Customer profile fetched")
	return OutcomeFetched
}

func (e *Enricher) fetch(ctx context.Context, customer *domain.Customer, account *domain.Account) (*domain.CustomerProfile, error) {
	fetcher, ok := e.fetchers[customer.Platform]
	if !ok {
		return nil, fmt.Errorf("%s: %w", customer.Platform, domain.ErrProfileUnavailable)
	}

	if account == nil {
		var err error
		if account, err = e.accounts.GetLatestForCustomer(ctx, customer.ID); err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("no active account for customer %d", customer.ID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return fetcher.FetchProfile(ctx, account, customer.PlatformCustomerID)
}

// Sweep refreshes up to limit customers whose profile is due. It returns how
// many were fetched successfully.
func (e *Enricher) Sweep(ctx context.Context, limit int) (int, error) {
	customers, err := e.customers.ListNeedingProfile(ctx, e.now().Add(-domain.ProfileRefetchInterval), limit)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for i := range customers {
		if ctx.Err() != nil {
			break
		}
		if e.MaybeRefresh(ctx, &customers[i], nil) == OutcomeFetched {
			fetched++
		}
	}

	if len(customers) > 0 {
		logger.Infof("Enrichment sweep: %d/%d customer profile(s) fetched", fetched, len(customers))
	}

	return fetched, nil
}
