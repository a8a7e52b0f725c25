package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

type fakeCustomers struct {
	customers map[int64]*domain.Customer
	attempts  int
}

func (f *fakeCustomers) ListNeedingProfile(_ context.Context, attemptedBefore time.Time, limit int) ([]domain.Customer, error) {
	var out []domain.Customer
	for _, c := range f.customers {
		if !c.ProfileFetched && (c.ProfileFetchAttemptedAt == nil || c.ProfileFetchAttemptedAt.Before(attemptedBefore)) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCustomers) MarkProfileFetched(_ context.Context, id int64, profile *domain.CustomerProfile, at time.Time) error {
	c := f.customers[id]
	c.ProfileFetched = true
	c.ProfileFetchAttemptedAt = &at
	c.DisplayName = domain.StringPtr(profile.DisplayName)
	return nil
}

func (f *fakeCustomers) MarkProfileAttempted(_ context.Context, id int64, at time.Time) error {
	f.attempts++
	f.customers[id].ProfileFetchAttemptedAt = &at
	return nil
}

type fakeAccounts struct{}

func (fakeAccounts) GetLatestForCustomer(context.Context, int64) (*domain.Account, error) {
	return &domain.Account{ID: 1, Platform: domain.PlatformFacebook, AccessToken: "token"}, nil
}

type fakeFetcher struct {
	calls   int
	profile *domain.CustomerProfile
	err     error
}

func (f *fakeFetcher) FetchProfile(context.Context, *domain.Account, string) (*domain.CustomerProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	return &p, nil
}

func newEnricher(customers *fakeCustomers, fetcher *fakeFetcher, now *time.Time) *Enricher {
	e := NewEnricher(customers, fakeAccounts{}, map[domain.Platform]ProfileFetcher{
		domain.PlatformFacebook: fetcher,
	}, time.Second)
	e.now = func() time.Time { return *now }
	return e
}

func TestMaybeRefresh_BacksOffForADayAfterFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	customer := &domain.Customer{ID: 1, Platform: domain.PlatformFacebook, PlatformCustomerID: "fb_123"}
	store := &fakeCustomers{customers: map[int64]*domain.Customer{1: customer}}
	fetcher := &fakeFetcher{err: errors.New("graph unavailable")}
	e := newEnricher(store, fetcher, &now)
	ctx := context.Background()

	if got := e.MaybeRefresh(ctx, customer, nil); got != OutcomeFailed {
		t.Fatalf("expected immediate attempt for never-fetched customer, got %s", got)
	}
	if fetcher.calls != 1 || store.attempts != 1 {
		t.Fatalf("expected one call and one recorded attempt, got %d/%d", fetcher.calls, store.attempts)
	}

	now = now.Add(23 * time.Hour)
	if got := e.MaybeRefresh(ctx, customer, nil); got != OutcomeSkipped {
		t.Fatalf("expected no retry within 24h, got %s", got)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected fetcher not to be called again, got %d calls", fetcher.calls)
	}

	now = now.Add(2 * time.Hour)
	fetcher.err = nil
	fetcher.profile = &domain.CustomerProfile{FirstName: "Jane", LastName: "Doe", ProfilePictureURL: "https://cdn/p.jpg"}
	if got := e.MaybeRefresh(ctx, customer, nil); got != OutcomeFetched {
		t.Fatalf("expected retry after 24h to succeed, got %s", got)
	}
	if !customer.ProfileFetched || customer.BestDisplayName() != "Jane Doe" {
		t.Fatalf("expected fetched profile to be applied, got %+v", customer)
	}

	now = now.Add(48 * time.Hour)
	if got := e.MaybeRefresh(ctx, customer, nil); got != OutcomeSkipped {
		t.Fatalf("expected fetched customer never to be refreshed, got %s", got)
	}
}

func TestMaybeRefresh_PlatformWithoutDirectoryRecordsAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	customer := &domain.Customer{ID: 2, Platform: domain.PlatformWhatsApp, PlatformCustomerID: "905551112233"}
	store := &fakeCustomers{customers: map[int64]*domain.Customer{2: customer}}
	fetcher := &fakeFetcher{}
	e := newEnricher(store, fetcher, &now)

	if got := e.MaybeRefresh(context.Background(), customer, nil); got != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", got)
	}
	if fetcher.calls != 0 || store.attempts != 1 {
		t.Fatalf("expected attempt without any fetch, got calls=%d attempts=%d", fetcher.calls, store.attempts)
	}
}

func TestSweep_OnlyPicksDueCustomers(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	stale := now.Add(-30 * time.Hour)
	store := &fakeCustomers{customers: map[int64]*domain.Customer{
		1: {ID: 1, Platform: domain.PlatformFacebook, PlatformCustomerID: "a"},
		2: {ID: 2, Platform: domain.PlatformFacebook, PlatformCustomerID: "b", ProfileFetchAttemptedAt: &recent},
		3: {ID: 3, Platform: domain.PlatformFacebook, PlatformCustomerID: "c", ProfileFetchAttemptedAt: &stale},
		4: {ID: 4, Platform: domain.PlatformFacebook, PlatformCustomerID: "d", ProfileFetched: true},
	}}
	fetcher := &fakeFetcher{profile: &domain.CustomerProfile{FirstName: "X"}}
	e := newEnricher(store, fetcher, &now)

	fetched, err := e.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fetched != 2 || fetcher.calls != 2 {
		t.Fatalf("expected two due customers fetched, got fetched=%d calls=%d", fetched, fetcher.calls)
	}
	if store.customers[2].ProfileFetched {
		t.Fatalf("expected recently attempted customer to be left alone")
	}
}
