package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

// CustomerRepository persists platform end-users keyed by (platform, platform customer id).
type CustomerRepository struct {
	db *sqlx.DB
}

func NewCustomerRepository(db *sqlx.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `id, platform, platform_customer_id, display_name, first_name, last_name,
	profile_picture_url, phone, email, address, profile_fetched, profile_fetch_attempted_at, created_at, updated_at`

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	return r.getOne(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id)
}

func (r *CustomerRepository) GetByKey(ctx context.Context, key domain.CustomerKey) (*domain.Customer, error) {
	return r.getOne(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE platform = ? AND platform_customer_id = ?",
		key.Platform, key.PlatformCustomerID,
	)
}

func (r *CustomerRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Customer, error) {
	var customer domain.Customer
	if err := r.db.GetContext(ctx, &customer, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &customer, nil
}

// GetOrCreate resolves the customer for key, inserting it when absent. Concurrent
// callers race on the unique key; the loser re-reads the winner's row.
// created is true only for the caller whose insert succeeded.
func (r *CustomerRepository) GetOrCreate(ctx context.Context, key domain.CustomerKey, displayName, phone *string) (*domain.Customer, bool, error) {
	existing, err := r.GetByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := utcNow()
	query := `
		INSERT INTO customers (platform, platform_customer_id, display_name, phone, profile_fetched, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, key.Platform, key.PlatformCustomerID, displayName, phone, false, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := r.GetByKey(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, fmt.Errorf("customer %s %s vanished after duplicate insert", key.Platform, key.PlatformCustomerID)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create customer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.Customer{
		ID:                 id,
		Platform:           key.Platform,
		PlatformCustomerID: key.PlatformCustomerID,
		DisplayName:        displayName,
		Phone:              phone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, true, nil
}

// UpdateContact overwrites display name and phone when the platform supplies them.
func (r *CustomerRepository) UpdateContact(ctx context.Context, id int64, displayName, phone *string) error {
	query := `
		UPDATE customers
		SET display_name = COALESCE(?, display_name),
		    phone = COALESCE(?, phone),
		    updated_at = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, displayName, phone, utcNow(), id); err != nil {
		return fmt.Errorf("failed to update customer contact: %w", err)
	}

	return nil
}

// ListNeedingProfile returns never-fetched customers whose last attempt is
// absent or older than attemptedBefore.
func (r *CustomerRepository) ListNeedingProfile(ctx context.Context, attemptedBefore time.Time, limit int) ([]domain.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE profile_fetched = 0
		  AND (profile_fetch_attempted_at IS NULL OR profile_fetch_attempted_at < ?)
		ORDER BY id ASC
		LIMIT ?
	`

	var customers []domain.Customer
	if err := r.db.SelectContext(ctx, &customers, query, attemptedBefore.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list customers needing profile: %w", err)
	}

	return customers, nil
}

// MarkProfileFetched stores a directory profile and closes enrichment for the customer.
func (r *CustomerRepository) MarkProfileFetched(ctx context.Context, id int64, profile *domain.CustomerProfile, at time.Time) error {
	query := `
		UPDATE customers
		SET first_name = ?, last_name = ?, display_name = COALESCE(?, display_name), profile_picture_url = ?,
		    profile_fetched = ?, profile_fetch_attempted_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		domain.StringPtr(profile.FirstName), domain.StringPtr(profile.LastName), domain.StringPtr(profile.DisplayName),
		domain.StringPtr(profile.ProfilePictureURL), true, at.UTC(), utcNow(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store customer profile: %w", err)
	}

	return nil
}

func (r *CustomerRepository) MarkProfileAttempted(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE customers
		SET profile_fetch_attempted_at = ?, updated_at = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, at.UTC(), utcNow(), id); err != nil {
		return fmt.Errorf("failed to record profile attempt: %w", err)
	}

	return nil
}
